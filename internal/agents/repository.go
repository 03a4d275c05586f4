package agents

import (
	"context"
	"database/sql"
	"errors"
)

var ErrNotFound = errors.New("agents: not found")

const selectColumns = `
id, user_id, display_name, greeting, prompt, voice_id,
background_audio_url, background_audio_gain,
transfer_to_number, inbound_transfer_enabled, inbound_transfer_number,
runtime_service_name, runtime_secret_set_name, runtime_region,
action_token_hash, action_token_ciphertext, action_token_iv, action_token_tag,
default_doc_template_id, created_at
`

func scanAgent(row interface{ Scan(dest ...any) error }) (Agent, error) {
	var a Agent
	err := row.Scan(
		&a.ID, &a.UserID, &a.DisplayName, &a.Greeting, &a.Prompt, &a.VoiceID,
		&a.BackgroundAudioURL, &a.BackgroundAudioGain,
		&a.TransferToNumber, &a.InboundTransferEnabled, &a.InboundTransferNumber,
		&a.RuntimeServiceName, &a.RuntimeSecretSetName, &a.RuntimeRegion,
		&a.ActionTokenHash, &a.ActionTokenCiphertext, &a.ActionTokenIV, &a.ActionTokenTag,
		&a.DefaultDocTemplateID, &a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Agent{}, ErrNotFound
		}
		return Agent{}, err
	}
	return a, nil
}

func getByID(ctx context.Context, db *sql.DB, id string) (Agent, error) {
	return scanAgent(db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM agents WHERE id = $1`, id))
}

func getByIDForUpdate(ctx context.Context, tx *sql.Tx, id string) (Agent, error) {
	return scanAgent(tx.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM agents WHERE id = $1 FOR UPDATE`, id))
}

func getByNumber(ctx context.Context, db *sql.DB, phoneNumber string) (Agent, error) {
	const q = `
SELECT a.` + `id, a.user_id, a.display_name, a.greeting, a.prompt, a.voice_id,
       a.background_audio_url, a.background_audio_gain,
       a.transfer_to_number, a.inbound_transfer_enabled, a.inbound_transfer_number,
       a.runtime_service_name, a.runtime_secret_set_name, a.runtime_region,
       a.action_token_hash, a.action_token_ciphertext, a.action_token_iv, a.action_token_tag,
       a.default_doc_template_id, a.created_at
FROM agents a
JOIN external_numbers n ON n.assigned_agent_id = a.id
WHERE n.phone_number = $1
`
	return scanAgent(db.QueryRowContext(ctx, q, phoneNumber))
}

func insert(ctx context.Context, db *sql.DB, a Agent) error {
	const q = `
INSERT INTO agents (
  id, user_id, display_name, greeting, prompt, voice_id,
  background_audio_url, background_audio_gain,
  transfer_to_number, inbound_transfer_enabled, inbound_transfer_number,
  runtime_service_name, runtime_secret_set_name, runtime_region,
  action_token_hash, action_token_ciphertext, action_token_iv, action_token_tag,
  default_doc_template_id, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
`
	_, err := db.ExecContext(ctx, q,
		a.ID, a.UserID, a.DisplayName, a.Greeting, a.Prompt, a.VoiceID,
		a.BackgroundAudioURL, a.BackgroundAudioGain,
		a.TransferToNumber, a.InboundTransferEnabled, a.InboundTransferNumber,
		a.RuntimeServiceName, a.RuntimeSecretSetName, a.RuntimeRegion,
		a.ActionTokenHash, a.ActionTokenCiphertext, a.ActionTokenIV, a.ActionTokenTag,
		a.DefaultDocTemplateID, a.CreatedAt,
	)
	return err
}

func updateConfig(ctx context.Context, db *sql.DB, a Agent) error {
	const q = `
UPDATE agents SET
  display_name=$2, greeting=$3, prompt=$4, voice_id=$5,
  background_audio_url=$6, background_audio_gain=$7,
  transfer_to_number=$8, inbound_transfer_enabled=$9, inbound_transfer_number=$10,
  default_doc_template_id=$11
WHERE id=$1
`
	_, err := db.ExecContext(ctx, q,
		a.ID, a.DisplayName, a.Greeting, a.Prompt, a.VoiceID,
		a.BackgroundAudioURL, a.BackgroundAudioGain,
		a.TransferToNumber, a.InboundTransferEnabled, a.InboundTransferNumber,
		a.DefaultDocTemplateID,
	)
	return err
}

func saveActionToken(ctx context.Context, db *sql.DB, id, hash string, ciphertext, iv, tag []byte) error {
	const q = `
UPDATE agents SET action_token_hash=$2, action_token_ciphertext=$3, action_token_iv=$4, action_token_tag=$5
WHERE id=$1
`
	_, err := db.ExecContext(ctx, q, id, hash, ciphertext, iv, tag)
	return err
}

func deleteAgent(ctx context.Context, db *sql.DB, id string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM agents WHERE id = $1`, id)
	return err
}

func getBackgroundAudio(ctx context.Context, db *sql.DB, agentID string) (AgentBackgroundAudio, error) {
	const q = `SELECT agent_id, user_id, wav_blob, access_token, mime, size, created_at FROM agent_background_audio WHERE agent_id = $1`
	var b AgentBackgroundAudio
	err := db.QueryRowContext(ctx, q, agentID).Scan(&b.AgentID, &b.UserID, &b.WAVBlob, &b.AccessToken, &b.MIME, &b.Size, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AgentBackgroundAudio{}, ErrNotFound
		}
		return AgentBackgroundAudio{}, err
	}
	return b, nil
}

func upsertBackgroundAudio(ctx context.Context, db *sql.DB, b AgentBackgroundAudio) error {
	const q = `
INSERT INTO agent_background_audio (agent_id, user_id, wav_blob, access_token, mime, size, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (agent_id) DO UPDATE SET
  wav_blob=EXCLUDED.wav_blob, access_token=EXCLUDED.access_token, mime=EXCLUDED.mime, size=EXCLUDED.size
`
	_, err := db.ExecContext(ctx, q, b.AgentID, b.UserID, b.WAVBlob, b.AccessToken, b.MIME, b.Size, b.CreatedAt)
	return err
}
