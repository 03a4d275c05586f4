// Package agents owns the Agent entity and its projection into the
// external agent-runtime provider's secret-set + service resources.
package agents

import (
	"time"

	"aitelephony-platform/pkg/sealed"
)

type Agent struct {
	ID      string `json:"id" db:"id"`
	UserID  string `json:"user_id" db:"user_id"`

	DisplayName string `json:"display_name" db:"display_name"`
	Greeting    string `json:"greeting" db:"greeting"`
	Prompt      string `json:"prompt" db:"prompt"`
	VoiceID     string `json:"voice_id" db:"voice_id"`

	BackgroundAudioURL  string `json:"background_audio_url,omitempty" db:"background_audio_url"`
	BackgroundAudioGain float64 `json:"background_audio_gain,omitempty" db:"background_audio_gain"`

	TransferToNumber       string `json:"transfer_to_number,omitempty" db:"transfer_to_number"`
	InboundTransferEnabled bool   `json:"inbound_transfer_enabled" db:"inbound_transfer_enabled"`
	InboundTransferNumber  string `json:"inbound_transfer_number,omitempty" db:"inbound_transfer_number"`

	RuntimeServiceName   string `json:"runtime_service_name" db:"runtime_service_name"`
	RuntimeSecretSetName string `json:"runtime_secret_set_name" db:"runtime_secret_set_name"`
	RuntimeRegion        string `json:"runtime_region" db:"runtime_region"`

	ActionTokenHash       string `json:"-" db:"action_token_hash"`
	ActionTokenCiphertext []byte `json:"-" db:"action_token_ciphertext"`
	ActionTokenIV         []byte `json:"-" db:"action_token_iv"`
	ActionTokenTag        []byte `json:"-" db:"action_token_tag"`

	DefaultDocTemplateID string `json:"default_doc_template_id,omitempty" db:"default_doc_template_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

func (a Agent) hasActionToken() bool {
	return a.ActionTokenHash != "" && len(a.ActionTokenCiphertext) > 0
}

func (a Agent) sealedActionToken() sealed.Sealed {
	return sealed.Sealed{Ciphertext: a.ActionTokenCiphertext, IV: a.ActionTokenIV, Tag: a.ActionTokenTag}
}

// AgentBackgroundAudio is the optional uploaded WAV played under a call.
type AgentBackgroundAudio struct {
	AgentID     string    `json:"agent_id" db:"agent_id"`
	UserID      string    `json:"user_id" db:"user_id"`
	WAVBlob     []byte    `json:"-" db:"wav_blob"`
	AccessToken string    `json:"-" db:"access_token"`
	MIME        string    `json:"mime" db:"mime"`
	Size        int       `json:"size" db:"size"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// DocTemplate is a reusable physical-mail document template.
type DocTemplate struct {
	ID               string    `json:"id" db:"id"`
	UserID           string    `json:"user_id" db:"user_id"`
	Name             string    `json:"name" db:"name"`
	OriginalFilename string    `json:"original_filename" db:"original_filename"`
	DocBlob          []byte    `json:"-" db:"doc_blob"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}
