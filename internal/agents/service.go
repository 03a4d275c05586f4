package agents

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"aitelephony-platform/internal/runtimeprovider"
	"aitelephony-platform/pkg/sealed"

	"github.com/google/uuid"
)

var ErrInvalidArgument = errors.New("agents: invalid argument")

// PlatformSecrets are the provider-side credentials (STT/TTS/LLM, room
// provider) injected into every agent's secret set alongside its
// customer-specific config. They are loaded once at startup and are
// immutable at runtime.
type PlatformSecrets struct {
	RoomProviderAPIKey string
	STTAPIKey          string
	TTSAPIKey          string
	LLMAPIKey          string
	PortalCallbackBase string
}

// NumberUnassigner is implemented by internal/numbers so Service.Delete can
// unassign a number and tear down its dial-in config without agents
// importing numbers directly.
type NumberUnassigner interface {
	UnassignAgent(ctx context.Context, agentID string) error
}

type Service struct {
	db       *sql.DB
	runtime  *runtimeprovider.Client
	keyring  *sealed.Keyring
	secrets  PlatformSecrets
	image    string
	region   string
	clock    func() time.Time
}

func NewService(db *sql.DB, runtime *runtimeprovider.Client, keyring *sealed.Keyring, secrets PlatformSecrets, image, region string) *Service {
	return &Service{db: db, runtime: runtime, keyring: keyring, secrets: secrets, image: image, region: region, clock: time.Now}
}

type UpsertRequest struct {
	ID                     string // empty for create
	UserID                 string
	DisplayName            string
	Greeting               string
	Prompt                 string
	VoiceID                string
	BackgroundAudioHTTPSURL string
	BackgroundAudioGain     float64
	TransferToNumber        string
	InboundTransferEnabled  bool
	InboundTransferNumber   string
	DefaultDocTemplateID    string
	// UserDefaultTransfer is the per-user fallback transfer destination,
	// used when TransferToNumber is not set on the agent itself.
	UserDefaultTransfer string
}

// Upsert materializes an agent's local row and its projection into the
// external agent-runtime provider: secret set then service, in that order,
// so the service never references a secret set that doesn't exist yet.
func (s *Service) Upsert(ctx context.Context, req UpsertRequest) (Agent, error) {
	if req.UserID == "" || req.DisplayName == "" || req.VoiceID == "" {
		return Agent{}, ErrInvalidArgument
	}
	if req.BackgroundAudioHTTPSURL != "" {
		if !strings.HasPrefix(req.BackgroundAudioHTTPSURL, "https://") || len(req.BackgroundAudioHTTPSURL) > 512 {
			return Agent{}, ErrInvalidArgument
		}
	}

	var a Agent
	var err error
	creating := req.ID == ""
	if creating {
		now := s.clock().UTC()
		id := uuid.NewString()
		a = Agent{
			ID:                     id,
			UserID:                 req.UserID,
			RuntimeServiceName:     fmt.Sprintf("agent-%s", id),
			RuntimeSecretSetName:   fmt.Sprintf("agent-secrets-%s", id),
			RuntimeRegion:          s.region,
			CreatedAt:              now,
		}
	} else {
		a, err = getByID(ctx, s.db, req.ID)
		if err != nil {
			return Agent{}, err
		}
	}

	a.DisplayName = req.DisplayName
	a.Greeting = req.Greeting
	a.Prompt = req.Prompt
	a.VoiceID = req.VoiceID
	a.BackgroundAudioGain = req.BackgroundAudioGain
	a.TransferToNumber = req.TransferToNumber
	a.InboundTransferEnabled = req.InboundTransferEnabled
	a.InboundTransferNumber = req.InboundTransferNumber
	a.DefaultDocTemplateID = req.DefaultDocTemplateID

	// Step 3: resolve the background audio URL — uploaded WAV wins over a
	// user-specified https URL.
	if bg, err := getBackgroundAudio(ctx, s.db, a.ID); err == nil {
		a.BackgroundAudioURL = fmt.Sprintf("/public/agents/%s/background-audio.wav?token=%s", a.ID, bg.AccessToken)
	} else if errors.Is(err, ErrNotFound) {
		a.BackgroundAudioURL = req.BackgroundAudioHTTPSURL
	} else {
		return Agent{}, err
	}

	if creating {
		if err := insert(ctx, s.db, a); err != nil {
			return Agent{}, err
		}
	} else {
		if err := updateConfig(ctx, s.db, a); err != nil {
			return Agent{}, err
		}
	}

	// Step 1: ensure an action token exists.
	var plainToken string
	if !a.hasActionToken() {
		plainToken, err = s.generateActionToken(ctx, a.ID)
		if err != nil {
			return Agent{}, err
		}
		a, err = getByID(ctx, s.db, a.ID)
		if err != nil {
			return Agent{}, err
		}
	}
	_ = plainToken // the plaintext token is only ever handed back to the caller at creation time by the HTTP layer, never persisted in memory longer than needed

	if err := s.project(ctx, a, req.UserDefaultTransfer, plainToken); err != nil {
		return Agent{}, err
	}

	return a, nil
}

// generateActionToken creates a fresh 32-byte bearer token, storing its
// SHA-256 hash (for constant-time lookup at call time) and its AES-GCM
// sealed ciphertext (so it can be redisplayed once, to the owner, for
// copy-paste into external tooling).
func (s *Service) generateActionToken(ctx context.Context, agentID string) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	token := hex.EncodeToString(raw)
	sum := sha256.Sum256([]byte(token))
	hash := hex.EncodeToString(sum[:])

	sealedToken, err := s.keyring.SealString(token)
	if err != nil {
		return "", err
	}
	if err := saveActionToken(ctx, s.db, agentID, hash, sealedToken.Ciphertext, sealedToken.IV, sealedToken.Tag); err != nil {
		return "", err
	}
	return token, nil
}

// VerifyActionToken hashes a bearer token presented by the agent runtime
// and compares it to the stored hash for agentID.
func (s *Service) VerifyActionToken(a Agent, token string) bool {
	sum := sha256.Sum256([]byte(token))
	hash := hex.EncodeToString(sum[:])
	return hash == a.ActionTokenHash
}

// project pushes the computed secret map and service definition to the
// agent-runtime provider. transferDestination falls back to the user's
// default when the agent has no per-agent override.
func (s *Service) project(ctx context.Context, a Agent, userDefaultTransfer, plainActionToken string) error {
	transfer := a.TransferToNumber
	if transfer == "" {
		transfer = userDefaultTransfer
	}

	actionToken := plainActionToken
	if actionToken == "" {
		opened, err := s.keyring.OpenString(a.sealedActionToken())
		if err != nil {
			return err
		}
		actionToken = opened
	}

	secretMap := map[string]string{
		"room_provider_api_key": s.secrets.RoomProviderAPIKey,
		"stt_api_key":           s.secrets.STTAPIKey,
		"tts_api_key":           s.secrets.TTSAPIKey,
		"llm_api_key":           s.secrets.LLMAPIKey,
		"agent_prompt":          a.Prompt,
		"agent_greeting":        a.Greeting,
		"voice_id":              a.VoiceID,
		"transfer_to_number":    transfer,
		"background_audio_url":  a.BackgroundAudioURL,
		"background_audio_gain": fmt.Sprintf("%f", a.BackgroundAudioGain),
		"portal_callback_base":  s.secrets.PortalCallbackBase,
		"action_token":          actionToken,
	}

	if err := s.runtime.PutSecretSet(ctx, a.RuntimeSecretSetName, secretMap); err != nil {
		return err
	}
	return s.runtime.UpsertAgentService(ctx, a.RuntimeServiceName, s.image, a.RuntimeSecretSetName)
}

// Delete unassigns any number (tearing down its dial-in config via
// unassigner), deletes the runtime service and secret set, then deletes the
// local row.
func (s *Service) Delete(ctx context.Context, agentID string, unassigner NumberUnassigner) error {
	a, err := getByID(ctx, s.db, agentID)
	if err != nil {
		return err
	}
	if unassigner != nil {
		if err := unassigner.UnassignAgent(ctx, agentID); err != nil {
			return err
		}
	}
	if err := s.runtime.DeleteAgentService(ctx, a.RuntimeServiceName); err != nil {
		return err
	}
	// An empty secret map deletion is represented as a PUT of an empty set
	// to mirror the teacher's idempotent-convergence approach; providers
	// without a dedicated delete-secret-set endpoint accept this as a wipe.
	if err := s.runtime.PutSecretSet(ctx, a.RuntimeSecretSetName, map[string]string{}); err != nil {
		return err
	}
	return deleteAgent(ctx, s.db, agentID)
}

func (s *Service) Get(ctx context.Context, id string) (Agent, error) {
	return getByID(ctx, s.db, id)
}

func (s *Service) GetByNumber(ctx context.Context, phoneNumber string) (Agent, error) {
	return getByNumber(ctx, s.db, phoneNumber)
}

// OwnsAgent satisfies internal/dialer.AgentOwnershipCheck.
func (s *Service) OwnsAgent(ctx context.Context, userID, agentID string) (bool, error) {
	a, err := getByID(ctx, s.db, agentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return a.UserID == userID, nil
}

type UploadBackgroundAudioRequest struct {
	AgentID string
	UserID  string
	WAV     []byte
	MIME    string
}

func (s *Service) UploadBackgroundAudio(ctx context.Context, req UploadBackgroundAudioRequest) (AgentBackgroundAudio, error) {
	if len(req.WAV) == 0 {
		return AgentBackgroundAudio{}, ErrInvalidArgument
	}
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return AgentBackgroundAudio{}, err
	}
	b := AgentBackgroundAudio{
		AgentID:     req.AgentID,
		UserID:      req.UserID,
		WAVBlob:     req.WAV,
		AccessToken: hex.EncodeToString(raw),
		MIME:        req.MIME,
		Size:        len(req.WAV),
		CreatedAt:   s.clock().UTC(),
	}
	if err := upsertBackgroundAudio(ctx, s.db, b); err != nil {
		return AgentBackgroundAudio{}, err
	}
	return b, nil
}
