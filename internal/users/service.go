package users

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"aitelephony-platform/pkg/sealed"

	"github.com/google/uuid"
)

var ErrInvalidArgument = errors.New("users: invalid argument")

// Service is the only entry point other packages use to read/create users.
// Balance mutation lives entirely in internal/ledger; Service never writes
// the balance column directly.
type Service struct {
	db      *sql.DB
	keyring *sealed.Keyring
	clock   func() time.Time
}

func NewService(db *sql.DB, keyring *sealed.Keyring) *Service {
	return &Service{db: db, keyring: keyring, clock: time.Now}
}

func (s *Service) Get(ctx context.Context, id string) (User, error) {
	if id == "" {
		return User{}, ErrInvalidArgument
	}
	return getByID(ctx, s.db, id)
}

func (s *Service) GetByEmail(ctx context.Context, email string) (User, error) {
	if email == "" {
		return User{}, ErrInvalidArgument
	}
	return getByEmail(ctx, s.db, email)
}

type CreateRequest struct {
	Username     string
	Email        string
	PasswordHash string
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (User, error) {
	if req.Username == "" || req.Email == "" || req.PasswordHash == "" {
		return User{}, ErrInvalidArgument
	}
	u := User{
		ID:           uuid.NewString(),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: req.PasswordHash,
		IsActive:     true,
		CreatedAt:    s.clock().UTC(),
	}
	if err := insert(ctx, s.db, u); err != nil {
		return User{}, err
	}
	return u, nil
}

type ProfileUpdate struct {
	ContactName  string
	ContactPhone string
	AddressLine1 string
	AddressLine2 string
	City         string
	State        string
	PostalCode   string
	Country      string
}

func (s *Service) UpdateProfile(ctx context.Context, id string, p ProfileUpdate) error {
	if id == "" {
		return ErrInvalidArgument
	}
	u, err := getByID(ctx, s.db, id)
	if err != nil {
		return err
	}
	u.ContactName = p.ContactName
	u.ContactPhone = p.ContactPhone
	u.AddressLine1 = p.AddressLine1
	u.AddressLine2 = p.AddressLine2
	u.City = p.City
	u.State = p.State
	u.PostalCode = p.PostalCode
	u.Country = p.Country
	return updateProfile(ctx, s.db, u)
}

// Suspend/Unsuspend are admin-only operations gated by internal/rbac at the
// HTTP layer; Service itself does not check the caller's role.
func (s *Service) Suspend(ctx context.Context, id string) error {
	return setSuspended(ctx, s.db, id, true)
}

func (s *Service) Unsuspend(ctx context.Context, id string) error {
	return setSuspended(ctx, s.db, id, false)
}

// SMTPSettingsInput is the plaintext form a user submits from the dashboard;
// Password is empty when the caller wants to keep whatever is already sealed.
type SMTPSettingsInput struct {
	Host        string
	Port        int
	Secure      bool
	Username    string
	FromAddress string
	Password    string
}

// SetSMTPSettings seals Password at rest with the platform keyring, mirroring
// how internal/agents seals its action tokens.
func (s *Service) SetSMTPSettings(ctx context.Context, userID string, in SMTPSettingsInput) error {
	if userID == "" || in.Host == "" || in.Username == "" {
		return ErrInvalidArgument
	}
	settings := SMTPSettings{Host: in.Host, Port: in.Port, Secure: in.Secure, Username: in.Username, FromAddress: in.FromAddress}
	if in.Password != "" {
		sealedPW, err := s.keyring.SealString(in.Password)
		if err != nil {
			return err
		}
		settings.PasswordCiphertext = sealedPW.Ciphertext
		settings.PasswordIV = sealedPW.IV
		settings.PasswordTag = sealedPW.Tag
	} else {
		existing, err := getSMTPSettings(ctx, s.db, userID)
		if err != nil {
			return err
		}
		settings.PasswordCiphertext = existing.PasswordCiphertext
		settings.PasswordIV = existing.PasswordIV
		settings.PasswordTag = existing.PasswordTag
	}
	return setSMTPSettings(ctx, s.db, userID, settings)
}

// OpenSMTPSettings returns a user's SMTP settings with the password
// decrypted, for handing to an SMTP client at send time. Configured()
// reports false (with a zero-value Password) if the user has none set.
func (s *Service) OpenSMTPSettings(ctx context.Context, userID string) (SMTPSettings, string, error) {
	settings, err := getSMTPSettings(ctx, s.db, userID)
	if err != nil {
		return SMTPSettings{}, "", err
	}
	if !settings.Configured() {
		return settings, "", nil
	}
	password, err := s.keyring.OpenString(sealed.Sealed{Ciphertext: settings.PasswordCiphertext, IV: settings.PasswordIV, Tag: settings.PasswordTag})
	if err != nil {
		return SMTPSettings{}, "", err
	}
	return settings, password, nil
}
