package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"aitelephony-platform/pkg/money"
)

/*
Config holds all configuration required by the API process.
All values MUST come from environment variables.
No business logic should depend on raw env vars.
*/
type Config struct {
	App     AppConfig
	DB      DBConfig
	Redis   RedisConfig
	Auth    AuthConfig
	Secrets SecretsConfig
	Runtime RuntimeProviderConfig
	Numbers NumbersConfig
	Dialer  DialerConfig
	Tools   ToolsConfig
	Memory  CallerMemoryConfig
	Mail    PhysicalMailConfig
	Card      CardProcessorConfig
	Stripe    StripeProcessorConfig
	Crypto    CryptoProcessorConfig
	ACH       ACHProcessorConfig
	Scheduler SchedulerConfig
}

/* ===================== APP ===================== */

type AppConfig struct {
	Env           string
	Port          int
	PublicBaseURL string
	Maintenance   bool // UI read-only / banner
	EmergencyStop bool // HARD STOP all calls
}

/* ===================== DATABASE ===================== */

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string // disable, require, verify-ca, verify-full
}

/* ===================== REDIS ===================== */

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	UseTLS   bool
}

/* ===================== AUTH ===================== */

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

/* ===================== SECRETS ===================== */

// SecretsConfig holds the process-wide AES-256-GCM key used by pkg/sealed to
// encrypt every secret-at-rest column (SMTP passwords, agent action tokens,
// per-user processor credentials).
type SecretsConfig struct {
	EncryptionKey []byte // SECRET_ENCRYPTION_KEY, base64, decodes to 32 bytes
}

/* ===================== AGENT-RUNTIME PROVIDER ===================== */

type RuntimeProviderConfig struct {
	PrivateAPIKey string // AGENT_RUNTIME_PRIVATE_API_KEY
	PublicAPIKey  string // AGENT_RUNTIME_PUBLIC_API_KEY
	AgentImage    string // AGENT_RUNTIME_IMAGE
	Region        string // AGENT_RUNTIME_REGION
	BaseURL       string // AGENT_RUNTIME_BASE_URL

	RoomProviderAPIKey    string // ROOM_PROVIDER_API_KEY
	RoomProviderBaseURL   string // ROOM_PROVIDER_BASE_URL
	DialinWebhookSecret   string // ROOM_PROVIDER_DIALIN_WEBHOOK_SECRET

	// Projected into every agent's runtime secret set alongside the room
	// provider key; see internal/agents.PlatformSecrets.
	STTAPIKey          string // AGENT_RUNTIME_STT_API_KEY
	TTSAPIKey          string // AGENT_RUNTIME_TTS_API_KEY
	LLMAPIKey          string // AGENT_RUNTIME_LLM_API_KEY
	PortalCallbackBase string // AGENT_RUNTIME_PORTAL_CALLBACK_BASE

	// RoomCreationAPI and NamePrefix are deployment-wide dial-in config
	// constants, stable across every number, shared by the
	// assign-agent handler and the routing-sweep scheduler step.
	RoomCreationAPI string // ROOM_PROVIDER_ROOM_CREATION_API
	NamePrefix      string // ROOM_PROVIDER_NAME_PREFIX
}

/* ===================== NUMBERS / INBOUND BILLING ===================== */

type NumbersConfig struct {
	MonthlyFeeLocal    money.Amount
	MonthlyFeeTollfree money.Amount

	InboundRatePerMinLocal    money.Amount
	InboundRatePerMinTollfree money.Amount
	InboundRoundUpToMinute    bool

	InboundMinCredit               money.Amount
	InboundDisableNumbersOnLowBal  bool
	InboundBalanceFailClosed       bool
	MonthlyCancelOnInsufficientBal bool
	MonthlyGraceDays               int
}

/* ===================== OUTBOUND DIALER ===================== */

type DialerConfig struct {
	MinConcurrency       int
	MaxConcurrency       int
	WorkerIntervalSec    int
	OutboundRatePerMin   money.Amount
	OutboundRoundUpToMin bool
}

/* ===================== TOOL ACTIONS ===================== */

type ToolsConfig struct {
	EmailCost           money.Amount
	SMSCost             money.Amount
	VideoMeetingCost    money.Amount
	PhysicalMailEnabled bool
	MailMarkupFlat      money.Amount
	MailMarkupPercent   float64

	SendGridAPIKey   string
	SendGridFromAddr string

	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioFromNumber  string
}

type CallerMemoryConfig struct {
	Enable         bool
	MaxCalls       int
	MaxMessages    int
	MaxCharsPerMsg int
	MaxDays        int
}

/* ===================== PHYSICAL MAIL ===================== */

type PhysicalMailConfig struct {
	ProviderUsername string
	ProviderPassword string
	ProviderBaseURL  string
}

/* ===================== PAYMENT PROCESSORS ===================== */

type CardProcessorConfig struct {
	Provider          string // CARD_PAYMENT_PROVIDER: "square" | "stripe"
	SquareAccessToken string
	SquareLocationID  string
	SquareWebhookKey  string
	SquareBaseURL     string
}

type StripeProcessorConfig struct {
	SecretKey     string
	WebhookSecret string
}

type CryptoProcessorConfig struct {
	APIKey    string
	IPNSecret string
	BaseURL   string
}

type ACHProcessorConfig struct {
	APIKey        string
	WebhookSecret string
	BaseURL       string
}

/* ===================== SCHEDULER ===================== */

type SchedulerConfig struct {
	TickInterval time.Duration
	BatchLimit   int
}

/* ===================== LOAD ===================== */

func Load() (Config, error) {
	var parseErrs []error
	var err error

	c := Config{}

	/* ---- APP ---- */
	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	c.App.Port, err = mustInt("APP_PORT")
	parseErrs = append(parseErrs, err)
	c.App.PublicBaseURL = strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL"))
	c.App.Maintenance = strings.ToLower(os.Getenv("APP_MAINTENANCE")) == "true"
	c.App.EmergencyStop = strings.ToLower(os.Getenv("APP_EMERGENCY_STOP")) == "true"

	/* ---- DB ---- */
	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.DB.Port, err = mustInt("DB_PORT")
	parseErrs = append(parseErrs, err)
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	/* ---- REDIS ---- */
	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port, err = mustInt("REDIS_PORT")
	parseErrs = append(parseErrs, err)
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	c.Redis.UseTLS = strings.ToLower(os.Getenv("REDIS_TLS")) == "true"

	/* ---- AUTH ---- */
	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.AccessTokenTTL, err = mustDuration("JWT_ACCESS_TTL")
	parseErrs = append(parseErrs, err)
	c.Auth.RefreshTokenTTL, err = mustDuration("JWT_REFRESH_TTL")
	parseErrs = append(parseErrs, err)

	/* ---- SECRETS ---- */
	if raw := strings.TrimSpace(os.Getenv("SECRET_ENCRYPTION_KEY")); raw != "" {
		key, derr := base64.StdEncoding.DecodeString(raw)
		if derr != nil {
			parseErrs = append(parseErrs, fmt.Errorf("SECRET_ENCRYPTION_KEY must be base64: %w", derr))
		} else {
			c.Secrets.EncryptionKey = key
		}
	}

	/* ---- AGENT RUNTIME / ROOM PROVIDER ---- */
	c.Runtime.PrivateAPIKey = os.Getenv("AGENT_RUNTIME_PRIVATE_API_KEY")
	c.Runtime.PublicAPIKey = os.Getenv("AGENT_RUNTIME_PUBLIC_API_KEY")
	c.Runtime.AgentImage = strings.TrimSpace(os.Getenv("AGENT_RUNTIME_IMAGE"))
	c.Runtime.Region = strings.TrimSpace(os.Getenv("AGENT_RUNTIME_REGION"))
	c.Runtime.BaseURL = strings.TrimSpace(os.Getenv("AGENT_RUNTIME_BASE_URL"))
	c.Runtime.RoomProviderAPIKey = os.Getenv("ROOM_PROVIDER_API_KEY")
	c.Runtime.RoomProviderBaseURL = strings.TrimSpace(os.Getenv("ROOM_PROVIDER_BASE_URL"))
	c.Runtime.DialinWebhookSecret = os.Getenv("ROOM_PROVIDER_DIALIN_WEBHOOK_SECRET")
	c.Runtime.RoomCreationAPI = strings.TrimSpace(os.Getenv("ROOM_PROVIDER_ROOM_CREATION_API"))
	c.Runtime.NamePrefix = strings.TrimSpace(os.Getenv("ROOM_PROVIDER_NAME_PREFIX"))
	c.Runtime.STTAPIKey = os.Getenv("AGENT_RUNTIME_STT_API_KEY")
	c.Runtime.TTSAPIKey = os.Getenv("AGENT_RUNTIME_TTS_API_KEY")
	c.Runtime.LLMAPIKey = os.Getenv("AGENT_RUNTIME_LLM_API_KEY")
	c.Runtime.PortalCallbackBase = strings.TrimSpace(os.Getenv("AGENT_RUNTIME_PORTAL_CALLBACK_BASE"))

	/* ---- NUMBERS / INBOUND ---- */
	c.Numbers.MonthlyFeeLocal = envAmount("NUMBER_LOCAL_MONTHLY_FEE", &parseErrs)
	c.Numbers.MonthlyFeeTollfree = envAmount("NUMBER_TOLLFREE_MONTHLY_FEE", &parseErrs)
	c.Numbers.InboundRatePerMinLocal = envAmount("INBOUND_LOCAL_RATE_PER_MIN", &parseErrs)
	c.Numbers.InboundRatePerMinTollfree = envAmount("INBOUND_TOLLFREE_RATE_PER_MIN", &parseErrs)
	c.Numbers.InboundRoundUpToMinute = strings.ToLower(os.Getenv("INBOUND_BILLING_ROUND_UP_TO_MINUTE")) == "true"
	c.Numbers.InboundMinCredit = envAmount("INBOUND_MIN_CREDIT", &parseErrs)
	c.Numbers.InboundDisableNumbersOnLowBal = strings.ToLower(os.Getenv("INBOUND_DISABLE_NUMBERS_WHEN_BALANCE_LOW")) == "true"
	c.Numbers.InboundBalanceFailClosed = strings.ToLower(os.Getenv("INBOUND_BALANCE_FAIL_CLOSED")) == "true"
	c.Numbers.MonthlyCancelOnInsufficientBal = strings.ToLower(os.Getenv("MONTHLY_CANCEL_ON_INSUFFICIENT_BALANCE")) == "true"
	c.Numbers.MonthlyGraceDays, _ = mustIntDefault("MONTHLY_GRACE_DAYS", 3)

	/* ---- DIALER ---- */
	c.Dialer.MinConcurrency, _ = mustIntDefault("DIALER_MIN_CONCURRENCY", 1)
	c.Dialer.MaxConcurrency, _ = mustIntDefault("DIALER_MAX_CONCURRENCY", 20)
	c.Dialer.WorkerIntervalSec, _ = mustIntDefault("DIALER_WORKER_INTERVAL_SECONDS", 10)
	c.Dialer.OutboundRatePerMin = envAmount("DIALER_OUTBOUND_RATE_PER_MIN", &parseErrs)
	c.Dialer.OutboundRoundUpToMin = strings.ToLower(os.Getenv("DIALER_OUTBOUND_BILLING_ROUND_UP_TO_MINUTE")) == "true"

	/* ---- TOOL ACTIONS ---- */
	c.Tools.EmailCost = envAmount("TOOL_EMAIL_COST", &parseErrs)
	c.Tools.SMSCost = envAmount("TOOL_SMS_COST", &parseErrs)
	c.Tools.VideoMeetingCost = envAmount("TOOL_VIDEO_MEETING_LINK_COST", &parseErrs)
	c.Tools.PhysicalMailEnabled = strings.ToLower(os.Getenv("TOOL_PHYSICAL_MAIL_ENABLED")) == "true"
	c.Tools.MailMarkupFlat = envAmount("TOOL_MAIL_MARKUP_FLAT", &parseErrs)
	c.Tools.MailMarkupPercent = envFloatDefault("TOOL_MAIL_MARKUP_PERCENT", 0)
	c.Tools.SendGridAPIKey = os.Getenv("SENDGRID_API_KEY")
	c.Tools.SendGridFromAddr = strings.TrimSpace(os.Getenv("SENDGRID_FROM_ADDRESS"))
	c.Tools.TwilioAccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	c.Tools.TwilioAuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Tools.TwilioFromNumber = strings.TrimSpace(os.Getenv("TWILIO_FROM_NUMBER"))

	/* ---- CALLER MEMORY ---- */
	c.Memory.Enable = strings.ToLower(os.Getenv("CALLER_MEMORY_ENABLE")) == "true"
	c.Memory.MaxCalls, _ = mustIntDefault("CALLER_MEMORY_MAX_CALLS", 3)
	c.Memory.MaxMessages, _ = mustIntDefault("CALLER_MEMORY_MAX_MESSAGES", 20)
	c.Memory.MaxCharsPerMsg, _ = mustIntDefault("CALLER_MEMORY_MAX_CHARS_PER_MESSAGE", 500)
	c.Memory.MaxDays, _ = mustIntDefault("CALLER_MEMORY_MAX_DAYS", 30)

	/* ---- PHYSICAL MAIL PROVIDER ---- */
	c.Mail.ProviderUsername = os.Getenv("MAIL_PROVIDER_USERNAME")
	c.Mail.ProviderPassword = os.Getenv("MAIL_PROVIDER_PASSWORD")
	c.Mail.ProviderBaseURL = strings.TrimSpace(os.Getenv("MAIL_PROVIDER_BASE_URL"))

	/* ---- PAYMENT PROCESSORS ---- */
	c.Card.Provider = strings.ToLower(strings.TrimSpace(os.Getenv("CARD_PAYMENT_PROVIDER")))
	c.Card.SquareAccessToken = os.Getenv("SQUARE_ACCESS_TOKEN")
	c.Card.SquareLocationID = os.Getenv("SQUARE_LOCATION_ID")
	c.Card.SquareWebhookKey = os.Getenv("SQUARE_WEBHOOK_SIGNATURE_KEY")
	c.Card.SquareBaseURL = strings.TrimSpace(os.Getenv("SQUARE_BASE_URL"))

	c.Stripe.SecretKey = os.Getenv("STRIPE_SECRET_KEY")
	c.Stripe.WebhookSecret = os.Getenv("STRIPE_WEBHOOK_SECRET")

	c.Crypto.APIKey = os.Getenv("CRYPTO_PROCESSOR_API_KEY")
	c.Crypto.IPNSecret = os.Getenv("CRYPTO_PROCESSOR_IPN_SECRET")
	c.Crypto.BaseURL = strings.TrimSpace(os.Getenv("CRYPTO_PROCESSOR_BASE_URL"))

	c.ACH.APIKey = os.Getenv("ACH_PROCESSOR_API_KEY")
	c.ACH.WebhookSecret = os.Getenv("ACH_PROCESSOR_WEBHOOK_SECRET")
	c.ACH.BaseURL = strings.TrimSpace(os.Getenv("ACH_PROCESSOR_BASE_URL"))

	/* ---- SCHEDULER ---- */
	schedulerIntervalSec, _ := mustIntDefault("SCHEDULER_TICK_INTERVAL_SECONDS", 60)
	c.Scheduler.TickInterval = time.Duration(schedulerIntervalSec) * time.Second
	c.Scheduler.BatchLimit, _ = mustIntDefault("SCHEDULER_BATCH_LIMIT", 200)

	/* ---- APPLY DEFAULTS (NO SIDE EFFECTS IN VALIDATE) ---- */
	if c.Auth.AccessTokenTTL == 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL == 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.DB.SSLMode == "" && !c.IsProduction() {
		c.DB.SSLMode = "disable"
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}

	return c, nil
}

/* ===================== VALIDATION ===================== */

func (c Config) Validate() error {
	var errs []error

	/* ---- APP ---- */
	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	}
	if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be local, dev, staging, or production"))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be valid"))
	}

	/* ---- DB ---- */
	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 {
		errs = append(errs, errors.New("DB_PORT is required"))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.IsProduction() && c.DB.SSLMode == "" {
		errs = append(errs, errors.New("DB_SSLMODE required in production"))
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("invalid DB_SSLMODE"))
	}

	/* ---- REDIS ---- */
	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 {
		errs = append(errs, errors.New("REDIS_PORT is required"))
	}

	/* ---- AUTH ---- */
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE required in production"))
		}
		if len(c.Secrets.EncryptionKey) != 32 {
			errs = append(errs, errors.New("SECRET_ENCRYPTION_KEY must be 32 raw bytes (base64) in production"))
		}
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}
	if len(c.Secrets.EncryptionKey) != 0 && len(c.Secrets.EncryptionKey) != 32 {
		errs = append(errs, errors.New("SECRET_ENCRYPTION_KEY must decode to exactly 32 bytes"))
	}

	/* ---- DIALER ---- */
	if c.Dialer.MinConcurrency < 1 {
		errs = append(errs, errors.New("DIALER_MIN_CONCURRENCY must be >= 1"))
	}
	if c.Dialer.MaxConcurrency < c.Dialer.MinConcurrency || c.Dialer.MaxConcurrency > 20 {
		errs = append(errs, errors.New("DIALER_MAX_CONCURRENCY must be between DIALER_MIN_CONCURRENCY and 20"))
	}

	/* ---- PROCESSORS ---- */
	if c.Card.Provider != "" && c.Card.Provider != "square" && c.Card.Provider != "stripe" {
		errs = append(errs, errors.New("CARD_PAYMENT_PROVIDER must be square or stripe"))
	}

	return joinErrors(errs)
}

/* ===================== HELPERS ===================== */

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	return strconv.Atoi(v)
}

func mustIntDefault(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func mustDuration(key string) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be valid duration like 15m", key)
	}
	return d, nil
}

// envAmount parses a decimal dollar string env var into a money.Amount,
// appending a parse error to errs rather than returning one, so Load can
// collect every config problem in a single pass.
func envAmount(key string, errs *[]error) money.Amount {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return money.Zero
	}
	a, err := money.Parse(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return money.Zero
	}
	return a
}

func envFloatDefault(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	var filtered []error
	for _, e := range errs {
		if e != nil {
			filtered = append(filtered, e)
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range filtered {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
