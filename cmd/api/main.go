package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aitelephony-platform/internal/actions"
	"aitelephony-platform/internal/agents"
	"aitelephony-platform/internal/audit"
	"aitelephony-platform/internal/auth"
	"aitelephony-platform/internal/billing"
	"aitelephony-platform/internal/calls"
	"aitelephony-platform/internal/config"
	"aitelephony-platform/internal/dialer"
	"aitelephony-platform/internal/httpapi"
	"aitelephony-platform/internal/ledger"
	"aitelephony-platform/internal/numbers"
	"aitelephony-platform/internal/payments"
	"aitelephony-platform/internal/reporting"
	"aitelephony-platform/internal/runtimeprovider"
	"aitelephony-platform/internal/scheduler"
	"aitelephony-platform/internal/telephony"
	"aitelephony-platform/internal/users"
	"aitelephony-platform/internal/webhookverify"
	"aitelephony-platform/pkg/logger"
	"aitelephony-platform/pkg/sealed"
	"aitelephony-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/twilio/twilio-go"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		panic(err)
	}

	db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		panic(err)
	}
	defer func() { _ = db.Close() }()

	rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		panic(err)
	}
	defer func() { _ = rdb.Close() }()

	keyring, err := sealed.NewKeyring(cfg.Secrets.EncryptionKey)
	if err != nil {
		log.Error("secrets keyring init failed", "err", err)
		panic(err)
	}

	runtimeClient := runtimeprovider.NewClient(cfg.Runtime.BaseURL, cfg.Runtime.PrivateAPIKey, cfg.Runtime.Region, 30*time.Second)
	telephonyClient := telephony.NewClient(cfg.Runtime.RoomProviderBaseURL, cfg.Runtime.RoomProviderAPIKey, 30*time.Second)

	eventsCallbackURL := cfg.App.PublicBaseURL + "/webhooks/telephony/events"
	if err := telephonyClient.RegisterWebhooks(ctx, eventsCallbackURL); err != nil {
		log.Warn("telephony webhook registration failed, continuing with whatever subscription already exists", "err", err)
	}

	usersSvc := users.NewService(db, keyring)
	ledgerSvc := ledger.NewService(db)
	billingEngine := billing.NewEngine(db, ledgerSvc)
	auditSvc := audit.NewService(audit.NewPostgresRepo(db))

	agentsSvc := agents.NewService(db, runtimeClient, keyring, agents.PlatformSecrets{
		RoomProviderAPIKey: cfg.Runtime.RoomProviderAPIKey,
		STTAPIKey:          cfg.Runtime.STTAPIKey,
		TTSAPIKey:          cfg.Runtime.TTSAPIKey,
		LLMAPIKey:          cfg.Runtime.LLMAPIKey,
		PortalCallbackBase: cfg.Runtime.PortalCallbackBase,
	}, cfg.Runtime.AgentImage, cfg.Runtime.Region)

	numbersSvc := numbers.NewService(db, ledgerSvc, usersSvc, telephonyClient, auditSvc, numbers.BillingConfig{
		MonthlyFeeLocal:     cfg.Numbers.MonthlyFeeLocal,
		MonthlyFeeTollfree:  cfg.Numbers.MonthlyFeeTollfree,
		MinCreditForInbound: cfg.Numbers.InboundMinCredit,
		DisableOnLowBalance: cfg.Numbers.InboundDisableNumbersOnLowBal,
		GraceDays:           cfg.Numbers.MonthlyGraceDays,
	})

	callsSvc := calls.NewService(db, billingEngine, ledgerSvc, usersSvc, runtimeClient,
		agentLookupAdapter{agents: agentsSvc}, numbersSvc,
		calls.RateConfig{
			RateLocalPerMin:     cfg.Numbers.InboundRatePerMinLocal,
			RateTollfreePerMin:  cfg.Numbers.InboundRatePerMinTollfree,
			RoundUpToMinute:     cfg.Numbers.InboundRoundUpToMinute,
			MinCreditForInbound: cfg.Numbers.InboundMinCredit,
			BalanceFailClosed:   cfg.Numbers.InboundBalanceFailClosed,
		},
		calls.MemoryConfig{
			Enable:         cfg.Memory.Enable,
			MaxCalls:       cfg.Memory.MaxCalls,
			MaxMessages:    cfg.Memory.MaxMessages,
			MaxCharsPerMsg: cfg.Memory.MaxCharsPerMsg,
			MaxDays:        cfg.Memory.MaxDays,
		},
	)

	dialerSvc := dialer.NewService(db, billingEngine, ledgerSvc, runtimeClient, agentsSvc, numbersSvc, rdb, dialer.RateConfig{
		RatePerMin:      cfg.Dialer.OutboundRatePerMin,
		RoundUpToMinute: cfg.Dialer.OutboundRoundUpToMin,
	})

	var twilioClient *twilio.RestClient
	if cfg.Tools.TwilioAccountSID != "" {
		twilioClient = twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.Tools.TwilioAccountSID,
			Password: cfg.Tools.TwilioAuthToken,
		})
	}

	paymentsSvc := payments.NewService(db, ledgerSvc,
		payments.CardConfig{
			Provider:    cfg.Card.Provider,
			AccessToken: cfg.Card.SquareAccessToken,
			LocationID:  cfg.Card.SquareLocationID,
			WebhookKey:  cfg.Card.SquareWebhookKey,
			BaseURL:     cfg.Card.SquareBaseURL,
		},
		payments.StripeConfig{SecretKey: cfg.Stripe.SecretKey, WebhookSecret: cfg.Stripe.WebhookSecret},
		payments.CryptoConfig{APIKey: cfg.Crypto.APIKey, IPNSecret: cfg.Crypto.IPNSecret, BaseURL: cfg.Crypto.BaseURL},
		payments.ACHConfig{APIKey: cfg.ACH.APIKey, WebhookSecret: cfg.ACH.WebhookSecret, BaseURL: cfg.ACH.BaseURL},
		cfg.App.PublicBaseURL,
	)

	var mailProvider *actions.MailProvider
	if cfg.Tools.PhysicalMailEnabled {
		mailProvider = actions.NewMailProvider(cfg.Mail.ProviderBaseURL, cfg.Mail.ProviderUsername, cfg.Mail.ProviderPassword, 30*time.Second)
	}

	actionsSvc := actions.NewService(db, billingEngine, runtimeClient,
		paymentsSvc, mailProvider, smtpSettingsAdapter{users: usersSvc}, callsSvc,
		cfg.Tools.SendGridAPIKey, cfg.Tools.SendGridFromAddr,
		twilioClient, cfg.Tools.TwilioFromNumber,
		actions.Costs{
			Email:        cfg.Tools.EmailCost,
			SMS:          cfg.Tools.SMSCost,
			VideoMeeting: cfg.Tools.VideoMeetingCost,
		},
	)

	reportingSvc := reporting.NewService(reporting.NewPostgresRepo(db))
	verifier := webhookverify.New(log)

	sched := scheduler.New(cfg.Scheduler.TickInterval, log,
		scheduler.BuildSteps(numbersSvc, callsSvc, dialerSvc, cfg.Scheduler.BatchLimit, cfg.Runtime.RoomCreationAPI, cfg.Runtime.NamePrefix, log)...,
	)
	sched.Start(ctx)
	defer sched.Stop()

	h := httpapi.Handlers{
		Auth:      authManager,
		Users:     usersSvc,
		Ledger:    ledgerSvc,
		Audit:     auditSvc,
		Agents:    agentsSvc,
		Numbers:   numbersSvc,
		Dialer:    dialerSvc,
		Actions:   actionsSvc,
		Payments:  paymentsSvc,
		Reporting: reportingSvc,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, auth.RequireAccessToken(authManager), routeDeps{
		handlers:        h,
		calls:           callsSvc,
		dialer:          dialerSvc,
		numbers:         numbersSvc,
		agents:          agentsSvc,
		verifier:        verifier,
		dialinSecret:    cfg.Runtime.DialinWebhookSecret,
		roomCreationAPI: cfg.Runtime.RoomCreationAPI,
		namePrefix:      cfg.Runtime.NamePrefix,
		publicBaseURL:   cfg.App.PublicBaseURL,
		stripeSecret:    cfg.Stripe.WebhookSecret,
		squareKey:       cfg.Card.SquareWebhookKey,
		cryptoSecret:    cfg.Crypto.IPNSecret,
		achSecret:       cfg.ACH.WebhookSecret,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.Info("shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped unexpectedly", "err", err)
			panic(err)
		}
		log.Info("server stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
