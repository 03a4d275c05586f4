package main

import (
	"io"
	"net/http"
	"strings"
	"time"

	"aitelephony-platform/internal/agents"
	"aitelephony-platform/internal/auth"
	"aitelephony-platform/internal/calls"
	"aitelephony-platform/internal/dialer"
	"aitelephony-platform/internal/httpapi"
	"aitelephony-platform/internal/numbers"
	"aitelephony-platform/internal/rbac"
	"aitelephony-platform/internal/telephony"
	"aitelephony-platform/internal/webhookverify"

	"github.com/gin-gonic/gin"
)

// routeDeps is the narrow set of services/config routes.go needs on top of
// httpapi.Handlers: the telephony webhook endpoints reduce directly against
// internal/calls and internal/dialer since they parse the provider payload
// themselves, and the payment webhook endpoints need the raw body and a
// verifier ahead of any handler.
type routeDeps struct {
	handlers httpapi.Handlers

	calls   *calls.Service
	dialer  *dialer.Service
	numbers *numbers.Service
	agents  *agents.Service

	verifier *webhookverify.Verifier

	dialinSecret    string
	roomCreationAPI string
	namePrefix      string
	publicBaseURL   string

	stripeSecret string
	squareKey    string
	cryptoSecret string
	achSecret    string
}

func registerRoutes(r *gin.Engine, authMW gin.HandlerFunc, d routeDeps) {
	r.GET("/healthz", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })

	registerTelephonyWebhooks(r, d)
	registerPaymentWebhooks(r, d)
	registerAgentActionRoutes(r, d)

	// Login is unauthenticated by construction — it is how a caller gets a
	// token in the first place.
	r.POST("/v1/auth/login", d.handlers.Login)

	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		h := d.handlers

		v1.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(200, gin.H{"user_id": uid, "role": role})
		})

		wallet := v1.Group("/wallet")
		wallet.Use(rbac.RequireWorkspace())
		{
			wallet.GET("/balance", h.GetBalance)
			wallet.GET("/transactions", h.ListTransactions)
		}

		numbersGroup := v1.Group("/numbers")
		numbersGroup.Use(rbac.RequireWorkspace())
		numbersGroup.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleSuperAdmin))
		{
			numbersGroup.GET("", h.ListNumbers)
			numbersGroup.POST("/purchase", h.PurchaseNumber)
			numbersGroup.POST("/:number_id/assign-agent", func(c *gin.Context) {
				h.AssignAgent(c, d.roomCreationAPI, d.namePrefix)
			})
			numbersGroup.POST("/:number_id/cancel", h.RequestNumberCancellation)
		}

		agentsGroup := v1.Group("/agents")
		agentsGroup.Use(rbac.RequireWorkspace())
		agentsGroup.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleAgent, rbac.RoleSuperAdmin))
		{
			agentsGroup.POST("", h.UpsertAgent)
			agentsGroup.GET("/:agent_id", h.GetAgent)
			agentsGroup.DELETE("/:agent_id", func(c *gin.Context) {
				h.DeleteAgent(c, d.numbers)
			})
		}

		campaigns := v1.Group("/campaigns")
		campaigns.Use(rbac.RequireWorkspace())
		campaigns.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleAnalyst, rbac.RoleSuperAdmin))
		{
			campaigns.POST("", h.CreateCampaign)
			campaigns.POST("/:campaign_id/leads", h.IngestLeads)
		}

		reportsGroup := v1.Group("/reports")
		reportsGroup.Use(rbac.RequireWorkspace())
		reportsGroup.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleAnalyst, rbac.RoleFinance, rbac.RoleSuperAdmin))
		{
			reportsGroup.GET("/calls", h.CallsSummary)
			reportsGroup.GET("/spend", h.SpendSummary)
			reportsGroup.GET("/conversion", h.ConversionMetrics)
		}

		admin := v1.Group("/admin")
		admin.Use(rbac.RequireWorkspace())
		admin.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleSuperAdmin))
		{
			admin.GET("/ping", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })
			admin.POST("/wallet/manual-credit", h.AdminManualCredit)
		}
	}
}

// registerAgentActionRoutes mounts the six mid-call tool actions the
// agent-runtime provider calls back into. These sit outside the portal
// /v1 group entirely — the caller presents a bearer token scoped to one
// agent (agent.action_token_hash), never a portal session JWT, so each
// handler authenticates the request itself via requireAgentActionToken
// rather than through rbac/authMW.
func registerAgentActionRoutes(r *gin.Engine, d routeDeps) {
	act := r.Group("/agent-actions")
	{
		h := d.handlers
		act.POST("/email", h.SendEmail)
		act.POST("/sms", h.SendSMS)
		act.POST("/mail", h.SendPhysicalMail)
		act.POST("/video-meeting", h.SendVideoMeetingLink)
		act.POST("/payment-link", h.CreatePaymentLink)
		act.POST("/log-message", h.LogMessage)
	}
}

// registerTelephonyWebhooks wires the provider's two inbound webhooks: a
// per-call dial-in POST that starts an AI session, and an event POST that
// reduces dialin.*/dialout.* state transitions onto the matching CallLog row
// in either internal/calls (inbound) or internal/dialer (outbound).
func registerTelephonyWebhooks(r *gin.Engine, d routeDeps) {
	r.POST("/webhooks/telephony/dialin", func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}
		w, err := telephony.ParseDialinWebhook(body, c.Request.URL.Query(), d.dialinSecret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid dial-in payload"})
			return
		}
		cl, err := d.calls.HandleDialin(c.Request.Context(), calls.DialinWebhookRequest{
			To: w.To, From: w.From, CallID: w.CallID, CallDomain: w.CallDomain,
		})
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, cl)
	})

	r.POST("/webhooks/telephony/events", func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}
		events, err := telephony.ParseEventWebhook(body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid event payload"})
			return
		}
		for _, ev := range events {
			if strings.HasPrefix(ev.Type, "dialout.") {
				eventType := strings.TrimPrefix(ev.Type, "dialout.")
				if _, err := d.dialer.ReduceEvent(c.Request.Context(), ev.CallDomain, ev.CallID, eventType, ev.Timestamp, ev.Reason, ev.DurationS); err != nil {
					c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
					return
				}
				continue
			}
			eventType := strings.TrimPrefix(ev.Type, "dialin.")
			if _, err := d.calls.ReduceEvent(c.Request.Context(), ev.CallDomain, ev.CallID, ev.To, ev.From, eventType, ev.Timestamp, ev.Reason, ev.DurationS); err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		c.Status(http.StatusOK)
	})
}

// registerPaymentWebhooks captures the raw body for every processor before
// any JSON binding happens, verifies the signature against the configured
// secret, and only then hands the already-verified body to the matching
// internal/payments handler. A processor with no secret configured logs a
// loud warning and passes through unverified rather than silently rejecting
// every webhook in a freshly bootstrapped environment — see
// webhookverify.Verifier.warnUnconfigured.
func registerPaymentWebhooks(r *gin.Engine, d routeDeps) {
	pay := r.Group("/webhooks/payments")

	pay.POST("/square", func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}
		sig := c.GetHeader("x-square-hmacsha256-signature")
		configuredURL := d.publicBaseURL + "/webhooks/payments/square"
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}
		requestURL := scheme + "://" + c.Request.Host + c.Request.URL.RequestURI()
		if err := d.verifier.VerifySquare(d.squareKey, configuredURL, requestURL, body, sig); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "signature mismatch"})
			return
		}
		d.handlers.HandleSquareWebhook(c, body)
	})

	pay.POST("/stripe", func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}
		sigHeader := c.GetHeader("Stripe-Signature")
		eventType, eventData, err := d.verifier.VerifyStripe(d.stripeSecret, body, sigHeader, 5*time.Minute)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "signature mismatch"})
			return
		}
		d.handlers.HandleStripeWebhook(c, eventType, eventData)
	})

	pay.POST("/crypto", func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}
		sig := c.GetHeader("x-ipn-signature")
		if err := d.verifier.VerifyCrypto(d.cryptoSecret, body, sig); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "signature mismatch"})
			return
		}
		d.handlers.HandleCryptoIPN(c, body)
	})

	pay.POST("/ach", func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}
		sig := c.GetHeader("x-ach-signature")
		if err := d.verifier.VerifyACH(d.achSecret, body, sig); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "signature mismatch"})
			return
		}
		d.handlers.HandleACHWebhook(c, body)
	})
}
