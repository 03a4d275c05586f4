package httpapi

import (
	"net/http"
	"strings"
	"time"

	"aitelephony-platform/internal/actions"
	"aitelephony-platform/internal/agents"
	"aitelephony-platform/internal/audit"
	"aitelephony-platform/internal/auth"
	"aitelephony-platform/internal/dialer"
	"aitelephony-platform/internal/ledger"
	"aitelephony-platform/internal/numbers"
	"aitelephony-platform/internal/payments"
	"aitelephony-platform/internal/rbac"
	"aitelephony-platform/internal/reporting"
	"aitelephony-platform/internal/users"
	"aitelephony-platform/pkg/logger"
	"aitelephony-platform/pkg/money"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth      *auth.Manager
	Users     *users.Service
	Ledger    *ledger.Service
	Audit     *audit.Service
	Agents    *agents.Service
	Numbers   *numbers.Service
	Dialer    *dialer.Service
	Actions   *actions.Service
	Payments  *payments.Service
	Reporting *reporting.Service
}

func clientIP(c *gin.Context) string {
	return c.ClientIP()
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Login issues a JWT token pair for an existing user. Every user is its own
// workspace here, so the token's workspace id is always the user's own id —
// internal/rbac's RequireWorkspace only cares that one is present.
//
// NOTE: this trusts the caller-supplied user_id; a production deployment
// sits this behind whatever upstream credential check owns the login form.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id and role required"})
		return
	}
	u, err := h.Users.Get(c.Request.Context(), req.UserID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown user"})
		return
	}
	if !u.CanTransact() {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "account suspended"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), u.ID, u.ID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Wallet / ledger ---

func (h Handlers) GetBalance(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil || userID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}
	u, err := h.Users.Get(c.Request.Context(), userID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": u.ID, "balance": u.Balance.String()})
}

func (h Handlers) ListTransactions(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil || userID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}
	txns, err := h.Ledger.ListTransactions(c.Request.Context(), userID, 100)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	c.JSON(http.StatusOK, txns)
}

type adminManualCreditRequest struct {
	UserID      string `json:"user_id"`
	AmountMinor int64  `json:"amount_minor"`
	Reason      string `json:"reason"`
}

// AdminManualCredit performs an admin-only ledger adjustment and records it
// in the audit trail. RBAC: owner or super_admin (enforced by middleware).
func (h Handlers) AdminManualCredit(c *gin.Context) {
	adminUserID, _ := auth.UserID(c.Request.Context())
	adminRole, _ := auth.Role(c.Request.Context())

	var req adminManualCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.AmountMinor == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id and amount_minor required"})
		return
	}

	signed := money.Amount(req.AmountMinor * 1_000_000)
	result, err := h.Ledger.AdminAdjust(c.Request.Context(), req.UserID, signed, req.Reason)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if auditErr := h.Audit.LogAdminAdjustment(c.Request.Context(), req.UserID, adminUserID, adminRole, clientIP(c), req.Reason, result.TransactionID, ""); auditErr != nil {
		logger.FromGin(c).Warn("audit log failed", "err", auditErr)
	}
	c.JSON(http.StatusOK, result)
}

// --- Numbers ---

type purchaseNumberRequest struct {
	DesiredNumber string `json:"desired_number"`
}

func (h Handlers) PurchaseNumber(c *gin.Context) {
	userID, _ := auth.UserID(c.Request.Context())
	var req purchaseNumberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	n, err := h.Numbers.Purchase(c.Request.Context(), userID, req.DesiredNumber)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, n)
}

func (h Handlers) ListNumbers(c *gin.Context) {
	userID, _ := auth.UserID(c.Request.Context())
	list, err := h.Numbers.ListByUser(c.Request.Context(), userID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	c.JSON(http.StatusOK, list)
}

type assignAgentRequest struct {
	AgentID string `json:"agent_id"`
}

func (h Handlers) AssignAgent(c *gin.Context, roomCreationAPI, namePrefix string) {
	numberID := c.Param("number_id")
	var req assignAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	n, err := h.Numbers.AssignAgent(c.Request.Context(), numberID, req.AgentID, roomCreationAPI, namePrefix)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, n)
}

func (h Handlers) RequestNumberCancellation(c *gin.Context) {
	numberID := c.Param("number_id")
	n, err := h.Numbers.RequestCancellation(c.Request.Context(), numberID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, n)
}

// --- Agents ---

type upsertAgentRequest struct {
	ID                      string  `json:"id,omitempty"`
	DisplayName             string  `json:"display_name"`
	Greeting                string  `json:"greeting"`
	Prompt                  string  `json:"prompt"`
	VoiceID                 string  `json:"voice_id"`
	BackgroundAudioHTTPSURL string  `json:"background_audio_https_url,omitempty"`
	BackgroundAudioGain     float64 `json:"background_audio_gain,omitempty"`
	TransferToNumber        string  `json:"transfer_to_number,omitempty"`
	InboundTransferEnabled  bool    `json:"inbound_transfer_enabled,omitempty"`
	InboundTransferNumber   string  `json:"inbound_transfer_number,omitempty"`
}

func (h Handlers) UpsertAgent(c *gin.Context) {
	userID, _ := auth.UserID(c.Request.Context())
	var req upsertAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	a, err := h.Agents.Upsert(c.Request.Context(), agents.UpsertRequest{
		ID:                      req.ID,
		UserID:                  userID,
		DisplayName:             req.DisplayName,
		Greeting:                req.Greeting,
		Prompt:                  req.Prompt,
		VoiceID:                 req.VoiceID,
		BackgroundAudioHTTPSURL: req.BackgroundAudioHTTPSURL,
		BackgroundAudioGain:     req.BackgroundAudioGain,
		TransferToNumber:        req.TransferToNumber,
		InboundTransferEnabled:  req.InboundTransferEnabled,
		InboundTransferNumber:   req.InboundTransferNumber,
	})
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h Handlers) GetAgent(c *gin.Context) {
	a, err := h.Agents.Get(c.Request.Context(), c.Param("agent_id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h Handlers) DeleteAgent(c *gin.Context, unassigner agents.NumberUnassigner) {
	if err := h.Agents.Delete(c.Request.Context(), c.Param("agent_id"), unassigner); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Dialer ---

type createCampaignRequest struct {
	Name             string `json:"name"`
	AgentID          string `json:"agent_id,omitempty"`
	AudioOnlyURL     string `json:"audio_only_url,omitempty"`
	ConcurrencyLimit int    `json:"concurrency_limit"`
}

func (h Handlers) CreateCampaign(c *gin.Context) {
	userID, _ := auth.UserID(c.Request.Context())
	var req createCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	camp, err := h.Dialer.CreateCampaign(c.Request.Context(), dialer.CreateCampaignRequest{
		UserID:           userID,
		Name:             req.Name,
		AgentID:          req.AgentID,
		AudioOnlyURL:     req.AudioOnlyURL,
		ConcurrencyLimit: req.ConcurrencyLimit,
	})
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, camp)
}

func (h Handlers) IngestLeads(c *gin.Context) {
	campaignID := c.Param("campaign_id")
	file, _, err := c.Request.FormFile("file")
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "file required"})
		return
	}
	defer file.Close()
	inserted, rejected, err := h.Dialer.IngestLeadsCSV(c.Request.Context(), campaignID, file)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"inserted": inserted, "rejected": rejected})
}

// --- Tool actions ---
//
// Every tool action below is called by the agent-runtime provider mid-call,
// never by a portal session: the caller presents a bearer token scoped to
// one agent (agent.action_token_hash), not a portal JWT, so these handlers
// authenticate via requireAgentActionToken instead of rbac/auth.UserID and
// derive the owning user from the agent row rather than from any session.

// requireAgentActionToken hashes the bearer token on the request and
// matches it against the target agent's stored action_token_hash. On
// success it returns the agent row (so the caller can read AgentID.UserID
// without a second lookup); on failure it has already written the error
// response and the caller must return immediately.
func (h Handlers) requireAgentActionToken(c *gin.Context, agentID string) (agents.Agent, bool) {
	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if token == "" || agentID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "agent action token required"})
		return agents.Agent{}, false
	}
	a, err := h.Agents.Get(c.Request.Context(), agentID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown agent"})
		return agents.Agent{}, false
	}
	if !h.Agents.VerifyActionToken(a, token) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid agent action token"})
		return agents.Agent{}, false
	}
	return a, true
}

type sendEmailRequest struct {
	AgentID    string `json:"agent_id"`
	CallID     string `json:"call_id"`
	CallDomain string `json:"call_domain"`
	DedupeKey  string `json:"dedupe_key"`
	To         string `json:"to"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
}

func (h Handlers) SendEmail(c *gin.Context) {
	var req sendEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	a, ok := h.requireAgentActionToken(c, req.AgentID)
	if !ok {
		return
	}
	out, err := h.Actions.SendEmail(c.Request.Context(), actions.SendEmailRequest{
		UserID: a.UserID, AgentID: req.AgentID, CallID: req.CallID, CallDomain: req.CallDomain,
		DedupeKey: req.DedupeKey, To: req.To, Subject: req.Subject, Body: req.Body,
	})
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, out)
}

type sendSMSRequest struct {
	AgentID    string `json:"agent_id"`
	CallID     string `json:"call_id"`
	CallDomain string `json:"call_domain"`
	DedupeKey  string `json:"dedupe_key"`
	To         string `json:"to"`
	Body       string `json:"body"`
}

func (h Handlers) SendSMS(c *gin.Context) {
	var req sendSMSRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	a, ok := h.requireAgentActionToken(c, req.AgentID)
	if !ok {
		return
	}
	out, err := h.Actions.SendSMS(c.Request.Context(), actions.SendSMSRequest{
		UserID: a.UserID, AgentID: req.AgentID, CallID: req.CallID, CallDomain: req.CallDomain,
		DedupeKey: req.DedupeKey, To: req.To, Body: req.Body,
	})
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, out)
}

type sendPhysicalMailRequest struct {
	AgentID          string  `json:"agent_id"`
	CallID           string  `json:"call_id"`
	CallDomain       string  `json:"call_domain"`
	DedupeKey        string  `json:"dedupe_key"`
	BodyTemplate     string  `json:"body_template"`
	RecipientName    string  `json:"recipient_name"`
	RecipientAddress string  `json:"recipient_address"`
	RecipientCity    string  `json:"recipient_city"`
	RecipientState   string  `json:"recipient_state"`
	RecipientZip     string  `json:"recipient_zip"`
	MarkupFlatMinor  int64   `json:"markup_flat_minor"`
	MarkupPct        float64 `json:"markup_pct"`
}

func (h Handlers) SendPhysicalMail(c *gin.Context) {
	var req sendPhysicalMailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	a, ok := h.requireAgentActionToken(c, req.AgentID)
	if !ok {
		return
	}
	var svcReq actions.SendPhysicalMailRequest
	svcReq.UserID = a.UserID
	svcReq.AgentID = req.AgentID
	svcReq.CallID = req.CallID
	svcReq.CallDomain = req.CallDomain
	svcReq.DedupeKey = req.DedupeKey
	svcReq.BodyTemplate = req.BodyTemplate
	svcReq.Recipient.Name = req.RecipientName
	svcReq.Recipient.Address = req.RecipientAddress
	svcReq.Recipient.City = req.RecipientCity
	svcReq.Recipient.State = req.RecipientState
	svcReq.Recipient.Zip = req.RecipientZip
	svcReq.MarkupFlat = money.Amount(req.MarkupFlatMinor * 1_000_000)
	svcReq.MarkupPct = req.MarkupPct

	out, err := h.Actions.SendPhysicalMail(c.Request.Context(), svcReq)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, out)
}

type sendVideoMeetingLinkRequest struct {
	AgentID    string `json:"agent_id"`
	AgentName  string `json:"agent_name"`
	CallID     string `json:"call_id"`
	CallDomain string `json:"call_domain"`
	DedupeKey  string `json:"dedupe_key"`
	To         string `json:"to"`
}

func (h Handlers) SendVideoMeetingLink(c *gin.Context) {
	var req sendVideoMeetingLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	a, ok := h.requireAgentActionToken(c, req.AgentID)
	if !ok {
		return
	}
	out, url, err := h.Actions.SendVideoMeetingLink(c.Request.Context(), actions.SendVideoMeetingLinkRequest{
		UserID: a.UserID, AgentID: req.AgentID, AgentName: req.AgentName, CallID: req.CallID, CallDomain: req.CallDomain,
		DedupeKey: req.DedupeKey, To: req.To,
	})
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcome": out, "url": url})
}

type createPaymentLinkRequest struct {
	AgentID     string `json:"agent_id"`
	CallID      string `json:"call_id"`
	CallDomain  string `json:"call_domain"`
	DedupeKey   string `json:"dedupe_key"`
	AmountMinor int64  `json:"amount_minor"`
	Description string `json:"description"`
}

func (h Handlers) CreatePaymentLink(c *gin.Context) {
	var req createPaymentLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	a, ok := h.requireAgentActionToken(c, req.AgentID)
	if !ok {
		return
	}
	out, url, err := h.Actions.CreatePaymentLink(c.Request.Context(), actions.CreatePaymentLinkRequest{
		UserID: a.UserID, AgentID: req.AgentID, CallID: req.CallID, CallDomain: req.CallDomain,
		DedupeKey: req.DedupeKey, Amount: money.Amount(req.AmountMinor * 1_000_000), Description: req.Description,
	})
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcome": out, "url": url})
}

type logMessageRequest struct {
	AgentID    string `json:"agent_id"`
	CallID     string `json:"call_id"`
	CallDomain string `json:"call_domain"`
	Role       string `json:"role"`
	Content    string `json:"content"`
}

func (h Handlers) LogMessage(c *gin.Context) {
	var req logMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	a, ok := h.requireAgentActionToken(c, req.AgentID)
	if !ok {
		return
	}
	out, err := h.Actions.LogMessage(c.Request.Context(), actions.LogMessageRequest{
		UserID: a.UserID, AgentID: req.AgentID, CallID: req.CallID, CallDomain: req.CallDomain,
		Role: req.Role, Content: req.Content,
	})
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, out)
}

// --- Reporting ---

func (h Handlers) CallsSummary(c *gin.Context) {
	userID, _ := auth.UserID(c.Request.Context())
	from, to, ok := parseRange(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from and to query params required, RFC3339"})
		return
	}
	out, err := h.Reporting.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		UserID: userID, Range: reporting.TimeRange{From: from, To: to}, CampaignID: c.Query("campaign_id"),
	})
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) SpendSummary(c *gin.Context) {
	userID, _ := auth.UserID(c.Request.Context())
	from, to, ok := parseRange(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from and to query params required, RFC3339"})
		return
	}
	out, err := h.Reporting.SpendSummary(c.Request.Context(), reporting.SpendSummaryRequest{
		UserID: userID, Range: reporting.TimeRange{From: from, To: to}, Currency: c.Query("currency"),
	})
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) ConversionMetrics(c *gin.Context) {
	userID, _ := auth.UserID(c.Request.Context())
	from, to, ok := parseRange(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from and to query params required, RFC3339"})
		return
	}
	out, err := h.Reporting.ConversionMetrics(c.Request.Context(), reporting.ConversionMetricsRequest{
		UserID: userID, Range: reporting.TimeRange{From: from, To: to}, CampaignID: c.Query("campaign_id"),
	})
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, out)
}

func parseRange(c *gin.Context) (time.Time, time.Time, bool) {
	from, err1 := time.Parse(time.RFC3339, c.Query("from"))
	to, err2 := time.Parse(time.RFC3339, c.Query("to"))
	if err1 != nil || err2 != nil {
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

// --- Payments webhooks ---

func (h Handlers) HandleSquareWebhook(c *gin.Context, body []byte) {
	if err := h.Payments.HandleSquareWebhook(c.Request.Context(), body); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusOK)
}

func (h Handlers) HandleStripeWebhook(c *gin.Context, eventType string, body []byte) {
	if err := h.Payments.HandleStripeWebhook(c.Request.Context(), eventType, body); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusOK)
}

func (h Handlers) HandleCryptoIPN(c *gin.Context, body []byte) {
	if err := h.Payments.HandleCryptoIPN(c.Request.Context(), body); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusOK)
}

func (h Handlers) HandleACHWebhook(c *gin.Context, body []byte) {
	if err := h.Payments.HandleACHWebhook(c.Request.Context(), body); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusOK)
}

func RequireAdminAny(c *gin.Context) {
	_ = c
}

// Convenience middleware bundles.
func RequireWorkspaceAndAnyRole(roles ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{rbac.RequireWorkspace(), rbac.RequireAnyRole(roles...)}
}
