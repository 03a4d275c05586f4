package actions

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"time"

	"aitelephony-platform/internal/rates"
	"aitelephony-platform/pkg/money"

	"github.com/flosch/pongo2/v6"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/jung-kurt/gofpdf"
)

var ErrNonmailable = errors.New("actions: address is not mailable")

// MailProvider is the XML-over-HTTP print-and-mail client: address
// correction, cost estimate, and the batch create/upload/submit/track
// sequence a physical letter goes through.
type MailProvider struct {
	http     *resty.Client
	username string
	password string
}

func NewMailProvider(baseURL, username, password string, timeout time.Duration) *MailProvider {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	h := resty.New().SetBaseURL(baseURL).SetTimeout(timeout).SetHeader("Content-Type", "application/xml")
	return &MailProvider{http: h, username: username, password: password}
}

type mailAddress struct {
	Name    string
	Address string
	City    string
	State   string
	Zip     string
}

type addressCorrectionResponse struct {
	XMLName     xml.Name `xml:"addressCorrectionResponse"`
	Nonmailable bool     `xml:"nonmailable"`
	Corrected   struct {
		Address string `xml:"address"`
		City    string `xml:"city"`
		State   string `xml:"state"`
		Zip     string `xml:"zip"`
	} `xml:"correctedAddress"`
}

// CorrectAddress validates and standardizes a recipient address. A
// nonmailable=true response must fail the action before any charge.
func (p *MailProvider) CorrectAddress(ctx context.Context, addr mailAddress) (mailAddress, error) {
	body := fmt.Sprintf(
		`<addressCorrectionRequest><username>%s</username><password>%s</password><address>%s</address><city>%s</city><state>%s</state><zip>%s</zip></addressCorrectionRequest>`,
		p.username, p.password, addr.Address, addr.City, addr.State, addr.Zip,
	)
	var out addressCorrectionResponse
	resp, err := p.http.R().SetContext(ctx).SetBody(body).SetResult(&out).Post("/addressCorrection")
	if err != nil {
		return mailAddress{}, fmt.Errorf("%w: %v", ErrExternalProvider, err)
	}
	if resp.IsError() {
		return mailAddress{}, fmt.Errorf("%w: status %d", ErrExternalProvider, resp.StatusCode())
	}
	if out.Nonmailable {
		return mailAddress{}, ErrNonmailable
	}
	corrected := addr
	if out.Corrected.Address != "" {
		corrected = mailAddress{Name: addr.Name, Address: out.Corrected.Address, City: out.Corrected.City, State: out.Corrected.State, Zip: out.Corrected.Zip}
	}
	return corrected, nil
}

// CostEstimate searches the provider's response for a numeric element whose
// own tag name contains "total"/"cost"/"amount"/"price" and whose value lies
// in (0, 1000), per the provider's loosely-typed estimate payload. The names
// of enclosing elements are not considered.
func (p *MailProvider) CostEstimate(ctx context.Context, pageCount int, addr mailAddress) (money.Amount, error) {
	body := fmt.Sprintf(`<costEstimateRequest><username>%s</username><password>%s</password><pages>%d</pages><zip>%s</zip></costEstimateRequest>`,
		p.username, p.password, pageCount, addr.Zip)
	resp, err := p.http.R().SetContext(ctx).SetBody(body).Post("/costEstimate")
	if err != nil {
		return money.Zero, fmt.Errorf("%w: %v", ErrExternalProvider, err)
	}
	if resp.IsError() {
		return money.Zero, fmt.Errorf("%w: status %d", ErrExternalProvider, resp.StatusCode())
	}
	if amt, ok := findCostField(resp.Body()); ok {
		return amt, nil
	}
	return scanCostFromText(resp.String())
}

// findCostField walks the XML element tree looking for a leaf whose tag
// name contains "total"/"cost"/"amount"/"price" and whose text content
// parses as a decimal in (0, 1000) — the provider's estimate field is not
// at a fixed path, so every element is a candidate.
func findCostField(body []byte) (money.Amount, bool) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	var pendingNames []string
	for {
		tok, err := dec.Token()
		if err != nil {
			return money.Zero, false
		}
		switch t := tok.(type) {
		case xml.StartElement:
			pendingNames = append(pendingNames, toLower(t.Name.Local))
		case xml.EndElement:
			if len(pendingNames) > 0 {
				pendingNames = pendingNames[:len(pendingNames)-1]
			}
		case xml.CharData:
			if len(pendingNames) == 0 {
				continue
			}
			name := pendingNames[len(pendingNames)-1]
			if !containsAny(name, "total", "cost", "amount", "price") {
				continue
			}
			var f float64
			if _, err := fmt.Sscanf(string(bytes.TrimSpace(t)), "%f", &f); err == nil && f > 0 && f < 1000 {
				return money.FromFloat(f), true
			}
		}
	}
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(s) >= len(sub) {
			for i := 0; i+len(sub) <= len(s); i++ {
				if s[i:i+len(sub)] == sub {
					return true
				}
			}
		}
	}
	return false
}

func scanCostFromText(s string) (money.Amount, error) {
	var f float64
	if _, err := fmt.Sscanf(s, "%f", &f); err == nil && f > 0 && f < 1000 {
		return money.FromFloat(f), nil
	}
	return money.Zero, fmt.Errorf("%w: no cost field found in estimate response", ErrExternalProvider)
}

// BatchResult is what CreateBatch/SubmitBatch returns back to the caller.
type BatchResult struct {
	BatchID      string
	TrackingCode string
}

func (p *MailProvider) createBatch(ctx context.Context) (string, error) {
	body := fmt.Sprintf(`<batchRequest><username>%s</username><password>%s</password></batchRequest>`, p.username, p.password)
	var out struct {
		BatchID string `xml:"batchId"`
	}
	resp, err := p.http.R().SetContext(ctx).SetBody(body).SetResult(&out).Post("/v1/batches")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExternalProvider, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("%w: status %d", ErrExternalProvider, resp.StatusCode())
	}
	return out.BatchID, nil
}

func (p *MailProvider) uploadDocument(ctx context.Context, batchID string, pdf []byte) error {
	resp, err := p.http.R().SetContext(ctx).SetBody(pdf).Post(fmt.Sprintf("/v1/batches/%s/document", batchID))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExternalProvider, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: status %d", ErrExternalProvider, resp.StatusCode())
	}
	return nil
}

func (p *MailProvider) uploadManifest(ctx context.Context, batchID string, addr mailAddress) error {
	manifest := fmt.Sprintf(
		`<manifest><recipient><name>%s</name><address>%s</address><city>%s</city><state>%s</state><zip>%s</zip></recipient></manifest>`,
		addr.Name, addr.Address, addr.City, addr.State, addr.Zip,
	)
	resp, err := p.http.R().SetContext(ctx).SetBody(manifest).Post(fmt.Sprintf("/v1/batches/%s/manifest", batchID))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExternalProvider, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: status %d", ErrExternalProvider, resp.StatusCode())
	}
	return nil
}

func (p *MailProvider) submitBatch(ctx context.Context, batchID string) (BatchResult, error) {
	var out struct {
		TrackingCode string `xml:"trackingCode"`
	}
	resp, err := p.http.R().SetContext(ctx).SetResult(&out).Post(fmt.Sprintf("/v1/batches/%s/submit", batchID))
	if err != nil {
		return BatchResult{}, fmt.Errorf("%w: %v", ErrExternalProvider, err)
	}
	if resp.IsError() {
		return BatchResult{}, fmt.Errorf("%w: status %d", ErrExternalProvider, resp.StatusCode())
	}
	return BatchResult{BatchID: batchID, TrackingCode: out.TrackingCode}, nil
}

// renderLetterPDF renders a plain-text letter body through a pongo2
// template (so callers can reference {{ recipient_name }}-style merge
// fields) and composes it into a single-page-per-~45-lines PDF via gofpdf,
// the stdlib-free route for users who don't supply a DOCX template.
func renderLetterPDF(bodyTemplate string, ctxVars pongo2.Context) ([]byte, error) {
	tpl, err := pongo2.FromString(bodyTemplate)
	if err != nil {
		return nil, fmt.Errorf("mail template: %w", err)
	}
	rendered, err := tpl.Execute(ctxVars)
	if err != nil {
		return nil, fmt.Errorf("mail template: %w", err)
	}

	pdf := gofpdf.New("P", "mm", "Letter", "")
	pdf.AddPage()
	pdf.SetFont("Arial", "", 12)
	pdf.MultiCell(0, 6, rendered, "", "", false)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("mail pdf: %w", err)
	}
	return buf.Bytes(), nil
}

type SendPhysicalMailRequest struct {
	UserID       string
	AgentID      string
	CallID       string
	CallDomain   string
	DedupeKey    string
	BodyTemplate string
	Recipient    mailAddress
	MarkupFlat   money.Amount
	MarkupPct    float64
}

// SendPhysicalMail runs the extended flow §4.9 describes for mail: address
// correction (failing before any charge on nonmailable), PDF render, cost
// estimate + markup, charge, then the create/upload/upload/submit batch
// sequence, recording the tracking code on success.
func (s *Service) SendPhysicalMail(ctx context.Context, req SendPhysicalMailRequest) (Outcome, error) {
	if req.UserID == "" || s.mail == nil {
		return Outcome{}, ErrInvalidArgument
	}
	dedupe := req.DedupeKey
	if dedupe == "" {
		dedupe = DedupeKey("mail", req.CallDomain, req.CallID, req.Recipient.Address, req.Recipient.Zip)
	}

	a, out, err := s.beginOrResume(ctx, ActionSend{
		ID: uuid.NewString(), UserID: req.UserID, AgentID: req.AgentID, Kind: KindMail, DedupeKey: dedupe,
		CallID: req.CallID, CallDomain: req.CallDomain,
		RecipientName: req.Recipient.Name, RecipientAddress: req.Recipient.Address,
	})
	if err != nil {
		return Outcome{}, err
	}
	if out != nil {
		return *out, nil
	}

	corrected, err := s.mail.CorrectAddress(ctx, req.Recipient)
	if err != nil {
		now := s.clock().UTC()
		_ = markFailed(ctx, s.db, a.ID, err.Error(), now)
		code := 502
		if errors.Is(err, ErrNonmailable) {
			code = 400
		}
		return Outcome{Status: "failed", DedupeKey: dedupe, Error: err.Error(), StatusCode: code}, nil
	}

	pdf, err := renderLetterPDF(req.BodyTemplate, pongo2.Context{
		"recipient_name": corrected.Name,
		"recipient_address": corrected.Address,
	})
	if err != nil {
		now := s.clock().UTC()
		_ = markFailed(ctx, s.db, a.ID, err.Error(), now)
		return Outcome{Status: "failed", DedupeKey: dedupe, Error: err.Error(), StatusCode: 502}, nil
	}

	pageCount := 1 + len(pdf)/3000
	providerEstimate, err := s.mail.CostEstimate(ctx, pageCount, corrected)
	if err != nil {
		now := s.clock().UTC()
		_ = markFailed(ctx, s.db, a.ID, err.Error(), now)
		return Outcome{Status: "failed", DedupeKey: dedupe, Error: err.Error(), StatusCode: 502}, nil
	}

	total := rates.PhysicalMailCost(providerEstimate, req.MarkupFlat, req.MarkupPct)

	if out, err := s.charge(ctx, a, total, "tool action: send-physical-mail"); err != nil {
		return Outcome{}, err
	} else if out != nil {
		return *out, nil
	}

	trackingCode, providerErr := s.submitMailBatch(ctx, pdf, corrected)
	return s.finish(ctx, a, trackingCode, total, providerErr), nil
}

func (s *Service) submitMailBatch(ctx context.Context, pdf []byte, addr mailAddress) (string, error) {
	batchID, err := s.mail.createBatch(ctx)
	if err != nil {
		return "", err
	}
	if err := s.mail.uploadDocument(ctx, batchID, pdf); err != nil {
		return "", err
	}
	if err := s.mail.uploadManifest(ctx, batchID, addr); err != nil {
		return "", err
	}
	result, err := s.mail.submitBatch(ctx, batchID)
	if err != nil {
		return "", err
	}
	return result.TrackingCode, nil
}
