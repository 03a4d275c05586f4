package telephony

import (
	"encoding/json"
	"errors"
	"net/url"
)

var ErrBadWebhookPayload = errors.New("telephony: malformed webhook payload")

// ParseDialinWebhook decodes the dial-in webhook body and checks the
// optional shared-secret token in the query string against expected.
// An empty expected disables the check (development mode).
func ParseDialinWebhook(body []byte, query url.Values, expectedToken string) (DialinWebhook, error) {
	var w DialinWebhook
	if err := json.Unmarshal(body, &w); err != nil {
		return DialinWebhook{}, ErrBadWebhookPayload
	}
	if w.To == "" || w.From == "" || w.CallID == "" || w.CallDomain == "" {
		return DialinWebhook{}, ErrBadWebhookPayload
	}
	if expectedToken != "" && query.Get("token") != expectedToken {
		return DialinWebhook{}, ErrBadWebhookPayload
	}
	return w, nil
}

// ParseEventWebhook decodes either a single event object or a
// {"events": [...]} envelope into a flat slice of CallEvent.
func ParseEventWebhook(body []byte) ([]CallEvent, error) {
	var env EventWebhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, ErrBadWebhookPayload
	}
	if len(env.Events) > 0 {
		return env.Events, nil
	}
	if env.Type == "" {
		return nil, ErrBadWebhookPayload
	}
	return []CallEvent{{
		Type:       env.Type,
		Timestamp:  env.Timestamp,
		CallID:     env.CallID,
		CallDomain: env.CallDomain,
		To:         env.To,
		From:       env.From,
		Reason:     env.Reason,
		DurationS:  env.DurationS,
	}}, nil
}
