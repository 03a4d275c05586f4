package main

import (
	"context"

	"aitelephony-platform/internal/actions"
	"aitelephony-platform/internal/agents"
	"aitelephony-platform/internal/calls"
	"aitelephony-platform/internal/users"
)

// agentLookupAdapter satisfies calls.AgentLookup by narrowing
// agents.Service.GetByNumber's full Agent down to the ID/UserID pair the
// inbound call coordinator actually needs. Lives here rather than in either
// package so neither has to import the other.
type agentLookupAdapter struct {
	agents *agents.Service
}

func (a agentLookupAdapter) GetByNumber(ctx context.Context, phoneNumber string) (calls.AgentRef, error) {
	ag, err := a.agents.GetByNumber(ctx, phoneNumber)
	if err != nil {
		return calls.AgentRef{}, err
	}
	return calls.AgentRef{ID: ag.ID, UserID: ag.UserID}, nil
}

// smtpSettingsAdapter satisfies actions.SMTPSettingsLookup. users.Service
// keeps the decrypted SMTP password out of its own SMTPSettings return value
// and hands it back as a second value instead, so this adapter is the one
// place that recombines them into the single struct internal/actions wants.
type smtpSettingsAdapter struct {
	users *users.Service
}

func (a smtpSettingsAdapter) OpenSMTPSettings(ctx context.Context, userID string) (actions.SMTPSettings, error) {
	s, password, err := a.users.OpenSMTPSettings(ctx, userID)
	if err != nil {
		return actions.SMTPSettings{}, err
	}
	return actions.SMTPSettings{
		Host:        s.Host,
		Port:        s.Port,
		Secure:      s.Secure,
		Username:    s.Username,
		Password:    password,
		FromAddress: s.FromAddress,
	}, nil
}
