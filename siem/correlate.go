package siem

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/patrickcsouzadev/todo-app/storage"
)

// Correlation actions.
const (
	actionCreateAlert = "CREATE_ALERT"
	actionSendEmail   = "SEND_EMAIL"
	actionBlockIP     = "BLOCK_IP"
)

// Rule matches unresolved events of one type and fires when any source IP
// produced at least three of them inside the correlation window.
type Rule struct {
	ID        string
	Name      string
	EventType string
	Severity  storage.Severity
	Enabled   bool
	Actions   []string
}

// DefaultRules returns the built-in correlation rule set.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:        "brute_force_attack",
			Name:      "Brute Force Attack Detection",
			EventType: "FAILED_LOGIN_ATTEMPT",
			Severity:  storage.SeverityHigh,
			Enabled:   true,
			Actions:   []string{actionCreateAlert, actionSendEmail},
		},
		{
			ID:        "suspicious_activity_pattern",
			Name:      "Suspicious Activity Pattern",
			EventType: "SUSPICIOUS_ACTIVITY",
			Severity:  storage.SeverityMedium,
			Enabled:   true,
			Actions:   []string{actionCreateAlert},
		},
		{
			ID:        "rate_limit_abuse",
			Name:      "Rate Limit Abuse",
			EventType: "RATE_LIMIT_EXCEEDED",
			Severity:  storage.SeverityMedium,
			Enabled:   true,
			Actions:   []string{actionCreateAlert, actionBlockIP},
		},
		{
			ID:        "privilege_escalation",
			Name:      "Privilege Escalation Attempt",
			EventType: "UNAUTHORIZED_ACCESS",
			Severity:  storage.SeverityCritical,
			Enabled:   true,
			Actions:   []string{actionCreateAlert, actionSendEmail, actionBlockIP},
		},
	}
}

// Correlate runs every enabled rule over the last fifteen minutes of
// unresolved events and executes the matching rules' actions.
func (s *Service) Correlate(ctx context.Context) error {
	for _, rule := range DefaultRules() {
		if !rule.Enabled {
			continue
		}
		matching, err := s.eventsMatchingRule(ctx, rule)
		if err != nil {
			return err
		}
		if len(matching) == 0 {
			continue
		}
		if err := s.executeActions(ctx, rule, matching); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) eventsMatchingRule(ctx context.Context, rule Rule) ([]*storage.SecurityEvent, error) {
	since := s.now().UTC().Add(-correlationWindow)
	unresolved := false
	events, err := s.repo.ListSecurityEvents(ctx, storage.SecurityEventFilter{
		EventType: rule.EventType, Resolved: &unresolved, Since: since,
	}, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("listing events for rule %s: %w", rule.ID, err)
	}

	byIP := make(map[string][]*storage.SecurityEvent)
	for _, e := range events {
		byIP[e.SourceIP] = append(byIP[e.SourceIP], e)
	}

	var matching []*storage.SecurityEvent
	for _, group := range byIP {
		if len(group) >= correlationFloor {
			matching = append(matching, group...)
		}
	}
	return matching, nil
}

func (s *Service) executeActions(ctx context.Context, rule Rule, events []*storage.SecurityEvent) error {
	for _, action := range rule.Actions {
		switch action {
		case actionCreateAlert:
			if err := s.createCorrelationAlert(ctx, rule, events); err != nil {
				return err
			}
		case actionSendEmail:
			s.sendAlertEmail(ctx, rule, events)
		case actionBlockIP:
			s.blockSourceIPs(ctx, events)
		}
	}
	return nil
}

func (s *Service) createCorrelationAlert(ctx context.Context, rule Rule, events []*storage.SecurityEvent) error {
	ips := uniqueSourceIPs(events)
	types := uniqueEventTypes(events)

	summaries := make([]storage.Metadata, 0, len(events))
	for _, e := range events {
		summaries = append(summaries, storage.Metadata{
			"id":        e.ID,
			"eventType": e.EventType,
			"severity":  e.Severity,
			"timestamp": e.CreatedAt.Format(time.RFC3339),
		})
	}

	event := &storage.SecurityEvent{
		EventType: "CORRELATION_ALERT",
		Severity:  rule.Severity,
		Description: fmt.Sprintf("Correlation rule triggered: %s. Events: %s from IPs: %s",
			rule.Name, strings.Join(types, ", "), strings.Join(ips, ", ")),
		SourceIP: ips[0],
		Metadata: storage.Metadata{
			"ruleId":     rule.ID,
			"ruleName":   rule.Name,
			"sourceIPs":  ips,
			"eventTypes": types,
			"eventCount": len(events),
			"events":     summaries,
		},
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.CreateSecurityEvent(ctx, event); err != nil {
		return fmt.Errorf("writing correlation alert for rule %s: %w", rule.ID, err)
	}
	return nil
}

func (s *Service) sendAlertEmail(ctx context.Context, rule Rule, events []*storage.SecurityEvent) {
	ips := uniqueSourceIPs(events)
	if s.notifier == nil {
		s.log.Info("security alert email skipped, no notifier configured",
			"rule", rule.ID, "severity", rule.Severity, "source_ips", ips)
		return
	}
	if err := s.notifier.SendSecurityAlert(ctx, rule.Name, rule.Severity, ips, len(events)); err != nil {
		s.log.Error("failed to send security alert email", "rule", rule.ID, "error", err)
	}
}

func (s *Service) blockSourceIPs(ctx context.Context, events []*storage.SecurityEvent) {
	ips := uniqueSourceIPs(events)
	if s.notifier == nil {
		s.log.Info("IP block skipped, no notifier configured", "source_ips", ips)
		return
	}
	if err := s.notifier.BlockIPs(ctx, ips); err != nil {
		s.log.Error("failed to block source IPs", "source_ips", ips, "error", err)
	}
}
