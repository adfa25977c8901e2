// Package siem aggregates security events into alerts, dashboard views,
// and correlation-driven responses.
package siem

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/patrickcsouzadev/todo-app/storage"
)

const (
	alertWindow       = 30 * time.Minute
	correlationWindow = 15 * time.Minute
	correlationFloor  = 3

	dashboardAlertLimit = 10
	topLimit            = 10
	defaultEventLimit   = 50
	defaultWindowHours  = 24
)

// Alert statuses. Alerts are derived on read; a fresh alert is always OPEN.
const (
	StatusOpen          = "OPEN"
	StatusInvestigating = "INVESTIGATING"
	StatusResolved      = "RESOLVED"
	StatusFalsePositive = "FALSE_POSITIVE"
)

// Notifier receives correlation actions that leave the service: security
// alert mail and IP block requests.
type Notifier interface {
	SendSecurityAlert(ctx context.Context, ruleName string, severity storage.Severity, sourceIPs []string, eventCount int) error
	BlockIPs(ctx context.Context, ips []string) error
}

// Alert groups security events sharing a source IP inside a 30-minute
// window. Alerts are computed on read and never persisted.
type Alert struct {
	ID          string                   `json:"id"`
	Title       string                   `json:"title"`
	Description string                   `json:"description"`
	Severity    storage.Severity         `json:"severity"`
	Status      string                   `json:"status"`
	Events      []*storage.SecurityEvent `json:"events"`
	CreatedAt   time.Time                `json:"createdAt"`
	UpdatedAt   time.Time                `json:"updatedAt"`
	Notes       []string                 `json:"notes"`
}

// Dashboard is the aggregate security view over a time window.
type Dashboard struct {
	TotalEvents    int                      `json:"totalEvents"`
	CriticalEvents int                      `json:"criticalEvents"`
	HighEvents     int                      `json:"highEvents"`
	MediumEvents   int                      `json:"mediumEvents"`
	LowEvents      int                      `json:"lowEvents"`
	OpenAlerts     int                      `json:"openAlerts"`
	ResolvedAlerts int                      `json:"resolvedAlerts"`
	TopSourceIPs   []storage.IPCount        `json:"topSourceIPs"`
	TopEventTypes  []storage.EventTypeCount `json:"topEventTypes"`
	RecentAlerts   []*Alert                 `json:"recentAlerts"`
}

// Service implements the SIEM correlator and dashboard.
type Service struct {
	repo     storage.Repository
	notifier Notifier
	log      *slog.Logger
	now      func() time.Time
}

// NewService returns a SIEM service. The notifier may be nil, in which case
// SEND_EMAIL and BLOCK_IP correlation actions are only logged.
func NewService(repo storage.Repository, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, notifier: notifier, log: logger, now: time.Now}
}

// GetDashboard builds the dashboard over the past hours (default 24).
func (s *Service) GetDashboard(ctx context.Context, hours int) (*Dashboard, error) {
	if hours <= 0 {
		hours = defaultWindowHours
	}
	since := s.now().UTC().Add(-time.Duration(hours) * time.Hour)

	d := &Dashboard{}
	var err error

	if d.TotalEvents, err = s.repo.CountSecurityEvents(ctx, storage.SecurityEventFilter{Since: since}); err != nil {
		return nil, fmt.Errorf("counting events: %w", err)
	}
	for _, c := range []struct {
		severity storage.Severity
		dst      *int
	}{
		{storage.SeverityCritical, &d.CriticalEvents},
		{storage.SeverityHigh, &d.HighEvents},
		{storage.SeverityMedium, &d.MediumEvents},
		{storage.SeverityLow, &d.LowEvents},
	} {
		if *c.dst, err = s.repo.CountSecurityEvents(ctx, storage.SecurityEventFilter{
			Severity: c.severity, Since: since,
		}); err != nil {
			return nil, fmt.Errorf("counting %s events: %w", c.severity, err)
		}
	}

	resolved := true
	unresolved := false
	if d.OpenAlerts, err = s.repo.CountSecurityEvents(ctx, storage.SecurityEventFilter{
		Resolved: &unresolved, Since: since,
	}); err != nil {
		return nil, fmt.Errorf("counting open events: %w", err)
	}
	if d.ResolvedAlerts, err = s.repo.CountSecurityEvents(ctx, storage.SecurityEventFilter{
		Resolved: &resolved, Since: since,
	}); err != nil {
		return nil, fmt.Errorf("counting resolved events: %w", err)
	}

	if d.TopSourceIPs, err = s.repo.TopSourceIPs(ctx, since, topLimit); err != nil {
		return nil, fmt.Errorf("ranking source IPs: %w", err)
	}
	if d.TopEventTypes, err = s.repo.TopEventTypes(ctx, since, topLimit); err != nil {
		return nil, fmt.Errorf("ranking event types: %w", err)
	}
	if d.RecentAlerts, err = s.RecentAlerts(ctx, dashboardAlertLimit); err != nil {
		return nil, err
	}
	return d, nil
}

// RecentAlerts derives up to limit alerts from unresolved events. Events
// are consumed greedily newest first: each seed event collects every
// not-yet-grouped event from the same source IP within thirty minutes.
func (s *Service) RecentAlerts(ctx context.Context, limit int) ([]*Alert, error) {
	unresolved := false
	events, err := s.repo.ListSecurityEvents(ctx, storage.SecurityEventFilter{
		Resolved: &unresolved,
	}, limit*10, 0)
	if err != nil {
		return nil, fmt.Errorf("listing unresolved events: %w", err)
	}

	alerts := make([]*Alert, 0, limit)
	grouped := make(map[string]bool, len(events))

	for _, seed := range events {
		if grouped[seed.ID] {
			continue
		}
		group := []*storage.SecurityEvent{seed}
		grouped[seed.ID] = true

		for _, candidate := range events {
			if grouped[candidate.ID] || candidate.SourceIP != seed.SourceIP {
				continue
			}
			gap := candidate.CreatedAt.Sub(seed.CreatedAt)
			if gap < 0 {
				gap = -gap
			}
			if gap < alertWindow {
				group = append(group, candidate)
				grouped[candidate.ID] = true
			}
		}

		alerts = append(alerts, &Alert{
			ID:          "alert-" + seed.ID,
			Title:       alertTitle(group),
			Description: alertDescription(group),
			Severity:    highestSeverity(group),
			Status:      StatusOpen,
			Events:      group,
			CreatedAt:   seed.CreatedAt,
			UpdatedAt:   s.now().UTC(),
			Notes:       []string{},
		})
		if len(alerts) == limit {
			break
		}
	}
	return alerts, nil
}

func alertTitle(events []*storage.SecurityEvent) string {
	types := uniqueEventTypes(events)
	switch {
	case len(types) == 1:
		return types[0] + " detected"
	case len(types) <= 3:
		return "Multiple security events: " + strings.Join(types, ", ")
	default:
		return fmt.Sprintf("Multiple security events (%d types)", len(types))
	}
}

func alertDescription(events []*storage.SecurityEvent) string {
	earliest, latest := events[0].CreatedAt, events[0].CreatedAt
	for _, e := range events[1:] {
		if e.CreatedAt.Before(earliest) {
			earliest = e.CreatedAt
		}
		if e.CreatedAt.After(latest) {
			latest = e.CreatedAt
		}
	}
	span := int(latest.Sub(earliest).Round(time.Minute) / time.Minute)
	return fmt.Sprintf("%d security events detected from IP %s within %d minutes",
		len(events), events[0].SourceIP, span)
}

func highestSeverity(events []*storage.SecurityEvent) storage.Severity {
	top := storage.SeverityLow
	for _, e := range events {
		if e.Severity.Rank() > top.Rank() {
			top = e.Severity
		}
	}
	return top
}

func uniqueEventTypes(events []*storage.SecurityEvent) []string {
	seen := make(map[string]bool)
	var types []string
	for _, e := range events {
		if !seen[e.EventType] {
			seen[e.EventType] = true
			types = append(types, e.EventType)
		}
	}
	return types
}

func uniqueSourceIPs(events []*storage.SecurityEvent) []string {
	seen := make(map[string]bool)
	var ips []string
	for _, e := range events {
		if !seen[e.SourceIP] {
			seen[e.SourceIP] = true
			ips = append(ips, e.SourceIP)
		}
	}
	return ips
}

// Stats is the aggregate view returned by GetSecurityStats.
type Stats struct {
	TotalEvents       int                      `json:"totalEvents"`
	EventsBySeverity  map[string]int           `json:"eventsBySeverity"`
	EventsByType      []storage.EventTypeCount `json:"eventsByType"`
	ResolvedEvents    int                      `json:"resolvedEvents"`
	CorrelationAlerts int                      `json:"correlationAlerts"`
	ResolutionRate    float64                  `json:"resolutionRate"`
}

// GetSecurityStats aggregates event counts over the past hours (default 24).
func (s *Service) GetSecurityStats(ctx context.Context, hours int) (*Stats, error) {
	if hours <= 0 {
		hours = defaultWindowHours
	}
	since := s.now().UTC().Add(-time.Duration(hours) * time.Hour)

	stats := &Stats{EventsBySeverity: make(map[string]int)}
	var err error

	if stats.TotalEvents, err = s.repo.CountSecurityEvents(ctx, storage.SecurityEventFilter{Since: since}); err != nil {
		return nil, fmt.Errorf("counting events: %w", err)
	}
	for _, severity := range []storage.Severity{
		storage.SeverityLow, storage.SeverityMedium, storage.SeverityHigh, storage.SeverityCritical,
	} {
		n, err := s.repo.CountSecurityEvents(ctx, storage.SecurityEventFilter{
			Severity: severity, Since: since,
		})
		if err != nil {
			return nil, fmt.Errorf("counting %s events: %w", severity, err)
		}
		if n > 0 {
			stats.EventsBySeverity[string(severity)] = n
		}
	}
	if stats.EventsByType, err = s.repo.TopEventTypes(ctx, since, topLimit); err != nil {
		return nil, fmt.Errorf("ranking event types: %w", err)
	}

	resolved := true
	if stats.ResolvedEvents, err = s.repo.CountSecurityEvents(ctx, storage.SecurityEventFilter{
		Resolved: &resolved, Since: since,
	}); err != nil {
		return nil, fmt.Errorf("counting resolved events: %w", err)
	}
	if stats.CorrelationAlerts, err = s.repo.CountSecurityEvents(ctx, storage.SecurityEventFilter{
		EventType: "CORRELATION_ALERT", Since: since,
	}); err != nil {
		return nil, fmt.Errorf("counting correlation alerts: %w", err)
	}
	if stats.TotalEvents > 0 {
		stats.ResolutionRate = float64(stats.ResolvedEvents) / float64(stats.TotalEvents) * 100
	}
	return stats, nil
}

// ResolveEvents flips the resolved flag on the given events and returns how
// many were newly resolved.
func (s *Service) ResolveEvents(ctx context.Context, ids []string) (int, error) {
	n, err := s.repo.ResolveSecurityEvents(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("resolving events: %w", err)
	}
	return n, nil
}

// EventPage is a filtered slice of events plus paging information.
type EventPage struct {
	Events  []*storage.SecurityEvent `json:"events"`
	Total   int                      `json:"total"`
	HasMore bool                     `json:"hasMore"`
}

// GetSecurityEvents returns events matching the filter, newest first.
func (s *Service) GetSecurityEvents(ctx context.Context, filter storage.SecurityEventFilter, limit, offset int) (*EventPage, error) {
	if limit <= 0 {
		limit = defaultEventLimit
	}
	events, err := s.repo.ListSecurityEvents(ctx, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	total, err := s.repo.CountSecurityEvents(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("counting events: %w", err)
	}
	return &EventPage{
		Events:  events,
		Total:   total,
		HasMore: offset+len(events) < total,
	}, nil
}
