package siem

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/patrickcsouzadev/todo-app/storage"
)

// DailyCount is the number of security events recorded on one calendar day.
type DailyCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// Trends summarizes per-day event volume over a multi-day window.
type Trends struct {
	DailyEventCounts    []DailyCount `json:"dailyEventCounts"`
	AverageEventsPerDay float64      `json:"averageEventsPerDay"`
	PeakDay             DailyCount   `json:"peakDay"`
}

// AnalyzeTrends buckets events by UTC day over the past days (default 7).
func (s *Service) AnalyzeTrends(ctx context.Context, days int) (*Trends, error) {
	if days <= 0 {
		days = 7
	}
	since := s.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	events, err := s.repo.ListSecurityEvents(ctx, storage.SecurityEventFilter{Since: since}, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}

	buckets := make(map[string]int)
	for _, e := range events {
		buckets[e.CreatedAt.UTC().Format("2006-01-02")]++
	}

	trends := &Trends{DailyEventCounts: make([]DailyCount, 0, len(buckets))}
	for date, count := range buckets {
		trends.DailyEventCounts = append(trends.DailyEventCounts, DailyCount{Date: date, Count: count})
	}
	sort.Slice(trends.DailyEventCounts, func(i, j int) bool {
		return trends.DailyEventCounts[i].Date < trends.DailyEventCounts[j].Date
	})

	total := 0
	for _, dc := range trends.DailyEventCounts {
		total += dc.Count
		if dc.Count > trends.PeakDay.Count {
			trends.PeakDay = dc
		}
	}
	if n := len(trends.DailyEventCounts); n > 0 {
		trends.AverageEventsPerDay = float64(total) / float64(n)
	}
	return trends, nil
}
