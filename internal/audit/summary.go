package audit

import (
	"context"
	"errors"
	"sort"
	"time"
)

var ErrSummaryUnsupported = errors.New("audit store cannot summarize")

type ActionCount struct {
	Action string `json:"action"`
	Count  int64  `json:"count"`
}

type IdentityCount struct {
	MaskedIdentity string `json:"masked_identity"`
	Count          int64  `json:"count"`
}

// Summary aggregates the rows whose timestamp falls in [From, To].
type Summary struct {
	From        time.Time       `json:"from"`
	To          time.Time       `json:"to"`
	Total       int64           `json:"total"`
	Failures    int64           `json:"failures"`
	FailureRate float64         `json:"failure_rate"`
	Actions     []ActionCount   `json:"actions"`
	TopDenied   []IdentityCount `json:"top_denied"`
}

// Summarizer is implemented by stores that can aggregate without paging.
// Actions are ordered by count descending; TopDenied holds at most top
// identities with the most RATE_LIMIT_DENIED rows.
type Summarizer interface {
	Summarize(ctx context.Context, from, to time.Time, top int) (*Summary, error)
}

// Summarize delegates to the store when it supports aggregation.
func (l *Log) Summarize(ctx context.Context, from, to time.Time, top int) (*Summary, error) {
	s, ok := l.store.(Summarizer)
	if !ok {
		return nil, ErrSummaryUnsupported
	}
	return s.Summarize(ctx, from, to, top)
}

func (w *BatchWriter) Summarize(ctx context.Context, from, to time.Time, top int) (*Summary, error) {
	s, ok := w.store.(Summarizer)
	if !ok {
		return nil, ErrSummaryUnsupported
	}
	return s.Summarize(ctx, from, to, top)
}

func (s *MemoryStore) Summarize(_ context.Context, from, to time.Time, top int) (*Summary, error) {
	summary := &Summary{From: from, To: to}
	actions := make(map[string]int64)
	denied := make(map[string]int64)

	s.mu.RLock()
	for _, entry := range s.entries {
		if entry.Timestamp.Before(from) || entry.Timestamp.After(to) {
			continue
		}
		actions[entry.Action]++
		if !entry.Success {
			summary.Failures++
		}
		if entry.Action == ActionRateLimitDenied {
			denied[entry.MaskedIdentity]++
		}
	}
	s.mu.RUnlock()

	for action, count := range actions {
		summary.Actions = append(summary.Actions, ActionCount{Action: action, Count: count})
		summary.Total += count
	}
	sort.Slice(summary.Actions, func(i, j int) bool {
		a, b := summary.Actions[i], summary.Actions[j]
		return a.Count > b.Count || (a.Count == b.Count && a.Action < b.Action)
	})

	for ident, count := range denied {
		summary.TopDenied = append(summary.TopDenied, IdentityCount{MaskedIdentity: ident, Count: count})
	}
	sort.Slice(summary.TopDenied, func(i, j int) bool {
		a, b := summary.TopDenied[i], summary.TopDenied[j]
		return a.Count > b.Count || (a.Count == b.Count && a.MaskedIdentity < b.MaskedIdentity)
	})
	if len(summary.TopDenied) > top {
		summary.TopDenied = summary.TopDenied[:top]
	}

	summary.Finish()
	return summary, nil
}

// Finish fills the derived fields and replaces nil slices with empty ones.
func (s *Summary) Finish() {
	if s.Actions == nil {
		s.Actions = []ActionCount{}
	}
	if s.TopDenied == nil {
		s.TopDenied = []IdentityCount{}
	}
	if s.Total > 0 {
		s.FailureRate = float64(s.Failures) / float64(s.Total) * 100
	}
}
