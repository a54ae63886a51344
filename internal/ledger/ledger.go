// Package ledger owns the usage accounting state: global totals, daily
// buckets keyed by UTC date, and per-user records including the sliding
// window of recent generation attempts. All mutations go through the
// store's lock and enqueue a persistence flush.
package ledger

import (
	"time"

	"github.com/briefcast/briefcast/internal/store"
)

// Window is the sliding window for the per-minute generation limit.
const Window = 60 * time.Second

// DateKey renders t as the UTC day bucket key (YYYY-MM-DD).
func DateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Ledger records usage events. It is safe for concurrent use.
type Ledger struct {
	store *store.Store
}

// New wraps the store with usage accounting.
func New(st *store.Store) *Ledger {
	return &Ledger{store: st}
}

// Tx runs fn with write access to the usage document in one critical
// section. When fn reports a change a flush is enqueued.
func (l *Ledger) Tx(fn func(u *store.Usage) bool) {
	var changed bool
	l.store.Update(func(s *store.State) {
		changed = fn(s.Usage)
	})
	if changed {
		l.store.Save(store.SaveFlags{Usage: true})
	}
}

// ApplyGenerateAttempt mutates u for one generation attempt: totals,
// the day bucket, the user's records, and the sliding window all move.
// It exists so the quota gate can combine its check with the record
// inside a single Tx; RecordGenerateAttempt is the standalone form.
func ApplyGenerateAttempt(u *store.Usage, userID string, at time.Time) {
	key := DateKey(at)
	u.Totals.GenerateBriefing++
	u.Day(key).GenerateBriefing++

	uu := u.ForUser(userID)
	uu.Total++
	t := at
	uu.LastCallAt = &t
	uu.Day(key).GenerateBriefing++
	uu.RecentGenerateAt = append(pruneWindow(uu.RecentGenerateAt, at), at)
}

// RecordGenerateAttempt counts one briefing generation attempt.
func (l *Ledger) RecordGenerateAttempt(userID string, at time.Time) {
	l.Tx(func(u *store.Usage) bool {
		ApplyGenerateAttempt(u, userID, at)
		return true
	})
}

// RecordGenerateOutcome counts the final success or failure of one
// generation request. Callers must record it exactly once per attempt.
func (l *Ledger) RecordGenerateOutcome(userID string, success bool, at time.Time) {
	l.bump(userID, at, func(c *store.Counters) {
		if success {
			c.GenerateSuccess++
		} else {
			c.GenerateFail++
		}
	})
}

// RecordGeminiCall counts one upstream text-generation call.
func (l *Ledger) RecordGeminiCall(userID string, success bool, at time.Time) {
	l.bump(userID, at, func(c *store.Counters) {
		c.GeminiCalls++
		if success {
			c.GeminiSuccess++
		} else {
			c.GeminiFail++
		}
	})
}

// RecordTTSCalls counts count upstream synthesis calls and one overall
// synthesis outcome.
func (l *Ledger) RecordTTSCalls(userID string, success bool, count int, at time.Time) {
	l.bump(userID, at, func(c *store.Counters) {
		c.TTSCalls += count
		if success {
			c.TTSSuccess++
		} else {
			c.TTSFail++
		}
	})
}

func (l *Ledger) bump(userID string, at time.Time, fn func(*store.Counters)) {
	key := DateKey(at)
	l.store.Update(func(s *store.State) {
		u := s.Usage
		fn(&u.Totals)
		fn(u.Day(key))
		fn(u.ForUser(userID).Day(key))
	})
	l.store.Save(store.SaveFlags{Usage: true})
}

// DailyGenerateCount returns the user's attempt count for the given day.
func (l *Ledger) DailyGenerateCount(userID, dateKey string) int {
	var n int
	l.store.View(func(s *store.State) {
		if uu, ok := s.Usage.ByUser[userID]; ok {
			if c, ok := uu.Daily[dateKey]; ok {
				n = c.GenerateBriefing
			}
		}
	})
	return n
}

// RecentWindow prunes the user's sliding window in place and returns
// what remains, oldest first. Callers reach it through Tx; the returned
// slice must not be retained past the transaction.
func RecentWindow(u *store.Usage, userID string, now time.Time) []time.Time {
	uu, ok := u.ByUser[userID]
	if !ok {
		return nil
	}
	uu.RecentGenerateAt = pruneWindow(uu.RecentGenerateAt, now)
	return uu.RecentGenerateAt
}

// RecentGenerateTimes prunes the user's sliding window in place and
// returns a copy of what remains, oldest first.
func (l *Ledger) RecentGenerateTimes(userID string, now time.Time) []time.Time {
	var recent []time.Time
	l.store.Update(func(s *store.State) {
		recent = append(recent, RecentWindow(s.Usage, userID, now)...)
	})
	return recent
}

// View runs fn with read access to the usage document. Admin reporting
// uses this; fn must not mutate or retain the document.
func (l *Ledger) View(fn func(u *store.Usage)) {
	l.store.View(func(s *store.State) {
		fn(s.Usage)
	})
}

// pruneWindow drops entries that have aged out. An entry exits the
// window exactly when now-t >= Window.
func pruneWindow(times []time.Time, now time.Time) []time.Time {
	kept := times[:0]
	for _, t := range times {
		if now.Sub(t) < Window {
			kept = append(kept, t)
		}
	}
	return kept
}
