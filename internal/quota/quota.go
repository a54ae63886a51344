// Package quota decides whether a user may start a briefing generation.
// Limits: a sliding per-minute window and a per-UTC-day cap. The daily
// cap is checked first; admins bypass both.
package quota

import (
	"math"
	"time"

	"github.com/briefcast/briefcast/internal/ledger"
	"github.com/briefcast/briefcast/internal/store"
)

// Codes returned with a denied Decision.
const (
	CodeDailyLimit  = "DAILY_LIMIT_EXCEEDED"
	CodeMinuteLimit = "MINUTE_LIMIT_EXCEEDED"
)

// Limits configures the gate.
type Limits struct {
	PerMinute int
	PerDay    int
}

// DefaultLimits matches production: 4 per sliding minute, 20 per day.
func DefaultLimits() Limits {
	return Limits{PerMinute: 4, PerDay: 20}
}

// Decision is the outcome of a quota check. When Allowed is false,
// Status/Code/Message/RetryAfterSeconds describe the denial.
type Decision struct {
	Allowed           bool
	Status            int
	Code              string
	Message           string
	RetryAfterSeconds int
	MinuteRemaining   int
	DailyRemaining    int
}

// Gate evaluates quota policy against the ledger.
type Gate struct {
	ledger *ledger.Ledger
	limits Limits
}

// New creates a gate with the given limits.
func New(l *ledger.Ledger, limits Limits) *Gate {
	return &Gate{ledger: l, limits: limits}
}

// Check evaluates the policy for user at the given instant. It prunes
// the user's sliding window as a side effect but records nothing.
func (g *Gate) Check(user *store.User, now time.Time) Decision {
	if user == nil || user.ID == "" {
		return Decision{Status: 401, Message: "認証が必要です"}
	}
	var d Decision
	g.ledger.Tx(func(u *store.Usage) bool {
		d = g.evaluate(u, user, now)
		return false
	})
	return d
}

// CheckAndRecord evaluates the policy and, when allowed, records the
// attempt in the same critical section. Two concurrent requests cannot
// both take the last remaining slot.
func (g *Gate) CheckAndRecord(user *store.User, now time.Time) Decision {
	if user == nil || user.ID == "" {
		return Decision{Status: 401, Message: "認証が必要です"}
	}
	var d Decision
	g.ledger.Tx(func(u *store.Usage) bool {
		d = g.evaluate(u, user, now)
		if !d.Allowed {
			return false
		}
		ledger.ApplyGenerateAttempt(u, user.ID, now)
		return true
	})
	return d
}

func (g *Gate) evaluate(u *store.Usage, user *store.User, now time.Time) Decision {
	if user.IsAdmin {
		return Decision{
			Allowed:         true,
			MinuteRemaining: g.limits.PerMinute,
			DailyRemaining:  g.limits.PerDay,
		}
	}

	today := ledger.DateKey(now)
	var dailyCount int
	if uu, ok := u.ByUser[user.ID]; ok {
		if c, ok := uu.Daily[today]; ok {
			dailyCount = c.GenerateBriefing
		}
	}
	recent := ledger.RecentWindow(u, user.ID, now)

	if dailyCount >= g.limits.PerDay {
		return Decision{
			Status:            429,
			Code:              CodeDailyLimit,
			Message:           "本日の生成回数の上限に達しました。明日また利用してください。",
			RetryAfterSeconds: secondsUntil(now, nextUTCDay(now)),
			MinuteRemaining:   maxInt(0, g.limits.PerMinute-len(recent)),
			DailyRemaining:    0,
		}
	}

	if len(recent) >= g.limits.PerMinute {
		oldest := recent[0]
		return Decision{
			Status:            429,
			Code:              CodeMinuteLimit,
			Message:           "短時間に生成しすぎています。しばらく待ってから再試行してください。",
			RetryAfterSeconds: secondsUntil(now, oldest.Add(ledger.Window)),
			MinuteRemaining:   0,
			DailyRemaining:    maxInt(0, g.limits.PerDay-dailyCount),
		}
	}

	// Remaining counts reserve the slot this request is about to take.
	return Decision{
		Allowed:         true,
		MinuteRemaining: maxInt(0, g.limits.PerMinute-len(recent)-1),
		DailyRemaining:  maxInt(0, g.limits.PerDay-dailyCount-1),
	}
}

// nextUTCDay is the instant the current UTC day bucket resets.
func nextUTCDay(now time.Time) time.Time {
	u := now.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}

func secondsUntil(now, deadline time.Time) int {
	secs := int(math.Ceil(deadline.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
