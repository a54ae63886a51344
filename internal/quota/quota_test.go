package quota

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/briefcast/briefcast/internal/ledger"
	"github.com/briefcast/briefcast/internal/store"
)

func newGate(t *testing.T, limits Limits) (*Gate, *ledger.Ledger) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	st := store.New(filepath.Join(t.TempDir(), "state.json"), nil, log)
	if err := st.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	l := ledger.New(st)
	return New(l, limits), l
}

func TestCheckRequiresUser(t *testing.T) {
	g, _ := newGate(t, DefaultLimits())
	for _, user := range []*store.User{nil, {}} {
		d := g.Check(user, time.Now())
		if d.Allowed || d.Status != 401 {
			t.Fatalf("missing user: got %+v, want 401 denial", d)
		}
	}
}

func TestAdminBypass(t *testing.T) {
	g, l := newGate(t, Limits{PerMinute: 1, PerDay: 1})
	admin := &store.User{ID: "admin-1", IsAdmin: true}
	now := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		d := g.Check(admin, now)
		if !d.Allowed {
			t.Fatalf("admin denied on call %d: %+v", i, d)
		}
		l.RecordGenerateAttempt(admin.ID, now)
	}
}

func TestMinuteWindow(t *testing.T) {
	g, l := newGate(t, DefaultLimits())
	user := &store.User{ID: "user-1"}
	base := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)

	// Four attempts close together fill the window.
	for i := 0; i < 4; i++ {
		at := base.Add(time.Duration(i) * time.Second)
		d := g.Check(user, at)
		if !d.Allowed {
			t.Fatalf("attempt %d denied: %+v", i, d)
		}
		l.RecordGenerateAttempt(user.ID, at)
	}

	d := g.Check(user, base.Add(10*time.Second))
	if d.Allowed || d.Code != CodeMinuteLimit || d.Status != 429 {
		t.Fatalf("fifth attempt: got %+v, want minute denial", d)
	}
	// Oldest entry was at base; it ages out at base+60s. From base+10s
	// that is 50 seconds away.
	if d.RetryAfterSeconds != 50 {
		t.Fatalf("retryAfter = %d, want 50", d.RetryAfterSeconds)
	}
	if d.MinuteRemaining != 0 {
		t.Fatalf("minuteRemaining = %d, want 0", d.MinuteRemaining)
	}
	if d.DailyRemaining != 16 {
		t.Fatalf("dailyRemaining = %d, want 16", d.DailyRemaining)
	}

	// Once the oldest entry leaves the window, generation reopens.
	d = g.Check(user, base.Add(61*time.Second))
	if !d.Allowed {
		t.Fatalf("after window: got %+v, want allowed", d)
	}
}

func TestDailyLimit(t *testing.T) {
	g, l := newGate(t, Limits{PerMinute: 100, PerDay: 3})
	user := &store.User{ID: "user-1"}
	base := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Hour)
		if d := g.Check(user, at); !d.Allowed {
			t.Fatalf("attempt %d denied: %+v", i, d)
		}
		l.RecordGenerateAttempt(user.ID, at)
	}

	now := base.Add(3 * time.Hour) // 13:00 UTC
	d := g.Check(user, now)
	if d.Allowed || d.Code != CodeDailyLimit {
		t.Fatalf("got %+v, want daily denial", d)
	}
	// Reset at the next UTC midnight: 11 hours away.
	if want := 11 * 3600; d.RetryAfterSeconds != want {
		t.Fatalf("retryAfter = %d, want %d", d.RetryAfterSeconds, want)
	}
	if d.DailyRemaining != 0 {
		t.Fatalf("dailyRemaining = %d, want 0", d.DailyRemaining)
	}

	// The day bucket is keyed by UTC date, so the next day reopens.
	nextDay := time.Date(2026, 8, 28, 0, 0, 1, 0, time.UTC)
	if d := g.Check(user, nextDay); !d.Allowed {
		t.Fatalf("next utc day: got %+v, want allowed", d)
	}
}

func TestDailyCheckedBeforeMinute(t *testing.T) {
	g, l := newGate(t, Limits{PerMinute: 2, PerDay: 2})
	user := &store.User{ID: "user-1"}
	base := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)

	l.RecordGenerateAttempt(user.ID, base)
	l.RecordGenerateAttempt(user.ID, base.Add(time.Second))

	// Both limits are exhausted; the daily code wins.
	d := g.Check(user, base.Add(2*time.Second))
	if d.Code != CodeDailyLimit {
		t.Fatalf("code = %s, want %s", d.Code, CodeDailyLimit)
	}
}

func TestRemainingReservesSlot(t *testing.T) {
	g, l := newGate(t, DefaultLimits())
	user := &store.User{ID: "user-1"}
	now := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)

	d := g.Check(user, now)
	if !d.Allowed {
		t.Fatalf("fresh user denied: %+v", d)
	}
	if d.MinuteRemaining != 3 || d.DailyRemaining != 19 {
		t.Fatalf("remaining = %d/%d, want 3/19", d.MinuteRemaining, d.DailyRemaining)
	}

	l.RecordGenerateAttempt(user.ID, now)
	d = g.Check(user, now.Add(time.Second))
	if d.MinuteRemaining != 2 || d.DailyRemaining != 18 {
		t.Fatalf("remaining = %d/%d, want 2/18", d.MinuteRemaining, d.DailyRemaining)
	}
}

func TestCheckAndRecordTakesSlot(t *testing.T) {
	g, l := newGate(t, Limits{PerMinute: 1, PerDay: 100})
	user := &store.User{ID: "user-1"}
	now := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)

	d := g.CheckAndRecord(user, now)
	if !d.Allowed || d.MinuteRemaining != 0 {
		t.Fatalf("first call: %+v", d)
	}
	// The slot is consumed in the same transaction.
	if d := g.CheckAndRecord(user, now.Add(time.Second)); d.Allowed {
		t.Fatalf("second call passed: %+v", d)
	}
	if times := l.RecentGenerateTimes(user.ID, now.Add(time.Second)); len(times) != 1 {
		t.Fatalf("recorded %d attempts, want 1", len(times))
	}
}

func TestCheckAndRecordCountsAdmins(t *testing.T) {
	g, l := newGate(t, Limits{PerMinute: 1, PerDay: 1})
	admin := &store.User{ID: "admin-1", IsAdmin: true}
	now := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if d := g.CheckAndRecord(admin, now); !d.Allowed {
			t.Fatalf("admin denied: %+v", d)
		}
	}
	// Admins bypass the limits but their usage still counts.
	if n := l.DailyGenerateCount(admin.ID, ledger.DateKey(now)); n != 3 {
		t.Fatalf("daily count = %d, want 3", n)
	}
}

func TestRetryAfterFloorsAtOne(t *testing.T) {
	g, l := newGate(t, Limits{PerMinute: 1, PerDay: 100})
	user := &store.User{ID: "user-1"}
	base := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)

	l.RecordGenerateAttempt(user.ID, base)
	d := g.Check(user, base.Add(ledger.Window-time.Millisecond))
	if d.Allowed {
		t.Fatalf("expected denial, got %+v", d)
	}
	if d.RetryAfterSeconds != 1 {
		t.Fatalf("retryAfter = %d, want 1", d.RetryAfterSeconds)
	}
}
