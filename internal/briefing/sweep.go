package briefing

import (
	"context"
	"log/slog"
	"time"

	"github.com/briefcast/briefcast/internal/storage"
	"github.com/briefcast/briefcast/internal/store"
)

// Sweeper deletes briefings past the retention window together with
// their audio blobs. It runs once at startup and then on an interval.
type Sweeper struct {
	store     *store.Store
	blobs     storage.Blob
	retention time.Duration
	interval  time.Duration
	log       *slog.Logger
	now       func() time.Time
}

// NewSweeper creates a sweeper with the given retention in days.
func NewSweeper(st *store.Store, blobs storage.Blob, retentionDays int, log *slog.Logger) *Sweeper {
	return &Sweeper{
		store:     st,
		blobs:     blobs,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		interval:  12 * time.Hour,
		log:       log,
		now:       time.Now,
	}
}

// Run sweeps immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	s.Sweep(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep removes expired briefings and returns how many were deleted.
// Blob deletion is best effort; a failed delete is logged and the
// record is still dropped.
func (s *Sweeper) Sweep(ctx context.Context) int {
	cutoff := s.now().Add(-s.retention)

	var expired []*store.Briefing
	s.store.Update(func(st *store.State) {
		kept := st.Briefings[:0]
		for _, b := range st.Briefings {
			if b.CreatedAt.Before(cutoff) {
				expired = append(expired, b)
			} else {
				kept = append(kept, b)
			}
		}
		st.Briefings = kept
	})
	if len(expired) == 0 {
		return 0
	}
	s.store.Save(store.SaveFlags{Briefings: true})

	for _, b := range expired {
		if b.AudioURL == "" {
			continue
		}
		if err := s.blobs.Delete(ctx, b.AudioURL); err != nil {
			s.log.WarnContext(ctx, "audio blob delete failed", "briefing", b.ID, "error", err)
		}
	}
	s.log.InfoContext(ctx, "retention sweep removed briefings", "count", len(expired))
	return len(expired)
}
