// Package store persists the application state: a local JSON snapshot
// is always written, and when a remote document store is configured the
// flagged sections are synced to it as well. All writes funnel through
// a single-consumer queue so snapshots never interleave.
package store

import (
	"context"
	"log/slog"
	"sync"
)

// SaveFlags marks which sections of the state changed. The local
// snapshot always covers everything; remote sync only touches the
// flagged sections.
type SaveFlags struct {
	Users     bool
	Briefings bool
	Usage     bool
	Activity  bool
}

// AllFlags marks every section dirty.
func AllFlags() SaveFlags {
	return SaveFlags{Users: true, Briefings: true, Usage: true, Activity: true}
}

func (f SaveFlags) any() bool {
	return f.Users || f.Briefings || f.Usage || f.Activity
}

func (f *SaveFlags) merge(o SaveFlags) {
	f.Users = f.Users || o.Users
	f.Briefings = f.Briefings || o.Briefings
	f.Usage = f.Usage || o.Usage
	f.Activity = f.Activity || o.Activity
}

// Remote syncs state sections to a document store. Implementations must
// tolerate repeated syncs of the same data.
type Remote interface {
	// Load fetches the full remote state. found is false when the
	// remote holds no data yet.
	Load(ctx context.Context) (state *State, found bool, err error)
	SyncUsers(ctx context.Context, users []*User, removedIDs []string) error
	SyncBriefings(ctx context.Context, briefings []*Briefing, removed []BriefingKey) error
	SyncUsage(ctx context.Context, usage *Usage) error
	SyncActivity(ctx context.Context, activity *Activity) error
}

// BriefingKey identifies a briefing item in the remote store.
type BriefingKey struct {
	UserID string
	ID     string
}

// Store owns the in-memory state and its persistence.
type Store struct {
	mu    sync.RWMutex
	state *State

	path   string
	remote Remote
	log    *slog.Logger

	pendingMu sync.Mutex
	pending   SaveFlags
	kick      chan struct{}

	// What the remote currently holds, used to issue deletes.
	knownUsers     map[string]struct{}
	knownBriefings map[BriefingKey]struct{}
}

// New creates a Store writing snapshots to path. remote may be nil for
// local-only persistence.
func New(path string, remote Remote, log *slog.Logger) *Store {
	return &Store{
		state:          Normalize(nil),
		path:           path,
		remote:         remote,
		log:            log,
		kick:           make(chan struct{}, 1),
		knownUsers:     map[string]struct{}{},
		knownBriefings: map[BriefingKey]struct{}{},
	}
}

// Load reads the local snapshot, then reconciles with the remote store:
// remote data wins when present, otherwise the local state is pushed
// up. Normalization runs exactly once here.
func (s *Store) Load(ctx context.Context) error {
	local, err := readSnapshot(s.path)
	if err != nil {
		return err
	}
	state := Normalize(local)

	if s.remote != nil {
		remoteState, found, err := s.remote.Load(ctx)
		if err != nil {
			s.log.Error("remote load failed, continuing with local snapshot", "error", err)
		} else if found {
			state = Normalize(remoteState)
			if err := writeSnapshot(s.path, state); err != nil {
				s.log.Error("snapshot write failed", "error", err)
			}
		} else {
			s.seedKnown(state)
			if err := s.syncRemote(ctx, state, AllFlags()); err != nil {
				s.log.Error("initial remote sync failed", "error", err)
			}
		}
	}

	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.seedKnown(state)
	return nil
}

func (s *Store) seedKnown(state *State) {
	s.knownUsers = map[string]struct{}{}
	for _, u := range state.Users {
		s.knownUsers[u.ID] = struct{}{}
	}
	s.knownBriefings = map[BriefingKey]struct{}{}
	for _, b := range state.Briefings {
		s.knownBriefings[BriefingKey{UserID: b.UserID, ID: b.ID}] = struct{}{}
	}
}

// View runs fn with read access to the state. fn must not mutate or
// retain anything it is handed.
func (s *Store) View(fn func(*State)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.state)
}

// Update runs fn with exclusive access to the state. The caller is
// responsible for following up with Save.
func (s *Store) Update(fn func(*State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.state)
}

// Save marks sections dirty and wakes the persistence worker. It never
// blocks; consecutive saves coalesce into one flush of the latest
// state.
func (s *Store) Save(flags SaveFlags) {
	if !flags.any() {
		return
	}
	s.pendingMu.Lock()
	s.pending.merge(flags)
	s.pendingMu.Unlock()
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Run processes queued saves until ctx is cancelled, then performs a
// final flush of anything still pending.
func (s *Store) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.Flush(context.Background())
			return
		case <-s.kick:
			s.Flush(ctx)
		}
	}
}

// Flush writes all pending sections synchronously.
func (s *Store) Flush(ctx context.Context) {
	s.pendingMu.Lock()
	flags := s.pending
	s.pending = SaveFlags{}
	s.pendingMu.Unlock()
	if !flags.any() {
		return
	}

	s.mu.RLock()
	state := s.state
	if err := writeSnapshot(s.path, state); err != nil {
		s.log.Error("snapshot write failed", "error", err)
	}
	s.mu.RUnlock()

	if s.remote == nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.syncRemote(ctx, s.state, flags); err != nil {
		s.log.Error("remote sync failed", "error", err)
	}
}

func (s *Store) syncRemote(ctx context.Context, state *State, flags SaveFlags) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if flags.Users {
		current := map[string]struct{}{}
		for _, u := range state.Users {
			current[u.ID] = struct{}{}
		}
		var removed []string
		for id := range s.knownUsers {
			if _, ok := current[id]; !ok {
				removed = append(removed, id)
			}
		}
		if err := s.remote.SyncUsers(ctx, state.Users, removed); err != nil {
			keep(err)
		} else {
			s.knownUsers = current
		}
	}
	if flags.Briefings {
		current := map[BriefingKey]struct{}{}
		for _, b := range state.Briefings {
			current[BriefingKey{UserID: b.UserID, ID: b.ID}] = struct{}{}
		}
		var removed []BriefingKey
		for key := range s.knownBriefings {
			if _, ok := current[key]; !ok {
				removed = append(removed, key)
			}
		}
		if err := s.remote.SyncBriefings(ctx, state.Briefings, removed); err != nil {
			keep(err)
		} else {
			s.knownBriefings = current
		}
	}
	if flags.Usage {
		keep(s.remote.SyncUsage(ctx, state.Usage))
	}
	if flags.Activity {
		keep(s.remote.SyncActivity(ctx, state.Activity))
	}
	return firstErr
}
