package store

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNormalizeFillsEverything(t *testing.T) {
	tests := []struct {
		name string
		in   *State
	}{
		{"nil state", nil},
		{"empty state", &State{}},
		{"partial usage", &State{Usage: &Usage{ByUser: map[string]*UserUsage{
			"user-1": {},
		}}}},
		{"partial activity", &State{Activity: &Activity{ByUser: map[string]*UserActivity{
			"user-1": {},
		}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Normalize(tt.in)
			if s.Users == nil || s.Sessions == nil || s.Briefings == nil {
				t.Fatal("slices not normalized")
			}
			if s.Usage == nil || s.Usage.Daily == nil || s.Usage.ByUser == nil {
				t.Fatal("usage not normalized")
			}
			if s.Activity == nil || s.Activity.ByUser == nil {
				t.Fatal("activity not normalized")
			}
			for id, uu := range s.Usage.ByUser {
				if uu.Daily == nil || uu.RecentGenerateAt == nil {
					t.Fatalf("user usage %s not normalized", id)
				}
			}
			for id, ua := range s.Activity.ByUser {
				if ua.Active == nil || ua.Login == nil {
					t.Fatalf("user activity %s not normalized", id)
				}
			}
		})
	}
}

func TestUsageLazyBuckets(t *testing.T) {
	u := Normalize(nil).Usage
	uu := u.ForUser("user-1")
	uu.Day("2026-08-27").GenerateBriefing++
	u.Day("2026-08-27").GenerateBriefing++

	if got := u.ByUser["user-1"].Daily["2026-08-27"].GenerateBriefing; got != 1 {
		t.Fatalf("per-user daily = %d, want 1", got)
	}
	if got := u.Daily["2026-08-27"].GenerateBriefing; got != 1 {
		t.Fatalf("global daily = %d, want 1", got)
	}
	if same := u.ForUser("user-1"); same != uu {
		t.Fatal("ForUser should return the same record")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	now := time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC)

	s := New(path, nil, testLogger())
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("load empty: %v", err)
	}
	s.Update(func(st *State) {
		st.Users = append(st.Users, &User{ID: "user-1", Email: "a@example.com", CreatedAt: now})
		st.Briefings = append(st.Briefings, &Briefing{ID: "briefing-1", UserID: "user-1", Topics: []string{"headline"}, CreatedAt: now})
		st.Usage.Totals.GenerateBriefing = 3
	})
	s.Save(AllFlags())
	s.Flush(context.Background())

	reloaded := New(path, nil, testLogger())
	if err := reloaded.Load(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	reloaded.View(func(st *State) {
		if len(st.Users) != 1 || st.Users[0].ID != "user-1" {
			t.Fatalf("users not restored: %+v", st.Users)
		}
		if len(st.Briefings) != 1 || st.Briefings[0].Topics[0] != "headline" {
			t.Fatalf("briefings not restored: %+v", st.Briefings)
		}
		if st.Usage.Totals.GenerateBriefing != 3 {
			t.Fatalf("usage not restored: %+v", st.Usage.Totals)
		}
	})
}

func TestLoadMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "state.json")
	s := New(path, nil, testLogger())
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("load should tolerate a missing snapshot: %v", err)
	}
	s.View(func(st *State) {
		if st.Users == nil {
			t.Fatal("state not normalized after empty load")
		}
	})
}

type fakeRemote struct {
	state     *State
	found     bool
	loadErr   error
	users     [][]*User
	removed   [][]string
	briefings [][]*Briefing
	usage     []*Usage
	activity  []*Activity
	syncErr   error
}

func (f *fakeRemote) Load(ctx context.Context) (*State, bool, error) {
	return f.state, f.found, f.loadErr
}

func (f *fakeRemote) SyncUsers(ctx context.Context, users []*User, removedIDs []string) error {
	f.users = append(f.users, users)
	f.removed = append(f.removed, removedIDs)
	return f.syncErr
}

func (f *fakeRemote) SyncBriefings(ctx context.Context, briefings []*Briefing, removed []BriefingKey) error {
	f.briefings = append(f.briefings, briefings)
	return f.syncErr
}

func (f *fakeRemote) SyncUsage(ctx context.Context, usage *Usage) error {
	f.usage = append(f.usage, usage)
	return f.syncErr
}

func (f *fakeRemote) SyncActivity(ctx context.Context, activity *Activity) error {
	f.activity = append(f.activity, activity)
	return f.syncErr
}

func TestRemoteWinsOnLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	remote := &fakeRemote{
		state: &State{Users: []*User{{ID: "remote-user"}}},
		found: true,
	}
	s := New(path, remote, testLogger())
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	s.View(func(st *State) {
		if len(st.Users) != 1 || st.Users[0].ID != "remote-user" {
			t.Fatalf("remote state should win, got %+v", st.Users)
		}
	})
	// The remote copy is mirrored into the local snapshot.
	local, err := readSnapshot(path)
	if err != nil || local == nil {
		t.Fatalf("local mirror missing: %v", err)
	}
	if len(local.Users) != 1 || local.Users[0].ID != "remote-user" {
		t.Fatalf("local mirror wrong: %+v", local.Users)
	}
}

func TestEmptyRemoteGetsSeeded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	seed := &State{Users: []*User{{ID: "local-user"}}}
	if err := writeSnapshot(path, Normalize(seed)); err != nil {
		t.Fatal(err)
	}
	remote := &fakeRemote{found: false}
	s := New(path, remote, testLogger())
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(remote.users) == 0 || len(remote.users[0]) != 1 || remote.users[0][0].ID != "local-user" {
		t.Fatalf("local users not pushed to empty remote: %+v", remote.users)
	}
	if len(remote.usage) == 0 || len(remote.activity) == 0 {
		t.Fatal("meta docs not pushed to empty remote")
	}
}

func TestSyncDeletesRemovedRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	remote := &fakeRemote{
		state: &State{Users: []*User{{ID: "user-1"}, {ID: "user-2"}}},
		found: true,
	}
	s := New(path, remote, testLogger())
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	s.Update(func(st *State) {
		st.Users = st.Users[:1] // drop user-2
	})
	s.Save(SaveFlags{Users: true})
	s.Flush(context.Background())

	last := remote.removed[len(remote.removed)-1]
	if len(last) != 1 || last[0] != "user-2" {
		t.Fatalf("removed ids = %v, want [user-2]", last)
	}
}

func TestSaveCoalesces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	remote := &fakeRemote{found: true, state: &State{}}
	s := New(path, remote, testLogger())
	if err := s.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	s.Save(SaveFlags{Usage: true})
	s.Save(SaveFlags{Activity: true})
	s.Flush(context.Background())

	if len(remote.usage) != 1 || len(remote.activity) != 1 {
		t.Fatalf("expected one coalesced sync, got usage=%d activity=%d",
			len(remote.usage), len(remote.activity))
	}
}
