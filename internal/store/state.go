package store

import "time"

// Counters is one bucket of usage accounting. The same shape is used
// for global totals, per-day totals, and per-user per-day entries.
type Counters struct {
	GenerateBriefing int `json:"generateBriefing" dynamodbav:"generateBriefing"`
	GenerateSuccess  int `json:"generateSuccess" dynamodbav:"generateSuccess"`
	GenerateFail     int `json:"generateFail" dynamodbav:"generateFail"`
	GeminiCalls      int `json:"geminiCalls" dynamodbav:"geminiCalls"`
	GeminiSuccess    int `json:"geminiSuccess" dynamodbav:"geminiSuccess"`
	GeminiFail       int `json:"geminiFail" dynamodbav:"geminiFail"`
	TTSCalls         int `json:"ttsCalls" dynamodbav:"ttsCalls"`
	TTSSuccess       int `json:"ttsSuccess" dynamodbav:"ttsSuccess"`
	TTSFail          int `json:"ttsFail" dynamodbav:"ttsFail"`
}

// User is a registered account.
type User struct {
	ID           string     `json:"id" dynamodbav:"id"`
	Name         string     `json:"name" dynamodbav:"name"`
	Email        string     `json:"email" dynamodbav:"email"`
	PasswordSalt string     `json:"passwordSalt" dynamodbav:"passwordSalt"`
	PasswordHash string     `json:"passwordHash" dynamodbav:"passwordHash"`
	IsAdmin      bool       `json:"isAdmin" dynamodbav:"isAdmin"`
	IsDisabled   bool       `json:"isDisabled" dynamodbav:"isDisabled"`
	CreatedAt    time.Time  `json:"createdAt" dynamodbav:"createdAt"`
	LastLoginAt  *time.Time `json:"lastLoginAt" dynamodbav:"lastLoginAt"`
	LastSeenAt   *time.Time `json:"lastSeenAt" dynamodbav:"lastSeenAt"`
}

// Session is kept in the snapshot schema for compatibility with older
// data files. Auth tokens are stateless JWTs, so nothing writes here.
type Session struct {
	Token     string    `json:"token" dynamodbav:"token"`
	UserID    string    `json:"userId" dynamodbav:"userId"`
	CreatedAt time.Time `json:"createdAt" dynamodbav:"createdAt"`
}

// Briefing is one generated briefing owned by a user.
type Briefing struct {
	ID        string    `json:"id" dynamodbav:"id"`
	UserID    string    `json:"userId" dynamodbav:"userId"`
	Topics    []string  `json:"topics" dynamodbav:"topics"`
	Voice     string    `json:"voice" dynamodbav:"voice"`
	Duration  int       `json:"duration" dynamodbav:"duration"`
	Script    string    `json:"script" dynamodbav:"script"`
	AudioURL  string    `json:"audioUrl" dynamodbav:"audioUrl"`
	IsDemo    bool      `json:"isDemo" dynamodbav:"isDemo"`
	Date      string    `json:"date" dynamodbav:"date"`
	CreatedAt time.Time `json:"createdAt" dynamodbav:"createdAt"`
}

// UserUsage is the per-user slice of the ledger.
type UserUsage struct {
	Total            int                  `json:"total" dynamodbav:"total"`
	LastCallAt       *time.Time           `json:"lastCallAt" dynamodbav:"lastCallAt"`
	Daily            map[string]*Counters `json:"daily" dynamodbav:"daily"`
	RecentGenerateAt []time.Time          `json:"recentGenerateAt" dynamodbav:"recentGenerateAt"`
}

// Usage is the full usage ledger document.
type Usage struct {
	Totals Counters              `json:"totals" dynamodbav:"totals"`
	Daily  map[string]*Counters  `json:"daily" dynamodbav:"daily"`
	ByUser map[string]*UserUsage `json:"byUser" dynamodbav:"byUser"`
}

// Activity tracks daily active/login flags per user and date key.
type Activity struct {
	ByUser map[string]*UserActivity `json:"byUser" dynamodbav:"byUser"`
}

// UserActivity maps date keys to presence flags.
type UserActivity struct {
	Active map[string]bool `json:"active" dynamodbav:"active"`
	Login  map[string]bool `json:"login" dynamodbav:"login"`
}

// State is the whole persisted application state.
type State struct {
	Users     []*User     `json:"users"`
	Sessions  []*Session  `json:"sessions"`
	Briefings []*Briefing `json:"briefings"`
	Usage     *Usage      `json:"usage"`
	Activity  *Activity   `json:"activity"`
}

// Normalize fills every nil slice and map so the rest of the code can
// index without nil checks. It runs once at load; later code relies on
// the invariant instead of re-checking shapes ad hoc.
func Normalize(s *State) *State {
	if s == nil {
		s = &State{}
	}
	if s.Users == nil {
		s.Users = []*User{}
	}
	if s.Sessions == nil {
		s.Sessions = []*Session{}
	}
	if s.Briefings == nil {
		s.Briefings = []*Briefing{}
	}
	if s.Usage == nil {
		s.Usage = &Usage{}
	}
	if s.Usage.Daily == nil {
		s.Usage.Daily = map[string]*Counters{}
	}
	if s.Usage.ByUser == nil {
		s.Usage.ByUser = map[string]*UserUsage{}
	}
	for _, uu := range s.Usage.ByUser {
		normalizeUserUsage(uu)
	}
	if s.Activity == nil {
		s.Activity = &Activity{}
	}
	if s.Activity.ByUser == nil {
		s.Activity.ByUser = map[string]*UserActivity{}
	}
	for _, ua := range s.Activity.ByUser {
		if ua.Active == nil {
			ua.Active = map[string]bool{}
		}
		if ua.Login == nil {
			ua.Login = map[string]bool{}
		}
	}
	for _, b := range s.Briefings {
		if b.Topics == nil {
			b.Topics = []string{}
		}
	}
	return s
}

func normalizeUserUsage(uu *UserUsage) {
	if uu.Daily == nil {
		uu.Daily = map[string]*Counters{}
	}
	if uu.RecentGenerateAt == nil {
		uu.RecentGenerateAt = []time.Time{}
	}
}

// ForUser returns the per-user usage record, creating it on first use.
func (u *Usage) ForUser(id string) *UserUsage {
	uu, ok := u.ByUser[id]
	if !ok {
		uu = &UserUsage{
			Daily:            map[string]*Counters{},
			RecentGenerateAt: []time.Time{},
		}
		u.ByUser[id] = uu
	}
	return uu
}

// Day returns the global per-day bucket, creating it on first use.
func (u *Usage) Day(key string) *Counters {
	c, ok := u.Daily[key]
	if !ok {
		c = &Counters{}
		u.Daily[key] = c
	}
	return c
}

// Day returns the user's per-day bucket, creating it on first use.
func (uu *UserUsage) Day(key string) *Counters {
	c, ok := uu.Daily[key]
	if !ok {
		c = &Counters{}
		uu.Daily[key] = c
	}
	return c
}

// ForUser returns the per-user activity record, creating it on first use.
func (a *Activity) ForUser(id string) *UserActivity {
	ua, ok := a.ByUser[id]
	if !ok {
		ua = &UserActivity{Active: map[string]bool{}, Login: map[string]bool{}}
		a.ByUser[id] = ua
	}
	return ua
}
