package server

import (
	"math"
	"sort"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/briefcast/briefcast/internal/auth"
	"github.com/briefcast/briefcast/internal/ledger"
	"github.com/briefcast/briefcast/internal/observability"
	"github.com/briefcast/briefcast/internal/store"
)

const day = 24 * time.Hour

type seriesPoint struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

type apiSeriesPoint struct {
	Date     string `json:"date"`
	Generate int    `json:"generate"`
	Success  int    `json:"success"`
	Fail     int    `json:"fail"`
	Gemini   int    `json:"gemini"`
	TTS      int    `json:"tts"`
}

// dateKeysBack returns the last n UTC date keys ending today, oldest
// first.
func dateKeysBack(now time.Time, n int) []string {
	keys := make([]string, 0, n)
	for i := n - 1; i >= 0; i-- {
		keys = append(keys, ledger.DateKey(now.Add(-time.Duration(i)*day)))
	}
	return keys
}

func (s *Server) handleAdminOverview(c *fiber.Ctx) error {
	now := s.now()
	keys := dateKeysBack(now, 30)

	var payload fiber.Map
	s.store.View(func(st *store.State) {
		var active7, active30 int
		for _, u := range st.Users {
			if u.LastSeenAt == nil {
				continue
			}
			age := now.Sub(*u.LastSeenAt)
			if age <= 7*day {
				active7++
			}
			if age <= 30*day {
				active30++
			}
		}

		sumWindow := func(days int) int {
			var sum int
			for i := 0; i < days; i++ {
				key := ledger.DateKey(now.Add(-time.Duration(i) * day))
				if d, ok := st.Usage.Daily[key]; ok {
					sum += d.GenerateBriefing
				}
			}
			return sum
		}

		registrationsByDay := map[string]int{}
		for _, u := range st.Users {
			registrationsByDay[ledger.DateKey(u.CreatedAt)]++
		}

		usageSeries := make([]seriesPoint, 0, len(keys))
		geminiSeries := make([]seriesPoint, 0, len(keys))
		ttsSeries := make([]seriesPoint, 0, len(keys))
		registrationSeries := make([]seriesPoint, 0, len(keys))
		activeSeries := make([]seriesPoint, 0, len(keys))
		loginSeries := make([]seriesPoint, 0, len(keys))

		for _, key := range keys {
			var daily store.Counters
			if d, ok := st.Usage.Daily[key]; ok {
				daily = *d
			}
			usageSeries = append(usageSeries, seriesPoint{key, daily.GenerateBriefing})
			geminiSeries = append(geminiSeries, seriesPoint{key, daily.GeminiCalls})
			ttsSeries = append(ttsSeries, seriesPoint{key, daily.TTSCalls})
			registrationSeries = append(registrationSeries, seriesPoint{key, registrationsByDay[key]})

			var activeCount, loginCount int
			for _, ua := range st.Activity.ByUser {
				if ua.Active[key] {
					activeCount++
				}
				if ua.Login[key] {
					loginCount++
				}
			}
			activeSeries = append(activeSeries, seriesPoint{key, activeCount})
			loginSeries = append(loginSeries, seriesPoint{key, loginCount})
		}

		payload = fiber.Map{
			"totals": fiber.Map{
				"users":           len(st.Users),
				"active7":         active7,
				"active30":        active30,
				"apiCalls":        st.Usage.Totals.GenerateBriefing,
				"geminiCalls":     st.Usage.Totals.GeminiCalls,
				"geminiSuccess":   st.Usage.Totals.GeminiSuccess,
				"geminiFail":      st.Usage.Totals.GeminiFail,
				"ttsCalls":        st.Usage.Totals.TTSCalls,
				"ttsSuccess":      st.Usage.Totals.TTSSuccess,
				"ttsFail":         st.Usage.Totals.TTSFail,
				"generateSuccess": st.Usage.Totals.GenerateSuccess,
				"generateFail":    st.Usage.Totals.GenerateFail,
			},
			"windows": fiber.Map{
				"last24h": sumWindow(1),
				"last7d":  sumWindow(7),
				"last30d": sumWindow(30),
			},
			"series": fiber.Map{
				"usage":         usageSeries,
				"usageGemini":   geminiSeries,
				"usageTts":      ttsSeries,
				"registrations": registrationSeries,
				"active":        activeSeries,
				"active3d":      activeSeries[len(activeSeries)-3:],
				"login":         loginSeries,
			},
			"costEstimate": s.costEstimate(st.Usage, now),
		}
	})
	return c.JSON(payload)
}

func (s *Server) handleAdminCostEstimate(c *fiber.Ctx) error {
	var estimate fiber.Map
	s.ledger.View(func(u *store.Usage) {
		estimate = s.costEstimate(u, s.now())
	})
	return c.JSON(estimate)
}

// costEstimate projects upstream spend from call counts and the
// configured per-call token averages.
func (s *Server) costEstimate(u *store.Usage, now time.Time) fiber.Map {
	todayKey := ledger.DateKey(now)
	monthKey := todayKey[:7]

	var todayGemini, todayTTS int
	if d, ok := u.Daily[todayKey]; ok {
		todayGemini = d.GeminiCalls
		todayTTS = d.TTSCalls
	}
	var monthGemini, monthTTS int
	for key, d := range u.Daily {
		if len(key) >= 7 && key[:7] == monthKey {
			monthGemini += d.GeminiCalls
			monthTTS += d.TTSCalls
		}
	}

	cost := s.cfg.Cost
	calc := func(geminiCalls, ttsCalls int) fiber.Map {
		geminiTokens := float64(geminiCalls) * cost.GeminiAvgTokensPerCall
		ttsTokens := float64(ttsCalls) * cost.TTSAvgTokensPerCall
		geminiCost := geminiTokens / 1000 * cost.GeminiPricePer1k
		ttsCost := ttsTokens / 1000 * cost.TTSPricePer1k
		return fiber.Map{
			"geminiCalls":  geminiCalls,
			"ttsCalls":     ttsCalls,
			"geminiTokens": geminiTokens,
			"ttsTokens":    ttsTokens,
			"geminiCost":   toAmount(geminiCost),
			"ttsCost":      toAmount(ttsCost),
			"totalCost":    toAmount(geminiCost + ttsCost),
		}
	}

	return fiber.Map{
		"currency": cost.Currency,
		"assumptions": fiber.Map{
			"currency":               cost.Currency,
			"geminiAvgTokensPerCall": cost.GeminiAvgTokensPerCall,
			"geminiPricePer1kTokens": cost.GeminiPricePer1k,
			"ttsAvgTokensPerCall":    cost.TTSAvgTokensPerCall,
			"ttsPricePer1kTokens":    cost.TTSPricePer1k,
		},
		"today": calc(todayGemini, todayTTS),
		"month": calc(monthGemini, monthTTS),
	}
}

func toAmount(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

type adminUser struct {
	publicUser
	UsageTotal      int        `json:"usageTotal"`
	UsageLastCallAt *time.Time `json:"usageLastCallAt"`
}

func (s *Server) handleAdminUsers(c *fiber.Ctx) error {
	var users []adminUser
	s.store.View(func(st *store.State) {
		for _, u := range st.Users {
			entry := adminUser{publicUser: toPublicUser(u)}
			if uu, ok := st.Usage.ByUser[u.ID]; ok {
				entry.UsageTotal = uu.Total
				entry.UsageLastCallAt = uu.LastCallAt
			}
			users = append(users, entry)
		}
	})

	// Most recently seen first, never-seen accounts last.
	sort.SliceStable(users, func(i, j int) bool {
		a, b := users[i].LastSeenAt, users[j].LastSeenAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
	if users == nil {
		users = []adminUser{}
	}
	return c.JSON(fiber.Map{"users": users})
}

func (s *Server) handleAdminUserDetail(c *fiber.Ctx) error {
	userID := c.Params("id")
	now := s.now()
	keys := dateKeysBack(now, 30)

	var found bool
	var detail adminUser
	var activity fiber.Map
	apiSeries := make([]apiSeriesPoint, 0, len(keys))
	activeSeries := make([]seriesPoint, 0, len(keys))
	loginSeries := make([]seriesPoint, 0, len(keys))
	var records []*store.Briefing

	s.store.View(func(st *store.State) {
		var user *store.User
		for _, u := range st.Users {
			if u.ID == userID {
				user = u
				break
			}
		}
		if user == nil {
			return
		}
		found = true
		detail = adminUser{publicUser: toPublicUser(user)}

		uu := st.Usage.ByUser[userID]
		if uu != nil {
			detail.UsageTotal = uu.Total
			detail.UsageLastCallAt = uu.LastCallAt
		}
		ua := st.Activity.ByUser[userID]

		countFlags := func(flags map[string]bool, days int) int {
			var sum int
			for i := 0; i < days; i++ {
				if flags[ledger.DateKey(now.Add(-time.Duration(i)*day))] {
					sum++
				}
			}
			return sum
		}

		var activeFlags, loginFlags map[string]bool
		if ua != nil {
			activeFlags, loginFlags = ua.Active, ua.Login
		}
		activity = fiber.Map{
			"active7":  countFlags(activeFlags, 7),
			"active30": countFlags(activeFlags, 30),
			"login7":   countFlags(loginFlags, 7),
			"login30":  countFlags(loginFlags, 30),
		}

		for _, key := range keys {
			var daily store.Counters
			if uu != nil {
				if d, ok := uu.Daily[key]; ok {
					daily = *d
				}
			}
			apiSeries = append(apiSeries, apiSeriesPoint{
				Date:     key,
				Generate: daily.GenerateBriefing,
				Success:  daily.GenerateSuccess,
				Fail:     daily.GenerateFail,
				Gemini:   daily.GeminiCalls,
				TTS:      daily.TTSCalls,
			})
			activeSeries = append(activeSeries, seriesPoint{key, boolCount(activeFlags[key])})
			loginSeries = append(loginSeries, seriesPoint{key, boolCount(loginFlags[key])})
		}

		for _, b := range st.Briefings {
			if b.UserID == userID {
				copied := *b
				records = append(records, &copied)
			}
		}
	})
	if !found {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Not found"})
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	briefings := make([]apiBriefing, 0, len(records))
	for _, b := range records {
		briefings = append(briefings, s.toAPIBriefing(c, b))
	}

	return c.JSON(fiber.Map{
		"user":     detail,
		"activity": activity,
		"series": fiber.Map{
			"api":    apiSeries,
			"active": activeSeries,
			"login":  loginSeries,
		},
		"briefings": briefings,
	})
}

func boolCount(b bool) int {
	if b {
		return 1
	}
	return 0
}

type adminPatchRequest struct {
	IsAdmin       *bool   `json:"isAdmin"`
	IsDisabled    *bool   `json:"isDisabled"`
	ResetPassword *string `json:"resetPassword"`
}

func (s *Server) handleAdminUserPatch(c *fiber.Ctx) error {
	userID := c.Params("id")

	var req adminPatchRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	var salt, hash string
	if req.ResetPassword != nil {
		if len(*req.ResetPassword) < 6 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Password must be at least 6 characters"})
		}
		var err error
		salt, hash, err = auth.HashPassword(*req.ResetPassword)
		if err != nil {
			return err
		}
	}

	var updated *store.User
	var changed bool
	s.store.Update(func(st *store.State) {
		for _, u := range st.Users {
			if u.ID != userID {
				continue
			}
			if req.IsAdmin != nil {
				u.IsAdmin = *req.IsAdmin
				changed = true
			}
			if req.IsDisabled != nil {
				u.IsDisabled = *req.IsDisabled
				changed = true
			}
			if req.ResetPassword != nil {
				u.PasswordSalt = salt
				u.PasswordHash = hash
				changed = true
			}
			copied := *u
			updated = &copied
			return
		}
	})
	if updated == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Not found"})
	}
	if changed {
		s.store.Save(store.SaveFlags{Users: true})
		s.log.Info("admin updated user", "user", userID)
	}
	return c.JSON(fiber.Map{"user": toPublicUser(updated)})
}

func (s *Server) handleAdminUserDelete(c *fiber.Ctx) error {
	userID := c.Params("id")

	var removed *store.User
	var removedBriefings []*store.Briefing
	s.store.Update(func(st *store.State) {
		for i, u := range st.Users {
			if u.ID == userID {
				removed = u
				st.Users = append(st.Users[:i], st.Users[i+1:]...)
				break
			}
		}
		if removed == nil {
			return
		}
		kept := st.Briefings[:0]
		for _, b := range st.Briefings {
			if b.UserID == userID {
				removedBriefings = append(removedBriefings, b)
			} else {
				kept = append(kept, b)
			}
		}
		st.Briefings = kept
		delete(st.Usage.ByUser, userID)
		delete(st.Activity.ByUser, userID)
	})
	if removed == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Not found"})
	}
	s.store.Save(store.AllFlags())

	ctx := observability.DetachTraceContext(c.UserContext())
	for _, b := range removedBriefings {
		if b.AudioURL == "" {
			continue
		}
		if err := s.blobs.Delete(ctx, b.AudioURL); err != nil {
			s.log.Warn("audio blob delete failed", "briefing", b.ID, "error", err)
		}
	}
	s.log.Info("admin deleted user", "user", userID, "briefings", len(removedBriefings))
	return c.JSON(fiber.Map{"ok": true, "removed": toPublicUser(removed)})
}
