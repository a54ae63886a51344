package server

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/briefcast/briefcast/internal/briefing"
	"github.com/briefcast/briefcast/internal/ledger"
	"github.com/briefcast/briefcast/internal/observability"
	"github.com/briefcast/briefcast/internal/store"
)

// apiBriefing is the client-facing briefing shape. AudioURL is nulled
// when the blob behind it no longer exists.
type apiBriefing struct {
	ID        string    `json:"id"`
	Topics    []string  `json:"topics"`
	Voice     string    `json:"voice"`
	Duration  int       `json:"duration"`
	Script    string    `json:"script"`
	AudioURL  *string   `json:"audioUrl"`
	IsDemo    bool      `json:"isDemo"`
	Date      string    `json:"date"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s *Server) toAPIBriefing(c *fiber.Ctx, b *store.Briefing) apiBriefing {
	out := apiBriefing{
		ID:        b.ID,
		Topics:    b.Topics,
		Voice:     b.Voice,
		Duration:  b.Duration,
		Script:    b.Script,
		IsDemo:    b.IsDemo,
		Date:      b.Date,
		CreatedAt: b.CreatedAt,
	}
	if out.Topics == nil {
		out.Topics = []string{}
	}
	if b.AudioURL != "" {
		if ok, err := s.blobs.Exists(c.UserContext(), b.AudioURL); err == nil && ok {
			url := b.AudioURL
			out.AudioURL = &url
		}
	}
	return out
}

type saveBriefingRequest struct {
	ID        string   `json:"id"`
	Topics    []string `json:"topics"`
	Voice     string   `json:"voice"`
	Duration  int      `json:"duration"`
	Script    string   `json:"script"`
	AudioURL  string   `json:"audioUrl"`
	IsDemo    bool     `json:"isDemo"`
	Date      string   `json:"date"`
	CreatedAt int64    `json:"createdAt"`
}

// handleSaveBriefing upserts a briefing for the current user. Clients
// use it to re-save edited scripts; generation persists on its own.
func (s *Server) handleSaveBriefing(c *fiber.Ctx) error {
	user := currentUser(c)

	var req saveBriefingRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	id := req.ID
	if id == "" {
		id = briefing.NewBriefingID()
	}
	createdAt := s.now()
	if req.CreatedAt > 0 {
		createdAt = time.UnixMilli(req.CreatedAt)
	}
	voice := req.Voice
	if voice == "" {
		voice = "female"
	}
	duration := req.Duration
	if duration <= 0 {
		duration = 900
	}
	topics := req.Topics
	if topics == nil {
		topics = []string{}
	}
	date := req.Date
	if date == "" {
		date = ledger.DateKey(createdAt)
	}

	record := &store.Briefing{
		ID:        id,
		UserID:    user.ID,
		Topics:    topics,
		Voice:     voice,
		Duration:  duration,
		Script:    req.Script,
		AudioURL:  req.AudioURL,
		IsDemo:    req.IsDemo,
		Date:      date,
		CreatedAt: createdAt,
	}

	s.store.Update(func(st *store.State) {
		for i, b := range st.Briefings {
			if b.ID == id && b.UserID == user.ID {
				st.Briefings[i] = record
				return
			}
		}
		st.Briefings = append(st.Briefings, record)
	})
	s.store.Save(store.SaveFlags{Briefings: true})

	return c.JSON(fiber.Map{"ok": true, "id": id})
}

func (s *Server) handleListBriefings(c *fiber.Ctx) error {
	user := currentUser(c)

	var records []*store.Briefing
	s.store.View(func(st *store.State) {
		for _, b := range st.Briefings {
			if b.UserID == user.ID {
				copied := *b
				records = append(records, &copied)
			}
		}
	})
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	list := make([]apiBriefing, 0, len(records))
	for _, b := range records {
		list = append(list, s.toAPIBriefing(c, b))
	}
	return c.JSON(fiber.Map{"briefings": list})
}

func (s *Server) handleGetBriefing(c *fiber.Ctx) error {
	user := currentUser(c)
	id := c.Params("id")

	var record *store.Briefing
	s.store.View(func(st *store.State) {
		for _, b := range st.Briefings {
			if b.ID == id && b.UserID == user.ID {
				copied := *b
				record = &copied
				return
			}
		}
	})
	if record == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Not found"})
	}
	return c.JSON(fiber.Map{"briefing": s.toAPIBriefing(c, record)})
}

func (s *Server) handleDeleteBriefing(c *fiber.Ctx) error {
	user := currentUser(c)
	id := c.Params("id")

	var removed *store.Briefing
	s.store.Update(func(st *store.State) {
		for i, b := range st.Briefings {
			if b.ID == id && b.UserID == user.ID {
				removed = b
				st.Briefings = append(st.Briefings[:i], st.Briefings[i+1:]...)
				return
			}
		}
	})
	if removed == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Not found"})
	}
	s.store.Save(store.SaveFlags{Briefings: true})

	if removed.AudioURL != "" {
		// Blob cleanup must survive the client going away mid-request.
		ctx := observability.DetachTraceContext(c.UserContext())
		if err := s.blobs.Delete(ctx, removed.AudioURL); err != nil {
			s.log.Warn("audio blob delete failed", "briefing", id, "error", err)
		}
	}
	return c.JSON(fiber.Map{"ok": true})
}

var rangeRe = regexp.MustCompile(`^bytes=(\d*)-(\d*)$`)

// handleAudio streams a stored briefing as audio/mpeg with single-range
// support for seeking.
func (s *Server) handleAudio(c *fiber.Ctx) error {
	filename := c.Params("filename")
	if filename == "" || strings.ContainsAny(filename, "/\\") || strings.Contains(filename, "..") {
		return c.SendStatus(fiber.StatusNotFound)
	}

	size, err := s.blobs.Size(c.UserContext(), filename)
	if err != nil {
		return c.SendStatus(fiber.StatusNotFound)
	}

	start, end := int64(0), size-1
	status := fiber.StatusOK

	if rangeHeader := strings.TrimSpace(c.Get(fiber.HeaderRange)); rangeHeader != "" {
		m := rangeRe.FindStringSubmatch(rangeHeader)
		if m == nil {
			c.Set(fiber.HeaderContentRange, "bytes */"+strconv.FormatInt(size, 10))
			return c.SendStatus(fiber.StatusRequestedRangeNotSatisfiable)
		}
		if m[1] != "" {
			start, _ = strconv.ParseInt(m[1], 10, 64)
		}
		if m[2] != "" {
			end, _ = strconv.ParseInt(m[2], 10, 64)
		}
		if start > end || end >= size {
			c.Set(fiber.HeaderContentRange, "bytes */"+strconv.FormatInt(size, 10))
			return c.SendStatus(fiber.StatusRequestedRangeNotSatisfiable)
		}
		status = fiber.StatusPartialContent
		c.Set(fiber.HeaderContentRange, "bytes "+strconv.FormatInt(start, 10)+"-"+strconv.FormatInt(end, 10)+"/"+strconv.FormatInt(size, 10))
	}

	body, err := s.blobs.ReadRange(c.UserContext(), filename, start, end)
	if err != nil {
		return c.SendStatus(fiber.StatusNotFound)
	}

	c.Set(fiber.HeaderContentType, "audio/mpeg")
	c.Set(fiber.HeaderAcceptRanges, "bytes")
	c.Status(status)
	return c.SendStream(body, int(end-start+1))
}
