package server

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/briefcast/briefcast/internal/briefing"
)

type generateRequest struct {
	Topics   []string `json:"topics"`
	Voice    string   `json:"voice"`
	Duration int      `json:"duration"`
}

func (s *Server) handleGenerateBriefing(c *fiber.Ctx) error {
	user := currentUser(c)

	var req generateRequest
	if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if len(req.Topics) == 0 {
		req.Topics = []string{"headline"}
	}
	if req.Voice == "" {
		req.Voice = "female"
	}
	if req.Duration <= 0 {
		req.Duration = 900
	}

	resp, denied, err := s.orch.Generate(c.UserContext(), user, briefing.Request{
		Topics:   req.Topics,
		Voice:    req.Voice,
		Duration: req.Duration,
	})
	if denied != nil {
		if denied.RetryAfterSeconds > 0 {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(denied.RetryAfterSeconds))
		}
		return c.Status(denied.Status).JSON(fiber.Map{
			"error":             denied.Message,
			"code":              denied.Code,
			"retryAfterSeconds": denied.RetryAfterSeconds,
			"limits": fiber.Map{
				"perMinute":       s.cfg.GeneratePerMinute,
				"perDay":          s.cfg.GeneratePerDay,
				"minuteRemaining": denied.MinuteRemaining,
				"dailyRemaining":  denied.DailyRemaining,
			},
		})
	}
	if err != nil {
		var upstream *briefing.UpstreamError
		if errors.As(err, &upstream) {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error":   upstream.Message,
				"details": upstream.Details,
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(resp)
}
