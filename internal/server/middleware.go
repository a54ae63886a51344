package server

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/briefcast/briefcast/internal/ledger"
	"github.com/briefcast/briefcast/internal/store"
)

const localUserKey = "briefcast.user"

// lastSeenRefresh throttles how often a request updates lastSeenAt.
const lastSeenRefresh = 60 * time.Second

// requireAuth resolves the bearer token to a user. Disabled accounts
// get a 403; everything else invalid gets a 401. The user's lastSeenAt
// and daily-active flag are refreshed as a side effect.
func (s *Server) requireAuth(c *fiber.Ctx) error {
	header := c.Get(fiber.HeaderAuthorization)
	token := ""
	if strings.HasPrefix(header, "Bearer ") {
		token = strings.TrimSpace(header[len("Bearer "):])
	}
	if token == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	userID, err := s.tokens.Verify(token)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	user, ok := s.findUser(userID)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}
	if user.IsDisabled {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Account disabled"})
	}

	now := s.now()
	if user.LastSeenAt == nil || now.Sub(*user.LastSeenAt) > lastSeenRefresh {
		s.store.Update(func(st *store.State) {
			for _, u := range st.Users {
				if u.ID == userID {
					t := now
					u.LastSeenAt = &t
					break
				}
			}
		})
		s.store.Save(store.SaveFlags{Users: true})
		t := now
		user.LastSeenAt = &t
	}
	s.markActivity(userID, false, now)

	c.Locals(localUserKey, &user)
	return c.Next()
}

// requireAdmin runs after requireAuth.
func (s *Server) requireAdmin(c *fiber.Ctx) error {
	user := currentUser(c)
	if user == nil || !user.IsAdmin {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}
	return c.Next()
}

// currentUser returns the authenticated user set by requireAuth. The
// value is a copy; mutations must go through the store.
func currentUser(c *fiber.Ctx) *store.User {
	user, _ := c.Locals(localUserKey).(*store.User)
	return user
}

// findUser copies the user out of the store so handlers never hold
// state pointers outside the lock.
func (s *Server) findUser(id string) (store.User, bool) {
	var user store.User
	var ok bool
	s.store.View(func(st *store.State) {
		for _, u := range st.Users {
			if u.ID == id {
				user = *u
				ok = true
				return
			}
		}
	})
	return user, ok
}

func (s *Server) findUserByEmail(email string) (store.User, bool) {
	var user store.User
	var ok bool
	s.store.View(func(st *store.State) {
		for _, u := range st.Users {
			if u.Email == email {
				user = *u
				ok = true
				return
			}
		}
	})
	return user, ok
}

// markActivity sets the user's daily flag for today. login selects the
// login map instead of the active map. Only a newly set flag flushes.
func (s *Server) markActivity(userID string, login bool, at time.Time) {
	key := ledger.DateKey(at)
	var changed bool
	s.store.Update(func(st *store.State) {
		ua := st.Activity.ForUser(userID)
		flags := ua.Active
		if login {
			flags = ua.Login
		}
		if !flags[key] {
			flags[key] = true
			changed = true
		}
	})
	if changed {
		s.store.Save(store.SaveFlags{Activity: true})
	}
}
