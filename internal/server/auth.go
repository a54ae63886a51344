package server

import (
	"regexp"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/oklog/ulid/v2"

	"github.com/briefcast/briefcast/internal/auth"
	"github.com/briefcast/briefcast/internal/store"
)

var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// publicUser is the account shape handed to clients. Password material
// never leaves the store.
type publicUser struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Email       string     `json:"email"`
	IsAdmin     bool       `json:"isAdmin"`
	IsDisabled  bool       `json:"isDisabled"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastLoginAt *time.Time `json:"lastLoginAt"`
	LastSeenAt  *time.Time `json:"lastSeenAt"`
}

func toPublicUser(u *store.User) publicUser {
	return publicUser{
		ID:          u.ID,
		Name:        u.Name,
		Email:       u.Email,
		IsAdmin:     u.IsAdmin,
		IsDisabled:  u.IsDisabled,
		CreatedAt:   u.CreatedAt,
		LastLoginAt: u.LastLoginAt,
		LastSeenAt:  u.LastSeenAt,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func newUserID() string {
	return "user-" + ulid.Make().String()
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	name := strings.TrimSpace(req.Name)
	email := normalizeEmail(req.Email)
	if name == "" || email == "" || req.Password == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "名前、メールアドレス、パスワードを入力してください。"})
	}
	if !emailRe.MatchString(email) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "正しいメールアドレスを入力してください。"})
	}
	if len(req.Password) < 6 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "パスワードは6文字以上で入力してください。"})
	}

	salt, hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return err
	}

	user := &store.User{
		ID:           newUserID(),
		Name:         name,
		Email:        email,
		PasswordSalt: salt,
		PasswordHash: hash,
		CreatedAt:    s.now(),
	}

	// Duplicate check and insert share the critical section so two
	// concurrent registrations cannot both claim the email.
	var duplicate bool
	s.store.Update(func(st *store.State) {
		for _, u := range st.Users {
			if u.Email == email {
				duplicate = true
				return
			}
		}
		st.Users = append(st.Users, user)
	})
	if duplicate {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "このメールアドレスは既に登録されています。"})
	}
	s.store.Save(store.SaveFlags{Users: true})

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return err
	}
	s.log.Info("user registered", "user", user.ID)
	return c.JSON(fiber.Map{"user": toPublicUser(user), "token": token})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	email := normalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "メールアドレスとパスワードを入力してください。"})
	}
	if !emailRe.MatchString(email) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "正しいメールアドレスを入力してください。"})
	}

	user, ok := s.findUserByEmail(email)
	if !ok || !auth.VerifyPassword(req.Password, user.PasswordSalt, user.PasswordHash) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "メールアドレスまたはパスワードが違います。"})
	}
	if user.IsDisabled {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Account disabled"})
	}

	now := s.now()
	s.store.Update(func(st *store.State) {
		for _, u := range st.Users {
			if u.ID == user.ID {
				t := now
				u.LastLoginAt = &t
				u.LastSeenAt = &t
				break
			}
		}
	})
	s.store.Save(store.SaveFlags{Users: true})
	s.markActivity(user.ID, true, now)

	t := now
	user.LastLoginAt = &t
	user.LastSeenAt = &t

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"user": toPublicUser(&user), "token": token})
}

func (s *Server) handleLogout(c *fiber.Ctx) error {
	// Tokens are stateless; the client discards its copy.
	return c.JSON(fiber.Map{"ok": true})
}

func (s *Server) handleMe(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"user": toPublicUser(currentUser(c))})
}
