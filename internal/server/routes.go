package server

import (
	"strings"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"mines/internal/auth"
)

const claimsKey = "claims"

func (s *FiberServer) RegisterFiberRoutes() {
	s.App.Use(cors.New(cors.Config{
		AllowOrigins:     s.cfg.CORSOrigins,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Accept,Authorization,Content-Type",
		AllowCredentials: false, // credentials require explicit origins
		MaxAge:           300,
	}))

	s.App.Get("/health", s.healthHandler)

	api := s.App.Group("/api/v1", s.requireAuth)
	api.Get("/wallet/balance", s.balanceHandler)

	mines := api.Group("/mines")
	mines.Post("/start", s.startHandler)
	mines.Post("/reveal", s.revealHandler)
	mines.Post("/cashout", s.cashOutHandler)
	mines.Get("/active", s.activeHandler)
	mines.Get("/history", s.historyHandler)
	mines.Get("/multipliers", s.multipliersHandler)
	mines.Post("/verify", s.verifyHandler)

	admin := api.Group("/admin", s.requireAdmin)
	admin.Post("/accounts/:account/credit", s.creditHandler)

	s.App.Use("/ws", s.requireAuth, func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.App.Get("/ws", websocket.New(s.wsHandler))
}

// requireAuth accepts "Authorization: Bearer <jwt>" or a token query
// parameter, which browsers need for websocket upgrades.
func (s *FiberServer) requireAuth(c *fiber.Ctx) error {
	token := c.Query("token")
	if header := c.Get(fiber.HeaderAuthorization); header != "" {
		scheme, value, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return auth.ErrInvalidToken
		}
		token = strings.TrimSpace(value)
	}

	claims, err := s.signer.Parse(token)
	if err != nil {
		return err
	}
	c.Locals(claimsKey, claims)
	return c.Next()
}

func (s *FiberServer) requireAdmin(c *fiber.Ctx) error {
	if !claimsFrom(c).Admin {
		return writeError(c, fiber.StatusForbidden, "forbidden", "admin token required")
	}
	return c.Next()
}

func claimsFrom(c *fiber.Ctx) *auth.Claims {
	claims, _ := c.Locals(claimsKey).(*auth.Claims)
	if claims == nil {
		return &auth.Claims{}
	}
	return claims
}

func accountFrom(c *fiber.Ctx) string {
	return claimsFrom(c).Account()
}
