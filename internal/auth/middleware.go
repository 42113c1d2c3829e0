package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lexdesk/portal-backend/internal/permissions"
	"github.com/lexdesk/portal-backend/pkg/apperr"
	"github.com/lexdesk/portal-backend/pkg/models"
)

/* ============================== JWT Claims ============================== */

// Claims represents the JWT payload we issue and expect.
type Claims struct {
	Sub  string `json:"sub"`  // user ID
	Role string `json:"role"` // role at issue time; the database is authoritative
	jwt.RegisteredClaims
}

/* ============================== JWT Helpers ============================= */

// Tokens issues and verifies HS256 access tokens.
type Tokens struct {
	secret []byte
	ttl    time.Duration
}

func NewTokens(secret string, ttl time.Duration) *Tokens {
	return &Tokens{secret: []byte(secret), ttl: ttl}
}

// Issue signs a JWT for the given user.
func (t *Tokens) Issue(userID uuid.UUID, role models.Role) (string, error) {
	now := time.Now()
	claims := &Claims{
		Sub:  userID.String(),
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Parse verifies signature and expiry and returns the claims.
func (t *Tokens) Parse(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(*jwt.Token) (any, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, apperr.Unauthenticated("Invalid or expired token")
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, apperr.Unauthenticated("Invalid token claims")
	}
	return claims, nil
}

/* ============================== Middleware ============================== */

// RequireAuth validates a Bearer JWT, loads the user and injects the actor
// into the context. Deactivated users are rejected even with a valid token.
func RequireAuth(db *gorm.DB, tokens *Tokens) fiber.Handler {
	return func(c *fiber.Ctx) error {
		h := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(h, "Bearer ") {
			return apperr.Unauthenticated("Missing bearer token")
		}
		claims, err := tokens.Parse(strings.TrimPrefix(h, "Bearer "))
		if err != nil {
			return err
		}
		id, err := uuid.Parse(claims.Sub)
		if err != nil {
			return apperr.Unauthenticated("Invalid token subject")
		}

		var u models.User
		if err := db.WithContext(c.UserContext()).Select("id", "role", "is_active").First(&u, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.Unauthenticated("User no longer exists")
			}
			return err
		}
		if !u.IsActive {
			return apperr.Forbidden("Account is inactive")
		}

		WithActor(c, permissions.Actor{ID: u.ID, Role: u.Role})
		return c.Next()
	}
}

// WithActor stores the actor in the request context.
func WithActor(c *fiber.Ctx, a permissions.Actor) {
	c.Locals(permissions.LocalsKey, a)
	c.Locals("userID", a.ID)
	c.Locals("role", a.Role)
}

// MustActor reads the authenticated actor from context or panics (programming error).
func MustActor(c *fiber.Ctx) permissions.Actor {
	if a, ok := permissions.ActorFrom(c); ok {
		return a
	}
	panic(errors.New("actor not in context"))
}

// MustUserID reads the authenticated user ID from context or panics.
func MustUserID(c *fiber.Ctx) uuid.UUID { return MustActor(c).ID }
