package middlewares

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/you/course-marketplace/pkg/auth"
	"github.com/you/course-marketplace/services/marketplace/internal/domain"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

const ctxAccount = "account"

type AccountLookup interface {
	ByID(ctx context.Context, id string) (*domain.Account, error)
}

// Guard resolves bearer tokens to stored accounts. The role claim inside the
// token is ignored; roles are read from the store on every request.
type Guard struct {
	tokens   *auth.Issuer
	accounts AccountLookup
}

func NewGuard(tokens *auth.Issuer, accounts AccountLookup) *Guard {
	return &Guard{tokens: tokens, accounts: accounts}
}

func (g *Guard) Resolve(ctx context.Context, header string) (*domain.Account, error) {
	if !strings.HasPrefix(header, "Bearer ") {
		return nil, ErrUnauthorized
	}
	claims, err := g.tokens.ParseValidate(strings.TrimPrefix(header, "Bearer "))
	if err != nil {
		return nil, ErrUnauthorized
	}
	acc, err := g.accounts.ByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	return acc, nil
}

// Authorize reports whether acc holds one of roles.
func (g *Guard) Authorize(acc *domain.Account, roles ...domain.Role) error {
	if acc == nil {
		return ErrUnauthorized
	}
	for _, r := range roles {
		if acc.Role == r {
			return nil
		}
	}
	return ErrForbidden
}

func (g *Guard) JWTAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		acc, err := g.Resolve(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			if errors.Is(err, ErrUnauthorized) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unauthorized"})
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": "internal error"})
			return
		}
		c.Set("sub", acc.ID)
		c.Set(ctxAccount, acc)
		c.Next()
	}
}

// RequireRole must run after JWTAuth.
func (g *Guard) RequireRole(roles ...domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch err := g.Authorize(Account(c), roles...); {
		case errors.Is(err, ErrUnauthorized):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unauthorized"})
			return
		case errors.Is(err, ErrForbidden):
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "error": "forbidden"})
			return
		}
		c.Next()
	}
}

// Account returns the account JWTAuth stored on the context, or nil.
func Account(c *gin.Context) *domain.Account {
	v, ok := c.Get(ctxAccount)
	if !ok {
		return nil
	}
	acc, _ := v.(*domain.Account)
	return acc
}
