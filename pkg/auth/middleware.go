package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mahaj/chatcore/pkg/directory"
	clog "github.com/mahaj/chatcore/pkg/log"
	"github.com/mahaj/chatcore/pkg/model"
)

var ErrUnknownUser = errors.New("token does not resolve to a user")

type contextKey string

const UserKey contextKey = "user"

// UserResolver is the part of the directory needed to authenticate.
type UserResolver interface {
	Get(ctx context.Context, id string) (model.User, error)
}

// Authenticator turns a bearer token into a directory user.
type Authenticator struct {
	signer *Signer
	users  UserResolver
}

func NewAuthenticator(signer *Signer, users UserResolver) *Authenticator {
	return &Authenticator{signer: signer, users: users}
}

// Authenticate validates token and resolves its user. Errors wrapping
// ErrMissingToken, ErrInvalidToken or ErrUnknownUser are credential
// failures; anything else is a directory outage.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (model.User, error) {
	claims, err := a.signer.ValidateToken(token)
	if err != nil {
		return model.User{}, err
	}
	u, err := a.users.Get(ctx, claims.UserID)
	if errors.Is(err, directory.ErrUserNotFound) {
		return model.User{}, fmt.Errorf("%w: %s", ErrUnknownUser, claims.UserID)
	}
	if err != nil {
		return model.User{}, fmt.Errorf("resolve user %s: %w", claims.UserID, err)
	}
	return u, nil
}

// IsCredentialError reports whether err means the caller presented a bad credential.
func IsCredentialError(err error) bool {
	return errors.Is(err, ErrMissingToken) || errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrUnknownUser)
}

// Middleware rejects requests without a valid bearer token and stores the
// resolved user in the gin context.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		u, err := a.Authenticate(c.Request.Context(), TokenFromRequest(c.Request))
		if err != nil {
			if IsCredentialError(err) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": gin.H{"code": "AUTHENTICATION_FAILED", "message": "authentication failed"},
				})
				return
			}
			clog.Ctx(c.Request.Context()).Error().Err(err).Msg("authenticate request")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": gin.H{"code": "TRANSIENT", "message": "temporary failure, try again"},
			})
			return
		}
		c.Set(string(UserKey), u)
		c.Set(clog.FieldUserID, u.ID)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), UserKey, u))
		c.Next()
	}
}

// CurrentUser returns the user stored by Middleware.
func CurrentUser(c *gin.Context) (model.User, bool) {
	v, ok := c.Get(string(UserKey))
	if !ok {
		return model.User{}, false
	}
	u, ok := v.(model.User)
	return u, ok
}

// UserFromContext returns the user stored by Middleware in a request context.
func UserFromContext(ctx context.Context) (model.User, bool) {
	u, ok := ctx.Value(UserKey).(model.User)
	return u, ok
}
