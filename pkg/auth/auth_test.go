package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/mahaj/chatcore/pkg/directory"
	"github.com/mahaj/chatcore/pkg/model"
)

func TestSigner_RoundTrip(t *testing.T) {
	s := NewSigner("secret", time.Hour)
	tok, err := s.GenerateToken("u1")
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	claims, err := s.ValidateToken(tok)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.UserID != "u1" {
		t.Errorf("UserID = %q, want u1", claims.UserID)
	}
}

func TestSigner_Rejects(t *testing.T) {
	s := NewSigner("secret", time.Hour)
	other := NewSigner("other", time.Hour)
	expired := NewSigner("secret", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	foreign, _ := other.GenerateToken("u1")
	old, _ := expired.GenerateToken("u1")
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: "u1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	noUser, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{}).SignedString([]byte("secret"))

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"missing", "", ErrMissingToken},
		{"malformed", "not-a-jwt", ErrInvalidToken},
		{"wrong key", foreign, ErrInvalidToken},
		{"expired", old, ErrInvalidToken},
		{"alg none", none, ErrInvalidToken},
		{"no user id", noUser, ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.ValidateToken(tt.token); !errors.Is(err, tt.want) {
				t.Errorf("ValidateToken() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		header string
		query  string
		want   string
	}{
		{"bearer header", "Bearer abc", "", "abc"},
		{"lowercase bearer", "bearer abc", "", "abc"},
		{"raw header", "abc", "", "abc"},
		{"query fallback", "", "xyz", "xyz"},
		{"header wins", "Bearer abc", "xyz", "abc"},
		{"nothing", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := "/ws"
			if tt.query != "" {
				url += "?token=" + tt.query
			}
			r := httptest.NewRequest(http.MethodGet, url, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if got := TokenFromRequest(r); got != tt.want {
				t.Errorf("TokenFromRequest() = %q, want %q", got, tt.want)
			}
		})
	}
}

type failingUsers struct{}

func (failingUsers) Get(context.Context, string) (model.User, error) {
	return model.User{}, errors.New("connection refused")
}

func TestAuthenticator(t *testing.T) {
	s := NewSigner("secret", time.Hour)
	users := directory.NewStatic(model.User{ID: "u1", Username: "alice"})
	a := NewAuthenticator(s, users)
	ctx := context.Background()

	good, _ := s.GenerateToken("u1")
	ghost, _ := s.GenerateToken("ghost")

	u, err := a.Authenticate(ctx, good)
	if err != nil || u.Username != "alice" {
		t.Fatalf("Authenticate(good) = %+v, %v", u, err)
	}
	if _, err := a.Authenticate(ctx, ghost); !errors.Is(err, ErrUnknownUser) || !IsCredentialError(err) {
		t.Errorf("Authenticate(ghost) error = %v, want ErrUnknownUser", err)
	}

	_, err = NewAuthenticator(s, failingUsers{}).Authenticate(ctx, good)
	if err == nil || IsCredentialError(err) {
		t.Errorf("directory outage error = %v, want non-credential error", err)
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := NewSigner("secret", time.Hour)
	a := NewAuthenticator(s, directory.NewStatic(model.User{ID: "u1", Username: "alice"}))

	r := gin.New()
	r.Use(a.Middleware())
	r.GET("/me", func(c *gin.Context) {
		u, ok := CurrentUser(c)
		if !ok {
			c.Status(http.StatusTeapot)
			return
		}
		if _, ok := UserFromContext(c.Request.Context()); !ok {
			c.Status(http.StatusTeapot)
			return
		}
		c.String(http.StatusOK, u.ID)
	})

	good, _ := s.GenerateToken("u1")
	tests := []struct {
		name string
		auth string
		want int
	}{
		{"valid", "Bearer " + good, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"garbage", "Bearer nope", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}
