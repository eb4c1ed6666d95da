// Package identity resolves the calling user from bearer tokens.
package identity

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	AnonCookieName   = "coach_anon_id"
	DevTokenPrefix   = "dev-"
	anonCookieMaxAge = 30 * 24 * time.Hour
)

// ErrInvalidToken means a bearer token could not be verified.
var ErrInvalidToken = errors.New("invalid bearer token")

type contextKey int

const userIDKey contextKey = iota

var (
	anonIDPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)
	userIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:@-]{1,128}$`)
)

// Verifier resolves a bearer token to a user id.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// StaticVerifier accepts a fixed set of tokens.
type StaticVerifier struct {
	tokens map[string]string
}

// NewStaticVerifier creates a verifier from a token → user id map.
func NewStaticVerifier(tokens map[string]string) *StaticVerifier {
	copied := make(map[string]string, len(tokens))
	for k, v := range tokens {
		copied[k] = v
	}
	return &StaticVerifier{tokens: copied}
}

// Verify implements Verifier.
func (v *StaticVerifier) Verify(_ context.Context, token string) (string, error) {
	for known, userID := range v.tokens {
		if subtle.ConstantTimeCompare([]byte(known), []byte(token)) == 1 {
			return userID, nil
		}
	}
	return "", ErrInvalidToken
}

// DevVerifier accepts "dev-<user>" tokens and falls through to next for
// anything else. It must not be enabled in production.
type DevVerifier struct {
	next Verifier
}

// NewDevVerifier wraps next, which may be nil.
func NewDevVerifier(next Verifier) *DevVerifier {
	return &DevVerifier{next: next}
}

// Verify implements Verifier.
func (v *DevVerifier) Verify(ctx context.Context, token string) (string, error) {
	if userID, ok := strings.CutPrefix(token, DevTokenPrefix); ok && userIDPattern.MatchString(userID) {
		return userID, nil
	}
	if v.next != nil {
		return v.next.Verify(ctx, token)
	}
	return "", ErrInvalidToken
}

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// WithUserID returns a context carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func bearerToken(r *http.Request) (string, bool) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if h == "" {
		return "", false
	}
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", true
	}
	return strings.TrimSpace(token), true
}

func generateAnonID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

func isValidAnonID(id string) bool {
	return anonIDPattern.MatchString(id)
}

func getOrCreateAnonID(w http.ResponseWriter, r *http.Request, secure bool) (string, error) {
	var id string
	if c, err := r.Cookie(AnonCookieName); err == nil && isValidAnonID(c.Value) {
		id = c.Value
	} else {
		generated, genErr := generateAnonID()
		if genErr != nil {
			return "", genErr
		}
		id = generated
	}

	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(anonCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(anonCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   secure,
	})
	return id, nil
}

// Options configures Middleware.
type Options struct {
	// AllowAnonymous issues a per-device cookie identity to requests without
	// an Authorization header instead of rejecting them.
	AllowAnonymous bool
	// SecureCookie marks the anonymous cookie Secure.
	SecureCookie bool
}

// Middleware resolves the caller's user id and stores it in the request
// context. Requests that cannot be identified get 401.
func Middleware(v Verifier, opts Options) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var userID string
			token, present := bearerToken(r)
			switch {
			case present:
				if token == "" {
					unauthorized(w)
					return
				}
				id, err := v.Verify(r.Context(), token)
				if err != nil || id == "" {
					unauthorized(w)
					return
				}
				userID = id
			case opts.AllowAnonymous:
				id, err := getOrCreateAnonID(w, r, opts.SecureCookie)
				if err != nil {
					http.Error(w, `{"error":"failed to establish anonymous identity"}`, http.StatusInternalServerError)
					return
				}
				userID = id
			default:
				unauthorized(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="coach"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
