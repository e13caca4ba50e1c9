// Package middleware содержит HTTP middleware платёжного ядра витрины.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/mmeshcher/storefront-payments/internal/apperr"
	"github.com/mmeshcher/storefront-payments/internal/model"
)

type contextKey string

const identityKey contextKey = "identity"

const (
	authCookieName = "auth_token"
	authTokenTTL   = 30 * 24 * time.Hour
	bearerPrefix   = "Bearer "
)

type claims struct {
	model.Identity
	ExpiresAt int64 `json:"exp"`
}

// AuthMiddleware проверяет подписанный токен с утверждениями пользователя.
// Токен передаётся в cookie auth_token или в заголовке Authorization: Bearer.
type AuthMiddleware struct {
	secretKey []byte
	now       func() time.Time
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным секретным ключом.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &AuthMiddleware{
		secretKey: key,
		now:       time.Now,
	}
}

// Middleware пропускает только запросы с действительным токеном.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := a.identityFromRequest(r)
		if !ok {
			writeUnauthenticated(w)
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Optional добавляет пользователя в контекст, если токен действителен, и пропускает запрос в любом случае.
func (a *AuthMiddleware) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if identity, ok := a.identityFromRequest(r); ok {
			r = r.WithContext(context.WithValue(r.Context(), identityKey, identity))
		}
		next.ServeHTTP(w, r)
	})
}

// SetAuthCookie устанавливает cookie авторизации для указанного пользователя.
func (a *AuthMiddleware) SetAuthCookie(w http.ResponseWriter, identity model.Identity) {
	cookie := &http.Cookie{
		Name:     authCookieName,
		Value:    a.Sign(identity),
		Path:     "/",
		Expires:  a.now().Add(authTokenTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	http.SetCookie(w, cookie)
}

// Sign выпускает токен для пользователя.
func (a *AuthMiddleware) Sign(identity model.Identity) string {
	payload, _ := json.Marshal(claims{
		Identity:  identity,
		ExpiresAt: a.now().Add(authTokenTTL).Unix(),
	})
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + a.signature(encoded)
}

func (a *AuthMiddleware) signature(encoded string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(encoded))
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *AuthMiddleware) identityFromRequest(r *http.Request) (model.Identity, bool) {
	token := ""
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, bearerPrefix) {
		token = strings.TrimSpace(strings.TrimPrefix(h, bearerPrefix))
	} else if cookie, err := r.Cookie(authCookieName); err == nil {
		token = cookie.Value
	}
	if token == "" {
		return model.Identity{}, false
	}
	return a.parseToken(token)
}

func (a *AuthMiddleware) parseToken(token string) (model.Identity, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return model.Identity{}, false
	}

	if !hmac.Equal([]byte(parts[1]), []byte(a.signature(parts[0]))) {
		return model.Identity{}, false
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return model.Identity{}, false
	}

	var c claims
	if err := json.Unmarshal(payload, &c); err != nil {
		return model.Identity{}, false
	}
	if c.ExpiresAt != 0 && a.now().Unix() >= c.ExpiresAt {
		return model.Identity{}, false
	}
	if !c.Identity.Authenticated() {
		return model.Identity{}, false
	}

	return c.Identity, true
}

// IdentityFromContext извлекает пользователя из контекста запроса.
func IdentityFromContext(ctx context.Context) (model.Identity, bool) {
	identity, ok := ctx.Value(identityKey).(model.Identity)
	return identity, ok
}

func writeUnauthenticated(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"kind":    string(apperr.Unauthenticated),
			"message": "Authentication required.",
		},
	})
}
