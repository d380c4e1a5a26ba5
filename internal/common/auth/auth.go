// Package auth resolves the caller's Identity from an HS256 bearer token.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"what2eat/internal/domain"
)

type Claims struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
	jwt.RegisteredClaims
}

type ctxKey struct{}

type Verifier struct {
	secret        []byte
	defaultAvatar string
}

func NewVerifier(secret, defaultAvatar string) *Verifier {
	return &Verifier{secret: []byte(secret), defaultAvatar: defaultAvatar}
}

func (v *Verifier) Parse(token string) (domain.Identity, error) {
	claims := &Claims{}
	t, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	})
	if err != nil || !t.Valid {
		return domain.Identity{}, domain.ErrUnauthorized
	}
	if claims.Subject == "" {
		return domain.Identity{}, domain.ErrUnauthorized
	}
	id := domain.Identity{ID: claims.Subject, DisplayName: claims.Name, AvatarRef: claims.Avatar}
	if id.DisplayName == "" {
		id.DisplayName = id.ID
	}
	if id.AvatarRef == "" {
		id.AvatarRef = v.defaultAvatar
	}
	return id, nil
}

// Issue signs a token for id; used by tooling and tests.
func (v *Verifier) Issue(id domain.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Name:   id.DisplayName,
		Avatar: id.AvatarRef,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Middleware reads the token from the Authorization header or, for websocket
// upgrades that cannot set headers, from ?token=.
func (v *Verifier) Middleware(onErr func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := r.URL.Query().Get("token")
			if tok == "" {
				h := r.Header.Get("Authorization")
				if strings.HasPrefix(h, "Bearer ") {
					tok = strings.TrimPrefix(h, "Bearer ")
				}
			}
			if tok == "" {
				onErr(w, r, domain.ErrUnauthorized)
				return
			}
			id, err := v.Parse(tok)
			if err != nil {
				onErr(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func WithIdentity(ctx context.Context, id domain.Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func FromContext(ctx context.Context) (domain.Identity, error) {
	id, ok := ctx.Value(ctxKey{}).(domain.Identity)
	if !ok {
		return domain.Identity{}, errors.Join(domain.ErrUnauthorized, errors.New("no identity in context"))
	}
	return id, nil
}
