package server

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mrcaron/Tfs2010QueryHistoryPerfExp/pkg/vcs"
)

const (
	tokenIssuer = "histbench"
	defaultTTL  = time.Hour
)

type ctxKey string

const ctxUserKey ctxKey = "auth_user"

// tokenAuth issues and verifies HS256 session tokens.
type tokenAuth struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func newTokenAuth() *tokenAuth {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		panic(fmt.Sprintf("generate token secret: %v", err))
	}
	return &tokenAuth{secret: secret, ttl: defaultTTL, now: time.Now}
}

func (a *tokenAuth) issue(user string) (string, time.Time, error) {
	now := a.now().UTC()
	exp := now.Add(a.ttl)
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   user,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func (a *tokenAuth) verify(raw string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(5*time.Second),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// checkCredentials validates a basic-auth pair against the configured users.
func (s *Server) checkCredentials(user, password string) bool {
	if strings.TrimSpace(user) == "" {
		return false
	}
	if len(s.users) == 0 {
		return true
	}
	want, ok := s.users[user]
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(password)) == 1
}

func bearerToken(h http.Header) string {
	v := strings.TrimSpace(h.Get("Authorization"))
	if len(v) < 7 || !strings.EqualFold(v[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(v[7:])
}

// authenticateHeader resolves the user behind a Bearer token.
func (s *Server) authenticateHeader(h http.Header) (string, error) {
	raw := bearerToken(h)
	if raw == "" {
		return "", errors.New("missing bearer token")
	}
	user, err := s.auth.verify(raw)
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	return user, nil
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := s.authenticateHeader(r.Header)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error(), vcs.CodeUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), ctxUserKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxUserKey).(string); ok {
		return v
	}
	return ""
}
