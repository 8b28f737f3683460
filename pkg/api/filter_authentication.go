package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Ayazzbek/kaspi--lab-project1/pkg/logger"

	"github.com/golang-jwt/jwt/v5"
)

const FilterTypeAuthentication = "AuthenticationFilter"

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid bearer token")
)

// Claims binds a token to the client it was issued for.
type Claims struct {
	jwt.RegisteredClaims
	ClientID string `json:"client_id"`
}

// GenerateToken issues an HS256 token for clientID.
func GenerateToken(clientID string, secret []byte, validity time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   clientID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
		},
		ClientID: clientID,
	})
	return token.SignedString(secret)
}

// ParseToken validates tokenString and returns the client id it carries.
func ParseToken(tokenString string, secret []byte) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return "", ErrInvalidToken
	}
	if claims.ClientID != "" {
		return claims.ClientID, nil
	}
	if claims.Subject != "" {
		return claims.Subject, nil
	}
	return "", fmt.Errorf("%w: no client in claims", ErrInvalidToken)
}

// AuthenticationFilter requires a valid bearer token on every API request
// and records its client as the request subject.
type AuthenticationFilter struct {
	secret []byte
}

func NewAuthenticationFilter(secret []byte) *AuthenticationFilter {
	return &AuthenticationFilter{secret: secret}
}

func (f *AuthenticationFilter) Run(d *Data) (Response, error) {
	if isPublicPath(d.Req.URL.Path) {
		return Next{}, nil
	}

	raw, ok := strings.CutPrefix(d.Req.Header.Get("Authorization"), "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		d.ResponseWriter.Header().Set("WWW-Authenticate", `Bearer realm="uploader"`)
		writeErrorBody(d.ResponseWriter, d, http.StatusUnauthorized, "UNAUTHORIZED", ErrMissingToken.Error())
		return End{}, nil
	}

	subject, err := ParseToken(strings.TrimSpace(raw), f.secret)
	if err != nil {
		logger.Ctx(d.Ctx).Debug().Err(err).Msg("rejected bearer token")
		d.ResponseWriter.Header().Set("WWW-Authenticate", `Bearer realm="uploader", error="invalid_token"`)
		writeErrorBody(d.ResponseWriter, d, http.StatusUnauthorized, "UNAUTHORIZED", ErrInvalidToken.Error())
		return End{}, nil
	}
	d.Subject = subject
	return Next{}, nil
}

func (f *AuthenticationFilter) Type() string {
	return FilterTypeAuthentication
}

func isPublicPath(path string) bool {
	return path == "/health" || path == basePath+"/health"
}
