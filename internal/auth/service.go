// Package auth validates bearer tokens issued by the external identity
// provider. Session issuance lives outside this service.
package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/nexuscloud/nexus/internal/config"
)

// Service verifies HS256 access tokens.
type Service struct {
	cfg     config.AuthConfig
	nowFunc func() time.Time
	parser  *jwt.Parser
}

// NewService creates a Service. When cfg.Issuer is set, tokens must carry a matching iss claim.
func NewService(cfg config.AuthConfig) *Service {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	return &Service{
		cfg:     cfg,
		nowFunc: time.Now,
		parser:  jwt.NewParser(opts...),
	}
}

// UserClaims describes the validated identity extracted from an access token.
// UserID is the opaque owner id used throughout the storage core.
type UserClaims struct {
	UserID    string
	Email     string
	IsAdmin   bool
	ExpiresAt time.Time
	IssuedAt  time.Time
}

// ValidateAccessToken verifies the token signature and extracts user claims.
func (s *Service) ValidateAccessToken(tokenString string) (UserClaims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return UserClaims{}, ErrUnauthorized
	}

	parsed, err := s.parser.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.cfg.AccessTokenSecret), nil
	})
	if err != nil || !parsed.Valid {
		return UserClaims{}, ErrUnauthorized
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return UserClaims{}, ErrUnauthorized
	}

	sub, ok := claims["sub"].(string)
	if !ok || strings.TrimSpace(sub) == "" {
		return UserClaims{}, ErrUnauthorized
	}

	email, _ := claims["email"].(string)
	isAdmin, _ := claims["is_admin"].(bool)

	expFloat, okExp := claims["exp"].(float64)
	if !okExp {
		return UserClaims{}, ErrUnauthorized
	}
	exp := time.Unix(int64(expFloat), 0)

	iat := time.Time{}
	if iatFloat, ok := claims["iat"].(float64); ok {
		iat = time.Unix(int64(iatFloat), 0)
	}

	if exp.Before(s.nowFunc()) {
		return UserClaims{}, ErrUnauthorized
	}

	return UserClaims{
		UserID:    sub,
		Email:     email,
		IsAdmin:   isAdmin,
		ExpiresAt: exp,
		IssuedAt:  iat,
	}, nil
}
