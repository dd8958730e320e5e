package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/nexuscloud/nexus/internal/config"
)

const testSecret = "access-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func validClaims() jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"sub":      "u1",
		"email":    "user@example.com",
		"is_admin": true,
		"iat":      now.Unix(),
		"exp":      now.Add(time.Minute).Unix(),
	}
}

func TestValidateAccessToken(t *testing.T) {
	service := NewService(config.AuthConfig{AccessTokenSecret: testSecret})

	claims, err := service.ValidateAccessToken(signToken(t, testSecret, validClaims()))
	if err != nil {
		t.Fatalf("validate returned error: %v", err)
	}
	if claims.UserID != "u1" {
		t.Fatalf("expected owner u1, got %s", claims.UserID)
	}
	if !claims.IsAdmin || claims.Email != "user@example.com" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestValidateAccessTokenRejects(t *testing.T) {
	service := NewService(config.AuthConfig{AccessTokenSecret: testSecret, Issuer: "idp"})

	expired := validClaims()
	expired["iss"] = "idp"
	expired["exp"] = time.Now().Add(-time.Minute).Unix()

	wrongIssuer := validClaims()
	wrongIssuer["iss"] = "someone-else"

	noSubject := validClaims()
	noSubject["iss"] = "idp"
	delete(noSubject, "sub")

	goodClaims := validClaims()
	goodClaims["iss"] = "idp"

	cases := map[string]string{
		"empty":        "",
		"garbage":      "not-a-token",
		"wrong secret": signToken(t, "other-secret", goodClaims),
		"expired":      signToken(t, testSecret, expired),
		"wrong issuer": signToken(t, testSecret, wrongIssuer),
		"no subject":   signToken(t, testSecret, noSubject),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := service.ValidateAccessToken(token); err != ErrUnauthorized {
				t.Fatalf("expected ErrUnauthorized, got %v", err)
			}
		})
	}

	if _, err := service.ValidateAccessToken(signToken(t, testSecret, goodClaims)); err != nil {
		t.Fatalf("expected matching issuer to validate, got %v", err)
	}
}

func TestMiddlewareAndRequireAdmin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	service := NewService(config.AuthConfig{AccessTokenSecret: testSecret})

	r := gin.New()
	r.Use(AuthMiddleware(service))
	r.GET("/me", func(c *gin.Context) {
		owner, _, ok := RequireUser(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, owner)
	})
	r.GET("/admin", RequireAdmin(), func(c *gin.Context) { c.Status(http.StatusOK) })

	admin := signToken(t, testSecret, validClaims())
	userClaims := validClaims()
	userClaims["is_admin"] = false
	user := signToken(t, testSecret, userClaims)

	cases := []struct {
		path   string
		header string
		want   int
	}{
		{"/me", "", http.StatusUnauthorized},
		{"/me", "Basic abc", http.StatusUnauthorized},
		{"/me", "Bearer " + user, http.StatusOK},
		{"/admin", "Bearer " + user, http.StatusForbidden},
		{"/admin", "Bearer " + admin, http.StatusOK},
	}
	for _, tc := range cases {
		req, _ := http.NewRequest(http.MethodGet, tc.path, nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		if rr.Code != tc.want {
			t.Fatalf("%s with %q: expected %d, got %d", tc.path, tc.header, tc.want, rr.Code)
		}
	}
}
