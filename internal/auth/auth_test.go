package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	"github.com/KevinKickass/OpenCalibrationCore/internal/config"
)

// cheapHasher keeps argon2 fast in tests; the parameters travel in the hash.
func cheapHasher() *PasswordHasher {
	return &PasswordHasher{
		params:     argonParams{memory: 1024, iterations: 1, parallelism: 1, keyLength: 32},
		saltLength: 16,
	}
}

func newTestAuth(t *testing.T) (*AuthService, string) {
	t.Helper()
	hash, err := cheapHasher().HashPassword("secret")
	if err != nil {
		t.Fatal(err)
	}

	mt, err := GenerateMachineToken()
	if err != nil {
		t.Fatal(err)
	}

	cfg := config.AuthConfig{
		Enabled:                true,
		JWTSecretEnv:           "OCC_AUTH_TEST_SECRET",
		AccessTokenTTL:         time.Minute,
		MaxFailedLoginAttempts: 2,
		AccountLockDuration:    time.Hour,
		Users: []config.UserConfig{
			{Username: "tech", PasswordHash: hash, Role: "technician"},
		},
		MachineTokens: []config.MachineTokenConfig{
			{Name: "bench", TokenHash: mt.Hash, Permissions: []string{"operator"}},
		},
	}
	return NewAuthService(cfg, zaptest.NewLogger(t)), mt.Token
}

func TestPasswordRoundTrip(t *testing.T) {
	h := cheapHasher()
	hash, err := h.HashPassword("pw")
	if err != nil {
		t.Fatal(err)
	}
	if ok, err := h.VerifyPassword("pw", hash); err != nil || !ok {
		t.Errorf("verify = %v, %v", ok, err)
	}
	if ok, _ := h.VerifyPassword("other", hash); ok {
		t.Error("wrong password verified")
	}
	if _, err := h.VerifyPassword("pw", "garbage"); !errors.Is(err, ErrInvalidHash) {
		t.Errorf("malformed hash err = %v", err)
	}
	if _, err := h.VerifyPassword("pw", strings.Replace(hash, "v=19", "v=16", 1)); !errors.Is(err, ErrIncompatibleVersion) {
		t.Errorf("old version err = %v", err)
	}
}

func TestLoginAndValidate(t *testing.T) {
	a, _ := newTestAuth(t)
	ctx := context.Background()

	token, err := a.LoginUser(ctx, "tech", "secret", "127.0.0.1", "test")
	if err != nil {
		t.Fatalf("LoginUser: %v", err)
	}

	perms, err := a.ValidateToken(ctx, token, "127.0.0.1", "test")
	if err != nil {
		t.Fatal(err)
	}
	if len(perms) != 2 || perms[1] != PermTechnician {
		t.Errorf("permissions = %v", perms)
	}

	if _, err := a.LoginUser(ctx, "nobody", "secret", "", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user err = %v", err)
	}
}

func TestLoginLockout(t *testing.T) {
	a, _ := newTestAuth(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := a.LoginUser(ctx, "tech", "wrong", "", ""); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d err = %v", i, err)
		}
	}
	if _, err := a.LoginUser(ctx, "tech", "secret", "", ""); !errors.Is(err, ErrAccountLocked) {
		t.Errorf("locked account err = %v", err)
	}
}

func TestMachineToken(t *testing.T) {
	a, token := newTestAuth(t)
	ctx := context.Background()

	perms, err := a.ValidateMachineToken(ctx, token, "", "")
	if err != nil || len(perms) != 1 || perms[0] != PermOperator {
		t.Errorf("perms = %v, err = %v", perms, err)
	}

	other, _ := GenerateMachineToken()
	if _, err := a.ValidateMachineToken(ctx, other.Token, "", ""); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("unknown token err = %v", err)
	}
	if _, err := a.ValidateMachineToken(ctx, "occ_short", "", ""); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("short token err = %v", err)
	}
}

func TestMachineTokenFormat(t *testing.T) {
	mt, err := GenerateMachineToken()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(mt.Token, "occ_"+mt.ID.String()+"_") || !validMachineToken(mt.Token) {
		t.Errorf("token = %q", mt.Token)
	}
	if mt.Hash != HashMachineToken(mt.Token) || len(mt.Hash) != 64 {
		t.Errorf("hash = %q", mt.Hash)
	}

	for _, bad := range []string{
		"",
		"occ_",
		"xyz_" + mt.Token[4:],
		"occ_not-a-uuid_" + strings.Repeat("ab", 32),
		"occ_" + mt.ID.String() + "_" + strings.Repeat("zz", 32),
		"occ_" + mt.ID.String() + "_abcd",
	} {
		if validMachineToken(bad) {
			t.Errorf("validMachineToken(%q) = true", bad)
		}
	}
}

func TestRoleToPermissions(t *testing.T) {
	tests := []struct {
		role string
		want int
	}{
		{"admin", 3},
		{"technician", 2},
		{"operator", 1},
		{"", 1},
	}
	for _, tt := range tests {
		if got := RoleToPermissions(tt.role); len(got) != tt.want {
			t.Errorf("RoleToPermissions(%q) = %v", tt.role, got)
		}
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a, machine := newTestAuth(t)

	router := gin.New()
	router.Use(a.AuthMiddleware())
	router.GET("/read", RequirePermission(PermOperator), func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/admin", RequirePermission(PermAdmin), func(c *gin.Context) { c.Status(http.StatusOK) })

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"missing header", "/read", "", http.StatusUnauthorized},
		{"bad scheme", "/read", "Basic abc", http.StatusUnauthorized},
		{"bad token", "/read", "Bearer nope", http.StatusUnauthorized},
		{"machine token", "/read", "Bearer " + machine, http.StatusOK},
		{"insufficient", "/admin", "Bearer " + machine, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestMiddlewareDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a := NewAuthService(config.AuthConfig{Enabled: false}, nil)

	router := gin.New()
	router.Use(a.AuthMiddleware())
	router.GET("/admin", RequirePermission(PermAdmin), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin", nil))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
}

func TestAccessTokenClaims(t *testing.T) {
	j := NewJWTHandler("0123456789abcdef0123456789abcdef", time.Minute)
	u := &User{ID: uuid.NewSHA1(uuid.NameSpaceOID, []byte("tech")), Username: "tech", Role: "technician"}

	token, err := j.GenerateAccessToken(u)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := j.ValidateAccessToken(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Subject != u.ID.String() || claims.Username != "tech" || claims.Role != "technician" {
		t.Errorf("claims = %+v", claims)
	}

	other := NewJWTHandler("another-secret-another-secret-xx", time.Minute)
	if _, err := other.ValidateAccessToken(token); err == nil {
		t.Error("token signed with a different secret must fail")
	}

	expired := NewJWTHandler("0123456789abcdef0123456789abcdef", time.Minute)
	expired.accessTokenTTL = -time.Minute
	old, _ := expired.GenerateAccessToken(u)
	if _, err := j.ValidateAccessToken(old); err == nil {
		t.Error("expired token must fail")
	}
}
