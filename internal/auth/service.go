package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenCalibrationCore/internal/config"
)

type Permission string

const (
	PermOperator   Permission = "operator"
	PermTechnician Permission = "technician"
	PermAdmin      Permission = "admin"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")
	ErrInvalidToken       = errors.New("invalid token")
)

// User is a configured account. Accounts are static; only the failed
// login counter changes at runtime.
type User struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`

	failedAttempts int
	lockedUntil    time.Time
}

type machineToken struct {
	name        string
	permissions []Permission
}

type AuthService struct {
	enabled         bool
	jwtHandler      *JWTHandler
	passwordHasher  *PasswordHasher
	maxFailed       int
	lockDuration    time.Duration
	logger          *zap.Logger

	mu            sync.Mutex
	users         map[string]*User
	machineTokens map[string]machineToken
}

func NewAuthService(cfg config.AuthConfig, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &AuthService{
		enabled:         cfg.Enabled,
		jwtHandler:      NewJWTHandler(cfg.GetJWTSecret(), cfg.AccessTokenTTL),
		passwordHasher:  NewPasswordHasher(),
		maxFailed:       cfg.MaxFailedLoginAttempts,
		lockDuration:    cfg.AccountLockDuration,
		logger:          logger,
		users:           make(map[string]*User),
		machineTokens:   make(map[string]machineToken),
	}

	for _, u := range cfg.Users {
		a.users[u.Username] = &User{
			// Stabile ID pro Benutzername
			ID:           uuid.NewSHA1(uuid.NameSpaceOID, []byte(u.Username)),
			Username:     u.Username,
			PasswordHash: u.PasswordHash,
			Role:         u.Role,
		}
	}
	for _, t := range cfg.MachineTokens {
		perms := make([]Permission, len(t.Permissions))
		for i, p := range t.Permissions {
			perms[i] = Permission(p)
		}
		a.machineTokens[t.TokenHash] = machineToken{name: t.Name, permissions: perms}
	}

	if a.enabled && !cfg.IsProductionReady() {
		logger.Warn("JWT secret is not production ready", zap.String("env", cfg.JWTSecretEnv))
	}
	return a
}

// Enabled reports whether requests must carry a token.
func (a *AuthService) Enabled() bool {
	return a.enabled
}

// LoginUser authenticates a user and returns an access token
func (a *AuthService) LoginUser(ctx context.Context, username, password, ipAddress, userAgent string) (string, error) {
	a.mu.Lock()
	user, ok := a.users[username]
	if !ok {
		a.mu.Unlock()
		a.logAuthEvent("user_login_failed", username, ipAddress, userAgent, false, "user not found")
		return "", ErrInvalidCredentials
	}

	// Check if account is locked
	if time.Now().Before(user.lockedUntil) {
		until := user.lockedUntil
		a.mu.Unlock()
		return "", fmt.Errorf("%w until %v", ErrAccountLocked, until.Format(time.RFC3339))
	}
	hash := user.PasswordHash
	a.mu.Unlock()

	valid, err := a.passwordHasher.VerifyPassword(password, hash)
	if err != nil || !valid {
		a.incrementFailedLoginAttempts(user)
		a.logAuthEvent("user_login_failed", username, ipAddress, userAgent, false, "invalid password")
		return "", ErrInvalidCredentials
	}

	a.mu.Lock()
	user.failedAttempts = 0
	user.lockedUntil = time.Time{}
	a.mu.Unlock()

	accessToken, err := a.jwtHandler.GenerateAccessToken(user)
	if err != nil {
		return "", fmt.Errorf("failed to generate access token: %w", err)
	}

	a.logAuthEvent("user_login_success", username, ipAddress, userAgent, true, "")
	return accessToken, nil
}

func (a *AuthService) incrementFailedLoginAttempts(user *User) {
	a.mu.Lock()
	defer a.mu.Unlock()

	user.failedAttempts++
	if a.maxFailed > 0 && user.failedAttempts >= a.maxFailed {
		user.lockedUntil = time.Now().Add(a.lockDuration)
		user.failedAttempts = 0
	}
}

// ValidateMachineToken validates a machine token and returns permissions
func (a *AuthService) ValidateMachineToken(ctx context.Context, token, ipAddress, userAgent string) ([]Permission, error) {
	mt, err := a.lookupMachineToken(token, ipAddress, userAgent)
	if err != nil {
		return nil, err
	}
	return append([]Permission(nil), mt.permissions...), nil
}

func (a *AuthService) lookupMachineToken(token, ipAddress, userAgent string) (machineToken, error) {
	if !validMachineToken(token) {
		return machineToken{}, fmt.Errorf("%w: format", ErrInvalidToken)
	}

	a.mu.Lock()
	mt, ok := a.machineTokens[HashMachineToken(token)]
	a.mu.Unlock()
	if !ok {
		a.logAuthEvent("machine_token_failed", "", ipAddress, userAgent, false, "token not found")
		return machineToken{}, ErrInvalidToken
	}

	a.logAuthEvent("machine_token_success", mt.name, ipAddress, userAgent, true, "")
	return mt, nil
}

// ValidateToken validates any token (JWT or Machine Token)
func (a *AuthService) ValidateToken(ctx context.Context, token, ipAddress, userAgent string) ([]Permission, error) {
	if claims, err := a.jwtHandler.ValidateAccessToken(token); err == nil {
		return RoleToPermissions(claims.Role), nil
	}
	return a.ValidateMachineToken(ctx, token, ipAddress, userAgent)
}

func RoleToPermissions(role string) []Permission {
	switch role {
	case "admin":
		return []Permission{PermOperator, PermTechnician, PermAdmin}
	case "technician":
		return []Permission{PermOperator, PermTechnician}
	default:
		return []Permission{PermOperator}
	}
}

func (a *AuthService) logAuthEvent(eventType, subject, ip, userAgent string, success bool, reason string) {
	fields := []zap.Field{
		zap.String("event", eventType),
		zap.String("subject", subject),
		zap.String("ip", ip),
		zap.String("user_agent", userAgent),
	}
	if success {
		a.logger.Info("Auth event", fields...)
		return
	}
	a.logger.Warn("Auth event", append(fields, zap.String("reason", reason))...)
}
