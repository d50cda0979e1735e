package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/paper-repository-api/internal/models"
	"github.com/noah-isme/paper-repository-api/internal/repository"
	appErrors "github.com/noah-isme/paper-repository-api/pkg/errors"
)

type authUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	UpdateCredentials(ctx context.Context, id, passwordHash, fullName string) error
	MarkEmailVerified(ctx context.Context, id string) error
	PromoteAdmin(ctx context.Context, id, passwordHash string) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type otpStore interface {
	Save(ctx context.Context, email, code string, ttl time.Duration) error
	Verify(ctx context.Context, email, code string, maxAttempts int) error
}

type otpSender interface {
	SendOTP(ctx context.Context, to, name, code string, ttl time.Duration) error
}

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	AccessTokenSecret string
	AccessTokenExpiry time.Duration
	Issuer            string
	OTPTTL            time.Duration
	OTPMaxAttempts    int
}

// AuthService provides registration, verification and login use cases.
type AuthService struct {
	repo      authUserRepository
	otps      otpStore
	mail      otpSender
	validator *validator.Validate
	logger    *zap.Logger
	config    AuthConfig
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(repo authUserRepository, otps otpStore, mail otpSender, validate *validator.Validate, logger *zap.Logger, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if config.OTPTTL <= 0 {
		config.OTPTTL = 10 * time.Minute
	}
	return &AuthService{repo: repo, otps: otps, mail: mail, validator: validate, logger: logger, config: config}
}

// Register creates a pending, unverified account and mails a verification code.
// Registering again with an unverified e-mail replaces the credentials and
// issues a new code.
func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest) (*models.UserInfo, error) {
	req.Email = normalizeEmail(req.Email)
	req.FullName = strings.TrimSpace(req.FullName)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to hash password")
	}

	user, err := s.repo.FindByEmail(ctx, req.Email)
	switch {
	case err == nil && user.EmailVerified:
		return nil, appErrors.Clone(appErrors.ErrConflict, "email is already registered")
	case err == nil:
		if err := s.repo.UpdateCredentials(ctx, user.ID, string(hash), req.FullName); err != nil {
			return nil, appErrors.Internal(err, "failed to update registration")
		}
		user.FullName = req.FullName
	case errors.Is(err, sql.ErrNoRows):
		user = &models.User{
			Email:        req.Email,
			PasswordHash: string(hash),
			FullName:     req.FullName,
			Role:         models.RoleUser,
			Status:       models.UserStatusPending,
		}
		if err := s.repo.Create(ctx, user); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return nil, appErrors.Clone(appErrors.ErrConflict, "email is already registered")
			}
			return nil, appErrors.Internal(err, "failed to create user")
		}
	default:
		return nil, appErrors.Internal(err, "failed to fetch user")
	}

	if err := s.issueOTP(ctx, user); err != nil {
		return nil, err
	}
	info := models.NewUserInfo(user)
	return &info, nil
}

// VerifyOTP confirms the e-mail address. The account still needs administrator approval.
func (s *AuthService) VerifyOTP(ctx context.Context, req models.VerifyOTPRequest) (*models.UserInfo, error) {
	req.Email = normalizeEmail(req.Email)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid verification payload")
	}

	user, err := s.repo.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrInvalidOTP
		}
		return nil, appErrors.Internal(err, "failed to fetch user")
	}
	if user.EmailVerified {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email is already verified")
	}

	if err := s.otps.Verify(ctx, req.Email, req.Code, s.config.OTPMaxAttempts); err != nil {
		switch {
		case errors.Is(err, repository.ErrOTPAttemptsExceeded):
			return nil, appErrors.Clone(appErrors.ErrInvalidOTP, "too many attempts, request a new code")
		case errors.Is(err, repository.ErrOTPMismatch), errors.Is(err, repository.ErrOTPNotFound):
			return nil, appErrors.ErrInvalidOTP
		default:
			return nil, appErrors.Internal(err, "failed to verify code")
		}
	}

	if err := s.repo.MarkEmailVerified(ctx, user.ID); err != nil {
		return nil, appErrors.Internal(err, "failed to mark email verified")
	}
	user.EmailVerified = true
	info := models.NewUserInfo(user)
	return &info, nil
}

// ResendOTP mails a fresh code to an unverified account.
func (s *AuthService) ResendOTP(ctx context.Context, req models.ResendOTPRequest) error {
	req.Email = normalizeEmail(req.Email)
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid resend payload")
	}
	user, err := s.repo.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrUserNotFound
		}
		return appErrors.Internal(err, "failed to fetch user")
	}
	if user.EmailVerified {
		return appErrors.Clone(appErrors.ErrConflict, "email is already verified")
	}
	return s.issueOTP(ctx, user)
}

// Login authenticates a verified, approved user and returns an access token.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	req.Email = normalizeEmail(req.Email)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	user, err := s.repo.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrInvalidCredentials
		}
		return nil, appErrors.Internal(err, "failed to fetch user")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, appErrors.ErrInvalidCredentials
	}
	if !user.EmailVerified {
		return nil, appErrors.ErrEmailUnverified
	}
	switch user.Status {
	case models.UserStatusApproved:
	case models.UserStatusRejected:
		return nil, appErrors.ErrAccountRejected
	default:
		return nil, appErrors.ErrAccountPending
	}

	accessToken, issuedAt, err := s.generateAccessToken(user)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to create access token")
	}

	if err := s.repo.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &user.ID,
		Action:     models.AuditActionLogin,
		Resource:   "auth",
		ResourceID: &user.ID,
		NewValues:  []byte(`{"status":"success"}`),
		IPAddress:  req.IP,
		UserAgent:  req.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record login audit log", zap.Error(err))
	}

	return &models.LoginResponse{
		AccessToken: accessToken,
		ExpiresIn:   int64(s.config.AccessTokenExpiry.Seconds()),
		IssuedAt:    issuedAt,
		User:        models.NewUserInfo(user),
	}, nil
}

// Me returns the profile behind an authenticated token.
func (s *AuthService) Me(ctx context.Context, userID string) (*models.UserInfo, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrUserNotFound
		}
		return nil, appErrors.Internal(err, "failed to load user")
	}
	info := models.NewUserInfo(user)
	return &info, nil
}

// ValidateToken parses and validates an access token returning the claims.
func (s *AuthService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.AccessTokenSecret), nil
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}

	return claims, nil
}

// EnsureAdmin makes sure an approved, verified administrator exists for email.
// It is a no-op when email or password is empty.
func (s *AuthService) EnsureAdmin(ctx context.Context, email, password, fullName string) error {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	existing, err := s.repo.FindByEmail(ctx, email)
	switch {
	case err == nil:
		if err := s.repo.PromoteAdmin(ctx, existing.ID, string(hash)); err != nil {
			return fmt.Errorf("promote admin: %w", err)
		}
		s.logger.Info("administrator account ensured", zap.String("email", email))
		return nil
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("lookup admin: %w", err)
	}

	if strings.TrimSpace(fullName) == "" {
		fullName = "Administrator"
	}
	admin := &models.User{
		Email:         email,
		PasswordHash:  string(hash),
		FullName:      fullName,
		Role:          models.RoleAdmin,
		Status:        models.UserStatusApproved,
		EmailVerified: true,
	}
	if err := s.repo.Create(ctx, admin); err != nil {
		return fmt.Errorf("create admin: %w", err)
	}
	s.logger.Info("administrator account created", zap.String("email", email))
	return nil
}

func (s *AuthService) issueOTP(ctx context.Context, user *models.User) error {
	code, err := generateOTP()
	if err != nil {
		return appErrors.Internal(err, "failed to generate verification code")
	}
	if err := s.otps.Save(ctx, user.Email, code, s.config.OTPTTL); err != nil {
		return appErrors.Internal(err, "failed to store verification code")
	}
	if err := s.mail.SendOTP(ctx, user.Email, user.FullName, code, s.config.OTPTTL); err != nil {
		s.logger.Warn("failed to mail verification code", zap.String("email", user.Email), zap.Error(err))
		return err
	}
	return nil
}

func (s *AuthService) generateAccessToken(user *models.User) (string, time.Time, error) {
	issuedAt := time.Now().UTC()
	expiresAt := issuedAt.Add(s.config.AccessTokenExpiry)
	claims := &models.JWTClaims{
		UserID:   user.ID,
		Role:     user.Role,
		Email:    user.Email,
		FullName: user.FullName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.AccessTokenSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, issuedAt, nil
}

var otpModulus = big.NewInt(1000000)

func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, otpModulus)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
