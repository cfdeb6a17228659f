package services

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"strings"
	"time"

	"example.com/blocktix/config"
	"example.com/blocktix/internal/cache"
	"example.com/blocktix/internal/clock"
	"example.com/blocktix/internal/metrics"
	"example.com/blocktix/internal/models"
	"example.com/blocktix/internal/notify"
	"example.com/blocktix/internal/repositories"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

const (
	otpDigits        = 6
	defaultOTPTTL    = 10 * time.Minute
	defaultJWTTTL    = 7 * 24 * time.Hour
	defaultJWTSecret = "secret"
)

// TokenClaims are the claims carried by a session token
type TokenClaims struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

// SignupRequest registers a new account
type SignupRequest struct {
	Name     string
	Email    string
	Password string
}

// SignupResult is the new account and its session token
type SignupResult struct {
	Token string
	User  *models.User
}

// AuthService handles email verification codes and account tokens
type AuthService struct {
	otp      cache.OTPStore
	accounts repositories.AccountRepository
	notifier notify.Notifier
	cfg      config.AuthConfig
	metrics  *metrics.Metrics
	clock    clock.Clock
}

// NewAuthService creates a new auth service
func NewAuthService(
	otp cache.OTPStore,
	accounts repositories.AccountRepository,
	notifier notify.Notifier,
	cfg config.AuthConfig,
	m *metrics.Metrics,
	clk clock.Clock,
) *AuthService {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if notifier == nil {
		notifier = notify.Disabled{}
	}
	if m == nil {
		m = metrics.NewMetrics()
	}
	if cfg.OTPTTL <= 0 {
		cfg.OTPTTL = defaultOTPTTL
	}
	if cfg.JWTTTL <= 0 {
		cfg.JWTTTL = defaultJWTTTL
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = defaultJWTSecret
	}
	return &AuthService{otp: otp, accounts: accounts, notifier: notifier, cfg: cfg, metrics: m, clock: clk}
}

// OTPTTL is how long a sent code stays valid
func (s *AuthService) OTPTTL() time.Duration {
	return s.cfg.OTPTTL
}

// SendOTP stores a fresh code for email, replacing any earlier one, and mails it.
// The code is stored even when mail is not configured.
func (s *AuthService) SendOTP(ctx context.Context, email string) error {
	email = NormalizeParticipant(email)
	if email == "" {
		return Validation("Email required")
	}

	code, err := generateOTP()
	if err != nil {
		return err
	}

	entry := cache.OTPEntry{Code: code, ExpiresAt: s.clock.Now().Add(s.cfg.OTPTTL)}
	if err := s.otp.Put(ctx, email, entry); err != nil {
		return errors.Wrap(err, "failed to store otp")
	}

	if !s.notifier.Configured() {
		log.Warn().Msg("SMTP not configured, cannot deliver OTP")
		return Misconfigured("Email not configured on server")
	}
	if err := s.notifier.SendOTP(ctx, email, code, s.cfg.OTPTTL); err != nil {
		return errors.Wrap(err, "failed to send otp email")
	}

	s.metrics.IncrementCounter(metrics.OTPsSent)
	log.Info().Str("email", email).Msg("OTP sent")
	return nil
}

// VerifyOTP checks code against the pending entry for email and marks it verified
func (s *AuthService) VerifyOTP(ctx context.Context, email, code string) (err error) {
	defer func() { s.metrics.RecordOutcome(metrics.OpVerifyOTP, err) }()

	email = NormalizeParticipant(email)
	code = strings.TrimSpace(code)
	if email == "" || code == "" {
		return Validation("Email and code required")
	}

	entry, err := s.otp.Get(ctx, email)
	if errors.Is(err, cache.ErrCacheMiss) {
		return Validation("No OTP requested for this email")
	}
	if err != nil {
		return errors.Wrap(err, "failed to load otp")
	}
	if entry.Expired(s.clock.Now()) {
		return Validation("OTP expired")
	}
	if subtle.ConstantTimeCompare([]byte(code), []byte(entry.Code)) != 1 {
		return Validation("Invalid OTP")
	}

	if err := s.otp.MarkVerified(ctx, email); err != nil {
		return errors.Wrap(err, "failed to mark otp verified")
	}
	return nil
}

// Signup creates an account with a bcrypt password hash and issues a token
func (s *AuthService) Signup(ctx context.Context, req SignupRequest) (*SignupResult, error) {
	name := strings.TrimSpace(req.Name)
	email := NormalizeParticipant(req.Email)
	if name == "" || email == "" || req.Password == "" {
		return nil, Validation("Missing required fields")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.Wrap(err, "failed to hash password")
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    s.clock.Now(),
	}
	if err := s.accounts.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repositories.ErrDuplicateKey) {
			return nil, Validation("Email already registered")
		}
		return nil, errors.Wrap(err, "failed to create user")
	}

	token, err := s.IssueToken(user)
	if err != nil {
		return nil, err
	}

	log.Info().Str("user_id", user.ID).Msg("User created")
	return &SignupResult{Token: token, User: user}, nil
}

// IssueToken signs an HS256 session token for user
func (s *AuthService) IssueToken(user *models.User) (string, error) {
	now := s.clock.Now()
	claims := TokenClaims{
		UID:   user.ID,
		Email: user.Email,
		Name:  user.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWTTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", errors.Wrap(err, "failed to sign token")
	}
	return signed, nil
}

// ParseToken validates a session token and returns its claims
func (s *AuthService) ParseToken(token string) (*TokenClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, Unauthorized("No token provided")
	}

	claims := &TokenClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(s.cfg.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.clock.Now))
	if err != nil {
		log.Debug().Err(err).Msg("Token rejected")
		return nil, Unauthorized("Invalid token")
	}
	return claims, nil
}

func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", errors.Wrap(err, "failed to generate otp")
	}
	return fmt.Sprintf("%0*d", otpDigits, n.Int64()+100000), nil
}
