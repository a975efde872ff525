package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/Dan9191/bank-cards/internal/config"
	"github.com/Dan9191/bank-cards/internal/errs"
	"github.com/Dan9191/bank-cards/internal/models"
	"github.com/Dan9191/bank-cards/internal/repository"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const (
	accessToken  = "access"
	refreshToken = "refresh"
)

// tokenClaims is the payload of access and refresh tokens
type tokenClaims struct {
	Role models.Role `json:"role"`
	Type string      `json:"typ"`
	jwt.RegisteredClaims
}

// AuthService handles users, tokens and principal resolution
type AuthService struct {
	users  repository.UserStore
	log    *logrus.Logger
	config *config.Config
	now    func() time.Time
}

// NewAuthService initializes a new auth service
func NewAuthService(users repository.UserStore, log *logrus.Logger, cfg *config.Config) *AuthService {
	return &AuthService{users: users, log: log, config: cfg, now: time.Now}
}

// Register creates a new user with hashed password
func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest) (*models.AuthResponse, error) {
	if err := validateRegistration(req); err != nil {
		return nil, err
	}

	user, err := s.createUser(ctx, req, models.RoleUser)
	if err != nil {
		return nil, err
	}

	s.log.Infof("User registered: %s", user.Username)
	return s.issue(user)
}

func (s *AuthService) createUser(ctx context.Context, req models.RegisterRequest, role models.Role) (*models.User, error) {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Username:     strings.TrimSpace(req.Username),
		Email:        strings.TrimSpace(req.Email),
		PasswordHash: string(hashedPassword),
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Role:         role,
		Active:       true,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func validateRegistration(req models.RegisterRequest) error {
	username := strings.TrimSpace(req.Username)
	if len(username) < 3 || len(username) > 50 {
		return errs.Validation("Username must be between 3 and 50 characters")
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return errs.Validation("Email should be valid")
	}
	if len(req.Password) < 6 {
		return errs.Validation("Password must be at least 6 characters")
	}
	return nil
}

// EnsureAdmin creates the bootstrap admin account unless the username is taken
func (s *AuthService) EnsureAdmin(ctx context.Context, username, email, password string) error {
	if _, err := s.users.FindUserByUsername(ctx, username); err == nil {
		return nil
	} else if !errors.Is(err, errs.ErrNotFound) {
		return err
	}

	req := models.RegisterRequest{Username: username, Email: email, Password: password}
	if err := validateRegistration(req); err != nil {
		return err
	}
	if _, err := s.createUser(ctx, req, models.RoleAdmin); err != nil {
		return err
	}
	s.log.Infof("Admin user created: %s", username)
	return nil
}

// Login authenticates a user and returns a token pair
func (s *AuthService) Login(ctx context.Context, username, password string) (*models.AuthResponse, error) {
	user, err := s.users.FindUserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, errs.ErrNotFound) {
		return nil, errs.Authentication("Invalid username or password")
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, errs.Authentication("Invalid username or password")
	}
	if !user.Active {
		return nil, errs.Authentication("Account is deactivated")
	}

	s.log.Infof("User logged in: %s", user.Username)
	return s.issue(user)
}

// Refresh exchanges a valid refresh token for a new token pair
func (s *AuthService) Refresh(ctx context.Context, token string) (*models.AuthResponse, error) {
	user, err := s.userFromToken(ctx, token, refreshToken)
	if err != nil {
		return nil, errs.Authentication("Invalid refresh token")
	}
	return s.issue(user)
}

// ResolvePrincipal turns an access token into the acting principal
func (s *AuthService) ResolvePrincipal(ctx context.Context, token string) (models.Principal, error) {
	user, err := s.userFromToken(ctx, token, accessToken)
	if err != nil {
		return models.Principal{}, errs.Authentication("Invalid or expired token")
	}
	return models.Principal{ID: user.ID, Role: user.Role}, nil
}

func (s *AuthService) userFromToken(ctx context.Context, token, kind string) (*models.User, error) {
	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(s.config.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, err
	}
	if claims.Type != kind {
		return nil, fmt.Errorf("expected %s token, got %q", kind, claims.Type)
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid subject: %w", err)
	}
	user, err := s.users.FindUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return nil, fmt.Errorf("user %d is deactivated", id)
	}
	return user, nil
}

func (s *AuthService) issue(user *models.User) (*models.AuthResponse, error) {
	access, err := s.sign(user, accessToken, s.config.AccessTokenTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := s.sign(user, refreshToken, s.config.RefreshTokenTTL)
	if err != nil {
		return nil, err
	}
	return &models.AuthResponse{
		Token:        access,
		RefreshToken: refresh,
		Username:     user.Username,
		Role:         user.Role,
	}, nil
}

func (s *AuthService) sign(user *models.User, kind string, ttl time.Duration) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		Role: user.Role,
		Type: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("%d", user.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	tokenString, err := token.SignedString([]byte(s.config.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return tokenString, nil
}
