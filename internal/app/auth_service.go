package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"fiqh-rag/internal/model"
	"fiqh-rag/internal/pkg/jwtutil"
	"fiqh-rag/internal/pkg/logger"
)

type AuthService struct {
	users             UserStore
	revoker           TokenRevoker
	jwtSecret         string
	jwtExpiration     time.Duration
	refreshExpiration time.Duration
	log               logrus.FieldLogger
}

type RegisterInput struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
}

type LoginInput struct {
	Username string
	Password string
}

type AuthResult struct {
	Token        string
	RefreshToken string
	User         *model.User
}

func NewAuthService(
	users UserStore,
	revoker TokenRevoker,
	jwtSecret string,
	jwtExpiration, refreshExpiration time.Duration,
	log logrus.FieldLogger,
) *AuthService {
	return &AuthService{
		users:             users,
		revoker:           revoker,
		jwtSecret:         jwtSecret,
		jwtExpiration:     jwtExpiration,
		refreshExpiration: refreshExpiration,
		log:               logger.OrDiscard(log).WithField("component", "auth_service"),
	}
}

func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*AuthResult, error) {
	username := strings.TrimSpace(input.Username)
	email := strings.TrimSpace(strings.ToLower(input.Email))
	password := strings.TrimSpace(input.Password)

	if username == "" || email == "" || len(password) < 8 {
		return nil, ErrInvalidInput
	}

	existingByName, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if existingByName != nil {
		return nil, ErrUsernameExists
	}

	existingByEmail, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existingByEmail != nil {
		return nil, ErrEmailExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password failed: %w", err)
	}

	user := &model.User{
		Username:     username,
		Email:        email,
		FirstName:    strings.TrimSpace(input.FirstName),
		LastName:     strings.TrimSpace(input.LastName),
		Role:         model.RoleUser,
		PasswordHash: string(hash),
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	s.log.WithField("user_uid", user.UID).Info("user registered")
	return s.issue(user)
}

func (s *AuthService) Login(ctx context.Context, input LoginInput) (*AuthResult, error) {
	username := strings.TrimSpace(input.Username)
	password := strings.TrimSpace(input.Password)
	if username == "" || password == "" {
		return nil, ErrInvalidInput
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidCredential
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredential
	}
	return s.issue(user)
}

func (s *AuthService) issue(user *model.User) (*AuthResult, error) {
	token, err := jwtutil.GenerateToken(s.jwtSecret, s.jwtExpiration, user.UID, user.Username)
	if err != nil {
		return nil, err
	}
	refresh, err := jwtutil.GenerateRefreshToken(s.jwtSecret, s.refreshExpiration, user.UID, user.Username)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, RefreshToken: refresh, User: user}, nil
}

// Refresh trades a valid refresh token for a new access token. The user must
// still exist.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	claims, err := jwtutil.ParseRefreshToken(s.jwtSecret, refreshToken)
	if err != nil {
		return nil, ErrInvalidToken
	}
	revoked, err := s.IsRevoked(ctx, claims.JTI())
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrInvalidToken
	}

	user, err := s.users.GetByUID(ctx, claims.UserUID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidToken
	}

	token, err := jwtutil.GenerateToken(s.jwtSecret, s.jwtExpiration, user.UID, user.Username)
	if err != nil {
		return nil, err
	}
	s.log.WithField("user_uid", user.UID).Info("access token refreshed")
	return &AuthResult{Token: token, User: user}, nil
}

func (s *AuthService) GetUser(ctx context.Context, uid string) (*model.User, error) {
	if uid == "" {
		return nil, ErrInvalidInput
	}
	return s.users.GetByUID(ctx, uid)
}

// Logout revokes the token until it would have expired.
func (s *AuthService) Logout(ctx context.Context, claims *jwtutil.Claims) error {
	if claims == nil || claims.JTI() == "" {
		return ErrInvalidInput
	}
	if s.revoker == nil {
		return nil
	}
	if err := s.revoker.Revoke(ctx, claims.JTI(), claims.Remaining(time.Now())); err != nil {
		return err
	}
	s.log.WithField("user_uid", claims.UserUID).Info("token revoked")
	return nil
}

// IsRevoked reports whether jti was logged out.
func (s *AuthService) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if s.revoker == nil {
		return false, nil
	}
	return s.revoker.IsRevoked(ctx, jti)
}
