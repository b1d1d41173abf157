package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"pinlite/internal/auth"
	"pinlite/internal/domain"
)

// AuthService реализует регистрацию и парную схему токенов: короткий
// access JWT плюс одноразовый refresh-токен с ротацией при обмене.
type AuthService struct {
	userRepo  UserRepository
	tokenRepo TokenRepository

	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewAuthService(userRepo UserRepository, tokenRepo TokenRepository, secret []byte, accessTTL, refreshTTL time.Duration) *AuthService {
	return &AuthService{
		userRepo:   userRepo,
		tokenRepo:  tokenRepo,
		secret:     secret,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

func (s *AuthService) Register(ctx context.Context, email, password string) (*domain.UserResponse, error) {
	existing, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		log.Printf("AuthService | action=register_failed reason=email_taken email=%s", email)
		return nil, fmt.Errorf("user with this email already exists: %w", domain.ErrConflict)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &domain.User{
		ID:             uuid.New(),
		Email:          email,
		HashedPassword: string(hashed),
		IsActive:       true,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}

	log.Printf("AuthService | action=register_success user_id=%s", user.ID)
	resp := user.ToResponse()
	return &resp, nil
}

func (s *AuthService) Login(ctx context.Context, email, password string) (*domain.Token, error) {
	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		log.Printf("AuthService | action=login_failed reason=unknown_email email=%s", email)
		return nil, fmt.Errorf("incorrect email or password: %w", domain.ErrAuth)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(password)); err != nil {
		log.Printf("AuthService | action=login_failed reason=bad_password user_id=%s", user.ID)
		return nil, fmt.Errorf("incorrect email or password: %w", domain.ErrAuth)
	}
	if !user.IsActive {
		log.Printf("AuthService | action=login_failed reason=inactive user_id=%s", user.ID)
		return nil, fmt.Errorf("inactive user: %w", domain.ErrAuth)
	}

	token, err := s.createTokens(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	log.Printf("AuthService | action=login_success user_id=%s", user.ID)
	return token, nil
}

// Refresh обменивает refresh-токен на новую пару. Старый токен
// уничтожается до выпуска нового: повторное предъявление — отказ.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*domain.Token, error) {
	stored, err := s.tokenRepo.GetByToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		log.Printf("AuthService | action=refresh_failed reason=unknown_token")
		return nil, fmt.Errorf("invalid refresh token: %w", domain.ErrAuth)
	}
	if time.Now().After(stored.ExpiresAt) {
		if err := s.tokenRepo.Delete(ctx, stored.Token); err != nil {
			return nil, err
		}
		log.Printf("AuthService | action=refresh_failed reason=expired user_id=%s", stored.UserID)
		return nil, fmt.Errorf("refresh token expired: %w", domain.ErrAuth)
	}

	if err := s.tokenRepo.Delete(ctx, stored.Token); err != nil {
		return nil, err
	}

	token, err := s.createTokens(ctx, stored.UserID)
	if err != nil {
		return nil, err
	}

	log.Printf("AuthService | action=refresh_success user_id=%s", stored.UserID)
	return token, nil
}

func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if err := s.tokenRepo.Delete(ctx, refreshToken); err != nil {
		return err
	}
	log.Printf("AuthService | action=logout_success")
	return nil
}

func (s *AuthService) GetUser(ctx context.Context, userID uuid.UUID) (*domain.UserResponse, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user %s: %w", userID, domain.ErrNotFound)
	}
	resp := user.ToResponse()
	return &resp, nil
}

func (s *AuthService) createTokens(ctx context.Context, userID uuid.UUID) (*domain.Token, error) {
	accessToken, err := auth.GenerateToken(userID.String(), s.secret, s.accessTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}
	refreshToken := base64.RawURLEncoding.EncodeToString(raw)

	if err := s.tokenRepo.Create(ctx, userID, refreshToken, time.Now().UTC().Add(s.refreshTTL)); err != nil {
		return nil, err
	}

	return &domain.Token{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
	}, nil
}
