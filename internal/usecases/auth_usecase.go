package usecases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"telegate/internal/entities"
	"telegate/internal/interfaces"
)

var (
	ErrDuplicateUser  = errors.New("username or email already registered")
	ErrBadCredentials = errors.New("incorrect email or password")
)

const tokenTTL = 24 * time.Hour

type AuthUsecase struct {
	users     interfaces.UserStore
	jwtSecret []byte
}

func NewAuthUsecase(users interfaces.UserStore, secret string) *AuthUsecase {
	return &AuthUsecase{
		users:     users,
		jwtSecret: []byte(secret),
	}
}

// Register creates the user and returns it together with a fresh bearer
// token.
func (uc *AuthUsecase) Register(ctx context.Context, username, email, password string) (*entities.User, string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", err
	}

	user := &entities.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hashed),
	}
	created, err := uc.users.Create(ctx, user)
	if err != nil {
		return nil, "", err
	}
	if created == nil {
		return nil, "", ErrDuplicateUser
	}

	token, err := uc.token(created)
	if err != nil {
		return nil, "", err
	}
	return created, token, nil
}

// Login authenticates by email (the login form's username field carries the
// email) and returns the user with a fresh token.
func (uc *AuthUsecase) Login(ctx context.Context, email, password string) (*entities.User, string, error) {
	user, err := uc.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, "", err
	}
	if user == nil || user.Disabled {
		return nil, "", ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, "", ErrBadCredentials
	}

	token, err := uc.token(user)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// User resolves the identity behind a verified token subject.
func (uc *AuthUsecase) User(ctx context.Context, id string) (*entities.User, error) {
	return uc.users.GetByID(ctx, id)
}

func (uc *AuthUsecase) token(user *entities.User) (string, error) {
	claims := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":      user.ID,
		"username": user.Username,
		"exp":      time.Now().Add(tokenTTL).Unix(),
	})
	token, err := claims.SignedString(uc.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}
