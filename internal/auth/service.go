package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"vidstream-backend/pkg/apperrors"
)

// Store is the persistence contract the service runs against. Writes are
// per-user single-row updates; RotateRefreshToken must be conditional on
// the presented value so concurrent refreshes cannot both win.
type Store interface {
	GetByID(ctx context.Context, id string) (User, error)
	GetByUsernameOrEmail(ctx context.Context, username, email string) (User, error)
	Create(ctx context.Context, params CreateUserParams) (User, error)
	SetRefreshToken(ctx context.Context, userID string, token *string, expiresAt *time.Time) error
	RotateRefreshToken(ctx context.Context, userID, presented, next string, expiresAt time.Time) error
	UpdateAvatar(ctx context.Context, userID, avatarURL string) (User, error)
}

type ImageUploader interface {
	UploadImage(ctx context.Context, imageSource string) (string, error)
}

type Service struct {
	store    Store
	tokens   *TokenManager
	uploader ImageUploader
}

func NewService(store Store, tokens *TokenManager, uploader ImageUploader) *Service {
	return &Service{store: store, tokens: tokens, uploader: uploader}
}

func (s *Service) Register(ctx context.Context, input RegisterInput) (User, error) {
	input.FullName = strings.TrimSpace(input.FullName)
	input.Username = strings.TrimSpace(strings.ToLower(input.Username))
	input.Email = strings.TrimSpace(strings.ToLower(input.Email))
	input.Password = strings.TrimSpace(input.Password)

	switch {
	case input.FullName == "":
		return User{}, apperrors.InvalidArgument("full name is required")
	case input.Username == "":
		return User{}, apperrors.InvalidArgument("username is required")
	case input.Email == "":
		return User{}, apperrors.InvalidArgument("email is required")
	case input.Password == "":
		return User{}, apperrors.InvalidArgument("password is required")
	case input.Avatar == "":
		return User{}, apperrors.InvalidArgument("avatar file is required")
	}

	_, err := s.store.GetByUsernameOrEmail(ctx, input.Username, input.Email)
	if err == nil {
		return User{}, apperrors.Conflict("user with email or username already exists")
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, apperrors.Wrap(apperrors.CodeInternal, "failed to register user", err)
	}

	avatarURL, err := s.uploader.UploadImage(ctx, input.Avatar)
	if err != nil {
		return User{}, apperrors.Wrap(apperrors.CodeInternal, "failed to upload avatar", err)
	}

	coverImageURL := ""
	if input.CoverImage != "" {
		coverImageURL, err = s.uploader.UploadImage(ctx, input.CoverImage)
		if err != nil {
			return User{}, apperrors.Wrap(apperrors.CodeInternal, "failed to upload cover image", err)
		}
	}

	user, err := s.store.Create(ctx, CreateUserParams{
		Username:      input.Username,
		Email:         input.Email,
		FullName:      input.FullName,
		AvatarURL:     avatarURL,
		CoverImageURL: coverImageURL,
		PlainPassword: input.Password,
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateUser) {
			return User{}, apperrors.Conflict("user with email or username already exists")
		}
		return User{}, apperrors.Wrap(apperrors.CodeInternal, "failed to register user", err)
	}

	return user, nil
}

// Login verifies credentials, issues a fresh token pair and persists the
// refresh token, replacing any prior one. A still-valid access token from
// an earlier session keeps working until its natural expiry.
func (s *Service) Login(ctx context.Context, input LoginInput) (User, Tokens, error) {
	input.Username = strings.TrimSpace(strings.ToLower(input.Username))
	input.Email = strings.TrimSpace(strings.ToLower(input.Email))
	input.Password = strings.TrimSpace(input.Password)

	if input.Username == "" && input.Email == "" {
		return User{}, Tokens{}, apperrors.InvalidArgument("username or email is required")
	}
	if input.Password == "" {
		return User{}, Tokens{}, apperrors.InvalidArgument("password is required")
	}

	user, err := s.store.GetByUsernameOrEmail(ctx, input.Username, input.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, Tokens{}, apperrors.NotFound("user not found")
		}
		return User{}, Tokens{}, apperrors.Wrap(apperrors.CodeInternal, "failed to login", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		return User{}, Tokens{}, apperrors.Unauthenticated("invalid user credentials")
	}

	tokens, user, err := s.issueAndPersist(ctx, user)
	if err != nil {
		return User{}, Tokens{}, err
	}

	return user, tokens, nil
}

// Logout clears the stored refresh token. Calling it twice is a no-op
// the second time.
func (s *Service) Logout(ctx context.Context, userID string) error {
	if err := s.store.SetRefreshToken(ctx, userID, nil, nil); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.NotFound("user not found")
		}
		return apperrors.Wrap(apperrors.CodeInternal, "failed to logout", err)
	}

	return nil
}

// Refresh validates a presented refresh token and rotates it. Acceptance
// requires both cryptographic validity and byte-for-byte equality with
// the stored value; a token reused after rotation fails and, by the same
// rule, burns the legitimate holder's copy too.
func (s *Service) Refresh(ctx context.Context, presented string) (Tokens, error) {
	presented = strings.TrimSpace(presented)
	if presented == "" {
		return Tokens{}, apperrors.Unauthenticated("refresh token is required")
	}

	claims, err := s.tokens.VerifyRefresh(presented)
	if err != nil {
		return Tokens{}, apperrors.Wrap(apperrors.CodeUnauthenticated,
			fmt.Sprintf("invalid refresh token: %v", err), err)
	}

	user, err := s.store.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Tokens{}, apperrors.Unauthenticated("invalid refresh token")
		}
		return Tokens{}, apperrors.Wrap(apperrors.CodeInternal, "failed to refresh token", err)
	}

	if user.RefreshToken == nil || *user.RefreshToken != presented {
		return Tokens{}, apperrors.Unauthenticated("refresh token expired or used")
	}

	tokens, expiresAt, err := s.tokens.Issue(user)
	if err != nil {
		return Tokens{}, apperrors.Wrap(apperrors.CodeInternal, "failed to refresh token", err)
	}

	if err := s.store.RotateRefreshToken(ctx, user.ID, presented, tokens.RefreshToken, expiresAt); err != nil {
		if errors.Is(err, ErrRefreshTokenMismatch) {
			return Tokens{}, apperrors.Unauthenticated("refresh token expired or used")
		}
		return Tokens{}, apperrors.Wrap(apperrors.CodeInternal, "failed to refresh token", err)
	}

	return tokens, nil
}

// Authenticate backs the access guard: verify the access token, load the
// user it names. Pure read, no writes.
func (s *Service) Authenticate(ctx context.Context, rawAccessToken string) (User, error) {
	rawAccessToken = strings.TrimSpace(rawAccessToken)
	if rawAccessToken == "" {
		return User{}, apperrors.Unauthenticated("missing access token")
	}

	claims, err := s.tokens.VerifyAccess(rawAccessToken)
	if err != nil {
		return User{}, apperrors.Wrap(apperrors.CodeUnauthenticated, "invalid access token", err)
	}

	user, err := s.store.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, apperrors.Unauthenticated("invalid access token")
		}
		return User{}, apperrors.Wrap(apperrors.CodeInternal, "failed to authenticate", err)
	}

	return user, nil
}

func (s *Service) UpdateAvatar(ctx context.Context, userID, imageSource string) (User, error) {
	if strings.TrimSpace(imageSource) == "" {
		return User{}, apperrors.InvalidArgument("avatar file is required")
	}

	avatarURL, err := s.uploader.UploadImage(ctx, imageSource)
	if err != nil {
		return User{}, apperrors.Wrap(apperrors.CodeInternal, "failed to upload avatar", err)
	}

	user, err := s.store.UpdateAvatar(ctx, userID, avatarURL)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, apperrors.NotFound("user not found")
		}
		return User{}, apperrors.Wrap(apperrors.CodeInternal, "failed to update avatar", err)
	}

	return user, nil
}

func (s *Service) issueAndPersist(ctx context.Context, user User) (Tokens, User, error) {
	tokens, expiresAt, err := s.tokens.Issue(user)
	if err != nil {
		return Tokens{}, User{}, apperrors.Wrap(apperrors.CodeInternal, "failed to issue tokens", err)
	}

	if err := s.store.SetRefreshToken(ctx, user.ID, &tokens.RefreshToken, &expiresAt); err != nil {
		return Tokens{}, User{}, apperrors.Wrap(apperrors.CodeInternal, "failed to persist refresh token", err)
	}

	user.RefreshToken = &tokens.RefreshToken
	user.RefreshTokenExpiresAt = &expiresAt

	return tokens, user, nil
}
