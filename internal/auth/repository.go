package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"
)

const uniqueViolationCode = "23505"

// ErrRefreshTokenMismatch reports that a conditional rotation matched no
// row: the presented token is no longer the stored one.
var ErrRefreshTokenMismatch = errors.New("stored refresh token mismatch")

// ErrDuplicateUser reports a username/email unique violation on insert.
var ErrDuplicateUser = errors.New("username or email already registered")

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const userColumns = `
	id, username, email, full_name, avatar_url, cover_image_url,
	password_hash, refresh_token, refresh_token_expires_at,
	created_at, updated_at`

func (r *Repository) GetByID(ctx context.Context, id string) (User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT`+userColumns+`
		FROM users
		WHERE id = $1
	`, id)

	return scanUser(row, "query user by id")
}

func (r *Repository) GetByUsernameOrEmail(ctx context.Context, username, email string) (User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT`+userColumns+`
		FROM users
		WHERE ($1 <> '' AND username = $1) OR ($2 <> '' AND email = $2)
		LIMIT 1
	`, username, email)

	return scanUser(row, "query user by username or email")
}

type CreateUserParams struct {
	Username      string
	Email         string
	FullName      string
	AvatarURL     string
	CoverImageURL string
	PlainPassword string
}

func (r *Repository) Create(ctx context.Context, params CreateUserParams) (User, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return User{}, fmt.Errorf("generate user id: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(params.PlainPassword), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO users (
			id, username, email, full_name, avatar_url, cover_image_url,
			password_hash, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		RETURNING`+userColumns+`
	`, id.String(), params.Username, params.Email, params.FullName,
		params.AvatarURL, params.CoverImageURL, string(hash), now)

	user, err := scanUser(row, "insert user")
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return User{}, ErrDuplicateUser
		}
		return User{}, err
	}

	return user, nil
}

// SetRefreshToken unconditionally replaces the stored refresh token.
// Login overwrites whatever was there; logout passes nil to clear, which
// makes repeated logouts a no-op.
func (r *Repository) SetRefreshToken(ctx context.Context, userID string, token *string, expiresAt *time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET refresh_token = $2, refresh_token_expires_at = $3, updated_at = $4
		WHERE id = $1
	`, userID, token, expiresAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set refresh token: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set refresh token rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	return nil
}

// RotateRefreshToken replaces the stored token only if it still equals
// the presented one. The single conditional UPDATE keeps two concurrent
// refresh calls from both succeeding on a stale read.
func (r *Repository) RotateRefreshToken(ctx context.Context, userID, presented, next string, expiresAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET refresh_token = $3, refresh_token_expires_at = $4, updated_at = $5
		WHERE id = $1 AND refresh_token = $2
	`, userID, presented, next, expiresAt.UTC(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("rotate refresh token: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rotate refresh token rows affected: %w", err)
	}
	if affected == 0 {
		return ErrRefreshTokenMismatch
	}

	return nil
}

func (r *Repository) UpdateAvatar(ctx context.Context, userID, avatarURL string) (User, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE users
		SET avatar_url = $2, updated_at = $3
		WHERE id = $1
		RETURNING`+userColumns+`
	`, userID, avatarURL, time.Now().UTC())

	return scanUser(row, "update avatar")
}

// ClearExpiredRefreshTokens nulls out stored tokens whose recorded expiry
// has passed. Driven by the maintenance endpoint; purely hygienic, since
// an expired token already fails verification.
func (r *Repository) ClearExpiredRefreshTokens(ctx context.Context, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT id
			FROM users
			WHERE refresh_token IS NOT NULL
			  AND refresh_token_expires_at < NOW()
			ORDER BY refresh_token_expires_at ASC
			LIMIT $1
		)
		UPDATE users u
		SET refresh_token = NULL, refresh_token_expires_at = NULL
		FROM stale
		WHERE u.id = stale.id
	`, batchSize)
	if err != nil {
		return 0, fmt.Errorf("clear expired refresh tokens: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired refresh tokens rows affected: %w", err)
	}

	return affected, nil
}

func scanUser(row *sql.Row, operation string) (User, error) {
	var user User
	var coverImage sql.NullString
	var refreshToken sql.NullString
	var refreshExpiresAt sql.NullTime

	err := row.Scan(
		&user.ID, &user.Username, &user.Email, &user.FullName,
		&user.AvatarURL, &coverImage,
		&user.PasswordHash, &refreshToken, &refreshExpiresAt,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, err
		}
		return User{}, fmt.Errorf("%s: %w", operation, err)
	}

	if coverImage.Valid {
		user.CoverImageURL = coverImage.String
	}
	if refreshToken.Valid {
		value := refreshToken.String
		user.RefreshToken = &value
	}
	if refreshExpiresAt.Valid {
		value := refreshExpiresAt.Time.UTC()
		user.RefreshTokenExpiresAt = &value
	}

	return user, nil
}
