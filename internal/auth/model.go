package auth

import "time"

// User is the identity record. PasswordHash and the stored refresh token
// never serialize into API responses.
type User struct {
	ID                    string     `json:"id"`
	Username              string     `json:"username"`
	Email                 string     `json:"email"`
	FullName              string     `json:"full_name"`
	AvatarURL             string     `json:"avatar_url"`
	CoverImageURL         string     `json:"cover_image_url,omitempty"`
	PasswordHash          string     `json:"-"`
	RefreshToken          *string    `json:"-"`
	RefreshTokenExpiresAt *time.Time `json:"-"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

type Tokens struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// TokenDelivery selects the channels that carry tokens back to the
// caller. Both are on by default; the split is explicit configuration
// rather than a hardcoded dual write.
type TokenDelivery struct {
	Cookies bool
	Body    bool
}

type RegisterInput struct {
	FullName string
	Username string
	Email    string
	Password string

	// Data-URI image sources built from the multipart upload.
	// Avatar is required, CoverImage optional.
	Avatar     string
	CoverImage string
}

type LoginInput struct {
	Username string
	Email    string
	Password string
}
