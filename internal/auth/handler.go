package auth

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/getsentry/sentry-go"

	"vidstream-backend/pkg/apperrors"
)

const (
	maxJSONBodyBytes   = 1 << 20
	maxUploadSizeBytes = 10 << 20

	accessTokenCookie  = "accessToken"
	refreshTokenCookie = "refreshToken"
)

var usernameRegex = regexp.MustCompile(`^[a-z0-9_.-]{3,32}$`)

type Handler struct {
	service  *Service
	tokens   *TokenManager
	delivery TokenDelivery
}

func NewHandler(service *Service, tokens *TokenManager, delivery TokenDelivery) *Handler {
	return &Handler{service: service, tokens: tokens, delivery: delivery}
}

type loginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type sessionResponse struct {
	User User `json:"user"`
	Tokens
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSizeBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	username := strings.TrimSpace(strings.ToLower(r.FormValue("username")))
	if username != "" && !usernameRegex.MatchString(username) {
		writeError(w, http.StatusBadRequest, "username format is invalid")
		return
	}

	avatar, err := readImageField(r, "avatar")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	coverImage, err := readImageField(r, "coverImage")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.service.Register(r.Context(), RegisterInput{
		FullName:   r.FormValue("fullName"),
		Username:   username,
		Email:      r.FormValue("email"),
		Password:   r.FormValue("password"),
		Avatar:     avatar,
		CoverImage: coverImage,
	})
	if err != nil {
		writeAppError(w, err, "failed to register user")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"user": user})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body loginRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	user, tokens, err := h.service.Login(r.Context(), LoginInput{
		Username: body.Username,
		Email:    body.Email,
		Password: body.Password,
	})
	if err != nil {
		writeAppError(w, err, "failed to login")
		return
	}

	h.deliverTokens(w, http.StatusOK, user, tokens)
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	presented := ""
	if cookie, err := r.Cookie(refreshTokenCookie); err == nil {
		presented = strings.TrimSpace(cookie.Value)
	}
	if presented == "" {
		r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
		var body refreshRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		presented = strings.TrimSpace(body.RefreshToken)
	}

	tokens, err := h.service.Refresh(r.Context(), presented)
	if err != nil {
		writeAppError(w, err, "failed to refresh token")
		return
	}

	if h.delivery.Cookies {
		h.setTokenCookies(w, tokens)
	}
	if !h.delivery.Body {
		tokens.AccessToken = ""
		tokens.RefreshToken = ""
	}

	writeJSON(w, http.StatusOK, tokens)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing access token")
		return
	}

	if err := h.service.Logout(r.Context(), user.ID); err != nil {
		writeAppError(w, err, "failed to logout")
		return
	}

	h.clearTokenCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CurrentUser(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing access token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (h *Handler) UpdateAvatar(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing access token")
		return
	}

	if err := r.ParseMultipartForm(maxUploadSizeBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	avatar, err := readImageField(r, "avatar")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.service.UpdateAvatar(r.Context(), user.ID, avatar)
	if err != nil {
		writeAppError(w, err, "failed to update avatar")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"user": updated})
}

func (h *Handler) deliverTokens(w http.ResponseWriter, status int, user User, tokens Tokens) {
	if h.delivery.Cookies {
		h.setTokenCookies(w, tokens)
	}
	if !h.delivery.Body {
		tokens.AccessToken = ""
		tokens.RefreshToken = ""
	}

	writeJSON(w, status, sessionResponse{User: user, Tokens: tokens})
}

func (h *Handler) setTokenCookies(w http.ResponseWriter, tokens Tokens) {
	http.SetCookie(w, &http.Cookie{
		Name:     accessTokenCookie,
		Value:    tokens.AccessToken,
		Path:     "/",
		MaxAge:   int(h.tokens.AccessTTL().Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     refreshTokenCookie,
		Value:    tokens.RefreshToken,
		Path:     "/",
		MaxAge:   int(h.tokens.RefreshTTL().Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearTokenCookies(w http.ResponseWriter) {
	for _, name := range []string{accessTokenCookie, refreshTokenCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   true,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

// readImageField turns an uploaded file into a data-URI image source for
// the upload client. A missing file is not an error here; required-field
// checks belong to the service.
func readImageField(r *http.Request, field string) (string, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read %s file", field)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadSizeBytes+1))
	if err != nil {
		return "", fmt.Errorf("failed to read %s file", field)
	}
	if len(data) == 0 {
		return "", nil
	}
	if len(data) > maxUploadSizeBytes {
		return "", fmt.Errorf("%s file is too large", field)
	}

	contentType := strings.TrimSpace(header.Header.Get("Content-Type"))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(strings.ToLower(contentType), "image/") {
		return "", fmt.Errorf("%s must be an image", field)
	}

	return fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(data)), nil
}

func writeAppError(w http.ResponseWriter, err error, fallback string) {
	code := apperrors.CodeOf(err)
	status := httpStatus(code)
	if status >= http.StatusInternalServerError {
		sentry.CaptureException(err)
	}

	writeError(w, status, apperrors.MessageOf(err, fallback))
}

func httpStatus(code apperrors.Code) int {
	switch code {
	case apperrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case apperrors.CodeUnauthenticated:
		return http.StatusUnauthorized
	case apperrors.CodeNotFound:
		return http.StatusNotFound
	case apperrors.CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
