package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T, delivery TokenDelivery) (*Handler, *Service, *fakeStore, *TokenManager) {
	t.Helper()

	store := newFakeStore()
	tokens := NewTokenManager("access-secret", "refresh-secret")
	service := NewService(store, tokens, &fakeUploader{})

	return NewHandler(service, tokens, delivery), service, store, tokens
}

func loginAlice(t *testing.T, handler *Handler) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/users/login",
		strings.NewReader(`{"username":"alice","password":"correct-horse-battery"}`))
	rec := httptest.NewRecorder()
	handler.Login(rec, req)

	return rec
}

func cookieByName(t *testing.T, rec *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()

	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

func TestLoginHandler_SetsCookiesAndBody(t *testing.T) {
	handler, service, _, _ := newTestHandler(t, TokenDelivery{Cookies: true, Body: true})
	registerAlice(t, service)

	rec := loginAlice(t, handler)
	require.Equal(t, http.StatusOK, rec.Code)

	access := cookieByName(t, rec, accessTokenCookie)
	require.NotNil(t, access)
	require.True(t, access.HttpOnly)
	require.True(t, access.Secure)
	require.NotEmpty(t, access.Value)

	refresh := cookieByName(t, rec, refreshTokenCookie)
	require.NotNil(t, refresh)
	require.True(t, refresh.HttpOnly)
	require.NotEmpty(t, refresh.Value)

	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body, "user")
	require.Contains(t, body, "access_token")
	require.Contains(t, body, "refresh_token")

	// The identity in the body carries neither the password hash nor the
	// stored refresh token.
	userJSON := string(body["user"])
	require.NotContains(t, userJSON, "password")
	require.NotContains(t, userJSON, "refresh")
	require.Contains(t, userJSON, `"username":"alice"`)
}

func TestLoginHandler_WrongPasswordSetsNoCookies(t *testing.T) {
	handler, service, _, _ := newTestHandler(t, TokenDelivery{Cookies: true, Body: true})
	registerAlice(t, service)

	req := httptest.NewRequest(http.MethodPost, "/users/login",
		strings.NewReader(`{"username":"alice","password":"wrong"}`))
	rec := httptest.NewRecorder()
	handler.Login(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Empty(t, rec.Result().Cookies())
}

func TestLoginHandler_UnknownUser(t *testing.T) {
	handler, _, _, _ := newTestHandler(t, TokenDelivery{Cookies: true, Body: true})

	req := httptest.NewRequest(http.MethodPost, "/users/login",
		strings.NewReader(`{"username":"alice","password":"correct-horse-battery"}`))
	rec := httptest.NewRecorder()
	handler.Login(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLoginHandler_MissingIdentifier(t *testing.T) {
	handler, _, _, _ := newTestHandler(t, TokenDelivery{Cookies: true, Body: true})

	req := httptest.NewRequest(http.MethodPost, "/users/login",
		strings.NewReader(`{"password":"correct-horse-battery"}`))
	rec := httptest.NewRecorder()
	handler.Login(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoginHandler_CookieOnlyDelivery(t *testing.T) {
	handler, service, _, _ := newTestHandler(t, TokenDelivery{Cookies: true, Body: false})
	registerAlice(t, service)

	rec := loginAlice(t, handler)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, cookieByName(t, rec, refreshTokenCookie))

	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotContains(t, body, "access_token")
	require.NotContains(t, body, "refresh_token")
}

func TestLoginHandler_BodyOnlyDelivery(t *testing.T) {
	handler, service, _, _ := newTestHandler(t, TokenDelivery{Cookies: false, Body: true})
	registerAlice(t, service)

	rec := loginAlice(t, handler)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Result().Cookies())

	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body, "access_token")
}

func TestRefreshHandler_FromCookie(t *testing.T) {
	handler, service, _, _ := newTestHandler(t, TokenDelivery{Cookies: true, Body: true})
	registerAlice(t, service)

	login := loginAlice(t, handler)
	refreshCookie := cookieByName(t, login, refreshTokenCookie)
	require.NotNil(t, refreshCookie)

	req := httptest.NewRequest(http.MethodPost, "/users/refresh", nil)
	req.AddCookie(refreshCookie)
	rec := httptest.NewRecorder()
	handler.Refresh(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var tokens Tokens
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tokens))
	require.NotEmpty(t, tokens.AccessToken)
	require.NotEqual(t, refreshCookie.Value, tokens.RefreshToken)

	rotated := cookieByName(t, rec, refreshTokenCookie)
	require.NotNil(t, rotated)
	require.Equal(t, tokens.RefreshToken, rotated.Value)
}

func TestRefreshHandler_FromBody(t *testing.T) {
	handler, service, _, _ := newTestHandler(t, TokenDelivery{Cookies: false, Body: true})
	registerAlice(t, service)

	login := loginAlice(t, handler)
	var session map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(login.Body.Bytes(), &session))
	var refreshToken string
	require.NoError(t, json.Unmarshal(session["refresh_token"], &refreshToken))

	req := httptest.NewRequest(http.MethodPost, "/users/refresh",
		strings.NewReader(`{"refreshToken":"`+refreshToken+`"}`))
	rec := httptest.NewRecorder()
	handler.Refresh(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRefreshHandler_MissingToken(t *testing.T) {
	handler, _, _, _ := newTestHandler(t, TokenDelivery{Cookies: true, Body: true})

	req := httptest.NewRequest(http.MethodPost, "/users/refresh", nil)
	rec := httptest.NewRecorder()
	handler.Refresh(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefreshHandler_ReuseAfterRotation(t *testing.T) {
	handler, service, _, _ := newTestHandler(t, TokenDelivery{Cookies: true, Body: true})
	registerAlice(t, service)

	login := loginAlice(t, handler)
	refreshCookie := cookieByName(t, login, refreshTokenCookie)
	require.NotNil(t, refreshCookie)

	first := httptest.NewRequest(http.MethodPost, "/users/refresh", nil)
	first.AddCookie(refreshCookie)
	firstRec := httptest.NewRecorder()
	handler.Refresh(firstRec, first)
	require.Equal(t, http.StatusOK, firstRec.Code)

	second := httptest.NewRequest(http.MethodPost, "/users/refresh", nil)
	second.AddCookie(refreshCookie)
	secondRec := httptest.NewRecorder()
	handler.Refresh(secondRec, second)
	require.Equal(t, http.StatusUnauthorized, secondRec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(secondRec.Body.Bytes(), &body))
	require.Contains(t, body["error"], "expired or used")
}

func TestLogoutHandler_ClearsSession(t *testing.T) {
	handler, service, store, _ := newTestHandler(t, TokenDelivery{Cookies: true, Body: true})
	registered := registerAlice(t, service)

	login := loginAlice(t, handler)
	accessCookie := cookieByName(t, login, accessTokenCookie)
	refreshCookie := cookieByName(t, login, refreshTokenCookie)
	require.NotNil(t, accessCookie)
	require.NotNil(t, refreshCookie)

	guarded := Middleware(service, http.HandlerFunc(handler.Logout))

	req := httptest.NewRequest(http.MethodPost, "/users/logout", nil)
	req.AddCookie(accessCookie)
	rec := httptest.NewRecorder()
	guarded.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Nil(t, store.storedRefreshToken(registered.ID))

	cleared := cookieByName(t, rec, refreshTokenCookie)
	require.NotNil(t, cleared)
	require.Empty(t, cleared.Value)

	// A refresh with the pre-logout token now fails.
	refresh := httptest.NewRequest(http.MethodPost, "/users/refresh", nil)
	refresh.AddCookie(refreshCookie)
	refreshRec := httptest.NewRecorder()
	handler.Refresh(refreshRec, refresh)
	require.Equal(t, http.StatusUnauthorized, refreshRec.Code)
}

func TestCurrentUserHandler(t *testing.T) {
	handler, service, _, tokens := newTestHandler(t, TokenDelivery{Cookies: true, Body: true})
	registered := registerAlice(t, service)

	pair, _, err := tokens.Issue(registered)
	require.NoError(t, err)

	guarded := Middleware(service, http.HandlerFunc(handler.CurrentUser))

	req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rec := httptest.NewRecorder()
	guarded.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"username":"alice"`)
	require.NotContains(t, rec.Body.String(), "password")
}

func TestCurrentUserHandler_NoContextUser(t *testing.T) {
	handler, _, _, _ := newTestHandler(t, TokenDelivery{Cookies: true, Body: true})

	req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
	rec := httptest.NewRecorder()
	handler.CurrentUser(rec, req.WithContext(context.Background()))

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
