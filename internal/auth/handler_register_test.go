package auth

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/stretchr/testify/require"
)

func registerForm(t *testing.T, fields map[string]string, withAvatar bool) (*bytes.Buffer, string) {
	t.Helper()

	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)

	for name, value := range fields {
		require.NoError(t, writer.WriteField(name, value))
	}

	if withAvatar {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="avatar"; filename="avatar.png"`)
		header.Set("Content-Type", "image/png")
		part, err := writer.CreatePart(header)
		require.NoError(t, err)
		_, err = part.Write([]byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a})
		require.NoError(t, err)
	}

	require.NoError(t, writer.Close())

	return buf, writer.FormDataContentType()
}

func aliceFields() map[string]string {
	return map[string]string{
		"fullName": "Alice Example",
		"username": "alice",
		"email":    "alice@example.com",
		"password": "correct-horse-battery",
	}
}

func TestRegisterHandler_CreatesUser(t *testing.T) {
	handler, _, store, _ := newTestHandler(t, TokenDelivery{Cookies: true, Body: true})

	body, contentType := registerForm(t, aliceFields(), true)
	req := httptest.NewRequest(http.MethodPost, "/users/register", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.Register(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Contains(t, rec.Body.String(), `"username":"alice"`)
	require.NotContains(t, rec.Body.String(), "password")
	require.Len(t, store.users, 1)
}

func TestRegisterHandler_MissingAvatar(t *testing.T) {
	handler, _, _, _ := newTestHandler(t, TokenDelivery{Cookies: true, Body: true})

	body, contentType := registerForm(t, aliceFields(), false)
	req := httptest.NewRequest(http.MethodPost, "/users/register", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.Register(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "avatar")
}

func TestRegisterHandler_DuplicateConflicts(t *testing.T) {
	handler, service, _, _ := newTestHandler(t, TokenDelivery{Cookies: true, Body: true})
	registerAlice(t, service)

	body, contentType := registerForm(t, aliceFields(), true)
	req := httptest.NewRequest(http.MethodPost, "/users/register", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.Register(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "already exists")
}

func TestRegisterHandler_BadUsernameFormat(t *testing.T) {
	handler, _, _, _ := newTestHandler(t, TokenDelivery{Cookies: true, Body: true})

	fields := aliceFields()
	fields["username"] = "a!"
	body, contentType := registerForm(t, fields, true)
	req := httptest.NewRequest(http.MethodPost, "/users/register", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.Register(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
