package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chatbridge/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = strings.Repeat("k", 32)

func setupVerifier() *Verifier {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewVerifier(testSecret, "jwt", logger)
}

func protected(v *Verifier) http.Handler {
	return v.RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		_, _ = w.Write([]byte(user.ID + "|" + user.Name))
	}))
}

func decodeMessage(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body models.MessageResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body.Message
}

func TestRequireUser_ValidCookie(t *testing.T) {
	v := setupVerifier()
	token, err := IssueSessionToken(testSecret, models.Identity{ID: "u1", Name: "Alice"}, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/chat/token", nil)
	req.AddCookie(&http.Cookie{Name: "jwt", Value: token})
	rr := httptest.NewRecorder()
	protected(v).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "u1|Alice", rr.Body.String())
}

func TestRequireUser_Rejections(t *testing.T) {
	expired, err := IssueSessionToken(testSecret, models.Identity{ID: "u1"}, -time.Minute)
	require.NoError(t, err)
	otherSecret, err := IssueSessionToken(strings.Repeat("x", 32), models.Identity{ID: "u1"}, time.Hour)
	require.NoError(t, err)
	noUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"foo": "bar"}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	tests := []struct {
		name    string
		cookie  *http.Cookie
		message string
	}{
		{"no cookie", nil, msgNoToken},
		{"empty cookie", &http.Cookie{Name: "jwt", Value: ""}, msgNoToken},
		{"garbage", &http.Cookie{Name: "jwt", Value: "not-a-jwt"}, msgInvalidToken},
		{"expired", &http.Cookie{Name: "jwt", Value: expired}, msgInvalidToken},
		{"wrong secret", &http.Cookie{Name: "jwt", Value: otherSecret}, msgInvalidToken},
		{"no user id", &http.Cookie{Name: "jwt", Value: noUser}, msgInvalidToken},
		{"other cookie name", &http.Cookie{Name: "session", Value: expired}, msgNoToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/chat/token", nil)
			if tt.cookie != nil {
				req.AddCookie(tt.cookie)
			}
			rr := httptest.NewRecorder()
			protected(setupVerifier()).ServeHTTP(rr, req)

			assert.Equal(t, http.StatusUnauthorized, rr.Code)
			assert.Equal(t, tt.message, decodeMessage(t, rr))
		})
	}
}

func TestVerify_RejectsNoneAlgorithm(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, SessionClaims{UserID: "u1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = setupVerifier().Verify(token)
	assert.Error(t, err)
}

func TestVerify_EmptySecretRejectsEverything(t *testing.T) {
	token, err := IssueSessionToken(testSecret, models.Identity{ID: "u1"}, time.Hour)
	require.NoError(t, err)

	_, err = NewVerifier("", "jwt", logrus.New()).Verify(token)
	assert.Error(t, err)
}

func TestUserFromContext_Missing(t *testing.T) {
	_, ok := UserFromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context())
	assert.False(t, ok)
}

func TestIssueSessionToken_Errors(t *testing.T) {
	_, err := IssueSessionToken("", models.Identity{ID: "u1"}, time.Hour)
	assert.Error(t, err)
	_, err = IssueSessionToken(testSecret, models.Identity{}, time.Hour)
	assert.Error(t, err)
}
