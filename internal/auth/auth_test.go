package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSigner(now time.Time) *Signer {
	s := NewSigner("test-key", "hostel", 15*time.Minute, time.Hour)
	s.now = func() time.Time { return now }
	return s
}

func TestIssueAndParse(t *testing.T) {
	now := time.Now()
	s := newSigner(now)
	pair, err := s.Issue("desk-1", RoleOperator)
	require.NoError(t, err)
	assert.Equal(t, now.Add(15*time.Minute), pair.AccessExp)

	claims, err := s.Parse(pair.AccessToken, TypeAccess)
	require.NoError(t, err)
	assert.Equal(t, "desk-1", claims.Subject)
	assert.Equal(t, RoleOperator, claims.Role)

	_, err = s.Parse(pair.RefreshToken, TypeAccess)
	assert.Error(t, err, "refresh token is not an access token")
	_, err = s.Parse(pair.AccessToken, TypeRefresh)
	assert.Error(t, err)
}

func TestParseRejects(t *testing.T) {
	now := time.Now()
	s := newSigner(now)
	pair, err := s.Issue("desk-1", RoleOperator)
	require.NoError(t, err)

	other := NewSigner("other-key", "hostel", time.Minute, time.Minute)
	_, err = other.Parse(pair.AccessToken, TypeAccess)
	assert.Error(t, err, "bad signature")

	wrongIssuer := newSigner(now)
	wrongIssuer.Issuer = "elsewhere"
	_, err = wrongIssuer.Parse(pair.AccessToken, TypeAccess)
	assert.Error(t, err)

	later := newSigner(now.Add(time.Hour))
	_, err = later.Parse(pair.AccessToken, TypeAccess)
	assert.Error(t, err, "expired")
}

func TestRefresh(t *testing.T) {
	s := newSigner(time.Now())
	pair, err := s.Issue("desk-1", RoleOperator)
	require.NoError(t, err)

	next, err := s.Refresh(pair.RefreshToken)
	require.NoError(t, err)
	claims, err := s.Parse(next.AccessToken, TypeAccess)
	require.NoError(t, err)
	assert.Equal(t, "desk-1", claims.Subject)

	_, err = s.Refresh(pair.AccessToken)
	assert.Error(t, err)
}

func TestKeyMatches(t *testing.T) {
	assert.True(t, KeyMatches("secret", "secret"))
	assert.False(t, KeyMatches("secret", "Secret"))
	assert.False(t, KeyMatches("", ""))
}

func TestRequireOperator(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := newSigner(time.Now())
	operator, err := s.Issue("desk", RoleOperator)
	require.NoError(t, err)
	viewer, err := s.Issue("desk", "viewer")
	require.NoError(t, err)

	r := gin.New()
	r.POST("/locked", RequireOperator(s, true), func(c *gin.Context) {
		claims := c.MustGet(ClaimsKey).(Claims)
		c.String(http.StatusOK, claims.Subject)
	})
	r.POST("/open", RequireOperator(s, false), func(c *gin.Context) { c.Status(http.StatusOK) })

	tests := []struct {
		name, path, header string
		want               int
	}{
		{"no header", "/locked", "", http.StatusUnauthorized},
		{"garbage", "/locked", "Bearer nope", http.StatusUnauthorized},
		{"refresh token", "/locked", "Bearer " + operator.RefreshToken, http.StatusUnauthorized},
		{"wrong role", "/locked", "Bearer " + viewer.AccessToken, http.StatusForbidden},
		{"operator", "/locked", "bearer " + operator.AccessToken, http.StatusOK},
		{"disabled", "/open", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
