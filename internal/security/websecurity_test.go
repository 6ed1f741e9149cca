package security

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultSecurity(t *testing.T) *WebSecurity {
	t.Helper()
	sec, err := DefaultWebSecurity(NewBcryptHasher(MinCost))
	require.NoError(t, err)
	return sec
}

func TestDefaultWebSecurityLoginFlow(t *testing.T) {
	t.Parallel()

	sec := defaultSecurity(t)
	assert.Equal(t, LoginFlowConfig{
		SubmitPath:               "/",
		DisplayPath:              "/",
		FailureRedirect:          "/",
		UsernameField:            "username",
		PasswordField:            "password",
		SuccessRedirect:          "/common",
		AlwaysUseSuccessRedirect: true,
	}, sec.Login)
	assert.Equal(t, LogoutFlowConfig{LogoutPath: "/logout", PostLogoutRedirect: "/"}, sec.Logout)
	assert.Equal(t, "/?error", sec.Login.FailureURL())
}

func TestDefaultWebSecurityAccessTable(t *testing.T) {
	t.Parallel()

	policy := defaultSecurity(t).Policy()
	admin := &Principal{Username: "a", Roles: []string{RoleAdmin}}
	user := &Principal{Username: "u", Roles: []string{RoleUser}}
	both := &Principal{Username: "b", Roles: []string{RoleAdmin, RoleUser}}
	none := &Principal{Username: "n"}

	cases := []struct {
		method    string
		path      string
		principal *Principal
		want      Decision
	}{
		{http.MethodGet, "/", nil, Allow},
		{http.MethodPost, "/", nil, Allow},
		{http.MethodPost, "/logout", nil, Allow},
		{http.MethodGet, "/login", nil, Allow},

		{http.MethodGet, "/admin", nil, DenyRedirectToLogin},
		{http.MethodGet, "/admin", user, DenyForbidden},
		{http.MethodGet, "/admin", none, DenyForbidden},
		{http.MethodGet, "/admin", admin, Allow},
		{http.MethodDelete, "/admin/users/1", admin, Allow},
		{http.MethodDelete, "/admin/users/1", user, DenyForbidden},
		{http.MethodGet, "/admin", both, Allow},

		{http.MethodGet, "/user", nil, DenyRedirectToLogin},
		{http.MethodGet, "/user", admin, DenyForbidden},
		{http.MethodGet, "/user", user, Allow},
		{http.MethodPost, "/user/profile", user, Allow},

		{http.MethodGet, "/common", nil, DenyRedirectToLogin},
		{http.MethodGet, "/common", none, Allow},
		{http.MethodGet, "/unknown", admin, Allow},
	}
	for _, tc := range cases {
		got := policy.Evaluate(tc.method, tc.path, tc.principal)
		assert.Equalf(t, tc.want, got, "%s %s as %+v", tc.method, tc.path, tc.principal)
	}
}

func TestNewAddsImplicitPublicRules(t *testing.T) {
	t.Parallel()

	sec, err := New(
		[]AccessRule{Rule(RequireRole(RoleAdmin), "/**")},
		LoginFlowConfig{
			SubmitPath:      "/auth/login",
			DisplayPath:     "/auth/form",
			FailureRedirect: "/auth/failed?reason=x",
			UsernameField:   "u",
			PasswordField:   "p",
			SuccessRedirect: "/home",
		},
		LogoutFlowConfig{LogoutPath: "/auth/logout", PostLogoutRedirect: "/auth/form"},
		NewBcryptHasher(MinCost),
	)
	require.NoError(t, err)

	policy := sec.Policy()
	for _, p := range []string{"/auth/login", "/auth/form", "/auth/failed", "/auth/logout"} {
		assert.Equalf(t, Allow, policy.Evaluate(http.MethodPost, p, nil), "path %s", p)
	}
	assert.Equal(t, DenyRedirectToLogin, policy.Evaluate(http.MethodGet, "/home", nil))
	assert.Equal(t, "/auth/failed?reason=x&error", sec.Login.FailureURL())
	assert.Len(t, policy.Rules()[0].Patterns, 4)
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	hasher := NewBcryptHasher(MinCost)
	login := LoginFlowConfig{
		SubmitPath:      "/",
		DisplayPath:     "/",
		FailureRedirect: "/",
		UsernameField:   "username",
		PasswordField:   "password",
		SuccessRedirect: "/common",
	}
	logout := LogoutFlowConfig{LogoutPath: "/logout", PostLogoutRedirect: "/"}

	_, err := New(nil, login, logout, nil)
	assert.Error(t, err)

	bad := login
	bad.SuccessRedirect = "common"
	_, err = New(nil, bad, logout, hasher)
	assert.Error(t, err)

	bad = login
	bad.PasswordField = "username"
	_, err = New(nil, bad, logout, hasher)
	assert.Error(t, err)

	_, err = New(nil, login, LogoutFlowConfig{LogoutPath: "logout", PostLogoutRedirect: "/"}, hasher)
	assert.Error(t, err)
}
