// Package security はアクセス規則表、ログイン/ログアウトの設定、
// パスワードハッシュ方式をひとつの設定オブジェクトにまとめます。
//
// ここには HTTP の処理は含みません。セッションとハンドラーは
// internal/auth がこの設定を受け取って組み立てます。
package security

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// FailureParam はログイン失敗時にリダイレクト先へ付与するクエリ名です。
const FailureParam = "error"

// LoginFlowConfig はフォームログインの設定です。
type LoginFlowConfig struct {
	SubmitPath      string // POST でログイン処理を行うパス
	DisplayPath     string // ログイン画面のパス
	FailureRedirect string // ログイン失敗時の遷移先
	UsernameField   string
	PasswordField   string
	SuccessRedirect string // ログイン成功時の遷移先
	// true の場合、元々アクセスしようとしたページに関係なく SuccessRedirect へ遷移します
	AlwaysUseSuccessRedirect bool
}

// FailureURL は失敗を示すクエリを付けたリダイレクト先を返します。
func (c LoginFlowConfig) FailureURL() string {
	u, err := url.Parse(c.FailureRedirect)
	if err != nil {
		return c.FailureRedirect + "?" + FailureParam
	}
	if u.RawQuery == "" {
		u.RawQuery = FailureParam
	} else {
		u.RawQuery += "&" + FailureParam
	}
	return u.String()
}

func (c LoginFlowConfig) validate() error {
	var errs []error
	for name, v := range map[string]string{
		"SubmitPath":      c.SubmitPath,
		"DisplayPath":     c.DisplayPath,
		"FailureRedirect": c.FailureRedirect,
		"SuccessRedirect": c.SuccessRedirect,
	} {
		if !strings.HasPrefix(v, "/") {
			errs = append(errs, fmt.Errorf("login %s must be an absolute path, got %q", name, v))
		}
	}
	if c.UsernameField == "" || c.PasswordField == "" {
		errs = append(errs, errors.New("login field names are required"))
	}
	if c.UsernameField == c.PasswordField {
		errs = append(errs, errors.New("login username and password fields must differ"))
	}
	return errors.Join(errs...)
}

// LogoutFlowConfig はログアウトの設定です。
type LogoutFlowConfig struct {
	LogoutPath         string // POST でログアウト処理を行うパス
	PostLogoutRedirect string // ログアウト後の遷移先
}

func (c LogoutFlowConfig) validate() error {
	if !strings.HasPrefix(c.LogoutPath, "/") {
		return fmt.Errorf("logout path must be an absolute path, got %q", c.LogoutPath)
	}
	if !strings.HasPrefix(c.PostLogoutRedirect, "/") {
		return fmt.Errorf("post-logout redirect must be an absolute path, got %q", c.PostLogoutRedirect)
	}
	return nil
}

// WebSecurity はアプリケーションのセキュリティ設定一式です。
type WebSecurity struct {
	Login  LoginFlowConfig
	Logout LogoutFlowConfig
	Hasher PasswordHasher

	policy *Policy
}

// New は設定を検証し、ログイン/ログアウトに必要なパスを
// 宣言済みの規則より前に Public として登録した WebSecurity を作成します。
func New(rules []AccessRule, login LoginFlowConfig, logout LogoutFlowConfig, hasher PasswordHasher) (*WebSecurity, error) {
	if hasher == nil {
		return nil, errors.New("password hasher is required")
	}
	if err := errors.Join(login.validate(), logout.validate()); err != nil {
		return nil, err
	}

	failurePath := login.FailureRedirect
	if i := strings.IndexByte(failurePath, '?'); i >= 0 {
		failurePath = failurePath[:i]
	}
	implicit := uniquePaths(login.DisplayPath, login.SubmitPath, failurePath, logout.LogoutPath)

	all := make([]AccessRule, 0, len(rules)+1)
	all = append(all, Rule(Public(), implicit...))
	all = append(all, rules...)

	policy, err := NewPolicy(all...)
	if err != nil {
		return nil, err
	}
	return &WebSecurity{
		Login:  login,
		Logout: logout,
		Hasher: hasher,
		policy: policy,
	}, nil
}

// Policy はアクセス規則表を返します。
func (w *WebSecurity) Policy() *Policy {
	return w.policy
}

// DefaultWebSecurity はこのアプリケーションの設定を返します。
func DefaultWebSecurity(hasher PasswordHasher) (*WebSecurity, error) {
	return New(
		[]AccessRule{
			// /login はアクセス制限をかけない
			Rule(Public(), "/login"),
			// /admin は ADMIN ロールを持つユーザだけアクセス可能
			Rule(RequireRole(RoleAdmin), "/admin", "/admin/**"),
			// /user は USER ロールを持つユーザだけアクセス可能
			Rule(RequireRole(RoleUser), "/user", "/user/**"),
			// それ以外は認証が必要（規則に一致しない場合の既定）
		},
		LoginFlowConfig{
			// / に POST するとログイン処理を行う
			SubmitPath:               "/",
			DisplayPath:              "/",
			FailureRedirect:          "/",
			UsernameField:            "username",
			PasswordField:            "password",
			SuccessRedirect:          "/common",
			AlwaysUseSuccessRedirect: true,
		},
		LogoutFlowConfig{
			LogoutPath:         "/logout",
			PostLogoutRedirect: "/",
		},
		hasher,
	)
}

func uniquePaths(paths ...string) []string {
	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
