// Package auth は security.WebSecurity の設定に従って
// フォームログイン、ログアウト、アクセス制御を gin に組み込みます。
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/demo-security/internal/security"
)

const (
	SessionCookieName    = "demo_session"
	sessionKeyID         = "session_id"
	sessionKeyUser       = "auth_user"
	sessionKeyRoles      = "auth_roles"
	sessionKeyIssuedAt   = "issued_at"
	sessionKeyLastActive = "last_activity"
	sessionKeyCSRF       = "csrf_token"
	sessionKeySaved      = "saved_request"

	// CSRFHeader と CSRFField のどちらかでトークンを受け付けます。
	CSRFHeader = "X-CSRF-Token"
	CSRFField  = "_csrf"
)

var (
	maxSessionLifetime = 12 * time.Hour
	idleTimeout        = 30 * time.Minute
)

// SessionMaxAgeSeconds はクッキーの MaxAge に利用する秒数を返します。
func SessionMaxAgeSeconds() int {
	return int(maxSessionLifetime.Seconds())
}

// ContextPrincipalKey は、ハンドラー間でログイン済みユーザーを共有するためのキーです。
const ContextPrincipalKey = "auth.principal"

// Manager は認証処理と状態をまとめた構造体です。
type Manager struct {
	sec     *security.WebSecurity
	users   UserDetailsService
	limiter AttemptLimiter
	active  SessionRegistry
	logger  *log.Logger
	now     func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// NewManager は認証マネージャーを作成します。
// limiter と active が nil の場合はメモリ上で管理します。
func NewManager(sec *security.WebSecurity, users UserDetailsService, limiter AttemptLimiter, active SessionRegistry, logger *log.Logger) *Manager {
	if limiter == nil {
		limiter = NewMemoryLimiter(DefaultLimiterSettings())
	}
	if active == nil {
		active = NewMemoryRegistry()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		sec:     sec,
		users:   users,
		limiter: limiter,
		active:  active,
		logger:  logger,
		now:     time.Now,
	}
}

// Login はログインフォームの送信先ハンドラーです。
// 失敗理由（ユーザー不在・パスワード不一致・ロック中）にかかわらず同じリダイレクトを返します。
func (m *Manager) Login(c *gin.Context) {
	login := m.sec.Login
	username := c.PostForm(login.UsernameField)
	password := c.PostForm(login.PasswordField)
	ip := c.ClientIP()
	ctx := c.Request.Context()

	retryAfter, err := m.limiter.Check(ctx, ip)
	if err != nil {
		// 制限ストアの障害でログイン自体は止めない
		m.logger.Printf("login limiter check failed ip=%s: %v", ip, err)
	}
	if retryAfter > 0 {
		// Retry-After は秒数またはHTTP-Date形式が推奨されているため秒数で返す
		c.Header("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds()), 10))
		m.logger.Printf("login rejected while locked ip=%s", ip)
		c.Redirect(http.StatusFound, login.FailureURL())
		return
	}

	user, err := m.authenticate(ctx, username, password)
	if err != nil {
		m.logger.Printf("user lookup failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "ユーザー情報の取得に失敗しました",
		})
		return
	}
	if user == nil {
		remaining, err := m.limiter.RecordFailure(ctx, ip)
		if err != nil {
			m.logger.Printf("login limiter record failed ip=%s: %v", ip, err)
		}
		m.logger.Printf("login failed ip=%s remaining=%d", ip, remaining)
		c.Redirect(http.StatusFound, login.FailureURL())
		return
	}

	if err := m.limiter.Reset(ctx, ip); err != nil {
		m.logger.Printf("login limiter reset failed ip=%s: %v", ip, err)
	}

	token, err := generateToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "TOKEN_GENERATION_FAILED",
			"message": "CSRF トークンの生成に失敗しました",
		})
		return
	}
	sessionID, err := generateToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "TOKEN_GENERATION_FAILED",
			"message": "セッション ID の生成に失敗しました",
		})
		return
	}

	session := sessions.Default(c)
	target := login.SuccessRedirect
	if saved, ok := session.Get(sessionKeySaved).(string); ok && saved != "" && !login.AlwaysUseSuccessRedirect {
		target = saved
	}
	// ログインし直した場合は以前のセッションを無効にする
	m.revoke(ctx, session)

	if err := m.active.Register(ctx, sessionID, maxSessionLifetime); err != nil {
		m.logger.Printf("session register failed user=%s: %v", user.Username, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "SESSION_SAVE_FAILED",
			"message": "セッションの保存に失敗しました",
		})
		return
	}

	// ログイン前のセッション内容は引き継がない
	session.Clear()
	now := m.now()
	session.Set(sessionKeyID, sessionID)
	session.Set(sessionKeyUser, user.Username)
	session.Set(sessionKeyRoles, strings.Join(user.Roles, ","))
	session.Set(sessionKeyIssuedAt, now.Unix())
	session.Set(sessionKeyLastActive, now.Unix())
	session.Set(sessionKeyCSRF, token)

	if err := session.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "SESSION_SAVE_FAILED",
			"message": "セッションの保存に失敗しました",
		})
		return
	}

	m.logger.Printf("login succeeded user=%s ip=%s", user.Username, ip)
	c.Header(CSRFHeader, token)
	c.Redirect(http.StatusFound, target)
}

// Logout はログアウトのハンドラーです。
func (m *Manager) Logout(c *gin.Context) {
	session := sessions.Default(c)
	if user, ok := session.Get(sessionKeyUser).(string); ok && user != "" {
		m.logger.Printf("logout user=%s", user)
	}
	// クッキーを控えておいても再利用できないよう、サーバー側の登録を消す
	m.revoke(c.Request.Context(), session)
	session.Clear()
	if err := session.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "SESSION_SAVE_FAILED",
			"message": "セッションの削除に失敗しました",
		})
		return
	}
	c.Redirect(http.StatusFound, m.sec.Logout.PostLogoutRedirect)
}

// Authorize はアクセス規則表に従って各リクエストを判定するミドルウェアを返します。
// 判定結果は許可、ログイン画面へのリダイレクト、403 のいずれかひとつです。
func (m *Manager) Authorize() gin.HandlerFunc {
	policy := m.sec.Policy()
	return func(c *gin.Context) {
		session := sessions.Default(c)
		principal := m.sessionPrincipal(c.Request.Context(), session)

		switch policy.Evaluate(c.Request.Method, c.Request.URL.Path, principal) {
		case security.Allow:
			if principal.Authenticated() {
				// ログインとログアウトはハンドラー側でセッションを書き直すので、ここでは保存しない
				if !m.rewritesSession(c.Request) {
					session.Set(sessionKeyLastActive, m.now().Unix())
					_ = session.Save()
				}
				c.Set(ContextPrincipalKey, principal)
			}
			c.Next()
		case security.DenyForbidden:
			m.logger.Printf("access denied user=%s path=%s", principal.Username, c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":    "FORBIDDEN",
				"message": "このページへのアクセス権限がありません",
			})
		default:
			if !m.sec.Login.AlwaysUseSuccessRedirect && c.Request.Method == http.MethodGet {
				session.Set(sessionKeySaved, c.Request.URL.RequestURI())
				_ = session.Save()
			}
			c.Redirect(http.StatusFound, m.sec.Login.DisplayPath)
			c.Abort()
		}
	}
}

// VerifyCSRF はログイン済みセッションの状態変更リクエストで CSRF トークンを検証するミドルウェアです。
// Authorize の後に登録してください。
func (m *Manager) VerifyCSRF() gin.HandlerFunc {
	return func(c *gin.Context) {
		if isSafeMethod(c.Request.Method) {
			c.Next()
			return
		}
		// ログイン時はセッション未生成なので CSRF 検証は不要
		if c.Request.URL.Path == m.sec.Login.SubmitPath {
			c.Next()
			return
		}
		if CurrentPrincipal(c) == nil {
			c.Next()
			return
		}

		session := sessions.Default(c)
		expected, ok := session.Get(sessionKeyCSRF).(string)
		if !ok || expected == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":    "CSRF_MISSING",
				"message": "CSRF トークンが設定されていません",
			})
			return
		}

		received := c.GetHeader(CSRFHeader)
		if received == "" {
			received = c.PostForm(CSRFField)
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(received)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":    "CSRF_INVALID",
				"message": "CSRF トークンが一致しません",
			})
			return
		}

		c.Next()
	}
}

// CurrentPrincipal は Authorize が許可したログイン済みユーザーを返します。
// 匿名アクセスの場合は nil です。
func CurrentPrincipal(c *gin.Context) *security.Principal {
	v, ok := c.Get(ContextPrincipalKey)
	if !ok {
		return nil
	}
	p, _ := v.(*security.Principal)
	return p
}

// CSRFToken はセッションに保存された CSRF トークンを返します。
func CSRFToken(c *gin.Context) string {
	token, _ := sessions.Default(c).Get(sessionKeyCSRF).(string)
	return token
}

// sessionPrincipal はセッションからユーザーを復元します。
// 有効期限切れやログアウト済みのセッションは破棄し、匿名として扱います。
func (m *Manager) sessionPrincipal(ctx context.Context, session sessions.Session) *security.Principal {
	user, ok := session.Get(sessionKeyUser).(string)
	if !ok || user == "" {
		return nil
	}

	now := m.now()
	issuedAt := readUnix(session.Get(sessionKeyIssuedAt))
	lastActive := readUnix(session.Get(sessionKeyLastActive))
	if issuedAt.IsZero() || now.Sub(issuedAt) > maxSessionLifetime ||
		lastActive.IsZero() || now.Sub(lastActive) > idleTimeout {
		m.logger.Printf("session expired user=%s", user)
		m.revoke(ctx, session)
		session.Clear()
		_ = session.Save()
		return nil
	}

	sessionID, _ := session.Get(sessionKeyID).(string)
	active := false
	if sessionID != "" {
		var err error
		// 登録先の障害時はログイン済みとして扱わない
		if active, err = m.active.Active(ctx, sessionID); err != nil {
			m.logger.Printf("session lookup failed user=%s: %v", user, err)
			return nil
		}
	}
	if !active {
		m.logger.Printf("session revoked user=%s", user)
		session.Clear()
		_ = session.Save()
		return nil
	}

	roles, _ := session.Get(sessionKeyRoles).(string)
	return &security.Principal{
		Username: user,
		Roles:    splitRoles(roles),
	}
}

// authenticate は認証に成功したユーザーを返します。
// 認証失敗は (nil, nil)、ストアの障害のみエラーになります。
func (m *Manager) authenticate(ctx context.Context, username, password string) (*UserDetails, error) {
	hasher := m.sec.Hasher
	if username == "" || password == "" {
		hasher.Verify(password, m.dummy())
		return nil, nil
	}

	user, err := m.users.LoadUserByUsername(ctx, username)
	if errors.Is(err, ErrUserNotFound) {
		// 存在しないユーザーでも同程度の時間をかける
		hasher.Verify(password, m.dummy())
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if !hasher.Verify(password, user.PasswordHash) || !user.Enabled {
		return nil, nil
	}
	return user, nil
}

func (m *Manager) revoke(ctx context.Context, session sessions.Session) {
	sessionID, ok := session.Get(sessionKeyID).(string)
	if !ok || sessionID == "" {
		return
	}
	if err := m.active.Revoke(ctx, sessionID); err != nil {
		m.logger.Printf("session revoke failed: %v", err)
	}
}

// rewritesSession はハンドラーがセッションを作り直すリクエストかを返します。
func (m *Manager) rewritesSession(r *http.Request) bool {
	if r.Method != http.MethodPost {
		return false
	}
	return r.URL.Path == m.sec.Login.SubmitPath || r.URL.Path == m.sec.Logout.LogoutPath
}

func (m *Manager) dummy() string {
	m.dummyOnce.Do(func() {
		token, err := generateToken()
		if err != nil {
			token = "dummy-password"
		}
		hash, err := m.sec.Hasher.Hash(token)
		if err != nil {
			m.logger.Printf("failed to prepare dummy hash: %v", err)
		}
		m.dummyHash = hash
	})
	return m.dummyHash
}

func splitRoles(joined string) []string {
	if joined == "" {
		return nil
	}
	parts := strings.Split(joined, ",")
	roles := make([]string, 0, len(parts))
	for _, r := range parts {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func readUnix(v interface{}) time.Time {
	switch t := v.(type) {
	case int64:
		return time.Unix(t, 0)
	case int:
		return time.Unix(int64(t), 0)
	case float64:
		return time.Unix(int64(t), 0)
	default:
		return time.Time{}
	}
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}
