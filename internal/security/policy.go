package security

import (
	"errors"
	"fmt"
	"strings"
)

// ロール名に付くことがある接頭辞です。"ROLE_ADMIN" と "ADMIN" は同じロールとして扱います。
const rolePrefix = "ROLE_"

// 組み込みのロール
const (
	RoleAdmin = "ADMIN"
	RoleUser  = "USER"
)

type requirementKind int

const (
	kindAuthenticated requirementKind = iota
	kindPublic
	kindRole
)

// Requirement はパスに課すアクセス条件です。ゼロ値は認証必須です。
type Requirement struct {
	kind requirementKind
	role string
}

// Public は誰でもアクセスできる条件を返します。
func Public() Requirement {
	return Requirement{kind: kindPublic}
}

// RequireAuthenticated はログイン済みであることを条件にします。
func RequireAuthenticated() Requirement {
	return Requirement{kind: kindAuthenticated}
}

// RequireRole は指定ロールを持つログイン済みユーザーを条件にします。
func RequireRole(role string) Requirement {
	return Requirement{kind: kindRole, role: NormalizeRole(role)}
}

// IsPublic は条件が Public かを返します。
func (r Requirement) IsPublic() bool { return r.kind == kindPublic }

// Role は RequireRole の対象ロールを返します。それ以外では空文字です。
func (r Requirement) Role() string { return r.role }

func (r Requirement) String() string {
	switch r.kind {
	case kindPublic:
		return "permitAll"
	case kindRole:
		return fmt.Sprintf("hasRole(%s)", r.role)
	default:
		return "authenticated"
	}
}

// AccessRule はパスパターンとアクセス条件の組です。
// Methods が空の場合はすべての HTTP メソッドに適用します。
type AccessRule struct {
	Patterns    []string
	Methods     []string
	Requirement Requirement
}

// Rule は AccessRule を組み立てるヘルパーです。
func Rule(req Requirement, patterns ...string) AccessRule {
	return AccessRule{Patterns: patterns, Requirement: req}
}

// Matches はリクエストがこのルールに一致するかを返します。
func (r AccessRule) Matches(method, requestPath string) bool {
	if len(r.Methods) > 0 {
		found := false
		for _, m := range r.Methods {
			if strings.EqualFold(m, method) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, p := range r.Patterns {
		if matchPath(p, requestPath) {
			return true
		}
	}
	return false
}

func (r AccessRule) clone() AccessRule {
	return AccessRule{
		Patterns:    append([]string(nil), r.Patterns...),
		Methods:     append([]string(nil), r.Methods...),
		Requirement: r.Requirement,
	}
}

// Principal はセッションに保持されたログインユーザーです。
// nil は匿名ユーザーを表します。
type Principal struct {
	Username string
	Roles    []string
}

// Authenticated はログイン済みかを返します。
func (p *Principal) Authenticated() bool {
	return p != nil && p.Username != ""
}

// HasRole はロールを保持しているかを返します。ROLE_ 接頭辞は無視します。
func (p *Principal) HasRole(role string) bool {
	if !p.Authenticated() {
		return false
	}
	want := NormalizeRole(role)
	for _, r := range p.Roles {
		if NormalizeRole(r) == want {
			return true
		}
	}
	return false
}

// NormalizeRole は前後の空白と ROLE_ 接頭辞を取り除きます。
func NormalizeRole(role string) string {
	return strings.TrimPrefix(strings.TrimSpace(role), rolePrefix)
}

// Decision はアクセス判定の結果です。
type Decision int

const (
	Allow Decision = iota
	DenyRedirectToLogin
	DenyForbidden
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case DenyRedirectToLogin:
		return "redirect_to_login"
	case DenyForbidden:
		return "forbidden"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// ErrEmptyRule はパターンを持たないルールが渡されたときのエラーです。
var ErrEmptyRule = errors.New("access rule has no patterns")

// Policy は起動時に確定するアクセス規則表です。生成後は変更できません。
type Policy struct {
	rules []AccessRule
}

// NewPolicy は規則を宣言順に保持する Policy を作成します。
// 引数のスライスはコピーされます。
func NewPolicy(rules ...AccessRule) (*Policy, error) {
	copied := make([]AccessRule, 0, len(rules))
	for i, r := range rules {
		if len(r.Patterns) == 0 {
			return nil, fmt.Errorf("rule %d: %w", i, ErrEmptyRule)
		}
		for _, p := range r.Patterns {
			if err := validatePattern(p); err != nil {
				return nil, fmt.Errorf("rule %d: %w", i, err)
			}
		}
		if r.Requirement.kind == kindRole && r.Requirement.role == "" {
			return nil, fmt.Errorf("rule %d: role requirement without a role", i)
		}
		copied = append(copied, r.clone())
	}
	return &Policy{rules: copied}, nil
}

// Rules は規則のコピーを返します。
func (p *Policy) Rules() []AccessRule {
	out := make([]AccessRule, len(p.rules))
	for i, r := range p.rules {
		out[i] = r.clone()
	}
	return out
}

// RequirementFor は最初に一致した規則の条件を返します。
// どの規則にも一致しない場合は認証必須です。
func (p *Policy) RequirementFor(method, requestPath string) Requirement {
	for _, r := range p.rules {
		if r.Matches(method, requestPath) {
			return r.Requirement
		}
	}
	return RequireAuthenticated()
}

// Evaluate はリクエストに対する判定をひとつだけ返します。
func (p *Policy) Evaluate(method, requestPath string, principal *Principal) Decision {
	req := p.RequirementFor(method, requestPath)
	switch req.kind {
	case kindPublic:
		return Allow
	case kindRole:
		if !principal.Authenticated() {
			return DenyRedirectToLogin
		}
		if principal.HasRole(req.role) {
			return Allow
		}
		return DenyForbidden
	default:
		if principal.Authenticated() {
			return Allow
		}
		return DenyRedirectToLogin
	}
}
