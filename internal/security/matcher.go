package security

import (
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// パスパターンは ant 形式です。
//   - `?`  : セグメント内の任意の1文字
//   - `*`  : セグメント内の0文字以上
//   - `**` : 0個以上のセグメント
//   - `{a,b}`: いずれかに一致
//
// 大文字小文字は区別します。
const anySegments = "**"

// validatePattern はパターンが解釈可能かを検証します。
func validatePattern(pattern string) error {
	if !strings.HasPrefix(pattern, "/") {
		return fmt.Errorf("pattern %q must start with /", pattern)
	}
	for _, seg := range strings.Split(pattern, "/") {
		// doublestar は "a**b" を "*" と同じに扱うので、ここで弾く
		if seg != anySegments && strings.Contains(seg, anySegments) {
			return fmt.Errorf("pattern %q: ** must be a whole segment", pattern)
		}
	}
	if !doublestar.ValidatePattern(pattern) {
		return fmt.Errorf("pattern %q: %w", pattern, doublestar.ErrBadPattern)
	}
	return nil
}

// matchPath はリクエストパスがパターンに一致するかを返します。
// リクエストパスは path.Clean で正規化してから比較するため、
// 末尾スラッシュや "/./" の有無で判定は変わりません。
func matchPath(pattern, requestPath string) bool {
	// パターンは validatePattern 済み
	return doublestar.MatchUnvalidated(pattern, cleanPath(requestPath))
}

func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}
