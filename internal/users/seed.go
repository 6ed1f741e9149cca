package users

import (
	"context"
	"fmt"
	"log"

	"github.com/yourusername/demo-security/internal/security"
)

// Register はパスワードをハッシュ化してユーザーを登録します。
func Register(ctx context.Context, repo *SQLiteRepository, hasher security.PasswordHasher, username, password string, roles ...string) (*User, error) {
	if password == "" {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidUser)
	}
	hash, err := hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	user := &User{
		Username:     username,
		PasswordHash: hash,
		Roles:        roles,
		Enabled:      true,
	}
	if err := repo.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// SeedUser は初期ユーザーの定義です。
type SeedUser struct {
	Username string
	Password string
	Roles    []string
}

// Seed はユーザーテーブルが空のときだけ初期ユーザーを作成します。
// ユーザー名かパスワードが空の定義は読み飛ばします。
func Seed(ctx context.Context, repo *SQLiteRepository, hasher security.PasswordHasher, seeds []SeedUser, logger *log.Logger) (int, error) {
	count, err := repo.Count(ctx)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, nil
	}

	created := 0
	for _, s := range seeds {
		if s.Username == "" || s.Password == "" {
			continue
		}
		if _, err := Register(ctx, repo, hasher, s.Username, s.Password, s.Roles...); err != nil {
			return created, fmt.Errorf("seeding %s: %w", s.Username, err)
		}
		created++
		if logger != nil {
			logger.Printf("seeded user=%s roles=%v", s.Username, s.Roles)
		}
	}
	return created, nil
}
