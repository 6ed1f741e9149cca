// Package users はログイン用のユーザー情報を SQLite に保存します。
package users

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/yourusername/demo-security/internal/auth"
	"github.com/yourusername/demo-security/internal/security"
)

var (
	// ErrUserNotFound は auth.ErrUserNotFound と同一で、errors.Is でどちらとも比較できます。
	ErrUserNotFound   = auth.ErrUserNotFound
	ErrUsernameExists = errors.New("username already exists")
	ErrInvalidUser    = errors.New("invalid user")
)

// 英数字とドット・ハイフン・アンダースコアの1〜64文字
var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// IsValidUsername はユーザー名の形式を検証します。
func IsValidUsername(username string) bool {
	return usernamePattern.MatchString(username)
}

// User は保存されたユーザーです。
type User struct {
	ID           string
	Username     string
	PasswordHash string
	Roles        []string
	Enabled      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

//go:embed migrations/*.sql
var migrations embed.FS

const selectColumns = "SELECT id, username, password_hash, roles, enabled, created_at, updated_at FROM users"

// Open は SQLite データベースを開きます。
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting database: %w", err)
	}
	return db, nil
}

// SQLiteRepository は SQLite によるユーザーストアです。
// auth.UserDetailsService を実装します。
type SQLiteRepository struct {
	db *sql.DB
}

// NewRepository は Repository を作成します。
func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Migrate は未適用のマイグレーションを適用します。何度呼んでも構いません。
func (r *SQLiteRepository) Migrate(ctx context.Context) error {
	provider, err := r.migrationProvider()
	if err != nil {
		return err
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("migrating users: %w", err)
	}
	return nil
}

// SchemaVersion は適用済みのマイグレーションのバージョンを返します。
func (r *SQLiteRepository) SchemaVersion(ctx context.Context) (int64, error) {
	provider, err := r.migrationProvider()
	if err != nil {
		return 0, err
	}
	return provider.GetDBVersion(ctx)
}

// goose のグローバル設定はテストの並列実行と相性が悪いので Provider を使う
func (r *SQLiteRepository) migrationProvider() (*goose.Provider, error) {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("loading migrations: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, r.db, fsys)
	if err != nil {
		return nil, fmt.Errorf("creating migration provider: %w", err)
	}
	return provider, nil
}

// Create はユーザーを登録します。ID が空の場合は生成します。
func (r *SQLiteRepository) Create(ctx context.Context, user *User) error {
	if !IsValidUsername(user.Username) {
		return fmt.Errorf("%w: username %q", ErrInvalidUser, user.Username)
	}
	if user.PasswordHash == "" {
		return fmt.Errorf("%w: password hash is required", ErrInvalidUser)
	}
	roles, err := normalizeRoles(user.Roles)
	if err != nil {
		return err
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}

	now := time.Now().UTC().Truncate(time.Second)
	user.Roles = roles
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO users (id, username, password_hash, roles, enabled, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Username, user.PasswordHash, strings.Join(roles, ","),
		boolToInt(user.Enabled), now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUsernameExists
		}
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

// GetByUsername はユーザー名でユーザーを取得します。
func (r *SQLiteRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+" WHERE username = ?", username)
	return scanUser(row)
}

// LoadUserByUsername はログイン判定用のユーザー情報を返します。
func (r *SQLiteRepository) LoadUserByUsername(ctx context.Context, username string) (*auth.UserDetails, error) {
	u, err := r.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	return &auth.UserDetails{
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		Roles:        u.Roles,
		Enabled:      u.Enabled,
	}, nil
}

// UpdatePassword はパスワードハッシュを更新します。
func (r *SQLiteRepository) UpdatePassword(ctx context.Context, username, passwordHash string) error {
	return r.exec(ctx, "updating password",
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE username = ?`,
		passwordHash, time.Now().UTC().Format(time.RFC3339), username)
}

// SetEnabled はユーザーの有効/無効を切り替えます。
func (r *SQLiteRepository) SetEnabled(ctx context.Context, username string, enabled bool) error {
	return r.exec(ctx, "updating enabled",
		`UPDATE users SET enabled = ?, updated_at = ? WHERE username = ?`,
		boolToInt(enabled), time.Now().UTC().Format(time.RFC3339), username)
}

// Delete はユーザーを削除します。
func (r *SQLiteRepository) Delete(ctx context.Context, username string) error {
	return r.exec(ctx, "deleting user", "DELETE FROM users WHERE username = ?", username)
}

// Count は登録済みユーザー数を返します。
func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return count, nil
}

func (r *SQLiteRepository) exec(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	var roles, createdAt, updatedAt string
	var enabled int

	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &roles, &enabled, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	if roles != "" {
		u.Roles = strings.Split(roles, ",")
	}
	u.Enabled = enabled != 0
	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	u.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // format is controlled
	return &u, nil
}

// normalizeRoles は ROLE_ 接頭辞を外し、重複を除いた一覧を返します。
func normalizeRoles(roles []string) ([]string, error) {
	out := make([]string, 0, len(roles))
	seen := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		n := security.NormalizeRole(r)
		if n == "" || strings.Contains(n, ",") {
			return nil, fmt.Errorf("%w: role %q", ErrInvalidUser, r)
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueViolation は UNIQUE 制約違反かを判定します。
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
