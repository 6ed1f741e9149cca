package command

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/demo-security/internal/security"
	"github.com/yourusername/demo-security/internal/users"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := RootCommand()
	var out, errOut bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func openTestRepo(t *testing.T, dbPath string) *users.SQLiteRepository {
	t.Helper()
	db, err := users.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return users.NewRepository(db)
}

func TestUserLifecycle(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "users.db")

	_, err := execute(t, "s3cret\n", "user", "create", "alice", "--role", "ADMIN", "--role", "USER", "--db", dbPath)
	require.NoError(t, err)

	repo := openTestRepo(t, dbPath)
	ctx := context.Background()
	details, err := repo.LoadUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"ADMIN", "USER"}, details.Roles)
	hasher := security.NewBcryptHasher(security.MinCost)
	assert.True(t, hasher.Verify("s3cret", details.PasswordHash))

	_, err = execute(t, "rotated\n", "user", "passwd", "alice", "--db", dbPath)
	require.NoError(t, err)
	details, err = repo.LoadUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, hasher.Verify("rotated", details.PasswordHash))

	_, err = execute(t, "", "user", "disable", "alice", "--db", dbPath)
	require.NoError(t, err)
	details, err = repo.LoadUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, details.Enabled)

	_, err = execute(t, "n\n", "user", "delete", "alice", "--db", dbPath)
	require.NoError(t, err)
	_, err = repo.GetByUsername(ctx, "alice")
	require.NoError(t, err, "declined deletion must keep the user")

	_, err = execute(t, "y\n", "user", "delete", "alice", "--db", dbPath)
	require.NoError(t, err)
	_, err = repo.GetByUsername(ctx, "alice")
	assert.ErrorIs(t, err, users.ErrUserNotFound)
}

func TestUserCreateDefaultRole(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "users.db")

	_, err := execute(t, "pw\n", "user", "create", "bob", "--db", dbPath)
	require.NoError(t, err)

	details, err := openTestRepo(t, dbPath).LoadUserByUsername(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{security.RoleUser}, details.Roles)
}

func TestUserCreateDuplicate(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "users.db")

	_, err := execute(t, "pw\n", "user", "create", "bob", "--db", dbPath)
	require.NoError(t, err)
	_, err = execute(t, "pw\n", "user", "create", "bob", "--db", dbPath)
	assert.ErrorIs(t, err, users.ErrUsernameExists)
}

func TestDeleteUnknownUser(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "users.db")

	_, err := execute(t, "", "user", "delete", "ghost", "--yes", "--db", dbPath)
	assert.ErrorIs(t, err, users.ErrUserNotFound)
}

func TestHash(t *testing.T) {
	out, err := execute(t, "hunter2\n", "hash", "--cost", "11")
	require.NoError(t, err)

	hash := strings.TrimSpace(out)
	assert.True(t, strings.HasPrefix(hash, "$2a$11$"), "unexpected hash %q", hash)
	assert.True(t, security.NewBcryptHasher(11).Verify("hunter2", hash))
}
