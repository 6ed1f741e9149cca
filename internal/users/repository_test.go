package users

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/demo-security/internal/auth"
	"github.com/yourusername/demo-security/internal/security"
)

// testRepo は一時ファイルの SQLite を使った Repository を返します。
func testRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	// WAL を使うため :memory: ではなく一時ファイルにする
	dbPath := filepath.Join(t.TempDir(), "users.db")
	db, err := Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := NewRepository(db)
	require.NoError(t, repo.Migrate(context.Background()))
	return repo
}

var testHasher = security.NewBcryptHasher(security.MinCost)

func TestCreateAndLoad(t *testing.T) {
	t.Parallel()
	repo := testRepo(t)
	ctx := context.Background()

	user, err := Register(ctx, repo, testHasher, "alice", "secret", "ROLE_ADMIN", "USER", "ADMIN")
	require.NoError(t, err)
	assert.Regexp(t, `^usr-[0-9a-f]{8}$`, user.ID)
	assert.Equal(t, []string{"ADMIN", "USER"}, user.Roles)

	details, err := repo.LoadUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", details.Username)
	assert.Equal(t, []string{"ADMIN", "USER"}, details.Roles)
	assert.True(t, details.Enabled)
	assert.True(t, testHasher.Verify("secret", details.PasswordHash))

	stored, err := repo.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, user.ID, stored.ID)
	assert.False(t, stored.CreatedAt.IsZero())
}

func TestLoadUnknownUser(t *testing.T) {
	t.Parallel()
	repo := testRepo(t)

	_, err := repo.LoadUserByUsername(context.Background(), "nobody")
	assert.ErrorIs(t, err, auth.ErrUserNotFound)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestCreateDuplicate(t *testing.T) {
	t.Parallel()
	repo := testRepo(t)
	ctx := context.Background()

	_, err := Register(ctx, repo, testHasher, "bob", "secret", security.RoleUser)
	require.NoError(t, err)
	_, err = Register(ctx, repo, testHasher, "bob", "other", security.RoleUser)
	assert.ErrorIs(t, err, ErrUsernameExists)
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()
	repo := testRepo(t)
	ctx := context.Background()

	_, err := Register(ctx, repo, testHasher, "bad name", "secret")
	assert.ErrorIs(t, err, ErrInvalidUser)

	_, err = Register(ctx, repo, testHasher, "dave", "")
	assert.ErrorIs(t, err, ErrInvalidUser)

	_, err = Register(ctx, repo, testHasher, "erin", "secret", "A,B")
	assert.ErrorIs(t, err, ErrInvalidUser)

	err = repo.Create(ctx, &User{Username: "frank"})
	assert.ErrorIs(t, err, ErrInvalidUser)
}

func TestUpdateAndDelete(t *testing.T) {
	t.Parallel()
	repo := testRepo(t)
	ctx := context.Background()

	_, err := Register(ctx, repo, testHasher, "bob", "secret", security.RoleUser)
	require.NoError(t, err)

	hash, err := testHasher.Hash("rotated")
	require.NoError(t, err)
	require.NoError(t, repo.UpdatePassword(ctx, "bob", hash))
	details, err := repo.LoadUserByUsername(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, testHasher.Verify("rotated", details.PasswordHash))

	require.NoError(t, repo.SetEnabled(ctx, "bob", false))
	details, err = repo.LoadUserByUsername(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, details.Enabled)

	require.NoError(t, repo.Delete(ctx, "bob"))
	_, err = repo.GetByUsername(ctx, "bob")
	assert.ErrorIs(t, err, ErrUserNotFound)

	assert.ErrorIs(t, repo.Delete(ctx, "bob"), ErrUserNotFound)
	assert.ErrorIs(t, repo.UpdatePassword(ctx, "bob", hash), ErrUserNotFound)
}

func TestSeedOnlyWhenEmpty(t *testing.T) {
	t.Parallel()
	repo := testRepo(t)
	ctx := context.Background()
	logger := log.New(io.Discard, "", 0)

	seeds := []SeedUser{
		{Username: "admin", Password: "admin-pass", Roles: []string{security.RoleAdmin}},
		{Username: "user", Password: "user-pass", Roles: []string{security.RoleUser}},
		{Username: "skipped"},
	}
	created, err := Seed(ctx, repo, testHasher, seeds, logger)
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	created, err = Seed(ctx, repo, testHasher, seeds, logger)
	require.NoError(t, err)
	assert.Zero(t, created)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestLookupErrorIsNotNotFound(t *testing.T) {
	t.Parallel()
	repo := testRepo(t)
	require.NoError(t, repo.db.Close())

	_, err := repo.LoadUserByUsername(context.Background(), "alice")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUserNotFound))
}

func TestMigrateIsIdempotent(t *testing.T) {
	t.Parallel()
	repo := testRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Migrate(ctx))

	version, err := repo.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}
