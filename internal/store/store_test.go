package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idm-connector/internal/config"
	"idm-connector/internal/models"
	"idm-connector/internal/testutil"
)

var t0 = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

// createTestStore opens a bootstrapped SQLite store driven by clock.
func createTestStore(t *testing.T, clock *testutil.Clock) *Store {
	t.Helper()
	cfg := &config.DatabaseConfig{
		Driver:    "sqlite3",
		Path:      filepath.Join(t.TempDir(), "idm.db"),
		Bootstrap: true,
	}
	s, err := Open(context.Background(), cfg, testutil.Logger(), WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func strp(s string) *string { return &s }
func boolp(b bool) *bool    { return &b }

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idm.db")
	cfg := &config.DatabaseConfig{Driver: "sqlite3", Path: path, Bootstrap: true}

	for i := 0; i < 3; i++ {
		s, err := Open(context.Background(), cfg, testutil.Logger())
		require.NoError(t, err, "iteration %d", i)
		assert.Equal(t, "sqlite3", s.Dialect())
		require.NoError(t, s.Close())
	}
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), &config.DatabaseConfig{Driver: "oracle"}, testutil.Logger())
	assert.EqualError(t, err, `unsupported database driver "oracle"`)
}

func TestAccountLifecycle(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewClock(t0)
	s := createTestStore(t, clock)

	id, err := s.CreateAccount(ctx, models.AccountInput{
		Username: strp("jdoe"),
		FullName: strp("John Doe"),
		Email:    strp("jdoe@example.com"),
	})
	require.NoError(t, err)

	acc, err := s.GetAccount(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "jdoe", acc.Username)
	assert.Equal(t, "John Doe", acc.FullName)
	assert.True(t, acc.IsActive)
	assert.True(t, acc.CreatedAt.Equal(t0))
	assert.True(t, acc.LastModifiedAt.Equal(t0))
	assert.Equal(t, []string{}, acc.MemberOf)

	later := clock.Advance(time.Hour)
	require.NoError(t, s.UpdateAccount(ctx, id, models.AccountInput{IsActive: boolp(false), Email: strp("john@example.com")}))

	acc, err = s.GetAccount(ctx, id)
	require.NoError(t, err)
	assert.False(t, acc.IsActive)
	assert.Equal(t, "john@example.com", acc.Email)
	assert.Equal(t, "John Doe", acc.FullName, "unset fields are kept")
	assert.True(t, acc.CreatedAt.Equal(t0))
	assert.True(t, acc.LastModifiedAt.Equal(later))

	require.NoError(t, s.DeleteAccount(ctx, id))
	_, err = s.GetAccount(ctx, id)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestAccountValidation(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t, testutil.NewClock(t0))

	_, err := s.CreateAccount(ctx, models.AccountInput{})
	assert.EqualError(t, err, "username is required")

	id, err := s.CreateAccount(ctx, models.AccountInput{Username: strp("a")})
	require.NoError(t, err)

	assert.EqualError(t, s.UpdateAccount(ctx, id, models.AccountInput{}), "no attributes to update")
	assert.EqualError(t, s.UpdateAccount(ctx, id, models.AccountInput{Username: strp(" ")}), "username must not be empty")

	_, err = s.CreateAccount(ctx, models.AccountInput{Username: strp("a")})
	assert.Error(t, err, "username is unique")

	assert.True(t, errors.Is(s.UpdateAccount(ctx, "999", models.AccountInput{Email: strp("x")}), ErrNotFound))
	assert.True(t, errors.Is(s.DeleteAccount(ctx, "999"), ErrNotFound))
	_, err = s.GetAccount(ctx, "not-a-number")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListAccounts(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t, testutil.NewClock(t0))

	for _, name := range []string{"alice", "bob", "carol"} {
		_, err := s.CreateAccount(ctx, models.AccountInput{Username: strp(name)})
		require.NoError(t, err)
	}

	all, err := s.ListAccounts(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "alice", all[0].Username)
	assert.Equal(t, "carol", all[2].Username)

	page, err := s.ListAccounts(ctx, ListOptions{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "bob", page[0].Username)

	byName, err := s.ListAccounts(ctx, ListOptions{Name: "carol"})
	require.NoError(t, err)
	require.Len(t, byName, 1)
	assert.Equal(t, "carol", byName[0].Username)

	none, err := s.ListAccounts(ctx, ListOptions{Name: "mallory"})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestPermissionLifecycle(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewClock(t0)
	s := createTestStore(t, clock)

	uid, err := s.CreatePermission(ctx, models.PermissionInput{
		Code:        strp("vpn"),
		DisplayName: strp("VPN access"),
		Category:    strp("network"),
	})
	require.NoError(t, err)

	perm, err := s.GetPermission(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, "vpn", perm.Code)
	assert.Equal(t, "network", perm.Category)
	assert.Equal(t, []string{}, perm.Members)

	later := clock.Advance(time.Minute)
	require.NoError(t, s.UpdatePermission(ctx, uid, models.PermissionInput{DisplayName: strp("Corporate VPN")}))
	perm, err = s.GetPermission(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, "Corporate VPN", perm.DisplayName)
	assert.True(t, perm.LastModifiedAt.Equal(later))

	list, err := s.ListPermissions(ctx, ListOptions{Name: "vpn"})
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, s.DeletePermission(ctx, uid))
	_, err = s.GetPermission(ctx, uid)
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = s.CreatePermission(ctx, models.PermissionInput{})
	assert.EqualError(t, err, "code is required")
}

func TestMembershipStampsParents(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewClock(t0)
	s := createTestStore(t, clock)

	aid, err := s.CreateAccount(ctx, models.AccountInput{Username: strp("jdoe")})
	require.NoError(t, err)
	pid, err := s.CreatePermission(ctx, models.PermissionInput{Code: strp("vpn")})
	require.NoError(t, err)

	granted := clock.Advance(time.Minute)
	require.NoError(t, s.Grant(ctx, aid, pid))
	require.NoError(t, s.Grant(ctx, aid, pid), "granting twice is a no-op")

	acc, err := s.GetAccount(ctx, aid)
	require.NoError(t, err)
	assert.Equal(t, []string{pid}, acc.MemberOf)
	assert.True(t, acc.LastModifiedAt.Equal(granted))

	perm, err := s.GetPermission(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, []string{aid}, perm.Members)
	assert.True(t, perm.LastModifiedAt.Equal(granted))

	revoked := clock.Advance(time.Minute)
	require.NoError(t, s.Revoke(ctx, aid, pid))
	assert.True(t, errors.Is(s.Revoke(ctx, aid, pid), ErrNotFound))

	acc, err = s.GetAccount(ctx, aid)
	require.NoError(t, err)
	assert.Empty(t, acc.MemberOf)
	assert.True(t, acc.LastModifiedAt.Equal(revoked))

	assert.True(t, errors.Is(s.Grant(ctx, aid, "999"), ErrNotFound))
	assert.True(t, errors.Is(s.Grant(ctx, "999", pid), ErrNotFound))
}

func TestDeleteAccountStampsPermissions(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewClock(t0)
	s := createTestStore(t, clock)

	aid, err := s.CreateAccount(ctx, models.AccountInput{Username: strp("jdoe")})
	require.NoError(t, err)
	pid, err := s.CreatePermission(ctx, models.PermissionInput{Code: strp("vpn")})
	require.NoError(t, err)
	require.NoError(t, s.Grant(ctx, aid, pid))

	deleted := clock.Advance(time.Hour)
	require.NoError(t, s.DeleteAccount(ctx, aid))

	perm, err := s.GetPermission(ctx, pid)
	require.NoError(t, err)
	assert.Empty(t, perm.Members)
	assert.True(t, perm.LastModifiedAt.Equal(deleted))
}

func TestCheck_SQLite(t *testing.T) {
	s := createTestStore(t, testutil.NewClock(t0))
	assert.NoError(t, s.Check(context.Background(), false))
}

func TestMissingPrivileges(t *testing.T) {
	required := []string{"SELECT", "INSERT", "REPLICATION SLAVE"}

	assert.Nil(t, missingPrivileges("GRANT ALL PRIVILEGES ON *.* TO `idm`@`%`", required))
	assert.Equal(t, []string{"REPLICATION SLAVE"},
		missingPrivileges("GRANT SELECT, INSERT ON `identity`.* TO `idm`@`%`", required))
	assert.Equal(t, required, missingPrivileges("GRANT USAGE ON *.* TO `idm`@`%`", required))
}

func TestNullTimeScan(t *testing.T) {
	want := time.Date(2024, 6, 1, 9, 30, 15, 123456000, time.UTC)

	cases := map[string]interface{}{
		"time":         want.In(time.FixedZone("X", 7200)),
		"sqlite text": "2024-06-01 09:30:15.123456+00:00",
		"mysql bytes": []byte("2024-06-01 09:30:15.123456"),
		"iso with tz": "2024-06-01T11:30:15.123456+02:00",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			var n NullTime
			require.NoError(t, n.Scan(in))
			assert.True(t, n.Valid)
			assert.True(t, n.Time.Equal(want), "got %s", n.Time)
		})
	}

	var n NullTime
	require.NoError(t, n.Scan(nil))
	assert.False(t, n.Valid)

	assert.Error(t, n.Scan("yesterday"))
	assert.Error(t, n.Scan(42))
}

func TestNormalize(t *testing.T) {
	in := time.Date(2024, 1, 1, 3, 0, 0, 123456789, time.FixedZone("X", 3*3600))
	out := Normalize(in)
	assert.Equal(t, time.UTC, out.Location())
	assert.Equal(t, 123456000, out.Nanosecond())
	assert.Equal(t, 0, out.Hour())
}

func TestMySQLDSN(t *testing.T) {
	t.Run("from fields", func(t *testing.T) {
		dsn, err := mysqlDSN(&config.DatabaseConfig{Host: "db", Port: 3306, User: "idm", Password: "pw", Name: "identity"})
		require.NoError(t, err)

		mc, err := mysql.ParseDSN(dsn)
		require.NoError(t, err)
		assert.Equal(t, "db:3306", mc.Addr)
		assert.True(t, mc.ParseTime)
		assert.Equal(t, time.UTC, mc.Loc)
		assert.Equal(t, "4294967295", mc.Params["group_concat_max_len"])
	})

	t.Run("explicit dsn keeps its params", func(t *testing.T) {
		dsn, err := mysqlDSN(&config.DatabaseConfig{DSN: "idm:pw@tcp(db:3306)/identity?wait_timeout=60"})
		require.NoError(t, err)

		mc, err := mysql.ParseDSN(dsn)
		require.NoError(t, err)
		assert.Equal(t, "60", mc.Params["wait_timeout"])
		assert.Equal(t, "4294967295", mc.Params["group_concat_max_len"])
	})
}
