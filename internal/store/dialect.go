package store

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"

	"idm-connector/internal/config"
)

// Dialect captures the differences between the supported databases.
type Dialect struct {
	Name string
	// Schema creates the identity tables; every statement is idempotent.
	Schema []string
	// Setup runs once after connecting.
	Setup []string
}

var mysqlDialect = Dialect{
	Name: "mysql",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			account_id       BIGINT       NOT NULL AUTO_INCREMENT PRIMARY KEY,
			username         VARCHAR(255) NOT NULL,
			full_name        VARCHAR(255) NOT NULL DEFAULT '',
			email            VARCHAR(255) NOT NULL DEFAULT '',
			is_active        BOOLEAN      NOT NULL DEFAULT TRUE,
			created_at       DATETIME(6)  NOT NULL,
			last_modified_at DATETIME(6)  NOT NULL,
			UNIQUE KEY uq_accounts_username (username),
			KEY idx_accounts_modified (last_modified_at)
		)`,
		`CREATE TABLE IF NOT EXISTS permission (
			permission_uid   BIGINT       NOT NULL AUTO_INCREMENT PRIMARY KEY,
			code             VARCHAR(255) NOT NULL,
			display_name     VARCHAR(255) NOT NULL DEFAULT '',
			category         VARCHAR(255) NOT NULL DEFAULT '',
			created_at       DATETIME(6)  NOT NULL,
			last_modified_at DATETIME(6)  NOT NULL,
			UNIQUE KEY uq_permission_code (code),
			KEY idx_permission_modified (last_modified_at)
		)`,
		`CREATE TABLE IF NOT EXISTS account_permissions (
			account_id     BIGINT      NOT NULL,
			permission_uid BIGINT      NOT NULL,
			created_at     DATETIME(6) NOT NULL,
			PRIMARY KEY (account_id, permission_uid),
			KEY idx_account_permissions_permission (permission_uid)
		)`,
	},
}

var sqliteDialect = Dialect{
	Name: "sqlite3",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			account_id       INTEGER PRIMARY KEY AUTOINCREMENT,
			username         TEXT     NOT NULL UNIQUE,
			full_name        TEXT     NOT NULL DEFAULT '',
			email            TEXT     NOT NULL DEFAULT '',
			is_active        BOOLEAN  NOT NULL DEFAULT 1,
			created_at       DATETIME NOT NULL,
			last_modified_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_modified ON accounts(last_modified_at)`,
		`CREATE TABLE IF NOT EXISTS permission (
			permission_uid   INTEGER PRIMARY KEY AUTOINCREMENT,
			code             TEXT     NOT NULL UNIQUE,
			display_name     TEXT     NOT NULL DEFAULT '',
			category         TEXT     NOT NULL DEFAULT '',
			created_at       DATETIME NOT NULL,
			last_modified_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_permission_modified ON permission(last_modified_at)`,
		`CREATE TABLE IF NOT EXISTS account_permissions (
			account_id     INTEGER  NOT NULL,
			permission_uid INTEGER  NOT NULL,
			created_at     DATETIME NOT NULL,
			PRIMARY KEY (account_id, permission_uid)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_account_permissions_permission ON account_permissions(permission_uid)`,
	},
	Setup: []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	},
}

// dialectFor returns the dialect and DSN for cfg.
func dialectFor(cfg *config.DatabaseConfig) (Dialect, string, error) {
	switch cfg.Driver {
	case "mysql":
		dsn, err := mysqlDSN(cfg)
		if err != nil {
			return Dialect{}, "", err
		}
		return mysqlDialect, dsn, nil
	case "sqlite3":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = cfg.Path
		}
		return sqliteDialect, dsn, nil
	default:
		return Dialect{}, "", fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// groupConcatMaxLen is the largest value MySQL accepts on every platform.
const groupConcatMaxLen = "4294967295"

// mysqlDSN builds the driver DSN. Timestamps must come back as time.Time in
// UTC or the sync boundary comparison drifts by the server's offset.
func mysqlDSN(cfg *config.DatabaseConfig) (string, error) {
	var mc *mysql.Config
	if cfg.DSN != "" {
		parsed, err := mysql.ParseDSN(cfg.DSN)
		if err != nil {
			return "", fmt.Errorf("failed to parse MySQL DSN: %w", err)
		}
		mc = parsed
	} else {
		mc = mysql.NewConfig()
		mc.User = cfg.User
		mc.Passwd = cfg.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
		mc.DBName = cfg.Name
	}
	mc.ParseTime = true
	mc.Loc = time.UTC
	// GROUP_CONCAT silently truncates at 1024 bytes by default, which cuts
	// membership lists of large permissions.
	if mc.Params == nil {
		mc.Params = make(map[string]string)
	}
	mc.Params["group_concat_max_len"] = groupConcatMaxLen
	return mc.FormatDSN(), nil
}
