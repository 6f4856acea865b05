package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"idm-connector/internal/entity"
)

// Check validates the connection, the identity tables and, for MySQL, the
// grants the connector needs. When binlog is set it also verifies that row
// based binary logging is available for change triggers.
func (s *Store) Check(ctx context.Context, binlog bool) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to %s server: %w", s.dialect.Name, err)
	}

	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("connection test query failed: %w", err)
	}
	s.logger.Info("Connection test passed")

	tables := []string{entity.MembershipTable}
	for _, k := range entity.Kinds {
		d, _ := entity.Lookup(k)
		tables = append(tables, d.Table)
	}
	for _, table := range tables {
		rows, err := s.db.QueryContext(ctx, "SELECT 1 FROM "+table+" WHERE 1 = 0")
		if err != nil {
			return fmt.Errorf("table %s is not accessible: %w", table, err)
		}
		rows.Close()
	}
	s.logger.Infof("Identity tables present: %s", strings.Join(tables, ", "))

	if s.dialect.Name != "mysql" {
		return nil
	}

	required := []string{"SELECT", "INSERT", "UPDATE", "DELETE"}
	if binlog {
		required = append(required, "REPLICATION SLAVE", "REPLICATION CLIENT")
	}
	if err := s.checkGrants(ctx, required); err != nil {
		return err
	}

	if binlog {
		return s.checkBinlog(ctx)
	}
	return nil
}

func (s *Store) checkGrants(ctx context.Context, required []string) error {
	// SHOW GRANTS can return multiple rows
	var allGrants strings.Builder
	rows, err := s.db.QueryContext(ctx, "SHOW GRANTS FOR CURRENT_USER()")
	if err != nil {
		rows, err = s.db.QueryContext(ctx, "SHOW GRANTS")
		if err != nil {
			return fmt.Errorf("failed to check grants: %w", err)
		}
	}
	defer rows.Close()

	for rows.Next() {
		var grant string
		if err := rows.Scan(&grant); err != nil {
			return fmt.Errorf("failed to scan grant: %w", err)
		}
		if allGrants.Len() > 0 {
			allGrants.WriteString("; ")
		}
		allGrants.WriteString(grant)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating grants: %w", err)
	}

	if missing := missingPrivileges(allGrants.String(), required); len(missing) > 0 {
		return fmt.Errorf("missing required permissions: %s. Current grants: %s",
			strings.Join(missing, ", "), allGrants.String())
	}

	s.logger.Info("All required permissions verified")
	return nil
}

// missingPrivileges reports which of required do not appear in grants.
// ALL PRIVILEGES satisfies everything.
func missingPrivileges(grants string, required []string) []string {
	upper := strings.ToUpper(grants)
	if strings.Contains(upper, "ALL PRIVILEGES") {
		return nil
	}
	var missing []string
	for _, priv := range required {
		if !strings.Contains(upper, priv) {
			missing = append(missing, priv)
		}
	}
	return missing
}

func (s *Store) checkBinlog(ctx context.Context) error {
	logBin, err := s.variable(ctx, "log_bin")
	if err != nil {
		s.logger.Warn("Could not verify binlog status")
	} else if logBin != "ON" && logBin != "1" {
		return fmt.Errorf("binary logging (log_bin) is not enabled. Current value: %s. Enable it in MySQL configuration", logBin)
	} else {
		s.logger.Info("Binary logging is enabled")
	}

	format, err := s.variable(ctx, "binlog_format")
	if err == nil && format != "ROW" {
		s.logger.Warnf("binlog_format is set to '%s', but ROW format is required for change triggers", format)
	} else if format == "ROW" {
		s.logger.Info("binlog_format is set to ROW")
	}
	return nil
}

func (s *Store) variable(ctx context.Context, name string) (string, error) {
	var key, value string
	err := s.db.QueryRowContext(ctx, "SHOW VARIABLES LIKE '"+name+"'").Scan(&key, &value)
	if err == nil {
		return value, nil
	}
	var alt sql.NullString
	if err := s.db.QueryRowContext(ctx, "SELECT @@"+name).Scan(&alt); err != nil {
		return "", err
	}
	return alt.String, nil
}
