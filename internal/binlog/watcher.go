// Package binlog follows the MySQL binary log and signals which entity kinds
// have pending changes. It only schedules passes; the sync engine remains
// the source of truth for what changed.
package binlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/go-mysql-org/go-mysql/replication"
	driver "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"

	"idm-connector/internal/config"
	"idm-connector/internal/entity"
	"idm-connector/internal/metrics"
)

// Watcher reads row events and turns writes to identity tables into
// coalesced per-kind triggers.
type Watcher struct {
	cfg      replication.BinlogSyncerConfig
	schema   string
	db       *sql.DB
	logger   *logrus.Logger
	triggers map[entity.Kind]chan struct{}
}

// NewWatcher prepares a watcher using the connection settings of dbCfg. db
// is used to find the current binlog position.
func NewWatcher(dbCfg *config.DatabaseConfig, cfg *config.BinlogConfig, db *sql.DB, logger *logrus.Logger) (*Watcher, error) {
	host, port, user, password, name := dbCfg.Host, dbCfg.Port, dbCfg.User, dbCfg.Password, dbCfg.Name
	if dbCfg.DSN != "" {
		parsed, err := driver.ParseDSN(dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("invalid database dsn: %w", err)
		}
		h, p, err := net.SplitHostPort(parsed.Addr)
		if err != nil {
			return nil, fmt.Errorf("invalid database address %q: %w", parsed.Addr, err)
		}
		if port, err = strconv.Atoi(p); err != nil {
			return nil, fmt.Errorf("invalid database port %q", p)
		}
		host, user, password, name = h, parsed.User, parsed.Passwd, parsed.DBName
	}

	schema := cfg.Schema
	if schema == "" {
		schema = name
	}

	return &Watcher{
		cfg: replication.BinlogSyncerConfig{
			ServerID: cfg.ServerID,
			Flavor:   cfg.Flavor,
			Host:     host,
			Port:     uint16(port),
			User:     user,
			Password: password,
		},
		schema:   schema,
		db:       db,
		logger:   logger,
		triggers: newTriggers(),
	}, nil
}

func newTriggers() map[entity.Kind]chan struct{} {
	triggers := make(map[entity.Kind]chan struct{}, len(entity.Kinds))
	for _, k := range entity.Kinds {
		triggers[k] = make(chan struct{}, 1)
	}
	return triggers
}

// Triggers returns the channel signalled when kind has pending writes. Many
// writes between two receives collapse into one signal.
func (w *Watcher) Triggers(kind entity.Kind) <-chan struct{} {
	return w.triggers[kind]
}

// Run follows the binlog from its current end until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	pos, err := w.currentPosition(ctx)
	if err != nil {
		return err
	}

	syncer := replication.NewBinlogSyncer(w.cfg)
	defer syncer.Close()

	streamer, err := syncer.StartSync(pos)
	if err != nil {
		return fmt.Errorf("failed to start binlog sync: %w", err)
	}
	w.logger.Infof("Started binlog sync from position: %s:%d", pos.Name, pos.Pos)

	for {
		event, err := streamer.GetEvent(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("Context cancelled, stopping binlog watcher")
				return nil
			}
			return fmt.Errorf("failed to get binlog event: %w", err)
		}
		w.handle(event)
	}
}

func (w *Watcher) handle(event *replication.BinlogEvent) {
	switch e := event.Event.(type) {
	case *replication.RowsEvent:
		if e.Table == nil {
			return
		}
		schema, table := string(e.Table.Schema), string(e.Table.Table)
		if w.schema != "" && !strings.EqualFold(schema, w.schema) {
			return
		}
		for _, kind := range entity.ForTable(table) {
			w.signal(kind)
			w.logger.Debugf("Row event on %s.%s triggers %s pass", schema, table, kind)
		}
	case *replication.RotateEvent:
		w.logger.Infof("Binlog rotated to: %s", string(e.NextLogName))
	}
}

func (w *Watcher) signal(kind entity.Kind) {
	ch, ok := w.triggers[kind]
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
		metrics.BinlogTriggers.WithLabelValues(string(kind)).Inc()
	default:
	}
}

// currentPosition returns the end of the binlog. Writes before it are picked
// up by the first interval pass.
func (w *Watcher) currentPosition(ctx context.Context) (mysql.Position, error) {
	var pos mysql.Position
	for _, query := range []string{"SHOW MASTER STATUS", "SHOW BINARY LOG STATUS"} {
		rows, err := w.db.QueryContext(ctx, query)
		if err != nil {
			continue
		}
		pos, err = scanPosition(rows)
		rows.Close()
		if err == nil {
			return pos, nil
		}
		w.logger.Debugf("%s: %v", query, err)
	}
	return pos, errors.New("failed to read binlog position: is binary logging enabled?")
}

func scanPosition(rows *sql.Rows) (mysql.Position, error) {
	cols, err := rows.Columns()
	if err != nil {
		return mysql.Position{}, err
	}
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return mysql.Position{}, err
		}
		return mysql.Position{}, errors.New("no binlog status")
	}

	// Column count differs across versions; only the first two matter
	values := make([]sql.RawBytes, len(cols))
	dest := make([]any, len(cols))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return mysql.Position{}, err
	}
	if len(values) < 2 {
		return mysql.Position{}, errors.New("unexpected binlog status columns")
	}
	offset, err := strconv.ParseUint(string(values[1]), 10, 32)
	if err != nil {
		return mysql.Position{}, fmt.Errorf("invalid binlog offset %q", values[1])
	}
	return mysql.Position{Name: string(values[0]), Pos: uint32(offset)}, nil
}
