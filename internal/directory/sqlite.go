package directory

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"relaygate/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open initializes the sqlite-backed directory store, creating the schema
// if it does not exist yet.
func Open(cfg Config, log logx.Logger) (Admin, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("directory path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Resolve(ctx context.Context, groupName string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT d.chat_id
		 FROM destinations d
		 JOIN groups g ON d.group_id = g.id
		 WHERE g.group_name = ?
		 ORDER BY d.id`,
		groupName,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *sqliteStore) Authorize(ctx context.Context, apiKey, groupName string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1
		 FROM group_api_keys gak
		 JOIN keys k  ON gak.key_id   = k.id
		 JOIN groups g ON gak.group_id = g.id
		 WHERE k.api_key = ? AND g.group_name = ?`,
		apiKey, groupName,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *sqliteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return err
	}
	// Schema sanity: all four tables must exist.
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master
		 WHERE type = 'table'
		   AND name IN ('groups', 'destinations', 'keys', 'group_api_keys')`,
	).Scan(&n)
	if err != nil {
		return err
	}
	if n != 4 {
		return fmt.Errorf("directory schema incomplete: %d/4 tables", n)
	}
	return nil
}

// ---- Admin writes (seeding / tests) ----

func (s *sqliteStore) AddGroup(ctx context.Context, groupName string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO groups(group_name) VALUES(?)`, groupName)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqliteStore) AddDestination(ctx context.Context, groupName string, chatID int64) error {
	gid, err := s.groupID(ctx, groupName)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO destinations(group_id, chat_id) VALUES(?, ?)`, gid, chatID)
	return err
}

func (s *sqliteStore) AddKey(ctx context.Context, apiKey string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO keys(api_key) VALUES(?)`, apiKey)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqliteStore) GrantKey(ctx context.Context, apiKey, groupName string) error {
	gid, err := s.groupID(ctx, groupName)
	if err != nil {
		return err
	}
	var kid int64
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM keys WHERE api_key = ?`, apiKey).Scan(&kid)
	if err != nil {
		return fmt.Errorf("key lookup: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO group_api_keys(group_id, key_id) VALUES(?, ?)`, gid, kid)
	return err
}

func (s *sqliteStore) groupID(ctx context.Context, groupName string) (int64, error) {
	var gid int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM groups WHERE group_name = ?`, groupName).Scan(&gid)
	if err != nil {
		return 0, fmt.Errorf("group lookup %q: %w", groupName, err)
	}
	return gid, nil
}
