package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mrcaron/Tfs2010QueryHistoryPerfExp/pkg/vcs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteStore holds separate write and read connections.
// The write connection is limited to 1 open conn to serialize writes.
// The read pool allows concurrent reads via WAL mode.
type SQLiteStore struct {
	Write *sql.DB
	Read  *sql.DB
}

// OpenSQLite creates or opens dataDir/history.db and runs pending migrations.
func OpenSQLite(dataDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	dbPath := filepath.Join(dataDir, "history.db")

	writeDB, err := openConn(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open write connection: %w", err)
	}
	writeDB.SetMaxOpenConns(1)

	readDB, err := openConn(dbPath)
	if err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("open read connection: %w", err)
	}
	readDB.SetMaxOpenConns(16)
	readDB.SetConnMaxLifetime(5 * time.Minute)

	s := &SQLiteStore{Write: writeDB, Read: readDB}
	if err := s.migrate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	slog.Info("history store opened", "backend", BackendSQLite, "path", dbPath)
	return s, nil
}

func openConn(path string) (*sql.DB, error) {
	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.Write.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%f', 'now'))
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	err = s.Write.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current)
	if err != nil {
		return fmt.Errorf("get current migration version: %w", err)
	}
	if current >= 1 {
		slog.Debug("migrations up to date", "version", current)
		return nil
	}

	sqlBytes, err := migrations.ReadFile("migrations/001_changesets.sql")
	if err != nil {
		return fmt.Errorf("read migration 001: %w", err)
	}

	tx, err := s.Write.Begin()
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(string(sqlBytes)); err != nil {
		return fmt.Errorf("execute migration 001: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", 1); err != nil {
		return fmt.Errorf("record migration 001: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration 001: %w", err)
	}

	slog.Info("applied migration", "version", 1)
	return nil
}

func (s *SQLiteStore) Put(ctx context.Context, recs []Record) error {
	tx, err := s.Write.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO changesets
		(path, id, owner, committer, comment, created_at) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range recs {
		_, err := stmt.ExecContext(ctx, r.Path, r.ID, r.Owner, r.Committer, r.Comment,
			r.CreationDate.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("insert changeset %d for %s: %w", r.ID, r.Path, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) History(ctx context.Context, q HistoryQuery) ([]vcs.Changeset, error) {
	query := `SELECT path, id, owner, committer, comment, created_at FROM changesets WHERE path = ?`
	args := []any{q.Path}
	if q.Recursion != vcs.RecursionNone && q.Recursion != "" {
		query += ` OR path LIKE ? ESCAPE '\'`
		args = append(args, escapeLike(strings.TrimSuffix(q.Path, "/"))+"/%")
	}

	rows, err := s.Read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		var r Record
		var created string
		if err := rows.Scan(&r.Path, &r.ID, &r.Owner, &r.Committer, &r.Comment, &created); err != nil {
			return nil, fmt.Errorf("scan changeset: %w", err)
		}
		r.CreationDate, err = time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, fmt.Errorf("parse created_at for changeset %d: %w", r.ID, err)
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return selectHistory(recs, q)
}

func (s *SQLiteStore) Paths(ctx context.Context) ([]string, error) {
	rows, err := s.Read.QueryContext(ctx, "SELECT DISTINCT path FROM changesets ORDER BY path")
	if err != nil {
		return nil, fmt.Errorf("list paths: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// Close closes both connections.
func (s *SQLiteStore) Close() error {
	var errs []error
	if err := s.Write.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close write db: %w", err))
	}
	if err := s.Read.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close read db: %w", err))
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
