package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	// Registers the "sqlite" driver (pure Go).
	_ "modernc.org/sqlite"

	"outage-notifier/pkg/outage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore keeps users in a single SQLite table.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens (or creates) the database at path and applies migrations.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite is a single-writer engine.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, p := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	logger.Info("SQLite user store opened", "path", path)
	return &SQLiteStore{db: db, logger: logger}, nil
}

// migrate executes embedded SQL files in name order, each in its own transaction.
func migrate(ctx context.Context, db *sql.DB) error {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		stmt, err := fs.ReadFile(migrationsFS, "migrations/"+e.Name())
		if err != nil {
			return err
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(stmt)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%s: %w", e.Name(), err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save inserts or updates a user.
func (s *SQLiteStore) Save(ctx context.Context, u *outage.User) error {
	if u == nil {
		return errors.New("nil user")
	}
	created := u.CreatedAt.UTC().Unix()
	if u.CreatedAt.IsZero() {
		created = time.Now().UTC().Unix()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, created_at, subqueue, daily_hour, daily_minute, remind_minutes, paused)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			subqueue       = excluded.subqueue,
			daily_hour     = excluded.daily_hour,
			daily_minute   = excluded.daily_minute,
			remind_minutes = excluded.remind_minutes,
			paused         = excluded.paused`,
		u.ID, created, u.Subqueue, u.DailyHour, u.DailyMinute, u.LeadMinutes, boolToInt(u.Paused),
	)
	if err != nil {
		return fmt.Errorf("upsert user %d: %w", u.ID, err)
	}
	s.logger.Info("User saved", "user_id", u.ID, "subqueue", u.Subqueue)
	return nil
}

const selectUsers = `SELECT id, created_at, subqueue, daily_hour, daily_minute, remind_minutes, paused FROM users`

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*outage.User, error) {
	var (
		u       outage.User
		created int64
		paused  int
	)
	if err := row.Scan(&u.ID, &created, &u.Subqueue, &u.DailyHour, &u.DailyMinute, &u.LeadMinutes, &paused); err != nil {
		return nil, err
	}
	u.CreatedAt = time.Unix(created, 0).UTC()
	u.Paused = paused != 0
	return &u, nil
}

// Load loads a user by chat id.
func (s *SQLiteStore) Load(ctx context.Context, id int64) (*outage.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, selectUsers+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load user %d: %w", id, err)
	}
	return u, nil
}

// Delete removes a user. Deleting a missing user is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete user %d: %w", id, err)
	}
	s.logger.Info("User deleted", "user_id", id)
	return nil
}

// List lists all users ordered by chat id.
func (s *SQLiteStore) List(ctx context.Context) ([]*outage.User, error) {
	rows, err := s.db.QueryContext(ctx, selectUsers+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn("Failed to close rows", "error", closeErr)
		}
	}()

	var users []*outage.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

// SetPaused updates a user's paused flag and returns the stored record.
func (s *SQLiteStore) SetPaused(ctx context.Context, id int64, paused bool) (*outage.User, error) {
	return s.update(ctx, id, `UPDATE users SET paused = ? WHERE id = ?`, boolToInt(paused), id)
}

// SetSubqueue sets a user's subqueue, resumes them, and returns the stored record.
func (s *SQLiteStore) SetSubqueue(ctx context.Context, id int64, subqueue string) (*outage.User, error) {
	if !outage.ValidSubqueue(subqueue) {
		return nil, fmt.Errorf("invalid subqueue %q", subqueue)
	}
	return s.update(ctx, id, `UPDATE users SET subqueue = ?, paused = 0 WHERE id = ?`, subqueue, id)
}

func (s *SQLiteStore) update(ctx context.Context, id int64, query string, args ...any) (*outage.User, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("update user %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrNotFound
	}
	return s.Load(ctx, id)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
