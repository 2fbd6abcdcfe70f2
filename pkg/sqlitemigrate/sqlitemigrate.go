// Package sqlitemigrate applies embedded SQL migrations to a SQLite database,
// each file at most once.
package sqlitemigrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

const table = "schema_migrations"

const (
	upMarker   = "-- +migrate Up"
	downMarker = "-- +migrate Down"
)

// Apply runs every *.sql file under dir in fsys, in name order, skipping the
// ones already recorded in schema_migrations. Each file runs in its own
// transaction together with its record.
func Apply(ctx context.Context, db *sql.DB, fsys fs.FS, dir string) error {
	if db == nil {
		return errors.New("sql db is required")
	}
	dir = strings.TrimSpace(dir)
	if dir == "" {
		dir = "."
	}
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS `+table+` (
  name TEXT PRIMARY KEY,
  applied_at INTEGER NOT NULL
)`); err != nil {
		return fmt.Errorf("ensure %s: %w", table, err)
	}

	for _, name := range files {
		applied, err := isApplied(ctx, db, name)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if applied {
			continue
		}
		content, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if err := apply(ctx, db, name, UpSection(string(content))); err != nil {
			return err
		}
	}
	return nil
}

func apply(ctx context.Context, db *sql.DB, name, up string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", name, err)
	}
	defer tx.Rollback()
	if strings.TrimSpace(up) != "" {
		if _, err := tx.ExecContext(ctx, up); err != nil {
			return fmt.Errorf("exec migration %s: %w", name, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO `+table+` (name, applied_at) VALUES (?, ?)`,
		name, time.Now().UTC().UnixMilli(),
	); err != nil {
		return fmt.Errorf("record migration %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", name, err)
	}
	return nil
}

// UpSection returns the statements between the Up and Down markers, or the
// whole file when it has no Up marker.
func UpSection(content string) string {
	i := strings.Index(content, upMarker)
	if i == -1 {
		return content
	}
	rest := content[i+len(upMarker):]
	if j := strings.Index(rest, downMarker); j != -1 {
		return rest[:j]
	}
	return rest
}

func isApplied(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var one int
	err := db.QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE name = ?`, name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
