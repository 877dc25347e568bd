package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/krishng03/yt-sum/internal/models"
)

// schemaVersion is the latest schema version. Bump it when adding migrations.
const schemaVersion = 1

type SQLiteBackend struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database file at path and applies
// migrations.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	_ = os.Chmod(path, 0o600)

	return &SQLiteBackend{db: db}, nil
}

func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return fmt.Errorf("failed to get user_version: %w", err)
	}

	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS users (
		  id            INTEGER PRIMARY KEY AUTOINCREMENT,
		  username      TEXT NOT NULL UNIQUE,
		  password_hash TEXT NOT NULL,
		  created_at    INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS analysis_records (
		  id              TEXT PRIMARY KEY,
		  owner_id        INTEGER NOT NULL,
		  video_url       TEXT NOT NULL,
		  video_json      TEXT NOT NULL,
		  summary_json    TEXT NOT NULL,
		  flashcards_json TEXT NOT NULL,
		  tldr_json       TEXT NOT NULL,
		  lang            TEXT NOT NULL,
		  notes           TEXT NOT NULL DEFAULT '',
		  created_at      INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_records_owner_created
		ON analysis_records(owner_id, created_at DESC);

		CREATE INDEX IF NOT EXISTS idx_records_url_created
		ON analysis_records(video_url, created_at DESC);

		CREATE TABLE IF NOT EXISTS revoked_sessions (
		  token_id   TEXT PRIMARY KEY,
		  expires_at INTEGER NOT NULL
		);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", schemaVersion)); err != nil {
			return fmt.Errorf("failed to set user_version: %w", err)
		}
	}

	return nil
}

func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (b *SQLiteBackend) InsertRecord(ctx context.Context, rec *models.AnalysisRecord) error {
	video, err := json.Marshal(rec.Video)
	if err != nil {
		return err
	}
	summary, err := json.Marshal(rec.Summary)
	if err != nil {
		return err
	}
	flashcards, err := json.Marshal(rec.Flashcards)
	if err != nil {
		return err
	}
	tldr, err := json.Marshal(rec.TLDR)
	if err != nil {
		return err
	}

	_, err = b.db.ExecContext(ctx, `
		INSERT INTO analysis_records
		  (id, owner_id, video_url, video_json, summary_json, flashcards_json, tldr_json, lang, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.OwnerID, rec.VideoURL, string(video), string(summary), string(flashcards), string(tldr),
		rec.Language, rec.Notes, rec.CreatedAt.UnixNano(),
	)
	return err
}

func (b *SQLiteBackend) ListRecords(ctx context.Context, owner int64) ([]models.AnalysisRecord, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, owner_id, video_url, video_json, summary_json, flashcards_json, tldr_json, lang, notes, created_at
		FROM analysis_records
		WHERE owner_id = ?
		ORDER BY created_at DESC, id DESC`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.AnalysisRecord
	for rows.Next() {
		var (
			rec                              models.AnalysisRecord
			video, summary, flashcards, tldr string
			createdAt                        int64
		)
		if err := rows.Scan(&rec.ID, &rec.OwnerID, &rec.VideoURL, &video, &summary, &flashcards, &tldr,
			&rec.Language, &rec.Notes, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(video), &rec.Video); err != nil {
			return nil, fmt.Errorf("record %s: bad video_json: %w", rec.ID, err)
		}
		if err := json.Unmarshal([]byte(summary), &rec.Summary); err != nil {
			return nil, fmt.Errorf("record %s: bad summary_json: %w", rec.ID, err)
		}
		if err := json.Unmarshal([]byte(flashcards), &rec.Flashcards); err != nil {
			return nil, fmt.Errorf("record %s: bad flashcards_json: %w", rec.ID, err)
		}
		if err := json.Unmarshal([]byte(tldr), &rec.TLDR); err != nil {
			return nil, fmt.Errorf("record %s: bad tldr_json: %w", rec.ID, err)
		}
		rec.CreatedAt = time.Unix(0, createdAt).UTC()
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (b *SQLiteBackend) LatestNotes(ctx context.Context, owner int64, videoURL string) (string, error) {
	var notes string
	err := b.db.QueryRowContext(ctx, `
		SELECT notes FROM analysis_records
		WHERE video_url = ? AND (? = 0 OR owner_id = ?)
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, videoURL, owner, owner).Scan(&notes)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return notes, err
}

func (b *SQLiteBackend) UpdateLatestNotes(ctx context.Context, owner int64, videoURL, notes string) error {
	res, err := b.db.ExecContext(ctx, `
		UPDATE analysis_records SET notes = ?
		WHERE id = (
		  SELECT id FROM analysis_records
		  WHERE video_url = ? AND (? = 0 OR owner_id = ?)
		  ORDER BY created_at DESC, id DESC
		  LIMIT 1
		)`, notes, videoURL, owner, owner)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (b *SQLiteBackend) InsertUser(ctx context.Context, username, passwordHash string, createdAt time.Time) (*models.User, error) {
	res, err := b.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)`,
		username, passwordHash, createdAt.UnixNano())
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &models.User{ID: id, Username: username, PasswordHash: passwordHash, CreatedAt: createdAt}, nil
}

func (b *SQLiteBackend) UserByUsername(ctx context.Context, username string) (*models.User, error) {
	return b.scanUser(b.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at FROM users WHERE username = ?`, username))
}

func (b *SQLiteBackend) UserByID(ctx context.Context, id int64) (*models.User, error) {
	return b.scanUser(b.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at FROM users WHERE id = ?`, id))
}

func (b *SQLiteBackend) scanUser(row *sql.Row) (*models.User, error) {
	var (
		user      models.User
		createdAt int64
	)
	if err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	user.CreatedAt = time.Unix(0, createdAt).UTC()
	return &user, nil
}

func (b *SQLiteBackend) InsertRevocation(ctx context.Context, tokenID string, expiresAt time.Time) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO revoked_sessions (token_id, expires_at) VALUES (?, ?)
		ON CONFLICT(token_id) DO UPDATE SET expires_at = excluded.expires_at`,
		tokenID, expiresAt.UnixNano())
	return err
}

func (b *SQLiteBackend) RevocationExists(ctx context.Context, tokenID string) (bool, error) {
	var one int
	err := b.db.QueryRowContext(ctx,
		`SELECT 1 FROM revoked_sessions WHERE token_id = ?`, tokenID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (b *SQLiteBackend) DeleteRevocationsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := b.db.ExecContext(ctx,
		`DELETE FROM revoked_sessions WHERE expires_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (b *SQLiteBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

func (b *SQLiteBackend) Close(_ context.Context) error {
	return b.db.Close()
}
