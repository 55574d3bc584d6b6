package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/arturoeanton/go-rag-chat-ollama/internal/adapter/store/migrations"
	"github.com/arturoeanton/go-rag-chat-ollama/internal/domain"
	"github.com/arturoeanton/go-rag-chat-ollama/internal/port"
)

// SQLiteStore is an embedded single-file backend. Vectors are stored as
// little-endian float32 blobs.
type SQLiteStore struct {
	db    *sql.DB
	path  string
	guard *writeGuard
}

var _ port.Backend = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database file at path and applies
// pending migrations.
func NewSQLiteStore(path string, dimension int) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	schema, err := fs.Sub(migrations.SQLite, "sqlite")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load migrations: %w", err)
	}
	if err := migrate(db, schema, "INSERT INTO schema_migrations (version) VALUES (?)"); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	if dimension == 0 {
		var size int
		err := db.QueryRow("SELECT length(embedding) FROM fragments ORDER BY seq LIMIT 1").Scan(&size)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			db.Close()
			return nil, fmt.Errorf("read dimension: %w", err)
		}
		dimension = size / 4
	}

	return &SQLiteStore{db: db, path: path, guard: newWriteGuard(dimension)}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Put upserts fragments by id in one transaction.
func (s *SQLiteStore) Put(ctx context.Context, fragments []domain.Fragment) error {
	return s.write(ctx, "", fragments)
}

// ReplaceBySourcePath deletes a document's fragments and inserts the new
// ones in one transaction.
func (s *SQLiteStore) ReplaceBySourcePath(ctx context.Context, path string, fragments []domain.Fragment) error {
	if err := sameSource(path, fragments); err != nil {
		return err
	}
	return s.write(ctx, path, fragments)
}

// write upserts fragments, first clearing replacePath when it is set.
func (s *SQLiteStore) write(ctx context.Context, replacePath string, fragments []domain.Fragment) (err error) {
	admitted, settle, err := s.guard.admit(fragments)
	if err != nil {
		return err
	}
	defer func() { settle(err) }()
	if len(admitted) == 0 && replacePath == "" {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if replacePath != "" {
		if _, err := tx.ExecContext(ctx, "DELETE FROM fragments WHERE source_path = ?", replacePath); err != nil {
			return fmt.Errorf("delete fragments: %w", err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO fragments (id, content, embedding, source_path, owner_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			embedding = excluded.embedding,
			source_path = excluded.source_path,
			owner_id = excluded.owner_id`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, f := range admitted {
		if _, err := stmt.ExecContext(ctx,
			f.ID, f.Content, float32SliceToBytes(f.Embedding),
			nullIfEmpty(f.SourcePath), nullIfEmpty(f.OwnerID), f.CreatedAt.UnixNano(),
		); err != nil {
			return fmt.Errorf("insert fragment %s: %w", f.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit fragments: %w", err)
	}
	return nil
}

// GetByPaths returns document fragments under paths plus the owner's chat fragments.
func (s *SQLiteStore) GetByPaths(ctx context.Context, paths []string, ownerID string) ([]domain.Fragment, error) {
	var (
		conds []string
		args  []any
	)
	if len(paths) > 0 {
		conds = append(conds, "source_path IN ("+strings.TrimSuffix(strings.Repeat("?,", len(paths)), ",")+")")
		for _, p := range paths {
			args = append(args, p)
		}
	}
	if ownerID != "" {
		conds = append(conds, "(source_path IS NULL AND owner_id = ?)")
		args = append(args, ownerID)
	}
	if len(conds) == 0 {
		return nil, nil
	}
	return s.queryFragments(ctx, strings.Join(conds, " OR "), args...)
}

// GetByOwner returns every fragment owned by ownerID.
func (s *SQLiteStore) GetByOwner(ctx context.Context, ownerID string) ([]domain.Fragment, error) {
	return s.queryFragments(ctx, "owner_id = ?", ownerID)
}

// DeleteBySourcePath removes all fragments of a document.
func (s *SQLiteStore) DeleteBySourcePath(ctx context.Context, path string) error {
	if path == "" {
		return fmt.Errorf("delete fragments: empty path: %w", port.ErrValidation)
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM fragments WHERE source_path = ?", path); err != nil {
		return fmt.Errorf("delete fragments: %w", err)
	}
	return nil
}

func (s *SQLiteStore) queryFragments(ctx context.Context, where string, args ...any) ([]domain.Fragment, error) {
	query := `SELECT id, content, embedding, COALESCE(source_path, ''), COALESCE(owner_id, ''), created_at
	          FROM fragments WHERE ` + where + ` ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query fragments: %w", err)
	}
	defer rows.Close()

	var out []domain.Fragment
	for rows.Next() {
		var (
			f       domain.Fragment
			blob    []byte
			created int64
		)
		if err := rows.Scan(&f.ID, &f.Content, &blob, &f.SourcePath, &f.OwnerID, &created); err != nil {
			return nil, fmt.Errorf("scan fragment: %w", err)
		}
		f.Embedding = bytesToFloat32Slice(blob)
		f.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, f)
	}
	return out, rows.Err()
}

// --- Chats ---

// SaveChat inserts or replaces a chat transcript.
func (s *SQLiteStore) SaveChat(ctx context.Context, chat *domain.Chat) error {
	messages, err := marshalMessages(chat.Messages)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	created := chat.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chats (id, author, messages, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			messages = excluded.messages,
			updated_at = excluded.updated_at`,
		chat.ID, chat.Author, messages, created.UnixNano(), now.UnixNano())
	if err != nil {
		return fmt.Errorf("save chat: %w", err)
	}
	return nil
}

// GetChat returns a chat by id.
func (s *SQLiteStore) GetChat(ctx context.Context, id string) (*domain.Chat, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, author, messages, created_at, updated_at FROM chats WHERE id = ?", id)
	chat, err := scanSQLiteChat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get chat %s: %w", id, port.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}
	return chat, nil
}

// ListChatsByAuthor returns the author's chats, newest first.
func (s *SQLiteStore) ListChatsByAuthor(ctx context.Context, author string) ([]domain.Chat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, author, messages, created_at, updated_at FROM chats
		 WHERE author = ? ORDER BY created_at DESC`, author)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var chats []domain.Chat
	for rows.Next() {
		chat, err := scanSQLiteChat(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		chats = append(chats, *chat)
	}
	return chats, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteChat(row rowScanner) (*domain.Chat, error) {
	var (
		chat             domain.Chat
		messages         string
		created, updated int64
	)
	if err := row.Scan(&chat.ID, &chat.Author, &messages, &created, &updated); err != nil {
		return nil, err
	}
	msgs, err := unmarshalMessages(messages)
	if err != nil {
		return nil, err
	}
	chat.Messages = msgs
	chat.CreatedAt = time.Unix(0, created).UTC()
	chat.UpdatedAt = time.Unix(0, updated).UTC()
	return &chat, nil
}

// --- Audit Logs ---

// WriteAudit implements middleware.AuditWriter.
func (s *SQLiteStore) WriteAudit(userID, action, resource, resourceID, details, ip, userAgent string) error {
	_, err := s.db.ExecContext(context.Background(), `
		INSERT INTO audit_logs (user_id, action, resource, resource_id, details, ip, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		userID, action, resource, resourceID, details, ip, userAgent, time.Now().UTC().UnixNano())
	return err
}

// ListAuditLogs returns recent audit logs with an optional action filter.
func (s *SQLiteStore) ListAuditLogs(ctx context.Context, limit int, action string) ([]domain.AuditLog, error) {
	query := `SELECT id, user_id, action, COALESCE(resource, ''), COALESCE(resource_id, ''),
	                 COALESCE(details, ''), COALESCE(ip, ''), COALESCE(user_agent, ''), created_at
	          FROM audit_logs`
	var args []any
	if action != "" {
		query += " WHERE action = ?"
		args = append(args, action)
	}
	query += " ORDER BY id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	var logs []domain.AuditLog
	for rows.Next() {
		var (
			l       domain.AuditLog
			id      int64
			created int64
		)
		if err := rows.Scan(&id, &l.UserID, &l.Action, &l.Resource, &l.ResourceID,
			&l.Details, &l.IP, &l.UserAgent, &created); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		l.ID = fmt.Sprint(id)
		l.CreatedAt = time.Unix(0, created).UTC()
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// Purge deletes all fragments and, unless keepChats is set, all chats.
func (s *SQLiteStore) Purge(ctx context.Context, keepChats, dryRun bool) (port.PurgeStats, error) {
	return purgeSQL(ctx, s.db, keepChats, dryRun)
}

// purgeSQL is shared by the relational backends; the statements are dialect neutral.
func purgeSQL(ctx context.Context, db *sql.DB, keepChats, dryRun bool) (port.PurgeStats, error) {
	var stats port.PurgeStats
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM fragments").Scan(&stats.Fragments); err != nil {
		return stats, fmt.Errorf("count fragments: %w", err)
	}
	if !keepChats {
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chats").Scan(&stats.Chats); err != nil {
			return stats, fmt.Errorf("count chats: %w", err)
		}
	}
	if dryRun {
		return stats, nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return stats, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM fragments"); err != nil {
		return stats, fmt.Errorf("delete fragments: %w", err)
	}
	if !keepChats {
		if _, err := tx.ExecContext(ctx, "DELETE FROM chats"); err != nil {
			return stats, fmt.Errorf("delete chats: %w", err)
		}
	}
	return stats, tx.Commit()
}

// float32SliceToBytes converts a []float32 to a byte slice for storage.
func float32SliceToBytes(floats []float32) []byte {
	buf := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToFloat32Slice converts a byte slice back to []float32.
func bytesToFloat32Slice(data []byte) []float32 {
	if len(data) == 0 {
		return nil
	}
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
