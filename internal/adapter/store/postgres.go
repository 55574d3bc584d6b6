package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/arturoeanton/go-rag-chat-ollama/internal/adapter/store/migrations"
	"github.com/arturoeanton/go-rag-chat-ollama/internal/domain"
	"github.com/arturoeanton/go-rag-chat-ollama/internal/port"
)

// PostgresStore handles all relational database operations. Fragment
// vectors live in a pgvector column.
type PostgresStore struct {
	db    *sql.DB
	guard *writeGuard
}

var _ port.Backend = (*PostgresStore)(nil)

// NewPostgresStore opens a connection, applies migrations and returns a store instance.
func NewPostgresStore(databaseURL string, dimension int) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	schema, err := fs.Sub(migrations.Postgres, "postgres")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load migrations: %w", err)
	}
	if err := migrate(db, schema, "INSERT INTO schema_migrations (version) VALUES ($1)"); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	if dimension == 0 {
		err := db.QueryRow("SELECT vector_dims(embedding) FROM fragments ORDER BY seq LIMIT 1").Scan(&dimension)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			db.Close()
			return nil, fmt.Errorf("read dimension: %w", err)
		}
	}

	return &PostgresStore{db: db, guard: newWriteGuard(dimension)}, nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use in transactions.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// --- Fragments ---

// Put upserts fragments by id in one transaction.
func (s *PostgresStore) Put(ctx context.Context, fragments []domain.Fragment) error {
	return s.write(ctx, "", fragments)
}

// ReplaceBySourcePath deletes a document's fragments and inserts the new
// ones in one transaction.
func (s *PostgresStore) ReplaceBySourcePath(ctx context.Context, path string, fragments []domain.Fragment) error {
	if err := sameSource(path, fragments); err != nil {
		return err
	}
	return s.write(ctx, path, fragments)
}

// write upserts fragments, first clearing replacePath when it is set.
func (s *PostgresStore) write(ctx context.Context, replacePath string, fragments []domain.Fragment) (err error) {
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
		if _, err := tx.ExecContext(ctx, "DELETE FROM fragments WHERE source_path = $1", replacePath); err != nil {
			return fmt.Errorf("delete fragments: %w", err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO fragments (id, content, embedding, source_path, owner_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			source_path = EXCLUDED.source_path,
			owner_id = EXCLUDED.owner_id`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, f := range admitted {
		if _, err := stmt.ExecContext(ctx,
			f.ID, f.Content, pgvector.NewVector(f.Embedding),
			nullIfEmpty(f.SourcePath), nullIfEmpty(f.OwnerID), f.CreatedAt,
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
func (s *PostgresStore) GetByPaths(ctx context.Context, paths []string, ownerID string) ([]domain.Fragment, error) {
	if len(paths) == 0 && ownerID == "" {
		return nil, nil
	}
	if paths == nil {
		paths = []string{}
	}
	return s.queryFragments(ctx,
		`source_path = ANY($1) OR ($2 <> '' AND source_path IS NULL AND owner_id = $2)`,
		pq.Array(paths), ownerID)
}

// GetByOwner returns every fragment owned by ownerID.
func (s *PostgresStore) GetByOwner(ctx context.Context, ownerID string) ([]domain.Fragment, error) {
	return s.queryFragments(ctx, "owner_id = $1", ownerID)
}

// DeleteBySourcePath removes all fragments of a document.
func (s *PostgresStore) DeleteBySourcePath(ctx context.Context, path string) error {
	if path == "" {
		return fmt.Errorf("delete fragments: empty path: %w", port.ErrValidation)
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM fragments WHERE source_path = $1", path); err != nil {
		return fmt.Errorf("delete fragments: %w", err)
	}
	return nil
}

func (s *PostgresStore) queryFragments(ctx context.Context, where string, args ...any) ([]domain.Fragment, error) {
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
			f   domain.Fragment
			vec pgvector.Vector
		)
		if err := rows.Scan(&f.ID, &f.Content, &vec, &f.SourcePath, &f.OwnerID, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan fragment: %w", err)
		}
		f.Embedding = vec.Slice()
		out = append(out, f)
	}
	return out, rows.Err()
}

// --- Chats ---

// SaveChat inserts or updates a chat transcript.
func (s *PostgresStore) SaveChat(ctx context.Context, chat *domain.Chat) error {
	messages, err := marshalMessages(chat.Messages)
	if err != nil {
		return err
	}
	query := `INSERT INTO chats (id, author, messages)
	          VALUES ($1, $2, $3::jsonb)
	          ON CONFLICT (id) DO UPDATE SET
	              messages = EXCLUDED.messages,
	              updated_at = NOW()`
	if _, err := s.db.ExecContext(ctx, query, chat.ID, chat.Author, messages); err != nil {
		return fmt.Errorf("save chat: %w", err)
	}
	return nil
}

// GetChat returns a chat by id.
func (s *PostgresStore) GetChat(ctx context.Context, id string) (*domain.Chat, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, author, messages::text, created_at, updated_at FROM chats WHERE id = $1`, id)
	chat, err := scanPostgresChat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get chat %s: %w", id, port.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}
	return chat, nil
}

// ListChatsByAuthor returns the author's chats, newest first.
func (s *PostgresStore) ListChatsByAuthor(ctx context.Context, author string) ([]domain.Chat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, author, messages::text, created_at, updated_at FROM chats
		 WHERE author = $1 ORDER BY created_at DESC`, author)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var chats []domain.Chat
	for rows.Next() {
		chat, err := scanPostgresChat(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		chats = append(chats, *chat)
	}
	return chats, rows.Err()
}

func scanPostgresChat(row rowScanner) (*domain.Chat, error) {
	var (
		chat     domain.Chat
		messages string
	)
	if err := row.Scan(&chat.ID, &chat.Author, &messages, &chat.CreatedAt, &chat.UpdatedAt); err != nil {
		return nil, err
	}
	msgs, err := unmarshalMessages(messages)
	if err != nil {
		return nil, err
	}
	chat.Messages = msgs
	return &chat, nil
}

// --- Audit Logs ---

// WriteAudit implements middleware.AuditWriter.
func (s *PostgresStore) WriteAudit(userID, action, resource, resourceID, details, ip, userAgent string) error {
	if details == "" {
		details = "{}"
	}
	query := `INSERT INTO audit_logs (user_id, action, resource, resource_id, details, ip, user_agent)
	          VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7)`
	_, err := s.db.ExecContext(context.Background(), query,
		userID, action, resource, resourceID, details, ip, userAgent,
	)
	return err
}

// ListAuditLogs returns recent audit logs with optional filters.
func (s *PostgresStore) ListAuditLogs(ctx context.Context, limit int, action string) ([]domain.AuditLog, error) {
	query := `SELECT id::text, user_id, action, COALESCE(resource, ''), COALESCE(resource_id, ''),
	                 COALESCE(details::text, '{}'), COALESCE(ip, ''), COALESCE(user_agent, ''), created_at
	          FROM audit_logs`
	args := []any{}
	argIdx := 1

	if action != "" {
		query += fmt.Sprintf(" WHERE action = $%d", argIdx)
		args = append(args, action)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	var logs []domain.AuditLog
	for rows.Next() {
		var l domain.AuditLog
		if err := rows.Scan(
			&l.ID, &l.UserID, &l.Action, &l.Resource, &l.ResourceID,
			&l.Details, &l.IP, &l.UserAgent, &l.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// Purge deletes all fragments and, unless keepChats is set, all chats.
func (s *PostgresStore) Purge(ctx context.Context, keepChats, dryRun bool) (port.PurgeStats, error) {
	return purgeSQL(ctx, s.db, keepChats, dryRun)
}
