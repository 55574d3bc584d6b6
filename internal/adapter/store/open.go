package store

import (
	"fmt"

	"github.com/arturoeanton/go-rag-chat-ollama/internal/port"
)

// Open returns the backend selected by driver: memory, sqlite or postgres.
// dsn is the SQLite file path or the Postgres URL.
func Open(driver, dsn string, dimension int) (port.Backend, error) {
	switch driver {
	case "", "memory":
		return NewMemoryStore(dimension), nil
	case "sqlite":
		return NewSQLiteStore(dsn, dimension)
	case "postgres":
		return NewPostgresStore(dsn, dimension)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
