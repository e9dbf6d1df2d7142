package cli

import (
	"fmt"

	"github.com/jbeck018/crewflow-go/internal/config"
	"github.com/jbeck018/crewflow-go/memory"
)

// buildStore opens the memory.Store named by cfg.Backend. PostgresStore's
// vector dimension isn't configurable from flowctl yet, so it defaults to
// pgvector's common 1536 (OpenAI embedding size).
func buildStore(cfg config.StoreConfig) (memory.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return memory.NewMemStore(), nil
	case "sqlite":
		return memory.NewSQLiteStore(cfg.DSN)
	case "postgres":
		return memory.NewPostgresStore(cfg.DSN, 1536)
	case "mysql":
		return memory.NewMySQLStore(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store backend %q: expected memory, sqlite, postgres, or mysql", cfg.Backend)
	}
}
