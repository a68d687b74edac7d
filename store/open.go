package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ruteri/confidential-loan-ledger/interfaces"
)

// Open returns the ledger store selected by dsn: "memory" (or empty) for an
// in-process store, a postgres:// or postgresql:// URL for PostgreSQL.
func Open(ctx context.Context, dsn string, log *slog.Logger) (interfaces.LedgerStore, error) {
	switch {
	case dsn == "" || dsn == "memory":
		log.Warn("Using in-memory ledger store, state is lost on restart")
		return NewMemoryStore(), nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return NewPostgresStore(ctx, dsn, log)
	default:
		return nil, fmt.Errorf("unsupported ledger store %q", dsn)
	}
}
