// Package cmd provides the shared infrastructure constructors used by the
// playbookd binaries.
package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/playbookd/playbookd/pkg/persistence"
	"github.com/playbookd/playbookd/pkg/persistence/memory"
	"github.com/playbookd/playbookd/pkg/persistence/postgresql"
)

// NewPersistence creates a persistence layer from a database URL. A
// postgres:// URL gets the PostgreSQL implementation; anything else falls
// back to the in-memory store, which is only suitable for development.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch parseProvider(databaseURL) {
	case "postgres", "postgresql":
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(err)
		}

		return p
	default:
		logger.WarnContext(ctx, "No database URL configured, using in-memory persistence")

		return memory.NewPersistence()
	}
}

func parseProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return ""
	}

	return provider
}
