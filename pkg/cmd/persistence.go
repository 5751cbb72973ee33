// Package cmd holds the shared wiring helpers for the relay binaries.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/relayflow/relay/pkg/persistence"
	"github.com/relayflow/relay/pkg/persistence/file"
	"github.com/relayflow/relay/pkg/persistence/postgresql"
)

// NewPersistence picks the persistence backend from the database URL scheme.
// postgres:// URLs get PostgreSQL; everything else is treated as a file root.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	case strings.HasPrefix(databaseURL, "file://"):
		return file.NewPersistence(strings.TrimPrefix(databaseURL, "file://")), nil
	case databaseURL == "":
		return nil, fmt.Errorf("database URL is required")
	default:
		return file.NewPersistence(databaseURL), nil
	}
}
