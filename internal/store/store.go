package store

import (
	"context"
	"fmt"

	"github.com/Chiang-Chen-An/NP-HW3/internal/config"
	"github.com/Chiang-Chen-An/NP-HW3/internal/model"
	"github.com/Chiang-Chen-An/NP-HW3/internal/store/jsonstore"
	"github.com/Chiang-Chen-An/NP-HW3/internal/store/pgstore"
)

// Store is the persistence port behind the catalog. The catalog is the
// only caller and serializes access under its own lock, so
// implementations do not need internal locking beyond file/connection
// safety.
//
// Get methods return nil, nil when the record does not exist.
type Store interface {
	GetAccount(ctx context.Context, role model.Role, username string) (*model.Account, error)
	PutAccount(ctx context.Context, acc *model.Account) error
	ListAccounts(ctx context.Context, role model.Role) ([]model.Account, error)

	GetGame(ctx context.Context, gameID string) (*model.Game, error)
	PutGame(ctx context.Context, g *model.Game) error
	DeleteGame(ctx context.Context, gameID string) error
	ListGames(ctx context.Context) ([]model.Game, error)

	Close() error
}

// Open builds the store selected by cfg.Storage.Backend. The postgres
// backend runs pending migrations before returning.
func Open(ctx context.Context, cfg config.Server) (Store, error) {
	switch cfg.Storage.Backend {
	case config.BackendJSON:
		st, err := jsonstore.New(cfg.Storage.DataDir)
		if err != nil {
			return nil, fmt.Errorf("opening json store: %w", err)
		}
		return st, nil
	case config.BackendPostgres:
		dsn := cfg.Database.DSN()
		if err := pgstore.RunMigrations(ctx, dsn); err != nil {
			return nil, fmt.Errorf("migrating database: %w", err)
		}
		st, err := pgstore.New(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("opening postgres store: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
