package cmd

import (
	"context"
	"fmt"

	"github.com/vegeta897/slash-create/internal/config"
	"github.com/vegeta897/slash-create/internal/rest/store"
)

func openStore(ctx context.Context) (store.Backend, error) {
	cfg := config.GetConfig()
	if cfg == nil {
		loaded, err := config.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	db, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}
