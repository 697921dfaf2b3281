package main

import (
	"context"
	"fmt"
	"time"

	"medalert/internal/config"
	"medalert/internal/storage"
)

func storageOpen(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	st, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	initCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := st.Init(initCtx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}
	return st, nil
}
