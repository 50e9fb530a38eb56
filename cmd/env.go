package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/Tiliavir/shiftq/internal/engine"
	"github.com/Tiliavir/shiftq/internal/storage"
	"github.com/Tiliavir/shiftq/internal/transport"
)

// openDeps opens the configured store and backend client. The caller closes
// the store.
func openDeps(ctx context.Context) (engine.Deps, error) {
	store, err := storage.Open(cfg.Storage.Driver, cfg.Storage.Dir, cfg.Storage.DSN)
	if err != nil {
		return engine.Deps{}, err
	}
	client := transport.NewClient(ctx, transport.Options{
		BaseURL: cfg.Backend.BaseURL,
		Token:   cfg.Backend.Token,
		Timeout: cfg.Backend.Timeout,
	})
	return engine.Deps{Store: store, Backend: client}, nil
}

// openSection builds the engine of the --section section without starting
// its background loops. Errors are fatal, as for every one-shot command.
func openSection(ctx context.Context) (*engine.Engine, func()) {
	sec, err := cfg.Section(section)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	deps, err := openDeps(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	e := engine.New(sec, cfg, deps)
	return e, func() {
		e.Stop()
		if err := deps.Store.Close(); err != nil {
			log.Warningf("closing store: %v", err)
		}
	}
}
