package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/shiftq/internal/api"
	"github.com/Tiliavir/shiftq/internal/engine"
	"github.com/Tiliavir/shiftq/internal/model"
	"github.com/Tiliavir/shiftq/internal/reconcile"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the delivery engines and the local kiosk API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "localhost:8080", "Address the kiosk API listens on")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps, err := openDeps(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer deps.Store.Close()

	registry, err := engine.NewRegistry(cfg, deps)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	for _, name := range registry.Names() {
		e, _ := registry.Get(name)
		e.OnPermanentFailure(func(req model.ActionRequest, err error) {
			log.Errorf("section %s: %s for %s at %s was rejected and dropped: %v",
				name, req.Payload.Kind, req.Payload.EmployeeID, req.Payload.ClockTime, err)
		})
		e.Subscribe(func(snap reconcile.Snapshot) {
			log.Debugf("section %s: %d active", name, len(snap))
		})
	}
	registry.Start(ctx)

	httpServer := &http.Server{Addr: serveAddr, Handler: api.NewHandler(registry)}
	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Infof("listening on %s for sections %v", serveAddr, registry.Names())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("server listen failed: %v", err)
			cancel()
		}
	}()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-exit:
		log.Infof("signal caught: %v", sig)
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	_ = httpServer.Shutdown(shutdownCtx)
	wg.Wait()

	cancel()
	registry.Stop()
	log.Infof("stopped")
	return nil
}
