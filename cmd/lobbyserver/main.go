package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/Chiang-Chen-An/NP-HW3/internal/catalog"
	"github.com/Chiang-Chen-An/NP-HW3/internal/config"
	"github.com/Chiang-Chen-An/NP-HW3/internal/developer"
	"github.com/Chiang-Chen-An/NP-HW3/internal/gamepkg"
	"github.com/Chiang-Chen-An/NP-HW3/internal/lobby"
	"github.com/Chiang-Chen-An/NP-HW3/internal/room"
	"github.com/Chiang-Chen-An/NP-HW3/internal/store"
	"github.com/Chiang-Chen-An/NP-HW3/internal/supervisor"
	"github.com/Chiang-Chen-An/NP-HW3/internal/transfer"
)

const defaultConfigPath = "config/server.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfgPath := flag.String("config", defaultConfigPath, "path to the server config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Log.SlogLevel(),
	})))

	slog.Info("game platform starting",
		"lobby_port", cfg.Lobby.Port,
		"developer_port", cfg.Developer.Port,
		"backend", cfg.Storage.Backend,
	)

	st, err := store.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()
	slog.Info("store opened", "backend", cfg.Storage.Backend)

	cat := catalog.New(st)
	layout := gamepkg.NewLayout(cfg.Storage.StorageDir)
	rooms := room.NewRegistry()

	transfers, err := transfer.NewManager(cat, layout, cfg.Storage.TmpDir)
	if err != nil {
		return fmt.Errorf("creating transfer manager: %w", err)
	}

	sup := supervisor.New(cfg.Game, layout, rooms)
	defer sup.Shutdown()

	lobbyServer := lobby.NewServer(cfg.Lobby, cat, rooms, transfers, sup)
	developerServer := developer.NewServer(cfg.Developer, cat, transfers, layout)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("starting lobby endpoint")
		if err := lobbyServer.Run(gctx); err != nil {
			return fmt.Errorf("lobby server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("starting developer endpoint")
		if err := developerServer.Run(gctx); err != nil {
			return fmt.Errorf("developer server: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}
