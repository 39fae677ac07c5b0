// Authoritative game server: WebSocket transport in front of the fixed tick simulation.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sessamekesh/netsync/internal/config"
	"github.com/sessamekesh/netsync/pkg/server"
	"github.com/sessamekesh/netsync/pkg/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Printf("Failed to load .env file! %s", err.Error())
	}

	logger := zap.Must(zap.NewProduction())
	if os.Getenv("APP_ENV") != "production" {
		logger = zap.Must(zap.NewDevelopment())
	}
	defer logger.Sync()

	cfg, err := config.LoadServerConfig(os.Args[1:])
	if err != nil {
		logger.Error("Invalid configuration", zap.Error(err))
		os.Exit(2)
	}

	gameServer := server.CreateServer(server.ServerConfig{
		TickRate:              cfg.TickRate,
		MaxPlayers:            cfg.MaxPlayers,
		SceneId:               cfg.SceneId,
		SnapshotHistoryLength: cfg.SnapshotHistory,
		Logger:                logger,
	})

	wsHandler, err := gameServer.CreateConnectionHandler("WebSocket")
	if err != nil {
		logger.Error("Failed to create WebSocket connection handler", zap.Error(err))
		return
	}

	wsServer, err := transport.CreateWebsocketServer(wsHandler, transport.WebsocketServerParams{
		ListenAddress:  fmt.Sprintf(":%d", cfg.Port),
		ListenEndpoint: cfg.Endpoint,
		AllowAllHosts:  true,
		Logger:         logger,
	})
	if err != nil {
		logger.Error("Failed to create WebSocket server", zap.Error(err))
		return
	}

	shutdownCtx, shutdownRelease := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer shutdownRelease()

	g, ctx := errgroup.WithContext(shutdownCtx)
	g.Go(func() error {
		return wsServer.Start(ctx)
	})
	g.Go(func() error {
		return gameServer.Start(ctx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server exited with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("Shutdown complete")
}
