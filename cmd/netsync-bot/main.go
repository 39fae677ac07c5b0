// Headless client that joins a game server and wanders around with random input.
package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sessamekesh/netsync/internal/config"
	"github.com/sessamekesh/netsync/pkg/codec"
	"github.com/sessamekesh/netsync/pkg/connection"
	"github.com/sessamekesh/netsync/pkg/errors"
	"github.com/sessamekesh/netsync/pkg/netclient"
	"github.com/sessamekesh/netsync/pkg/transport"
	"go.uber.org/zap"
)

// wanderer changes direction every couple of seconds and jumps now and then.
type wanderer struct {
	rng       *rand.Rand
	direction codec.Vector2
	ticksLeft int
}

func (w *wanderer) next() netclient.InputSample {
	if w.ticksLeft <= 0 {
		w.direction = codec.Vector2{X: w.rng.Float32()*2 - 1, Y: w.rng.Float32()*2 - 1}
		w.ticksLeft = 30 + w.rng.IntN(60)
	}
	w.ticksLeft--
	return netclient.InputSample{Move: w.direction, Jump: w.rng.IntN(90) == 0}
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Printf("Failed to load .env file! %s", err.Error())
	}

	logger := zap.Must(zap.NewProduction())
	if os.Getenv("APP_ENV") != "production" {
		logger = zap.Must(zap.NewDevelopment())
	}
	defer logger.Sync()

	cfg, err := config.LoadBotConfig(os.Args[1:])
	if err != nil {
		logger.Error("Invalid configuration", zap.Error(err))
		os.Exit(2)
	}

	ctx, release := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer release()

	failed := make(chan *errors.HandshakeError, 1)
	session, err := netclient.CreateSession(netclient.SessionParams{
		Transport: transport.CreateWebsocketClient(transport.WebsocketClientParams{
			Endpoint: cfg.Endpoint,
			Logger:   logger,
		}),
		SceneLoader:  netclient.HeadlessSceneLoader{},
		TickRate:     cfg.TickRate,
		LocalSceneId: config.DefaultSceneId,
		OnStateChanged: func(state connection.ConnectionState) {
			logger.Info("Connection state changed", zap.Stringer("state", state))
		},
		OnError: func(err *errors.HandshakeError) {
			failed <- err
		},
		Logger: logger,
	})
	if err != nil {
		logger.Error("Failed to create client session", zap.Error(err))
		return
	}

	if err := session.Connect(ctx, cfg.PlayerName, cfg.ServerAddress, uint16(cfg.Port)); err != nil {
		logger.Error("Failed to start connection", zap.Error(err))
		return
	}

	input := &wanderer{rng: rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))}
	ticker := time.NewTicker(time.Second / time.Duration(cfg.TickRate))
	defer ticker.Stop()
	status := time.NewTicker(5 * time.Second)
	defer status.Stop()

	for {
		select {
		case <-ctx.Done():
			session.Disconnect()
			return
		case err := <-failed:
			logger.Error("Could not join game", zap.Error(err))
			os.Exit(1)
		case <-status.C:
			if local, ok := session.LocalPlayer(); ok {
				logger.Info("Bot status",
					zap.Int64("tick", int64(session.CurrentTick())),
					zap.Float32("x", local.Kinematics.Position.X),
					zap.Float32("z", local.Kinematics.Position.Z),
					zap.Int("pendingInputs", session.PendingInputCount()))
			}
		case <-ticker.C:
			session.Tick(ctx, input.next())
		}
	}
}
