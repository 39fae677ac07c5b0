package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

var DefaultSceneId = uuid.NewSHA1(uuid.NameSpaceURL, []byte("netsync/default-scene"))

type InvalidValueError struct {
	Name  string
	Value string
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("Invalid value '%s' for %s", e.Value, e.Name)
}

// LoadDotEnv reads .env files into the process environment. A missing file is fine;
// variables that are already set win over the file.
func LoadDotEnv(filenames ...string) error {
	if err := godotenv.Load(filenames...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

type ServerConfig struct {
	Port            int
	Endpoint        string
	TickRate        int
	MaxPlayers      int
	SceneId         uuid.UUID
	SnapshotHistory int
}

type BotConfig struct {
	ServerAddress string
	Port          int
	Endpoint      string
	PlayerName    string
	TickRate      int
}

func envString(name, fallback string) string {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v
	}
	return fallback
}

// envStringAllowEmpty is envString for settings where an empty value is meaningful.
func envStringAllowEmpty(name, fallback string) string {
	if v, ok := os.LookupEnv(name); ok {
		return v
	}
	return fallback
}

func envInt(name string, fallback int) (int, error) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, &InvalidValueError{Name: name, Value: v}
	}
	return parsed, nil
}

func envSceneId(name string, fallback uuid.UUID) (uuid.UUID, error) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return fallback, nil
	}
	parsed, err := uuid.Parse(v)
	if err != nil {
		return uuid.Nil, &InvalidValueError{Name: name, Value: v}
	}
	return parsed, nil
}

func validatePort(name string, port int) error {
	if port <= 0 || port > 0xFFFF {
		return &InvalidValueError{Name: name, Value: strconv.Itoa(port)}
	}
	return nil
}

func validatePositive(name string, v int) error {
	if v <= 0 {
		return &InvalidValueError{Name: name, Value: strconv.Itoa(v)}
	}
	return nil
}

// LoadServerConfig takes defaults from the environment, then lets command line flags
// override them.
func LoadServerConfig(args []string) (*ServerConfig, error) {
	cfg := &ServerConfig{}
	var err error

	if cfg.Port, err = envInt("NETSYNC_PORT", 3000); err != nil {
		return nil, err
	}
	if cfg.TickRate, err = envInt("NETSYNC_TICK_RATE", 30); err != nil {
		return nil, err
	}
	if cfg.MaxPlayers, err = envInt("NETSYNC_MAX_PLAYERS", 16); err != nil {
		return nil, err
	}
	if cfg.SnapshotHistory, err = envInt("NETSYNC_SNAPSHOT_HISTORY", 32); err != nil {
		return nil, err
	}
	if cfg.SceneId, err = envSceneId("NETSYNC_SCENE_ID", DefaultSceneId); err != nil {
		return nil, err
	}
	cfg.Endpoint = envString("NETSYNC_ENDPOINT", "/ws")

	fset := flag.NewFlagSet("netsync-server", flag.ContinueOnError)
	fset.IntVar(&cfg.Port, "port", cfg.Port, "Port on which the WebSocket server should run")
	fset.StringVar(&cfg.Endpoint, "endpoint", cfg.Endpoint, "HTTP endpoint that listens for WebSocket connections")
	fset.IntVar(&cfg.TickRate, "tick-rate", cfg.TickRate, "Simulation ticks per second")
	fset.IntVar(&cfg.MaxPlayers, "max-players", cfg.MaxPlayers, "Maximum number of joined players")
	fset.IntVar(&cfg.SnapshotHistory, "snapshot-history", cfg.SnapshotHistory, "Number of world snapshots kept for acknowledgement checks")
	sceneId := fset.String("scene-id", cfg.SceneId.String(), "Scene every joining client is sent to")
	if err := fset.Parse(args); err != nil {
		return nil, err
	}

	parsedScene, parseErr := uuid.Parse(*sceneId)
	if parseErr != nil {
		return nil, &InvalidValueError{Name: "scene-id", Value: *sceneId}
	}
	cfg.SceneId = parsedScene

	if err := validatePort("port", cfg.Port); err != nil {
		return nil, err
	}
	if err := validatePositive("tick-rate", cfg.TickRate); err != nil {
		return nil, err
	}
	if err := validatePositive("max-players", cfg.MaxPlayers); err != nil {
		return nil, err
	}
	if err := validatePositive("snapshot-history", cfg.SnapshotHistory); err != nil {
		return nil, err
	}

	return cfg, nil
}

func LoadBotConfig(args []string) (*BotConfig, error) {
	cfg := &BotConfig{}
	var err error

	if cfg.Port, err = envInt("NETSYNC_PORT", 3000); err != nil {
		return nil, err
	}
	if cfg.TickRate, err = envInt("NETSYNC_TICK_RATE", 30); err != nil {
		return nil, err
	}
	// Set but empty selects an offline session, same as -server="".
	cfg.ServerAddress = envStringAllowEmpty("NETSYNC_SERVER_ADDRESS", "localhost")
	cfg.Endpoint = envString("NETSYNC_ENDPOINT", "/ws")
	cfg.PlayerName = envString("NETSYNC_PLAYER_NAME", "bot")

	fset := flag.NewFlagSet("netsync-bot", flag.ContinueOnError)
	fset.StringVar(&cfg.ServerAddress, "server", cfg.ServerAddress, "Game server host; empty runs an offline session")
	fset.IntVar(&cfg.Port, "port", cfg.Port, "Game server port")
	fset.StringVar(&cfg.Endpoint, "endpoint", cfg.Endpoint, "WebSocket endpoint on the game server")
	fset.StringVar(&cfg.PlayerName, "name", cfg.PlayerName, "Player name sent with the join request")
	fset.IntVar(&cfg.TickRate, "tick-rate", cfg.TickRate, "Client ticks per second")
	if err := fset.Parse(args); err != nil {
		return nil, err
	}

	if err := validatePort("port", cfg.Port); err != nil {
		return nil, err
	}
	if err := validatePositive("tick-rate", cfg.TickRate); err != nil {
		return nil, err
	}

	return cfg, nil
}
