package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/blukai/bong/internal/gameclient"
	"github.com/blukai/bong/internal/input"
	"github.com/blukai/bong/internal/logx"
	"github.com/blukai/bong/internal/session"
	"github.com/blukai/bong/internal/transport"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	ServerAddr string `envconfig:"SERVER_ADDR" required:"true" default:"127.0.0.1:5000"`
	ClientAddr string `envconfig:"CLIENT_ADDR" default:"127.0.0.1:0"`
	ProtocolID uint64 `envconfig:"PROTOCOL_ID" default:"1"`
	// ClientID of 0 derives one from the wall clock.
	ClientID uint64 `envconfig:"CLIENT_ID" default:"0"`
	TickRate int    `envconfig:"TICK_RATE" default:"60"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

func loadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("could not load .env: %w", err)
	}

	config := new(Config)
	if err := envconfig.Process("bong", config); err != nil {
		return nil, err
	}
	return config, nil
}

func erringMain() error {
	config, err := loadConfig()
	if err != nil {
		return fmt.Errorf("could not process config: %w", err)
	}

	logger := logx.Console(config.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	gameClient, err := gameclient.Dial(ctx, gameclient.Config{
		Network:       "udp4",
		LocalAddress:  config.ClientAddr,
		ServerAddress: config.ServerAddr,
		ClientID:      config.ClientID,
		TickRate:      config.TickRate,
		Transport:     transport.DefaultConfig(config.ProtocolID),
	}, logger)
	if err != nil {
		return err
	}
	logger.Info().Msgf("joined %s as %d", config.ServerAddr, gameClient.ID())
	logger.Info().Msg("type held keys and press enter (w a s d, space for heavy; empty line releases)")

	// NOTE: stdin reads can not be interrupted; the goroutine is left
	// behind on exit.
	keys := input.NewLineSource(os.Stdin, logger)
	go func() {
		if err := keys.Run(ctx); err != nil {
			logger.Error().Msgf("could not read keys: %v", err)
		}
	}()

	lastState := session.Lobby
	onTick := func(m *gameclient.Mirror) {
		if m.State() == lastState {
			return
		}
		lastState = m.State()
		for _, p := range m.Players() {
			logger.Info().
				Uint64("player_id", p.ID).
				Bool("local", p.Local).
				Float32("x", p.Position.X).
				Float32("y", p.Position.Y).
				Msgf("%s", lastState)
		}
	}

	if err := gameClient.Run(ctx, input.NewPoller(keys), onTick); err != nil {
		return fmt.Errorf("game client run failed: %w", err)
	}
	return nil
}

func main() {
	if err := erringMain(); err != nil {
		fmt.Fprintf(os.Stderr, "fucky wucky! %v\n", err)
		os.Exit(42)
	}
}
