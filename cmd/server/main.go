package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/blukai/bong/internal/gameserver"
	"github.com/blukai/bong/internal/logx"
	"github.com/blukai/bong/internal/transport"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	ServerAddr    string        `envconfig:"SERVER_ADDR" required:"true" default:"127.0.0.1:5000"`
	ProtocolID    uint64        `envconfig:"PROTOCOL_ID" default:"1"`
	TickRate      int           `envconfig:"TICK_RATE" default:"60"`
	MaxClients    int           `envconfig:"MAX_CLIENTS" default:"2"`
	ClientTimeout time.Duration `envconfig:"CLIENT_TIMEOUT" default:"10s"`
	LogLevel      string        `envconfig:"LOG_LEVEL" default:"info"`
}

func loadConfig() (*Config, error) {
	// .env is optional
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

	transportConfig := transport.DefaultConfig(config.ProtocolID)
	transportConfig.MaxClients = config.MaxClients
	transportConfig.Timeout = config.ClientTimeout

	gameServer, err := gameserver.New(gameserver.Config{
		Network:   "udp4",
		Address:   config.ServerAddr,
		TickRate:  config.TickRate,
		Transport: transportConfig,
	}, logger)
	if err != nil {
		return fmt.Errorf("could not construct game server: %w", err)
	}
	logger.Info().Msgf("started game server on %s", gameServer.Addr())

	wg := new(sync.WaitGroup)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wg.Add(1)
	var gameServerRunErr error
	runDone := make(chan struct{})
	go func() {
		defer wg.Done()
		defer close(runDone)
		gameServerRunErr = gameServer.Run(ctx)
	}()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-signalChan:
		logger.Info().Msgf("received %+v signal", sig)
	case <-runDone:
	}

	cancel()
	wg.Wait()
	if gameServerRunErr != nil {
		return fmt.Errorf("game server run failed: %w", gameServerRunErr)
	}

	return nil
}

func main() {
	if err := erringMain(); err != nil {
		fmt.Fprintf(os.Stderr, "fucky wucky! %v\n", err)
		os.Exit(42)
	}
}
