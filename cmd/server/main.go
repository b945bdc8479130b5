package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/blukai/udparena/internal/gameserver"
	"github.com/kelseyhightower/envconfig"
	"github.com/phuslu/log"
)

type Config struct {
	ServerNetwork string `envconfig:"SERVER_NETWORK" default:"udp4"`
	ServerAddr    string `envconfig:"SERVER_ADDR" required:"true" default:"0.0.0.0:8080"`
	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`

	TickRate           int           `envconfig:"TICK_RATE" default:"60"`
	MaxCatchUpSteps    int           `envconfig:"MAX_CATCH_UP_STEPS" default:"240"`
	IngestCapacity     int           `envconfig:"INGEST_CAPACITY" default:"32"`
	MailboxCapacity    int           `envconfig:"MAILBOX_CAPACITY" default:"100"`
	MaxSendsPerPass    int           `envconfig:"MAX_SENDS_PER_PASS" default:"128"`
	SendIdleInterval   time.Duration `envconfig:"SEND_IDLE_INTERVAL" default:"1ms"`
	SessionIdleTimeout time.Duration `envconfig:"SESSION_IDLE_TIMEOUT" default:"0"`
	WelcomeMessage     string        `envconfig:"WELCOME_MESSAGE" default:"welcome"`
}

func loadConfig() (*Config, error) {
	config := new(Config)
	if err := envconfig.Process("", config); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) serverOptions() gameserver.Options {
	return gameserver.Options{
		TickRate:           c.TickRate,
		MaxCatchUpSteps:    c.MaxCatchUpSteps,
		IngestCapacity:     c.IngestCapacity,
		MailboxCapacity:    c.MailboxCapacity,
		MaxSendsPerPass:    c.MaxSendsPerPass,
		SendIdleInterval:   c.SendIdleInterval,
		SessionIdleTimeout: c.SessionIdleTimeout,
		Welcome:            c.WelcomeMessage,
	}
}

func configureLogger(level string) *log.Logger {
	logger := log.DefaultLogger

	// https://github.com/phuslu/log?tab=readme-ov-file#pretty-console-writer
	logger.Level = log.ParseLevel(level)
	logger.Caller = 1
	logger.TimeFormat = "15:04:05"
	logger.Writer = &log.ConsoleWriter{
		ColorOutput:    true,
		QuoteString:    true,
		EndWithMessage: true,
	}

	return &logger
}

func erringMain() error {
	config, err := loadConfig()
	if err != nil {
		return fmt.Errorf("could not process config: %w", err)
	}

	logger := configureLogger(config.LogLevel)

	server, err := gameserver.NewServer(config.ServerNetwork, config.ServerAddr, config.serverOptions(), logger)
	if err != nil {
		return fmt.Errorf("could not construct game server: %w", err)
	}
	logger.Info().Msgf("started game server on %s", server.Addr())
	if config.SessionIdleTimeout == 0 {
		logger.Warn().Msg("session idle timeout is disabled; sessions of clients that never send disconnect are kept until restart")
	}

	wg := new(sync.WaitGroup)
	ctx, cancel := context.WithCancel(context.Background())

	wg.Add(1)
	var serverRunErr error
	go func() {
		defer wg.Done()
		serverRunErr = server.Run(ctx)
	}()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGTERM, syscall.SIGINT)

	sig := <-signalChan
	logger.Info().Msgf("received %+v signal", sig)

	cancel()
	wg.Wait()
	if serverRunErr != nil {
		return fmt.Errorf("game server run failed: %w", serverRunErr)
	}

	stats := server.Stats()
	logger.Info().
		Uint64("decode_errors", stats.DecodeErrors).
		Uint64("ingest_dropped", stats.IngestDropped).
		Uint64("mailbox_dropped", stats.MailboxDropped).
		Uint64("send_errors", stats.SendErrors).
		Msg("stopped")

	return nil
}

func main() {
	if err := erringMain(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(42)
	}
}
