package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/blukai/udparena/internal/gameclient"
	"github.com/blukai/udparena/internal/protocol"
	"github.com/kelseyhightower/envconfig"
	"github.com/phuslu/log"
)

// headless peer for poking a running server from a terminal. every line on
// stdin is sent as chat, except for the commands in handleLine.

type Config struct {
	ServerNetwork string `envconfig:"SERVER_NETWORK" default:"udp4"`
	ServerAddr    string `envconfig:"SERVER_ADDR" required:"true" default:"127.0.0.1:8080"`
	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`
}

func loadConfig() (*Config, error) {
	config := new(Config)
	if err := envconfig.Process("", config); err != nil {
		return nil, err
	}
	return config, nil
}

func configureLogger(level string) *log.Logger {
	logger := log.DefaultLogger

	logger.Level = log.ParseLevel(level)
	logger.TimeFormat = "15:04:05"
	logger.Writer = &log.ConsoleWriter{
		ColorOutput:    true,
		QuoteString:    true,
		EndWithMessage: true,
	}

	return &logger
}

func printMessages(ctx context.Context, gc *gameclient.GameClient, logger *log.Logger) {
	for ctx.Err() == nil {
		msg, err := gc.Recv()
		if errors.Is(err, gameclient.ErrTimeout) {
			continue
		}

		switch msg := msg.(type) {
		case *protocol.SClientIDAssignment:
			logger.Info().Msgf("assigned id %d", msg.ID)
		case *protocol.SWelcome:
			logger.Info().Msgf("server says: %s", msg.Text)
		case *protocol.SClientJoined:
			logger.Info().Msgf("client %d joined", msg.ID)
		case *protocol.SClientLeft:
			logger.Info().Msgf("client %d left", msg.ID)
		case *protocol.SChatMessage:
			logger.Info().Msgf("%d says: %s", msg.From, msg.Text)
		case *protocol.SSpawnPlayer:
			logger.Info().Msgf("player %d spawned for client %d at %s", msg.EntityID, msg.Owner, msg.Pos)
		case *protocol.SEntityPosition:
			logger.Debug().Msgf("player %d moved to %s", msg.EntityID, msg.Pos)
		case *protocol.SAllPlayers:
			for _, p := range msg.Players {
				logger.Info().Msgf("player %d (client %d) at %s", p.ID, p.Owner, p.Pos)
			}
		}
	}
}

func handleLine(gc *gameclient.GameClient, line string) (quit bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}

	switch fields[0] {
	case "/quit":
		return true, gc.Disconnect()
	case "/spawn":
		return false, gc.Send(&protocol.CRequestToSpawnPlayer{})
	case "/players":
		return false, gc.Send(&protocol.CRequestAllPlayers{})
	case "/move":
		if len(fields) != 4 {
			return false, errors.New("usage: /move <entity> <x> <y>")
		}
		id, err := strconv.ParseUint(fields[1], 10, 32)
		if err != nil {
			return false, fmt.Errorf("invalid entity id: %w", err)
		}
		x, err := strconv.ParseFloat(fields[2], 32)
		if err != nil {
			return false, fmt.Errorf("invalid x: %w", err)
		}
		y, err := strconv.ParseFloat(fields[3], 32)
		if err != nil {
			return false, fmt.Errorf("invalid y: %w", err)
		}
		return false, gc.MoveEntity(protocol.EntityID(id), protocol.Vec2{X: float32(x), Y: float32(y)})
	default:
		return false, gc.Chat(line)
	}
}

func erringMain() error {
	config, err := loadConfig()
	if err != nil {
		return fmt.Errorf("could not process config: %w", err)
	}

	logger := configureLogger(config.LogLevel)

	gc, err := gameclient.NewGameClient(config.ServerNetwork, config.ServerAddr, logger)
	if err != nil {
		return fmt.Errorf("could not construct game client: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		gc.Run(ctx)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		printMessages(ctx, gc, logger)
	}()

	if err := gc.Send(&protocol.CConnect{}); err != nil {
		cancel()
		wg.Wait()
		return err
	}

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			quit, err := handleLine(gc, line)
			if err != nil {
				logger.Error().Err(err).Msg("command failed")
			}
			if quit {
				break loop
			}
		}
	}

	cancel()
	wg.Wait()
	return nil
}

func main() {
	if err := erringMain(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(42)
	}
}
