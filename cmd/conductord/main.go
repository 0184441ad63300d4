// conductord runs a terminal session against the agent router: one query per
// line on stdin, streamed fragments on stdout.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"

	"conductor/internal/agents"
	"conductor/internal/config"
	"conductor/internal/fault"
	"conductor/internal/observability"
	"conductor/internal/services"
)

// Exit codes: 0 success, 1 config error, 2 store unreachable, 3 internal.
const (
	exitOK = iota
	exitConfig
	exitStore
	exitInternal
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return exitConfig
	}
	observability.InitLogger(cfg.LogPath, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := services.New(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("startup failed")
		if errors.Is(err, fault.ErrStoreUnavailable) {
			return exitStore
		}
		return exitInternal
	}
	defer svc.Close(context.Background())

	for _, agent := range svc.Router.Agents() {
		log.Info().Str("agent", agent.Name).Int("tools", len(agent.Tools)).Msg("agent ready")
	}

	session := svc.Router.NewSession()
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	fmt.Println("conductor ready. One query per line; ctrl-d to exit.")

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		query := strings.TrimSpace(scanner.Text())
		if query == "" {
			continue
		}
		if query == "exit" || query == "quit" {
			break
		}
		queryCtx, cancel := context.WithCancel(ctx)
		session.Ask(queryCtx, query, printFragment)
		cancel()
		fmt.Println()
		if ctx.Err() != nil {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		log.Error().Err(err).Msg("stdin read failed")
		return exitInternal
	}
	return exitOK
}

func printFragment(f agents.Fragment) {
	switch f.Type {
	case agents.FragmentUser:
		// the user typed it; no echo
	case agents.FragmentTool:
		fmt.Printf("```%s\n%s\n```\n", f.Marker, f.Text)
	case agents.FragmentError:
		fmt.Printf("error [%s] %s (correlation %s)\n", f.Err.Kind, f.Err.Message, f.Err.CorrelationID)
	default:
		fmt.Print(f.Text)
	}
}
