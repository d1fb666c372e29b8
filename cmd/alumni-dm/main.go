// ABOUTME: Terminal client for alumni direct messages over the REST backend.
// ABOUTME: Wires config, cache, moderation and the session manager, then runs the command loop.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/2389/alumni-dm/internal/auth"
	"github.com/2389/alumni-dm/internal/backend"
	"github.com/2389/alumni-dm/internal/config"
	"github.com/2389/alumni-dm/internal/logging"
	"github.com/2389/alumni-dm/internal/moderation"
	"github.com/2389/alumni-dm/internal/msgcache"
	"github.com/2389/alumni-dm/internal/session"
	"github.com/2389/alumni-dm/internal/thread"
)

func main() {
	configPath := flag.String("config", "", "Config file (default $ALUMNI_DM_CONFIG or ~/.config/alumni-dm/config.yaml)")
	tokenFlag := flag.String("token", "", "Bearer token (overrides config and ALUMNI_TOKEN)")
	flag.Parse()

	// A missing .env is normal.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath, *tokenFlag); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nGoodbye!")
}

func run(ctx context.Context, configPath, tokenFlag string) error {
	if configPath == "" {
		configPath = config.Path()
	}
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.ValidateClient(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	logger := logging.Setup(cfg.Logging, os.Stderr)
	slog.SetDefault(logger)

	token := getToken(tokenFlag, cfg.Backend.Token, configPath)
	if token == "" {
		return errors.New("no token: pass -token, set backend.token or ALUMNI_TOKEN, or write one to the token file next to the config")
	}
	viewer, err := auth.ViewerFromToken(token)
	if err != nil {
		return fmt.Errorf("reading token: %w", err)
	}

	client := backend.NewREST(cfg.Backend.URL, token, backend.RESTOptions{
		Timeout:           cfg.Backend.Timeout,
		RequestsPerSecond: cfg.Backend.RequestsPerSecond,
	}, logger)

	store, err := msgcache.OpenStore(cfg.Cache.Driver, cfg.Cache.Path, cfg.Cache.MaxEntries)
	if err != nil {
		return fmt.Errorf("opening message cache: %w", err)
	}
	if store != nil {
		defer store.Close()
	}

	mgr := session.New(session.Options{
		Viewer:    viewer,
		Backend:   client,
		Cache:     msgcache.New(store, cfg.Cache.TTL, logger),
		Gate:      moderation.New(cfg.Moderation.Terms(moderation.DefaultTerms)),
		Messaging: messagingFromConfig(cfg.Messaging),
		Logger:    logger,
	})
	defer mgr.Close()

	fmt.Printf("alumni-dm connected to %s as %s (%s)\n", cfg.Backend.URL, viewer.Name, viewer.ID)
	fmt.Println("Type /help for commands. Ctrl+C to quit.")
	fmt.Println()

	return newREPL(mgr, os.Stdin, os.Stdout).run(ctx)
}

func messagingFromConfig(m config.MessagingConfig) session.Messaging {
	return session.Messaging{
		PollInterval:         m.PollInterval,
		HistoryLimit:         m.HistoryLimit,
		DeleteWindow:         m.DeleteWindow,
		DeletePolicy:         thread.DeletePolicy(m.DeletePolicy),
		RecoveryPolicy:       thread.RecoveryPolicy(m.RecoveredProvisional),
		RefreshConversations: m.RefreshConversations,
	}
}

// getToken returns the first token found in: the -token flag, backend.token,
// ALUMNI_TOKEN, or a "token" file beside the config file.
func getToken(flagValue, configValue, configPath string) string {
	for _, t := range []string{flagValue, configValue, os.Getenv("ALUMNI_TOKEN")} {
		if t = strings.TrimSpace(t); t != "" {
			return t
		}
	}

	data, err := os.ReadFile(filepath.Join(filepath.Dir(configPath), "token"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
