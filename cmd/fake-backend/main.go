// ABOUTME: In-memory development backend serving the alumni messaging REST API.
// ABOUTME: Usage: fake-backend [serve] [-seed id:Name,...] | fake-backend token <userId> [name]

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/cors"
	"github.com/joho/godotenv"

	"github.com/2389/alumni-dm/internal/auth"
	"github.com/2389/alumni-dm/internal/backend"
	"github.com/2389/alumni-dm/internal/chat"
	"github.com/2389/alumni-dm/internal/config"
	"github.com/2389/alumni-dm/internal/logging"
)

const (
	defaultSeed   = "ada:Ada Lovelace,grace:Grace Hopper,alan:Alan Turing"
	tokenLifetime = 30 * 24 * time.Hour
)

func main() {
	_ = godotenv.Load()

	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	configPath := fs.String("config", "", "Config file (default $ALUMNI_DM_CONFIG or ~/.config/alumni-dm/config.yaml)")
	seed := fs.String("seed", defaultSeed, "Comma-separated id:Name users to create at startup")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	switch cmd {
	case "serve":
		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		err = serve(ctx, cfg, parseSeed(*seed))
	case "token":
		err = printToken(cfg, fs.Args())
	default:
		err = fmt.Errorf("unknown command %q (want serve or token)", cmd)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = config.Path()
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if cfg.Server.JWTSecret == "" {
		cfg.Server.JWTSecret = os.Getenv("ALUMNI_JWT_SECRET")
	}
	if err := cfg.ValidateServer(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// parseSeed reads "id:Name,id2:Name2". A bare id uses the id as its name.
func parseSeed(s string) []chat.User {
	var users []chat.User
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, name, ok := strings.Cut(part, ":")
		id = strings.TrimSpace(id)
		if !ok || strings.TrimSpace(name) == "" {
			name = id
		}
		users = append(users, chat.User{ID: id, Name: strings.TrimSpace(name)})
	}
	return users
}

func serve(ctx context.Context, cfg *config.Config, users []chat.User) error {
	logger := logging.Setup(cfg.Logging, os.Stdout)
	slog.SetDefault(logger)

	verifier := auth.NewJWTVerifier([]byte(cfg.Server.JWTSecret))
	mem := backend.NewMemory()
	for _, u := range users {
		mem.AddUser(u)
		token, err := verifier.Generate(u, tokenLifetime)
		if err != nil {
			return fmt.Errorf("issuing token for %s: %w", u.ID, err)
		}
		logger.Info("seeded user", "user_id", u.ID, "name", u.Name, "token", token)
	}

	handler := backend.NewHandler(mem, backend.HandlerOptions{
		Verifier: verifier,
		Logger:   logger,
		Middlewares: []func(http.Handler) http.Handler{
			requestLogger(logger),
			corsHandler(cfg.Server.CORSOrigins),
		},
	})

	srv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("fake backend listening", "addr", cfg.Server.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}

func corsHandler(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}

func printToken(cfg *config.Config, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: fake-backend token <userId> [name]")
	}
	user := chat.User{ID: args[0], Name: args[0]}
	if len(args) > 1 {
		user.Name = strings.Join(args[1:], " ")
	}

	token, err := auth.NewJWTVerifier([]byte(cfg.Server.JWTSecret)).Generate(user, tokenLifetime)
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}
	fmt.Println(token)
	return nil
}
