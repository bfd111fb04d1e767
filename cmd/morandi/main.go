package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dukerupert/morandi/internal/config"
	"github.com/dukerupert/morandi/internal/database"
	"github.com/dukerupert/morandi/internal/logging"
	"github.com/dukerupert/morandi/internal/server"
	"github.com/dukerupert/morandi/internal/store"
	"github.com/dukerupert/morandi/internal/sweeper"
)

func main() {
	configPath := flag.String("config", "morandi.yaml", "path to the YAML config file")
	listen := flag.String("listen", "", "HTTP listen address (overrides config)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: morandi [flags] [token -user ID | user -email ADDR [-name NAME]]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	if err := sweeper.Validate(cfg.SweepSchedule); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	srv := server.New(db, cfg, logger)

	switch flag.Arg(0) {
	case "":
	case "token", "user":
		run := mintToken
		if flag.Arg(0) == "user" {
			run = upsertUser
		}
		if err := run(srv, store.New(db), flag.Args()[1:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	default:
		flag.Usage()
		os.Exit(2)
	}

	if err := srv.Sweeper().Start(); err != nil {
		logger.Error("failed to start sweeper", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go cleanupRateLimiter(ctx, srv)

	httpServer := &http.Server{
		Addr:         cfg.Listen,
		Handler:      srv.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("morandi listening", "addr", cfg.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	srv.Sweeper().Stop(shutdownCtx)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

// mintToken prints a bearer token for an existing user. Account sign-in
// lives outside this service; the command exists for development and
// scripting.
func mintToken(srv *server.Server, s *store.Store, args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	userID := fs.Int64("user", 0, "user id to mint a token for")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID <= 0 {
		return errors.New("token: -user is required")
	}
	u, err := s.Users.GetByID(*userID)
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}
	if u == nil {
		return fmt.Errorf("token: user %d not found", *userID)
	}
	token, err := srv.Tokens().Issue(u.ID, u.Email)
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}
	fmt.Println(token)
	return nil
}

// upsertUser creates an account, or renames the one that already owns the
// email, and prints its id.
func upsertUser(_ *server.Server, s *store.Store, args []string) error {
	fs := flag.NewFlagSet("user", flag.ContinueOnError)
	email := fs.String("email", "", "account email")
	name := fs.String("name", "", "display name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	addr := strings.TrimSpace(*email)
	if addr == "" {
		return errors.New("user: -email is required")
	}

	u, err := s.Users.GetByEmail(addr)
	if err != nil {
		return fmt.Errorf("user: %w", err)
	}
	if u == nil {
		u, err = s.Users.Create(addr, *name)
	} else {
		u, err = s.Users.Update(u.ID, u.Email, *name)
	}
	if err != nil {
		return fmt.Errorf("user: %w", err)
	}
	fmt.Println(u.ID)
	return nil
}

func cleanupRateLimiter(ctx context.Context, srv *server.Server) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			srv.RateLimiter().Cleanup()
		}
	}
}
