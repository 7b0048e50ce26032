package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/term"
	_ "modernc.org/sqlite"

	"github.com/ilyakasyanov/walletsync/internal/buildinfo"
	"github.com/ilyakasyanov/walletsync/internal/config"
	"github.com/ilyakasyanov/walletsync/internal/conflict"
	"github.com/ilyakasyanov/walletsync/internal/httpapi"
	"github.com/ilyakasyanov/walletsync/internal/logging"
	"github.com/ilyakasyanov/walletsync/internal/queue"
	"github.com/ilyakasyanov/walletsync/internal/scheduler"
	"github.com/ilyakasyanov/walletsync/internal/services"
	"github.com/ilyakasyanov/walletsync/internal/store"
	"github.com/ilyakasyanov/walletsync/internal/syncer"
	"github.com/ilyakasyanov/walletsync/internal/transport"
)

func main() {
	buildinfo.PrintBuildData(os.Stdout)

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "walletsync: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.LoadConfig()
	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.OpenDatabase(ctx, cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	creds, err := readCredentials()
	if err != nil {
		return fmt.Errorf("reading credentials: %w", err)
	}

	st := store.New(db, log)
	q := queue.New(db, queue.Config{
		MaxLength:  cfg.QueueMaxLength,
		BatchSize:  cfg.QueueBatchSize,
		MaxRetries: cfg.MaxRetries,
	}, log)

	history := conflict.NewHistory(db, log)
	detector := conflict.NewDetector(history, log)
	tr := transport.NewHTTPTransport(cfg.ServerEndpointAddr, 15*time.Second, log)
	emitter := syncer.NewEmitter()

	driver := syncer.New(st, q, detector, history, tr, emitter, syncer.Config{
		Concurrency:  cfg.Concurrency,
		BaseInterval: cfg.SyncInterval,
	}, log)

	ledger := services.NewLedgerService(st, q, log)
	if n, err := ledger.RecoverPending(ctx); err != nil {
		log.Warn(ctx, "recovery sweep failed", "error", err)
	} else if n > 0 {
		log.Info(ctx, "requeued entities from previous run", "count", n)
	}

	sched := scheduler.New(driver, st, q, tr, func() transport.Credentials { return creds },
		scheduler.Config{ProbeInterval: cfg.OnlineCheckInterval}, log)
	sched.Start(ctx)
	defer sched.Close()

	handler := httpapi.NewHandler(ledger, st, sched, emitter, log)
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: httpapi.NewRouter(handler)}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info(ctx, "status API listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(ctx, "http server failed", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info(ctx, "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "http shutdown failed", "error", err)
	}
	wg.Wait()
	return nil
}

// readCredentials takes the access token from the environment or, when
// attached to a terminal, prompts for it without echo.
func readCredentials() (transport.Credentials, error) {
	creds := transport.Credentials{
		UserID: os.Getenv("WALLETSYNC_USER"),
		Token:  os.Getenv("WALLETSYNC_TOKEN"),
	}
	if creds.Token != "" {
		return creds, nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return creds, errors.New("no token: set WALLETSYNC_TOKEN or run interactively")
	}

	fmt.Print("Access token: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return creds, err
	}
	creds.Token = strings.TrimSpace(string(raw))
	if creds.Token == "" {
		return creds, errors.New("empty token")
	}
	return creds, nil
}
