package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"eyeworks-storefront/internal/config"
	"eyeworks-storefront/internal/handler"
	"eyeworks-storefront/internal/logging"
	"eyeworks-storefront/internal/realtime"
	"eyeworks-storefront/internal/repository"
	"eyeworks-storefront/internal/service"
	"eyeworks-storefront/internal/session"
	"eyeworks-storefront/internal/store"
	"eyeworks-storefront/internal/store/couch"
	"eyeworks-storefront/internal/store/memory"
	"eyeworks-storefront/internal/store/postgres"
	"eyeworks-storefront/internal/websocket"
	"eyeworks-storefront/pkg/hash"
	"eyeworks-storefront/pkg/jwt"

	"github.com/docopt/docopt-go"
	"github.com/rs/zerolog/log"
)

const Version = "1.0.0"

func main() {
	usage := `Eyeworks storefront.

Usage:
    storefront serve [--env-file=<path>]
    storefront seed [--env-file=<path>]
    storefront chat [--server=<url>] [--name=<name>] [--session-file=<path>]
    storefront staff-token <name> [--ttl=<duration>] [--env-file=<path>]
    storefront hash-password
    storefront -h | --help
    storefront --version

Options:
    -h --help                Show this screen.
    --version                Show version.
    --env-file=<path>        Environment file to load [default: .env].
    --server=<url>           Storefront base url [default: http://localhost:8080].
    --name=<name>            Name shown to staff in the chat.
    --session-file=<path>    Where the chat client keeps its session id.
    --ttl=<duration>         Token lifetime, e.g. 12h. Defaults to STAFF_TOKEN_EXPIRATION.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], Version)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if hash_, _ := opts.Bool("hash-password"); hash_ {
		if err := hashPassword(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}
	if chat_, _ := opts.Bool("chat"); chat_ {
		logging.Setup("warn", true)
		if err := runChat(opts); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	envFile, _ := opts.String("--env-file")
	cfg, err := config.Load(envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Pretty)

	if serve_, _ := opts.Bool("serve"); serve_ {
		err = serve(cfg)
	} else if seed_, _ := opts.Bool("seed"); seed_ {
		err = seed(cfg)
	} else if token_, _ := opts.Bool("staff-token"); token_ {
		err = staffToken(cfg, opts)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("storefront failed")
	}
}

func openBackend(ctx context.Context, cfg *config.Config) (store.Backend, error) {
	switch cfg.Store.Driver {
	case config.DriverCouch:
		c := cfg.Store.Couch
		b, err := couch.Open(ctx, couch.Config{
			Host:     c.Host,
			Port:     c.Port,
			User:     c.User,
			Password: c.Password,
			Name:     c.Name,
			Retry:    cfg.Store.RetryDelay,
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("host", c.Host).Str("db", c.Name).Msg("connected to CouchDB")
		return b, nil
	case config.DriverPostgres:
		b, err := postgres.Open(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, err
		}
		log.Info().Msg("connected to PostgreSQL")
		return b, nil
	default:
		log.Warn().Msg("using the in-memory store, data is lost on exit")
		return memory.New(), nil
	}
}

func serve(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	broker := realtime.NewBroker(backend)
	defer broker.Close()

	inventoryRepo := repository.NewInventoryRepository(backend, broker)
	appointmentRepo := repository.NewAppointmentRepository(backend, broker)
	messageRepo := repository.NewChatMessageRepository(backend, broker)
	sessionRepo := repository.NewChatSessionRepository(backend)

	catalog := service.NewCatalog(inventoryRepo)
	if cfg.Store.Driver == config.DriverMemory {
		if _, err := catalog.Seed(ctx, service.SampleProducts()); err != nil {
			return fmt.Errorf("failed to seed catalog: %w", err)
		}
	}
	if err := catalog.Start(ctx); err != nil {
		log.Error().Err(err).Msg("catalog unavailable at startup")
	}
	defer catalog.Close()

	book := service.NewAppointmentBook(appointmentRepo, cfg.Store.Timezone)
	if err := book.Start(ctx); err != nil {
		log.Error().Err(err).Msg("appointment book unavailable at startup")
	}
	defer book.Close()

	chat := service.NewChatService(messageRepo, sessionRepo, service.NewResponder(), service.ChatConfig{
		MatchWindow: cfg.Chat.MatchWindow,
		ReplyDelay:  cfg.Chat.ReplyDelay,
	})

	hubOpts := websocket.Options{
		MaxConnPerSession: cfg.WebSocket.MaxConnPerSession,
		MaxMessageSize:    cfg.WebSocket.MaxMessageSize,
		WriteWait:         cfg.WebSocket.WriteWait,
		PongWait:          cfg.WebSocket.PongWait,
		PingPeriod:        cfg.WebSocket.PingPeriod,
	}
	chatHub := websocket.NewManager(hubOpts)
	go chatHub.Run(ctx)
	changeOpts := hubOpts
	changeOpts.MaxConnPerSession = 0
	changeHub := websocket.NewManager(changeOpts)
	go changeHub.Run(ctx)

	if cfg.Staff.PasswordHash == "" {
		log.Warn().Msg("STAFF_PASSWORD_HASH is empty, staff login is disabled")
	}

	r := handler.NewRouter(handler.Deps{
		Config:       cfg,
		Catalog:      catalog,
		Appointments: book,
		Chat:         chat,
		Broker:       broker,
		ChatHub:      chatHub,
		ChangeHub:    changeHub,
		Sessions:     session.NewProvider(),
		StaffAuth:    service.NewStaffAuth(cfg.Staff.PasswordHash, cfg.Staff.Secret, cfg.Staff.Expiration),
		Health: func() map[string]bool {
			feeds := make(map[string]bool)
			for _, t := range store.Tables() {
				feeds[t.Name] = broker.Connected(t.Name)
			}
			return feeds
		},
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 40 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("env", cfg.Server.Env).
			Str("store", cfg.Store.Driver).
			Msg("starting storefront")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server failed to start: %w", err)
	}

	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info().Msg("server stopped gracefully")
	return nil
}

func seed(cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	catalog := service.NewCatalog(repository.NewInventoryRepository(backend, realtime.NewBroker(backend)))
	n, err := catalog.Seed(ctx, service.SampleProducts())
	if err != nil {
		return err
	}
	if n == 0 {
		log.Info().Msg("inventory already has products, nothing seeded")
		return nil
	}
	log.Info().Int("products", n).Msg("seeded inventory")
	return nil
}

func staffToken(cfg *config.Config, opts docopt.Opts) error {
	name, _ := opts.String("<name>")
	ttl := cfg.Staff.Expiration
	if raw, _ := opts.String("--ttl"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid --ttl: %w", err)
		}
		ttl = d
	}

	token, err := jwt.GenerateToken(name, ttl, cfg.Staff.Secret)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// hashPassword reads a password from stdin and prints the value for
// STAFF_PASSWORD_HASH. Keep the hash single-quoted in .env files so the
// dollar signs are not expanded.
func hashPassword() error {
	fmt.Fprint(os.Stderr, "Staff password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("failed to read password: %w", err)
	}
	hashed, err := hash.Hash(strings.TrimRight(line, "\r\n"))
	if err != nil {
		return err
	}
	fmt.Println(hashed)
	return nil
}
