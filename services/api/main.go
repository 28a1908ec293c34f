package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dialogs/internal/config"
	"github.com/dialogs/internal/event"
	"github.com/dialogs/internal/handler"
	"github.com/dialogs/internal/logger"
	"github.com/dialogs/internal/middleware"
	"github.com/dialogs/internal/platform"
	"github.com/dialogs/internal/push"
	"github.com/dialogs/internal/relay"
	"github.com/dialogs/internal/repository"
	"github.com/dialogs/internal/repository/memory"
	"github.com/dialogs/internal/service"
	"github.com/dialogs/internal/startup"
	"github.com/dialogs/internal/ws"
	"github.com/dialogs/migrations"
)

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	memdb := flag.Bool("memdb", false, "run on in-memory storage (no database at all)")
	flag.Parse()

	if *migrate && *memdb {
		logger.Error("-migrate makes no sense with -memdb: in-memory storage has no schema")
		os.Exit(1)
	}

	logger.Info("starting API service")
	cfg := config.Load()

	var convStore service.ConversationStore
	var msgStore service.MessageStore
	var reactStore service.ReactionStore

	if *memdb {
		logger.Info("running on in-memory storage")
		store := memory.NewStore()
		convStore, msgStore, reactStore = store, store, store.ReactionStore()
	} else {
		var embeddedDB *embeddedpostgres.EmbeddedPostgres
		if *dev {
			var err error
			embeddedDB, err = startEmbeddedPostgres(cfg)
			if err != nil {
				logger.Errorf("embedded postgres: %v", err)
				os.Exit(1)
			}
			defer func() {
				logger.Info("stopping embedded postgres...")
				if err := embeddedDB.Stop(); err != nil {
					logger.Errorf("embedded postgres stop: %v", err)
				}
			}()
		}

		poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
		if err != nil {
			logger.Errorf("parse db config: %v", err)
			os.Exit(1)
		}
		poolCfg.MaxConns = int32(cfg.DBMaxConnections())
		poolCfg.MinConns = 4

		pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second, "")
		defer pool.Close()

		runMigrations(pool)
		if *migrate {
			logger.Info("migrations applied, exiting")
			return
		}
		logger.Info("database connected, migrations applied")

		convStore = repository.NewConversationRepository(pool)
		msgStore = repository.NewMessageRepository(pool)
		reactStore = repository.NewReactionRepository(pool)
	}

	gate := platform.NewClient(cfg.PlatformServiceURL)
	pushClient := push.NewClient(cfg.PushServiceURL)

	hub := ws.NewHub(cfg.MaxWSConnections)
	var publisher event.Publisher = hub

	var relayWg sync.WaitGroup
	relayCtx, relayCancel := context.WithCancel(context.Background())
	if rdb := startup.ConnectRedis(cfg.Redis.URL); rdb != nil {
		rl := relay.New(hub, rdb, cfg.Redis.EventChannel)
		publisher = rl
		relayWg.Add(1)
		go func() {
			defer relayWg.Done()
			rl.Run(relayCtx)
		}()
		defer rdb.Close()
	}

	mailboxSvc := service.NewMailbox(convStore, msgStore, reactStore, gate, gate, publisher, pushClient)
	convSvc := service.NewConversations(convStore, msgStore, reactStore, gate, gate, publisher, cfg.PinQuota, cfg.PinQuotaPremium)
	viewSvc := service.NewViews(convStore, msgStore, reactStore, gate)
	hub.Bind(mailboxSvc, convSvc)

	hubCtx, hubCancel := context.WithCancel(context.Background())
	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	convH := handler.NewConversationHandler(convSvc, viewSvc, mailboxSvc)
	msgH := handler.NewMessageHandler(mailboxSvc)
	wsH := handler.NewWSHandler(hub, cfg.CORSAllowedOrigins)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	// Do not compress WebSocket responses: the wrapped ResponseWriter loses
	// http.Hijacker and the upgrade fails with a 500.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			chimw.Compress(5)(next).ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(middleware.RateLimitAPI)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORSAllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Session-Id", "X-Timestamp", "X-Signature", "X-User-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.Handle("/metrics", promhttp.Handler())

	auth := middleware.AuthServiceValidate(cfg.AuthServiceURL, nil)
	if *dev || *memdb {
		auth = middleware.DevAuth
		logger.Info("dev auth enabled: requests authenticate via X-User-Id")
	}

	r.Group(func(r chi.Router) {
		r.Use(auth)

		r.Get("/api/conversations", convH.List)
		r.Post("/api/conversations", convH.Open)
		r.Get("/api/conversations/{id}", convH.Get)
		r.Delete("/api/conversations/{id}", convH.Delete)
		r.Post("/api/conversations/{id}/clear", convH.ClearHistory)
		r.Post("/api/conversations/{id}/mute", convH.ToggleMute)
		r.Post("/api/conversations/{id}/archive", convH.ToggleArchive)
		r.Post("/api/conversations/{id}/pin", convH.ToggleListPin)
		r.Post("/api/conversations/{id}/unread", convH.MarkUnread)
		r.Post("/api/conversations/{id}/read", convH.MarkRead)
		r.Post("/api/conversations/{id}/typing", convH.Typing)
		r.Put("/api/conversations/{id}/wallpaper", convH.SetWallpaper)
		r.Get("/api/conversations/{id}/messages", convH.Messages)
		r.Get("/api/conversations/{id}/messages/page", convH.LocatePage)
		r.Get("/api/conversations/{id}/search", convH.Search)
		r.Get("/api/conversations/{id}/attachments", convH.Attachments)
		r.Get("/api/conversations/{id}/stats", convH.Stats)
		r.Get("/api/conversations/{id}/pinned", convH.Pinned)
		r.Post("/api/conversations/{id}/messages/{messageId}/pin", convH.PinMessage)
		r.Delete("/api/conversations/{id}/messages/{messageId}/pin", convH.UnpinMessage)

		r.Post("/api/messages", msgH.Send)
		r.Put("/api/messages/{id}", msgH.Edit)
		r.Post("/api/messages/{id}/reaction", msgH.React)
		r.Post("/api/messages/delete", msgH.Delete)
		r.Post("/api/messages/forward", msgH.Forward)

		r.Get("/ws", wsH.ServeWS)
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	relayCancel()
	relayWg.Wait()
	srvWg.Wait()
	logger.Info("server goroutine exited")
}

// runMigrations applies the embedded SQL files in name order. Statements
// are idempotent (CREATE TABLE IF NOT EXISTS, ADD COLUMN IF NOT EXISTS),
// so re-running on startup is safe.
func runMigrations(pool *pgxpool.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	entries, err := migrations.Files.ReadDir(".")
	if err != nil {
		logger.Errorf("read migrations: %v", err)
		os.Exit(1)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		data, err := migrations.Files.ReadFile(name)
		if err != nil {
			logger.Errorf("read migration %s: %v", name, err)
			os.Exit(1)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			logger.Errorf("run migration %s: %v", name, err)
			os.Exit(1)
		}
	}
	logger.Info("migrations applied")
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "dialogs"
		password = "dialogs_secret"
		database = "dialogs"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
