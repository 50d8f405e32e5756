package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/orian/configdesk/logger"
	"github.com/orian/configdesk/models"
)

// Server handles HTTP requests and coordinates the configuration stores.
type Server struct {
	conn      *StoreConnector
	graphs    models.GraphRepository
	scenarios models.ScenarioStore
	log       *logger.Logger
}

func NewServer(conn *StoreConnector, graphs models.GraphRepository, scenarios models.ScenarioStore, log *logger.Logger) *Server {
	return &Server{
		conn:      conn,
		graphs:    graphs,
		scenarios: scenarios,
		log:       log,
	}
}

// Router builds the HTTP routes of the server.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/ping", s.handlePing)

		// Configurations
		r.Get("/configurations", s.handleListConfigurations)
		r.Post("/configurations", s.handleCreateConfiguration)
		r.Route("/configurations/{configId}", func(r chi.Router) {
			r.Get("/", s.handleGetConfiguration)
			r.Put("/", s.handleUpdateConfiguration)
			r.Delete("/", s.handleDeleteConfiguration)
		})

		// Interface graph
		r.Route("/interfaces", func(r chi.Router) {
			r.Put("/", s.handleReplaceGraph)
			r.Get("/{configId}", s.handleGetGraph)

			r.Post("/entity", s.handleAddEntity)
			r.Put("/entity", s.handleUpdateEntity)
			r.Delete("/entity", s.handleDeleteEntity)

			r.Post("/interface", s.handleAddInterface)
			r.Put("/interface", s.handleUpdateInterface)
			r.Delete("/interface", s.handleDeleteInterface)

			// Versioning
			r.Post("/commit", s.handleCommit)
			r.Get("/commit/{configId}", s.handleHistory)
			r.Get("/commit/{configId}/{ref}", s.handleVersionsByRef)
			r.Get("/commit/{configId}/{ref}/diff/{to}", s.handleVersionDiff)
		})

		// Services
		r.Route("/services", func(r chi.Router) {
			r.Get("/{configId}", s.handleGetServices)
			r.Post("/", s.handleAddService)
			r.Put("/", s.handleUpdateService)
			r.Delete("/", s.handleDeleteService)

			r.Post("/interfaces", s.handleAddServiceInterface)
			r.Put("/interfaces", s.handleUpdateServiceInterface)
			r.Delete("/interfaces", s.handleDeleteServiceInterface)
		})

		// Processor releases
		r.Route("/processors-releases", func(r chi.Router) {
			r.Get("/{configId}", s.handleGetProcessorReleases)
			r.Post("/", s.handleAddProcessorRelease)
			r.Put("/", s.handleUpdateProcessorRelease)
			r.Delete("/", s.handleDeleteProcessorRelease)
		})
	})

	return r
}

// openSinks connects every configured commit sink. Sinks that fail to
// connect are logged and skipped.
func openSinks(ctx context.Context, cfg Config, log *logger.Logger) ([]models.CommitSink, func()) {
	var sinks []models.CommitSink
	var closers []func()

	if cfg.ClickHouse.Enabled() {
		conn, err := openClickHouse(ctx, cfg.ClickHouse, log)
		if err != nil {
			log.Warn("ClickHouse audit trail disabled", "error", err)
		} else {
			sink := NewClickHouseSink(conn, cfg.ClickHouse.Table)
			if err := sink.EnsureTable(ctx); err != nil {
				log.Warn("ClickHouse audit table unavailable", "error", err)
				_ = conn.Close()
			} else {
				sinks = append(sinks, sink)
				closers = append(closers, func() { _ = conn.Close() })
				log.Info("ClickHouse audit trail enabled", "table", sink.table)
			}
		}
	}

	if cfg.MQTT.Enabled() {
		notifier := NewMQTTNotifier(cfg.MQTT)
		if err := notifier.Connect(); err != nil {
			log.Warn("MQTT notifications disabled", "url", cfg.MQTT.URL, "error", err)
		} else {
			sinks = append(sinks, notifier)
			closers = append(closers, notifier.Disconnect)
			log.Info("MQTT notifications enabled", "url", cfg.MQTT.URL, "prefix", notifier.topicPrefix)
		}
	}

	projector, err := NewNeo4jProjector(cfg.Neo4j, log)
	switch {
	case err != nil:
		log.Warn("Neo4j projection disabled", "error", err)
	case projector != nil:
		sinks = append(sinks, projector)
		closers = append(closers, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = projector.Close(ctx)
		})
		log.Info("Neo4j projection enabled", "uri", cfg.Neo4j.URI)
	}

	return sinks, func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
}

func main() {
	cfg, err := LoadConfig(".env")
	if err != nil {
		// The logger is not configured yet.
		l, _ := logger.New("prod")
		l.Fatal("Invalid configuration", "error", err)
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := NewStoreConnector(cfg.Store, log)
	if err != nil {
		log.Fatal("Failed to configure store", "error", err)
	}
	defer conn.Close()
	if _, err := conn.Connect(ctx); err != nil {
		log.Fatal("Failed to initialize store", "store", conn.describe(), "error", err)
	}

	sinks, closeSinks := openSinks(ctx, cfg, log)
	defer closeSinks()

	graphs := NewGraphStore(conn,
		WithCommitSinks(sinks...),
		WithConflictRetries(cfg.Store.ConflictRetries),
		WithLogger(log),
	)
	server := NewServer(conn, graphs, NewScenarioStore(conn), log)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("Shutdown failed", "error", err)
		}
	}()

	log.Info("Starting server", "addr", cfg.HTTPAddr, "store", conn.describe())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("Server failed", "error", err)
	}
}
