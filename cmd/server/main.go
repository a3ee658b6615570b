package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dennisdiepolder/monti/acd/internal/alerts"
	"github.com/dennisdiepolder/monti/acd/internal/api"
	"github.com/dennisdiepolder/monti/acd/internal/auth"
	"github.com/dennisdiepolder/monti/acd/internal/cache"
	"github.com/dennisdiepolder/monti/acd/internal/callqueue"
	"github.com/dennisdiepolder/monti/acd/internal/config"
	"github.com/dennisdiepolder/monti/acd/internal/event"
	"github.com/dennisdiepolder/monti/acd/internal/ingestion"
	"github.com/dennisdiepolder/monti/acd/internal/metrics"
	"github.com/dennisdiepolder/monti/acd/internal/storage"
	"github.com/dennisdiepolder/monti/acd/internal/telephony"
	"github.com/dennisdiepolder/monti/acd/internal/telephony/sim"
	"github.com/dennisdiepolder/monti/acd/internal/ticker"
	"github.com/dennisdiepolder/monti/acd/internal/types"
	"github.com/dennisdiepolder/monti/acd/internal/websocket"
	"github.com/dennisdiepolder/monti/acd/pkg/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Configure logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().
		Str("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Str("log_level", cfg.LogLevel).
		Str("queue_mode", cfg.QueueMode).
		Msg("starting ACD server")

	// Create context for services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Queue manager
	opts := managerOptions(cfg)
	mgr := callqueue.NewManager(opts, log.Logger)
	if cfg.QueuesFile != "" {
		p, err := config.LoadProvisioning(cfg.QueuesFile)
		if err != nil {
			log.Fatal().Err(err).Str("file", cfg.QueuesFile).Msg("failed to load queue provisioning")
		}
		queues, agents := provision(mgr, p, opts.Queue)
		log.Info().Int("queues", queues).Int("agents", agents).Msg("queues provisioned")
	}

	// Call outcome persistence
	store, err := storage.NewStore(ctx, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open call record store")
	}
	defer store.Close()
	mgr.SetStore(store)

	// Registrations reported by the signaling stack and agent softphones
	registrations := cache.NewRegistrationCache()
	registrations.SetDefaultTTL(cfg.RegistrationTTL)
	go registrations.Run(ctx, sweepInterval(cfg.RegistrationTTL), mgr)

	// Telephony: simulated endpoints and websocket softphones
	simNet := sim.NewNetwork(log.Logger)
	simNet.SetListener(mgr)

	agentHub := websocket.NewAgentHub(registrations, log.Logger)
	agentHub.SetListener(mgr)
	go agentHub.Run()

	mgr.SetRegistrar(telephony.RegistrarChain{simNet, registrations})
	dialer := telephony.NewRouter(agentHub, simNet)

	var generator *sim.Generator
	if cfg.Sim.Enabled {
		generator = startSimulator(ctx, cfg, mgr, simNet, dialer)
	}

	// Dashboard hub and event history
	hub := websocket.NewHub(log.Logger)
	go hub.Run()
	mgr.Subscribe(hub)

	eventCache := cache.NewEventCache(cache.DefaultEventCapacity)
	mgr.Subscribe(eventCache)

	// Background loops
	go callqueue.NewRoutingLoop(mgr, cfg.RoutingInterval, log.Logger).Start(ctx)

	tickerService := ticker.NewTicker(mgr, hub, cfg.StatsInterval, log.Logger)
	tickerService.SetThresholds(alerts.Thresholds{LongestWait: cfg.AlertLongWait})
	if redisCfg := storage.LoadRedisConfig(); redisCfg.Addr != "" {
		client, err := storage.OpenRedis(ctx, redisCfg)
		if err != nil {
			log.Error().Err(err).Str("addr", redisCfg.Addr).Msg("redis unavailable, stats cache disabled")
		} else {
			statsCache := storage.NewRedisStatsCache(client, redisCfg, log.Logger)
			defer statsCache.Close()
			tickerService.SetStatsCache(statsCache)
		}
	}
	go tickerService.Start(ctx)

	// Handlers
	processor := ingestion.NewDefaultProcessor(mgr, registrations, log.Logger)
	eventReceiver := event.NewReceiver(processor, registrations, log.Logger)
	wsHandler := websocket.NewHandler(hub, cfg, log.Logger)
	agentHandler := websocket.NewAgentHandler(agentHub, log.Logger)
	queueHandler := callqueue.NewQueueHandler(mgr, dialer, log.Logger)
	adminHandler := api.NewAdminHandler(store, mgr, dialer, generator, log.Logger)
	historyHandler := api.NewHistoryHandler(store, log.Logger)
	eventsHandler := api.NewEventsHandler(eventCache)
	actionsHandler := api.NewAgentActionsHandler(agentHub, mgr, log.Logger)
	rosterHandler := api.NewRosterHandler(mgr, log.Logger)

	// Create router
	r := chi.NewRouter()

	// Add middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(log.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Register public routes (no auth required)
	r.Get("/health", healthHandler)
	r.Handle("/metrics", metrics.Get().Handler())

	// Internal routes (no auth - for the signaling stack and workforce tools)
	r.Route("/internal", func(r chi.Router) {
		r.Post("/event", eventReceiver.HandleEvent)
		r.Get("/event/stats", eventReceiver.GetStats)
		r.Post("/agents/roster", rosterHandler.HandleRoster)
	})

	// Softphones authenticate by registering their agent URI
	r.Get("/ws/agent", agentHandler.ServeHTTP)

	// Add auth middleware for protected routes
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware)
		r.Get("/ws", wsHandler.ServeHTTP)

		r.Route("/api", func(r chi.Router) {
			r.Get("/queues", queueHandler.HandleListQueues)
			r.Get("/agents", queueHandler.HandleListAllAgents)
			r.Get("/events", eventsHandler.GetEvents)
			r.Get("/history/{date}", historyHandler.GetHistory)
			r.Get("/agents/{uri}/calls", historyHandler.GetAgentCalls)

			r.Route("/domains/{domain}/queues/{queue}", func(r chi.Router) {
				r.Use(auth.RequireDomainAccess)
				queueHandler.QueueRoutes(r)
			})

			r.Group(func(r chi.Router) {
				r.Use(api.RequireSupervisorOrAdmin)
				r.Post("/agents/{uri}/logout", actionsHandler.Logout)
				r.Post("/agents/kick", actionsHandler.Kick)
				r.Post("/admin/calls", adminHandler.InjectCalls)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(api.RequireAdmin)
				r.Get("/sim", adminHandler.GetSimStatus)
				r.Put("/sim", adminHandler.SetSimRate)
				r.Delete("/store", adminHandler.WipeStore)
			})
		})
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Msgf("server listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	// Stop background loops
	cancel()

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Attempt graceful shutdown
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

// managerOptions maps the environment settings onto the queue defaults
func managerOptions(cfg *config.Config) callqueue.Options {
	mode, ok := types.ParseMode(cfg.QueueMode)
	if !ok {
		mode = types.ModeRingall
	}
	queue := callqueue.DefaultQueueConfig()
	queue.Mode = mode
	queue.RingTimeout = cfg.RingTimeout
	queue.CapPolicy = callqueue.ParseCapPolicy(cfg.CapPolicy)
	queue.SLTarget = cfg.SLTarget
	queue.SLSeconds = cfg.SLSeconds

	return callqueue.Options{
		Queue:    queue,
		AgentLag: cfg.AgentLag,
		RetryLag: cfg.RetryLag,
		MinLag:   cfg.MinLag,
	}
}

// provision configures the queues and members of a provisioning file on
// top of base and returns how many queues and memberships it applied
func provision(mgr *callqueue.Manager, p *config.Provisioning, base callqueue.QueueConfig) (queues, agents int) {
	for _, d := range p.Domains {
		for _, q := range d.Queues {
			qcfg := base
			if mode, ok := types.ParseMode(q.Mode); ok {
				qcfg.Mode = mode
			}
			if q.RingTimeout() > 0 {
				qcfg.RingTimeout = q.RingTimeout()
			}
			if q.CapPolicy != "" {
				qcfg.CapPolicy = callqueue.ParseCapPolicy(q.CapPolicy)
			}
			if q.SLTarget > 0 {
				qcfg.SLTarget = q.SLTarget
			}
			if q.SLSeconds > 0 {
				qcfg.SLSeconds = q.SLSeconds
			}
			qcfg.RetryLag = q.RetryLag()
			mgr.ConfigureQueue(d.Name, q.Name, qcfg)
			queues++

			for _, a := range q.Agents {
				if mgr.AddAgent(d.Name, q.Name, a.URI, callqueue.AgentOptions{WrapupLag: a.AgentLag()}) {
					agents++
				}
			}
		}
	}
	return queues, agents
}

// sweepInterval checks for stale registrations a few times per ttl
func sweepInterval(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = cache.DefaultRegistrationTTL
	}
	interval := ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}

// startSimulator adds the simulated agents to the configured queue and
// starts generating callers
func startSimulator(ctx context.Context, cfg *config.Config, mgr *callqueue.Manager, simNet *sim.Network, dialer telephony.Dialer) *sim.Generator {
	behavior := sim.Behavior{
		AnswerProb: cfg.Sim.AnswerProb,
		RingDelay:  cfg.Sim.RingDelay,
		TalkTime:   cfg.Sim.TalkTime,
	}
	for i := 1; i <= cfg.Sim.Agents; i++ {
		uri := fmt.Sprintf("sip:agent%03d@%s", i, cfg.Sim.Domain)
		simNet.AddAgent(uri, behavior)
		mgr.AddAgent(cfg.Sim.Domain, cfg.Sim.Queue, uri, callqueue.AgentOptions{})
	}

	place := func(domain, queue string, c *sim.Caller) error {
		_, err := mgr.Enqueue(domain, callqueue.EnqueueOptions{
			Queue:   queue,
			Call:    c,
			Timeout: cfg.QueueTimeout,
		})
		return err
	}
	gen := sim.NewGenerator(sim.GeneratorConfig{
		Domain:      cfg.Sim.Domain,
		Queue:       cfg.Sim.Queue,
		CallsPerMin: cfg.Sim.CallsPerMin,
		Patience:    cfg.Sim.Patience,
	}, dialer, place, log.Logger)
	go gen.Run(ctx)

	log.Info().
		Int("agents", cfg.Sim.Agents).
		Str("domain", cfg.Sim.Domain).
		Str("queue", cfg.Sim.Queue).
		Float64("calls_per_min", cfg.Sim.CallsPerMin).
		Msg("simulator started")
	return gen
}

// healthHandler handles health check requests
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","service":"acd"}`)
}
