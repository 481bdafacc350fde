package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/campfire-chat/campfire-server/internal/api"
	"github.com/campfire-chat/campfire-server/internal/apierrors"
	"github.com/campfire-chat/campfire-server/internal/auth"
	"github.com/campfire-chat/campfire-server/internal/authz"
	"github.com/campfire-chat/campfire-server/internal/bot"
	"github.com/campfire-chat/campfire-server/internal/config"
	"github.com/campfire-chat/campfire-server/internal/connmgr"
	"github.com/campfire-chat/campfire-server/internal/csrf"
	"github.com/campfire-chat/campfire-server/internal/httputil"
	"github.com/campfire-chat/campfire-server/internal/pipeline"
	"github.com/campfire-chat/campfire-server/internal/push"
	"github.com/campfire-chat/campfire-server/internal/ratelimit"
	"github.com/campfire-chat/campfire-server/internal/sanitize"
	"github.com/campfire-chat/campfire-server/internal/search"
	"github.com/campfire-chat/campfire-server/internal/store"
	"github.com/campfire-chat/campfire-server/internal/valkey"
)

// Build metadata injected via ldflags at compile time.
var (
	version = "dev"
	commit  = "unknown"
)

// server holds the shared dependencies used by route registration.
type server struct {
	cfg      *config.Config
	st       *store.Store
	az       *authz.Authorizer
	limiter  *ratelimit.Limiter
	conns    *connmgr.Manager
	authSvc  *auth.Service
	pipeline *pipeline.Pipeline
	search   *search.Service
	csrf     *csrf.Handler
}

func main() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func run() error {
	host := flag.String("host", "", "listen host, overrides CAMPFIRE_HOST")
	port := flag.Int("port", 0, "listen port, overrides CAMPFIRE_PORT")
	databaseURL := flag.String("database-url", "", "sqlite database path, overrides CAMPFIRE_DATABASE_URL")
	logLevel := flag.String("log-level", "", "log level, overrides CAMPFIRE_LOG_LEVEL")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyFlagOverrides(cfg, *host, *port, *databaseURL, *logLevel)

	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	if cfg.IsDevelopment() {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}

	log.Info().Str("version", version).Str("commit", commit).Str("env", cfg.Env).Msg("Starting Campfire")

	ctx := context.Background()

	st, err := store.Connect(ctx, cfg.DatabasePath, cfg.DatabaseMaxOpen, log.Logger)
	if err != nil {
		return fmt.Errorf("connect store: %w", err)
	}
	defer func() { _ = st.Close() }()

	if err := store.Migrate(st.WriteDB()); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info().Msg("Database migrations complete")

	writeCtx, cancelWrite := context.WithCancel(ctx)
	defer cancelWrite()
	go st.Run(writeCtx)

	rdb, err := valkey.Connect(ctx, cfg.ValkeyURL, cfg.ValkeyDialTimeout)
	if err != nil {
		return fmt.Errorf("connect valkey: %w", err)
	}
	defer func() { _ = rdb.Close() }()
	log.Info().Msg("Valkey connected")

	az := authz.New(st)
	lim := ratelimit.New(ratelimit.Config{
		MessageRate:       rate.Limit(cfg.MessageRatePerSecond),
		MessageBurst:      cfg.MessageBurst,
		GeneralRate:       rate.Limit(cfg.GeneralRatePerSecond),
		GeneralBurst:      cfg.GeneralBurst,
		AuthRate:          rate.Limit(cfg.AuthRatePerSecond),
		AuthBurst:         cfg.AuthBurst,
		BotErrorThreshold: cfg.BotErrorThreshold,
		BotErrorWindow:    cfg.BotErrorWindow,
		BotBlockDuration:  cfg.BotBlockDuration,
		IdleEvictAfter:    24 * time.Hour,
	})
	sanitizer := sanitize.New()
	conns := connmgr.New(az, log.Logger)

	go runMaintenance(writeCtx, st, lim, log.Logger)

	authSvc, err := auth.NewService(st, cfg.BcryptCost, log.Logger)
	if err != nil {
		return fmt.Errorf("create auth service: %w", err)
	}

	botDispatcher := bot.New(bot.Config{
		GlobalConcurrency:         cfg.BotGlobalConcurrency,
		PerBotConcurrency:         cfg.BotPerBotConcurrency,
		QueueDepth:                cfg.BotQueueDepth,
		DeliveryTimeout:           cfg.BotDeliveryTimeout,
		MaxRetries:                cfg.BotMaxRetries,
		BaseDelay:                 time.Second,
		JitterPercent:             25,
		MaxRetryAfter:             60 * time.Second,
		PermanentFailureThreshold: cfg.BotPermanentFailThreshold,
	}, lim, log.Logger)

	pushDispatcher := push.New(push.Config{
		MaxConcurrency:        cfg.PushMaxConcurrency,
		DeliveryTimeout:       cfg.PushDeliveryTimeout,
		StaleFailureThreshold: cfg.PushStaleFailureThreshold,
	}, st, log.Logger)

	pipe := pipeline.New(st, az, lim, sanitizer, conns, botDispatcher, pushDispatcher, log.Logger)
	searchSvc := search.New(st, log.Logger)

	csrfIssuer := csrf.New(rdb)
	csrfHandler := csrf.NewHandler(csrfIssuer)

	app := fiber.New(fiber.Config{
		AppName:   "Campfire",
		BodyLimit: cfg.BodyLimitBytes,
		ErrorHandler: func(c fiber.Ctx, err error) error {
			status := fiber.StatusInternalServerError
			message := "an internal error occurred"
			code := apierrors.InternalError
			var fiberErr *fiber.Error
			if errors.As(err, &fiberErr) {
				status = fiberErr.Code
				message = fiberErr.Message
				code = fiberStatusToAPICode(status)
			} else {
				log.Error().Err(err).Str("method", c.Method()).Str("path", c.Path()).Msg("unhandled error")
			}
			return c.Status(status).JSON(httputil.ErrorResponse{Error: httputil.ErrorBody{Code: code, Message: message}})
		},
	})

	app.Use(requestid.New())
	app.Use(httputil.RequestLogger(log.Logger, "/api/health"))
	app.Use(httputil.ForceHTTPS(cfg.ForceHTTPS))
	app.Use(cors.New(cors.Config{
		AllowOrigins:  splitCSV(cfg.CORSAllowOrigins),
		AllowMethods:  []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", csrf.HeaderName},
		ExposeHeaders: []string{"X-Request-ID"},
	}))

	srv := &server{cfg: cfg, st: st, az: az, limiter: lim, conns: conns, authSvc: authSvc, pipeline: pipe, search: searchSvc, csrf: csrfHandler}
	srv.registerRoutes(app, rdb)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownDrainTimeout)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
		cancelWrite()
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	log.Info().Str("addr", addr).Msg("listening")
	if err := app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func (s *server) registerRoutes(app *fiber.App, rdb *redis.Client) {
	health := api.NewHealthHandler(s.st, rdb)
	app.Get("/api/health", health.Health)

	app.Use("/api", ratelimit.GeneralMiddleware(s.limiter))

	authHandler := &api.AuthHandler{Auth: s.authSvc}
	authLimited := ratelimit.AuthMiddleware(s.limiter)
	authGroup := app.Group("/api/auth")
	authGroup.Post("/register", authLimited, authHandler.Register)
	authGroup.Post("/login", authLimited, authHandler.Login)
	authGroup.Post("/logout", authHandler.Logout)

	app.Get("/api/security/csrf-token", auth.RequireAuth(s.authSvc), s.csrf.IssueToken)

	requireAuth := auth.RequireAuth(s.authSvc)
	requireCSRF := s.csrf.Require()

	userHandler := api.NewUserHandler()
	app.Get("/api/users/@me", requireAuth, userHandler.GetMe)

	roomHandler := api.NewRoomHandler(s.st, s.az, log.Logger)
	roomGroup := app.Group("/api/rooms", requireAuth)
	roomGroup.Get("/", roomHandler.ListRooms)
	roomGroup.Post("/", requireCSRF, roomHandler.CreateRoom)
	roomGroup.Get("/:roomID", roomHandler.GetRoom)
	roomGroup.Post("/:roomID/join", requireCSRF, roomHandler.JoinRoom)

	messageHandler := api.NewMessageHandler(s.pipeline, s.st, s.az, log.Logger)
	roomGroup.Get("/:roomID/messages", messageHandler.ListMessages)
	roomGroup.Post("/:roomID/messages", requireCSRF, messageHandler.CreateMessage)
	roomGroup.Delete("/:roomID/messages/:messageID", requireCSRF, messageHandler.DeleteMessage)

	// Bot-authored message posting (§4.H, §6): bypasses session auth and CSRF entirely, authenticating
	// via the bot_token URL segment instead.
	app.Post("/api/rooms/:roomID/bot/:botToken/messages", auth.RequireBotAuth(s.authSvc), messageHandler.CreateMessage)

	searchHandler := api.NewSearchHandler(s.search, log.Logger)
	app.Get("/api/search", requireAuth, searchHandler.SearchMessages)

	gatewayHandler := api.NewGatewayHandler(s.conns)
	app.Get("/ws", requireAuth, gatewayHandler.Upgrade)

	// Catch-all 404: Fiber v3 treats app.Use() middleware as a route match, so without this terminal
	// handler an unmatched request falls through to a default 200 with an empty body.
	app.Use(func(_ fiber.Ctx) error {
		return fiber.ErrNotFound
	})
}

// runMaintenance periodically prunes expired sessions, removes stale push subscriptions, and evicts
// idle rate-limit buckets. It runs for the lifetime of ctx, exiting on cancellation (server shutdown).
func runMaintenance(ctx context.Context, st *store.Store, lim *ratelimit.Limiter, logger zerolog.Logger) {
	ticker := time.NewTicker(15 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := st.PruneExpiredSessions(ctx); err != nil {
				logger.Error().Err(err).Msg("prune expired sessions failed")
			} else if n > 0 {
				logger.Info().Int64("count", n).Msg("pruned expired sessions")
			}

			if n, err := st.DeleteStalePushSubscriptions(ctx); err != nil {
				logger.Error().Err(err).Msg("delete stale push subscriptions failed")
			} else if n > 0 {
				logger.Info().Int64("count", n).Msg("deleted stale push subscriptions")
			}

			lim.Sweep()
		}
	}
}

func fiberStatusToAPICode(status int) apierrors.Code {
	switch status {
	case fiber.StatusNotFound:
		return apierrors.NotFound
	case fiber.StatusMethodNotAllowed:
		return apierrors.ValidationError
	case fiber.StatusTooManyRequests:
		return apierrors.RateLimited
	case fiber.StatusRequestEntityTooLarge:
		return apierrors.PayloadTooLarge
	case fiber.StatusServiceUnavailable:
		return apierrors.ServiceUnavailable
	default:
		if status >= 400 && status < 500 {
			return apierrors.ValidationError
		}
		return apierrors.InternalError
	}
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func applyFlagOverrides(cfg *config.Config, host string, port int, databaseURL, logLevel string) {
	if host != "" {
		cfg.Host = host
	}
	if port != 0 {
		cfg.Port = port
	}
	if databaseURL != "" {
		cfg.DatabasePath = databaseURL
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
}
