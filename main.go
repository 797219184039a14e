package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"chat-sync/internal/chatsync"
	"chat-sync/internal/coach"
	"chat-sync/internal/config"
	"chat-sync/internal/db"
	"chat-sync/internal/handlers"
	"chat-sync/internal/health"
	"chat-sync/internal/middleware"
	"chat-sync/internal/observability"
	"chat-sync/internal/presence"
	"chat-sync/internal/rabbitmq"
	"chat-sync/internal/realtime"
	"chat-sync/internal/repositories"
	"chat-sync/internal/telemetry"
	"chat-sync/internal/tracing"
	"chat-sync/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.OTLPEndpoint, cfg.ServiceName, cfg.Env)
	if err != nil {
		log.Fatalf("failed to set up tracing: %v", err)
	}

	database, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}
	defer database.Close()

	messageRepo := repositories.NewMessageRepo(database)
	roomRepo := repositories.NewRoomRepo(database)
	profileRepo := repositories.NewProfileRepo(database)
	notifier := realtime.NewPGNotifier(cfg.DatabaseDSN, messageRepo)

	broadcaster := rabbitmq.NewBroadcaster(cfg.AMQPURL, cfg.AMQPExchange)
	defer broadcaster.Close()
	auditPublisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AuditExchange)
	defer auditPublisher.Close()
	log.Printf("audit publisher mode=%s %s", rabbitmq.PublisherMode(auditPublisher), rabbitmq.PublisherNoopReason(auditPublisher))
	observability.SetPublisher(auditPublisher)
	audit := telemetry.NewAuditEmitter(auditPublisher, cfg.AuditRouteKey, cfg.ServiceName, cfg.Env)

	engineCfg := chatsync.Config{
		PollInterval:        cfg.PollInterval,
		RoomPollInterval:    cfg.RoomPollInterval,
		ResubscribeInterval: cfg.ResubscribeInterval,
		TypingInterval:      cfg.TypingInterval,
		TypingTTL:           cfg.TypingTTL,
	}
	deps := chatsync.Deps{
		Messages: messageRepo,
		Rooms:    roomRepo,
		Profiles: profileRepo,
		Notifier: notifier,
		Typing:   broadcaster,
		Audit:    audit,
	}
	sessions := handlers.NewSessions(ctx, func(userID string) *chatsync.Engine {
		return chatsync.New(userID, deps, engineCfg, nil)
	})

	go sessions.Reap(ctx, time.Minute, cfg.SessionIdleTimeout)

	coachClient := coach.New(coach.Config{APIKey: cfg.GroqAPIKey, BaseURL: cfg.GroqBaseURL, Model: cfg.GroqModel})
	if coachClient == nil {
		log.Printf("coach disabled: GROQ_API_KEY not set")
	}

	validator := middleware.NewJWTValidator(cfg.JWTSecret)
	hub := ws.NewHub()

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())
	router.Use(middleware.RequestID())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handlers.RegisterDebugRoutes(router, audit, cfg.DebugEndpoints)
	handlers.RegisterRoutes(router,
		middleware.AuthMiddleware(validator),
		handlers.NewRoomHandler(sessions),
		handlers.NewMessageHandler(sessions),
		handlers.NewCoachHandler(sessions, coachClient),
	)
	router.GET("/ws", middleware.WSAuthMiddleware(validator), ws.NewStreamHandler(hub, sessions).Handle)

	healthSrv := health.NewServer(database)
	healthSrv.Check(ctx)
	go func() {
		if err := healthSrv.Serve(net.JoinHostPort("", cfg.GRPCPort)); err != nil {
			log.Printf("health server stopped: %v", err)
		}
	}()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				healthSrv.Check(ctx)
			}
		}
	}()

	sweeper := presence.NewSweeper(profileRepo, cfg.PresenceTimeout)
	if err := sweeper.Start(cfg.PresenceSchedule); err != nil {
		log.Fatalf("failed to start presence sweeper: %v", err)
	}

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	go func() {
		log.Printf("chat-sync listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	hub.CloseAll()
	sessions.CloseAll()
	sweeper.Stop()
	healthSrv.Stop()
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Printf("tracing shutdown: %v", err)
	}
}
