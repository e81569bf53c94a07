package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"groupchat-service/internal/config"
	"groupchat-service/internal/db"
	"groupchat-service/internal/feed"
	"groupchat-service/internal/handlers"
	"groupchat-service/internal/logging"
	"groupchat-service/internal/middleware"
	"groupchat-service/internal/observability"
	"groupchat-service/internal/profiles"
	"groupchat-service/internal/rabbitmq"
	"groupchat-service/internal/repositories"
	"groupchat-service/internal/services"
	"groupchat-service/internal/telemetry"
	"groupchat-service/internal/ws"
)

const (
	pingInterval    = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.Load(getEnv("CONFIG_FILE", ""))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Development(), cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.OTLPEndpoint, cfg.ServiceName, logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	database, err := db.Connect(ctx, cfg.DBDSN, logger)
	if err != nil {
		return err
	}
	defer database.Close()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, profile cache falls back to memory", zap.Error(err))
		}
	}

	auditPublisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AuditExchange, logger)
	defer auditPublisher.Close()
	eventPublisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.EventsExchange, logger.Named("events"))
	defer eventPublisher.Close()
	observability.SetPublisher(eventPublisher)
	audit := telemetry.NewAuditEmitter(auditPublisher, cfg.AuditRoutingKey, cfg.ServiceName, cfg.Env, logger)

	groupRepo := repositories.NewGroupRepo(database)
	roomRepo := repositories.NewRoomRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	profileRepo := repositories.NewProfileRepo(database)
	profileCache := profiles.NewCache(profileRepo, redisClient, cfg.ProfileTTL, logger)

	resolver := services.NewResolver(groupRepo, roomRepo, logger)
	groups := services.NewGroups(groupRepo, audit, logger)
	invitations := services.NewInvitations(groupRepo, audit, cfg.PublicBaseURL, logger)
	messages := services.NewMessages(roomRepo, messageRepo, profileCache, cfg.PageSize, cfg.MaxPageSize, logger)
	profileService := services.NewProfiles(profileRepo, profileCache, logger)

	hub := ws.NewHub(logger)
	go hub.RunPinger(ctx, pingInterval)

	source := feed.NewPQSource(cfg.DBDSN, logger)
	listener := feed.NewListener(source, messageRepo, roomRepo, profileCache, hub, logger)
	go func() {
		if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("change feed stopped", zap.Error(err))
		}
	}()

	validator := middleware.NewJWTValidator(cfg.JWTSecret)
	router := newRouter(cfg, logger, routes{
		groups:      handlers.NewGroupHandler(groups, resolver, audit),
		invitations: handlers.NewInvitationHandler(invitations, audit),
		messages:    handlers.NewMessageHandler(messages, profileService),
		roomWS:      ws.NewRoomWebSocketHandler(hub, messages, validator, logger),
		auth:        middleware.AuthMiddleware(validator),
		audit:       audit,
	})

	grpcServer, healthServer := newHealthServer()
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("grpc health listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		logger.Info("http listening",
			zap.String("addr", srv.Addr),
			zap.String("audit_mode", rabbitmq.PublisherMode(auditPublisher)),
			zap.String("audit_noop_reason", rabbitmq.PublisherNoopReason(auditPublisher)),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		logger.Error("listener failed", zap.Error(err))
	}

	healthServer.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	grpcServer.GracefulStop()
	return nil
}

type routes struct {
	groups      *handlers.GroupHandler
	invitations *handlers.InvitationHandler
	messages    *handlers.MessageHandler
	roomWS      *ws.RoomWebSocketHandler
	auth        gin.HandlerFunc
	audit       *telemetry.AuditEmitter
}

func newRouter(cfg *config.Config, log *zap.Logger, r routes) *gin.Engine {
	if !cfg.Development() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(middleware.RequestID())
	router.Use(observability.HTTPMetricsMiddleware())
	router.Use(middleware.LogServerErrors(log))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws/rooms", r.roomWS.HandleRoomList)
	router.GET("/ws/rooms/:room_id", r.roomWS.Handle)
	handlers.RegisterDebugRoutes(router, r.audit, cfg.DebugRoutes)

	api := router.Group("/", r.auth)

	api.POST("/groups", r.groups.CreateGroup)
	api.GET("/groups", r.groups.ListGroups)
	api.DELETE("/groups/:group_id", r.groups.DeleteGroup)
	api.GET("/groups/:group_id/members", r.groups.ListMembers)
	api.POST("/groups/:group_id/room", r.groups.ResolveGroupRoom)
	api.POST("/groups/:group_id/direct", r.groups.ResolveDirectRoom)
	api.PUT("/groups/:group_id/invitation", r.invitations.SetEnabled)
	api.POST("/groups/:group_id/invitation/regenerate", r.invitations.Regenerate)

	api.GET("/invitations/:token", r.invitations.Preview)
	api.POST("/invitations/:token/accept", r.invitations.Accept)

	api.GET("/rooms", r.groups.ListRooms)
	api.GET("/rooms/:room_id/messages", r.messages.GetMessages)
	api.POST("/rooms/:room_id/messages", r.messages.PostMessage)
	api.PATCH("/messages/:message_id", r.messages.EditMessage)
	api.DELETE("/messages/:message_id", r.messages.DeleteMessage)

	api.PUT("/profile", r.messages.UpdateProfile)
	api.GET("/profiles", r.messages.GetProfiles)

	return router
}

func newHealthServer() (*grpc.Server, *health.Server) {
	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.UnaryInterceptor(observability.GRPCServerMetricsUnaryInterceptor()),
	)
	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)
	return server, healthServer
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}
