package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"social-service/internal/auth"
	"social-service/internal/bus"
	"social-service/internal/config"
	"social-service/internal/db"
	"social-service/internal/delivery"
	"social-service/internal/engagement"
	"social-service/internal/feed"
	"social-service/internal/grpcserver"
	"social-service/internal/handlers"
	"social-service/internal/middleware"
	"social-service/internal/observability"
	"social-service/internal/posts"
	"social-service/internal/rabbitmq"
	"social-service/internal/repositories"
	"social-service/internal/telemetry"
	"social-service/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Log.Level, cfg.IsProduction())
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing.OTLPEndpoint, cfg.Tracing.ServiceName, cfg.Environment, logger)
	if err != nil {
		logger.Fatal("failed to init tracing", zap.Error(err))
	}

	database, err := db.Connect(cfg.Postgres.DSN, logger)
	if err != nil {
		logger.Fatal("failed to connect to db", zap.Error(err))
	}
	defer database.Close()

	mongoDB, err := db.ConnectMongo(ctx, cfg.Mongo.URI, cfg.Mongo.Database, cfg.Mongo.MaxPoolSize, logger)
	if err != nil {
		logger.Fatal("failed to connect to mongo", zap.Error(err))
	}
	defer func() { _ = mongoDB.Client().Disconnect(context.Background()) }()

	rdb, err := db.ConnectRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
	defer publisher.Close()
	consumer := rabbitmq.NewConsumer(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
	defer consumer.Close()
	observability.SetPublisher(publisher)
	auditEmitter := telemetry.NewAuditEmitter(publisher, cfg.AMQP.AuditRoutingKey, cfg.Tracing.ServiceName, cfg.Environment, logger)

	events := bus.New(cfg.NodeID, logger)
	relay := bus.NewAMQPRelay(events, publisher, consumer, logger)
	go func() {
		if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("mutation relay stopped", zap.Error(err))
		}
	}()

	postRepo := repositories.NewPostRepo(mongoDB)
	commentRepo := repositories.NewCommentRepo(mongoDB)
	engagementRepo := repositories.NewEngagementRepo(mongoDB)
	targetRepo := repositories.NewTargetRepo(mongoDB)
	conversationRepo := repositories.NewConversationRepo(mongoDB)
	messageRepo := repositories.NewMessageRepo(mongoDB)
	notificationRepo := repositories.NewNotificationRepo(mongoDB)
	followRepo := repositories.NewFollowRepo(database)

	registry := ws.NewRegistry()
	rooms := ws.NewRoomRouter(registry, logger)
	hub := ws.NewHub(registry, rooms, followRepo, logger)
	authenticator := auth.NewJWTAuthenticator(cfg.JWT.Secret)
	wsHandler := ws.NewHandler(hub, authenticator, cfg.WS.SendBuffer, logger)

	feedService := feed.NewService(feed.NewCache(rdb, cfg.Feed.MaxEntries, cfg.Feed.TTL), followRepo, postRepo, logger)
	feedService.Register(events)

	postService := posts.NewService(postRepo, commentRepo, feedService, events, auditEmitter, logger)
	likes := engagement.NewService(engagementRepo, targetRepo, notificationRepo, rooms, logger)
	reconciler := engagement.NewReconciler(engagementRepo, targetRepo, cfg.Engagement.ReconcileInterval, cfg.Engagement.ReconcileBatch, logger)
	go reconciler.Run(ctx)

	coord, err := delivery.NewCoordinator(conversationRepo, messageRepo, rooms, registry, events, auditEmitter, logger)
	if err != nil {
		logger.Fatal("failed to build delivery coordinator", zap.Error(err))
	}
	coord.Register(events)
	handlers.RegisterRealtime(wsHandler, coord, likes)

	postHandler := handlers.NewPostHandler(postService, likes, logger)
	feedHandler := handlers.NewFeedHandler(feedService, logger)
	conversationHandler := handlers.NewConversationHandler(coord, logger)
	socialHandler := handlers.NewSocialHandler(followRepo, notificationRepo, registry, logger)
	adminHandler := handlers.NewAdminHandler(reconciler, logger)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	router.Use(observability.RequestLogger(logger))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", wsHandler.Handle)

	api := router.Group("/", middleware.AuthMiddleware(authenticator))

	api.POST("/posts", postHandler.CreatePost)
	api.GET("/posts/:post_id", postHandler.GetPost)
	api.PATCH("/posts/:post_id", postHandler.EditPost)
	api.DELETE("/posts/:post_id", postHandler.DeletePost)
	api.POST("/posts/:post_id/comments", postHandler.AddComment)
	api.GET("/posts/:post_id/comments", postHandler.ListComments)
	api.POST("/posts/:post_id/like", postHandler.LikePost)
	api.GET("/posts/:post_id/like", postHandler.LikeStatus)
	api.POST("/comments/:comment_id/like", postHandler.LikeComment)

	api.GET("/feed", feedHandler.GetFeed)

	api.POST("/conversations", conversationHandler.CreateConversation)
	api.GET("/conversations", conversationHandler.ListConversations)
	api.GET("/conversations/:conversation_id", conversationHandler.GetConversation)
	api.POST("/conversations/:conversation_id/messages", conversationHandler.SendMessage)
	api.POST("/messages/:message_id/delivered", conversationHandler.MarkDelivered)
	api.POST("/messages/:message_id/read", conversationHandler.MarkRead)
	api.PATCH("/messages/:message_id", conversationHandler.EditMessage)
	api.DELETE("/messages/:message_id", conversationHandler.DeleteMessage)

	api.POST("/users/:user_id/follow", socialHandler.Follow)
	api.DELETE("/users/:user_id/follow", socialHandler.Unfollow)
	api.GET("/users/:user_id/presence", socialHandler.Presence)
	api.GET("/notifications", socialHandler.Notifications)

	api.POST("/admin/reconcile", adminHandler.Reconcile)

	handlers.RegisterDebugRoutes(api, auditEmitter, registry, cfg.Server.DebugRoutes)

	grpcSrv := grpcserver.New(logger)
	go func() {
		if err := grpcSrv.ListenAndServe(cfg.Server.GRPCAddr); err != nil {
			logger.Error("grpc server stopped", zap.Error(err))
		}
	}()

	srv := &http.Server{Addr: ":" + cfg.Server.Port, Handler: router}
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr), zap.String("node_id", cfg.NodeID))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()
	grpcSrv.SetServing("", true)

	<-ctx.Done()
	logger.Info("shutting down")
	grpcSrv.SetServing("", false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	closed := registry.Teardown()
	wsHandler.Wait()
	logger.Info("websocket sessions closed", zap.Int("sessions", closed))

	grpcSrv.Stop(shutdownCtx)
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown", zap.Error(err))
	}
}
