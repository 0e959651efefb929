package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"roombroker/internal/bbb"
	"roombroker/internal/config"
	"roombroker/internal/events"
	"roombroker/internal/handler"
	"roombroker/internal/middleware"
	brokerredis "roombroker/internal/redis"
	"roombroker/internal/repository"
	"roombroker/internal/scheduler"
	"roombroker/internal/services"
	"roombroker/internal/storage"
	"roombroker/pkg/database"
	"roombroker/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger := logger.New(cfg.Server.Environment)
	defer appLogger.Sync()
	logger.SetGlobalLogger(appLogger)

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := database.ApplyRawMigrations(db, "migrations"); err != nil {
		log.Fatalf("Failed to apply raw migrations: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to apply GORM migrations: %v", err)
	}

	redisClient := brokerredis.NewClient(brokerredis.Config{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	serverRepo := repository.NewServerRepository(db)
	roomRepo := repository.NewRoomRepository(db)
	meetingRepo := repository.NewMeetingRepository(db)
	attendeeRepo := repository.NewAttendeeRepository(db)
	statRepo := repository.NewStatRepository(db)

	apiClient := bbb.NewClient(bbb.Config{
		ConnectTimeout: cfg.Provider.ConnectTimeout,
		RequestTimeout: cfg.Provider.RequestTimeout,
	})
	locker := brokerredis.NewRoomLocker(redisClient, cfg.Provider.LockWait())
	publisher := events.NewRedisPublisher(redisClient)

	var presentations services.PresentationStore
	if cfg.Storage.Bucket != "" {
		store, err := storage.NewPresentationStore(context.Background(), storage.S3Config{
			Region:     cfg.Storage.Region,
			Bucket:     cfg.Storage.Bucket,
			AccessKey:  cfg.Storage.AccessKey,
			SecretKey:  cfg.Storage.SecretKey,
			Endpoint:   cfg.Storage.Endpoint,
			PresignTTL: cfg.Storage.PresignTTL,
		})
		if err != nil {
			log.Fatalf("Failed to initialize presentation storage: %v", err)
		}
		presentations = store
	}

	healthService := services.NewHealthService(serverRepo, meetingRepo, publisher, cfg.Fleet, appLogger)
	selectorService := services.NewSelectorService(serverRepo)
	attendanceService := services.NewAttendanceService(attendeeRepo, appLogger)
	meetingService := services.NewMeetingService(
		roomRepo, meetingRepo, attendeeRepo, serverRepo,
		selectorService, healthService, apiClient, locker,
		presentations, publisher,
		cfg.Provider, cfg.Server.PublicBaseURL, appLogger,
	)
	healthService.SetLifecycle(meetingService)
	reconcilerService := services.NewReconcilerService(
		serverRepo, meetingRepo, roomRepo, statRepo,
		attendanceService, meetingService, healthService,
		apiClient, cfg.Fleet, appLogger,
	)

	sweeper := scheduler.New(reconcilerService, cfg.Fleet.SweepInterval, appLogger)
	if err := sweeper.Start(); err != nil {
		log.Fatalf("Failed to start usage sweep: %v", err)
	}
	defer sweeper.Stop()

	roomHandler := handler.NewRoomHandler(meetingService)
	callbackHandler := handler.NewCallbackHandler(meetingService)
	adminHandler := handler.NewAdminHandler(serverRepo, meetingService, attendanceService)

	if cfg.Server.Environment == logger.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.LoggingMiddleware(appLogger))
	r.Use(middleware.ErrorHandler(appLogger))

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/callback/:meeting", callbackHandler.MeetingEnded)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/rooms/:id/start", roomHandler.Start)
		v1.POST("/rooms/:id/join", roomHandler.Join)
		v1.GET("/rooms/:id/status", roomHandler.Status)

		admin := v1.Group("", middleware.AdminAuthMiddleware(cfg.Server.AdminToken))
		{
			admin.GET("/servers", adminHandler.ListServers)
			admin.POST("/servers/:id/panic", adminHandler.PanicServer)
			admin.GET("/meetings/:id/attendance", adminHandler.Attendance)
		}
	}

	appLogger.Infof("Starting server on port %s", cfg.Server.Port)
	if err := r.Run(fmt.Sprintf(":%s", cfg.Server.Port)); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
