package main

import (
	"context"
	"log"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"

	"peercall-core/internal/config"
	callHandler "peercall-core/internal/handler/http/call"
	"peercall-core/internal/media"
	"peercall-core/internal/middleware"
	"peercall-core/internal/relay"
	callService "peercall-core/internal/service/call"
	"peercall-core/internal/service/diagnostics"
	"peercall-core/internal/service/group"
	"peercall-core/pkg/logger"
	"peercall-core/pkg/metrics"
)

func main() {
	ctx := context.Background()

	// 1. Logger
	logger.InitDefault()
	defer logger.Sync()

	// 2. Configuration
	cfg := config.Load()
	productionMode := cfg.Env == "production"

	if cfg.Identity.UserID == "" {
		log.Fatal("CALL_USER_ID environment variable is required")
	}

	// 3. Signaling relay
	var relayClient relay.Client
	if cfg.FirestoreProjectID != "" {
		fc, err := relay.NewFirestoreClient(ctx, &relay.FirestoreConfig{
			ProjectID:       cfg.FirestoreProjectID,
			CredentialsPath: cfg.FirestoreCredentialsPath,
		}, logger.Log)
		if err != nil {
			log.Fatalf("Failed to connect to Firestore relay: %v", err)
		}
		relayClient = fc
		log.Println("✅ Connected to Firestore relay")
	} else {
		if productionMode {
			log.Fatal("❌ Fatal: FIRESTORE_PROJECT_ID is required in production mode")
		}
		relayClient = relay.NewMemoryClient()
		log.Println("⚠️  FIRESTORE_PROJECT_ID not set, using in-memory relay (development only)")
	}
	defer relayClient.Close()

	// 4. Media capture and peer factory
	devices, err := media.NewDevices(logger.Log)
	if err != nil {
		log.Fatalf("Failed to initialize media devices: %v", err)
	}
	iceServers := media.BuildICEServers(cfg.STUNServers, cfg.TURNServer, cfg.TURNUser, cfg.TURNSecret)
	peerFactory := media.NewPionFactory(devices, iceServers, media.Constraints{
		Width:     cfg.VideoWidth,
		Height:    cfg.VideoHeight,
		FrameRate: cfg.VideoFrameRate,
	}, logger.Log)

	// 5. Metrics
	appMetrics := metrics.NewMetrics("call-agent")
	prometheusMiddleware := middleware.NewPrometheusMiddleware(appMetrics)

	// 6. Call services
	wallClock := clock.New()
	history := callService.NewHistory()
	machine := callService.NewMachine(relayClient, peerFactory, wallClock, cfg, cfg.Identity, logger.Log,
		callService.WithMetrics(appMetrics),
		callService.WithHistory(history),
	)
	defer machine.Close()

	coordinator := group.NewCoordinator(relayClient, devices, wallClock, cfg, cfg.Identity, logger.Log, appMetrics)
	defer coordinator.Close()

	diagSvc := diagnostics.NewService(devices, cfg.STUNServers, logger.Log, appMetrics)

	// 7. Incoming call watcher: ringing calls are logged and left for the
	// UI to answer or decline through the HTTP surface.
	incoming, err := callService.WatchIncoming(ctx, relayClient, wallClock, cfg.Identity, logger.Log)
	if err != nil {
		log.Fatalf("Failed to watch incoming calls: %v", err)
	}
	defer incoming.Stop()
	go func() {
		for in := range incoming.Calls() {
			log.Printf("📞 Incoming %s call %s from %s", in.Kind, in.CallID, in.Caller)
		}
	}()

	// 8. HTTP handler
	handler := callHandler.NewHandler(machine, history, coordinator, diagSvc, relayClient, wallClock, cfg.Identity)

	// 9. Gin router
	if productionMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// The agent serves the local UI only; never trust forwarding headers.
	router.SetTrustedProxies(nil)

	router.Use(middleware.Recovery())
	router.Use(middleware.CORS())
	router.Use(middleware.RequestLogger())
	router.Use(prometheusMiddleware.Handler())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": "call-agent",
			"user_id": cfg.Identity.UserID,
		})
	})
	router.GET("/metrics", middleware.MetricsHandler())

	v1 := router.Group("/v1")
	handler.RegisterRoutes(v1)

	// 10. Start server
	log.Printf("🚀 Call agent starting on %s (user %s)\n", cfg.ListenAddr, cfg.Identity.UserID)
	if err := router.Run(cfg.ListenAddr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
