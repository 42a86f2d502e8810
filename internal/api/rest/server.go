package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenCalibrationCore/internal/api/websocket"
	"github.com/KevinKickass/OpenCalibrationCore/internal/auth"
	"github.com/KevinKickass/OpenCalibrationCore/internal/config"
	"github.com/KevinKickass/OpenCalibrationCore/internal/interfaces"
)

type Server struct {
	router      *gin.Engine
	lm          interfaces.LifecycleManager
	logger      *zap.Logger
	server      *http.Server
	wsHub       *websocket.Hub
	authService *auth.AuthService
}

func NewServer(cfg *config.Config, lm interfaces.LifecycleManager, logger *zap.Logger, wsHub *websocket.Hub, authService *auth.AuthService) *Server {
	if cfg.Log.Development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		router:      router,
		lm:          lm,
		logger:      logger,
		wsHub:       wsHub,
		authService: authService,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting REST API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	// Public routes (no auth required)
	s.router.GET("/health", s.healthCheck)

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		// ==================== AUTH ENDPOINTS (PUBLIC) ====================
		authPublic := v1.Group("/auth")
		{
			authPublic.POST("/login", s.login)
		}

		authProtected := v1.Group("/auth")
		authProtected.Use(s.authService.AuthMiddleware())
		{
			authProtected.GET("/me", s.getCurrentUser)
		}

		// ==================== SYSTEM (OPERATOR+) ====================
		system := v1.Group("/system")
		system.Use(s.authService.AuthMiddleware())
		system.Use(auth.RequirePermission(auth.PermOperator))
		{
			system.GET("/status", s.getSystemStatus)
			system.POST("/shutdown", auth.RequirePermission(auth.PermAdmin), s.shutdown)
		}

		// ==================== VARIABLES ====================
		variables := v1.Group("/variables")
		variables.Use(s.authService.AuthMiddleware())
		{
			// Read: Operator+
			variables.GET("/:name", auth.RequirePermission(auth.PermOperator), s.readVariable)

			// Write: Technician+
			variables.PUT("/:name", auth.RequirePermission(auth.PermTechnician), s.writeVariable)
		}

		// ==================== SIGNALS ====================
		signals := v1.Group("/signals")
		signals.Use(s.authService.AuthMiddleware())
		signals.Use(auth.RequirePermission(auth.PermOperator))
		{
			signals.GET("", s.getSignals)
			signals.POST("", s.postSignals)
		}

		// ==================== DESCRIPTOR (OPERATOR+) ====================
		descriptors := v1.Group("")
		descriptors.Use(s.authService.AuthMiddleware())
		descriptors.Use(auth.RequirePermission(auth.PermOperator))
		{
			descriptors.GET("/descriptors/:name", s.getDescriptor)
			descriptors.GET("/a2l/protocol", s.getProtocol)
			descriptors.POST("/a2l/reload", auth.RequirePermission(auth.PermAdmin), s.reloadDescriptor)
		}

		// ==================== DATASETS ====================
		datasets := v1.Group("/datasets")
		datasets.Use(s.authService.AuthMiddleware())
		{
			datasets.GET("", auth.RequirePermission(auth.PermOperator), s.listDatasets)
			datasets.POST("/apply", auth.RequirePermission(auth.PermTechnician), s.applyDataset)
		}

		// ==================== AUDIT (OPERATOR+) ====================
		audit := v1.Group("/audit")
		audit.Use(s.authService.AuthMiddleware())
		audit.Use(auth.RequirePermission(auth.PermOperator))
		{
			audit.GET("", s.listAudit)
		}

		// ==================== WEBSOCKET (PUBLIC - Auth via first message) ====================
		ws := v1.Group("/ws")
		{
			ws.GET("/live", s.wsLiveConnection)
			ws.GET("/status", s.authService.AuthMiddleware(), auth.RequirePermission(auth.PermOperator), s.wsStatus)
		}
	}
}

// WebSocket handlers
func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": s.wsHub.GetClientCount(),
	})
}

// Health check (public)
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}
