package main

import (
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/docvault/backend/api/handlers"
	"github.com/docvault/backend/internal/buffer"
	"github.com/docvault/backend/internal/config"
	"github.com/docvault/backend/internal/db"
	"github.com/docvault/backend/internal/job"
	"github.com/docvault/backend/internal/logger"
	"github.com/docvault/backend/internal/repository"
	"github.com/docvault/backend/internal/ws"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Ensure data directories exist
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}
	if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
		log.Fatalf("Failed to create log directory: %v", err)
	}

	// Initialize database
	database, err := db.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.CloseDB()

	// Initialize repository
	docRepo := repository.NewDocumentRepository(database)

	// Initialize event audit log
	eventLog, err := logger.NewEventLog(filepath.Join(cfg.LogDir, "events.jsonl"))
	if err != nil {
		log.Fatalf("Failed to open event log: %v", err)
	}
	defer eventLog.Close()

	// Initialize event fan-out service
	backlog := buffer.NewBacklog(cfg.BacklogSize)
	eventService := ws.NewService(backlog, eventLog)
	defer eventService.Close()

	// Initialize job manager
	jobManager := job.NewManager(docRepo, eventService, job.Config{
		StepDelay: cfg.JobStepDelay,
	})

	// Initialize handlers
	docHandler := handlers.NewDocumentHandler(docRepo, jobManager, eventService)
	realtimeHandler := handlers.NewRealtimeHandler(eventService, cfg.RealtimeToken)

	// Initialize Gin router
	r := gin.Default()

	// Enable CORS for development
	r.Use(corsMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})

	// API routes
	api := r.Group("/api")
	{
		docHandler.RegisterRoutes(api)
		realtimeHandler.RegisterRoutes(api)
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down server...")
		jobManager.Wait()
		eventService.Close()
		eventLog.Close()
		db.CloseDB()
		os.Exit(0)
	}()

	// Start server
	log.Printf("Starting server on port %s", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// corsMiddleware returns a CORS middleware for development.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
