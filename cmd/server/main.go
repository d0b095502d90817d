package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/sschuhmann/Helium/api/handlers"
	"github.com/sschuhmann/Helium/internal/db"
	"github.com/sschuhmann/Helium/internal/gateway"
	"github.com/sschuhmann/Helium/internal/repository"
	"github.com/sschuhmann/Helium/internal/session"
	"github.com/sschuhmann/Helium/internal/ws"
)

func main() {
	// Get configuration from environment
	port := getEnv("PORT", "8080")
	dbPath := getEnv("DB_PATH", "data/helium.db")
	transcriptDir := getEnv("TRANSCRIPT_DIR", "data/transcripts")
	gatewayURL := getEnv("GATEWAY_URL", "http://localhost:8888")
	inlineOutput := getEnv("INLINE_OUTPUT", "false") == "true"

	// Ensure data directories exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}
	if err := os.MkdirAll(transcriptDir, 0755); err != nil {
		log.Fatalf("Failed to create transcript directory: %v", err)
	}

	// Initialize database
	database, err := db.InitDB(dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.CloseDB()

	// Initialize repository and gateway client
	kernelRepo := repository.NewKernelSessionRepository(database)
	gw := gateway.New(gatewayURL)

	// Initialize WebSocket fan-out
	hubManager := ws.NewHubManager()
	wsHandler := ws.NewHandler(hubManager)

	// Initialize session manager
	sessionManager := session.NewManager(gw, kernelRepo, hubManager, wsHandler, session.Options{
		GatewayURL:    gatewayURL,
		TranscriptDir: transcriptDir,
		InlineOutput:  inlineOutput,
	})

	// Initialize handlers
	kernelHandler := handlers.NewKernelHandler(sessionManager)
	attachHandler := handlers.NewWebSocketHandler(sessionManager, wsHandler)

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
		kernelHandler.RegisterRoutes(api)
		attachHandler.RegisterRoutes(api)
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down server...")
		sessionManager.Close(context.Background())
		hubManager.Close()
		db.CloseDB()
		os.Exit(0)
	}()

	// Start server
	log.Printf("Starting server on port %s (gateway %s)", port, gatewayURL)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// corsMiddleware returns a CORS middleware for development.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, PATCH, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
