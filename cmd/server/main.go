package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	firebase "firebase.google.com/go"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/universalathletics/inbox/internal/config"
	"github.com/universalathletics/inbox/internal/database"
	"github.com/universalathletics/inbox/internal/identity"
	"github.com/universalathletics/inbox/internal/routes"
)

func main() {
	ctx := context.Background()

	// 1. Load Config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. Connect Firebase (firestore store or firebase auth)
	var app *firebase.App
	if cfg.NeedsFirebase() {
		app, err = database.ConnectFirebase(ctx, cfg.FirebaseProjectID, cfg.FirebaseCredentialsFile)
		if err != nil {
			log.Fatalf("Failed to initialize firebase: %v", err)
		}
	}

	// 3. Open Store
	st, err := database.OpenStore(ctx, cfg, app)
	if err != nil {
		log.Fatalf("Failed to open %s store: %v", cfg.StoreBackend, err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Printf("Failed to close store: %v", err)
		}
		database.CloseRedis()
		database.CloseDB()
	}()

	verifier, err := identity.NewVerifier(ctx, cfg.AuthProvider, cfg.JWTSecret, app)
	if err != nil {
		log.Fatalf("Failed to set up auth: %v", err)
	}

	// 4. Setup Fiber
	server := fiber.New()

	// Middleware
	server.Use(cors.New())
	if cfg.LogRequests {
		server.Use(logger.New())
	}
	server.Use(recover.New())

	// Routes
	server.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"store":  cfg.StoreBackend,
			"appEnv": cfg.AppEnv,
		})
	})
	if err := routes.RegisterRoutes(server, st, verifier); err != nil {
		log.Fatalf("Failed to register routes: %v", err)
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down server")
		if err := server.Shutdown(); err != nil {
			log.Printf("Server shutdown: %v", err)
		}
	}()

	// 5. Start Server
	log.Printf("Server starting on port %s", cfg.Port)
	if err := server.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}
