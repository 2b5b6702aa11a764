package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/certhub/backend/docs"
	"github.com/certhub/backend/internal/config"
	"github.com/certhub/backend/internal/database"
	"github.com/certhub/backend/internal/handlers"
	mW "github.com/certhub/backend/internal/middleware"
	"github.com/certhub/backend/internal/services"
)

// @title Document Certification Backend API
// @version 1.0
// @description Backend for category-specific document certification workflows with distributor wallet settlement
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")

	viper.BindEnv("gateway.base_url", "GATEWAY_BASE_URL")
	viper.BindEnv("gateway.key_id", "GATEWAY_KEY_ID")
	viper.BindEnv("gateway.secret", "GATEWAY_SECRET")
	viper.BindEnv("gateway.callback_url", "GATEWAY_CALLBACK_URL")

	viper.BindEnv("smtp.host", "SMTP_HOST")
	viper.BindEnv("smtp.port", "SMTP_PORT")
	viper.BindEnv("smtp.from", "SMTP_FROM")
	viper.BindEnv("smtp.password", "SMTP_PASSWORD")

	viper.BindEnv("server.public_url", "SERVER_PUBLIC_URL")
	viper.BindEnv("server.upload_dir", "SERVER_UPLOAD_DIR")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "Document Certification Backend API"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	settlementCfg := config.LoadSettlementConfig()

	gateway := services.NewHTTPGateway()
	notifier := services.NewSMTPNotifier()

	walletService := services.NewWalletService(db, gateway)
	priceService := services.NewPriceService(db)
	documentService := services.NewDocumentService(db, redisClient, walletService, priceService, notifier, settlementCfg)
	certificateService := services.NewCertificateService(db, redisClient)
	certificateHandler := handlers.NewCertificateHandler(certificateService)

	// Initialize auth middleware with Redis
	mW.InitAuthMiddleware(redisClient)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// Uploaded documents and receipts
	viper.SetDefault("server.upload_dir", "./uploads")
	r.Handle("/files/*", http.StripPrefix("/files", mW.UploadFileServer(viper.GetString("server.upload_dir"))))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/wallet/callback", walletService.PaymentCallback)
		r.Get("/certificates/verify/{token}", certificateHandler.Verify)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Put("/documents/update-status/{documentId}", documentService.UpdateStatus)
			r.Get("/documents/history/{documentId}", documentService.GetStatusHistory)
			r.Get("/documents/list", documentService.ListDocuments)
			r.Get("/documents/recent", documentService.RecentDocuments)
			r.Get("/documents/assigned-list", documentService.AssignedDocuments)
			r.Get("/documents/list_nodistributor", documentService.UnassignedDocuments)
			r.Get("/documents/receipt/{applicationId}", documentService.GetReceipt)
			r.Put("/documents/assign-distributor/{documentId}", documentService.AssignDistributor)
			r.Get("/documents/{documentId}", documentService.GetDocument)

			r.Get("/wallet/balance", walletService.GetBalance)
			r.Get("/wallet/transactions", walletService.GetTransactions)
			r.Post("/wallet/topup", walletService.InitiateTopup)
			r.Post("/wallet/payout", walletService.InitiatePayout)

			r.Post("/prices", priceService.UpsertPrice)
			r.Get("/prices", priceService.ListPrices)
			r.Put("/prices/{id}", priceService.UpdatePrice)
			r.Delete("/prices/{id}", priceService.DeletePrice)

			r.Post("/certificates/qr", certificateHandler.GenerateQR)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
