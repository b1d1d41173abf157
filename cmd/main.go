package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"pinlite/internal/auth"
	"pinlite/internal/config"
	"pinlite/internal/handler"
	"pinlite/internal/repository"
	"pinlite/internal/service"
	"pinlite/internal/storage"
	"pinlite/internal/thumbnail"
)

func connectWithRetry(cfg *config.Config, maxAttempts int, delay time.Duration) (*sqlx.DB, error) {
	dsn := cfg.Database.GetDSN()

	// Сначала подключаемся к системной базе postgres, которая всегда существует
	pgDSN := strings.Replace(dsn, "dbname="+cfg.Database.Name, "dbname=postgres", 1)
	pgDB, err := sqlx.Connect("postgres", pgDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres database: %v", err)
	}
	defer pgDB.Close()

	// Проверяем, существует ли рабочая база
	var exists bool
	err = pgDB.Get(&exists, "SELECT EXISTS(SELECT datname FROM pg_catalog.pg_database WHERE datname = $1)", cfg.Database.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to check database existence: %v", err)
	}

	if !exists {
		log.Printf("Database %s does not exist, creating...", cfg.Database.Name)
		_, err = pgDB.Exec("CREATE DATABASE " + cfg.Database.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %v", err)
		}
	}

	var db *sqlx.DB
	for i := 0; i < maxAttempts; i++ {
		db, err = sqlx.Connect("postgres", dsn)
		if err == nil {
			return db, nil
		}

		log.Printf("Failed to connect to database (attempt %d/%d): %v", i+1, maxAttempts, err)
		time.Sleep(delay)
	}

	return nil, fmt.Errorf("failed to connect after %d attempts: %v", maxAttempts, err)
}

func runMigrations(cfg *config.Config) error {
	databaseURL := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.Name,
		cfg.Database.SSLMode,
	)

	var m *migrate.Migrate
	var err error

	for i := 0; i < 5; i++ {
		m, err = migrate.New("file://migrations", databaseURL)
		if err == nil {
			break
		}
		log.Printf("Failed to create migrate instance (attempt %d/5): %v", i+1, err)
		time.Sleep(time.Second * 5)
	}

	if err != nil {
		return fmt.Errorf("failed to create migrate instance after retries: %w", err)
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if dirty {
		log.Printf("Found dirty database state at version %d, attempting to force version", version)
		if err := m.Force(int(version)); err != nil {
			return fmt.Errorf("failed to force version: %w", err)
		}
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

func main() {
	// Загружаем конфигурацию
	appConfig, err := config.NewConfig(".app.env")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Подключаемся к базе данных
	db, err := connectWithRetry(appConfig, 5, time.Second*5)
	if err != nil {
		log.Fatalf("Failed to connect to database after retries: %v", err)
	}
	defer db.Close()

	if err := runMigrations(appConfig); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	auth.Init([]byte(appConfig.Auth.SecretKey))

	// Инициализация контент-адресуемого хранилища
	cas, err := storage.NewCAS(appConfig.Storage.UploadDir)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	deriver := thumbnail.NewDeriver()

	// Инициализация репозиториев
	fileRepo := repository.NewFileRepository(db)
	assetRepo := repository.NewAssetRepository(db)
	userRepo := repository.NewUserRepository(db)
	tokenRepo := repository.NewTokenRepository(db)

	// Инициализация сервисов
	mediaService := service.NewMediaService(fileRepo, assetRepo, cas, deriver, appConfig.Storage.MaxUploadSize)
	authService := service.NewAuthService(
		userRepo,
		tokenRepo,
		[]byte(appConfig.Auth.SecretKey),
		time.Duration(appConfig.Auth.AccessTokenMinutes)*time.Minute,
		time.Duration(appConfig.Auth.RefreshTokenDays)*24*time.Hour,
	)

	// Инициализация хендлеров
	mediaHandler := handler.NewMediaHandler(mediaService)
	authHandler := handler.NewAuthHandler(authService)

	// Настройка HTTP роутера
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("Incoming request: %s %s", r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	})

	// HTTP маршруты
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.Post("/refresh", authHandler.Refresh)
			r.Post("/logout", authHandler.Logout)
		})

		r.Get("/users/me", authHandler.Me)

		r.Route("/media", func(r chi.Router) {
			r.Post("/upload", mediaHandler.Upload)
			r.Get("/feed", mediaHandler.Feed)
			r.Get("/my", mediaHandler.My)
			r.Delete("/{asset_id}", mediaHandler.Delete)
			r.Get("/file/{digest}", mediaHandler.ServeFile)
			r.Get("/thumbnail/{digest}", mediaHandler.ServeThumbnail)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Создаем HTTP сервер
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%s", appConfig.Server.Port),
		Handler: r,
	}

	// Канал для сигналов завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Запускаем HTTP сервер
	go func() {
		log.Printf("Starting HTTP server on port %s", appConfig.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	// Фоновая сверка хранилища и чистка просроченных refresh-токенов
	cleanupTicker := time.NewTicker(1 * time.Hour)
	go func() {
		for {
			select {
			case <-cleanupTicker.C:
				ctx := context.Background()
				if err := mediaService.SweepOrphans(ctx); err != nil {
					log.Printf("Error during orphan sweep: %v", err)
				}
				if removed, err := tokenRepo.DeleteExpired(ctx); err != nil {
					log.Printf("Error during token cleanup: %v", err)
				} else if removed > 0 {
					log.Printf("Removed %d expired refresh tokens", removed)
				}
			case <-quit:
				cleanupTicker.Stop()
				return
			}
		}
	}()

	// Ожидаем сигнал завершения
	<-quit
	log.Println("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server forced to shutdown: %v", err)
	}

	if err := db.Close(); err != nil {
		log.Printf("Error closing database connection: %v", err)
	}

	log.Println("Server exited properly")
}
