package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"

	"github.com/rajivgeraev/marketplace-api/internal/config"
	"github.com/rajivgeraev/marketplace-api/internal/db"
	"github.com/rajivgeraev/marketplace-api/internal/db/sqlite"
	"github.com/rajivgeraev/marketplace-api/internal/realtime"
	"github.com/rajivgeraev/marketplace-api/internal/services/auth"
	"github.com/rajivgeraev/marketplace-api/internal/services/chat"
	"github.com/rajivgeraev/marketplace-api/internal/services/cloudinary"
	"github.com/rajivgeraev/marketplace-api/internal/services/listing"
	"github.com/rajivgeraev/marketplace-api/internal/utils"
	"github.com/rajivgeraev/marketplace-api/internal/websocket"
)

// appStore всё, что сервисам нужно от хранилища
type appStore interface {
	auth.Store
	listing.Store
	chat.Store
	Close()
}

func main() {
	// Загружаем конфигурацию
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("❌ Ошибка конфигурации: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jwtService := utils.NewJWTService(cfg.JWTSecret, cfg.JWTTTL)
	broker := realtime.NewBroker()

	// Инициализируем базу данных и источник realtime-изменений
	store, publisher, cleanup, err := openStore(ctx, cfg, broker)
	if err != nil {
		log.Fatalf("❌ Ошибка при инициализации базы данных: %v", err)
	}
	defer cleanup()

	cloudinaryService, err := cloudinary.NewCloudinaryService(cfg, jwtService)
	if err != nil {
		log.Fatalf("❌ Ошибка при инициализации Cloudinary: %v", err)
	}

	// Создаём экземпляр Fiber
	app := fiber.New(fiber.Config{
		AppName:      "Marketplace API",
		ErrorHandler: errorHandler,
	})

	// Добавляем middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowCredentials: false,
	}))

	// Создаём сервисы и регистрируем маршруты
	auth.NewAuthService(cfg, store, jwtService).SetupRoutes(app)
	listing.NewListingService(store, cloudinaryService, publisher, jwtService).SetupRoutes(app)
	chat.NewChatService(store, publisher, jwtService).SetupRoutes(app)
	cloudinaryService.SetupRoutes(app)

	// Realtime-лента слушает отдельный порт
	manager := websocket.NewManager()
	manager.Attach(broker)
	mux := http.NewServeMux()
	mux.Handle("/ws", websocket.Handler(manager, jwtService))
	wsServer := &http.Server{
		Addr:              ":" + cfg.WSPort,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("✅ WebSocket сервер запущен на порту %s", cfg.WSPort)
		if err := wsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("❌ Ошибка WebSocket сервера: %v", err)
			stop()
		}
	}()

	go func() {
		log.Printf("✅ Marketplace API запущен на порту %s", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("❌ Ошибка HTTP сервера: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Println("Остановка сервера...")

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Printf("Ошибка остановки HTTP сервера: %v", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Ошибка остановки WebSocket сервера: %v", err)
	}
	manager.Shutdown()
}

// openStore открывает хранилище по DB_DRIVER.
// В PostgreSQL изменения приходят из триггеров через LISTEN, поэтому publisher равен nil;
// в SQLite их публикуют сами сервисы, а Redis при наличии разносит их между инстансами.
func openStore(ctx context.Context, cfg *config.Config, broker *realtime.Broker) (appStore, chat.Publisher, func(), error) {
	switch cfg.DBDriver {
	case config.DriverSQLite:
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		log.Printf("✅ SQLite хранилище: %s", cfg.SQLitePath)

		if cfg.RedisURL == "" {
			return store, broker, store.Close, nil
		}
		relay, err := realtime.NewRedisRelay(cfg.RedisURL, broker)
		if err != nil {
			store.Close()
			return nil, nil, nil, err
		}
		if err := relay.Start(ctx); err != nil {
			relay.Close()
			store.Close()
			return nil, nil, nil, err
		}
		cleanup := func() {
			relay.Close()
			store.Close()
		}
		return store, broker, cleanup, nil

	default:
		store, err := db.Connect(cfg)
		if err != nil {
			return nil, nil, nil, err
		}
		migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := store.Migrate(migrateCtx); err != nil {
			store.Close()
			return nil, nil, nil, err
		}

		listener, err := db.NewChangeListener(cfg.DatabaseURL, store, broker.Deliver)
		if err != nil {
			store.Close()
			return nil, nil, nil, err
		}
		go listener.Run(ctx)

		cleanup := func() {
			listener.Close()
			store.Close()
		}
		return store, nil, cleanup, nil
	}
}

// errorHandler обрабатывает ошибки Fiber
func errorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	// Проверяем, является ли ошибка из Fiber
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	} else {
		log.Printf("Необработанная ошибка %s %s: %v", c.Method(), c.Path(), err)
	}

	// Отправляем ошибку в JSON
	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}
