package main

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"

	"github.com/aicara/relay/internal/auditlog"
	"github.com/aicara/relay/internal/handlers"
	"github.com/aicara/relay/internal/repository"
	"github.com/aicara/relay/internal/services"
	"github.com/aicara/relay/internal/storage"
)

const (
	defaultReadTimeout  = 30 * time.Second
	defaultWriteTimeout = 30 * time.Second
	defaultIdleTimeout  = 60 * time.Second
)

// Конструкторы внешних зависимостей, подменяются в тестах.
var (
	newPostgresDB  = repository.NewPostgresDB
	newFileStorage = func(cfg storage.MinioConfig) (storage.FileStorage, error) {
		return storage.NewMinioClient(cfg)
	}
)

// Структура для хранения инициализированных зависимостей.
type dependencies struct {
	db           *sqlx.DB // может быть nil, если индекс не настроен
	vaultLog     *auditlog.Log
	integrityLog *auditlog.Log
	vaultHandler *handlers.VaultHandler
}

// main - точка входа. Вызывает run и обрабатывает ошибку.
func main() {
	if err := run(); err != nil {
		log.Printf("Ошибка выполнения сервера: %v", err)
		os.Exit(1)
	}
}

// run содержит основную логику запуска сервера и возвращает ошибку.
func run() error {
	log.Println("Запуск сервера aicara-relay...")

	cfg, err := parseFlags()
	if err != nil {
		return fmt.Errorf("ошибка разбора конфигурации: %w", err)
	}

	deps, err := setupDependencies(cfg)
	if err != nil {
		return fmt.Errorf("ошибка инициализации зависимостей: %w", err)
	}
	defer closeDependencies(deps)

	r := setupRouter(deps.vaultHandler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}

	log.Printf("Запуск HTTP-сервера на порту %s...", cfg.Port)
	if err = server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ошибка запуска HTTP-сервера: %w", err)
	}
	return nil
}

// setupDependencies инициализирует и возвращает все необходимые зависимости сервера.
func setupDependencies(cfg *config) (*dependencies, error) {
	deps := &dependencies{}
	var err error

	// 1. Журналы: приём/выдача и проверки целостности
	deps.vaultLog, err = auditlog.Open(cfg.VaultLogFile)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия журнала приёма: %w", err)
	}
	deps.integrityLog, err = auditlog.Open(cfg.IntegrityLogFile)
	if err != nil {
		closeDependencies(deps)
		return nil, fmt.Errorf("ошибка открытия журнала проверок: %w", err)
	}

	// 2. Клиент объектного хранилища
	fileStorage, err := newFileStorage(storage.MinioConfig{
		Endpoint:        cfg.MinioEndpoint,
		AccessKeyID:     cfg.MinioUser,
		SecretAccessKey: cfg.MinioPassword,
		UseSSL:          cfg.MinioUseSSL,
		BucketName:      cfg.MinioBucket,
	})
	if err != nil {
		closeDependencies(deps)
		return nil, fmt.Errorf("ошибка инициализации клиента MinIO: %w", err)
	}

	// 3. Необязательный индекс принятых файлов в PostgreSQL
	var index repository.VaultIndexRepository
	if cfg.DatabaseDSN != "" {
		deps.db, err = newPostgresDB(cfg.DatabaseDSN)
		if err != nil {
			closeDependencies(deps)
			return nil, fmt.Errorf("ошибка инициализации БД: %w", err)
		}
		index = repository.NewPostgresVaultIndexRepository(deps.db)
	} else {
		log.Println("DATABASE_DSN не задан, индекс в БД отключен — чтения идут через журнал приёма.")
	}

	// 4. Сервис и обработчики
	vaultService := services.NewVaultService(fileStorage, deps.vaultLog, deps.integrityLog, index)
	deps.vaultHandler = handlers.NewVaultHandler(vaultService)

	return deps, nil
}

// closeDependencies закрывает открытые зависимости в обратном порядке.
func closeDependencies(deps *dependencies) {
	if deps.db != nil {
		if err := deps.db.Close(); err != nil {
			log.Printf("Ошибка закрытия соединения с БД: %v", err)
		}
	}
	if deps.integrityLog != nil {
		if err := deps.integrityLog.Close(); err != nil {
			log.Printf("Ошибка закрытия журнала проверок: %v", err)
		}
	}
	if deps.vaultLog != nil {
		if err := deps.vaultLog.Close(); err != nil {
			log.Printf("Ошибка закрытия журнала приёма: %v", err)
		}
	}
}

// setupRouter настраивает и возвращает роутер chi.
func setupRouter(vaultHandler *handlers.VaultHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// --- Маршруты --- //
	r.Get("/", vaultHandler.Health)
	r.Post("/ingest", vaultHandler.Ingest)
	r.Route("/vault", func(r chi.Router) {
		r.Get("/{vaultID}", vaultHandler.Retrieve)
		r.Get("/{vaultID}/verify", vaultHandler.Verify)
	})

	return r
}
