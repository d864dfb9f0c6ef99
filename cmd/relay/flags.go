package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
)

const (
	// Значения по умолчанию для локальной разработки (docker-compose).
	defaultServerPort    = "8080"
	defaultMinioEndpoint = "localhost:9000"
	defaultMinioUser     = "minioadmin"
	defaultMinioPassword = "minioadmin"
	defaultMinioBucket   = "aicara-vault"
	defaultVaultLogFile  = "vault_log.jsonl"
	defaultIntegrityLog  = "integrity_log.jsonl"

	// Переменные окружения.
	envServerPort    = "SERVER_PORT"
	envMinioEndpoint = "MINIO_ENDPOINT"
	envMinioUser     = "MINIO_USER"
	envMinioPassword = "MINIO_PASSWORD" //nolint:gosec // Ложное срабатывание, это имя переменной окружения
	envMinioBucket   = "MINIO_BUCKET"
	envMinioUseSSL   = "MINIO_USE_SSL"
	envVaultLogFile  = "VAULT_LOG_FILE"
	envIntegrityLog  = "INTEGRITY_LOG_FILE"
	envDatabaseDSN   = "DATABASE_DSN"
)

// config хранит конфигурацию сервера.
type config struct {
	Port             string
	MinioEndpoint    string
	MinioUser        string
	MinioPassword    string
	MinioBucket      string
	MinioUseSSL      bool
	VaultLogFile     string
	IntegrityLogFile string
	DatabaseDSN      string // пустое значение — индекс в БД отключен
}

// parseFlags разбирает флаги и переменные окружения, возвращает config или ошибку.
// Приоритет: флаг, затем переменная окружения, затем значение по умолчанию.
func parseFlags() (*config, error) {
	cfg := &config{}

	flag.StringVar(&cfg.Port, "port", "",
		fmt.Sprintf("Порт HTTP-сервера (env: %s, default: %s)", envServerPort, defaultServerPort))
	flag.StringVar(&cfg.MinioEndpoint, "minio-endpoint", "",
		fmt.Sprintf("Адрес объектного хранилища (env: %s, default: %s)", envMinioEndpoint, defaultMinioEndpoint))
	flag.StringVar(&cfg.MinioUser, "minio-user", "",
		fmt.Sprintf("Логин объектного хранилища (env: %s)", envMinioUser))
	flag.StringVar(&cfg.MinioPassword, "minio-password", "",
		fmt.Sprintf("Пароль объектного хранилища (env: %s)", envMinioPassword))
	flag.StringVar(&cfg.MinioBucket, "minio-bucket", "",
		fmt.Sprintf("Имя бакета (env: %s, default: %s)", envMinioBucket, defaultMinioBucket))
	flag.BoolVar(&cfg.MinioUseSSL, "minio-use-ssl", false,
		fmt.Sprintf("Использовать SSL для хранилища (env: %s)", envMinioUseSSL))
	flag.StringVar(&cfg.VaultLogFile, "vault-log", "",
		fmt.Sprintf("Путь к журналу приёма/выдачи (env: %s, default: %s)", envVaultLogFile, defaultVaultLogFile))
	flag.StringVar(&cfg.IntegrityLogFile, "integrity-log", "",
		fmt.Sprintf("Путь к журналу проверок (env: %s, default: %s)", envIntegrityLog, defaultIntegrityLog))
	flag.StringVar(&cfg.DatabaseDSN, "database-dsn", "",
		fmt.Sprintf("Строка подключения к PostgreSQL для индекса, необязательно (env: %s)", envDatabaseDSN))

	flag.Parse()

	applyEnvFallbacks(cfg)

	if cfg.MinioBucket == "" {
		return nil, errors.New("не указано имя бакета (--minio-bucket или " + envMinioBucket + ")")
	}

	return cfg, nil
}

// applyEnvFallbacks заполняет не заданные флагами поля из переменных
// окружения и значений по умолчанию.
func applyEnvFallbacks(cfg *config) {
	if cfg.Port == "" {
		cfg.Port = getEnv(envServerPort, defaultServerPort)
	}
	if cfg.MinioEndpoint == "" {
		cfg.MinioEndpoint = getEnv(envMinioEndpoint, defaultMinioEndpoint)
	}
	if cfg.MinioUser == "" {
		cfg.MinioUser = getEnv(envMinioUser, defaultMinioUser)
	}
	if cfg.MinioPassword == "" {
		cfg.MinioPassword = getEnv(envMinioPassword, defaultMinioPassword)
	}
	if cfg.MinioBucket == "" {
		cfg.MinioBucket = getEnv(envMinioBucket, defaultMinioBucket)
	}
	if !cfg.MinioUseSSL {
		cfg.MinioUseSSL = getEnv(envMinioUseSSL, "") == "true"
	}
	if cfg.VaultLogFile == "" {
		cfg.VaultLogFile = getEnv(envVaultLogFile, defaultVaultLogFile)
	}
	if cfg.IntegrityLogFile == "" {
		cfg.IntegrityLogFile = getEnv(envIntegrityLog, defaultIntegrityLog)
	}
	if cfg.DatabaseDSN == "" {
		cfg.DatabaseDSN = getEnv(envDatabaseDSN, "")
	}
}

// getEnv получает значение переменной окружения или возвращает значение по умолчанию.
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
