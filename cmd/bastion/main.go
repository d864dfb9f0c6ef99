// Команда bastion выполняет один проход проверки целостности хранилища.
// Запускается внешним планировщиком (cron) с нужной периодичностью;
// состояние между запусками не хранится, запуск вручную безопасен.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/aicara/relay/internal/auditlog"
	"github.com/aicara/relay/internal/monitor"
	"github.com/aicara/relay/internal/repository"
	"github.com/aicara/relay/internal/storage"
)

const (
	defaultMinioEndpoint = "localhost:9000"
	defaultMinioUser     = "minioadmin"
	defaultMinioPassword = "minioadmin"
	defaultMinioBucket   = "aicara-vault"
	defaultVaultLogFile  = "vault_log.jsonl"
	defaultIntegrityLog  = "integrity_log.jsonl"
	// Сколько последних записей журнала проверок оставлять после прохода.
	defaultKeepRecords = 1000

	envMinioEndpoint = "MINIO_ENDPOINT"
	envMinioUser     = "MINIO_USER"
	envMinioPassword = "MINIO_PASSWORD" //nolint:gosec // Ложное срабатывание, это имя переменной окружения
	envMinioBucket   = "MINIO_BUCKET"
	envMinioUseSSL   = "MINIO_USE_SSL"
	envVaultLogFile  = "VAULT_LOG_FILE"
	envIntegrityLog  = "INTEGRITY_LOG_FILE"
	envDatabaseDSN   = "DATABASE_DSN"
)

// Конструктор хранилища, подменяется в тестах.
var newFileStorage = func(cfg storage.MinioConfig) (storage.FileStorage, error) {
	return storage.NewMinioClient(cfg)
}

// config хранит конфигурацию одного прохода монитора.
type config struct {
	MinioEndpoint    string
	MinioUser        string
	MinioPassword    string
	MinioBucket      string
	MinioUseSSL      bool
	VaultLogFile     string
	IntegrityLogFile string
	DatabaseDSN      string // пустое значение — индекс в БД отключен
	KeepRecords      int    // 0 — журнал проверок не усекается
}

func main() {
	if err := run(); err != nil {
		log.Printf("Ошибка прохода проверки целостности: %v", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := parseFlags()
	if err != nil {
		return fmt.Errorf("ошибка разбора конфигурации: %w", err)
	}

	vaultLog, err := auditlog.Open(cfg.VaultLogFile)
	if err != nil {
		return fmt.Errorf("ошибка открытия журнала приёма: %w", err)
	}
	defer closeLog(vaultLog, "приёма")

	integrityLog, err := auditlog.Open(cfg.IntegrityLogFile)
	if err != nil {
		return fmt.Errorf("ошибка открытия журнала проверок: %w", err)
	}
	defer closeLog(integrityLog, "проверок")

	fileStorage, err := newFileStorage(storage.MinioConfig{
		Endpoint:        cfg.MinioEndpoint,
		AccessKeyID:     cfg.MinioUser,
		SecretAccessKey: cfg.MinioPassword,
		UseSSL:          cfg.MinioUseSSL,
		BucketName:      cfg.MinioBucket,
	})
	if err != nil {
		return fmt.Errorf("ошибка инициализации клиента MinIO: %w", err)
	}

	var index repository.VaultIndexRepository
	if cfg.DatabaseDSN != "" {
		db, dbErr := repository.NewPostgresDB(cfg.DatabaseDSN)
		if dbErr != nil {
			return fmt.Errorf("ошибка инициализации БД: %w", dbErr)
		}
		defer func() {
			if closeErr := db.Close(); closeErr != nil {
				log.Printf("Ошибка закрытия соединения с БД: %v", closeErr)
			}
		}()
		index = repository.NewPostgresVaultIndexRepository(db)
	}

	m := monitor.New(fileStorage, vaultLog, integrityLog, index)
	summary, err := m.RunOnce(context.Background())
	if err != nil {
		return err
	}

	log.Printf("Итог прохода: всего %d, подтверждено %d, повреждено %d, ошибок %d",
		summary.TotalFiles, summary.VerifiedFiles, summary.CorruptedFiles, summary.ErrorFiles)

	// Журнал проверок растет с каждым проходом, усекаем его до последних
	// записей; журнал приёма не трогаем никогда
	if cfg.KeepRecords > 0 {
		if err = integrityLog.TrimTo(cfg.KeepRecords); err != nil {
			log.Printf("Не удалось усечь журнал проверок: %v", err)
		}
	}
	return nil
}

func closeLog(l *auditlog.Log, name string) {
	if err := l.Close(); err != nil {
		log.Printf("Ошибка закрытия журнала %s: %v", name, err)
	}
}

// parseFlags разбирает флаги и переменные окружения, возвращает config или ошибку.
func parseFlags() (*config, error) {
	cfg := &config{}

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
	flag.IntVar(&cfg.KeepRecords, "keep", defaultKeepRecords,
		"Сколько последних записей оставлять в журнале проверок после прохода (0 — не усекать)")

	flag.Parse()

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

	if cfg.MinioBucket == "" {
		return nil, errors.New("не указано имя бакета (--minio-bucket или " + envMinioBucket + ")")
	}
	if cfg.KeepRecords < 0 {
		return nil, errors.New("значение -keep не может быть отрицательным")
	}

	return cfg, nil
}

// getEnv получает значение переменной окружения или возвращает значение по умолчанию.
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
