package repository

import (
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // Драйвер PostgreSQL, импортируем для регистрации
)

const (
	maxOpenConns    = 25              // Максимальное количество открытых соединений
	maxIdleConns    = 25              // Максимальное количество простаивающих соединений
	connMaxLifetime = 5 * time.Minute // Максимальное время жизни соединения
	connMaxIdleTime = 5 * time.Minute // Максимальное время простоя соединения
)

// NewPostgresDB создает и возвращает новое подключение к PostgreSQL.
func NewPostgresDB(dsn string) (*sqlx.DB, error) {
	log.Printf("Подключение к PostgreSQL...")

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к БД: %w", err)
	}

	// Проверка соединения
	if err = db.Ping(); err != nil {
		// Закрываем соединение в случае ошибки пинга
		closeErr := db.Close()
		if closeErr != nil {
			log.Printf("Ошибка закрытия соединения с БД после неудачного пинга: %v", closeErr)
		}
		return nil, fmt.Errorf("ошибка проверки соединения с БД (ping): %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	// Индекс восстановим из журнала при необходимости, поэтому схему
	// достаточно гарантировать на старте, без отдельных миграций
	if err = ensureSchema(db); err != nil {
		closeErr := db.Close()
		if closeErr != nil {
			log.Printf("Ошибка закрытия соединения с БД после неудачной инициализации схемы: %v", closeErr)
		}
		return nil, err
	}

	log.Println("Подключение к PostgreSQL успешно установлено.")
	return db, nil
}

// ensureSchema создает таблицу индекса, если ее еще нет.
func ensureSchema(db *sqlx.DB) error {
	schema := `CREATE TABLE IF NOT EXISTS vault_entries (
		vault_id     TEXT PRIMARY KEY,
		filename     TEXT NOT NULL,
		sha256_hash  TEXT NOT NULL,
		size_bytes   BIGINT NOT NULL,
		ingested_at  TIMESTAMPTZ NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("ошибка создания таблицы vault_entries: %w", err)
	}
	return nil
}
