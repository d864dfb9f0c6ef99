package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"

	"github.com/aicara/relay/internal/models"
)

// VaultIndexRepository определяет методы необязательного durable-индекса
// принятых файлов. Индекс дублирует журнал приёма, чтобы Integrity Monitor
// не воспроизводил всю историю на каждом проходе; источником истины
// остается журнал.
type VaultIndexRepository interface {
	RecordIngest(ctx context.Context, entry *models.VaultEntry) error
	GetEntry(ctx context.Context, vaultID string) (*models.VaultEntry, error)
	ListEntries(ctx context.Context) ([]models.VaultEntry, error)
}

// postgresVaultIndexRepository реализует VaultIndexRepository для PostgreSQL.
type postgresVaultIndexRepository struct {
	db *sqlx.DB
}

// Проверка соответствия интерфейсу.
var _ VaultIndexRepository = (*postgresVaultIndexRepository)(nil)

// NewPostgresVaultIndexRepository создает новый экземпляр индекса.
func NewPostgresVaultIndexRepository(db *sqlx.DB) VaultIndexRepository {
	return &postgresVaultIndexRepository{db: db}
}

// RecordIngest сохраняет запись о принятом файле. vault_id выдается один раз
// и не переиспользуется, поэтому конфликт возможен только при повторном
// проигрывании журнала — тогда побеждает более поздняя запись.
func (r *postgresVaultIndexRepository) RecordIngest(ctx context.Context, entry *models.VaultEntry) error {
	query := `INSERT INTO vault_entries (vault_id, filename, sha256_hash, size_bytes, ingested_at)
	          VALUES ($1, $2, $3, $4, $5)
	          ON CONFLICT (vault_id) DO UPDATE
	          SET filename = EXCLUDED.filename,
	              sha256_hash = EXCLUDED.sha256_hash,
	              size_bytes = EXCLUDED.size_bytes,
	              ingested_at = EXCLUDED.ingested_at`

	_, err := r.db.ExecContext(ctx, query,
		entry.VaultID, entry.Filename, entry.SHA256Hash, entry.SizeBytes, entry.IngestedAt)
	if err != nil {
		log.Printf("[VaultIndexRepo] Ошибка записи в индекс для vault_id %s: %v", entry.VaultID, err)
		return fmt.Errorf("ошибка записи в индекс хранилища: %w", err)
	}
	return nil
}

// GetEntry находит запись индекса по vault_id.
func (r *postgresVaultIndexRepository) GetEntry(ctx context.Context, vaultID string) (*models.VaultEntry, error) {
	query := `SELECT vault_id, filename, sha256_hash, size_bytes, ingested_at
	          FROM vault_entries WHERE vault_id = $1`
	var entry models.VaultEntry

	err := r.db.GetContext(ctx, &entry, query, vaultID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		log.Printf("[VaultIndexRepo] Ошибка поиска записи для vault_id %s: %v", vaultID, err)
		return nil, fmt.Errorf("ошибка выполнения запроса к индексу: %w", err)
	}
	return &entry, nil
}

// ListEntries возвращает все записи индекса в порядке приёма.
func (r *postgresVaultIndexRepository) ListEntries(ctx context.Context) ([]models.VaultEntry, error) {
	query := `SELECT vault_id, filename, sha256_hash, size_bytes, ingested_at
	          FROM vault_entries ORDER BY ingested_at, vault_id`
	var entries []models.VaultEntry

	if err := r.db.SelectContext(ctx, &entries, query); err != nil {
		log.Printf("[VaultIndexRepo] Ошибка получения списка записей: %v", err)
		return nil, fmt.Errorf("ошибка получения списка записей индекса: %w", err)
	}
	return entries, nil
}

// Кастомная ошибка репозитория.
var (
	ErrEntryNotFound = errors.New("запись индекса не найдена")
)
