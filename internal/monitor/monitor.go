// Package monitor реализует периодическую проверку целостности хранилища.
// Монитор не хранит состояния между запусками: список файлов каждый раз
// восстанавливается из журнала приёма (или индекса в БД), результаты
// дописываются в журнал проверок. Запуск безопасно повторять и прерывать.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/aicara/relay/internal/auditlog"
	"github.com/aicara/relay/internal/digest"
	"github.com/aicara/relay/internal/models"
	"github.com/aicara/relay/internal/repository"
	"github.com/aicara/relay/internal/storage"
)

// Таймаут проверки одного файла: недоступное хранилище портит одну запись
// прохода, а не весь проход.
const entryTimeout = 30 * time.Second

// Monitor выполняет один проход проверки целостности по всем принятым файлам.
type Monitor struct {
	fileStorage  storage.FileStorage
	vaultLog     *auditlog.Log                   // журнал приёма, только чтение
	integrityLog *auditlog.Log                   // журнал проверок, только дозапись
	index        repository.VaultIndexRepository // необязательный индекс, может быть nil
}

// New создает новый Monitor.
func New(
	fileStorage storage.FileStorage,
	vaultLog *auditlog.Log,
	integrityLog *auditlog.Log,
	index repository.VaultIndexRepository,
) *Monitor {
	return &Monitor{
		fileStorage:  fileStorage,
		vaultLog:     vaultLog,
		integrityLog: integrityLog,
		index:        index,
	}
}

// RunOnce выполняет один проход: проверяет доступность хранилища, строит
// список принятых файлов, сверяет хеш каждого и пишет итоговую запись.
// Ошибка отдельного файла не прерывает проход.
func (m *Monitor) RunOnce(ctx context.Context) (*models.CheckSummary, error) {
	log.Printf("[Monitor] Запуск проверки целостности хранилища...")
	start := time.Now()

	// Проба доступности тоже ограничена по времени: зависшее хранилище
	// не должно вешать весь проход
	pingCtx, cancelPing := context.WithTimeout(ctx, entryTimeout)
	defer cancelPing()
	if err := m.fileStorage.Ping(pingCtx); err != nil {
		m.appendRecord(models.VerificationRecord{
			Timestamp: time.Now().UTC(),
			CheckType: models.CheckTypeFatalError,
			Status:    models.StatusError,
			Error:     err.Error(),
		})
		return nil, fmt.Errorf("хранилище недоступно, проверка прервана: %w", err)
	}

	entries, err := m.workList(ctx)
	if err != nil {
		m.appendRecord(models.VerificationRecord{
			Timestamp: time.Now().UTC(),
			CheckType: models.CheckTypeFatalError,
			Status:    models.StatusError,
			Error:     err.Error(),
		})
		return nil, fmt.Errorf("не удалось построить список файлов: %w", err)
	}

	summary := &models.CheckSummary{TotalFiles: len(entries)}
	if len(entries) == 0 {
		log.Printf("[Monitor] В хранилище нет принятых файлов, проверять нечего")
	} else {
		log.Printf("[Monitor] Проверка целостности %d файлов...", len(entries))
	}

	for i := range entries {
		switch m.verifyEntry(ctx, &entries[i]) {
		case models.StatusVerified:
			summary.VerifiedFiles++
		case models.StatusCorrupted:
			summary.CorruptedFiles++
		default:
			summary.ErrorFiles++
		}
	}
	summary.Duration = time.Since(start)

	if err = m.integrityLog.Append(models.CheckSummaryRecord{
		Timestamp:       time.Now().UTC(),
		CheckType:       models.CheckTypeSummary,
		TotalFiles:      summary.TotalFiles,
		VerifiedFiles:   summary.VerifiedFiles,
		CorruptedFiles:  summary.CorruptedFiles,
		ErrorFiles:      summary.ErrorFiles,
		DurationSeconds: summary.Duration.Seconds(),
		Status:          models.StatusCompleted,
	}); err != nil {
		log.Printf("[Monitor] Ошибка записи итоговой записи прохода: %v", err)
	}

	log.Printf("[Monitor] Проверка завершена: подтверждено %d, повреждено %d, ошибок %d, длительность %.2fs",
		summary.VerifiedFiles, summary.CorruptedFiles, summary.ErrorFiles, summary.Duration.Seconds())
	if summary.CorruptedFiles > 0 {
		log.Printf("[Monitor] ВНИМАНИЕ: %d файлов не прошли проверку целостности!", summary.CorruptedFiles)
	}
	return summary, nil
}

// workList строит список файлов для проверки: из индекса БД, если он
// настроен и доступен, иначе воспроизведением журнала приёма.
func (m *Monitor) workList(ctx context.Context) ([]models.VaultEntry, error) {
	if m.index != nil {
		entries, err := m.index.ListEntries(ctx)
		if err == nil {
			return entries, nil
		}
		log.Printf("[Monitor] Индекс недоступен, воспроизводим журнал приёма: %v", err)
	}
	return m.vaultLog.IngestedEntries()
}

// verifyEntry проверяет один файл и пишет результат в журнал проверок.
// Возвращает статус записи.
func (m *Monitor) verifyEntry(ctx context.Context, entry *models.VaultEntry) string {
	ctx, cancel := context.WithTimeout(ctx, entryTimeout)
	defer cancel()

	record := models.VerificationRecord{
		Timestamp:    time.Now().UTC(),
		CheckType:    models.CheckTypeVerification,
		VaultID:      entry.VaultID,
		Filename:     entry.Filename,
		OriginalHash: entry.SHA256Hash,
	}

	object, err := m.fileStorage.DownloadFile(ctx, storage.ObjectKey(entry.VaultID, entry.Filename))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			verified := false
			record.Status = models.StatusCorrupted
			record.IntegrityVerified = &verified
			record.Error = "файл отсутствует в хранилище"
			m.appendRecord(record)
			log.Printf("[Monitor] Файл %s/%s отсутствует в хранилище", entry.VaultID, entry.Filename)
			return models.StatusCorrupted
		}
		record.Status = models.StatusError
		record.Error = err.Error()
		m.appendRecord(record)
		log.Printf("[Monitor] Ошибка проверки %s/%s: %v", entry.VaultID, entry.Filename, err)
		return models.StatusError
	}
	defer func() {
		if closeErr := object.Close(); closeErr != nil {
			log.Printf("[Monitor] Ошибка закрытия объекта %s/%s: %v", entry.VaultID, entry.Filename, closeErr)
		}
	}()

	currentHash, _, err := digest.Sum(object)
	if err != nil {
		record.Status = models.StatusError
		record.Error = err.Error()
		m.appendRecord(record)
		log.Printf("[Monitor] Ошибка чтения %s/%s: %v", entry.VaultID, entry.Filename, err)
		return models.StatusError
	}

	verified := currentHash == entry.SHA256Hash
	record.CurrentHash = currentHash
	record.IntegrityVerified = &verified
	if verified {
		record.Status = models.StatusVerified
		log.Printf("[Monitor] Целостность подтверждена: %s/%s", entry.VaultID, entry.Filename)
	} else {
		record.Status = models.StatusCorrupted
		record.Error = "несовпадение хеша"
		log.Printf("[Monitor] ПОВРЕЖДЕНИЕ: %s/%s, эталон %s, текущий %s",
			entry.VaultID, entry.Filename, entry.SHA256Hash, currentHash)
	}
	m.appendRecord(record)
	return record.Status
}

// appendRecord дописывает запись в журнал проверок.
func (m *Monitor) appendRecord(record models.VerificationRecord) {
	if err := m.integrityLog.Append(record); err != nil {
		log.Printf("[Monitor] Ошибка записи в журнал проверок: %v", err)
	}
}
