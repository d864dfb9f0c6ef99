package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aicara/relay/internal/auditlog"
	"github.com/aicara/relay/internal/digest"
	"github.com/aicara/relay/internal/models"
	"github.com/aicara/relay/internal/repository"
	"github.com/aicara/relay/internal/storage"
)

const (
	// Таймаут одного обращения к объектному хранилищу: зависшее хранилище
	// должно ронять один запрос, а не весь процесс.
	storeTimeout = 30 * time.Second

	defaultContentType = "application/octet-stream"
)

// Кастомные ошибки сервиса.
var (
	ErrInvalidFilename    = errors.New("недопустимое имя файла")
	ErrNoPayload          = errors.New("файл не передан")
	ErrEntryNotFound      = errors.New("файл в хранилище не найден")
	ErrStorageUnavailable = errors.New("ошибка объектного хранилища")
	ErrVaultIDCollision   = errors.New("коллизия vault_id: объект с таким ключом уже существует")
)

// VaultService определяет интерфейс для операций с хранилищем файлов.
type VaultService interface {
	Ingest(ctx context.Context, reader io.Reader, filename string, size int64) (*models.IngestResult, error)
	Retrieve(ctx context.Context, vaultID, filename string) (io.ReadCloser, error)
	Metadata(ctx context.Context, vaultID string) (*models.VaultEntry, error)
	Verify(ctx context.Context, vaultID, filename string) (*models.VerifyResult, error)
}

// vaultService реализует логику приёма, выдачи и проверки файлов.
var _ VaultService = (*vaultService)(nil) // Проверка соответствия интерфейсу

type vaultService struct {
	fileStorage  storage.FileStorage
	vaultLog     *auditlog.Log                   // журнал приёма/выдачи
	integrityLog *auditlog.Log                   // журнал проверок целостности
	index        repository.VaultIndexRepository // необязательный индекс в БД, может быть nil
}

// NewVaultService создает новый экземпляр сервиса хранилища.
// index может быть nil — тогда все чтения идут через журнал приёма.
func NewVaultService(
	fileStorage storage.FileStorage,
	vaultLog *auditlog.Log,
	integrityLog *auditlog.Log,
	index repository.VaultIndexRepository,
) VaultService {
	return &vaultService{
		fileStorage:  fileStorage,
		vaultLog:     vaultLog,
		integrityLog: integrityLog,
		index:        index,
	}
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_.\- ]`)

// SanitizeFilename приводит клиентское имя файла к безопасному виду:
// отбрасывает путь, удаляет недопустимые символы, заменяет пробелы на
// подчеркивание. Возвращает пустую строку, если от имени ничего не осталось.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	name = unsafeFilenameChars.ReplaceAllString(name, "")
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.Trim(name, "._")
	return name
}

// Ingest принимает файл: за один проход по потоку вычисляет SHA-256 и
// загружает байты в объектное хранилище, затем фиксирует приём в журнале.
// Без подтвержденной записи в хранилище запись success в журнал не попадает.
func (s *vaultService) Ingest(
	ctx context.Context,
	reader io.Reader,
	filename string,
	size int64,
) (*models.IngestResult, error) {
	// Пустой файл — валидное содержимое с хешем пустого потока,
	// отклоняется только отсутствующий поток
	if reader == nil || size < 0 {
		return nil, ErrNoPayload
	}
	cleanName := SanitizeFilename(filename)
	if cleanName == "" {
		return nil, ErrInvalidFilename
	}

	vaultID := uuid.NewString()
	objectKey := storage.ObjectKey(vaultID, cleanName)

	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	// vault_id выдается один раз; существующий объект никогда не
	// перезаписывается молча
	exists, err := s.fileStorage.ObjectExists(ctx, objectKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if exists {
		log.Printf("[VaultService:Ingest] Обнаружена коллизия vault_id %s, приём прерван", vaultID)
		return nil, ErrVaultIDCollision
	}

	// Хеш считается "на лету", файл в памяти не накапливается
	d := digest.New()
	tee := io.TeeReader(reader, d)

	if err = s.fileStorage.UploadFile(ctx, objectKey, tee, size, defaultContentType); err != nil {
		// Хеш частично прочитанного потока не является эталоном, в запись не попадает
		s.appendAudit(models.AuditRecord{
			Timestamp: time.Now().UTC(),
			Operation: models.OperationIngest,
			VaultID:   vaultID,
			Filename:  cleanName,
			Status:    models.StatusError,
			Error:     fmt.Sprintf("ошибка загрузки в хранилище: %v", err),
		})
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	result := &models.IngestResult{
		VaultID:    vaultID,
		Filename:   cleanName,
		SHA256Hash: d.Sum(),
		SizeBytes:  d.Size(),
		Timestamp:  time.Now().UTC(),
	}

	record := models.AuditRecord{
		Timestamp:  result.Timestamp,
		Operation:  models.OperationIngest,
		VaultID:    result.VaultID,
		Filename:   result.Filename,
		SHA256Hash: result.SHA256Hash,
		SizeBytes:  result.SizeBytes,
		Status:     models.StatusSuccess,
	}
	if err = s.vaultLog.Append(record); err != nil {
		// Объект уже в хранилище, но без записи в журнале он невидим для
		// проверок — приём считается неудавшимся
		return nil, fmt.Errorf("ошибка записи в журнал приёма: %w", err)
	}

	if s.index != nil {
		entry := models.VaultEntry{
			VaultID:    result.VaultID,
			Filename:   result.Filename,
			SHA256Hash: result.SHA256Hash,
			SizeBytes:  result.SizeBytes,
			IngestedAt: result.Timestamp,
		}
		if idxErr := s.index.RecordIngest(ctx, &entry); idxErr != nil {
			// Индекс вторичен, источник истины — журнал
			log.Printf("[VaultService:Ingest] Индекс не обновлен для %s: %v", result.VaultID, idxErr)
		}
	}

	log.Printf("[VaultService:Ingest] Файл принят: %s - %s (%d байт)", result.VaultID, result.Filename, result.SizeBytes)
	return result, nil
}

// Retrieve выдает поток байтов файла без повторного хеширования.
// Вызывающий обязан закрыть возвращенный io.ReadCloser.
func (s *vaultService) Retrieve(ctx context.Context, vaultID, filename string) (io.ReadCloser, error) {
	if filename == "" {
		return nil, ErrInvalidFilename
	}
	objectKey := storage.ObjectKey(vaultID, filename)

	object, err := s.fileStorage.DownloadFile(ctx, objectKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			s.appendAudit(models.AuditRecord{
				Timestamp: time.Now().UTC(),
				Operation: models.OperationRetrieve,
				VaultID:   vaultID,
				Filename:  filename,
				Status:    models.StatusError,
				Error:     "файл не найден в хранилище",
			})
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	s.appendAudit(models.AuditRecord{
		Timestamp: time.Now().UTC(),
		Operation: models.OperationRetrieve,
		VaultID:   vaultID,
		Filename:  filename,
		Status:    models.StatusSuccess,
	})

	log.Printf("[VaultService:Retrieve] Файл %s/%s выдан на скачивание", vaultID, filename)
	return object, nil
}

// Metadata возвращает сведения о последнем успешном приёме для vault_id.
// При настроенном индексе читает из него, иначе воспроизводит журнал.
func (s *vaultService) Metadata(ctx context.Context, vaultID string) (*models.VaultEntry, error) {
	if s.index != nil {
		entry, err := s.index.GetEntry(ctx, vaultID)
		if err == nil {
			return entry, nil
		}
		if !errors.Is(err, repository.ErrEntryNotFound) {
			log.Printf("[VaultService:Metadata] Индекс недоступен, читаем журнал: %v", err)
		}
		// Индекс обновляется best-effort: запись может быть только в журнале
	}

	entries, err := s.vaultLog.IngestedEntries()
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения журнала приёма: %w", err)
	}
	for i := range entries {
		if entries[i].VaultID == vaultID {
			return &entries[i], nil
		}
	}
	return nil, ErrEntryNotFound
}

// Verify сверяет текущий SHA-256 объекта с эталоном из журнала приёма.
// Результат сравнения всегда попадает в журнал проверок, в том числе
// повреждение и исчезновение файла.
func (s *vaultService) Verify(ctx context.Context, vaultID, filename string) (*models.VerifyResult, error) {
	if filename == "" {
		return nil, ErrInvalidFilename
	}

	// Эталонный хеш берется из журнала приёма — он единственный источник истины
	entry, err := s.vaultLog.FindIngest(vaultID, filename)
	if err != nil {
		if errors.Is(err, auditlog.ErrRecordNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("ошибка чтения журнала приёма: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	object, err := s.fileStorage.DownloadFile(ctx, storage.ObjectKey(vaultID, filename))
	if err != nil {
		now := time.Now().UTC()
		if errors.Is(err, storage.ErrObjectNotFound) {
			// Исчезнувший файл — нарушение целостности, а не "не найдено":
			// контракт проверки — доказать, что файл цел
			verified := false
			s.appendVerification(models.VerificationRecord{
				Timestamp:         now,
				CheckType:         models.CheckTypeVerification,
				VaultID:           vaultID,
				Filename:          filename,
				Status:            models.StatusCorrupted,
				OriginalHash:      entry.SHA256Hash,
				IntegrityVerified: &verified,
				Error:             "файл отсутствует в хранилище",
			})
			log.Printf("[VaultService:Verify] Файл %s/%s отсутствует в хранилище", vaultID, filename)
			return &models.VerifyResult{
				VaultID:           vaultID,
				Filename:          filename,
				OriginalHash:      entry.SHA256Hash,
				IntegrityVerified: false,
				Timestamp:         now,
			}, nil
		}
		s.appendVerification(models.VerificationRecord{
			Timestamp:    now,
			CheckType:    models.CheckTypeVerification,
			VaultID:      vaultID,
			Filename:     filename,
			Status:       models.StatusError,
			OriginalHash: entry.SHA256Hash,
			Error:        err.Error(),
		})
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer func() {
		if closeErr := object.Close(); closeErr != nil {
			log.Printf("[VaultService:Verify] Ошибка закрытия объекта %s/%s: %v", vaultID, filename, closeErr)
		}
	}()

	currentHash, size, err := digest.Sum(object)
	if err != nil {
		s.appendVerification(models.VerificationRecord{
			Timestamp:    time.Now().UTC(),
			CheckType:    models.CheckTypeVerification,
			VaultID:      vaultID,
			Filename:     filename,
			Status:       models.StatusError,
			OriginalHash: entry.SHA256Hash,
			Error:        err.Error(),
		})
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	now := time.Now().UTC()
	verified := currentHash == entry.SHA256Hash
	record := models.VerificationRecord{
		Timestamp:         now,
		CheckType:         models.CheckTypeVerification,
		VaultID:           vaultID,
		Filename:          filename,
		Status:            models.StatusVerified,
		OriginalHash:      entry.SHA256Hash,
		CurrentHash:       currentHash,
		IntegrityVerified: &verified,
	}
	if !verified {
		record.Status = models.StatusCorrupted
		record.Error = "несовпадение хеша"
		log.Printf("[VaultService:Verify] ПОВРЕЖДЕНИЕ: %s/%s, эталон %s, текущий %s",
			vaultID, filename, entry.SHA256Hash, currentHash)
	} else {
		log.Printf("[VaultService:Verify] Целостность подтверждена: %s/%s", vaultID, filename)
	}
	s.appendVerification(record)

	return &models.VerifyResult{
		VaultID:           vaultID,
		Filename:          filename,
		OriginalHash:      entry.SHA256Hash,
		CurrentHash:       currentHash,
		IntegrityVerified: verified,
		SizeBytes:         size,
		Timestamp:         now,
	}, nil
}

// appendAudit дописывает запись в журнал приёма/выдачи.
func (s *vaultService) appendAudit(record models.AuditRecord) {
	if err := s.vaultLog.Append(record); err != nil {
		log.Printf("[VaultService] Ошибка записи в журнал операций: %v", err)
	}
}

// appendVerification дописывает запись в журнал проверок.
func (s *vaultService) appendVerification(record models.VerificationRecord) {
	if err := s.integrityLog.Append(record); err != nil {
		log.Printf("[VaultService] Ошибка записи в журнал проверок: %v", err)
	}
}
