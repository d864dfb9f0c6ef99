package services_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aicara/relay/internal/auditlog"
	"github.com/aicara/relay/internal/models"
	"github.com/aicara/relay/internal/services"
	"github.com/aicara/relay/internal/storage"
)

// Эталонные SHA-256: строки "hello" и пустого потока.
const (
	helloSHA256 = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	emptySHA256 = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
)

// MockFileStorage is a mock implementation of storage.FileStorage interface.
type MockFileStorage struct {
	mock.Mock
}

func (m *MockFileStorage) UploadFile(
	ctx context.Context,
	objectKey string,
	reader io.Reader,
	size int64,
	contentType string,
) error {
	args := m.Called(ctx, objectKey, reader, size, contentType)
	if args.Error(0) == nil && reader != nil {
		// Успешная загрузка вычитывает поток целиком, как настоящее хранилище
		_, _ = io.Copy(io.Discard, reader)
	}
	return args.Error(0)
}

func (m *MockFileStorage) DownloadFile(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	args := m.Called(ctx, objectKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1) //nolint:errcheck // Acceptable for mocks
}

func (m *MockFileStorage) ObjectExists(ctx context.Context, objectKey string) (bool, error) {
	args := m.Called(ctx, objectKey)
	return args.Bool(0), args.Error(1)
}

func (m *MockFileStorage) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockVaultIndexRepository is a mock implementation of repository.VaultIndexRepository.
type MockVaultIndexRepository struct {
	mock.Mock
}

func (m *MockVaultIndexRepository) RecordIngest(ctx context.Context, entry *models.VaultEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockVaultIndexRepository) GetEntry(ctx context.Context, vaultID string) (*models.VaultEntry, error) {
	args := m.Called(ctx, vaultID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.VaultEntry), args.Error(1) //nolint:errcheck // Acceptable for mocks
}

func (m *MockVaultIndexRepository) ListEntries(ctx context.Context) ([]models.VaultEntry, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.VaultEntry), args.Error(1) //nolint:errcheck // Acceptable for mocks
}

// testEnv собирает сервис с моком хранилища и журналами во временном каталоге.
type testEnv struct {
	service      services.VaultService
	fileStorage  *MockFileStorage
	vaultLog     *auditlog.Log
	integrityLog *auditlog.Log
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	vaultLog, err := auditlog.Open(filepath.Join(dir, "vault_log.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = vaultLog.Close() })

	integrityLog, err := auditlog.Open(filepath.Join(dir, "integrity_log.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = integrityLog.Close() })

	fileStorage := new(MockFileStorage)
	return &testEnv{
		service:      services.NewVaultService(fileStorage, vaultLog, integrityLog, nil),
		fileStorage:  fileStorage,
		vaultLog:     vaultLog,
		integrityLog: integrityLog,
	}
}

// auditRecords воспроизводит журнал приёма/выдачи.
func auditRecords(t *testing.T, l *auditlog.Log) []models.AuditRecord {
	t.Helper()
	var records []models.AuditRecord
	err := l.Replay(func(line []byte) error {
		var rec models.AuditRecord
		require.NoError(t, json.Unmarshal(line, &rec))
		records = append(records, rec)
		return nil
	})
	require.NoError(t, err)
	return records
}

// verificationRecords воспроизводит журнал проверок.
func verificationRecords(t *testing.T, l *auditlog.Log) []models.VerificationRecord {
	t.Helper()
	var records []models.VerificationRecord
	err := l.Replay(func(line []byte) error {
		var rec models.VerificationRecord
		require.NoError(t, json.Unmarshal(line, &rec))
		records = append(records, rec)
		return nil
	})
	require.NoError(t, err)
	return records
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Обычное имя", "a.txt", "a.txt"},
		{"Имя с путем", "../../etc/passwd", "passwd"},
		{"Обратные слеши", `C:\Users\report.txt`, "report.txt"},
		{"Пробел заменяется подчеркиванием", "my report.pdf", "my_report.pdf"},
		{"Не-ASCII символы удаляются", "отчет.pdf", "pdf"},
		{"Пустое имя", "", ""},
		{"Только точки", "..", ""},
		{"Латиница с дефисами", "backup-2026_v2.tar.gz", "backup-2026_v2.tar.gz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, services.SanitizeFilename(tt.input))
		})
	}
}

func TestVaultService_Ingest(t *testing.T) {
	payload := []byte("hello")

	t.Run("Успешный приём", func(t *testing.T) {
		env := newTestEnv(t)
		env.fileStorage.On("ObjectExists", mock.Anything, mock.Anything).Return(false, nil).Once()
		env.fileStorage.On("UploadFile",
			mock.Anything, mock.Anything, mock.Anything, int64(len(payload)), "application/octet-stream").
			Return(nil).Once()

		result, err := env.service.Ingest(context.Background(), bytes.NewReader(payload), "a.txt", int64(len(payload)))
		require.NoError(t, err)

		assert.Equal(t, "a.txt", result.Filename)
		assert.Equal(t, helloSHA256, result.SHA256Hash)
		assert.Equal(t, int64(len(payload)), result.SizeBytes)
		_, err = uuid.Parse(result.VaultID)
		assert.NoError(t, err, "vault_id должен быть валидным UUID")

		// Приём зафиксирован в журнале
		entry, err := env.vaultLog.FindIngest(result.VaultID, "a.txt")
		require.NoError(t, err)
		assert.Equal(t, helloSHA256, entry.SHA256Hash)

		env.fileStorage.AssertExpectations(t)
	})

	t.Run("Пустой файл принимается с хешем пустого содержимого", func(t *testing.T) {
		env := newTestEnv(t)
		env.fileStorage.On("ObjectExists", mock.Anything, mock.Anything).Return(false, nil).Once()
		env.fileStorage.On("UploadFile",
			mock.Anything, mock.Anything, mock.Anything, int64(0), "application/octet-stream").
			Return(nil).Once()

		result, err := env.service.Ingest(context.Background(), bytes.NewReader(nil), "empty.txt", 0)
		require.NoError(t, err)

		assert.Equal(t, emptySHA256, result.SHA256Hash)
		assert.Equal(t, int64(0), result.SizeBytes)

		entry, err := env.vaultLog.FindIngest(result.VaultID, "empty.txt")
		require.NoError(t, err)
		assert.Equal(t, emptySHA256, entry.SHA256Hash)

		env.fileStorage.AssertExpectations(t)
	})

	t.Run("Отрицательный размер", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.service.Ingest(context.Background(), bytes.NewReader(nil), "a.txt", -1)
		require.ErrorIs(t, err, services.ErrNoPayload)
	})

	t.Run("Уникальность vault_id при последовательных приёмах", func(t *testing.T) {
		env := newTestEnv(t)
		env.fileStorage.On("ObjectExists", mock.Anything, mock.Anything).Return(false, nil)
		env.fileStorage.On("UploadFile", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(nil)

		first, err := env.service.Ingest(context.Background(), bytes.NewReader(payload), "a.txt", int64(len(payload)))
		require.NoError(t, err)
		second, err := env.service.Ingest(context.Background(), bytes.NewReader(payload), "a.txt", int64(len(payload)))
		require.NoError(t, err)

		assert.NotEqual(t, first.VaultID, second.VaultID)
	})

	t.Run("Ошибка хранилища при загрузке", func(t *testing.T) {
		env := newTestEnv(t)
		env.fileStorage.On("ObjectExists", mock.Anything, mock.Anything).Return(false, nil).Once()
		env.fileStorage.On("UploadFile", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(errors.New("хранилище недоступно")).Once()

		_, err := env.service.Ingest(context.Background(), bytes.NewReader(payload), "a.txt", int64(len(payload)))
		require.ErrorIs(t, err, services.ErrStorageUnavailable)

		// Неудавшийся приём тоже попадает в журнал, но со статусом error
		records := auditRecords(t, env.vaultLog)
		require.Len(t, records, 1)
		assert.Equal(t, models.OperationIngest, records[0].Operation)
		assert.Equal(t, models.StatusError, records[0].Status)
		assert.NotEmpty(t, records[0].Error)

		// Запись success не появилась — частичного VaultEntry не существует
		entries, err := env.vaultLog.IngestedEntries()
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("Коллизия vault_id", func(t *testing.T) {
		env := newTestEnv(t)
		env.fileStorage.On("ObjectExists", mock.Anything, mock.Anything).Return(true, nil).Once()

		_, err := env.service.Ingest(context.Background(), bytes.NewReader(payload), "a.txt", int64(len(payload)))
		require.ErrorIs(t, err, services.ErrVaultIDCollision)
		env.fileStorage.AssertNotCalled(t, "UploadFile",
			mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Пустое имя файла", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.service.Ingest(context.Background(), bytes.NewReader(payload), "", int64(len(payload)))
		require.ErrorIs(t, err, services.ErrInvalidFilename)
	})

	t.Run("Отсутствующий файл", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.service.Ingest(context.Background(), nil, "a.txt", 0)
		require.ErrorIs(t, err, services.ErrNoPayload)
	})

	t.Run("Имя файла очищается от пути", func(t *testing.T) {
		env := newTestEnv(t)
		env.fileStorage.On("ObjectExists", mock.Anything, mock.Anything).Return(false, nil).Once()
		env.fileStorage.On("UploadFile", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(nil).Once()

		result, err := env.service.Ingest(
			context.Background(), bytes.NewReader(payload), "../../etc/passwd", int64(len(payload)))
		require.NoError(t, err)
		assert.Equal(t, "passwd", result.Filename)
	})
}

func TestVaultService_Retrieve(t *testing.T) {
	vaultID := uuid.NewString()

	t.Run("Успешная выдача", func(t *testing.T) {
		env := newTestEnv(t)
		env.fileStorage.On("DownloadFile", mock.Anything, storage.ObjectKey(vaultID, "a.txt")).
			Return(io.NopCloser(strings.NewReader("hello")), nil).Once()

		reader, err := env.service.Retrieve(context.Background(), vaultID, "a.txt")
		require.NoError(t, err)
		defer func() { _ = reader.Close() }()

		content, err := io.ReadAll(reader)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(content))

		// Успешная выдача зафиксирована в журнале без повторного хеширования
		records := auditRecords(t, env.vaultLog)
		require.Len(t, records, 1)
		assert.Equal(t, models.OperationRetrieve, records[0].Operation)
		assert.Equal(t, models.StatusSuccess, records[0].Status)
		assert.Empty(t, records[0].SHA256Hash)
	})

	t.Run("Файл не найден", func(t *testing.T) {
		env := newTestEnv(t)
		env.fileStorage.On("DownloadFile", mock.Anything, mock.Anything).
			Return(nil, storage.ErrObjectNotFound).Once()

		_, err := env.service.Retrieve(context.Background(), vaultID, "нет.txt")
		require.ErrorIs(t, err, services.ErrEntryNotFound)

		records := auditRecords(t, env.vaultLog)
		require.Len(t, records, 1)
		assert.Equal(t, models.StatusError, records[0].Status)
	})

	t.Run("Ошибка хранилища", func(t *testing.T) {
		env := newTestEnv(t)
		env.fileStorage.On("DownloadFile", mock.Anything, mock.Anything).
			Return(nil, errors.New("таймаут соединения")).Once()

		_, err := env.service.Retrieve(context.Background(), vaultID, "a.txt")
		require.ErrorIs(t, err, services.ErrStorageUnavailable)
	})

	t.Run("Пустое имя файла", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.service.Retrieve(context.Background(), vaultID, "")
		require.ErrorIs(t, err, services.ErrInvalidFilename)
	})
}

// seedIngest записывает в журнал успешный приём и возвращает vault_id.
func seedIngest(t *testing.T, env *testEnv, filename, hash string) string {
	t.Helper()
	vaultID := uuid.NewString()
	require.NoError(t, env.vaultLog.Append(models.AuditRecord{
		Operation:  models.OperationIngest,
		VaultID:    vaultID,
		Filename:   filename,
		SHA256Hash: hash,
		SizeBytes:  5,
		Status:     models.StatusSuccess,
	}))
	return vaultID
}

func TestVaultService_Verify(t *testing.T) {
	t.Run("Целостность подтверждена", func(t *testing.T) {
		env := newTestEnv(t)
		vaultID := seedIngest(t, env, "a.txt", helloSHA256)
		env.fileStorage.On("DownloadFile", mock.Anything, storage.ObjectKey(vaultID, "a.txt")).
			Return(io.NopCloser(strings.NewReader("hello")), nil).Once()

		result, err := env.service.Verify(context.Background(), vaultID, "a.txt")
		require.NoError(t, err)

		assert.True(t, result.IntegrityVerified)
		assert.Equal(t, helloSHA256, result.OriginalHash)
		assert.Equal(t, helloSHA256, result.CurrentHash)
		assert.Equal(t, int64(5), result.SizeBytes)

		records := verificationRecords(t, env.integrityLog)
		require.Len(t, records, 1)
		assert.Equal(t, models.StatusVerified, records[0].Status)
		require.NotNil(t, records[0].IntegrityVerified)
		assert.True(t, *records[0].IntegrityVerified)
	})

	t.Run("Повреждение обнаружено", func(t *testing.T) {
		env := newTestEnv(t)
		vaultID := seedIngest(t, env, "b.txt", helloSHA256)
		// Объект подменен в обход сервиса
		env.fileStorage.On("DownloadFile", mock.Anything, mock.Anything).
			Return(io.NopCloser(strings.NewReader("испорченные байты")), nil).Once()

		result, err := env.service.Verify(context.Background(), vaultID, "b.txt")
		require.NoError(t, err)

		assert.False(t, result.IntegrityVerified)
		assert.Equal(t, helloSHA256, result.OriginalHash)
		assert.NotEqual(t, result.OriginalHash, result.CurrentHash)

		// Повреждение всегда фиксируется в журнале, а не только в ответе
		records := verificationRecords(t, env.integrityLog)
		require.Len(t, records, 1)
		assert.Equal(t, models.StatusCorrupted, records[0].Status)
		assert.Equal(t, "несовпадение хеша", records[0].Error)
	})

	t.Run("Файл исчез из хранилища", func(t *testing.T) {
		env := newTestEnv(t)
		vaultID := seedIngest(t, env, "c.txt", helloSHA256)
		env.fileStorage.On("DownloadFile", mock.Anything, mock.Anything).
			Return(nil, storage.ErrObjectNotFound).Once()

		// Исчезнувший файл — нарушение целостности, а не ошибка "не найдено"
		result, err := env.service.Verify(context.Background(), vaultID, "c.txt")
		require.NoError(t, err)
		assert.False(t, result.IntegrityVerified)
		assert.Empty(t, result.CurrentHash)

		records := verificationRecords(t, env.integrityLog)
		require.Len(t, records, 1)
		assert.Equal(t, models.StatusCorrupted, records[0].Status)
		assert.Equal(t, "файл отсутствует в хранилище", records[0].Error)
	})

	t.Run("Запись о приёме не найдена", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.service.Verify(context.Background(), uuid.NewString(), "нет.txt")
		require.ErrorIs(t, err, services.ErrEntryNotFound)
	})

	t.Run("Ошибка хранилища", func(t *testing.T) {
		env := newTestEnv(t)
		vaultID := seedIngest(t, env, "d.txt", helloSHA256)
		env.fileStorage.On("DownloadFile", mock.Anything, mock.Anything).
			Return(nil, errors.New("таймаут соединения")).Once()

		_, err := env.service.Verify(context.Background(), vaultID, "d.txt")
		require.ErrorIs(t, err, services.ErrStorageUnavailable)

		records := verificationRecords(t, env.integrityLog)
		require.Len(t, records, 1)
		assert.Equal(t, models.StatusError, records[0].Status)
	})

	t.Run("При повторном приёме побеждает последняя запись", func(t *testing.T) {
		env := newTestEnv(t)
		vaultID := uuid.NewString()
		require.NoError(t, env.vaultLog.Append(models.AuditRecord{
			Operation:  models.OperationIngest,
			VaultID:    vaultID,
			Filename:   "a.txt",
			SHA256Hash: "устаревший-хеш",
			Status:     models.StatusSuccess,
		}))
		require.NoError(t, env.vaultLog.Append(models.AuditRecord{
			Operation:  models.OperationIngest,
			VaultID:    vaultID,
			Filename:   "a.txt",
			SHA256Hash: helloSHA256,
			Status:     models.StatusSuccess,
		}))
		env.fileStorage.On("DownloadFile", mock.Anything, mock.Anything).
			Return(io.NopCloser(strings.NewReader("hello")), nil).Once()

		result, err := env.service.Verify(context.Background(), vaultID, "a.txt")
		require.NoError(t, err)
		assert.True(t, result.IntegrityVerified)
	})
}

func TestVaultService_Metadata(t *testing.T) {
	t.Run("Чтение из журнала", func(t *testing.T) {
		env := newTestEnv(t)
		vaultID := seedIngest(t, env, "a.txt", helloSHA256)

		entry, err := env.service.Metadata(context.Background(), vaultID)
		require.NoError(t, err)
		assert.Equal(t, "a.txt", entry.Filename)
		assert.Equal(t, helloSHA256, entry.SHA256Hash)
	})

	t.Run("Неизвестный vault_id", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.service.Metadata(context.Background(), uuid.NewString())
		require.ErrorIs(t, err, services.ErrEntryNotFound)
	})

	t.Run("Индекс имеет приоритет над журналом", func(t *testing.T) {
		env := newTestEnv(t)
		index := new(MockVaultIndexRepository)
		svc := services.NewVaultService(env.fileStorage, env.vaultLog, env.integrityLog, index)

		vaultID := uuid.NewString()
		index.On("GetEntry", mock.Anything, vaultID).
			Return(&models.VaultEntry{VaultID: vaultID, Filename: "a.txt", SHA256Hash: helloSHA256}, nil).Once()

		entry, err := svc.Metadata(context.Background(), vaultID)
		require.NoError(t, err)
		assert.Equal(t, "a.txt", entry.Filename)
		index.AssertExpectations(t)
	})

	t.Run("Недоступный индекс не блокирует чтение журнала", func(t *testing.T) {
		env := newTestEnv(t)
		index := new(MockVaultIndexRepository)
		svc := services.NewVaultService(env.fileStorage, env.vaultLog, env.integrityLog, index)

		vaultID := seedIngest(t, env, "a.txt", helloSHA256)
		index.On("GetEntry", mock.Anything, vaultID).
			Return(nil, errors.New("соединение с БД потеряно")).Once()

		entry, err := svc.Metadata(context.Background(), vaultID)
		require.NoError(t, err)
		assert.Equal(t, helloSHA256, entry.SHA256Hash)
	})
}

// Сценарий: приём и немедленная выдача возвращают исходные байты.
func TestVaultService_RoundTrip(t *testing.T) {
	env := newTestEnv(t)
	payload := []byte("круговой сценарий: байты должны совпасть в точности")

	var stored bytes.Buffer
	env.fileStorage.On("ObjectExists", mock.Anything, mock.Anything).Return(false, nil).Once()
	env.fileStorage.On("UploadFile", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			reader := args.Get(2).(io.Reader) //nolint:errcheck // Acceptable for mocks
			_, _ = io.Copy(&stored, reader)
		}).
		Return(nil).Once()

	result, err := env.service.Ingest(context.Background(), bytes.NewReader(payload), "round.bin", int64(len(payload)))
	require.NoError(t, err)
	assert.Equal(t, payload, stored.Bytes())

	env.fileStorage.On("DownloadFile", mock.Anything, storage.ObjectKey(result.VaultID, "round.bin")).
		Return(io.NopCloser(bytes.NewReader(stored.Bytes())), nil).Once()

	reader, err := env.service.Retrieve(context.Background(), result.VaultID, "round.bin")
	require.NoError(t, err)
	defer func() { _ = reader.Close() }()

	retrieved, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, payload, retrieved)
}
