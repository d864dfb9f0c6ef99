package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aicara/relay/internal/auditlog"
	"github.com/aicara/relay/internal/models"
	"github.com/aicara/relay/internal/storage"
)

// Эталонный SHA-256 строки "hello".
const helloSHA256 = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

// mapFileStorage — хранилище в памяти для сквозного теста прохода.
type mapFileStorage struct {
	objects map[string][]byte
}

func (s *mapFileStorage) UploadFile(_ context.Context, key string, reader io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	s.objects[key] = data
	return nil
}

func (s *mapFileStorage) DownloadFile(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := s.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *mapFileStorage) ObjectExists(_ context.Context, key string) (bool, error) {
	_, ok := s.objects[key]
	return ok, nil
}

func (s *mapFileStorage) Ping(_ context.Context) error {
	return nil
}

// Вспомогательная функция для сброса флагов между тестами.
func resetFlags() {
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)
}

func TestParseFlags(t *testing.T) {
	originalArgs := os.Args

	t.Run("Значения по умолчанию", func(t *testing.T) {
		resetFlags()
		defer func() { os.Args = originalArgs }()
		os.Args = []string{"bastion"}

		cfg, err := parseFlags()
		require.NoError(t, err)
		assert.Equal(t, defaultMinioEndpoint, cfg.MinioEndpoint)
		assert.Equal(t, defaultMinioBucket, cfg.MinioBucket)
		assert.Equal(t, defaultVaultLogFile, cfg.VaultLogFile)
		assert.Equal(t, defaultIntegrityLog, cfg.IntegrityLogFile)
		assert.Equal(t, defaultKeepRecords, cfg.KeepRecords)
	})

	t.Run("Параметры из флагов", func(t *testing.T) {
		resetFlags()
		defer func() { os.Args = originalArgs }()
		os.Args = []string{
			"bastion",
			"-minio-bucket=prod-vault",
			"-vault-log=/var/log/vault.jsonl",
			"-keep=500",
		}

		cfg, err := parseFlags()
		require.NoError(t, err)
		assert.Equal(t, "prod-vault", cfg.MinioBucket)
		assert.Equal(t, "/var/log/vault.jsonl", cfg.VaultLogFile)
		assert.Equal(t, 500, cfg.KeepRecords)
	})

	t.Run("Усечение журнала отключается нулем", func(t *testing.T) {
		resetFlags()
		defer func() { os.Args = originalArgs }()
		os.Args = []string{"bastion", "-keep=0"}

		cfg, err := parseFlags()
		require.NoError(t, err)
		assert.Equal(t, 0, cfg.KeepRecords)
	})

	t.Run("Отрицательное значение keep", func(t *testing.T) {
		resetFlags()
		defer func() { os.Args = originalArgs }()
		os.Args = []string{"bastion", "-keep=-1"}

		_, err := parseFlags()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "не может быть отрицательным")
	})
}

// Сквозной тест: один проход по журналу приёма с файлом в хранилище.
func TestRun_SinglePass(t *testing.T) {
	originalArgs := os.Args
	originalNewFileStorage := newFileStorage
	defer func() {
		os.Args = originalArgs
		newFileStorage = originalNewFileStorage
	}()

	dir := t.TempDir()
	vaultLogPath := filepath.Join(dir, "vault_log.jsonl")
	integrityLogPath := filepath.Join(dir, "integrity_log.jsonl")

	// Подготавливаем журнал приёма и содержимое хранилища
	vaultID := uuid.NewString()
	vaultLog, err := auditlog.Open(vaultLogPath)
	require.NoError(t, err)
	require.NoError(t, vaultLog.Append(models.AuditRecord{
		Timestamp:  time.Now().UTC(),
		Operation:  models.OperationIngest,
		VaultID:    vaultID,
		Filename:   "a.txt",
		SHA256Hash: helloSHA256,
		SizeBytes:  5,
		Status:     models.StatusSuccess,
	}))
	require.NoError(t, vaultLog.Close())

	fakeStorage := &mapFileStorage{objects: map[string][]byte{
		storage.ObjectKey(vaultID, "a.txt"): []byte("hello"),
	}}
	newFileStorage = func(_ storage.MinioConfig) (storage.FileStorage, error) {
		return fakeStorage, nil
	}

	resetFlags()
	os.Args = []string{
		"bastion",
		"-vault-log=" + vaultLogPath,
		"-integrity-log=" + integrityLogPath,
	}

	require.NoError(t, run())

	// Журнал проверок: запись по файлу и итоговая запись прохода
	data, err := os.ReadFile(integrityLogPath)
	require.NoError(t, err)
	lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
	require.Len(t, lines, 2)

	var verification models.VerificationRecord
	require.NoError(t, json.Unmarshal(lines[0], &verification))
	assert.Equal(t, models.CheckTypeVerification, verification.CheckType)
	assert.Equal(t, vaultID, verification.VaultID)
	assert.Equal(t, models.StatusVerified, verification.Status)

	var summary models.CheckSummaryRecord
	require.NoError(t, json.Unmarshal(lines[1], &summary))
	assert.Equal(t, models.CheckTypeSummary, summary.CheckType)
	assert.Equal(t, 1, summary.TotalFiles)
	assert.Equal(t, 1, summary.VerifiedFiles)
	assert.Equal(t, 0, summary.CorruptedFiles)
}
