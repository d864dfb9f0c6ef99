package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// FileStorage определяет интерфейс для взаимодействия с объектным хранилищем.
type FileStorage interface {
	UploadFile(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error
	DownloadFile(ctx context.Context, objectKey string) (io.ReadCloser, error)
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
	Ping(ctx context.Context) error
}

// Кастомная ошибка хранилища.
var (
	ErrObjectNotFound = errors.New("объект не найден в хранилище")
)

// ObjectKey детерминированно выводит ключ объекта из пары (vault_id, filename).
// Ключ содержит vault_id, поэтому одинаковые имена файлов под разными
// vault_id никогда не пересекаются; отдельная таблица соответствий не нужна.
func ObjectKey(vaultID, filename string) string {
	return fmt.Sprintf("vault/%s/%s", vaultID, filename)
}

// MinioClient реализует FileStorage для MinIO и любого S3-совместимого хранилища.
type MinioClient struct {
	client     *minio.Client
	bucketName string
}

// MinioConfig содержит параметры подключения к объектному хранилищу.
type MinioConfig struct {
	Endpoint        string // Адрес хранилища (например, "localhost:9000")
	AccessKeyID     string // Логин
	SecretAccessKey string // Пароль
	UseSSL          bool   // Использовать SSL (false для локальной разработки)
	BucketName      string // Имя бакета для файлов хранилища
	Region          string // Регион (не обязателен для MinIO)
}

// NewMinioClient создает новый клиент объектного хранилища и гарантирует
// существование бакета.
func NewMinioClient(cfg MinioConfig) (*MinioClient, error) {
	log.Printf("Инициализация клиента MinIO для эндпоинта %s...", cfg.Endpoint)

	minioClient, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации клиента MinIO: %w", err)
	}

	// Проверка существования бакета и создание при необходимости
	ctx := context.Background()
	exists, err := minioClient.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("ошибка проверки существования бакета '%s': %w", cfg.BucketName, err)
	}
	if !exists {
		log.Printf("Бакет '%s' не найден, попытка создания...", cfg.BucketName)
		err = minioClient.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{Region: cfg.Region})
		if err != nil {
			return nil, fmt.Errorf("ошибка создания бакета '%s': %w", cfg.BucketName, err)
		}
		log.Printf("Бакет '%s' успешно создан.", cfg.BucketName)
	}

	log.Printf("Клиент MinIO успешно инициализирован для бакета '%s'.", cfg.BucketName)
	return &MinioClient{
		client:     minioClient,
		bucketName: cfg.BucketName,
	}, nil
}

// UploadFile загружает объект в хранилище.
func (c *MinioClient) UploadFile(
	ctx context.Context,
	objectKey string,
	reader io.Reader,
	size int64,
	contentType string,
) error {
	log.Printf("[Minio] Загрузка объекта '%s' в бакет '%s'...", objectKey, c.bucketName)

	opts := minio.PutObjectOptions{
		ContentType: contentType,
	}

	uploadInfo, err := c.client.PutObject(ctx, c.bucketName, objectKey, reader, size, opts)
	if err != nil {
		log.Printf("[Minio] Ошибка загрузки объекта '%s': %v", objectKey, err)
		return fmt.Errorf("ошибка загрузки объекта в хранилище: %w", err)
	}

	log.Printf("[Minio] Объект '%s' успешно загружен, размер: %d, ETag: %s", objectKey, uploadInfo.Size, uploadInfo.ETag)
	return nil
}

// DownloadFile скачивает объект из хранилища.
// Возвращает io.ReadCloser, который нужно закрыть после использования.
func (c *MinioClient) DownloadFile(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	object, err := c.client.GetObject(ctx, c.bucketName, objectKey, minio.GetObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrObjectNotFound
		}
		log.Printf("[Minio] Ошибка получения объекта '%s': %v", objectKey, err)
		return nil, fmt.Errorf("ошибка получения объекта из хранилища: %w", err)
	}

	// GetObject ленивый: отсутствие объекта проявляется только при чтении,
	// поэтому проверяем метаданные сразу
	if _, err = object.Stat(); err != nil {
		_ = object.Close()
		if isNotFound(err) {
			log.Printf("[Minio] Объект '%s' не найден в бакете '%s'", objectKey, c.bucketName)
			return nil, ErrObjectNotFound
		}
		log.Printf("[Minio] Ошибка получения метаданных объекта '%s': %v", objectKey, err)
		return nil, fmt.Errorf("ошибка получения метаданных объекта: %w", err)
	}

	return object, nil
}

// ObjectExists проверяет наличие объекта по ключу, не скачивая его.
// Используется при приёме как защита от коллизии vault_id: существующий
// объект никогда не перезаписывается молча.
func (c *MinioClient) ObjectExists(ctx context.Context, objectKey string) (bool, error) {
	_, err := c.client.StatObject(ctx, c.bucketName, objectKey, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("ошибка проверки наличия объекта '%s': %w", objectKey, err)
	}
	return true, nil
}

// Ping проверяет доступность хранилища и бакета.
func (c *MinioClient) Ping(ctx context.Context) error {
	exists, err := c.client.BucketExists(ctx, c.bucketName)
	if err != nil {
		return fmt.Errorf("хранилище недоступно: %w", err)
	}
	if !exists {
		return fmt.Errorf("бакет '%s' не существует", c.bucketName)
	}
	return nil
}

// isNotFound распознает ответ хранилища "объект не найден".
func isNotFound(err error) bool {
	var minioErr minio.ErrorResponse
	if errors.As(err, &minioErr) {
		return minioErr.Code == "NoSuchKey" || minioErr.StatusCode == http.StatusNotFound
	}
	return false
}
