package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/aicara/relay/internal/models"
	"github.com/aicara/relay/internal/services"
)

const (
	serviceName    = "aicara-relay"
	serviceVersion = "1.0.0"

	// Предел размера принимаемого файла.
	maxUploadBytes = 100 << 20 // 100 MiB

	// Память под разбор multipart-формы, остальное уходит во временные файлы.
	multipartMemory = 32 << 20
)

// VaultHandler обрабатывает HTTP-запросы, связанные с хранилищем.
type VaultHandler struct {
	vaultService services.VaultService
}

// NewVaultHandler создает новый экземпляр VaultHandler.
func NewVaultHandler(vs services.VaultService) *VaultHandler {
	return &VaultHandler{vaultService: vs}
}

// ingestResponse — тело ответа на успешный приём файла.
type ingestResponse struct {
	Status     string    `json:"status"`
	VaultID    string    `json:"vault_id"`
	Filename   string    `json:"filename"`
	SHA256Hash string    `json:"sha256_hash"`
	FileSize   int64     `json:"file_size"`
	Timestamp  time.Time `json:"timestamp"`
}

// healthResponse — тело ответа проверки живости.
type healthResponse struct {
	Status    string    `json:"status"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

// Health обрабатывает GET / — проверка живости сервиса.
func (h *VaultHandler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "operational",
		Service:   serviceName,
		Version:   serviceVersion,
		Timestamp: time.Now().UTC(),
	})
}

// Ingest обрабатывает POST /ingest: принимает файл из multipart-поля "file".
func (h *VaultHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			log.Printf("[VaultHandler:Ingest] Превышен допустимый размер файла: %v", err)
			http.Error(w, "Размер файла превышает допустимый предел", http.StatusRequestEntityTooLarge)
			return
		}
		log.Printf("[VaultHandler:Ingest] Ошибка разбора multipart-формы: %v", err)
		http.Error(w, "Файл не передан", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		log.Printf("[VaultHandler:Ingest] Поле 'file' отсутствует в запросе: %v", err)
		http.Error(w, "Файл не передан", http.StatusBadRequest)
		return
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			log.Printf("[VaultHandler:Ingest] Ошибка закрытия файла запроса: %v", closeErr)
		}
	}()

	result, err := h.vaultService.Ingest(r.Context(), file, header.Filename, header.Size)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidFilename), errors.Is(err, services.ErrNoPayload):
			log.Printf("[VaultHandler:Ingest] Отклонен некорректный запрос: %v", err)
			http.Error(w, "Недопустимое имя файла или пустой файл", http.StatusBadRequest)
		default:
			log.Printf("[VaultHandler:Ingest] Ошибка приёма файла '%s': %v", header.Filename, err)
			http.Error(w, "Ошибка сохранения файла в хранилище", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, ingestResponse{
		Status:     models.StatusSuccess,
		VaultID:    result.VaultID,
		Filename:   result.Filename,
		SHA256Hash: result.SHA256Hash,
		FileSize:   result.SizeBytes,
		Timestamp:  result.Timestamp,
	})
}

// Retrieve обрабатывает GET /vault/{vaultID}?filename=... — отдает байты файла.
// С параметром metadata_only=true возвращает метаданные из журнала приёма.
func (h *VaultHandler) Retrieve(w http.ResponseWriter, r *http.Request) {
	vaultID := chi.URLParam(r, "vaultID")
	if _, err := uuid.Parse(vaultID); err != nil {
		http.Error(w, "Некорректный формат vault_id", http.StatusBadRequest)
		return
	}

	if r.URL.Query().Get("metadata_only") == "true" {
		h.metadata(w, r, vaultID)
		return
	}

	filename := r.URL.Query().Get("filename")
	if filename == "" {
		http.Error(w, "Для скачивания требуется параметр filename", http.StatusBadRequest)
		return
	}

	fileReader, err := h.vaultService.Retrieve(r.Context(), vaultID, filename)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrEntryNotFound):
			log.Printf("[VaultHandler:Retrieve] Файл %s/%s не найден", vaultID, filename)
			http.Error(w, "Файл не найден в хранилище", http.StatusNotFound)
		case errors.Is(err, services.ErrInvalidFilename):
			http.Error(w, "Недопустимое имя файла", http.StatusBadRequest)
		default:
			log.Printf("[VaultHandler:Retrieve] Ошибка выдачи файла %s/%s: %v", vaultID, filename, err)
			http.Error(w, "Внутренняя ошибка сервера при скачивании файла", http.StatusInternalServerError)
		}
		return
	}
	defer func() {
		if closeErr := fileReader.Close(); closeErr != nil {
			log.Printf("[VaultHandler:Retrieve] Ошибка закрытия fileReader: %v", closeErr)
		}
	}()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Type", "application/octet-stream")

	// Отключение клиента отменяет r.Context() и прерывает чтение из хранилища
	if _, err = io.Copy(w, fileReader); err != nil {
		log.Printf("[VaultHandler:Retrieve] Ошибка передачи файла %s/%s клиенту: %v", vaultID, filename, err)
		return
	}
}

// metadata возвращает сведения о приёме файла без его содержимого.
func (h *VaultHandler) metadata(w http.ResponseWriter, r *http.Request, vaultID string) {
	entry, err := h.vaultService.Metadata(r.Context(), vaultID)
	if err != nil {
		if errors.Is(err, services.ErrEntryNotFound) {
			http.Error(w, "Запись о приёме не найдена", http.StatusNotFound)
		} else {
			log.Printf("[VaultHandler:Retrieve] Ошибка чтения метаданных %s: %v", vaultID, err)
			http.Error(w, "Внутренняя ошибка сервера", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// Verify обрабатывает GET /vault/{vaultID}/verify?filename=... — проверка
// целостности файла по запросу.
func (h *VaultHandler) Verify(w http.ResponseWriter, r *http.Request) {
	vaultID := chi.URLParam(r, "vaultID")
	if _, err := uuid.Parse(vaultID); err != nil {
		http.Error(w, "Некорректный формат vault_id", http.StatusBadRequest)
		return
	}

	filename := r.URL.Query().Get("filename")
	if filename == "" {
		http.Error(w, "Для проверки требуется параметр filename", http.StatusBadRequest)
		return
	}

	result, err := h.vaultService.Verify(r.Context(), vaultID, filename)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrEntryNotFound):
			log.Printf("[VaultHandler:Verify] Запись о приёме %s/%s не найдена", vaultID, filename)
			http.Error(w, "Запись о приёме не найдена", http.StatusNotFound)
		case errors.Is(err, services.ErrInvalidFilename):
			http.Error(w, "Недопустимое имя файла", http.StatusBadRequest)
		default:
			log.Printf("[VaultHandler:Verify] Ошибка проверки %s/%s: %v", vaultID, filename, err)
			http.Error(w, "Внутренняя ошибка сервера при проверке файла", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// writeJSON сериализует v в тело ответа с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[VaultHandler] Ошибка кодирования ответа: %v", err)
	}
}
