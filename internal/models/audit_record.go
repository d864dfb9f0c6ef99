package models

import "time"

// Виды операций и статусы журнала хранилища.
const (
	OperationIngest   = "ingest"
	OperationRetrieve = "retrieve"

	StatusSuccess = "success"
	StatusError   = "error"
)

// AuditRecord представляет одну запись журнала операций хранилища (vault_log.jsonl).
// Записи только добавляются в конец файла и никогда не изменяются.
type AuditRecord struct {
	Timestamp  time.Time `json:"timestamp"`
	Operation  string    `json:"operation"`
	VaultID    string    `json:"vault_id"`
	Filename   string    `json:"filename"`
	SHA256Hash string    `json:"sha256_hash,omitempty"`
	SizeBytes  int64     `json:"size_bytes,omitempty"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
}
