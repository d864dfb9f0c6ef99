package models

import "time"

// Типы и статусы записей журнала проверок целостности (integrity_log.jsonl).
const (
	CheckTypeVerification = "integrity_verification"
	CheckTypeSummary      = "integrity_summary"
	CheckTypeFatalError   = "fatal_error"

	StatusVerified  = "verified"
	StatusCorrupted = "corrupted"
	StatusCompleted = "completed"
)

// VerificationRecord представляет результат проверки целостности одного файла.
// Пишется всегда — и при совпадении хешей, и при расхождении: факт повреждения
// должен попасть в журнал, а не только вернуться вызывающему.
type VerificationRecord struct {
	Timestamp         time.Time `json:"timestamp"`
	CheckType         string    `json:"check_type"`
	VaultID           string    `json:"vault_id"`
	Filename          string    `json:"filename"`
	Status            string    `json:"status"`
	OriginalHash      string    `json:"original_hash,omitempty"`
	CurrentHash       string    `json:"current_hash,omitempty"`
	IntegrityVerified *bool     `json:"integrity_verified,omitempty"` // nil, если сравнение не состоялось
	Error             string    `json:"error,omitempty"`
}

// CheckSummaryRecord — итоговая запись одного прохода Integrity Monitor.
type CheckSummaryRecord struct {
	Timestamp       time.Time `json:"timestamp"`
	CheckType       string    `json:"check_type"`
	TotalFiles      int       `json:"total_files"`
	VerifiedFiles   int       `json:"verified_files"`
	CorruptedFiles  int       `json:"corrupted_files"`
	ErrorFiles      int       `json:"error_files"`
	DurationSeconds float64   `json:"check_duration_seconds"`
	Status          string    `json:"status"`
	Error           string    `json:"error,omitempty"`
}
