package models

import "time"

// IngestResult — результат успешного приёма файла в хранилище.
type IngestResult struct {
	VaultID    string    `json:"vault_id"`
	Filename   string    `json:"filename"`
	SHA256Hash string    `json:"sha256_hash"`
	SizeBytes  int64     `json:"file_size"`
	Timestamp  time.Time `json:"timestamp"`
}

// VerifyResult — результат проверки целостности одного файла по запросу.
type VerifyResult struct {
	VaultID           string    `json:"vault_id"`
	Filename          string    `json:"filename"`
	OriginalHash      string    `json:"original_hash"`
	CurrentHash       string    `json:"current_hash"`
	IntegrityVerified bool      `json:"integrity_verified"`
	SizeBytes         int64     `json:"file_size"`
	Timestamp         time.Time `json:"timestamp"`
}

// CheckSummary — агрегат одного прохода Integrity Monitor.
type CheckSummary struct {
	TotalFiles     int
	VerifiedFiles  int
	CorruptedFiles int
	ErrorFiles     int
	Duration       time.Duration
}
