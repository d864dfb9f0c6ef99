package models

import "time"

// VaultEntry представляет запись о принятом файле. Отдельного каталога
// нет — запись восстанавливается из журнала приёма (последняя успешная
// запись ingest для данного vault_id) либо из необязательного индекса в БД.
// После создания запись никогда не изменяется: sha256_hash, вычисленный при
// приёме, служит эталоном для всех последующих проверок.
type VaultEntry struct {
	VaultID    string    `db:"vault_id" json:"vault_id"`
	Filename   string    `db:"filename" json:"filename"`
	SHA256Hash string    `db:"sha256_hash" json:"sha256_hash"`
	SizeBytes  int64     `db:"size_bytes" json:"size_bytes"`
	IngestedAt time.Time `db:"ingested_at" json:"ingested_at"`
}
