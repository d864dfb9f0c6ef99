// Package auditlog реализует append-only журналы в формате JSON Lines.
// Один файл — один журнал; каждая запись занимает ровно одну строку и
// пишется одним системным вызовом, поэтому записи не перемешиваются даже
// при конкурентных обработчиках.
package auditlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/aicara/relay/internal/models"
)

const (
	logFileMode = 0o644
	// Максимальная длина одной строки журнала при чтении.
	maxLineBytes = 1024 * 1024
)

// Ошибки журнала.
var (
	ErrRecordNotFound = errors.New("запись в журнале не найдена")
)

// Log — один append-only журнал, привязанный к файлу.
// Все операции сериализуются мьютексом: писатель один, читатели видят
// только целиком записанные строки.
type Log struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// Open открывает журнал на дозапись, создавая файл при необходимости.
func Open(path string) (*Log, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFileMode)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия журнала '%s': %w", path, err)
	}
	return &Log{path: path, file: file}, nil
}

// Path возвращает путь к файлу журнала.
func (l *Log) Path() string {
	return l.path
}

// Close закрывает файл журнала.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("ошибка закрытия журнала '%s': %w", l.path, err)
	}
	return nil
}

// Append сериализует запись в JSON и дописывает ее одной строкой в конец
// журнала. Строка пишется одним вызовом Write — запись атомарна.
func (l *Log) Append(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("ошибка сериализации записи журнала: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if err = l.flock(); err != nil {
		return err
	}
	defer l.funlock()
	if _, err = l.file.Write(data); err != nil {
		return fmt.Errorf("ошибка записи в журнал '%s': %w", l.path, err)
	}
	return nil
}

// flock берет эксклюзивную advisory-блокировку на файл журнала.
// Мьютекс сериализует только горутины одного процесса; за тот же файл
// конкурируют два процесса (relay дописывает, bastion усекает), и без
// межпроцессной блокировки усечение теряет записи, легшие между чтением
// и перезаписью.
func (l *Log) flock() error {
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("ошибка блокировки журнала '%s': %w", l.path, err)
	}
	return nil
}

func (l *Log) funlock() {
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		log.Printf("[AuditLog] Ошибка снятия блокировки журнала '%s': %v", l.path, err)
	}
}

// Replay последовательно передает строки журнала в fn в порядке записи.
// Вызывать методы этого же Log из fn нельзя — мьютекс уже захвачен.
func (l *Log) Replay(fn func(line []byte) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return replayFile(l.path, fn)
}

func replayFile(path string, fn func(line []byte) error) error {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Пустой журнал — валидное состояние, просто нечего воспроизводить
			return nil
		}
		return fmt.Errorf("ошибка открытия журнала '%s' на чтение: %w", path, err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			log.Printf("[AuditLog] Ошибка закрытия журнала '%s' после чтения: %v", path, closeErr)
		}
	}()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err = fn(line); err != nil {
			return err
		}
	}
	if err = scanner.Err(); err != nil {
		return fmt.Errorf("ошибка чтения журнала '%s': %w", path, err)
	}
	return nil
}

// IngestedEntries восстанавливает из журнала список принятых файлов:
// берутся только успешные записи ingest, для повторяющихся vault_id
// побеждает более поздняя запись. Порядок — по первому появлению vault_id.
func (l *Log) IngestedEntries() ([]models.VaultEntry, error) {
	var entries []models.VaultEntry
	index := make(map[string]int)

	err := l.Replay(func(line []byte) error {
		var rec models.AuditRecord
		if jsonErr := json.Unmarshal(line, &rec); jsonErr != nil {
			// Оборванная строка после сбоя не должна блокировать воспроизведение
			log.Printf("[AuditLog] Пропущена нечитаемая строка журнала '%s': %v", l.path, jsonErr)
			return nil
		}
		if rec.Operation != models.OperationIngest || rec.Status != models.StatusSuccess {
			return nil
		}
		entry := models.VaultEntry{
			VaultID:    rec.VaultID,
			Filename:   rec.Filename,
			SHA256Hash: rec.SHA256Hash,
			SizeBytes:  rec.SizeBytes,
			IngestedAt: rec.Timestamp,
		}
		if i, ok := index[rec.VaultID]; ok {
			entries[i] = entry
			return nil
		}
		index[rec.VaultID] = len(entries)
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// FindIngest возвращает последнюю успешную запись ingest для пары
// (vault_id, filename). Если записей нет — ErrRecordNotFound.
func (l *Log) FindIngest(vaultID, filename string) (*models.VaultEntry, error) {
	var found *models.VaultEntry

	err := l.Replay(func(line []byte) error {
		var rec models.AuditRecord
		if jsonErr := json.Unmarshal(line, &rec); jsonErr != nil {
			log.Printf("[AuditLog] Пропущена нечитаемая строка журнала '%s': %v", l.path, jsonErr)
			return nil
		}
		if rec.Operation != models.OperationIngest ||
			rec.Status != models.StatusSuccess ||
			rec.VaultID != vaultID ||
			rec.Filename != filename {
			return nil
		}
		found = &models.VaultEntry{
			VaultID:    rec.VaultID,
			Filename:   rec.Filename,
			SHA256Hash: rec.SHA256Hash,
			SizeBytes:  rec.SizeBytes,
			IngestedAt: rec.Timestamp,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrRecordNotFound
	}
	return found, nil
}

// TrimTo оставляет в журнале только keep последних записей. Применяется
// оператором к журналу проверок, чтобы он не рос бесконечно; журнал приёма
// никогда не обрезается — он единственный источник истины о хранилище.
func (l *Log) TrimTo(keep int) error {
	if keep <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	// Блокировка держится от чтения до перезаписи: конкурирующий процесс
	// не может дописать запись, которую перезапись молча потеряла бы
	if err := l.flock(); err != nil {
		return err
	}
	defer l.funlock()

	var lines [][]byte
	err := replayFile(l.path, func(line []byte) error {
		lines = append(lines, append([]byte(nil), line...))
		return nil
	})
	if err != nil {
		return err
	}
	if len(lines) <= keep {
		return nil
	}

	var buf bytes.Buffer
	for _, line := range lines[len(lines)-keep:] {
		buf.Write(line)
		buf.WriteByte('\n')
	}
	// Перезапись идет по тому же пути с O_TRUNC, инод сохраняется: у
	// процесса relay файл открыт с O_APPEND, и его следующая запись ляжет
	// в конец усеченного файла. Замена файла через rename оставила бы
	// чужой дескриптор на отвязанном иноде, и журнал молча расходился бы.
	if err = os.WriteFile(l.path, buf.Bytes(), logFileMode); err != nil {
		return fmt.Errorf("ошибка усечения журнала '%s': %w", l.path, err)
	}
	log.Printf("[AuditLog] Журнал '%s' усечен до %d последних записей", l.path, keep)
	return nil
}
