// Package digest вычисляет контрольные суммы содержимого файлов.
// Хеш детерминирован для одинаковых байтов независимо от разбиения потока.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
)

// Digester накапливает SHA-256 и количество пройденных байтов.
// Реализует io.Writer, чтобы считать хеш "на лету" через io.TeeReader
// при загрузке файла в хранилище, не держа содержимое в памяти.
type Digester struct {
	h hash.Hash
	n int64
}

// New создает новый Digester.
func New() *Digester {
	return &Digester{h: sha256.New()}
}

// Write передает очередную порцию байтов в хеш-функцию.
func (d *Digester) Write(p []byte) (int, error) {
	n, err := d.h.Write(p)
	d.n += int64(n)
	return n, err
}

// Sum возвращает hex-представление накопленного SHA-256.
func (d *Digester) Sum() string {
	return hex.EncodeToString(d.h.Sum(nil))
}

// Size возвращает количество пройденных через Digester байтов.
func (d *Digester) Size() int64 {
	return d.n
}

// Sum читает поток до конца и возвращает hex SHA-256 и размер в байтах.
// Единственный источник ошибки — нечитаемый входной поток.
func Sum(r io.Reader) (string, int64, error) {
	d := New()
	n, err := io.Copy(d, r)
	if err != nil {
		return "", n, fmt.Errorf("ошибка чтения потока при вычислении хеша: %w", err)
	}
	return d.Sum(), n, nil
}
