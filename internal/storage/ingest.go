package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"pinlite/internal/domain"
)

// Размер чанка при потоковом чтении загрузки
const chunkSize = 64 * 1024

// IngestResult — результат приёма потока: дайджест, размер, определённый
// по содержимому MIME-тип и путь staging-файла, которым дальше владеет
// вызывающий.
type IngestResult struct {
	Digest      string
	SizeBytes   int64
	MIMEType    string
	StagingPath string
}

// IngestStream читает поток ровно один раз: каждый чанк обновляет SHA-256,
// прибавляется к счётчику размера и пишется в staging-файл с уникальным
// именем. Превышение потолка обрывает чтение сразу, не дочитывая поток.
// Тип контента определяется по байтам файла, а не по заголовкам клиента.
// При любой ошибке staging-файл удаляется до возврата.
func (c *CAS) IngestStream(stream io.Reader, maxSize int64) (*IngestResult, error) {
	stagingPath := filepath.Join(c.TempDir(), fmt.Sprintf("upload_%s.tmp", uuid.New()))

	out, err := os.OpenFile(stagingPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create staging file: %w", err)
	}

	cleanup := func() {
		out.Close()
		if removeErr := os.Remove(stagingPath); removeErr != nil && !os.IsNotExist(removeErr) {
			// Осиротевший staging-файл подберёт фоновая очистка temp-каталога
			log.Printf("warning: failed to remove staging file %s: %v", stagingPath, removeErr)
		}
	}

	hasher := sha256.New()
	buf := make([]byte, chunkSize)
	var size int64

	for {
		n, readErr := stream.Read(buf)
		if n > 0 {
			size += int64(n)
			if size > maxSize {
				cleanup()
				return nil, domain.NewValidationError("File too large. Max size is %d bytes.", maxSize)
			}
			hasher.Write(buf[:n])
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				cleanup()
				return nil, fmt.Errorf("failed to write staging file: %w", writeErr)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			cleanup()
			return nil, fmt.Errorf("failed to read upload stream: %w", readErr)
		}
	}

	if err := out.Close(); err != nil {
		os.Remove(stagingPath)
		return nil, fmt.Errorf("failed to close staging file: %w", err)
	}

	mtype, err := mimetype.DetectFile(stagingPath)
	if err != nil {
		os.Remove(stagingPath)
		return nil, fmt.Errorf("failed to detect content type: %w", err)
	}

	detected := mtype.String()
	if _, ok := MIMEExtensions[detected]; !ok {
		os.Remove(stagingPath)
		return nil, domain.NewValidationError(
			"Invalid file type: %s. Allowed: %s", detected, strings.Join(AllowedMIMETypes(), ", "))
	}

	return &IngestResult{
		Digest:      hex.EncodeToString(hasher.Sum(nil)),
		SizeBytes:   size,
		MIMEType:    detected,
		StagingPath: stagingPath,
	}, nil
}
