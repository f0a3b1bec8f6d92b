// Package upload хранит вложения сообщений на локальном диске (в сжатом виде)
// и отдаёт их по имени. Тип файла определяется по содержимому, а не по расширению.
package upload

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/connectly/internal/apperr"
	"github.com/connectly/internal/logger"
	"github.com/connectly/internal/model"
)

// URLPrefix: публичный путь, по которому раздаются загруженные файлы.
const URLPrefix = "/uploads/"

// AllowedTypes: разрешённые типы содержимого.
var AllowedTypes = []string{
	"image/png",
	"image/jpeg",
	"image/webp",
	"image/gif",
	"application/pdf",
	"text/plain",
	"application/zip",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

// Сколько байт читаем для определения типа.
const sniffLen = 3072

var errTooLarge = errors.New("file too large")

// Service сохраняет и раздаёт файлы.
type Service struct {
	Dir     string
	MaxSize int64
}

// New создаёт сервис с заданным каталогом и лимитом размера (в байтах).
func New(dir string, maxSize int64) *Service {
	return &Service{Dir: dir, MaxSize: maxSize}
}

// allowedType возвращает разрешённый тип для mt (с учётом родительских типов), либо "".
func allowedType(mt *mimetype.MIME) string {
	for m := mt; m != nil; m = m.Parent() {
		base := strings.TrimSpace(strings.SplitN(m.String(), ";", 2)[0])
		if lo.Contains(AllowedTypes, base) {
			return base
		}
	}
	return ""
}

// Save сохраняет содержимое src под случайным именем и возвращает описание вложения.
func (s *Service) Save(ctx context.Context, originalName string, src io.Reader) (*model.Attachment, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(src, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("upload.Save read: %w", err)
	}
	head = head[:n]
	if n == 0 {
		return nil, apperr.Validation("file is empty")
	}

	detected := mimetype.Detect(head)
	contentType := allowedType(detected)
	if contentType == "" {
		return nil, apperr.Validation("file type not allowed: " + detected.String())
	}

	// В ряде клиентов пробел в имени кодируется как "+".
	rawName := strings.ReplaceAll(originalName, "+", " ")
	ext := strings.ToLower(filepath.Ext(rawName))
	if ext == "" || ext != safeFilename(ext) {
		ext = detected.Extension()
	}
	newName := uuid.NewString() + ext

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("upload.Save mkdir: %w", err)
	}
	dstPath := filepath.Join(s.Dir, newName+".gz")
	size, err := s.writeCompressed(ctx, dstPath, io.MultiReader(bytes.NewReader(head), src))
	if err != nil {
		os.Remove(dstPath)
		if errors.Is(err, errTooLarge) {
			return nil, apperr.Validation(fmt.Sprintf("file exceeds %d bytes", s.MaxSize))
		}
		return nil, fmt.Errorf("upload.Save: %w", err)
	}

	displayName := safeFilename(filepath.Base(rawName))
	if displayName == "" || displayName == "." {
		displayName = newName
	}
	logger.Debugf("upload saved %s (%s, %d bytes)", newName, contentType, size)
	return &model.Attachment{
		URL:  URLPrefix + newName,
		Name: displayName,
		Type: contentType,
		Size: size,
	}, nil
}

func (s *Service) writeCompressed(ctx context.Context, path string, src io.Reader) (int64, error) {
	dst, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	gz := gzip.NewWriter(dst)
	limited := &limitReader{r: src, left: s.MaxSize}
	size, copyErr := copyWithContext(ctx, gz, limited)
	if err := gz.Close(); err != nil && copyErr == nil {
		copyErr = err
	}
	if err := dst.Close(); err != nil && copyErr == nil {
		copyErr = err
	}
	return size, copyErr
}

// limitReader возвращает errTooLarge, как только прочитано больше left байт.
type limitReader struct {
	r    io.Reader
	left int64
}

func (l *limitReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.left -= int64(n)
	if l.left < 0 {
		return n, errTooLarge
	}
	return n, err
}

// Serve отдаёт файл по имени (разархивирует при отдаче); query name=: оригинальное имя для Content-Disposition.
func (s *Service) Serve(w http.ResponseWriter, r *http.Request, filename string) {
	filename = filepath.Base(filename)
	if filename == "." || filename == "/" || strings.HasPrefix(filename, "..") {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}
	f, err := os.Open(filepath.Join(s.Dir, filename+".gz"))
	if err != nil {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		logger.Errorf("upload serve %s: %v", filename, err)
		http.Error(w, "failed to read file", http.StatusInternalServerError)
		return
	}
	defer gz.Close()

	ct := contentTypeByExt(filepath.Ext(filename))
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if orig := safeFilename(r.URL.Query().Get("name")); orig != "" {
		w.Header().Set("Content-Disposition", "attachment; filename*=UTF-8''"+url.PathEscape(orig))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, gz); err != nil {
		logger.Debugf("upload serve %s: %v", filename, err)
	}
}

func contentTypeByExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".pdf":
		return "application/pdf"
	case ".zip":
		return "application/zip"
	case ".doc":
		return "application/msword"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".txt":
		return "text/plain"
	}
	return ""
}

// safeFilename оставляет имя файла безопасным для Content-Disposition (без управляющих символов и кавычек).
// Поддерживается UTF-8, чтобы сохранять кириллицу и другие языки.
func safeFilename(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '\r', '\n', '"', '\\', '/', '\x00':
			continue
		}
		if unicode.IsPrint(r) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var total int64
	for {
		select {
		case <-ctx.Done():
			return total, fmt.Errorf("upload cancelled: %w", ctx.Err())
		default:
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return total, fmt.Errorf("write: %w", err)
			}
			total += int64(n)
		}
		if readErr == io.EOF {
			return total, nil
		}
		if readErr != nil {
			return total, readErr
		}
	}
}
