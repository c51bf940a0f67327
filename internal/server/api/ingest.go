package api

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"os"

	"picbin/internal/server/service"

	"github.com/labstack/echo/v4"
)

// sniffLen covers the longest magic prefix we check (RIFF....WEBP).
const sniffLen = 12

// fileFields are the multipart field names accepted for uploads, checked
// in order.
var fileFields = []string{"files[]", "files", "file", "image"}

// sniffImageMime identifies an image type from its leading bytes. The
// client-declared Content-Type is never trusted.
func sniffImageMime(head []byte) (string, bool) {
	switch {
	case len(head) >= 3 && bytes.HasPrefix(head, []byte{0xFF, 0xD8, 0xFF}):
		return "image/jpeg", true
	case bytes.HasPrefix(head, []byte("\x89PNG\r\n\x1a\n")):
		return "image/png", true
	case bytes.HasPrefix(head, []byte("GIF87a")) || bytes.HasPrefix(head, []byte("GIF89a")):
		return "image/gif", true
	case len(head) >= 12 && bytes.HasPrefix(head, []byte("RIFF")) && bytes.Equal(head[8:12], []byte("WEBP")):
		return "image/webp", true
	default:
		return "", false
	}
}

// collectFiles spools every uploaded part to a temp file and sniffs its
// type. The returned cleanup removes any temp file the service did not
// move into place; call it after the service call finishes.
func (h *Handler) collectFiles(c echo.Context) ([]service.FileInput, func(), error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, func() {}, fmt.Errorf("failed to parse multipart form: %w", err)
	}

	var headers []*multipart.FileHeader
	for _, field := range fileFields {
		headers = append(headers, form.File[field]...)
	}

	var inputs []service.FileInput
	var tempPaths []string
	cleanup := func() {
		for _, p := range tempPaths {
			os.Remove(p)
		}
	}

	for _, fh := range headers {
		in, tempPath, err := h.spoolFile(fh)
		if err != nil {
			cleanup()
			return nil, func() {}, err
		}
		tempPaths = append(tempPaths, tempPath)
		inputs = append(inputs, in)
	}
	return inputs, cleanup, nil
}

// spoolFile copies one part to a temp file, bounding the copy just past
// the per-file ceiling so oversized parts are detected without reading
// them whole.
func (h *Handler) spoolFile(fh *multipart.FileHeader) (service.FileInput, string, error) {
	src, err := fh.Open()
	if err != nil {
		return service.FileInput{}, "", fmt.Errorf("failed to open uploaded part: %w", err)
	}
	defer src.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(src, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return service.FileInput{}, "", fmt.Errorf("failed to read uploaded part: %w", err)
	}
	head = head[:n]
	mime, _ := sniffImageMime(head)

	tmp, err := os.CreateTemp("", "picbin-ingest-*")
	if err != nil {
		return service.FileInput{}, "", fmt.Errorf("failed to create spool file: %w", err)
	}
	reader := io.MultiReader(bytes.NewReader(head), src)
	written, err := io.Copy(tmp, io.LimitReader(reader, h.cfg.MaxFileSize+1))
	tmp.Close()
	if err != nil {
		os.Remove(tmp.Name())
		return service.FileInput{}, "", fmt.Errorf("failed to spool uploaded part: %w", err)
	}

	return service.FileInput{
		TempPath:     tmp.Name(),
		OriginalName: fh.Filename,
		Mime:         mime,
		Size:         written,
	}, tmp.Name(), nil
}
