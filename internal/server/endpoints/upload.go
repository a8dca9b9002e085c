package endpoints

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/maiteclab/sheetgpt/internal/promptfile"
)

// maxUploadMemory bounds the in-memory part of a multipart form; larger
// parts spill to temporary files.
const maxUploadMemory = 32 << 20

// maxUploadSize bounds a whole request body.
const maxUploadSize = 100 << 20

// parseForm parses a multipart form, writing a 400 on failure.
func parseForm(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to parse form: %v", err))
		return false
	}
	return true
}

// formFile reads an uploaded file. ok is false when the field is absent.
func formFile(r *http.Request, field string) (data []byte, name string, ok bool, err error) {
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, "", false, nil
	}
	if err != nil {
		return nil, "", false, fmt.Errorf("failed to read %s: %w", field, err)
	}
	defer file.Close()

	data, err = io.ReadAll(file)
	if err != nil {
		return nil, "", false, fmt.Errorf("failed to read %s: %w", field, err)
	}
	return data, filepath.Base(header.Filename), true, nil
}

// formPrompt returns a prompt from either a text field or an uploaded
// .txt/.docx file. The text field wins. Unreadable files are logged and
// treated as empty. set reports whether either field was supplied.
func formPrompt(r *http.Request, textField, fileField string, logger *slog.Logger) (text string, set bool, err error) {
	if vals, ok := r.MultipartForm.Value[textField]; ok && len(vals) > 0 {
		return vals[0], true, nil
	}
	data, name, ok, err := formFile(r, fileField)
	if err != nil || !ok {
		return "", false, err
	}
	return promptfile.Load(logger, name, data), true, nil
}

// cleanupForm removes temporary files left by ParseMultipartForm.
func cleanupForm(r *http.Request, logger *slog.Logger) {
	if r.MultipartForm == nil {
		return
	}
	if err := r.MultipartForm.RemoveAll(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to remove upload temp files", "error", err)
	}
}
