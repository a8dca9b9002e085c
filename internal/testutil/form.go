package testutil

import (
	"bytes"
	"mime/multipart"
	"sort"
	"testing"
)

// FormFile is one file part of a multipart form.
type FormFile struct {
	Field string
	Name  string
	Data  []byte
}

// MultipartForm encodes fields and files as a multipart body and returns it
// with its Content-Type.
func MultipartForm(t testing.TB, fields map[string]string, files ...FormFile) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := mw.WriteField(k, fields[k]); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}
	for _, f := range files {
		w, err := mw.CreateFormFile(f.Field, f.Name)
		if err != nil {
			t.Fatalf("create form file %s: %v", f.Field, err)
		}
		if _, err := w.Write(f.Data); err != nil {
			t.Fatalf("write form file %s: %v", f.Field, err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}
