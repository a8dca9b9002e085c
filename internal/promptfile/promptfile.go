// Package promptfile extracts prompt text from uploaded .txt and .docx files.
package promptfile

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fumiama/go-docx"
	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var (
	// ErrUnsupportedFormat is returned for extensions other than .txt and .docx.
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrCorruptArchive is returned when a .docx is not a readable Word archive.
	ErrCorruptArchive = errors.New("not a valid .docx archive")
)

const documentPart = "word/document.xml"

// Read returns the text of a prompt file. The format is chosen by the
// extension of name, case-insensitively.
func Read(name string, data []byte) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	switch ext {
	case "txt":
		return decodeText(data)
	case "docx":
		return readDocx(data)
	default:
		if ext == "" {
			ext = "(none)"
		}
		return "", fmt.Errorf("%w: %s, upload a .docx or .txt file", ErrUnsupportedFormat, ext)
	}
}

// ReadFile reads a prompt file from disk.
func ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return Read(path, data)
}

// Load is Read with the lenient policy used for uploads: unsupported or
// corrupt files are logged and yield empty text.
func Load(logger *slog.Logger, name string, data []byte) string {
	text, err := Read(name, data)
	if err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("ignoring prompt file", "file", name, "error", err)
		return ""
	}
	return text
}

// decodeText decodes UTF-8, or UTF-16 when a byte order mark says so.
func decodeText(data []byte) (string, error) {
	dec := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	out, _, err := transform.Bytes(dec, data)
	if err != nil {
		return "", fmt.Errorf("failed to decode text: %w", err)
	}
	return string(out), nil
}

func readDocx(data []byte) (string, error) {
	if !isZip(data) {
		return "", ErrCorruptArchive
	}

	doc, err := docx.Parse(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}
	// Parse only fills the document element when word/document.xml exists.
	if doc.Document.XMLName.Local == "" {
		return "", fmt.Errorf("%w: missing %s", ErrCorruptArchive, documentPart)
	}

	var paragraphs []string
	for _, item := range doc.Document.Body.Items {
		if p, ok := item.(*docx.Paragraph); ok {
			paragraphs = append(paragraphs, paragraphText(p))
		}
	}
	return strings.Join(paragraphs, "\n"), nil
}

func isZip(data []byte) bool {
	for m := mimetype.Detect(data); m != nil; m = m.Parent() {
		if m.Is("application/zip") {
			return true
		}
	}
	return false
}

// paragraphText returns the text of a top-level body paragraph, including
// hyperlink text. Tabs and line breaks inside the paragraph are kept;
// drawings are dropped.
func paragraphText(p *docx.Paragraph) string {
	var b strings.Builder
	for _, child := range p.Children {
		switch c := child.(type) {
		case *docx.Run:
			writeRun(&b, c)
		case *docx.Hyperlink:
			writeRun(&b, &c.Run)
		}
	}
	return b.String()
}

func writeRun(b *strings.Builder, r *docx.Run) {
	for _, child := range r.Children {
		switch c := child.(type) {
		case *docx.Text:
			b.WriteString(c.Text)
		case *docx.Tab:
			b.WriteByte('\t')
		case *docx.BarterRabbet:
			b.WriteByte('\n')
		}
	}
}
