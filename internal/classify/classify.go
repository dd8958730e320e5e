// Package classify derives the closed file category used by the quota ledger.
package classify

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Category is the closed classification of a stored file.
type Category string

const (
	Image    Category = "image"
	Video    Category = "video"
	Audio    Category = "audio"
	Document Category = "document"
	Other    Category = "other"
)

var documentExtensions = map[string]struct{}{
	"pdf": {}, "doc": {}, "docx": {}, "txt": {},
	"xls": {}, "xlsx": {}, "ppt": {}, "pptx": {},
}

// Categories returns every category in display order.
func Categories() []Category {
	return []Category{Image, Video, Audio, Document, Other}
}

// Classify maps a MIME type and file name onto a category. The MIME primary
// type wins for media; otherwise the extension decides between document and other.
func Classify(mimeType, fileName string) Category {
	primary, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(mimeType)), "/")
	switch primary {
	case "image":
		return Image
	case "video":
		return Video
	case "audio":
		return Audio
	}

	if _, ok := documentExtensions[Extension(fileName)]; ok {
		return Document
	}
	return Other
}

// Extension returns the lowercased extension of name without the leading dot.
func Extension(name string) string {
	ext := filepath.Ext(strings.TrimSpace(name))
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// Parse validates a category string.
func Parse(value string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(value)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", value)
	}
	return c, nil
}

// Valid reports whether c is part of the enumeration.
func (c Category) Valid() bool {
	switch c {
	case Image, Video, Audio, Document, Other:
		return true
	}
	return false
}

func (c Category) String() string { return string(c) }
