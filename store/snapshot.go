package store

import (
	"io"
)

// Snapshot is an immutable prior version of a Location.
type Snapshot struct {
	ID       string
	Modified int64
	Metadata Metadata
}

// DataWithMetadata is the read projection of a blob: a lazy byte stream
// plus its metadata. The stream must be fully consumed or Close()d.
type DataWithMetadata struct {
	Data     io.ReadCloser
	Metadata Metadata
}

// Close releases the underlying stream. Safe to call on a zero value.
func (d *DataWithMetadata) Close() error {
	if d == nil || d.Data == nil {
		return nil
	}
	return d.Data.Close()
}

// ContentTypeFromExtension offers a best-effort ContentType for callers
// (typically the partition facades) that don't set one explicitly.
func ContentTypeFromExtension(basePath string) string {
	ext := extOf(basePath)
	switch ext {
	case ".json":
		return "application/json"
	case ".txt":
		return "text/plain; charset=utf-8"
	case ".html", ".htm":
		return "text/html; charset=utf-8"
	case ".xml":
		return "application/xml"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

func extOf(basePath string) string {
	for i := len(basePath) - 1; i >= 0; i-- {
		switch basePath[i] {
		case '.':
			return basePath[i:]
		case '/':
			return ""
		}
	}
	return ""
}
