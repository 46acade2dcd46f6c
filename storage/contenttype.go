package storage

import (
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// extensionContentTypes covers extensions the sniffing library cannot
// resolve from content alone, including ontology formats used by data
// pipelines.
var extensionContentTypes = map[string]string{
	".owl":  "application/rdf+xml",
	".ttl":  "text/turtle",
	".md":   "text/markdown",
	".csv":  "text/csv",
	".json": "application/json",
	".yaml": "application/x-yaml",
	".yml":  "application/x-yaml",
	".sql":  "application/sql",
	".log":  "text/plain",
	".txt":  "text/plain",
}

// detectContentType resolves a content type from the object key extension.
func (c *Client) detectContentType(key string) string {
	ext := strings.ToLower(filepath.Ext(key))
	if ct, ok := extensionContentTypes[ext]; ok {
		return ct
	}
	if mt := mimetype.Lookup(extensionMIMEProbe(ext)); mt != nil {
		return mt.String()
	}
	return "application/octet-stream"
}

// detectFileContentType sniffs a local file's content type, preferring the
// extension table for formats the sniffer reports too generically.
func (c *Client) detectFileContentType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ct, ok := extensionContentTypes[ext]; ok {
		return ct
	}

	data, err := c.fs.ReadFile(path)
	if err != nil || len(data) == 0 {
		return c.detectContentType(path)
	}
	if len(data) > 3072 {
		data = data[:3072]
	}
	return mimetype.Detect(data).String()
}

// extensionMIMEProbe maps common extensions onto canonical MIME strings the
// sniffing library can look up directly.
func extensionMIMEProbe(ext string) string {
	switch ext {
	case ".pdf":
		return "application/pdf"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".mp3":
		return "audio/mpeg"
	case ".mp4":
		return "video/mp4"
	case ".wav":
		return "audio/wav"
	case ".zip":
		return "application/zip"
	case ".gz":
		return "application/gzip"
	case ".html", ".htm":
		return "text/html"
	case ".xml":
		return "text/xml"
	default:
		return ""
	}
}
