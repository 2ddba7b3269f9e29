package constants

import "strings"

const (
	PDF   = "PDF"
	IMAGE = "IMAGE"
)

// AllowedExtensions holds the file extensions accepted for invoice ingestion.
var AllowedExtensions = map[string]struct{}{
	"pdf":  {},
	"jpg":  {},
	"jpeg": {},
	"png":  {},
}

// MaxUploadMB caps multipart uploads on the HTTP API.
const MaxUploadMB = 20

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// NormalizeExtWithDot is NormalizeExt with a leading dot, "" for an empty extension.
func NormalizeExtWithDot(ext string) string {
	if e := NormalizeExt(ext); e != "" {
		return "." + e
	}
	return ""
}

// MapExtToFormat maps a normalized extension to PDF or IMAGE, "" when unsupported.
func MapExtToFormat(ext string) string {
	switch NormalizeExt(ext) {
	case "pdf":
		return PDF
	case "jpg", "jpeg", "png":
		return IMAGE
	}
	return ""
}
