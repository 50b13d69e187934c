// Package imageformat names the output encodings the optimizer can produce.
// It has no cgo dependencies so request handling can be built and tested
// without libvips.
package imageformat

import "strings"

type Format string

const (
	AVIF Format = "avif"
	WebP Format = "webp"
	JPEG Format = "jpeg"
	PNG  Format = "png"
	GIF  Format = "gif"
	TIFF Format = "tiff"
)

func (f Format) ContentType() string {
	return "image/" + string(f)
}

// Parse resolves a user supplied format name. "jpg" and "tif" are aliases.
func Parse(s string) (Format, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "avif":
		return AVIF, true
	case "webp":
		return WebP, true
	case "jpeg", "jpg":
		return JPEG, true
	case "png":
		return PNG, true
	case "gif":
		return GIF, true
	case "tiff", "tif":
		return TIFF, true
	}
	return "", false
}

// Supported reports whether f is a canonical format name.
func Supported(f Format) bool {
	switch f {
	case AVIF, WebP, JPEG, PNG, GIF, TIFF:
		return true
	}
	return false
}

// Options describes one output variant. Width 0 keeps the source size.
type Options struct {
	Width   int
	Quality int
	Format  Format
}
