package optimizer

import (
	"errors"
	"math"
	"net/url"
	"strconv"
	"strings"

	"imgopt/internal/imageformat"
)

const (
	MaxWidth       = 2000
	DefaultQuality = 80
	MinQuality     = 1
	MaxQuality     = 100
)

const (
	missingSourceMessage     = "Missing src parameter"
	unsupportedFormatMessage = "Unsupported format parameter"
)

// Format aliases the shared format type so callers of the pipeline need not
// import imageformat for the common cases.
type Format = imageformat.Format

const (
	FormatAVIF = imageformat.AVIF
	FormatWebP = imageformat.WebP
	FormatJPEG = imageformat.JPEG
	FormatPNG  = imageformat.PNG
	FormatGIF  = imageformat.GIF
	FormatTIFF = imageformat.TIFF
)

// ParseFormat resolves an explicit format parameter.
func ParseFormat(s string) (Format, bool) {
	return imageformat.Parse(s)
}

// NegotiateFormat picks the best format the client declares it accepts:
// avif, then webp, then jpeg which every client can display.
func NegotiateFormat(accept string) Format {
	accept = strings.ToLower(accept)
	switch {
	case strings.Contains(accept, "image/avif"):
		return FormatAVIF
	case strings.Contains(accept, "image/webp"):
		return FormatWebP
	default:
		return FormatJPEG
	}
}

// Descriptor is a fully normalized transformation request. Width 0 means the
// image keeps its original size.
type Descriptor struct {
	Source  string
	Width   int
	Quality int
	Format  Format
}

type Limits struct {
	MaxWidth       int
	DefaultQuality int
}

func DefaultLimits() Limits {
	return Limits{MaxWidth: MaxWidth, DefaultQuality: DefaultQuality}
}

// Normalize builds a Descriptor from the query string and Accept header.
// Numeric parameters are parsed leniently: anything that does not start with
// an integer is treated as if it had not been given.
func Normalize(query url.Values, accept string, limits Limits) (Descriptor, error) {
	src := query.Get("src")
	if src == "" {
		return Descriptor{}, &Error{Kind: KindBadRequest, Message: missingSourceMessage}
	}

	d := Descriptor{
		Source:  src,
		Quality: limits.DefaultQuality,
	}

	if w, ok := ParseLenientInt(query.Get("w")); ok && w > 0 {
		d.Width = min(w, limits.MaxWidth)
	}

	if q, ok := ParseLenientInt(query.Get("q")); ok {
		d.Quality = q
	}
	d.Quality = max(MinQuality, min(d.Quality, MaxQuality))

	if raw := query.Get("format"); raw != "" {
		format, ok := ParseFormat(raw)
		if !ok {
			return Descriptor{}, &Error{
				Kind:    KindBadRequest,
				Message: unsupportedFormatMessage,
				Err:     errors.New("unsupported format: " + raw),
			}
		}
		d.Format = format
	} else {
		d.Format = NegotiateFormat(accept)
	}

	return d, nil
}

// ParseLenientInt reads an optional sign and the leading run of digits,
// ignoring leading whitespace and anything after the digits ("300px" is 300).
// A "0x" prefix switches to hexadecimal ("0x10" is 16). Values beyond the
// int32 range saturate.
func ParseLenientInt(s string) (int, bool) {
	s = strings.TrimLeft(s, " \t\n\r\f\v")
	sign := 1
	if s != "" && (s[0] == '+' || s[0] == '-') {
		if s[0] == '-' {
			sign = -1
		}
		s = s[1:]
	}

	base, isDigit := 10, isDecimal
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		base, isDigit = 16, isHex
		s = s[2:]
	}

	end := 0
	for end < len(s) && isDigit(s[end]) {
		end++
	}
	if end == 0 {
		return 0, false
	}

	n, err := strconv.ParseInt(s[:end], base, 32)
	if err != nil {
		// Only ErrRange is possible here since s[:end] holds only digits.
		return sign * math.MaxInt32, true
	}
	return sign * int(n), true
}

func isDecimal(c byte) bool {
	return c >= '0' && c <= '9'
}

func isHex(c byte) bool {
	return isDecimal(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
