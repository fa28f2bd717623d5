// Package status renders the current track as a byte-bounded status line.
package status

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// Ellipsis marks a truncated string.
	Ellipsis = "[…]"

	DefaultMaxBytes       = 128
	DefaultMinArtistBytes = 30
	DefaultSeparator      = " — "
	DefaultPlaceholder    = "[unknown]"
)

var ErrInvalidBudget = errors.New("status: invalid byte budget")

// Truncate shortens s to at most maxBytes bytes of UTF-8, ending in Ellipsis
// when anything was cut. A trailing partial word is dropped when an earlier
// word boundary exists; otherwise the cut falls mid-word. A multi-byte
// character split by the cut is dropped.
//
// Truncate panics if maxBytes < len(Ellipsis).
func Truncate(s string, maxBytes int) string {
	available := maxBytes - len(Ellipsis)
	if available < 0 {
		panic(fmt.Sprintf("status: max bytes %d below %d", maxBytes, len(Ellipsis)))
	}
	if len(s) <= maxBytes {
		return s
	}

	prefix := strings.ToValidUTF8(s[:available], "")
	if last, _ := utf8.DecodeLastRuneInString(prefix); prefix != "" && !unicode.IsSpace(last) {
		if i := strings.LastIndexFunc(prefix, unicode.IsSpace); i >= 0 {
			if head := strings.TrimRightFunc(prefix[:i], unicode.IsSpace); head != "" {
				prefix = head + " "
			}
		}
	}
	return prefix + Ellipsis
}

// Formatter builds "artist — title" lines within MaxBytes.
type Formatter struct {
	MaxBytes       int
	MinArtistBytes int
	Separator      string
	Placeholder    string
}

// Default returns the formatter used when nothing is configured.
func Default() Formatter {
	return Formatter{
		MaxBytes:       DefaultMaxBytes,
		MinArtistBytes: DefaultMinArtistBytes,
		Separator:      DefaultSeparator,
		Placeholder:    DefaultPlaceholder,
	}
}

// Validate checks that every input can be formatted within the budget.
func (f Formatter) Validate() error {
	available := f.MaxBytes - len(f.Separator)
	if f.MinArtistBytes < len(Ellipsis) {
		return fmt.Errorf("%w: min artist bytes %d below ellipsis length %d", ErrInvalidBudget, f.MinArtistBytes, len(Ellipsis))
	}
	if available-f.MinArtistBytes < len(Ellipsis) {
		return fmt.Errorf("%w: %d bytes leave no room for a title", ErrInvalidBudget, f.MaxBytes)
	}
	if f.Placeholder == "" || strings.TrimSpace(f.Placeholder) == "" {
		return fmt.Errorf("%w: placeholder must not be blank", ErrInvalidBudget)
	}
	return nil
}

// Format renders artist and title. Blank values become the placeholder. When
// the line is too long the artist is shortened first, but not below
// MinArtistBytes; the title absorbs whatever is still over budget.
func (f Formatter) Format(artist, title string) string {
	available := f.MaxBytes - len(f.Separator)

	artist = strings.TrimSpace(artist)
	if artist == "" {
		artist = f.Placeholder
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = f.Placeholder
	}

	left := available - len(artist) - len(title)
	if left < 0 {
		if len(artist) > f.MinArtistBytes {
			artist = Truncate(artist, max(f.MinArtistBytes, len(artist)+left))
			left = available - len(artist) - len(title)
		}
		if left < 0 {
			title = Truncate(title, len(title)+left)
		}
	}
	return artist + f.Separator + title
}

// Format renders with the default formatter.
func Format(artist, title string) string {
	return Default().Format(artist, title)
}
