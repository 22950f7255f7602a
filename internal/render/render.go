// Package render turns book pages into a paginated PDF artifact. Two
// renderers exist: headless Chrome printing composited HTML for the
// high-fidelity tiers, and a direct vector renderer for fast previews
// or when Chrome is not installed.
package render

import (
	"context"
	"fmt"
	"strings"

	"bookforge/api/internal/book"
)

// PageRenderer renders the selected pages of a book at the given
// raster resolution.
type PageRenderer interface {
	Render(ctx context.Context, b *book.Book, pages []int, dpi int) ([]byte, error)
}

// Select picks a renderer for the resolution tier. Preview resolutions
// always use the vector renderer; higher tiers use Chrome when it is
// available.
func Select(dpi int) PageRenderer {
	if dpi <= 72 {
		return &VectorRenderer{}
	}
	if chromeAvailable() {
		return &ChromeRenderer{}
	}
	return &VectorRenderer{}
}

// selectPages returns the requested pages in display order, erroring on
// numbers the book does not have.
func selectPages(b *book.Book, pages []int) ([]book.Page, error) {
	out := make([]book.Page, 0, len(pages))
	for _, n := range pages {
		page, ok := b.PageByNumber(n)
		if !ok {
			return nil, fmt.Errorf("page %d not found", n)
		}
		out = append(out, *page)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no pages selected")
	}
	return out, nil
}

// SanitizeFilename creates a safe artifact filename from a book name.
func SanitizeFilename(name string) string {
	var builder strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			builder.WriteRune(r)
		case r == ' ':
			builder.WriteByte('-')
		case r == '-', r == '_':
			builder.WriteRune(r)
		}
	}
	result := builder.String()
	if len(result) > 50 {
		result = result[:50]
	}
	if result == "" {
		result = "book"
	}
	return result
}
