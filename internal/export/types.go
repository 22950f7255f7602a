// Package export manages asynchronous book export jobs: synchronous
// validated submission, worker-side rendering, and terminal status
// notification.
package export

import (
	"fmt"

	"bookforge/api/internal/permission"
)

// Quality selects the rendering tier. Higher tiers are role-gated.
type Quality string

const (
	QualityPreview   Quality = "preview"
	QualityMedium    Quality = "medium"
	QualityPrinting  Quality = "printing"
	QualityExcellent Quality = "excellent"
)

// DPI returns the raster resolution for a quality tier.
func (q Quality) DPI() int {
	switch q {
	case QualityPreview:
		return 72
	case QualityMedium:
		return 150
	case QualityPrinting:
		return 300
	case QualityExcellent:
		return 600
	default:
		return 0
	}
}

// RangeKind selects which pages an export covers.
type RangeKind string

const (
	RangeAll     RangeKind = "all"
	RangeSpan    RangeKind = "range"
	RangeCurrent RangeKind = "current"
)

// Request is an export submission.
type Request struct {
	BookID    string    `json:"bookId"`
	Quality   Quality   `json:"quality"`
	PageRange RangeKind `json:"pageRange"`
	StartPage int       `json:"startPage,omitempty"`
	EndPage   int       `json:"endPage,omitempty"`
	// CurrentPage resolves pageRange=current; supplied by the editor.
	CurrentPage int `json:"currentPage,omitempty"`
}

// ValidationError is a synchronous rejection: no job row exists.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// qualityAllowed gates tiers by role: printing requires at least
// publisher, excellent is admin-only.
func qualityAllowed(role permission.Role, q Quality) bool {
	switch q {
	case QualityPreview, QualityMedium:
		return true
	case QualityPrinting:
		return role == permission.RoleOwner || role == permission.RolePublisher || role == permission.RoleAdmin
	case QualityExcellent:
		return role == permission.RoleAdmin
	default:
		return false
	}
}

// resolvePages expands a validated request into concrete page numbers
// for a book with pageCount pages.
func resolvePages(req Request, pageCount int) []int {
	var start, end int
	switch req.PageRange {
	case RangeSpan:
		start, end = req.StartPage, req.EndPage
	case RangeCurrent:
		start, end = req.CurrentPage, req.CurrentPage
	default:
		start, end = 1, pageCount
	}
	var pages []int
	for n := start; n <= end && n <= pageCount; n++ {
		if n >= 1 {
			pages = append(pages, n)
		}
	}
	return pages
}
