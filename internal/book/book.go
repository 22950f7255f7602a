// Package book holds the Book aggregate: pages, elements, collaborator
// roles, templates and palettes. Books persist as JSONB documents, so
// every type carries JSON tags.
package book

import "sort"

type PageSize string
type Orientation string

const (
	SizeA4          PageSize = "a4"
	SizeA5          PageSize = "a5"
	SizeSquareSmall PageSize = "square_small"
	SizeSquareLarge PageSize = "square_large"
)

const (
	OrientationPortrait  Orientation = "portrait"
	OrientationLandscape Orientation = "landscape"
)

// Dimensions returns the page width and height in millimeters for a
// size/orientation pair. Unknown sizes fall back to A4.
func Dimensions(size PageSize, orientation Orientation) (width, height float64) {
	switch size {
	case SizeA5:
		width, height = 148, 210
	case SizeSquareSmall:
		width, height = 210, 210
	case SizeSquareLarge:
		width, height = 300, 300
	default:
		width, height = 210, 297
	}
	if orientation == OrientationLandscape && width != height {
		width, height = height, width
	}
	return width, height
}

type Book struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	PageSize    PageSize    `json:"pageSize"`
	Orientation Orientation `json:"orientation"`
	OwnerID     string      `json:"ownerId"`
	Pages       []Page      `json:"pages"`
}

type Page struct {
	ID         string    `json:"id"`
	Number     int       `json:"number"`
	AssignedTo string    `json:"assignedTo,omitempty"`
	Background string    `json:"background,omitempty"`
	Elements   []Element `json:"elements"`
}

// PageAssignment binds a page to the collaborator responsible for it.
// A saved assignment list is also the authoritative page order: the
// position of each entry defines the new page number.
type PageAssignment struct {
	PageID string `json:"pageId"`
	UserID string `json:"userId,omitempty"`
}

// Clone returns a deep copy of the book.
func (b *Book) Clone() *Book {
	if b == nil {
		return nil
	}
	out := *b
	out.Pages = make([]Page, len(b.Pages))
	for i, p := range b.Pages {
		out.Pages[i] = p.Clone()
	}
	return &out
}

// Clone returns a deep copy of the page.
func (p Page) Clone() Page {
	out := p
	out.Elements = make([]Element, len(p.Elements))
	copy(out.Elements, p.Elements)
	return out
}

// PageByNumber returns the page with the given 1-based number.
func (b *Book) PageByNumber(number int) (*Page, bool) {
	for i := range b.Pages {
		if b.Pages[i].Number == number {
			return &b.Pages[i], true
		}
	}
	return nil, false
}

// PageByID returns the page with the given id.
func (b *Book) PageByID(id string) (*Page, bool) {
	for i := range b.Pages {
		if b.Pages[i].ID == id {
			return &b.Pages[i], true
		}
	}
	return nil, false
}

// PageNumbers returns the page numbers in display order.
func (b *Book) PageNumbers() []int {
	numbers := make([]int, len(b.Pages))
	for i, p := range b.Pages {
		numbers[i] = p.Number
	}
	return numbers
}

// Renumber sorts pages by their current number and rewrites the numbers
// into a contiguous 1..N sequence.
func (b *Book) Renumber() {
	sort.SliceStable(b.Pages, func(i, j int) bool {
		return b.Pages[i].Number < b.Pages[j].Number
	})
	for i := range b.Pages {
		b.Pages[i].Number = i + 1
	}
}

// Reorder rearranges and renumbers pages according to the assignment
// list: entry position defines the new page number, and each page's
// assigned collaborator is taken from the entry. Pages missing from the
// list keep their relative order after the listed ones. Element sets are
// preserved untouched.
func (b *Book) Reorder(assignments []PageAssignment) {
	ordered := make([]Page, 0, len(b.Pages))
	seen := make(map[string]bool, len(assignments))
	for _, a := range assignments {
		page, ok := b.PageByID(a.PageID)
		if !ok || seen[a.PageID] {
			continue
		}
		seen[a.PageID] = true
		next := *page
		next.AssignedTo = a.UserID
		ordered = append(ordered, next)
	}
	for _, p := range b.Pages {
		if !seen[p.ID] {
			ordered = append(ordered, p)
		}
	}
	for i := range ordered {
		ordered[i].Number = i + 1
	}
	b.Pages = ordered
}

// AssignedPageNumbers returns the numbers of pages assigned to a user,
// in display order.
func (b *Book) AssignedPageNumbers(userID string) []int {
	var numbers []int
	for _, p := range b.Pages {
		if p.AssignedTo == userID {
			numbers = append(numbers, p.Number)
		}
	}
	return numbers
}
