package document

import (
	"fmt"

	"bookforge/api/internal/book"
)

// Command is one forward mutation of the book. Applying a command
// returns its inverse, which the store records for undo. TargetPage
// names the page a mutation addresses for permission gating; zero means
// the command is book-scoped.
type Command interface {
	Name() string
	TargetPage() int
	apply(s *Store) (Command, error)
}

type AddPage struct {
	// Number is the 1-based position the new page takes; zero or out of
	// range appends.
	Number int
	Page   book.Page
}

func (c AddPage) Name() string    { return "add_page" }
func (c AddPage) TargetPage() int { return 0 }

func (c AddPage) apply(s *Store) (Command, error) {
	b := s.book
	number := c.Number
	if number < 1 || number > len(b.Pages)+1 {
		number = len(b.Pages) + 1
	}
	page := c.Page.Clone()
	page.Number = number
	b.Pages = append(b.Pages, book.Page{})
	copy(b.Pages[number:], b.Pages[number-1:])
	b.Pages[number-1] = page
	for i := range b.Pages {
		b.Pages[i].Number = i + 1
	}
	return DeletePage{Number: number}, nil
}

type DeletePage struct {
	Number int
}

func (c DeletePage) Name() string    { return "delete_page" }
func (c DeletePage) TargetPage() int { return c.Number }

func (c DeletePage) apply(s *Store) (Command, error) {
	b := s.book
	page, ok := b.PageByNumber(c.Number)
	if !ok {
		return nil, fmt.Errorf("page %d not found", c.Number)
	}
	removed := page.Clone()
	b.Pages = append(b.Pages[:c.Number-1], b.Pages[c.Number:]...)
	for i := range b.Pages {
		b.Pages[i].Number = i + 1
	}
	return AddPage{Number: removed.Number, Page: removed}, nil
}

type AddElement struct {
	PageNumber int
	Element    book.Element
	// Index is the insert position; out-of-range values append. Undo of
	// a delete restores the element at its former index.
	Index int
}

func (c AddElement) Name() string    { return "add_element" }
func (c AddElement) TargetPage() int { return c.PageNumber }

func (c AddElement) apply(s *Store) (Command, error) {
	page, ok := s.book.PageByNumber(c.PageNumber)
	if !ok {
		return nil, fmt.Errorf("page %d not found", c.PageNumber)
	}
	page.InsertElement(c.Element, c.Index)
	return DeleteElement{PageNumber: c.PageNumber, ElementID: c.Element.ID}, nil
}

type UpdateElement struct {
	PageNumber int
	Element    book.Element
}

func (c UpdateElement) Name() string    { return "update_element" }
func (c UpdateElement) TargetPage() int { return c.PageNumber }

func (c UpdateElement) apply(s *Store) (Command, error) {
	page, ok := s.book.PageByNumber(c.PageNumber)
	if !ok {
		return nil, fmt.Errorf("page %d not found", c.PageNumber)
	}
	previous, i, ok := page.ElementByID(c.Element.ID)
	if !ok {
		return nil, fmt.Errorf("element %s not found on page %d", c.Element.ID, c.PageNumber)
	}
	page.Elements[i] = c.Element
	return UpdateElement{PageNumber: c.PageNumber, Element: previous}, nil
}

type DeleteElement struct {
	PageNumber int
	ElementID  string
}

func (c DeleteElement) Name() string    { return "delete_element" }
func (c DeleteElement) TargetPage() int { return c.PageNumber }

func (c DeleteElement) apply(s *Store) (Command, error) {
	page, ok := s.book.PageByNumber(c.PageNumber)
	if !ok {
		return nil, fmt.Errorf("page %d not found", c.PageNumber)
	}
	removed, index, ok := page.RemoveElement(c.ElementID)
	if !ok {
		return nil, fmt.Errorf("element %s not found on page %d", c.ElementID, c.PageNumber)
	}
	return AddElement{PageNumber: c.PageNumber, Element: removed, Index: index}, nil
}

type SetActivePage struct {
	Number int
}

func (c SetActivePage) Name() string    { return "set_active_page" }
func (c SetActivePage) TargetPage() int { return 0 }

func (c SetActivePage) apply(s *Store) (Command, error) {
	previous := s.activePage
	number := c.Number
	// Navigating outside the visible set clamps to the first visible
	// page instead of failing.
	if len(s.caps.VisiblePages) > 0 && !permissionVisible(s.caps, number) {
		number = s.caps.VisiblePages[0]
	}
	s.activePage = number
	return SetActivePage{Number: previous}, nil
}

type ApplyTemplate struct {
	PageNumber int
	Template   book.Template
}

func (c ApplyTemplate) Name() string    { return "apply_template" }
func (c ApplyTemplate) TargetPage() int { return c.PageNumber }

func (c ApplyTemplate) apply(s *Store) (Command, error) {
	page, ok := s.book.PageByNumber(c.PageNumber)
	if !ok {
		return nil, fmt.Errorf("page %d not found", c.PageNumber)
	}
	before := page.Clone()
	if err := book.ApplyTemplate(s.book, c.PageNumber, c.Template, s.newID); err != nil {
		return nil, err
	}
	return restorePage{Number: c.PageNumber, Page: before}, nil
}

type ApplyPalette struct {
	// PageNumber scopes the palette to one page; zero restyles the
	// whole book.
	PageNumber int
	Palette    book.ColorPalette
}

func (c ApplyPalette) Name() string    { return "apply_palette" }
func (c ApplyPalette) TargetPage() int { return c.PageNumber }

func (c ApplyPalette) apply(s *Store) (Command, error) {
	if c.PageNumber == 0 {
		before := s.book.Clone()
		book.ApplyPaletteToBook(s.book, c.Palette)
		return restoreBook{Book: before}, nil
	}
	page, ok := s.book.PageByNumber(c.PageNumber)
	if !ok {
		return nil, fmt.Errorf("page %d not found", c.PageNumber)
	}
	before := page.Clone()
	book.ApplyPalette(page, c.Palette)
	return restorePage{Number: c.PageNumber, Page: before}, nil
}

// SetAssignments saves the page assignment list, which is authoritative
// for both collaborator binding and page order.
type SetAssignments struct {
	Assignments []book.PageAssignment
}

func (c SetAssignments) Name() string    { return "set_assignments" }
func (c SetAssignments) TargetPage() int { return 0 }

func (c SetAssignments) apply(s *Store) (Command, error) {
	before := s.book.Clone()
	s.book.Reorder(c.Assignments)
	return restoreBook{Book: before}, nil
}

// restorePage is the inverse of page-scoped bulk mutations.
type restorePage struct {
	Number int
	Page   book.Page
}

func (c restorePage) Name() string    { return "restore_page" }
func (c restorePage) TargetPage() int { return c.Number }

func (c restorePage) apply(s *Store) (Command, error) {
	page, ok := s.book.PageByNumber(c.Number)
	if !ok {
		return nil, fmt.Errorf("page %d not found", c.Number)
	}
	before := page.Clone()
	*page = c.Page.Clone()
	return restorePage{Number: c.Number, Page: before}, nil
}

// restoreBook is the inverse of book-scoped bulk mutations.
type restoreBook struct {
	Book *book.Book
}

func (c restoreBook) Name() string    { return "restore_book" }
func (c restoreBook) TargetPage() int { return 0 }

func (c restoreBook) apply(s *Store) (Command, error) {
	before := s.book.Clone()
	s.book = c.Book.Clone()
	return restoreBook{Book: before}, nil
}
