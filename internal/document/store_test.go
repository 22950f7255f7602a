package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"bookforge/api/internal/book"
	"bookforge/api/internal/permission"
)

func testBook(pageCount int) *book.Book {
	b := &book.Book{
		ID:          "book_1",
		Name:        "Yearbook",
		PageSize:    book.SizeA4,
		Orientation: book.OrientationPortrait,
		OwnerID:     "user_owner",
	}
	for i := 1; i <= pageCount; i++ {
		b.Pages = append(b.Pages, book.Page{
			ID:     fmt.Sprintf("page_%d", i),
			Number: i,
			Elements: []book.Element{
				{ID: fmt.Sprintf("el_%d", i), Kind: book.ElementText, Text: fmt.Sprintf("page %d", i), Width: 50, Height: 10},
			},
		})
	}
	return b
}

func fullAccess(pages []int, current int) permission.Capabilities {
	return permission.Resolve(permission.Grant{
		Role:        permission.RoleOwner,
		Interaction: permission.InteractionFullEditSettings,
		PageAccess:  permission.AccessAllPages,
	}, pages, current)
}

func openStore(t *testing.T, b *book.Book, caps permission.Capabilities) *Store {
	t.Helper()
	s := NewStore()
	s.Replace(b, caps)
	return s
}

func marshal(t *testing.T, b *book.Book) string {
	t.Helper()
	raw, err := json.Marshal(b)
	if err != nil {
		t.Fatal(err)
	}
	return string(raw)
}

func TestUndoRoundTripRestoresOriginalState(t *testing.T) {
	b := testBook(2)
	s := openStore(t, b, fullAccess([]int{1, 2}, 1))
	before := marshal(t, s.Snapshot())

	mutations := []Command{
		AddElement{PageNumber: 1, Element: book.Element{ID: "new_1", Kind: book.ElementShape, Shape: "rect", Fill: "#f00"}, Index: -1},
		UpdateElement{PageNumber: 1, Element: book.Element{ID: "el_1", Kind: book.ElementText, Text: "edited", Width: 50, Height: 10}},
		AddPage{Page: book.Page{ID: "page_3"}},
		DeleteElement{PageNumber: 2, ElementID: "el_2"},
		ApplyPalette{PageNumber: 2, Palette: book.ColorPalette{Colors: map[book.ColorRole]string{book.RoleBackground: "#eee"}}},
		ApplyTemplate{PageNumber: 1, Template: book.Template{
			ID:         "tpl",
			Blueprints: []book.ElementBlueprint{{Kind: book.ElementShape, Width: 0.5, Height: 0.5}},
		}},
		SetAssignments{Assignments: []book.PageAssignment{
			{PageID: "page_2", UserID: "user_a"},
			{PageID: "page_1"},
			{PageID: "page_3"},
		}},
	}
	for i, cmd := range mutations {
		if err := s.Dispatch(cmd); err != nil {
			t.Fatalf("mutation %d (%s): %v", i, cmd.Name(), err)
		}
	}
	if marshal(t, s.Snapshot()) == before {
		t.Fatal("mutations had no effect")
	}

	for i := range mutations {
		if err := s.Undo(); err != nil {
			t.Fatalf("undo %d: %v", i, err)
		}
	}
	if got := marshal(t, s.Snapshot()); got != before {
		t.Errorf("state after full undo differs from original\n got: %s\nwant: %s", got, before)
	}
}

func TestRedoThenForwardMutationDiscardsRedo(t *testing.T) {
	s := openStore(t, testBook(1), fullAccess([]int{1}, 1))

	add := func(id string) Command {
		return AddElement{PageNumber: 1, Element: book.Element{ID: id, Kind: book.ElementShape}, Index: -1}
	}
	if err := s.Dispatch(add("a")); err != nil {
		t.Fatal(err)
	}
	if err := s.Dispatch(add("b")); err != nil {
		t.Fatal(err)
	}
	if err := s.Undo(); err != nil {
		t.Fatal(err)
	}
	if _, redo := s.HistoryLengths(); redo != 1 {
		t.Fatalf("redo depth = %d, want 1", redo)
	}

	// A fresh forward mutation must discard the redo stack.
	if err := s.Dispatch(add("c")); err != nil {
		t.Fatal(err)
	}
	if _, redo := s.HistoryLengths(); redo != 0 {
		t.Fatalf("redo depth = %d after forward mutation, want 0", redo)
	}
	if err := s.Redo(); err != nil {
		t.Fatal(err)
	}
	page, _ := s.Snapshot().PageByNumber(1)
	for _, e := range page.Elements {
		if e.ID == "b" {
			t.Error("discarded redo entry was re-applied")
		}
	}
}

func TestRedoReappliesUndoneMutation(t *testing.T) {
	s := openStore(t, testBook(1), fullAccess([]int{1}, 1))
	if err := s.Dispatch(AddElement{PageNumber: 1, Element: book.Element{ID: "x", Kind: book.ElementShape}, Index: -1}); err != nil {
		t.Fatal(err)
	}
	if err := s.Undo(); err != nil {
		t.Fatal(err)
	}
	if err := s.Redo(); err != nil {
		t.Fatal(err)
	}
	page, _ := s.Snapshot().PageByNumber(1)
	if _, _, ok := page.ElementByID("x"); !ok {
		t.Fatal("redo did not restore the element")
	}
}

func TestUndoRedoAtBoundariesAreNoOps(t *testing.T) {
	s := openStore(t, testBook(1), fullAccess([]int{1}, 1))
	before := marshal(t, s.Snapshot())
	if err := s.Undo(); err != nil {
		t.Fatalf("undo at boundary: %v", err)
	}
	if err := s.Redo(); err != nil {
		t.Fatalf("redo at boundary: %v", err)
	}
	if marshal(t, s.Snapshot()) != before {
		t.Error("boundary undo/redo changed state")
	}
}

func TestHistoryDepthBounded(t *testing.T) {
	s := openStore(t, testBook(1), fullAccess([]int{1}, 1))
	s.SetHistoryDepth(5)
	for i := 0; i < 10; i++ {
		cmd := AddElement{PageNumber: 1, Element: book.Element{ID: fmt.Sprintf("e%d", i), Kind: book.ElementShape}, Index: -1}
		if err := s.Dispatch(cmd); err != nil {
			t.Fatal(err)
		}
	}
	if undo, _ := s.HistoryLengths(); undo != 5 {
		t.Fatalf("undo depth = %d, want bound of 5", undo)
	}
}

func TestMutationOutsideVisiblePagesIsNoOp(t *testing.T) {
	b := testBook(3)
	caps := permission.Resolve(permission.Grant{
		Role:          permission.RoleAuthor,
		Interaction:   permission.InteractionFullEdit,
		PageAccess:    permission.AccessOwnPage,
		AssignedPages: []int{2},
	}, b.PageNumbers(), 1)
	s := openStore(t, b, caps)
	before := marshal(t, s.Snapshot())

	err := s.Dispatch(AddElement{PageNumber: 1, Element: book.Element{ID: "sneak", Kind: book.ElementShape}, Index: -1})
	if !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("err = %v, want ErrAccessDenied", err)
	}
	if marshal(t, s.Snapshot()) != before {
		t.Error("denied mutation changed state")
	}
	if undo, _ := s.HistoryLengths(); undo != 0 {
		t.Error("denied mutation was recorded for undo")
	}
}

func TestBookScopedMutationsDeniedOutsideFullVisibility(t *testing.T) {
	b := testBook(3)
	caps := permission.Resolve(permission.Grant{
		Role:          permission.RoleAuthor,
		Interaction:   permission.InteractionFullEdit,
		PageAccess:    permission.AccessOwnPage,
		AssignedPages: []int{2},
	}, b.PageNumbers(), 2)
	s := openStore(t, b, caps)
	before := marshal(t, s.Snapshot())

	// Book-scoped mutations touch pages outside the visible set, so a
	// partially sighted author must not reach them.
	bookWide := []Command{
		ApplyPalette{Palette: book.ColorPalette{Colors: map[book.ColorRole]string{
			book.RoleBackground: "#123456",
			book.RoleText:       "#ff0000",
		}}},
		SetAssignments{Assignments: []book.PageAssignment{
			{PageID: "page_3"},
			{PageID: "page_1"},
			{PageID: "page_2", UserID: "user_author"},
		}},
		AddPage{Page: book.Page{ID: "page_4"}},
	}
	for _, cmd := range bookWide {
		if err := s.Dispatch(cmd); !errors.Is(err, ErrAccessDenied) {
			t.Fatalf("%s: err = %v, want ErrAccessDenied", cmd.Name(), err)
		}
	}
	if got := marshal(t, s.Snapshot()); got != before {
		t.Errorf("denied book-scoped mutation changed state\n got: %s\nwant: %s", got, before)
	}
	if undo, _ := s.HistoryLengths(); undo != 0 {
		t.Error("denied mutation was recorded for undo")
	}

	// The same palette applied to the assigned page itself is allowed.
	if err := s.Dispatch(ApplyPalette{PageNumber: 2, Palette: book.ColorPalette{Colors: map[book.ColorRole]string{
		book.RoleBackground: "#123456",
	}}}); err != nil {
		t.Fatalf("page-scoped palette on assigned page: %v", err)
	}
	page1, _ := s.Snapshot().PageByNumber(1)
	if page1.Background != "" {
		t.Fatalf("page 1 background = %q, want untouched", page1.Background)
	}
	page2, _ := s.Snapshot().PageByNumber(2)
	if page2.Background != "#123456" {
		t.Fatalf("page 2 background = %q", page2.Background)
	}
}

func TestAuthorAssignedPage2Scenario(t *testing.T) {
	// A 3-page book where the author holds only page 2: the visible set
	// is exactly page 2, the active page is forced there, and an
	// element-add aimed at page 1 is a no-op.
	b := testBook(3)
	caps := permission.Resolve(permission.Grant{
		Role:          permission.RoleAuthor,
		Interaction:   permission.InteractionFullEdit,
		PageAccess:    permission.AccessOwnPage,
		AssignedPages: []int{2},
	}, b.PageNumbers(), 1)

	if !reflect.DeepEqual(caps.VisiblePages, []int{2}) {
		t.Fatalf("visible = %v, want [2]", caps.VisiblePages)
	}
	if caps.ActivePage != 2 || !caps.PageChanged {
		t.Fatalf("active = %d changed = %v, want forced to 2", caps.ActivePage, caps.PageChanged)
	}

	s := openStore(t, b, caps)
	if s.ActivePage() != 2 {
		t.Fatalf("store active page = %d", s.ActivePage())
	}
	if err := s.Dispatch(AddElement{PageNumber: 1, Element: book.Element{ID: "x", Kind: book.ElementShape}, Index: -1}); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("err = %v, want ErrAccessDenied", err)
	}
	page1, _ := s.Snapshot().PageByNumber(1)
	if len(page1.Elements) != 1 {
		t.Fatalf("page 1 gained an element: %d", len(page1.Elements))
	}
}

func TestSetActivePageClampsInsteadOfRejecting(t *testing.T) {
	b := testBook(4)
	caps := permission.Resolve(permission.Grant{
		Role:          permission.RoleAuthor,
		Interaction:   permission.InteractionFullEdit,
		PageAccess:    permission.AccessOwnPage,
		AssignedPages: []int{2, 4},
	}, b.PageNumbers(), 2)
	s := openStore(t, b, caps)

	if err := s.Dispatch(SetActivePage{Number: 1}); err != nil {
		t.Fatalf("navigation must not fail: %v", err)
	}
	if s.ActivePage() != 2 {
		t.Fatalf("active page = %d, want clamp to 2", s.ActivePage())
	}
}

func TestReplaceResetsHistory(t *testing.T) {
	s := openStore(t, testBook(1), fullAccess([]int{1}, 1))
	if err := s.Dispatch(AddElement{PageNumber: 1, Element: book.Element{ID: "x", Kind: book.ElementShape}, Index: -1}); err != nil {
		t.Fatal(err)
	}
	s.Replace(testBook(2), fullAccess([]int{1, 2}, 1))
	undo, redo := s.HistoryLengths()
	if undo != 0 || redo != 0 {
		t.Fatalf("history survived replace: undo=%d redo=%d", undo, redo)
	}
	if err := s.Undo(); err != nil {
		t.Fatal(err)
	}
	if len(s.Snapshot().Pages) != 2 {
		t.Error("undo after replace altered the reloaded book")
	}
}

func TestDispatchWithoutBook(t *testing.T) {
	s := NewStore()
	err := s.Dispatch(AddPage{})
	if !errors.Is(err, ErrNoBook) {
		t.Fatalf("err = %v, want ErrNoBook", err)
	}
}

func TestDeletePageRenumbersContiguously(t *testing.T) {
	s := openStore(t, testBook(3), fullAccess([]int{1, 2, 3}, 1))
	if err := s.Dispatch(DeletePage{Number: 2}); err != nil {
		t.Fatal(err)
	}
	b := s.Snapshot()
	if !reflect.DeepEqual(b.PageNumbers(), []int{1, 2}) {
		t.Fatalf("numbers = %v, want [1 2]", b.PageNumbers())
	}
	if b.Pages[1].ID != "page_3" {
		t.Fatalf("wrong page renumbered: %+v", b.Pages)
	}

	if err := s.Undo(); err != nil {
		t.Fatal(err)
	}
	b = s.Snapshot()
	if !reflect.DeepEqual(b.PageNumbers(), []int{1, 2, 3}) {
		t.Fatalf("numbers after undo = %v", b.PageNumbers())
	}
	if b.Pages[1].ID != "page_2" {
		t.Fatal("deleted page not restored in place")
	}
}
