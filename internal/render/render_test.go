package render

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"bookforge/api/internal/book"
)

func sampleBook() *book.Book {
	return &book.Book{
		ID:          "book_1",
		Name:        "Yearbook",
		PageSize:    book.SizeA4,
		Orientation: book.OrientationPortrait,
		Pages: []book.Page{
			{
				ID:         "page_1",
				Number:     1,
				Background: "#fafafa",
				Elements: []book.Element{
					{ID: "el_1", Kind: book.ElementText, X: 10, Y: 20, Width: 100, Height: 30, Text: "Class of 2026", Font: "times", FontSize: 18, Color: "#112233"},
					{ID: "el_2", Kind: book.ElementShape, X: 50, Y: 100, Width: 40, Height: 40, Shape: "ellipse", Fill: "#ff0000"},
				},
			},
			{
				ID:     "page_2",
				Number: 2,
				Elements: []book.Element{
					{ID: "el_3", Kind: book.ElementImage, X: 0, Y: 0, Width: 210, Height: 148, Source: "https://example.com/cover.jpg"},
				},
			},
		},
	}
}

func TestComposeHTML(t *testing.T) {
	html, err := ComposeHTML(sampleBook(), []int{1, 2})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	for _, want := range []string{
		"@page { size: 210mm 297mm; margin: 0; }",
		"Class of 2026",
		"font-size: 18pt",
		"left: 10.00mm; top: 20.00mm; width: 100.00mm; height: 30.00mm;",
		"border-radius: 50%",
		`src="https://example.com/cover.jpg"`,
		"background: #fafafa;",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("composed html missing %q", want)
		}
	}
	if got := strings.Count(html, `class="page"`); got != 2 {
		t.Fatalf("page count = %d, want 2", got)
	}
}

func TestComposeHTMLSinglePage(t *testing.T) {
	html, err := ComposeHTML(sampleBook(), []int{2})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if strings.Contains(html, "Class of 2026") {
		t.Fatal("page 1 content leaked into a page 2 export")
	}
	if got := strings.Count(html, `class="page"`); got != 1 {
		t.Fatalf("page count = %d, want 1", got)
	}
}

func TestComposeHTMLUnknownPage(t *testing.T) {
	if _, err := ComposeHTML(sampleBook(), []int{3}); err == nil {
		t.Fatal("expected error for missing page")
	}
}

func TestVectorRendererProducesPDF(t *testing.T) {
	r := &VectorRenderer{}
	pdf, err := r.Render(context.Background(), sampleBook(), []int{1, 2}, 72)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !bytes.HasPrefix(pdf, []byte("%PDF")) {
		t.Fatalf("output is not a PDF, starts with %q", pdf[:min(8, len(pdf))])
	}
}

func TestVectorRendererRejectsMissingPage(t *testing.T) {
	r := &VectorRenderer{}
	if _, err := r.Render(context.Background(), sampleBook(), []int{9}, 72); err == nil {
		t.Fatal("expected error for missing page")
	}
}

func TestSelectPrefersVectorForPreview(t *testing.T) {
	if _, ok := Select(72).(*VectorRenderer); !ok {
		t.Fatal("preview tier should use the vector renderer")
	}
}

func TestParseHexColor(t *testing.T) {
	cases := []struct {
		in      string
		r, g, b int
	}{
		{"#ffffff", 255, 255, 255},
		{"#112233", 17, 34, 51},
		{"#f00", 255, 0, 0},
		{" #0a0B0c ", 10, 11, 12},
		{"", 0, 0, 0},
		{"ziggurat", 0, 0, 0},
	}
	for _, c := range cases {
		r, g, b := parseHexColor(c.in)
		if r != c.r || g != c.g || b != c.b {
			t.Errorf("parseHexColor(%q) = %d,%d,%d, want %d,%d,%d", c.in, r, g, b, c.r, c.g, c.b)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"My Yearbook 2026":      "My-Yearbook-2026",
		"weird/../path\x00":     "weirdpath",
		"":                      "book",
		"///":                   "book",
		strings.Repeat("a", 80): strings.Repeat("a", 50),
	}
	for in, want := range cases {
		if got := SanitizeFilename(in); got != want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
