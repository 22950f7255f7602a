package render

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/raykov/gofpdf"

	"bookforge/api/internal/book"
)

// VectorRenderer draws elements straight into a PDF. It runs with no
// external binary and is the preview-tier renderer; remote images are
// drawn as labeled placeholder frames.
type VectorRenderer struct{}

func (r *VectorRenderer) Render(ctx context.Context, b *book.Book, pages []int, dpi int) ([]byte, error) {
	selected, err := selectPages(b, pages)
	if err != nil {
		return nil, err
	}

	width, height := book.Dimensions(b.PageSize, b.Orientation)
	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		UnitStr: "mm",
		Size:    gofpdf.SizeType{Wd: width, Ht: height},
	})
	pdf.SetAutoPageBreak(false, 0)

	for _, p := range selected {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pdf.AddPage()
		if p.Background != "" {
			red, green, blue := parseHexColor(p.Background)
			pdf.SetFillColor(red, green, blue)
			pdf.Rect(0, 0, width, height, "F")
		}
		for _, e := range p.Elements {
			drawElement(pdf, e)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("vector pdf output: %w", err)
	}
	return buf.Bytes(), nil
}

func drawElement(pdf *gofpdf.Fpdf, e book.Element) {
	switch e.Kind {
	case book.ElementText:
		size := e.FontSize
		if size == 0 {
			size = 12
		}
		pdf.SetFont(vectorFont(e.Font), "", size)
		red, green, blue := parseHexColor(e.Color)
		pdf.SetTextColor(red, green, blue)
		pdf.SetXY(e.X, e.Y)
		lineHeight := size * 0.42 // pt to mm, with leading
		pdf.MultiCell(e.Width, lineHeight, e.Text, "", "L", false)
	case book.ElementImage:
		// Preview tier stands in a frame for the image box.
		pdf.SetDrawColor(160, 160, 160)
		pdf.SetFillColor(235, 235, 235)
		pdf.Rect(e.X, e.Y, e.Width, e.Height, "FD")
	case book.ElementShape:
		red, green, blue := parseHexColor(e.Fill)
		pdf.SetFillColor(red, green, blue)
		if e.Shape == "ellipse" {
			pdf.Ellipse(e.X+e.Width/2, e.Y+e.Height/2, e.Width/2, e.Height/2, 0, "F")
		} else {
			pdf.Rect(e.X, e.Y, e.Width, e.Height, "F")
		}
	}
}

// vectorFont maps editor font names onto the PDF core fonts.
func vectorFont(name string) string {
	switch strings.ToLower(name) {
	case "times", "serif":
		return "Times"
	case "courier", "monospace":
		return "Courier"
	default:
		return "Helvetica"
	}
}

// parseHexColor reads #rgb and #rrggbb values; anything else is black.
func parseHexColor(value string) (red, green, blue int) {
	value = strings.TrimPrefix(strings.TrimSpace(value), "#")
	switch len(value) {
	case 3:
		value = string([]byte{value[0], value[0], value[1], value[1], value[2], value[2]})
	case 6:
	default:
		return 0, 0, 0
	}
	parsed, err := strconv.ParseUint(value, 16, 32)
	if err != nil {
		return 0, 0, 0
	}
	return int(parsed >> 16 & 0xff), int(parsed >> 8 & 0xff), int(parsed & 0xff)
}
