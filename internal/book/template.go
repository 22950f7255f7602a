package book

import "fmt"

// Template is a reusable page layout: an ordered list of element
// blueprints with geometry relative to the page (0..1 fractions).
type Template struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	Blueprints []ElementBlueprint `json:"blueprints"`
}

type ElementBlueprint struct {
	Kind      ElementKind `json:"kind"`
	X         float64     `json:"x"`
	Y         float64     `json:"y"`
	Width     float64     `json:"width"`
	Height    float64     `json:"height"`
	Text      string      `json:"text,omitempty"`
	Font      string      `json:"font,omitempty"`
	FontSize  float64     `json:"fontSize,omitempty"`
	Shape     string      `json:"shape,omitempty"`
	Fill      string      `json:"fill,omitempty"`
	Source    string      `json:"source,omitempty"`
	ColorRole ColorRole   `json:"colorRole,omitempty"`
}

// IDFunc generates element ids for template stamping.
type IDFunc func() string

// ApplyTemplate stamps the template onto one page of the book. Elements
// previously stamped from the same template are removed first, so
// re-applying the same template yields the same resulting elements.
// Manually placed elements survive. Only the target page is touched.
func ApplyTemplate(b *Book, pageNumber int, tpl Template, newID IDFunc) error {
	page, ok := b.PageByNumber(pageNumber)
	if !ok {
		return fmt.Errorf("page %d not found", pageNumber)
	}

	kept := page.Elements[:0:0]
	for _, e := range page.Elements {
		if !stampedFrom(e, tpl.ID) {
			kept = append(kept, e)
		}
	}

	pageW, pageH := Dimensions(b.PageSize, b.Orientation)
	for i, bp := range tpl.Blueprints {
		kept = append(kept, Element{
			ID:           newID(),
			Kind:         bp.Kind,
			X:            bp.X * pageW,
			Y:            bp.Y * pageH,
			Width:        bp.Width * pageW,
			Height:       bp.Height * pageH,
			Text:         bp.Text,
			Font:         bp.Font,
			FontSize:     bp.FontSize,
			Shape:        bp.Shape,
			Fill:         bp.Fill,
			Source:       bp.Source,
			ColorRole:    bp.ColorRole,
			TemplateSlot: fmt.Sprintf("%s/%d", tpl.ID, i),
		})
	}
	page.Elements = kept
	return nil
}

func stampedFrom(e Element, templateID string) bool {
	if e.TemplateSlot == "" {
		return false
	}
	for i := 0; i < len(e.TemplateSlot); i++ {
		if e.TemplateSlot[i] == '/' {
			return e.TemplateSlot[:i] == templateID
		}
	}
	return false
}
