package book

type ElementKind string

const (
	ElementText  ElementKind = "text"
	ElementImage ElementKind = "image"
	ElementShape ElementKind = "shape"
)

// ColorRole is a semantic slot a palette can restyle. Roles attach to
// elements, not element kinds: a shape and a heading can both carry the
// accent role.
type ColorRole string

const (
	RoleBackground ColorRole = "background"
	RolePrimary    ColorRole = "primary"
	RoleSecondary  ColorRole = "secondary"
	RoleText       ColorRole = "text"
	RoleAccent     ColorRole = "accent"
)

// Element is a positioned drawable unit on a page. Kind selects which
// payload fields are meaningful; geometry is common to all kinds and
// expressed in page millimeters.
type Element struct {
	ID     string      `json:"id"`
	Kind   ElementKind `json:"kind"`
	X      float64     `json:"x"`
	Y      float64     `json:"y"`
	Width  float64     `json:"width"`
	Height float64     `json:"height"`

	// text payload
	Text     string  `json:"text,omitempty"`
	Font     string  `json:"font,omitempty"`
	FontSize float64 `json:"fontSize,omitempty"`
	Color    string  `json:"color,omitempty"`

	// image payload
	Source string `json:"source,omitempty"`

	// shape payload
	Shape  string `json:"shape,omitempty"`
	Fill   string `json:"fill,omitempty"`
	Stroke string `json:"stroke,omitempty"`

	// ColorRole marks the element's styled field as a palette target.
	ColorRole ColorRole `json:"colorRole,omitempty"`

	// TemplateSlot identifies the blueprint an element was stamped from,
	// as "<templateID>/<index>". Empty for manually placed elements.
	TemplateSlot string `json:"templateSlot,omitempty"`
}

// ElementByID returns the element with the given id.
func (p *Page) ElementByID(id string) (Element, int, bool) {
	for i, e := range p.Elements {
		if e.ID == id {
			return e, i, true
		}
	}
	return Element{}, -1, false
}

// InsertElement places an element at index, or appends when index is out
// of range. Returns the index used.
func (p *Page) InsertElement(e Element, index int) int {
	if index < 0 || index > len(p.Elements) {
		index = len(p.Elements)
	}
	p.Elements = append(p.Elements, Element{})
	copy(p.Elements[index+1:], p.Elements[index:])
	p.Elements[index] = e
	return index
}

// RemoveElement deletes the element with the given id. Returns the
// removed element, its former index and whether it existed.
func (p *Page) RemoveElement(id string) (Element, int, bool) {
	e, i, ok := p.ElementByID(id)
	if !ok {
		return Element{}, -1, false
	}
	p.Elements = append(p.Elements[:i], p.Elements[i+1:]...)
	return e, i, true
}
