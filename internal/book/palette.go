package book

// ColorPalette maps semantic color roles to concrete color values.
type ColorPalette struct {
	ID     string               `json:"id"`
	Name   string               `json:"name"`
	Colors map[ColorRole]string `json:"colors"`
}

// ApplyPalette restyles every element on the page whose ColorRole is
// present in the palette. The role decides which style field is
// rewritten: text elements recolor their text, everything else recolors
// its fill. Elements without a matching role are left untouched, as is
// the page background unless the palette carries a background role.
func ApplyPalette(page *Page, palette ColorPalette) {
	if color, ok := palette.Colors[RoleBackground]; ok {
		page.Background = color
	}
	for i := range page.Elements {
		e := &page.Elements[i]
		if e.ColorRole == "" {
			continue
		}
		color, ok := palette.Colors[e.ColorRole]
		if !ok {
			continue
		}
		if e.Kind == ElementText {
			e.Color = color
		} else {
			e.Fill = color
		}
	}
}

// ApplyPaletteToBook restyles every page of the book.
func ApplyPaletteToBook(b *Book, palette ColorPalette) {
	for i := range b.Pages {
		ApplyPalette(&b.Pages[i], palette)
	}
}
