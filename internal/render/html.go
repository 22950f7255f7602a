package render

import (
	"bytes"
	"fmt"
	"html/template"

	"bookforge/api/internal/book"
)

// The compositor lays each page out as absolutely positioned markup in
// millimeter units, with an @page rule matching the book's paper size
// so Chrome paginates exactly one page per sheet.
const pageTemplateText = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
  @page { size: {{.Width}}mm {{.Height}}mm; margin: 0; }
  html, body { margin: 0; padding: 0; }
  .page {
    position: relative;
    width: {{.Width}}mm;
    height: {{.Height}}mm;
    overflow: hidden;
    page-break-after: always;
  }
  .el { position: absolute; box-sizing: border-box; }
  .el p { margin: 0; }
</style>
</head>
<body>
{{range .Pages}}<div class="page" style="background: {{color .Background}};">
{{range .Elements}}{{template "element" .}}{{end}}
</div>
{{end}}</body>
</html>
{{define "element"}}{{if eq .Kind "text"}}<div class="el" style="{{geometry .}} color: {{color .Color}}; font-family: {{font .Font}}; font-size: {{.FontSize}}pt;"><p>{{.Text}}</p></div>
{{else if eq .Kind "image"}}<img class="el" style="{{geometry .}} object-fit: cover;" src="{{.Source}}">
{{else}}<div class="el" style="{{geometry .}} background: {{color .Fill}};{{if eq .Shape "ellipse"}} border-radius: 50%;{{end}}{{if .Stroke}} border: 1px solid {{color .Stroke}};{{end}}"></div>
{{end}}{{end}}`

var pageTemplate = template.Must(template.New("book").Funcs(template.FuncMap{
	"geometry": elementGeometry,
	"color":    cssColor,
	"font":     cssFont,
}).Parse(pageTemplateText))

type templateData struct {
	Width  float64
	Height float64
	Pages  []pageData
}

type pageData struct {
	Background string
	Elements   []book.Element
}

func elementGeometry(e book.Element) template.CSS {
	return template.CSS(fmt.Sprintf("left: %.2fmm; top: %.2fmm; width: %.2fmm; height: %.2fmm;",
		e.X, e.Y, e.Width, e.Height))
}

func cssColor(value string) template.CSS {
	if value == "" {
		value = "transparent"
	}
	return template.CSS(template.HTMLEscapeString(value))
}

func cssFont(value string) template.CSS {
	if value == "" {
		value = "Helvetica, sans-serif"
	}
	return template.CSS(template.HTMLEscapeString(value))
}

// ComposeHTML renders the selected pages into a printable document.
func ComposeHTML(b *book.Book, pages []int) (string, error) {
	selected, err := selectPages(b, pages)
	if err != nil {
		return "", err
	}
	width, height := book.Dimensions(b.PageSize, b.Orientation)
	data := templateData{Width: width, Height: height}
	for _, p := range selected {
		background := p.Background
		if background == "" {
			background = "#ffffff"
		}
		data.Pages = append(data.Pages, pageData{Background: background, Elements: p.Elements})
	}

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("compose html: %w", err)
	}
	return buf.String(), nil
}
