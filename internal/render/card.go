// Package render turns generated posts into card images on a single shared
// offscreen surface.
package render

import (
	"bytes"
	"fmt"
	"html/template"
	"regexp"
	"unicode/utf8"
)

// Canvas describes the card page.
type Canvas struct {
	Width      int
	Height     int
	Background string
	FontFamily string
	FontURL    string
}

// DefaultCanvas is the 1242x1656 card used for social posts.
func DefaultCanvas() Canvas {
	return Canvas{
		Width:      1242,
		Height:     1656,
		Background: "#FAF9F6",
		FontFamily: "'Noto Serif SC', 'Songti SC', serif",
	}
}

var hexColor = regexp.MustCompile(`^#[0-9A-Fa-f]{3,8}$`)

const fallbackColor = "#1A1A1A"

const cardHTML = `<!DOCTYPE html>
<html><head><meta charset="utf-8">
{{- if .FontURL}}<link rel="stylesheet" href="{{.FontURL}}">{{end}}
<style>
html,body{margin:0;padding:0;background:{{.Background}}}
#card{box-sizing:border-box;width:{{.Width}}px;height:{{.Height}}px;background:{{.Background}};border:64px solid {{.Color}};display:flex;flex-direction:column;position:relative;font-family:{{.FontFamily}};overflow:hidden;color:{{.Color}}}
.mark{position:absolute;top:160px;left:0;width:100%;text-align:center;opacity:.4;font-size:32px;letter-spacing:4px}
.body{flex:1;display:flex;flex-direction:column;justify-content:center;align-items:center;text-align:center}
.divider{width:200px;height:10px;background:{{.Color}};opacity:.2}
.glyph{font-size:140px;opacity:.2;margin-bottom:120px;line-height:1}
</style></head>
<body><div id="card">
<div class="mark">书 间 回 想 · ECHOES</div>
{{- if .Quote}}
<div class="body" style="padding:0 120px">
<div class="glyph">&#8220;</div>
<h2 style="font-size:56px;font-weight:700;line-height:1.8;text-align:justify;margin:0">{{.Text}}</h2>
</div>
{{- else}}
<div class="body">
<h1 style="font-size:{{.TitleSize}}px;font-weight:900;line-height:{{.LineHeight}};margin:0 0 {{.Margin}}px 0">《{{.Text}}》</h1>
<div class="divider" style="margin:0 0 {{.Margin}}px 0"></div>
<p style="font-size:68px;font-weight:500;font-style:italic;margin:0">{{.Subtitle}}</p>
</div>
{{- end}}
</div></body></html>`

var cardTmpl = template.Must(template.New("card").Parse(cardHTML))

type cardData struct {
	Width, Height int
	Background    template.CSS
	FontFamily    template.CSS
	FontURL       string
	Color         template.CSS
	Quote         bool
	Text          string
	Subtitle      string
	TitleSize     int
	LineHeight    string
	Margin        int
}

// Composer builds card HTML for a canvas.
type Composer struct {
	canvas Canvas
}

// NewComposer returns a Composer for canvas.
func NewComposer(canvas Canvas) *Composer {
	return &Composer{canvas: canvas}
}

// Canvas returns the configured canvas.
func (c *Composer) Canvas() Canvas {
	return c.canvas
}

// Cover renders the subject in title marks over the generated title. Short
// subjects (six runes or fewer) get the larger type.
func (c *Composer) Cover(subject, title, color string) (string, error) {
	d := c.base(color)
	d.Text = subject
	d.Subtitle = title
	if utf8.RuneCountInString(subject) <= 6 {
		d.TitleSize, d.LineHeight, d.Margin = 180, "1.15", 100
	} else {
		d.TitleSize, d.LineHeight, d.Margin = 120, "1.25", 60
	}
	return execute(d)
}

// Quote renders one excerpt.
func (c *Composer) Quote(text, color string) (string, error) {
	d := c.base(color)
	d.Quote = true
	d.Text = text
	return execute(d)
}

func (c *Composer) base(color string) cardData {
	return cardData{
		Width:      c.canvas.Width,
		Height:     c.canvas.Height,
		Background: template.CSS(safeColor(c.canvas.Background, "#FAF9F6")), // #nosec G203 -- validated hex
		FontFamily: template.CSS(c.canvas.FontFamily),                       // #nosec G203 -- operator configuration
		FontURL:    c.canvas.FontURL,
		Color:      template.CSS(safeColor(color, fallbackColor)), // #nosec G203 -- validated hex
	}
}

func safeColor(v, fallback string) string {
	if hexColor.MatchString(v) {
		return v
	}
	return fallback
}

func execute(d cardData) (string, error) {
	var buf bytes.Buffer
	if err := cardTmpl.Execute(&buf, d); err != nil {
		return "", fmt.Errorf("execute card template: %w", err)
	}
	return buf.String(), nil
}
