// Package render formats decoded NER spans for terminals.
package render

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/gomlx/bertner/ner"
)

// TypeColors are the colors of well-known entity types. Other types get a color from Palette.
var TypeColors = map[string]lipgloss.Color{
	"PER": lipgloss.Color("205"),
	"ORG": lipgloss.Color("39"),
	"LOC": lipgloss.Color("78"),
}

// Palette of colors for entity types not in TypeColors.
var Palette = []lipgloss.Color{"214", "141", "45", "203", "185"}

// Renderer styles spans for a given output.
type Renderer struct {
	r      *lipgloss.Renderer
	styles map[string]lipgloss.Style
	tag    lipgloss.Style
}

// New creates a Renderer writing through r. If r is nil, the default lipgloss renderer (stdout)
// is used.
func New(r *lipgloss.Renderer) *Renderer {
	if r == nil {
		r = lipgloss.DefaultRenderer()
	}
	return &Renderer{
		r:      r,
		styles: make(map[string]lipgloss.Style),
		tag:    r.NewStyle().Faint(true),
	}
}

func (rd *Renderer) style(entityType string) lipgloss.Style {
	if s, found := rd.styles[entityType]; found {
		return s
	}
	color, found := TypeColors[entityType]
	if !found {
		var h int
		for _, r := range entityType {
			h += int(r)
		}
		color = Palette[h%len(Palette)]
	}
	s := rd.r.NewStyle().Foreground(color).Underline(true)
	rd.styles[entityType] = s
	return s
}

// Spans renders the text of the spans in order, entities colored by type and followed by their
// type in brackets. Non-entity spans are written as is.
func (rd *Renderer) Spans(spans []ner.Span) string {
	var sb strings.Builder
	for _, s := range spans {
		if s.Type == ner.OutsideTag {
			sb.WriteString(s.Text)
			continue
		}
		sb.WriteString(rd.style(s.Type).Render(s.Text))
		sb.WriteString(rd.tag.Render("[" + s.Type + "]"))
	}
	return sb.String()
}

// Spans renders spans with a Renderer on stdout.
func Spans(spans []ner.Span) string {
	return New(nil).Spans(spans)
}

// Tuples renders spans as the "('text', 'TYPE')" tuples list.
func Tuples(spans []ner.Span) string {
	return ner.FormatSpans(spans)
}
