// Package popup builds the sanitized story popup shown when a point is clicked.
package popup

import (
	"math"
	"strings"

	"github.com/okian/storymap/internal/domain/dataset"
	"github.com/okian/storymap/internal/domain/sanitize"
)

// Placeholders for missing properties.
const (
	DefaultTitle = "Story"
	DefaultURL   = "#"
)

// Content is the decoded, not yet escaped, text of a story popup.
type Content struct {
	Date      string
	Title     string
	Author    string
	Outlet    string
	URL       string
	Thumbnail string
}

// FromFeature reads popup content from a story's properties. Text fields are
// entity-decoded so that double-encoded dataset text renders once escaped.
func FromFeature(f *dataset.Feature) Content {
	c := Content{
		Date:   decoded(f, dataset.PropDate, ""),
		Title:  decoded(f, dataset.PropTitle, DefaultTitle),
		Author: decoded(f, dataset.PropAuthor, ""),
		Outlet: decoded(f, dataset.PropOutlet, ""),
		URL:    DefaultURL,
	}
	if u, ok := dataset.Prop(f, dataset.PropURL); ok {
		c.URL = u
	}
	if th, ok := dataset.Prop(f, dataset.PropThumbnail); ok {
		c.Thumbnail = th
	}
	return c
}

func decoded(f *dataset.Feature, key, fallback string) string {
	v, ok := dataset.Prop(f, key)
	if !ok {
		return fallback
	}
	return sanitize.DecodeEntities(v)
}

// Render returns the popup markup. Every interpolated value is escaped; the
// author and outlet lines appear only when non-empty and the thumbnail only
// when it is an http(s) URL.
func Render(c Content) string {
	var b strings.Builder

	b.WriteString(`<div class="popup-date"><b>`)
	b.WriteString(sanitize.EscapeHTML(c.Date))
	b.WriteString("</b></div>\n")

	b.WriteString(`<div class="popup-title">`)
	b.WriteString(sanitize.EscapeHTML(c.Title))
	b.WriteString("</div>\n")

	if c.Author != "" {
		b.WriteString(`<div class="popup-meta"><span class="popup-label">By</span> `)
		b.WriteString(sanitize.EscapeHTML(c.Author))
		b.WriteString("</div>\n")
	}
	if c.Outlet != "" {
		b.WriteString(`<div class="popup-meta"><span class="popup-label">Outlet</span> `)
		b.WriteString(sanitize.EscapeHTML(c.Outlet))
		b.WriteString("</div>\n")
	}

	if sanitize.IsProbablyURL(c.Thumbnail) {
		thumb := sanitize.EscapeAttr(c.Thumbnail)
		b.WriteString(`<a class="popup-thumb" href="`)
		b.WriteString(thumb)
		b.WriteString(`" target="_blank" rel="noopener noreferrer">`)
		b.WriteString(`<img src="`)
		b.WriteString(thumb)
		b.WriteString(`" alt="" loading="lazy" /></a>`)
		b.WriteString("\n")
	}

	b.WriteString(`<a class="popup-link" href="`)
	b.WriteString(sanitize.EscapeAttr(c.URL))
	b.WriteString(`" target="_blank" rel="noopener noreferrer">Read story →</a>`)

	return b.String()
}

// WrapLongitude shifts featureLng by whole turns until it lies within 180°
// of clickLng, so a popup opened near the antimeridian sits next to the
// copy of the point that was clicked.
func WrapLongitude(clickLng, featureLng float64) float64 {
	if math.IsNaN(clickLng) || math.IsInf(clickLng, 0) || math.IsNaN(featureLng) || math.IsInf(featureLng, 0) {
		return featureLng
	}
	for math.Abs(clickLng-featureLng) > 180 {
		if clickLng > featureLng {
			featureLng += 360
		} else {
			featureLng -= 360
		}
	}
	return featureLng
}
