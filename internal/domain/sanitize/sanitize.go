// Package sanitize escapes dataset text for HTML embedding and vets link targets.
//
// Every value interpolated into popup markup must pass through EscapeHTML or
// EscapeAttr. Escaping is not idempotent; callers decode first (DecodeEntities)
// and escape exactly once.
package sanitize

import (
	"html"
	"net/url"
	"strings"
)

var (
	htmlReplacer = strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&#039;",
	)
	attrReplacer = strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&#039;",
		"`", "&#096;",
	)
)

// EscapeHTML replaces the five HTML-significant characters with entities.
func EscapeHTML(s string) string {
	return htmlReplacer.Replace(s)
}

// EscapeAttr is EscapeHTML plus backticks, for quoted attribute values.
func EscapeAttr(s string) string {
	return attrReplacer.Replace(s)
}

// DecodeEntities turns entity references (&amp;, &#39;, &#x27;, ...) back into
// text. Markup in s is left as literal characters; nothing is parsed as HTML.
func DecodeEntities(s string) string {
	if !strings.Contains(s, "&") {
		return s
	}
	return html.UnescapeString(s)
}

// IsProbablyURL reports whether s is an absolute http or https URL. As in
// browsers, slashes after the scheme are optional: "http:example.com" and
// "https:/example.com" name the host example.com.
func IsProbablyURL(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return false
	}
	if u.Host != "" {
		return true
	}
	rest := strings.TrimLeft(s[len(u.Scheme)+1:], `/\`)
	if rest == "" {
		return false
	}
	u, err = url.Parse(scheme + "://" + rest)
	return err == nil && u.Host != ""
}
