// Package digest renders subscriber digests as HTML email bodies.
package digest

import (
	"fmt"
	"mscr-notifier/pkg/notifier"
	"net/url"
	"strings"
)

// Label languages in order of preference. "und" is the catalog's no-language tag.
var labelLanguages = []string{"fi", "en", "sv", "und"}

// section is one rendered list within the datamodel bucket.
type section struct {
	title string
	typ   notifier.ResourceType
}

var datamodelSections = []section{
	{title: "Schemas", typ: notifier.TypeSchema},
	{title: "Crosswalks", typ: notifier.TypeCrosswalk},
}

// Renderer turns digests into HTML. It does no I/O.
type Renderer struct {
	environment    string
	product        string
	localizeStatus bool
}

// New creates a renderer for a deployment environment such as "prod" or "staging".
func New(environment string) *Renderer {
	return &Renderer{
		environment: environment,
		product:     "MSCR",
	}
}

// WithProduct sets the product name used in the greeting.
func (r *Renderer) WithProduct(name string) *Renderer {
	if name != "" {
		r.product = name
	}
	return r
}

// WithLocalizedStatus renders status codes through the Finnish status table
// instead of verbatim.
func (r *Renderer) WithLocalizedStatus(enabled bool) *Renderer {
	r.localizeStatus = enabled
	return r
}

// Render returns the HTML body for a digest.
func (r *Renderer) Render(d *notifier.Digest) string {
	var b strings.Builder

	b.WriteString("<body>\n")
	b.WriteString(fmt.Sprintf("Dear %s user,<br/>\n", escapeHTML(r.product)))
	b.WriteString("<br/>\n")
	b.WriteString(fmt.Sprintf("This is your summary of the changes to %s content that you have subscribed to.<br/>\n", escapeHTML(r.product)))

	records := d.Bucket(notifier.ApplicationDatamodel)
	for _, sec := range datamodelSections {
		var items []*notifier.ChangeRecord
		for _, rec := range records {
			if rec.Type.Is(sec.typ) {
				items = append(items, rec)
			}
		}
		if len(items) == 0 {
			continue
		}

		b.WriteString(fmt.Sprintf("<h3>%s</h3>\n", sec.title))
		b.WriteString("<ul>\n")
		for _, rec := range items {
			b.WriteString(r.RenderItem(rec))
			b.WriteString("\n")
		}
		b.WriteString("</ul>\n")
	}

	b.WriteString("<br/>\n")
	b.WriteString("<br/>\n")
	b.WriteString("This is an automatically generated message. Please, do not reply to this message.\n")
	b.WriteString("</body>")

	return b.String()
}

// RenderItem returns one list item: linked label, status and change reasons.
func (r *Renderer) RenderItem(rec *notifier.ChangeRecord) string {
	var b strings.Builder

	b.WriteString("<li>")
	b.WriteString(fmt.Sprintf("<a href=\"%s\">%s</a>", escapeHTML(r.Link(rec.URI)), escapeHTML(DisplayName(rec))))
	if rec.Status != "" {
		status := rec.Status
		if r.localizeStatus {
			status = notifier.StatusText(status)
		}
		b.WriteString(": ")
		b.WriteString(escapeHTML(status))
	}
	b.WriteString(" - ")
	b.WriteString(escapeHTML(Reasons(rec.ReasonCodes)))
	b.WriteString("</li>")

	return b.String()
}

// Link returns the resource URI with '#' percent-encoded, tagged with the
// environment outside production.
func (r *Renderer) Link(uri string) string {
	encoded := strings.ReplaceAll(uri, "#", "%23")
	if strings.EqualFold(r.environment, "prod") {
		return encoded
	}
	return encoded + "?env=" + url.QueryEscape(r.environment)
}

// DisplayName picks the label to show for a record:
// fi, en, sv, und, then the local name, then the URI. An empty label value
// counts as missing.
func DisplayName(rec *notifier.ChangeRecord) string {
	for _, lang := range labelLanguages {
		if text := rec.Label[lang]; text != "" {
			return text
		}
	}
	if rec.LocalName != "" {
		return rec.LocalName
	}
	return rec.URI
}

// Reasons joins the human-readable reasons with "/". Unknown codes become "".
func Reasons(codes []string) string {
	texts := make([]string, len(codes))
	for i, code := range codes {
		texts[i] = notifier.ReasonText(code)
	}
	return strings.Join(texts, "/")
}

func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "'", "&#39;")
	return s
}
