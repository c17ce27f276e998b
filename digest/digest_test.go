package digest

import (
	"encoding/json"
	"mscr-notifier/pkg/notifier"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

func parse(t *testing.T, body string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		t.Fatalf("parse rendered html: %v", err)
	}
	return doc
}

// sectionItems returns the list items following the <h3> with the given title.
func sectionItems(doc *goquery.Document, title string) *goquery.Selection {
	var items *goquery.Selection
	doc.Find("h3").Each(func(_ int, h *goquery.Selection) {
		if strings.TrimSpace(h.Text()) == title {
			items = h.NextFiltered("ul").Find("li")
		}
	})
	return items
}

func TestDisplayNameFallback(t *testing.T) {
	tests := []struct {
		name string
		rec  notifier.ChangeRecord
		want string
	}{
		{
			name: "finnish first",
			rec:  notifier.ChangeRecord{URI: "u", Label: notifier.Label{"en": "English", "fi": "Suomi", "sv": "Svenska"}},
			want: "Suomi",
		},
		{
			name: "english over swedish",
			rec:  notifier.ChangeRecord{URI: "u", Label: notifier.Label{"sv": "Svenska", "en": "English"}},
			want: "English",
		},
		{
			name: "swedish over und",
			rec:  notifier.ChangeRecord{URI: "u", Label: notifier.Label{"sv": "Svenska", "und": "Undefined"}},
			want: "Svenska",
		},
		{
			name: "und fallback",
			rec:  notifier.ChangeRecord{URI: "u", Label: notifier.Label{"de": "Deutsch", "und": "Undefined"}},
			want: "Undefined",
		},
		{
			name: "empty strings are skipped",
			rec:  notifier.ChangeRecord{URI: "u", Label: notifier.Label{"fi": "", "en": "English"}},
			want: "English",
		},
		{
			name: "all labels empty uses local name",
			rec:  notifier.ChangeRecord{URI: "u", LocalName: "local", Label: notifier.Label{"fi": "", "en": "", "und": ""}},
			want: "local",
		},
		{
			name: "local name when no usable label",
			rec:  notifier.ChangeRecord{URI: "u", LocalName: "local", Label: notifier.Label{"de": "Deutsch"}},
			want: "local",
		},
		{
			name: "uri as last resort",
			rec:  notifier.ChangeRecord{URI: "https://example.org/x"},
			want: "https://example.org/x",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DisplayName(&tt.rec); got != tt.want {
				t.Errorf("DisplayName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDisplayNameMalformedLabel(t *testing.T) {
	var rec notifier.ChangeRecord
	if err := json.Unmarshal([]byte(`{"uri":"https://example.org/x","localName":"x","prefLabel":["fi","oops"]}`), &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := DisplayName(&rec); got != "x" {
		t.Errorf("DisplayName() = %q, want local name", got)
	}
}

func TestReasons(t *testing.T) {
	tests := []struct {
		codes []string
		want  string
	}{
		{codes: []string{"1"}, want: "Content changed"},
		{codes: []string{"99"}, want: ""},
		{codes: []string{"2", "5"}, want: "Status changed/Source schema has new revision"},
		{codes: []string{"1", "99", "6"}, want: "Content changed//Target schema has new revision"},
		{codes: nil, want: ""},
	}
	for _, tt := range tests {
		if got := Reasons(tt.codes); got != tt.want {
			t.Errorf("Reasons(%v) = %q, want %q", tt.codes, got, tt.want)
		}
	}
}

func TestLink(t *testing.T) {
	tests := []struct {
		env  string
		want string
	}{
		{env: "staging", want: "https://example.org/ns%23Foo?env=staging"},
		{env: "prod", want: "https://example.org/ns%23Foo"},
		{env: "PROD", want: "https://example.org/ns%23Foo"},
		{env: "dev", want: "https://example.org/ns%23Foo?env=dev"},
	}
	for _, tt := range tests {
		if got := New(tt.env).Link("https://example.org/ns#Foo"); got != tt.want {
			t.Errorf("Link() with env %q = %q, want %q", tt.env, got, tt.want)
		}
	}
}

func TestRenderItem(t *testing.T) {
	rec := &notifier.ChangeRecord{
		URI:         "https://example.org/ns#Foo",
		Label:       notifier.Label{"en": "Foo <schema>"},
		Status:      "DRAFT",
		ReasonCodes: []string{"1", "2"},
	}

	got := New("staging").RenderItem(rec)
	want := `<li><a href="https://example.org/ns%23Foo?env=staging">Foo &lt;schema&gt;</a>: DRAFT - Content changed/Status changed</li>`
	if got != want {
		t.Errorf("RenderItem() =\n%s\nwant\n%s", got, want)
	}

	localized := New("prod").WithLocalizedStatus(true).RenderItem(rec)
	if !strings.Contains(localized, ": Luonnos - ") {
		t.Errorf("localized status missing: %s", localized)
	}

	noStatus := New("prod").RenderItem(&notifier.ChangeRecord{URI: "u", ReasonCodes: []string{"99"}})
	if noStatus != `<li><a href="u">u</a> - </li>` {
		t.Errorf("RenderItem() without status = %s", noStatus)
	}
}

func TestRenderSections(t *testing.T) {
	d := &notifier.Digest{Buckets: map[notifier.Application][]*notifier.ChangeRecord{
		notifier.ApplicationDatamodel: {
			{URI: "https://example.org/a-crosswalk", Type: "Crosswalk", ReasonCodes: []string{"3"}},
			{URI: "https://example.org/b-schema", Type: notifier.TypeSchema, ReasonCodes: []string{"1"}},
		},
	}}

	body := New("prod").Render(d)
	doc := parse(t, body)

	schemas := sectionItems(doc, "Schemas")
	if schemas == nil || schemas.Length() != 1 {
		t.Fatalf("Schemas section missing or wrong size:\n%s", body)
	}
	if href, _ := schemas.Find("a").Attr("href"); href != "https://example.org/b-schema" {
		t.Errorf("schema link = %q", href)
	}

	crosswalks := sectionItems(doc, "Crosswalks")
	if crosswalks == nil || crosswalks.Length() != 1 {
		t.Fatalf("Crosswalks section missing or wrong size:\n%s", body)
	}
	if !strings.Contains(crosswalks.Text(), "Source schema content changed") {
		t.Errorf("crosswalk reason missing: %q", crosswalks.Text())
	}

	if !strings.Contains(body, "Dear MSCR user,") {
		t.Error("greeting missing")
	}
	if !strings.Contains(body, "Please, do not reply to this message.") {
		t.Error("disclaimer missing")
	}
}

func TestRenderOmitsEmptySections(t *testing.T) {
	d := &notifier.Digest{Buckets: map[notifier.Application][]*notifier.ChangeRecord{
		notifier.ApplicationDatamodel: {
			{URI: "https://example.org/s1", Type: notifier.TypeSchema},
			{URI: "https://example.org/s2", Type: notifier.TypeSchema},
			{URI: "https://example.org/lib", Type: notifier.TypeLibrary},
		},
	}}

	body := New("prod").WithProduct("Catalog").Render(d)
	doc := parse(t, body)

	if sectionItems(doc, "Crosswalks") != nil {
		t.Errorf("Crosswalks section should be omitted:\n%s", body)
	}
	items := sectionItems(doc, "Schemas")
	if items == nil || items.Length() != 2 {
		t.Fatalf("Schemas section should have 2 items:\n%s", body)
	}
	first, _ := items.First().Find("a").Attr("href")
	if first != "https://example.org/s1" {
		t.Errorf("first schema = %q, want s1", first)
	}
	if strings.Contains(body, "/lib") {
		t.Error("library records are not rendered")
	}
	if !strings.Contains(body, "Dear Catalog user,") {
		t.Error("product name not applied")
	}
}
