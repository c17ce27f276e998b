package notifier

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestLabelUnmarshal(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Label
	}{
		{name: "strings", in: `{"fi":"Skeema","en":"Schema"}`, want: Label{"fi": "Skeema", "en": "Schema"}},
		{name: "mixed values", in: `{"fi":"Skeema","en":42,"sv":null}`, want: Label{"fi": "Skeema"}},
		{name: "not an object", in: `"Schema"`, want: nil},
		{name: "array", in: `["fi","en"]`, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rec ChangeRecord
			if err := json.Unmarshal([]byte(`{"uri":"u","prefLabel":`+tt.in+`}`), &rec); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if len(rec.Label) != len(tt.want) {
				t.Fatalf("label = %v, want %v", rec.Label, tt.want)
			}
			for k, v := range tt.want {
				if rec.Label[k] != v {
					t.Errorf("label[%s] = %q, want %q", k, rec.Label[k], v)
				}
			}
			if rec.URI != "u" {
				t.Errorf("uri = %q, rest of the record should still decode", rec.URI)
			}
		})
	}
}

func TestChangeRecordCreated(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want time.Time
	}{
		{name: "rfc3339", in: `"2024-03-11T06:30:00+02:00"`, want: time.Date(2024, 3, 11, 4, 30, 0, 0, time.UTC)},
		{name: "offset without colon", in: `"2024-03-11T06:30:00.000+0200"`, want: time.Date(2024, 3, 11, 4, 30, 0, 0, time.UTC)},
		{name: "epoch millis", in: `1710138600000`, want: time.Date(2024, 3, 11, 6, 30, 0, 0, time.UTC)},
		{name: "date only", in: `"2024-03-11"`, want: time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)},
		{name: "null", in: `null`},
		{name: "unparseable string", in: `"last tuesday"`},
		{name: "object", in: `{"seconds":1}`},
		{name: "fractional number", in: `1710138600000.5`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rec ChangeRecord
			data := `{"uri":"https://example.org/x","type":"schema","created":` + tt.in + `}`
			if err := json.Unmarshal([]byte(data), &rec); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if !rec.Created.Equal(tt.want) {
				t.Errorf("Created = %v, want %v", rec.Created, tt.want)
			}
			if rec.URI != "https://example.org/x" || rec.Type != TypeSchema {
				t.Errorf("other fields lost: %+v", rec)
			}
		})
	}
}

func TestIsNew(t *testing.T) {
	cutoff := time.Date(2024, 3, 11, 5, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		created time.Time
		want    bool
	}{
		{name: "after cutoff", created: cutoff.Add(time.Minute), want: true},
		{name: "at cutoff", created: cutoff},
		{name: "before cutoff", created: cutoff.Add(-time.Hour)},
		{name: "unknown", created: time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &ChangeRecord{Created: tt.created}
			if got := rec.IsNew(cutoff); got != tt.want {
				t.Errorf("IsNew() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDigestNilSafe(t *testing.T) {
	var d *Digest
	if !d.Empty() || d.Size() != 0 || d.Bucket(ApplicationDatamodel) != nil {
		t.Error("nil digest should be empty")
	}

	d = &Digest{Buckets: map[Application][]*ChangeRecord{
		ApplicationDatamodel: {{URI: "a"}, {URI: "b"}},
		ApplicationComments:  nil,
	}}
	if d.Empty() || d.Size() != 2 {
		t.Errorf("Empty() = %v, Size() = %d", d.Empty(), d.Size())
	}
}

func TestSubscriptionMode(t *testing.T) {
	for _, m := range []SubscriptionMode{"DAILY", "daily", "Daily"} {
		if !m.IsDaily() {
			t.Errorf("%q should be daily", m)
		}
	}
	for _, m := range []SubscriptionMode{"", "NONE", "WEEKLY"} {
		if m.IsDaily() {
			t.Errorf("%q should not be daily", m)
		}
	}
}

func TestApplicationForType(t *testing.T) {
	tests := []struct {
		typ     ResourceType
		want    Application
		wantErr bool
	}{
		{typ: TypeSchema, want: ApplicationDatamodel},
		{typ: "CROSSWALK", want: ApplicationDatamodel},
		{typ: TypeCodelist, want: ApplicationCodelist},
		{typ: TypeCommentThread, want: ApplicationComments},
		{typ: "widget", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			got, err := ApplicationForType(tt.typ)
			if tt.wantErr {
				var unknown *UnknownTypeError
				if !errors.As(err, &unknown) {
					t.Fatalf("error = %v, want UnknownTypeError", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("ApplicationForType(%q) = %q, %v; want %q", tt.typ, got, err, tt.want)
			}
		})
	}
}

func TestParseApplications(t *testing.T) {
	apps, err := ParseApplications([]string{" Datamodel ", "datamodel", ""})
	if err != nil {
		t.Fatalf("ParseApplications() error = %v", err)
	}
	if len(apps) != 1 || apps[0] != ApplicationDatamodel {
		t.Errorf("apps = %v", apps)
	}

	_, err = ParseApplications([]string{"terminology"})
	var unknown *UnknownApplicationError
	if !errors.As(err, &unknown) || unknown.Application != ApplicationTerminology {
		t.Errorf("error = %v, want UnknownApplicationError for terminology", err)
	}
}

func TestValidateTypeTable(t *testing.T) {
	if err := ValidateTypeTable(); err != nil {
		t.Errorf("ValidateTypeTable() = %v", err)
	}
}

func TestStatusText(t *testing.T) {
	if got := StatusText("DRAFT"); got != "Luonnos" {
		t.Errorf("StatusText(DRAFT) = %q", got)
	}
	if got := StatusText("CUSTOM"); got != "CUSTOM" {
		t.Errorf("unknown status should pass through, got %q", got)
	}
}
