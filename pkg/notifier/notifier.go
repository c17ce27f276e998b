// Package notifier contains the core domain types for the MSCR change digest service.
package notifier

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Application identifies the upstream subsystem a resource belongs to.
type Application string

// Known applications. Only ApplicationDatamodel is fetched and rendered today.
const (
	ApplicationDatamodel   Application = "datamodel"
	ApplicationCodelist    Application = "codelist"
	ApplicationTerminology Application = "terminology"
	ApplicationComments    Application = "comments"
)

// ResourceType is the type tag carried by a change record.
type ResourceType string

// Resource types reported by the catalog.
const (
	TypeLibrary       ResourceType = "library"
	TypeProfile       ResourceType = "profile"
	TypeSchema        ResourceType = "schema"
	TypeCrosswalk     ResourceType = "crosswalk"
	TypeTerminology   ResourceType = "terminology"
	TypeCodelist      ResourceType = "codelist"
	TypeCommentRound  ResourceType = "commentround"
	TypeCommentThread ResourceType = "commentthread"
)

// Is reports whether t matches other, ignoring case.
func (t ResourceType) Is(other ResourceType) bool {
	return strings.EqualFold(string(t), string(other))
}

// SubscriptionMode controls whether a user receives digests.
type SubscriptionMode string

// ModeDaily is the only mode that triggers aggregation.
const ModeDaily SubscriptionMode = "DAILY"

// IsDaily reports whether the mode requests a daily digest.
func (m SubscriptionMode) IsDaily() bool {
	return strings.EqualFold(string(m), string(ModeDaily))
}

// Label maps a language code to localized text.
// A label that cannot be decoded as a mapping decodes to nil instead of failing.
type Label map[string]string

// UnmarshalJSON accepts an object of strings. Non-string values are dropped and
// anything that is not an object yields an empty label.
func (l *Label) UnmarshalJSON(data []byte) error {
	var strict map[string]string
	if err := json.Unmarshal(data, &strict); err == nil {
		*l = strict
		return nil
	}

	var loose map[string]any
	if err := json.Unmarshal(data, &loose); err != nil {
		// Malformed labels degrade to "no label".
		*l = nil
		return nil
	}

	out := make(Label, len(loose))
	for lang, v := range loose {
		if s, ok := v.(string); ok {
			out[lang] = s
		}
	}
	*l = out
	return nil
}

// ChangeRecord is one changed resource as reported by the resource provider.
type ChangeRecord struct {
	Created     time.Time    `json:"created"`
	Label       Label        `json:"prefLabel"`
	URI         string       `json:"uri"`
	Type        ResourceType `json:"type"`
	LocalName   string       `json:"localName,omitempty"`
	Status      string       `json:"status,omitempty"`
	ReasonCodes []string     `json:"reasonCodes"`
}

// createdLayouts are the string forms accepted for a record's creation time.
var createdLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05",
	time.DateOnly,
}

// UnmarshalJSON decodes a record. The creation time may be a timestamp string
// or epoch milliseconds; anything else leaves Created zero.
func (r *ChangeRecord) UnmarshalJSON(data []byte) error {
	type plain ChangeRecord
	aux := struct {
		*plain
		Created json.RawMessage `json:"created"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.Created = parseCreated(aux.Created)
	return nil
}

func parseCreated(raw json.RawMessage) time.Time {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		text = strings.TrimSpace(text)
		for _, layout := range createdLayouts {
			if t, err := time.Parse(layout, text); err == nil {
				return t
			}
		}
		return time.Time{}
	}

	if millis, err := strconv.ParseInt(string(raw), 10, 64); err == nil {
		return time.UnixMilli(millis).UTC()
	}
	return time.Time{}
}

// Less orders records by URI, the natural display order.
func (r *ChangeRecord) Less(other *ChangeRecord) bool {
	return r.URI < other.URI
}

// IsNew reports whether the resource was created after the cutoff.
func (r *ChangeRecord) IsNew(cutoff time.Time) bool {
	return !r.Created.IsZero() && r.Created.After(cutoff)
}

// FollowedResource is a resource a subscriber wants to hear about.
type FollowedResource struct {
	URI         string      `json:"uri"`
	Application Application `json:"application"`
}

// Subscriber is a user with their subscription mode and followed resources.
type Subscriber struct {
	Resources []FollowedResource `json:"resources"`
	Mode      SubscriptionMode   `json:"subscription_type"`
	Email     string             `json:"email"`
	ID        uuid.UUID          `json:"id"`
}

// Digest is the per-subscriber set of relevant changes, bucketed by application.
type Digest struct {
	Buckets map[Application][]*ChangeRecord
	UserID  uuid.UUID
}

// Bucket returns the records for an application, nil if there are none.
func (d *Digest) Bucket(app Application) []*ChangeRecord {
	if d == nil {
		return nil
	}
	return d.Buckets[app]
}

// Empty reports whether every bucket is empty.
func (d *Digest) Empty() bool {
	if d == nil {
		return true
	}
	for _, records := range d.Buckets {
		if len(records) > 0 {
			return false
		}
	}
	return true
}

// Size returns the total number of records across buckets.
func (d *Digest) Size() int {
	if d == nil {
		return 0
	}
	n := 0
	for _, records := range d.Buckets {
		n += len(records)
	}
	return n
}

// ChangeMap is the URI-keyed lookup of every resource changed in a pass.
// It is read-only once built.
type ChangeMap map[string]*ChangeRecord
