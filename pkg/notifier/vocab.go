package notifier

import (
	"fmt"
	"strings"
)

// typeApplications is the closed mapping from resource type to the application that owns it.
var typeApplications = map[ResourceType]Application{
	TypeLibrary:       ApplicationDatamodel,
	TypeProfile:       ApplicationDatamodel,
	TypeSchema:        ApplicationDatamodel,
	TypeCrosswalk:     ApplicationDatamodel,
	TypeTerminology:   ApplicationTerminology,
	TypeCodelist:      ApplicationCodelist,
	TypeCommentRound:  ApplicationComments,
	TypeCommentThread: ApplicationComments,
}

// activeApplications are the applications the service fetches and buckets.
var activeApplications = map[Application]bool{
	ApplicationDatamodel: true,
}

// UnknownTypeError reports a resource type outside the closed vocabulary.
type UnknownTypeError struct {
	Type ResourceType
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown resource type: %q", e.Type)
}

// UnknownApplicationError reports an application tag that is not active.
type UnknownApplicationError struct {
	Application Application
}

func (e *UnknownApplicationError) Error() string {
	return fmt.Sprintf("unknown application: %q", e.Application)
}

// ApplicationForType returns the application owning a resource type.
func ApplicationForType(t ResourceType) (Application, error) {
	app, ok := typeApplications[ResourceType(strings.ToLower(string(t)))]
	if !ok {
		return "", &UnknownTypeError{Type: t}
	}
	return app, nil
}

// IsActive reports whether changes for the application are collected.
func (a Application) IsActive() bool {
	return activeApplications[a]
}

// ParseApplications validates configured application tags against the active set.
func ParseApplications(tags []string) ([]Application, error) {
	apps := make([]Application, 0, len(tags))
	seen := make(map[Application]bool, len(tags))
	for _, tag := range tags {
		app := Application(strings.ToLower(strings.TrimSpace(tag)))
		if app == "" || seen[app] {
			continue
		}
		if !app.IsActive() {
			return nil, &UnknownApplicationError{Application: app}
		}
		seen[app] = true
		apps = append(apps, app)
	}
	return apps, nil
}

// ValidateTypeTable checks that every resource type maps to a known application.
// It is called once at startup.
func ValidateTypeTable() error {
	known := map[Application]bool{
		ApplicationDatamodel:   true,
		ApplicationCodelist:    true,
		ApplicationTerminology: true,
		ApplicationComments:    true,
	}
	for t, app := range typeApplications {
		if !known[app] {
			return fmt.Errorf("type %q: %w", t, &UnknownApplicationError{Application: app})
		}
	}
	return nil
}

var reasonTexts = map[string]string{
	"1": "Content changed",
	"2": "Status changed",
	"3": "Source schema content changed",
	"4": "Target schema content changed",
	"5": "Source schema has new revision",
	"6": "Target schema has new revision",
}

// ReasonText returns the English phrase for a reason code, "" when unknown.
func ReasonText(code string) string {
	return reasonTexts[code]
}

var statusTexts = map[string]string{
	"VALID":      "Voimassa oleva",
	"INCOMPLETE": "Keskeneräinen",
	"DRAFT":      "Luonnos",
	"SUGGESTED":  "Ehdotus",
	"SUPERSEDED": "Korvattu",
	"RETIRED":    "Poistettu käytöstä",
	"INVALID":    "Virheellinen",
	"INPROGRESS": "Käynnissä",
	"AWAIT":      "Odottaa",
	"ENDED":      "Päättynyt",
	"CLOSED":     "Suljettu",
}

// StatusText returns the Finnish display text for a status code.
// Unknown codes pass through unchanged.
func StatusText(status string) string {
	if text, ok := statusTexts[status]; ok {
		return text
	}
	return status
}
