// Package directory stores subscribers and the resources they follow.
package directory

import (
	"mscr-notifier/pkg/notifier"
	"slices"
)

// dailyOnly filters subscribers down to those on the daily mode.
func dailyOnly(subs []*notifier.Subscriber) []*notifier.Subscriber {
	out := make([]*notifier.Subscriber, 0, len(subs))
	for _, sub := range subs {
		if sub.Mode.IsDaily() {
			out = append(out, sub)
		}
	}
	return out
}

// followedURIs returns the distinct URIs followed for an application, sorted.
func followedURIs(subs []*notifier.Subscriber, app notifier.Application) []string {
	seen := make(map[string]bool)
	var uris []string
	for _, sub := range subs {
		for _, res := range sub.Resources {
			if res.Application != app || res.URI == "" || seen[res.URI] {
				continue
			}
			seen[res.URI] = true
			uris = append(uris, res.URI)
		}
	}
	slices.Sort(uris)
	return uris
}
