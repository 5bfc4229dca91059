package domain

import "context"

// EntryResolver is one content-type strategy in the caller-supplied
// resolver chain. The chain is consulted in registration order;
// first-match wins.
type EntryResolver interface {
	// CanDownload reports whether this resolver understands the entry's
	// content type
	CanDownload(entry *Entry) bool

	// Prepare populates entry.Parts from the live domain object, e.g. by
	// fetching page HTML. Called once, before the first download pass.
	Prepare(ctx context.Context, entry *Entry) error

	// IsCritical classifies an error as fatal for this content type
	IsCritical(err error) bool

	// ReplaceHTML returns fallback markup for a tag whose media failed
	// to download non-critically, or "" when no substitute exists
	ReplaceHTML(tag string) string
}

// ResolverFor returns the first resolver in the chain that recognizes
// the entry, or nil
func ResolverFor(chain []EntryResolver, entry *Entry) EntryResolver {
	for _, r := range chain {
		if r.CanDownload(entry) {
			return r
		}
	}
	return nil
}
