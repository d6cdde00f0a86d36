// Package wiki provides the edit-history client: a thin capability over a
// MediaWiki-style action API that returns edit records for users and pages.
// The serving path depends only on the Client interface; the HTTP
// implementation lives in httpclient.go.
package wiki

import (
	"context"
	"time"
)

// Revision is a single revision of a page.
type Revision struct {
	RevID     int64
	User      string
	Timestamp time.Time
}

// PageEdits groups a user's revisions to one page.
type PageEdits struct {
	PageID     int64
	Timestamps []time.Time
}

// AccountInfo describes what the wiki knows about an account name.
type AccountInfo struct {
	Name string
	// Missing means the name is a syntactically valid username with no
	// registered account.
	Missing bool
	// Invalid means the name cannot be a registered account (an IP, for
	// example); such users are treated as anonymous editors.
	Invalid bool
	Groups  []string
}

// IsBot reports whether the account is in the bot group.
func (a *AccountInfo) IsBot() bool {
	for _, g := range a.Groups {
		if g == "bot" {
			return true
		}
	}
	return false
}

// Client fetches edit history from the wiki. All calls are subject to the
// configured retry policy of the implementation.
type Client interface {
	// UserEdits returns the user's edits with timestamps strictly at or
	// after start, grouped by page in API order. Accumulation stops once
	// pageLimit distinct pages have been collected; the underlying API
	// batches by revision count, so a single response may span any number
	// of pages.
	UserEdits(ctx context.Context, userText string, start time.Time, pageLimit int) ([]PageEdits, error)

	// PageRevisions returns all revisions of a page since start, oldest
	// first. Revisions by hidden users carry an empty User.
	PageRevisions(ctx context.Context, pageID int64, start time.Time) ([]Revision, error)

	// AccountInfo looks up a single account's registration state and groups.
	AccountInfo(ctx context.Context, userText string) (*AccountInfo, error)

	// Groups looks up the group memberships of up to 50 accounts at once.
	// Names missing from the result map are unknown to the wiki.
	Groups(ctx context.Context, userTexts []string) (map[string][]string, error)

	// HasEditsSince reports whether the user has made at least one
	// in-scope edit since start.
	HasEditsSince(ctx context.Context, userText string, start time.Time) (bool, error)
}
