package briefing

import "github.com/oklog/ulid/v2"

// NewBriefingID returns a prefixed, lexically sortable briefing ID.
func NewBriefingID() string {
	return "briefing-" + ulid.Make().String()
}
