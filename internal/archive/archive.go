// Package archive holds the record of completed subjects. Backends live in
// subpackages; Live adds change subscriptions on top of any of them.
package archive

import (
	"fmt"
	"sort"

	"github.com/JakeFAU/realtime-booklist/internal/studio"
)

// Scope partitions the archive by application and user.
type Scope struct {
	AppID  string
	UserID string
}

// Validate requires both identifiers.
func (s Scope) Validate() error {
	if s.AppID == "" || s.UserID == "" {
		return fmt.Errorf("archive scope requires app id and user id, got %q/%q", s.AppID, s.UserID)
	}
	return nil
}

// SortNewestFirst orders projects by CreatedAt descending, then ID descending.
func SortNewestFirst(projects []studio.ArchivedProject) {
	sort.SliceStable(projects, func(i, j int) bool {
		a, b := projects[i], projects[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
}
