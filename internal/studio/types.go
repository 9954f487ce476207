package studio

import (
	"strings"
	"time"
)

// MaxTargets is the fixed number of production slots per run.
const MaxTargets = 2

// TargetStatus is the lifecycle state of a production slot.
type TargetStatus string

// Supported target statuses.
const (
	StatusWaiting    TargetStatus = "waiting"
	StatusLoading    TargetStatus = "loading"
	StatusGenerating TargetStatus = "generating"
	StatusRendering  TargetStatus = "rendering"
	StatusDone       TargetStatus = "done"
	StatusFailed     TargetStatus = "failed"
)

// Terminal reports whether no further transition is allowed within a run.
func (s TargetStatus) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Target is a subject moving through a production slot.
type Target struct {
	Name   string       `json:"name"`
	Status TargetStatus `json:"status"`
}

// GeneratedContent is the structured post produced for one subject.
type GeneratedContent struct {
	Title        string   `json:"title"`
	FullContent  string   `json:"fullContent"`
	Quotes       []string `json:"quotes"`
	Tags         []string `json:"tags"`
	Color        string   `json:"color"`
	OriginalBook string   `json:"originalBook"`
}

// ArchivedProject records one successfully produced subject.
type ArchivedProject struct {
	ID        string    `json:"id"`
	BookName  string    `json:"bookName"`
	CreatedAt time.Time `json:"createdAt"`
}

// BookNames extracts the subject names from archived projects.
func BookNames(projects []ArchivedProject) []string {
	out := make([]string, 0, len(projects))
	for _, p := range projects {
		out = append(out, p.BookName)
	}
	return out
}

// NormalizeSubject trims whitespace and the 《》 title marks models like to add.
func NormalizeSubject(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "《")
	s = strings.TrimSuffix(s, "》")
	return strings.TrimSpace(s)
}
