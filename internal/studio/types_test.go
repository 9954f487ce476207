package studio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTargetStatusTerminal(t *testing.T) {
	t.Parallel()

	terminal := map[TargetStatus]bool{
		StatusWaiting:    false,
		StatusLoading:    false,
		StatusGenerating: false,
		StatusRendering:  false,
		StatusDone:       true,
		StatusFailed:     true,
	}
	for status, want := range terminal {
		assert.Equal(t, want, status.Terminal(), string(status))
	}
}

func TestBookNames(t *testing.T) {
	t.Parallel()

	projects := []ArchivedProject{
		{ID: "2", BookName: "Deep Work", CreatedAt: time.Unix(2, 0)},
		{ID: "1", BookName: "Atomic Habits", CreatedAt: time.Unix(1, 0)},
	}
	assert.Equal(t, []string{"Deep Work", "Atomic Habits"}, BookNames(projects))
	assert.Empty(t, BookNames(nil))
}

func TestNormalizeSubject(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "活着", NormalizeSubject(" 《活着》 "))
	assert.Equal(t, "Deep Work", NormalizeSubject("Deep Work\n"))
	assert.Equal(t, "", NormalizeSubject("《》"))
}
