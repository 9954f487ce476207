package export

import (
	"fmt"
	"strings"
	"time"
)

const dateLayout = "20060102"

// DateStamp formats t as YYYYMMDD in UTC.
func DateStamp(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

// segmentReplacer swaps path separators for their full-width forms.
var segmentReplacer = strings.NewReplacer("/", "／", `\`, "＼")

// Segment makes subject safe to embed in a single archive path segment.
// Titles such as "AC/DC 传" keep their look; "", "." and ".." become "_".
func Segment(subject string) string {
	s := strings.TrimSpace(segmentReplacer.Replace(subject))
	if s == "" || strings.Trim(s, ".") == "" {
		return "_"
	}
	return s
}

// FolderName is the per-subject folder inside the archive.
func FolderName(date, subject string) string {
	return date + "_" + Segment(subject)
}

// CoverName is the cover image file name.
func CoverName(subject string) string {
	return "01_封面_" + Segment(subject) + ".png"
}

// QuoteName is the file name of the i-th quote image, zero based. Positions
// start at 02 after the cover.
func QuoteName(i int) string {
	return fmt.Sprintf("%02d_摘录_%d.png", i+2, i+1)
}

// NotesName is the markdown copy file name.
func NotesName(subject string) string {
	return Segment(subject) + "_文案.md"
}

// ArchiveName is the top-level zip file name.
func ArchiveName(date string) string {
	return date + "_热度书单.zip"
}

// Notes renders the markdown copy for a post.
func Notes(title, body string) []byte {
	return []byte("# " + title + "\n\n" + body)
}
