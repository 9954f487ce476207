// Package export assembles rendered posts into a zip archive and delivers it.
package export

import (
	"archive/zip"
	"bytes"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"
)

// File is one entry of a folder.
type File struct {
	Name string
	Data []byte
}

// Folder groups the files of one subject.
type Folder struct {
	Name  string
	Files []File
}

// Bundle is an in-memory archive, one folder per completed subject. It lives
// for a single run and is discarded on failure.
type Bundle struct {
	folders []*Folder
	index   map[string]*Folder
	modTime time.Time
}

// NewBundle returns an empty bundle whose entries carry modTime.
func NewBundle(modTime time.Time) *Bundle {
	return &Bundle{index: make(map[string]*Folder), modTime: modTime}
}

// Add places data at folder/name, creating the folder on first use. Folders
// keep insertion order; adding an existing name replaces its data.
func (b *Bundle) Add(folder, name string, data []byte) error {
	if err := checkSegment(folder); err != nil {
		return fmt.Errorf("folder: %w", err)
	}
	if err := checkSegment(name); err != nil {
		return fmt.Errorf("file: %w", err)
	}
	f, ok := b.index[folder]
	if !ok {
		f = &Folder{Name: folder}
		b.index[folder] = f
		b.folders = append(b.folders, f)
	}
	for i := range f.Files {
		if f.Files[i].Name == name {
			f.Files[i].Data = data
			return nil
		}
	}
	f.Files = append(f.Files, File{Name: name, Data: data})
	return nil
}

// Folders returns the folder names in insertion order.
func (b *Bundle) Folders() []string {
	out := make([]string, 0, len(b.folders))
	for _, f := range b.folders {
		out = append(out, f.Name)
	}
	return out
}

// Len is the number of files across all folders.
func (b *Bundle) Len() int {
	n := 0
	for _, f := range b.folders {
		n += len(f.Files)
	}
	return n
}

// Bytes serializes the bundle as a zip archive. Entries within a folder are
// written in name order, which matches their positional prefixes.
func (b *Bundle) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range b.folders {
		files := append([]File(nil), f.Files...)
		sort.SliceStable(files, func(i, j int) bool { return files[i].Name < files[j].Name })
		for _, file := range files {
			hdr := &zip.FileHeader{
				Name:     path.Join(f.Name, file.Name),
				Method:   zip.Deflate,
				Modified: b.modTime,
			}
			// Names are UTF-8; the flag makes unzip tools decode them as such.
			hdr.Flags |= 0x800
			w, err := zw.CreateHeader(hdr)
			if err != nil {
				return nil, fmt.Errorf("create %s: %w", hdr.Name, err)
			}
			if _, err := w.Write(file.Data); err != nil {
				return nil, fmt.Errorf("write %s: %w", hdr.Name, err)
			}
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close zip: %w", err)
	}
	return buf.Bytes(), nil
}

func checkSegment(s string) error {
	switch {
	case strings.TrimSpace(s) == "":
		return fmt.Errorf("name is empty")
	case strings.ContainsAny(s, `/\`), s == "." || s == "..":
		return fmt.Errorf("invalid name %q", s)
	}
	return nil
}
