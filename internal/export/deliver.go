package export

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/JakeFAU/realtime-booklist/internal/studio"
)

// ContentType is the media type of delivered archives.
const ContentType = "application/zip"

// Artifact describes a delivered archive.
type Artifact struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	URI    string `json:"uri"`
	SHA256 string `json:"sha256"`
	Size   int    `json:"size"`
}

// Deliverer writes serialized bundles to a blob store. It is the service-side
// counterpart of a browser download.
type Deliverer struct {
	store  studio.BlobStore
	prefix string
	hasher studio.Hasher
}

// NewDeliverer builds a Deliverer. prefix is prepended to every object path;
// hasher may be nil.
func NewDeliverer(store studio.BlobStore, prefix string, hasher studio.Hasher) *Deliverer {
	return &Deliverer{store: store, prefix: prefix, hasher: hasher}
}

// ObjectPath maps an archive name to its object path.
func (d *Deliverer) ObjectPath(name string) string {
	if d.prefix == "" {
		return name
	}
	return path.Join(d.prefix, name)
}

// Deliver stores data under name.
func (d *Deliverer) Deliver(ctx context.Context, name string, data []byte) (Artifact, error) {
	if d.store == nil {
		return Artifact{}, fmt.Errorf("deliver %s: no blob store configured", name)
	}
	art := Artifact{Name: name, Path: d.ObjectPath(name), Size: len(data)}
	if d.hasher != nil {
		sum, err := d.hasher.Hash(data)
		if err != nil {
			return Artifact{}, fmt.Errorf("hash %s: %w", name, err)
		}
		art.SHA256 = sum
	}
	uri, err := d.store.PutObject(ctx, art.Path, ContentType, bytes.NewReader(data))
	if err != nil {
		return Artifact{}, fmt.Errorf("deliver %s: %w", name, err)
	}
	art.URI = uri
	return art, nil
}
