// Package resource defines the data model shared by every stage of the
// pipeline: resources, groups, the group model, cache keys and cache entries.
package resource

import (
	"bytes"
	"compress/gzip"
	"crypto/sha1"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"
)

// Type classifies a resource by the bundle it belongs to.
type Type string

const (
	TypeCSS Type = "css"
	TypeJS  Type = "js"
)

// GroupScheme prefixes a member that references another group instead of a resource.
const GroupScheme = "group:"

// ParseType parses the name of a resource type, case insensitively.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "css":
		return TypeCSS, nil
	case "js":
		return TypeJS, nil
	default:
		return "", fmt.Errorf("unknown resource type '%s'", s)
	}
}

// TypeFromURI infers the type from the extension of the uri.
func TypeFromURI(uri string) (Type, bool) {
	if i := strings.IndexAny(uri, "?#"); i >= 0 {
		uri = uri[:i]
	}
	switch strings.ToLower(path.Ext(uri)) {
	case ".css":
		return TypeCSS, true
	case ".js":
		return TypeJS, true
	default:
		return "", false
	}
}

// ContentType returns the MIME type served for bundles of this type.
func (t Type) ContentType() string {
	switch t {
	case TypeCSS:
		return "text/css"
	case TypeJS:
		return "application/javascript"
	default:
		return "application/octet-stream"
	}
}

// Resource is a single addressable asset. Its identity is the URI.
type Resource struct {
	URI      string
	Type     Type
	Minimize bool
}

// NewResource builds a resource whose minimize flag defaults to true, as
// assets are minimized unless explicitly excluded.
func NewResource(uri string, typ Type) Resource {
	return Resource{URI: uri, Type: typ, Minimize: true}
}

// GroupRef builds a member that expands to the resources of another group.
func GroupRef(name string) Resource {
	return Resource{URI: GroupScheme + name}
}

// IsGroupRef reports whether the member references another group.
func (r Resource) IsGroupRef() bool {
	return strings.HasPrefix(r.URI, GroupScheme)
}

// RefName returns the referenced group name of a group reference.
func (r Resource) RefName() string {
	return strings.TrimPrefix(r.URI, GroupScheme)
}

func (r Resource) String() string {
	return fmt.Sprintf("%s[%s]", r.URI, r.Type)
}

// Group is a named, ordered list of members. Order is the concatenation order.
type Group struct {
	Name      string
	Resources []Resource
}

// Model maps group names to groups. A Model is never mutated after it has
// been published by the model store; reloads replace it wholesale.
type Model struct {
	Groups  map[string]Group
	Version uint64
}

// NewModel indexes groups by name. Duplicate names are rejected.
func NewModel(groups ...Group) (*Model, error) {
	m := &Model{Groups: make(map[string]Group, len(groups))}
	for _, g := range groups {
		if g.Name == "" {
			return nil, fmt.Errorf("group without a name")
		}
		if _, ok := m.Groups[g.Name]; ok {
			return nil, fmt.Errorf("duplicate group '%s'", g.Name)
		}
		m.Groups[g.Name] = g
	}
	return m, nil
}

// MustNewModel is NewModel that panics, for fixtures.
func MustNewModel(groups ...Group) *Model {
	m, err := NewModel(groups...)
	if err != nil {
		panic(err)
	}
	return m
}

// Group returns the group with the given name.
func (m *Model) Group(name string) (Group, bool) {
	if m == nil {
		return Group{}, false
	}
	g, ok := m.Groups[name]
	return g, ok
}

// Names returns the group names in no particular order.
func (m *Model) Names() []string {
	names := make([]string, 0, len(m.Groups))
	for name := range m.Groups {
		names = append(names, name)
	}
	return names
}

// CacheKey identifies one bundle. Equality is structural.
type CacheKey struct {
	Group    string
	Type     Type
	Minimize bool
}

func (k CacheKey) String() string {
	return fmt.Sprintf("%s.%s?minimize=%t", k.Group, k.Type, k.Minimize)
}

// HashSize is the length of Entry.Hash.
const HashSize = sha1.Size

// Entry is the published output of one pipeline run. Entries are immutable:
// Content must never be written to once the entry has been created.
type Entry struct {
	Content    []byte
	Hash       [HashSize]byte
	ProducedAt time.Time

	gzipOnce sync.Once
	gzipped  []byte
	gzipErr  error
}

// NewEntry hashes content and stamps the entry with the given time.
func NewEntry(content []byte, producedAt time.Time) *Entry {
	return &Entry{
		Content:    content,
		Hash:       sha1.Sum(content),
		ProducedAt: producedAt,
	}
}

// ETag returns the hex encoded content hash.
func (e *Entry) ETag() string {
	return fmt.Sprintf("%x", e.Hash)
}

// Gzipped returns the gzip compressed content. It is computed on the first
// call and kept with the entry.
func (e *Entry) Gzipped() ([]byte, error) {
	e.gzipOnce.Do(func() {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(e.Content); err != nil {
			e.gzipErr = err
			return
		}
		if err := zw.Close(); err != nil {
			e.gzipErr = err
			return
		}
		e.gzipped = buf.Bytes()
	})
	return e.gzipped, e.gzipErr
}
