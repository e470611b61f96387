//go:generate mockgen -source factory.go -destination ../../internal/mocks/mock_model_factory.go -package mocks

// Package model holds the group model and the store that reloads it.
package model

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"sigs.k8s.io/yaml"

	"github.com/wrogo/wro/pkg/resource"
)

// Factory creates a fresh model.
type Factory interface {
	Create(ctx context.Context) (*resource.Model, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context) (*resource.Model, error)

func (f FactoryFunc) Create(ctx context.Context) (*resource.Model, error) {
	return f(ctx)
}

// StaticFactory always returns the same model.
type StaticFactory struct {
	model *resource.Model
}

func NewStaticFactory(groups ...resource.Group) (*StaticFactory, error) {
	m, err := resource.NewModel(groups...)
	if err != nil {
		return nil, err
	}
	m.Version = Fingerprint(m)
	return &StaticFactory{model: m}, nil
}

func (f *StaticFactory) Create(context.Context) (*resource.Model, error) {
	return f.model, nil
}

// FileFactory parses a YAML or JSON model file on every Create.
type FileFactory struct {
	path string
}

func NewFileFactory(path string) *FileFactory {
	return &FileFactory{path: path}
}

func (f *FileFactory) Create(context.Context) (*resource.Model, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model file: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse model file '%s': %w", f.path, err)
	}
	return m, nil
}

type fileModel struct {
	Groups []fileGroup `json:"groups"`
}

type fileGroup struct {
	Name      string         `json:"name"`
	Resources []fileResource `json:"resources"`
}

type fileResource struct {
	URI      string `json:"uri,omitempty"`
	Type     string `json:"type,omitempty"`
	Minimize *bool  `json:"minimize,omitempty"`
	Group    string `json:"group,omitempty"`
}

// Parse decodes a model document. YAML and JSON are both accepted.
func Parse(data []byte) (*resource.Model, error) {
	var doc fileModel
	if err := yaml.UnmarshalStrict(data, &doc); err != nil {
		return nil, err
	}

	groups := make([]resource.Group, 0, len(doc.Groups))
	for _, fg := range doc.Groups {
		g := resource.Group{Name: fg.Name}
		for i, fr := range fg.Resources {
			r, err := fr.toResource()
			if err != nil {
				return nil, fmt.Errorf("group '%s' member %d: %w", fg.Name, i, err)
			}
			g.Resources = append(g.Resources, r)
		}
		groups = append(groups, g)
	}

	m, err := resource.NewModel(groups...)
	if err != nil {
		return nil, err
	}
	m.Version = Fingerprint(m)
	return m, nil
}

func (fr fileResource) toResource() (resource.Resource, error) {
	switch {
	case fr.Group != "" && fr.URI != "":
		return resource.Resource{}, fmt.Errorf("member sets both uri '%s' and group '%s'", fr.URI, fr.Group)
	case fr.Group != "":
		return resource.GroupRef(fr.Group), nil
	case fr.URI == "":
		return resource.Resource{}, fmt.Errorf("member has neither uri nor group")
	}

	r := resource.NewResource(fr.URI, "")
	if fr.Type != "" {
		t, err := resource.ParseType(fr.Type)
		if err != nil {
			return resource.Resource{}, err
		}
		r.Type = t
	} else {
		t, ok := resource.TypeFromURI(fr.URI)
		if !ok {
			return resource.Resource{}, fmt.Errorf("cannot infer the type of '%s'", fr.URI)
		}
		r.Type = t
	}
	if fr.Minimize != nil {
		r.Minimize = *fr.Minimize
	}
	return r, nil
}

// Fingerprint hashes the canonical listing of the model. Two models with
// the same groups have the same fingerprint.
func Fingerprint(m *resource.Model) uint64 {
	names := m.Names()
	sort.Strings(names)

	d := xxhash.New()
	for _, name := range names {
		_, _ = d.WriteString(name)
		_, _ = d.WriteString("\x00")
		for _, r := range m.Groups[name].Resources {
			_, _ = d.WriteString(r.URI)
			_, _ = d.WriteString("\x1f")
			_, _ = d.WriteString(string(r.Type))
			_, _ = d.WriteString("\x1f")
			_, _ = d.WriteString(strconv.FormatBool(r.Minimize))
			_, _ = d.WriteString("\x1e")
		}
	}
	return d.Sum64()
}
