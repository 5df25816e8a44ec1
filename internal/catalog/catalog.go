// Package catalog holds the phase template every new project is seeded from.
package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/vbonduro/buildtrack/internal/domain"
)

//go:embed default.yaml
var defaultYAML []byte

type Catalog struct {
	Phases []PhaseTemplate `yaml:"phases"`
}

type PhaseTemplate struct {
	Title           string               `yaml:"title"`
	Objective       string               `yaml:"objective"`
	ClosingCriteria string               `yaml:"closingCriteria"`
	Checkpoints     []CheckpointTemplate `yaml:"checkpoints"`
}

type CheckpointTemplate struct {
	Title  string          `yaml:"title"`
	Fields []FieldTemplate `yaml:"fields"`
}

type FieldTemplate struct {
	Label    string           `yaml:"label"`
	Type     domain.FieldType `yaml:"type"`
	Options  []string         `yaml:"options"`
	Required bool             `yaml:"required"`
}

// Default returns the catalog compiled into the binary.
func Default() (*Catalog, error) {
	return Load(bytes.NewReader(defaultYAML))
}

// LoadFile reads a catalog from path. An empty path yields the default catalog.
func LoadFile(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Load(f)
}

func Load(r io.Reader) (*Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) validate() error {
	if len(c.Phases) == 0 {
		return errors.New("catalog has no phases")
	}
	for i, p := range c.Phases {
		if p.Title == "" {
			return fmt.Errorf("phase %d: title required", i)
		}
		for j, cp := range p.Checkpoints {
			if cp.Title == "" {
				return fmt.Errorf("phase %q checkpoint %d: title required", p.Title, j)
			}
			for k, f := range cp.Fields {
				if !f.Type.Valid() {
					return fmt.Errorf("phase %q checkpoint %q field %d: unknown type %q", p.Title, cp.Title, k, f.Type)
				}
				if f.Type == domain.FieldSelector && len(f.Options) == 0 {
					return fmt.Errorf("phase %q checkpoint %q field %q: selector without options", p.Title, cp.Title, f.Label)
				}
			}
		}
	}
	return nil
}

// Seed builds a fresh phase tree. Every phase, checkpoint and field gets an
// identifier from newID; statuses start at NotStarted and checkboxes at false.
func (c *Catalog) Seed(newID func() string) []domain.Phase {
	phases := make([]domain.Phase, 0, len(c.Phases))
	for _, pt := range c.Phases {
		phase := domain.Phase{
			ID:              newID(),
			Title:           pt.Title,
			Objective:       pt.Objective,
			ClosingCriteria: pt.ClosingCriteria,
			Status:          domain.StatusNotStarted,
			Checkpoints:     make([]domain.Checkpoint, 0, len(pt.Checkpoints)),
		}
		for _, ct := range pt.Checkpoints {
			cp := domain.Checkpoint{
				ID:     newID(),
				Title:  ct.Title,
				Status: domain.StatusNotStarted,
				Fields: make([]domain.Field, 0, len(ct.Fields)),
			}
			for _, ft := range ct.Fields {
				f := domain.Field{
					ID:       newID(),
					Label:    ft.Label,
					Type:     ft.Type,
					Required: ft.Required,
				}
				if len(ft.Options) > 0 {
					f.Options = append([]string(nil), ft.Options...)
				}
				if ft.Type == domain.FieldCheckbox {
					f.Value = domain.Bool(false)
				}
				cp.Fields = append(cp.Fields, f)
			}
			phase.Checkpoints = append(phase.Checkpoints, cp)
		}
		phases = append(phases, phase)
	}
	return phases
}
