package layout

import (
	stderrors "errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"ffibind/internal/errors"
)

// ManifestVersion is written into every manifest.
const ManifestVersion = 1

// Manifest records the computed layouts of a unit for a set of platforms.
type Manifest struct {
	Version   int                       `yaml:"version"`
	Unit      string                    `yaml:"unit"`
	Platforms map[string][]StructLayout `yaml:"platforms"`
}

// BuildManifest computes the layouts of every calculator's platform.
func BuildManifest(unit string, calcs ...*Calculator) (*Manifest, error) {
	m := &Manifest{
		Version:   ManifestVersion,
		Unit:      unit,
		Platforms: make(map[string][]StructLayout, len(calcs)),
	}
	for _, c := range calcs {
		layouts, err := c.All()
		if err != nil {
			return nil, err
		}
		m.Platforms[c.Platform().Name] = layouts
	}
	return m, nil
}

// Marshal encodes the manifest as YAML.
func (m *Manifest) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding layout manifest: %w", err)
	}
	return data, nil
}

// ParseManifest decodes a YAML manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing layout manifest: %w", err)
	}
	if m.Version != ManifestVersion {
		return nil, fmt.Errorf("unsupported layout manifest version %d", m.Version)
	}
	return &m, nil
}

// Verify recomputes the layouts recorded for c's platform and reports every
// struct, size or offset that differs.
func Verify(m *Manifest, c *Calculator) error {
	platform := c.Platform().Name
	recorded, ok := m.Platforms[platform]
	if !ok {
		return fmt.Errorf("manifest for %s has no layouts for %s", m.Unit, platform)
	}

	var errs []error
	mismatch := func(symbol, field, format string, args ...any) {
		errs = append(errs, &errors.LayoutError{
			Platform: platform,
			Symbol:   symbol,
			Field:    field,
			Detail:   fmt.Sprintf(format, args...),
		})
	}

	for _, want := range recorded {
		got, err := c.Struct(want.Name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if got.Size != want.Size || got.Align != want.Align {
			mismatch(want.Name, "", "size/align %d/%d, manifest records %d/%d", got.Size, got.Align, want.Size, want.Align)
		}
		if len(got.Fields) != len(want.Fields) {
			mismatch(want.Name, "", "%d fields, manifest records %d", len(got.Fields), len(want.Fields))
			continue
		}
		for i, wf := range want.Fields {
			gf := got.Fields[i]
			if gf != wf {
				mismatch(want.Name, wf.Name, "offset %d size %d, manifest records offset %d size %d", gf.Offset, gf.Size, wf.Offset, wf.Size)
			}
		}
	}
	return stderrors.Join(errs...)
}
