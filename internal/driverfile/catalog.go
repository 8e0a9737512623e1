package driverfile

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Catalog maps engine types to the artifact that provides their driver.
type Catalog struct {
	Drivers map[string]Coordinates `yaml:"drivers"`
}

// LoadCatalog decodes a YAML catalog and validates every entry.
func LoadCatalog(r io.Reader) (Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return Catalog{}, fmt.Errorf("decode driver catalog: %w", err)
	}
	normalized := make(map[string]Coordinates, len(c.Drivers))
	for engine, coords := range c.Drivers {
		if err := coords.Validate(); err != nil {
			return Catalog{}, fmt.Errorf("driver catalog entry %q: %w", engine, err)
		}
		normalized[strings.ToLower(engine)] = coords
	}
	c.Drivers = normalized
	return c, nil
}

// DefaultCatalog returns the catalog compiled into the binary.
func DefaultCatalog() Catalog {
	c, err := LoadCatalog(bytes.NewReader(defaultCatalog))
	if err != nil {
		panic(err)
	}
	return c
}

// Lookup returns the coordinates for engine.
func (c Catalog) Lookup(engine string) (Coordinates, bool) {
	coords, ok := c.Drivers[strings.ToLower(engine)]
	return coords, ok
}
