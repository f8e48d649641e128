package model

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Entry describes one published model.
type Entry struct {
	Name    string   `yaml:"-"`
	Dir     string   `yaml:"dir"`
	Weight  string   `yaml:"weight"`
	Height  int      `yaml:"height"`
	Width   int      `yaml:"width"`
	Outputs []string `yaml:"outputs"`
}

// Catalog maps model names to where their weights live.
type Catalog struct {
	Remote string           `yaml:"remote"`
	Models map[string]Entry `yaml:"models"`
}

// LoadCatalog parses the embedded catalog. $MODEL_REMOTE replaces the
// bucket base URL.
func LoadCatalog() (*Catalog, error) {
	c, err := ParseCatalog(catalogYAML)
	if err != nil {
		return nil, err
	}
	if remote := os.Getenv("MODEL_REMOTE"); remote != "" {
		c.Remote = remote
	}
	return c, nil
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	for name, e := range c.Models {
		if e.Weight == "" {
			return nil, fmt.Errorf("catalog entry %q has no weight", name)
		}
		e.Name = name
		c.Models[name] = e
	}
	return &c, nil
}

// Lookup returns the entry for name.
func (c *Catalog) Lookup(name string) (Entry, error) {
	e, ok := c.Models[name]
	if !ok {
		return Entry{}, fmt.Errorf("unknown model %q (known: %s)", name, strings.Join(c.Names(), ", "))
	}
	return e, nil
}

// Names lists every model in the catalog in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.Models))
	for name := range c.Models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// URL is the remote location of file inside the entry's directory.
func (c *Catalog) URL(e Entry, file string) string {
	return strings.TrimRight(c.Remote, "/") + "/" + e.Dir + "/" + file
}
