package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// CategorySocialMedia is the catalog category toggled by the social media
// control.
const CategorySocialMedia = "social_media"

// Catalog maps named categories to the blocked-service identifiers the
// filtering engine recognises. It is loaded once and shared by all devices.
type Catalog struct {
	Version    string              `yaml:"version" json:"version"`
	Categories map[string][]string `yaml:"categories" json:"categories"`
}

// DefaultCatalog returns the built-in category mapping.
func DefaultCatalog() *Catalog {
	c := &Catalog{
		Version: "builtin-1",
		Categories: map[string][]string{
			CategorySocialMedia: {"youtube", "tiktok", "instagram", "facebook", "snapchat", "twitter"},
			"gaming":            {"roblox", "fortnite", "minecraft", "twitch"},
			"adult_content":     {"adult", "porn"},
		},
	}
	c.normalize()
	return c
}

// LoadCatalog reads a YAML catalog file. An empty path yields the default.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a YAML catalog document.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if c.Version == "" {
		return nil, fmt.Errorf("catalog: version is required")
	}
	if len(c.Categories[CategorySocialMedia]) == 0 {
		return nil, fmt.Errorf("catalog: category %q must list at least one service", CategorySocialMedia)
	}
	c.normalize()
	return &c, nil
}

func (c *Catalog) normalize() {
	out := make(map[string][]string, len(c.Categories))
	for name, services := range c.Categories {
		seen := make(map[string]bool, len(services))
		var list []string
		for _, s := range services {
			s = strings.ToLower(strings.TrimSpace(s))
			if s == "" || seen[s] {
				continue
			}
			seen[s] = true
			list = append(list, s)
		}
		sort.Strings(list)
		out[strings.ToLower(strings.TrimSpace(name))] = list
	}
	c.Categories = out
}

// Has reports whether the category exists.
func (c *Catalog) Has(category string) bool {
	_, ok := c.Categories[category]
	return ok
}

// Services returns the sorted service identifiers for a category.
func (c *Catalog) Services(category string) []string {
	return c.Categories[category]
}

// Names returns the sorted category names.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.Categories))
	for name := range c.Categories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Managed returns every service identifier mentioned by any category, i.e.
// the services this daemon owns inside an engine client's blocked list.
func (c *Catalog) Managed() map[string]bool {
	out := make(map[string]bool)
	for _, services := range c.Categories {
		for _, s := range services {
			out[s] = true
		}
	}
	return out
}
