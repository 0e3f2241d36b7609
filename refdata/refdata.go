// Package refdata loads the static category and city reference lists the
// analyzer cross-multiplies. Both lists are immutable configuration: they
// are read once at startup and never written back.
package refdata

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"gapfill/models"
)

const (
	categoriesFile = "categories.yaml"
	citiesFile     = "cities.yaml"
)

// LoadCategories reads and validates the category list from dir.
func LoadCategories(dir string) ([]models.CategoryDefinition, error) {
	path := filepath.Join(dir, categoriesFile)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("refdata: read %s: %w", path, err)
	}

	var categories []models.CategoryDefinition
	if err := yaml.Unmarshal(raw, &categories); err != nil {
		return nil, fmt.Errorf("refdata: parse %s: %w", path, err)
	}

	seen := make(map[string]struct{}, len(categories))
	for i, c := range categories {
		if c.Slug == "" || c.Name == "" {
			return nil, fmt.Errorf("refdata: category #%d: slug and name are required", i)
		}
		if _, dup := seen[c.Slug]; dup {
			return nil, fmt.Errorf("refdata: duplicate category slug %q", c.Slug)
		}
		seen[c.Slug] = struct{}{}
	}
	return categories, nil
}

// LoadCities reads and validates the city list from dir.
func LoadCities(dir string) ([]models.LocationReference, error) {
	path := filepath.Join(dir, citiesFile)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("refdata: read %s: %w", path, err)
	}

	var cities []models.LocationReference
	if err := yaml.Unmarshal(raw, &cities); err != nil {
		return nil, fmt.Errorf("refdata: parse %s: %w", path, err)
	}

	seen := make(map[string]struct{}, len(cities))
	for i, c := range cities {
		if c.Slug == "" || c.City == "" || c.State == "" {
			return nil, fmt.Errorf("refdata: city #%d: slug, city and state are required", i)
		}
		if c.Population <= 0 {
			return nil, fmt.Errorf("refdata: city %q: population must be positive", c.Slug)
		}
		if _, dup := seen[c.Slug]; dup {
			return nil, fmt.Errorf("refdata: duplicate city slug %q", c.Slug)
		}
		seen[c.Slug] = struct{}{}
	}
	return cities, nil
}
