// Package taxonomy loads and validates the search matrix file.
package taxonomy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/gleaner/internal/models"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Load reads a taxonomy from a .json, .yaml or .yml file and validates it
func Load(path string, required []string) (*models.Taxonomy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read taxonomy %s: %w", path, err)
	}
	return Parse(data, filepath.Ext(path), required)
}

// Parse decodes data in the format named by ext and validates it.
// Unknown top-level keys are rejected.
func Parse(data []byte, ext string, required []string) (*models.Taxonomy, error) {
	var t models.Taxonomy

	switch strings.ToLower(ext) {
	case ".json", "":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&t); err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrInvalidTaxonomy, err)
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&t); err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrInvalidTaxonomy, err)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported taxonomy format %q", models.ErrInvalidTaxonomy, ext)
	}

	if err := validate.Struct(&t); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidTaxonomy, err)
	}
	if err := t.Validate(required); err != nil {
		return nil, err
	}
	return &t, nil
}
