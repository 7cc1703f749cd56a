package jobboard

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Selectors is the registry of DOM selectors for the job board.
// Markup changes are absorbed by editing an override file, not code.
type Selectors struct {
	JobCardContainer string `json:"job_card_container" yaml:"job_card_container" validate:"required"`
	JobIDAttr        string `json:"job_id_attr" yaml:"job_id_attr" validate:"required"`
	Title            string `json:"title" yaml:"title" validate:"required"`
	Company          string `json:"company" yaml:"company"`
	Location         string `json:"location" yaml:"location"`
	PostedAt         string `json:"posted_at" yaml:"posted_at"`
	Seniority        string `json:"seniority" yaml:"seniority"`
	EmploymentType   string `json:"emp_type" yaml:"emp_type"`
	Function         string `json:"function" yaml:"function"`
	Industries       string `json:"industries" yaml:"industries"`
	ApplicantCount   string `json:"applicant_count" yaml:"applicant_count"`
	Description      string `json:"description" yaml:"description"`
	NextPage         string `json:"next_page" yaml:"next_page"`
	Sidebar          string `json:"sidebar" yaml:"sidebar"`
	LoginWall        string `json:"login_wall" yaml:"login_wall"`
}

// DefaultSelectors returns the built-in registry
func DefaultSelectors() *Selectors {
	return &Selectors{
		JobCardContainer: "[data-job-id]",
		JobIDAttr:        "data-job-id",
		Title:            "[data-job-id] .job-card-list__title",
		Company:          "[data-job-id] .job-card-container__company-name",
		Location:         "[data-job-id] .job-card-container__metadata-wrapper li",
		PostedAt:         "[data-job-id] time",
		Seniority:        "[data-job-id] .job-card-container__metadata-item:nth-child(1)",
		EmploymentType:   "[data-job-id] .job-card-container__metadata-item:nth-child(2)",
		Function:         "[data-job-id] .job-card-container__metadata-item:nth-child(3)",
		Industries:       "[data-job-id] .job-card-container__metadata-item:nth-child(4)",
		ApplicantCount:   "[data-job-id] .job-card-container__applicant-count",
		Description:      ".jobs-description-content__text",
		NextPage:         `button[aria-label="Next"]`,
		Sidebar:          ".jobs-search-results-list",
		LoginWall:        ".authwall-join-form, form.login__form",
	}
}

// LoadSelectors merges an optional JSON or YAML override file over the
// defaults. Unknown keys are rejected. An empty path yields the defaults.
func LoadSelectors(path string) (*Selectors, error) {
	sel := DefaultSelectors()
	if path == "" {
		return sel, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read selectors %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(sel); err != nil {
			return nil, fmt.Errorf("failed to parse selectors %s: %w", path, err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(sel); err != nil {
			return nil, fmt.Errorf("failed to parse selectors %s: %w", path, err)
		}
	}

	if err := validator.New().Struct(sel); err != nil {
		return nil, fmt.Errorf("invalid selectors %s: %w", path, err)
	}
	return sel, nil
}
