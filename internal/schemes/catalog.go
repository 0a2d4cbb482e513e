package schemes

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"plantwatch-backend/internal/monitor"
)

// Catalog is the static list returned when the matching service is unavailable.
type Catalog struct {
	schemes []monitor.Scheme
}

var builtinSchemes = []monitor.Scheme{
	{
		Name:        "Credit Linked Capital Subsidy Scheme",
		Ministry:    "Ministry of MSME",
		Level:       "Central",
		MaxBenefit:  "15% capital subsidy up to INR 15 lakh",
		BenefitType: "Capital subsidy",
		Description: "Subsidy on institutional credit for replacing or upgrading plant machinery with proven technology.",
		EligibilityCriteria: []string{
			"Registered MSME unit",
			"Term loan from an eligible lending institution",
		},
		PriorityMatch: true,
	},
	{
		Name:        "Zero Defect Zero Effect Certification",
		Ministry:    "Ministry of MSME",
		Level:       "Central",
		MaxBenefit:  "Up to 80% of certification cost",
		BenefitType: "Reimbursement",
		Description: "Support for process improvement and maintenance practices that reduce defects and downtime.",
		EligibilityCriteria: []string{
			"Udyam registration",
		},
	},
	{
		Name:        "Technology Upgradation Fund Scheme",
		Ministry:    "Ministry of Textiles",
		Level:       "Central",
		MaxBenefit:  "10% capital investment subsidy",
		BenefitType: "Capital subsidy",
		Description: "One-time capital subsidy for benchmarked machinery in eligible manufacturing segments.",
		EligibilityCriteria: []string{
			"Investment in benchmarked machinery",
		},
	},
}

func BuiltinCatalog() *Catalog {
	return &Catalog{schemes: builtinSchemes}
}

type catalogFile struct {
	Schemes []monitor.Scheme `yaml:"schemes"`
}

// LoadCatalog reads a YAML catalog. An empty path yields the builtin list.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return BuiltinCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scheme catalog: %w", err)
	}
	return ParseCatalog(data)
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse scheme catalog: %w", err)
	}
	if len(file.Schemes) == 0 {
		return nil, errors.New("scheme catalog is empty")
	}
	for i, s := range file.Schemes {
		if s.Name == "" {
			return nil, fmt.Errorf("scheme %d has no name", i)
		}
		if s.EligibilityCriteria == nil {
			file.Schemes[i].EligibilityCriteria = []string{}
		}
	}
	return &Catalog{schemes: file.Schemes}, nil
}

func (c *Catalog) MatchSchemes(ctx context.Context, profile monitor.Profile, issue string) ([]monitor.Scheme, error) {
	out := make([]monitor.Scheme, len(c.schemes))
	for i, s := range c.schemes {
		s.EligibilityCriteria = append([]string{}, s.EligibilityCriteria...)
		out[i] = s
	}
	return out, nil
}
