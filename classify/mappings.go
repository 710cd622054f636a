package classify

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/veligo/chronodrive/errors"
)

// Account is one configured account mapping.
type Account struct {
	DisplayName string            `yaml:"display_name"`
	Projects    map[string]string `yaml:"projects"`
}

// SpecialSets holds the account codes recorded via the alternate path.
// Membership is mutually exclusive across the three sets; Validate enforces
// this at load time instead of silently resolving via precedence.
type SpecialSets struct {
	Vacation []string `yaml:"vacation"`
	NoWork   []string `yaml:"no_work"`
	Weekend  []string `yaml:"weekend"`
}

// Mappings is the on-disk configuration for the classifier.
type Mappings struct {
	Accounts map[string]Account `yaml:"accounts"`
	Special  SpecialSets        `yaml:"special"`
}

// LoadMappings reads and validates a YAML mappings file.
func LoadMappings(path string) (*Mappings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read mappings file %s", path)
	}

	var m Mappings
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrapf(err, "parse mappings file %s", path)
	}

	if err := m.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid mappings file %s", path)
	}

	return &m, nil
}

// Validate checks structural invariants: account codes unique after
// normalization, and special sets disjoint.
func (m *Mappings) Validate() error {
	seen := make(map[string]string, len(m.Accounts))
	for code := range m.Accounts {
		key := normalize(code)
		if key == "" {
			return errors.New("account code must not be empty")
		}
		if prev, dup := seen[key]; dup {
			return errors.Newf("account codes %q and %q collide after normalization", prev, code)
		}
		seen[key] = code
	}

	membership := make(map[string]string)
	check := func(codes []string, set string) error {
		for _, code := range codes {
			key := normalize(code)
			if key == "" {
				return errors.Newf("special set %s contains an empty code", set)
			}
			if prev, dup := membership[key]; dup {
				return errors.Newf("code %q belongs to both %s and %s special sets", code, prev, set)
			}
			membership[key] = set
		}
		return nil
	}

	if err := check(m.Special.Vacation, "vacation"); err != nil {
		return err
	}
	if err := check(m.Special.NoWork, "no_work"); err != nil {
		return err
	}
	if err := check(m.Special.Weekend, "weekend"); err != nil {
		return err
	}

	return nil
}
