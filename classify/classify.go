// Package classify maps raw account and project codes to display names and
// flags special non-work day codes. Lookups are case-insensitive and
// whitespace-trimmed. A Classifier is immutable once built; configuration
// reloads replace it wholesale so consumers never observe partial updates.
package classify

import "strings"

// Kind is the classification of an account code.
type Kind string

const (
	KindRegular  Kind = "regular"
	KindVacation Kind = "vacation"
	KindNoWork   Kind = "no_work"
	KindWeekend  Kind = "weekend"
)

// IsSpecial reports whether the kind takes the alternate, single-field
// recording path instead of the full entry path.
func (k Kind) IsSpecial() bool {
	return k == KindVacation || k == KindNoWork || k == KindWeekend
}

// Row is one unit of work submitted to a run: one day/account/project
// combination. Immutable once loaded into a run; input order corresponds to
// calendar days and is preserved.
type Row struct {
	Account string `json:"account"`
	Project string `json:"project"`
	Extra   string `json:"extra,omitempty"`
}

// normalize produces the canonical lookup key for a code.
func normalize(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

type accountEntry struct {
	displayName string
	projects    map[string]string
}

// Classifier resolves account codes to kinds and display names.
type Classifier struct {
	accounts map[string]accountEntry
	special  map[string]Kind
	// order of the special checks; matters only if a code was misconfigured
	// into multiple sets before validation existed
	precedence []Kind
}

// NewClassifier builds a Classifier from validated mappings.
func NewClassifier(m *Mappings) *Classifier {
	c := &Classifier{
		accounts:   make(map[string]accountEntry, len(m.Accounts)),
		special:    make(map[string]Kind),
		precedence: []Kind{KindVacation, KindNoWork, KindWeekend},
	}

	for code, acct := range m.Accounts {
		entry := accountEntry{
			displayName: acct.DisplayName,
			projects:    make(map[string]string, len(acct.Projects)),
		}
		for proj, name := range acct.Projects {
			entry.projects[normalize(proj)] = name
		}
		c.accounts[normalize(code)] = entry
	}

	addSet := func(codes []string, kind Kind) {
		for _, code := range codes {
			key := normalize(code)
			if _, taken := c.special[key]; !taken {
				c.special[key] = kind
			}
		}
	}
	// Insertion in precedence order so a duplicated code keeps the
	// highest-precedence kind.
	addSet(m.Special.Vacation, KindVacation)
	addSet(m.Special.NoWork, KindNoWork)
	addSet(m.Special.Weekend, KindWeekend)

	return c
}

// Classify returns the kind for an account code.
func (c *Classifier) Classify(code string) Kind {
	if kind, ok := c.special[normalize(code)]; ok {
		return kind
	}
	return KindRegular
}

// AccountName returns the display name for an account code, falling back to
// the original code when unmapped.
func (c *Classifier) AccountName(code string) string {
	if entry, ok := c.accounts[normalize(code)]; ok && entry.displayName != "" {
		return entry.displayName
	}
	return code
}

// ProjectName returns the display name for a project code under an account,
// falling back to the project code when either side is unmapped.
func (c *Classifier) ProjectName(code, project string) string {
	entry, ok := c.accounts[normalize(code)]
	if !ok {
		return project
	}
	if name, ok := entry.projects[normalize(project)]; ok && name != "" {
		return name
	}
	return project
}

// HasAccount reports whether an account code is mapped.
func (c *Classifier) HasAccount(code string) bool {
	_, ok := c.accounts[normalize(code)]
	return ok
}

// HasProject reports whether a project code is mapped under an account.
func (c *Classifier) HasProject(code, project string) bool {
	entry, ok := c.accounts[normalize(code)]
	if !ok {
		return false
	}
	_, ok = entry.projects[normalize(project)]
	return ok
}

// BatchReport is the result of validating a batch of rows against the
// mapping table.
type BatchReport struct {
	Valid            bool
	UnmappedAccounts map[string]struct{}
	UnmappedProjects map[string]struct{}
}

// ValidateBatch checks every row's account and project against the table.
// Rows classified as special are exempt: they take the alternate recording
// path and need no project mapping.
func (c *Classifier) ValidateBatch(rows []Row) BatchReport {
	report := BatchReport{
		Valid:            true,
		UnmappedAccounts: make(map[string]struct{}),
		UnmappedProjects: make(map[string]struct{}),
	}

	for _, row := range rows {
		if c.Classify(row.Account).IsSpecial() {
			continue
		}
		if !c.HasAccount(row.Account) {
			report.UnmappedAccounts[normalize(row.Account)] = struct{}{}
			report.Valid = false
			continue
		}
		if !c.HasProject(row.Account, row.Project) {
			report.UnmappedProjects[normalize(row.Project)] = struct{}{}
			report.Valid = false
		}
	}

	return report
}
