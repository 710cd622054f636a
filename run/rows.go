package run

import (
	"encoding/csv"
	"os"
	"strings"

	"github.com/veligo/chronodrive/classify"
	"github.com/veligo/chronodrive/errors"
)

// LoadRows reads a batch CSV into rows. Expected columns are
// account,project,extra; a header row naming the first column "account"
// (any case) is skipped. Short records leave the remaining fields empty.
func LoadRows(path string) ([]classify.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open batch file %s", path)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse batch file %s", path)
	}

	rows := make([]classify.Row, 0, len(records))
	for i, record := range records {
		if len(record) == 0 {
			continue
		}
		if i == 0 && strings.EqualFold(strings.TrimSpace(record[0]), "account") {
			continue
		}

		var row classify.Row
		row.Account = strings.TrimSpace(record[0])
		if len(record) > 1 {
			row.Project = strings.TrimSpace(record[1])
		}
		if len(record) > 2 {
			row.Extra = strings.TrimSpace(record[2])
		}
		if row.Account == "" {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// FilterRows keeps rows whose account is in accountIDs. An empty filter
// keeps everything. Matching ignores case and surrounding whitespace, like
// classification does.
func FilterRows(rows []classify.Row, accountIDs []string) []classify.Row {
	if len(accountIDs) == 0 {
		return rows
	}

	want := make(map[string]bool, len(accountIDs))
	for _, id := range accountIDs {
		want[strings.ToLower(strings.TrimSpace(id))] = true
	}

	out := make([]classify.Row, 0, len(rows))
	for _, row := range rows {
		if want[strings.ToLower(strings.TrimSpace(row.Account))] {
			out = append(out, row)
		}
	}
	return out
}
