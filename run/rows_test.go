package run

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veligo/chronodrive/classify"
)

func writeBatch(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "batch.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadRows(t *testing.T) {
	path := writeBatch(t, `account,project,extra
acme,p100,onboarding
Globex , p200
vac
`)

	rows, err := LoadRows(path)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, classify.Row{Account: "acme", Project: "p100", Extra: "onboarding"}, rows[0])
	assert.Equal(t, classify.Row{Account: "Globex", Project: "p200"}, rows[1])
	assert.Equal(t, classify.Row{Account: "vac"}, rows[2])
}

func TestLoadRowsWithoutHeader(t *testing.T) {
	path := writeBatch(t, "acme,p100\nglobex,p200\n")

	rows, err := LoadRows(path)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestLoadRowsMissingFile(t *testing.T) {
	_, err := LoadRows(filepath.Join(t.TempDir(), "nope.csv"))
	require.Error(t, err)
}

func TestFilterRows(t *testing.T) {
	rows := []classify.Row{
		{Account: "acme"},
		{Account: "Globex"},
		{Account: "initech"},
	}

	assert.Equal(t, rows, FilterRows(rows, nil), "empty filter keeps everything")

	filtered := FilterRows(rows, []string{"ACME", " globex "})
	require.Len(t, filtered, 2)
	assert.Equal(t, "acme", filtered[0].Account)
	assert.Equal(t, "Globex", filtered[1].Account)
}
