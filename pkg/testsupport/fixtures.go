package testsupport

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

// UpdateGoldenEnv, when set to a non-empty value, makes the golden helpers
// rewrite golden files instead of comparing against them.
const UpdateGoldenEnv = "ORMLAB_UPDATE_GOLDEN"

// FixturePath returns testdata/<name>, relative to the test package directory.
func FixturePath(name string) string {
	return filepath.Join("testdata", name)
}

// GoldenPath returns testdata/golden/<name>.
func GoldenPath(name string) string {
	return filepath.Join("testdata", "golden", name)
}

// LoadFixtureJSON decodes the JSON file at path into dest.
func LoadFixtureJSON(t testing.TB, path string, dest any) {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err, "read fixture %s", path)
	require.NoError(t, json.Unmarshal(data, dest), "decode fixture %s", path)
}

// SeedFixture decodes a JSON array of rows from path and inserts them into
// the table of T with one statement. Generated keys are filled in on the
// returned rows.
func SeedFixture[T any](t testing.TB, db bun.IDB, path string) []*T {
	t.Helper()

	var rows []*T
	LoadFixtureJSON(t, path, &rows)
	if len(rows) == 0 {
		return rows
	}
	_, err := db.NewInsert().Model(&rows).Exec(context.Background())
	require.NoError(t, err, "seed fixture %s", path)
	return rows
}

// CompareJSONWithGolden encodes actual as indented JSON and compares it with
// the golden file at path as JSON, so key order and spacing do not matter.
// A missing golden file is written and the test passes.
func CompareJSONWithGolden(t testing.TB, path string, actual any) {
	t.Helper()

	data, err := json.MarshalIndent(actual, "", "  ")
	require.NoError(t, err, "encode %s", path)
	data = append(data, '\n')

	expected, ok := readGolden(t, path, data)
	if !ok {
		return
	}
	assert.JSONEq(t, string(expected), string(data), "golden %s", path)
}

// CompareWithGolden compares actual byte for byte with the golden file at path.
func CompareWithGolden(t testing.TB, path string, actual []byte) {
	t.Helper()

	expected, ok := readGolden(t, path, actual)
	if !ok {
		return
	}
	assert.Equal(t, string(expected), string(actual), "golden %s", path)
}

// readGolden returns the golden content at path. When the file is missing or
// UpdateGoldenEnv is set it writes actual instead and reports false.
func readGolden(t testing.TB, path string, actual []byte) ([]byte, bool) {
	t.Helper()

	if os.Getenv(UpdateGoldenEnv) == "" {
		expected, err := os.ReadFile(path)
		if err == nil {
			return expected, true
		}
		require.True(t, os.IsNotExist(err), "read golden %s: %v", path, err)
		t.Logf("golden file %s does not exist, creating it", path)
	}

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, actual, 0o644))
	return nil, false
}
