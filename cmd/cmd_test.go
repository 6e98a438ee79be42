package cmd

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/lastmile/core/model"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := "server:\n  addr: 127.0.0.1:0\nstore:\n  type: sqlite\n  conf:\n    path: " +
		filepath.Join(dir, "lastmile.db") + "\nlogging:\n  level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func TestCreateThenHistory(t *testing.T) {
	cfg := writeConfig(t)
	out, err := execute(t, "--config", cfg, "delivery", "create",
		"--order", "ord-1", "--store", "store-1", "--customer", "cust-1",
		"--pickup", "48.8566,2.3522", "--destination", "48.87,2.33", "--cost", "6")
	require.NoError(t, err, out)
	var d model.Delivery
	require.NoError(t, json.Unmarshal([]byte(out), &d))
	assert.Equal(t, model.StatusPendingAssignment, d.Status)

	out, err = execute(t, "--config", cfg, "delivery", "history", d.ID, "--format", "csv")
	require.NoError(t, err, out)
	rows, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "pending_assignment", rows[1][1])
	assert.Equal(t, "cli", rows[1][5])

	_, err = execute(t, "--config", cfg, "delivery", "history", "missing", "--format", "json")
	assert.Error(t, err)
}

func TestSeedThenAssign(t *testing.T) {
	cfg := writeConfig(t)
	out, err := execute(t, "--config", cfg, "seed", "-f", "../qa/scenarios/nearest_driver.yaml")
	require.NoError(t, err, out)
	assert.Contains(t, out, "4 drivers, 1 deliveries")

	out, err = execute(t, "--config", cfg, "assign")
	require.NoError(t, err, out)
	assert.Contains(t, out, "assigned=1")
}

func TestParsePoint(t *testing.T) {
	loc, err := parsePoint("48.85, 2.35")
	require.NoError(t, err)
	assert.InDelta(t, 48.85, loc.Lat(), 1e-9)
	assert.InDelta(t, 2.35, loc.Lng(), 1e-9)

	for _, bad := range []string{"", "48.85", "a,b", "95,2"} {
		_, err := parsePoint(bad)
		assert.Error(t, err, bad)
	}
}
