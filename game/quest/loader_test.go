package quest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeDef(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestLoadDefinitions(t *testing.T) {
	dir := t.TempDir()
	writeDef(t, dir, "gather_wood.json", `{
		"id": "gather_wood",
		"name": "Gather Wood",
		"repeatable": true,
		"objectives": [
			{"id": "chop", "kind": "break_block", "required": 3, "params": {"block_type": "oak_log"}}
		]
	}`)
	writeDef(t, dir, "readme.txt", "not a quest")

	defs, err := LoadDefinitions(dir, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, defs, 1)
	def := defs["gather_wood"]
	require.NotNil(t, def)
	assert.Equal(t, "Gather Wood", def.Name)
	assert.True(t, def.Repeatable)
	require.Len(t, def.Objectives, 1)
	assert.Equal(t, 3, def.Objectives[0].Required)
}

func TestLoadDefinitions_InvalidAuthoringAborts(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"no objectives", `{"id": "empty", "name": "Empty", "objectives": []}`},
		{"unknown kind", `{"id": "q", "name": "Q", "objectives": [
			{"id": "o", "kind": "summon_dragon", "required": 1}]}`},
		{"missing params", `{"id": "q", "name": "Q", "objectives": [
			{"id": "o", "kind": "break_block", "required": 1}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			writeDef(t, dir, "bad.json", tc.body)
			_, err := LoadDefinitions(dir, zap.NewNop())
			assert.Error(t, err)
		})
	}
}

func TestLoadDefinitions_DuplicateID(t *testing.T) {
	dir := t.TempDir()
	def := `{"id": "twin", "name": "Twin", "objectives": [
		{"id": "o", "kind": "reach_level", "required": 1, "params": {"level": 5}}]}`
	writeDef(t, dir, "a.json", def)
	writeDef(t, dir, "b.json", def)

	_, err := LoadDefinitions(dir, zap.NewNop())
	assert.ErrorContains(t, err, "duplicate quest id")
}

func TestLoadDefinitions_MissingDir(t *testing.T) {
	_, err := LoadDefinitions(filepath.Join(t.TempDir(), "nope"), zap.NewNop())
	assert.Error(t, err)
}
