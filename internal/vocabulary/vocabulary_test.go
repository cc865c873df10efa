package vocabulary

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_AddContainsRemove(t *testing.T) {
	r := NewRegistry([]string{"Source", "まとめ"}, "")

	assert.True(t, r.Contains("source"))
	assert.True(t, r.Contains(" SOURCE "))
	assert.True(t, r.Contains("まとめ"))
	assert.False(t, r.Contains("Agenda"))

	r.Add("Agenda")
	assert.True(t, r.Contains("agenda"))

	assert.True(t, r.Remove("AGENDA"))
	assert.False(t, r.Contains("Agenda"))
	assert.False(t, r.Remove("Agenda"))
}

func TestValid(t *testing.T) {
	for word, want := range map[string]bool{
		"Agenda":                          true,
		"議事録":                             true,
		"Google Meet":                     true,
		" Kickoff ":                       true,
		"":                                false,
		"   ":                             false,
		"tab\there":                       false,
		"a\nb":                            false,
		strings.Repeat("語", MaxWordLen):   true,
		strings.Repeat("語", MaxWordLen+1): false,
	} {
		assert.Equal(t, want, Valid(word), "Valid(%q)", word)
	}
}

func TestRegistry_Missing(t *testing.T) {
	r := NewRegistry([]string{"Source", "Agenda"}, "")
	assert.Equal(t, []string{"Kickoff", "Retro"}, r.Missing([]string{"agenda", "Kickoff", " ", "SOURCE", "Retro"}))
	assert.Empty(t, r.Missing([]string{"Agenda"}))
}

func TestRegistry_PersistedListShadowsSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ignore-vocabulary.json")
	NewRegistry([]string{"Source"}, path).Add("Agenda")

	r := NewRegistry([]string{"Source", "Standup"}, path)
	assert.Equal(t, []string{"Standup"}, r.Missing([]string{"Source", "Standup"}))
}

func TestRegistry_BlankWordsIgnored(t *testing.T) {
	r := NewRegistry([]string{"", "  "}, "")
	r.Add("   ")
	assert.Zero(t, r.Len())
}

func TestRegistry_All_SortedKeepsCasing(t *testing.T) {
	r := NewRegistry([]string{"Time", "Agenda", "source"}, "")
	assert.Equal(t, []string{"Agenda", "Time", "source"}, r.All())
}

func TestRegistry_Persistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ignore-vocabulary.json")

	r := NewRegistry([]string{"Source"}, path)
	r.Add("Agenda")

	data, err := os.ReadFile(path)
	require.NoError(t, err, "persist file not created")
	var words []string
	require.NoError(t, json.Unmarshal(data, &words))
	assert.Equal(t, []string{"Agenda", "Source"}, words)

	// A new registry prefers the persisted list over its seed.
	r2 := NewRegistry([]string{"Other"}, path)
	assert.True(t, r2.Contains("agenda"))
	assert.False(t, r2.Contains("Other"))
}

func TestRegistry_CorruptPersistFileFallsBackToSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ignore-vocabulary.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	r := NewRegistry([]string{"Source"}, path)
	assert.True(t, r.Contains("Source"))
}

func TestRegistry_NoTempFilesLeftBehind(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry(nil, filepath.Join(dir, "v.json"))
	r.Add("a1")
	r.Add("b2")
	r.Remove("a1")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "v.json", entries[0].Name())
}

func TestDefaultWords_IncludeMarkerAndMetadata(t *testing.T) {
	r := NewRegistry(DefaultWords(), "")
	for _, w := range []string{"speaker", "参加者", "文字起こし", "https", "MP4", "unknown"} {
		assert.True(t, r.Contains(w), "expected %q in default vocabulary", w)
	}
}

func TestLoadFile_Formats(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"list.yaml": "- Agenda\n- 議事録\n",
		"map.yml":   "ignore:\n  - Agenda\n  - 議事録\n",
		"list.json": `["Agenda","議事録"]`,
		"map.json":  `{"ignore":["Agenda","議事録"]}`,
		"plain.txt": "# comment\nAgenda\n\n  議事録  \n",
		"noext":     "Agenda\n議事録",
	}
	for name, content := range files {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

			words, err := LoadFile(path)
			require.NoError(t, err)
			assert.Equal(t, []string{"Agenda", "議事録"}, words)
		})
	}
}

func TestLoadFile_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "scalar.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("just a string\n"), 0o600))
	_, err = LoadFile(bad)
	assert.Error(t, err)

	badJSON := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(badJSON, []byte("[1,"), 0o600))
	_, err = LoadFile(badJSON)
	assert.Error(t, err)
}

func TestLoadFile_EmptyYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	words, err := LoadFile(path)
	require.NoError(t, err)
	assert.Empty(t, words)
}
