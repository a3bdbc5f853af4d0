package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleRecord struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func newTestStorage(t *testing.T) *FileStorage {
	t.Helper()

	fs, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)
	return fs
}

func TestSaveAndLoadJSON(t *testing.T) {
	fs := newTestStorage(t)

	in := sampleRecord{Name: "acme", Count: 3}
	require.NoError(t, fs.SaveJSONFile("brands/acme", "plan.json", in))

	var out sampleRecord
	require.NoError(t, fs.LoadJSONFile("brands/acme", "plan.json", &out))
	assert.Equal(t, in, out)

	// Second load comes from cache and must match too.
	var cached sampleRecord
	require.NoError(t, fs.LoadJSONFile("brands/acme", "plan.json", &cached))
	assert.Equal(t, in, cached)
}

func TestSaveOverwritesAndInvalidatesCache(t *testing.T) {
	fs := newTestStorage(t)

	require.NoError(t, fs.SaveJSONFile("d", "f.json", sampleRecord{Name: "v1"}))

	var first sampleRecord
	require.NoError(t, fs.LoadJSONFile("d", "f.json", &first))

	require.NoError(t, fs.SaveJSONFile("d", "f.json", sampleRecord{Name: "v2"}))

	var second sampleRecord
	require.NoError(t, fs.LoadJSONFile("d", "f.json", &second))
	assert.Equal(t, "v2", second.Name)
}

func TestLoadMissingFile(t *testing.T) {
	fs := newTestStorage(t)

	var out sampleRecord
	err := fs.LoadJSONFile("nope", "missing.json", &out)
	require.Error(t, err)
}

func TestFileExistsAndDelete(t *testing.T) {
	fs := newTestStorage(t)

	assert.False(t, fs.FileExists("d", "f.json"))

	require.NoError(t, fs.SaveJSONFile("d", "f.json", sampleRecord{}))
	assert.True(t, fs.FileExists("d", "f.json"))

	require.NoError(t, fs.DeleteFile("d", "f.json"))
	assert.False(t, fs.FileExists("d", "f.json"))
}

func TestAppendJSONLine(t *testing.T) {
	fs := newTestStorage(t)

	require.NoError(t, fs.AppendJSONLine("audit", "u1.jsonl", sampleRecord{Name: "a"}))
	require.NoError(t, fs.AppendJSONLine("audit", "u1.jsonl", sampleRecord{Name: "b"}))

	data, err := fs.LoadTextFile("audit", "u1.jsonl")
	require.NoError(t, err)

	assert.Contains(t, string(data), `"name":"a"`)
	assert.Contains(t, string(data), `"name":"b"`)
	assert.Equal(t, "\n", string(data[len(data)-1]), "records are newline-terminated")
}

func TestListFiles(t *testing.T) {
	fs := newTestStorage(t)

	require.NoError(t, fs.SaveJSONFile("seasons", "2024-01.json", sampleRecord{}))
	require.NoError(t, fs.SaveJSONFile("seasons", "2024-02.json", sampleRecord{}))
	require.NoError(t, fs.SaveTextFile("seasons", "notes.txt", []byte("x")))

	files, err := fs.ListFiles("seasons", ".json")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"2024-01.json", "2024-02.json"}, files)
}

func TestListFilesMissingDir(t *testing.T) {
	fs := newTestStorage(t)

	files, err := fs.ListFiles("does-not-exist", ".json")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestCleanupExpiredCache(t *testing.T) {
	fs := newTestStorage(t)

	require.NoError(t, fs.SaveJSONFile("d", "f.json", sampleRecord{Name: "v"}))

	var out sampleRecord
	require.NoError(t, fs.LoadJSONFile("d", "f.json", &out))

	// Cleanup must not disturb reads.
	fs.CleanupExpiredCache()

	require.NoError(t, fs.LoadJSONFile("d", "f.json", &out))
	assert.Equal(t, "v", out.Name)
}
