package fsx

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryReadWrite(t *testing.T) {
	mem := InMemory()

	err := mem.WriteFile("dir/sub/file.txt", []byte("hello"), 0o644)
	require.NoError(t, err)

	data, err := mem.ReadFile("dir/sub/file.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	exists, err := mem.Exists("dir/sub/file.txt")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = mem.Exists("dir/missing.txt")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCreateAndOpen(t *testing.T) {
	mem := InMemory()

	f, err := mem.Create("out.bin")
	require.NoError(t, err)
	_, err = f.Write([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	r, err := mem.Open("out.bin")
	require.NoError(t, err)
	defer r.Close()

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestWalkVisitsAllFiles(t *testing.T) {
	mem := InMemory()
	for _, name := range []string{"root/a.txt", "root/sub/b.txt", "root/sub/deep/c.txt"} {
		require.NoError(t, mem.WriteFile(name, []byte("x"), 0o644))
	}

	var visited []string
	err := mem.Walk("root", func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			visited = append(visited, filepath.ToSlash(path))
		}
		return nil
	})
	require.NoError(t, err)

	sort.Strings(visited)
	assert.Equal(t, []string{"root/a.txt", "root/sub/b.txt", "root/sub/deep/c.txt"}, visited)
}

func TestRemove(t *testing.T) {
	mem := InMemory()
	require.NoError(t, mem.WriteFile("gone.txt", []byte("x"), 0o644))
	require.NoError(t, mem.Remove("gone.txt"))

	exists, err := mem.Exists("gone.txt")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStatMissingFile(t *testing.T) {
	mem := InMemory()
	_, err := mem.Stat("nope")
	assert.Error(t, err)
}
