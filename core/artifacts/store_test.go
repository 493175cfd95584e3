package artifacts_test

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/adalundhe/ascent/core/artifacts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *artifacts.Store {
	t.Helper()
	store, err := artifacts.NewStore(artifacts.Config{Root: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// TestStore_Put_VersionsAreMonotonic verifies versions start at 1 and
// increase by one per Put, never overwriting.
func TestStore_Put_VersionsAreMonotonic(t *testing.T) {
	store := newStore(t)

	for i := 1; i <= 3; i++ {
		artifact, err := store.Put("proj", "dataset", "inv-1",
			strings.NewReader(fmt.Sprintf("content %d", i)))
		require.NoError(t, err)
		assert.Equal(t, i, artifact.Version)
	}

	versions, err := store.ListVersions("proj", "dataset")
	require.NoError(t, err)
	require.Len(t, versions, 3)

	// All three versions remain readable with their original content.
	for i, artifact := range versions {
		content, err := store.Content(artifact)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("content %d", i+1), string(content))
	}
}

// TestStore_GetLatest_TracksNewestVersion verifies the latest pointer
// advances with every Put.
func TestStore_GetLatest_TracksNewestVersion(t *testing.T) {
	store := newStore(t)

	_, err := store.Put("proj", "dataset", "", strings.NewReader("v1"))
	require.NoError(t, err)
	_, err = store.Put("proj", "dataset", "", strings.NewReader("v2"))
	require.NoError(t, err)

	latest, err := store.GetLatest("proj", "dataset")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)

	content, err := store.Content(latest)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(content))
}

// TestStore_GetVersion_IsIdempotent verifies re-fetching (name, version)
// returns a bit-identical content hash across repeated calls.
func TestStore_GetVersion_IsIdempotent(t *testing.T) {
	store := newStore(t)

	put, err := store.Put("proj", "dataset", "", strings.NewReader("stable content"))
	require.NoError(t, err)

	var hashes []string
	for i := 0; i < 5; i++ {
		got, err := store.GetVersion("proj", "dataset", put.Version)
		require.NoError(t, err)
		hashes = append(hashes, got.Hash)
	}

	for _, hash := range hashes {
		assert.Equal(t, put.Hash, hash)
	}
}

// TestStore_NotFoundErrors distinguishes unknown names from unknown versions.
func TestStore_NotFoundErrors(t *testing.T) {
	store := newStore(t)

	_, err := store.GetLatest("proj", "missing")
	assert.ErrorIs(t, err, artifacts.ErrArtifactNotFound)

	_, err = store.GetVersion("proj", "missing", 1)
	assert.ErrorIs(t, err, artifacts.ErrArtifactNotFound)

	_, err = store.Put("proj", "dataset", "", strings.NewReader("v1"))
	require.NoError(t, err)

	_, err = store.GetVersion("proj", "dataset", 7)
	assert.ErrorIs(t, err, artifacts.ErrVersionNotFound)

	_, err = store.ListVersions("proj", "missing")
	assert.ErrorIs(t, err, artifacts.ErrArtifactNotFound)
}

// TestStore_Put_ConcurrentWritersGetDistinctVersions verifies atomic version
// allocation: concurrent writers to the same name never collide.
func TestStore_Put_ConcurrentWritersGetDistinctVersions(t *testing.T) {
	store := newStore(t)

	const writers = 20
	var wg sync.WaitGroup
	versions := make(chan int, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			artifact, err := store.Put("proj", "dataset", "",
				strings.NewReader(fmt.Sprintf("writer %d", i)))
			if err == nil {
				versions <- artifact.Version
			}
		}(i)
	}
	wg.Wait()
	close(versions)

	seen := make(map[int]bool)
	for v := range versions {
		assert.False(t, seen[v], "version %d allocated twice", v)
		seen[v] = true
	}
	assert.Len(t, seen, writers)
}

// TestStore_RegisterUpload_HashesContent verifies the upload boundary
// produces a version-1 artifact with a computed content hash.
func TestStore_RegisterUpload_HashesContent(t *testing.T) {
	store := newStore(t)

	src := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(src, []byte("age,outcome\n63,1\n"), 0644))

	artifact, err := store.RegisterUpload("proj", "dataset", src)
	require.NoError(t, err)

	assert.Equal(t, 1, artifact.Version)
	assert.Equal(t, "upload", artifact.Producer)
	assert.Len(t, artifact.Hash, 64)
	assert.Equal(t, int64(17), artifact.Size)
}

// TestStore_List_ReturnsLatestPerName verifies project listing collapses to
// the newest version of each name.
func TestStore_List_ReturnsLatestPerName(t *testing.T) {
	store := newStore(t)

	_, err := store.Put("proj", "dataset", "", strings.NewReader("d1"))
	require.NoError(t, err)
	_, err = store.Put("proj", "dataset", "", strings.NewReader("d2"))
	require.NoError(t, err)
	_, err = store.Put("proj", "model", "", strings.NewReader("m1"))
	require.NoError(t, err)
	_, err = store.Put("other", "dataset", "", strings.NewReader("x"))
	require.NoError(t, err)

	listed, err := store.List("proj")
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "dataset", listed[0].Name)
	assert.Equal(t, 2, listed[0].Version)
	assert.Equal(t, "model", listed[1].Name)
	assert.Equal(t, 1, listed[1].Version)
}

// TestStore_SurvivesReopen verifies the ledger is durable across store
// instances.
func TestStore_SurvivesReopen(t *testing.T) {
	root := t.TempDir()

	store, err := artifacts.NewStore(artifacts.Config{Root: root})
	require.NoError(t, err)
	put, err := store.Put("proj", "dataset", "inv-9", strings.NewReader("durable"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := artifacts.NewStore(artifacts.Config{Root: root})
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetVersion("proj", "dataset", put.Version)
	require.NoError(t, err)
	assert.Equal(t, put.Hash, got.Hash)
	assert.Equal(t, "inv-9", got.Producer)

	content, err := reopened.Content(got)
	require.NoError(t, err)
	assert.Equal(t, "durable", string(content))
}
