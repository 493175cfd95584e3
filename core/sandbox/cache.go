package sandbox

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/adalundhe/ascent/core/artifacts"
)

// ============================================================================
// Pure Tool Result Cache
// ============================================================================

// resultCache memoizes successful runs of pure tools. The key covers the
// project, the tool name, its canonical argument encoding, and the content
// hash of every staged input, so a new input version never replays a stale
// result. A cached result carries artifact versions recorded under the
// producing project, so replays never cross projects.
type resultCache struct {
	entries *lru.Cache[string, *ExecutionResult]
}

func newResultCache(size int) (*resultCache, error) {
	if size <= 0 {
		size = 128
	}

	entries, err := lru.New[string, *ExecutionResult](size)
	if err != nil {
		return nil, fmt.Errorf("sandbox: result cache: %w", err)
	}
	return &resultCache{entries: entries}, nil
}

func (c *resultCache) Key(projectID, tool string, args map[string]any, inputs map[string]artifacts.Artifact) string {
	hasher := sha256.New()
	fmt.Fprintf(hasher, "project=%s\ntool=%s\n", projectID, tool)

	// map keys are sorted by the JSON encoder, so the encoding is canonical
	if encoded, err := json.Marshal(args); err == nil {
		hasher.Write(encoded)
	}

	names := make([]string, 0, len(inputs))
	for name := range inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(hasher, "\ninput=%s:%s", name, inputs[name].Hash)
	}

	return hex.EncodeToString(hasher.Sum(nil))
}

func (c *resultCache) Get(key string) (*ExecutionResult, bool) {
	result, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}

	replay := *result
	replay.Cached = true
	return &replay, true
}

func (c *resultCache) Put(key string, result *ExecutionResult) {
	c.entries.Add(key, result)
}
