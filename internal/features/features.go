// Package features computes a bounded shallow structural fingerprint of a
// parsed JSON body. The fingerprint is what the aggregator and the
// offline endpoint classifier consume, so extraction is deterministic for
// bounded inputs and every traversal is capped.
package features

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"
)

// Features is the shallow structural fingerprint of one JSON body.
type Features struct {
	IsArray     bool `json:"isArray"`
	IsObject    bool `json:"isObject"`
	IsPrimitive bool `json:"isPrimitive"`

	ArrayLength  int      `json:"arrayLength,omitempty"`
	NumKeys      int      `json:"numKeys,omitempty"`
	TopLevelKeys []string `json:"topLevelKeys,omitempty"`

	DepthEstimate int `json:"depthEstimate"`

	HasID      bool `json:"hasId"`
	HasItems   bool `json:"hasItems"`
	HasResults bool `json:"hasResults"`
	HasData    bool `json:"hasData"`

	SamplePaths []string `json:"samplePaths,omitempty"`
	SchemaHash  string   `json:"schemaHash,omitempty"`
}

// Default traversal bounds.
const (
	DefaultMaxDepth         = 3
	DefaultMaxKeysPerObject = 50
	DefaultMaxSamplePaths   = 100
	DefaultMaxTopLevelKeys  = 20
	DefaultBudget           = 100 * time.Millisecond
)

var idKeys = map[string]struct{}{"id": {}, "_id": {}, "uuid": {}}

// itemsKeys back the disjunctive hasItems flag; hasResults and hasData
// additionally track their own keys.
var itemsKeys = map[string]struct{}{"items": {}, "results": {}, "data": {}, "list": {}}

// Extractor computes Features under configured bounds. The zero value is
// not usable; call NewExtractor.
type Extractor struct {
	maxDepth         int
	maxKeysPerObject int
	maxSamplePaths   int
	maxTopLevelKeys  int
	budget           time.Duration
}

// NewExtractor returns an Extractor with the default bounds.
func NewExtractor() *Extractor {
	return &Extractor{
		maxDepth:         DefaultMaxDepth,
		maxKeysPerObject: DefaultMaxKeysPerObject,
		maxSamplePaths:   DefaultMaxSamplePaths,
		maxTopLevelKeys:  DefaultMaxTopLevelKeys,
		budget:           DefaultBudget,
	}
}

// WithMaxDepth overrides the traversal depth cap.
func (e *Extractor) WithMaxDepth(d int) *Extractor {
	if d > 0 {
		e.maxDepth = d
	}
	return e
}

// Extract computes the fingerprint of a parsed JSON value. If the soft
// wall-clock budget is exceeded mid-walk, the features computed so far are
// returned.
func (e *Extractor) Extract(value any) Features {
	w := &walker{
		extractor: e,
		deadline:  time.Now().Add(e.budget),
		visited:   map[uintptr]struct{}{},
	}

	var f Features

	switch v := value.(type) {
	case map[string]any:
		f.IsObject = true
		e.fillObject(&f, v)
	case []any:
		f.IsArray = true
		f.ArrayLength = len(v)
	default:
		// null and every scalar count as primitive.
		f.IsPrimitive = true
	}

	f.DepthEstimate = w.depth(value, 0)
	f.SamplePaths = w.samplePaths(value)

	return f
}

func (e *Extractor) fillObject(f *Features, obj map[string]any) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	f.NumKeys = len(keys)
	if len(keys) > e.maxTopLevelKeys {
		f.TopLevelKeys = append([]string(nil), keys[:e.maxTopLevelKeys]...)
	} else {
		f.TopLevelKeys = keys
	}
	f.SchemaHash = SchemaHash(keys)

	for _, k := range keys {
		lower := strings.ToLower(k)
		if _, ok := idKeys[lower]; ok {
			f.HasID = true
		}
		if _, ok := itemsKeys[lower]; ok {
			f.HasItems = true
		}
		if lower == "results" {
			f.HasResults = true
		}
		if lower == "data" {
			f.HasData = true
		}
	}
}

// SchemaHash digests a sorted top-level key set joined by "|".
func SchemaHash(sortedKeys []string) string {
	sum := sha256.Sum256([]byte(strings.Join(sortedKeys, "|")))
	return hex.EncodeToString(sum[:])
}

// walker carries the per-invocation traversal state.
type walker struct {
	extractor *Extractor
	deadline  time.Time
	visited   map[uintptr]struct{}
	paths     []string
	expired   bool
}

func (w *walker) overBudget() bool {
	if w.expired {
		return true
	}
	if time.Now().After(w.deadline) {
		w.expired = true
	}
	return w.expired
}

// depth computes the bounded recursive maximum depth. Revisiting a
// container already on the walk (a cycle) contributes depth 0.
func (w *walker) depth(value any, current int) int {
	if current >= w.extractor.maxDepth || w.overBudget() {
		return current
	}

	switch v := value.(type) {
	case map[string]any:
		if len(v) == 0 {
			return current
		}
		ptr := reflect.ValueOf(v).Pointer()
		if _, seen := w.visited[ptr]; seen {
			return 0
		}
		w.visited[ptr] = struct{}{}
		defer delete(w.visited, ptr)

		max := current + 1
		n := 0
		for _, child := range v {
			if n >= w.extractor.maxKeysPerObject {
				break
			}
			n++
			if d := w.depth(child, current+1); d > max {
				max = d
			}
		}
		return max
	case []any:
		if len(v) == 0 {
			return current
		}
		ptr := reflect.ValueOf(v).Pointer()
		if _, seen := w.visited[ptr]; seen {
			return 0
		}
		w.visited[ptr] = struct{}{}
		defer delete(w.visited, ptr)

		// Only the first element is descended into.
		max := current + 1
		if d := w.depth(v[0], current+1); d > max {
			max = d
		}
		return max
	default:
		return current
	}
}

// samplePaths runs a depth-first walk producing dotted leaf key paths.
// Arrays descend into element 0 only, written as "[0]".
func (w *walker) samplePaths(value any) []string {
	w.paths = nil
	w.walkPaths(value, "", 0)
	return w.paths
}

func (w *walker) walkPaths(value any, prefix string, depth int) {
	if len(w.paths) >= w.extractor.maxSamplePaths || w.overBudget() {
		return
	}

	switch v := value.(type) {
	case map[string]any:
		if len(v) == 0 || depth >= w.extractor.maxDepth {
			w.emit(prefix)
			return
		}
		ptr := reflect.ValueOf(v).Pointer()
		if _, seen := w.visited[ptr]; seen {
			w.emit(prefix)
			return
		}
		w.visited[ptr] = struct{}{}
		defer delete(w.visited, ptr)

		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if len(keys) > w.extractor.maxKeysPerObject {
			keys = keys[:w.extractor.maxKeysPerObject]
		}
		for _, k := range keys {
			child := k
			if prefix != "" {
				child = prefix + "." + k
			}
			w.walkPaths(v[k], child, depth+1)
		}
	case []any:
		if len(v) == 0 || depth >= w.extractor.maxDepth {
			w.emit(prefix)
			return
		}
		ptr := reflect.ValueOf(v).Pointer()
		if _, seen := w.visited[ptr]; seen {
			w.emit(prefix)
			return
		}
		w.visited[ptr] = struct{}{}
		defer delete(w.visited, ptr)

		w.walkPaths(v[0], prefix+"[0]", depth+1)
	default:
		w.emit(prefix)
	}
}

func (w *walker) emit(path string) {
	if path == "" {
		return
	}
	if len(w.paths) >= w.extractor.maxSamplePaths {
		return
	}
	w.paths = append(w.paths, path)
}

// String renders a compact one-line summary, used in debug logs.
func (f Features) String() string {
	switch {
	case f.IsArray:
		return fmt.Sprintf("array(len=%d depth=%d)", f.ArrayLength, f.DepthEstimate)
	case f.IsObject:
		return fmt.Sprintf("object(keys=%d depth=%d)", f.NumKeys, f.DepthEstimate)
	default:
		return "primitive"
	}
}
