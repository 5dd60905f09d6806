package features

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, raw string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(raw), &v))
	return v
}

func TestExtractObject(t *testing.T) {
	f := NewExtractor().Extract(parse(t, `{"id":123,"name":"test"}`))

	assert.True(t, f.IsObject)
	assert.False(t, f.IsArray)
	assert.False(t, f.IsPrimitive)
	assert.Equal(t, 2, f.NumKeys)
	assert.Equal(t, []string{"id", "name"}, f.TopLevelKeys)
	assert.True(t, f.HasID)
	assert.False(t, f.HasItems)
	assert.Equal(t, 1, f.DepthEstimate)
	assert.NotEmpty(t, f.SchemaHash)
	assert.ElementsMatch(t, []string{"id", "name"}, f.SamplePaths)
}

func TestExtractArray(t *testing.T) {
	f := NewExtractor().Extract(parse(t, `[{"id":1,"value":"a"},{"id":2}]`))

	assert.True(t, f.IsArray)
	assert.Equal(t, 2, f.ArrayLength)
	assert.Empty(t, f.SchemaHash, "schemaHash only set for objects")
	assert.Equal(t, 2, f.DepthEstimate)
	assert.ElementsMatch(t, []string{"[0].id", "[0].value"}, f.SamplePaths)
}

func TestExtractPrimitives(t *testing.T) {
	for _, raw := range []string{`42`, `"hi"`, `true`, `null`} {
		f := NewExtractor().Extract(parse(t, raw))
		assert.True(t, f.IsPrimitive, raw)
		assert.False(t, f.IsObject, raw)
		assert.False(t, f.IsArray, raw)
		assert.Equal(t, 0, f.DepthEstimate, raw)
		assert.Empty(t, f.SamplePaths, raw)
	}
}

func TestDataLikenessFlags(t *testing.T) {
	tests := []struct {
		raw        string
		hasItems   bool
		hasResults bool
		hasData    bool
	}{
		{`{"items":[]}`, true, false, false},
		{`{"results":[]}`, true, true, false},
		{`{"data":{}}`, true, false, true},
		{`{"list":[]}`, true, false, false},
		{`{"RESULTS":[]}`, true, true, false},
		{`{"other":1}`, false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			f := NewExtractor().Extract(parse(t, tt.raw))
			assert.Equal(t, tt.hasItems, f.HasItems, "hasItems")
			assert.Equal(t, tt.hasResults, f.HasResults, "hasResults")
			assert.Equal(t, tt.hasData, f.HasData, "hasData")
		})
	}
}

func TestHasIDVariants(t *testing.T) {
	for _, raw := range []string{`{"id":1}`, `{"_id":"x"}`, `{"uuid":"u"}`, `{"ID":1}`} {
		f := NewExtractor().Extract(parse(t, raw))
		assert.True(t, f.HasID, raw)
	}
	f := NewExtractor().Extract(parse(t, `{"identifier":1}`))
	assert.False(t, f.HasID)
}

func TestDepthCapped(t *testing.T) {
	deep := parse(t, `{"a":{"b":{"c":{"d":{"e":1}}}}}`)
	f := NewExtractor().Extract(deep)
	assert.Equal(t, DefaultMaxDepth, f.DepthEstimate)
}

func TestTopLevelKeysCapped(t *testing.T) {
	obj := map[string]any{}
	for i := 0; i < 30; i++ {
		obj[fmt.Sprintf("key%02d", i)] = i
	}
	f := NewExtractor().Extract(obj)
	assert.Equal(t, 30, f.NumKeys)
	assert.Len(t, f.TopLevelKeys, DefaultMaxTopLevelKeys)
	// Sorted prefix of the full key set.
	assert.Equal(t, "key00", f.TopLevelKeys[0])
	assert.Equal(t, "key19", f.TopLevelKeys[19])
}

func TestSamplePathsCapped(t *testing.T) {
	obj := map[string]any{}
	for i := 0; i < 150; i++ {
		obj[fmt.Sprintf("k%03d", i)] = i
	}
	f := NewExtractor().Extract(obj)
	assert.LessOrEqual(t, len(f.SamplePaths), DefaultMaxSamplePaths)
}

func TestSamplePathSyntax(t *testing.T) {
	f := NewExtractor().Extract(parse(t, `{"items":[{"id":1,"tags":["x"]}],"total":2}`))
	assert.ElementsMatch(t, []string{"items[0].id", "items[0].tags", "total"}, f.SamplePaths)
}

func TestSchemaHashStable(t *testing.T) {
	a := NewExtractor().Extract(parse(t, `{"b":1,"a":2}`))
	b := NewExtractor().Extract(parse(t, `{"a":9,"b":{"nested":true}}`))
	assert.Equal(t, a.SchemaHash, b.SchemaHash)

	c := NewExtractor().Extract(parse(t, `{"a":1,"c":2}`))
	assert.NotEqual(t, a.SchemaHash, c.SchemaHash)
}

func TestDeterministic(t *testing.T) {
	raw := `{"items":[{"id":1,"nested":{"x":[1,2]}}],"total":5,"data":{"page":1}}`
	first := NewExtractor().Extract(parse(t, raw))
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, NewExtractor().Extract(parse(t, raw)))
	}
}

func TestCyclicInputTerminates(t *testing.T) {
	m := map[string]any{"v": 1}
	m["self"] = m

	done := make(chan Features, 1)
	go func() {
		done <- NewExtractor().Extract(m)
	}()
	select {
	case f := <-done:
		assert.True(t, f.IsObject)
	case <-t.Context().Done():
		t.Fatal("extractor did not terminate on cyclic input")
	}
}
