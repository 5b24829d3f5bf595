package toolcall

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/callview/runtime/render/payload"
)

func TestParseStatus(t *testing.T) {
	cases := map[string]Status{
		"PENDING":        StatusPending,
		"STREAMING_ARGS": StatusStreamingArgs,
		"inProgress":     StatusStreamingArgs,
		"executing":      StatusExecuting,
		"EXECUTING":      StatusExecuting,
		"complete":       StatusComplete,
		"FAILED":         StatusFailed,
	}
	for in, want := range cases {
		got, err := ParseStatus(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseStatus("paused")
	assert.Error(t, err)
}

func TestStatusAdvances(t *testing.T) {
	assert.True(t, StatusPending.Advances(StatusStreamingArgs))
	assert.True(t, StatusPending.Advances(StatusComplete))
	assert.True(t, StatusExecuting.Advances(StatusFailed))
	assert.False(t, StatusExecuting.Advances(StatusPending))
	assert.False(t, StatusExecuting.Advances(StatusExecuting))
	assert.False(t, StatusComplete.Advances(StatusFailed))
	assert.False(t, StatusFailed.Advances(StatusComplete))
	assert.False(t, StatusPending.Advances(Status("bogus")))
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "STREAMING_ARGS", StatusStreamingArgs.String())
	assert.True(t, StatusComplete.Terminal())
	assert.False(t, StatusExecuting.Terminal())
}

func TestViewCloneIsDeep(t *testing.T) {
	v := View{
		ToolName:  "search_products",
		Identity:  Identity{Turn: "run-1", Call: "call-1"},
		Args:      map[string]any{"query": "keyboards", "filters": map[string]any{"in_stock": true}},
		RawResult: payload.Raw(map[string]any{"products": []any{"prod_001"}}),
		Result:    map[string]any{"products": []any{"prod_001"}},
		HasResult: true,
		Issues:    []FieldIssue{{Field: "query", Constraint: "invalid_field_type", Expected: []string{"string"}}},
		Meta:      map[string]any{"source": "test"},
	}
	c := v.Clone()
	c.Args["query"] = "mice"
	c.Args["filters"].(map[string]any)["in_stock"] = false
	c.Result.(map[string]any)["products"].([]any)[0] = "prod_999"
	c.Issues[0].Expected[0] = "number"
	c.Meta["source"] = "other"
	c.RawResult.Value().(map[string]any)["products"] = nil

	assert.Equal(t, "keyboards", v.Args["query"])
	assert.Equal(t, true, v.Args["filters"].(map[string]any)["in_stock"])
	assert.Equal(t, "prod_001", v.Result.(map[string]any)["products"].([]any)[0])
	assert.Equal(t, "string", v.Issues[0].Expected[0])
	assert.Equal(t, "test", v.Meta["source"])
	assert.NotNil(t, v.RawResult.Value().(map[string]any)["products"])
}

func TestViewAccessors(t *testing.T) {
	v := View{Args: map[string]any{"location": "Tokyo", "days": 3.0}}
	loc, ok := v.Arg("location")
	require.True(t, ok)
	assert.Equal(t, "Tokyo", loc)
	_, ok = v.Arg("days")
	assert.False(t, ok)

	_, ok = v.ResultObject()
	assert.False(t, ok)
	v.Result, v.HasResult = map[string]any{"temperature": 22.0}, true
	obj, ok := v.ResultObject()
	require.True(t, ok)
	assert.Equal(t, 22.0, obj["temperature"])
}

func TestIdentity(t *testing.T) {
	id := Identity{Turn: "run-1", Call: "toolu_01"}
	assert.Equal(t, "run-1/toolu_01", id.String())
	assert.False(t, id.IsZero())
	assert.True(t, Identity{Turn: "run-1"}.IsZero())
}
