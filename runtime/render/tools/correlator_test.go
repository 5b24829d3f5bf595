package tools

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"goa.design/callview/runtime/render/toolcall"
)

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("minted-%d", n)
	}
}

func TestCorrelatorExternalIDs(t *testing.T) {
	c := NewCorrelator(WithIDGenerator(sequentialIDs()))
	a := c.Resolve("run-1", "get_weather", "toolu_a")
	b := c.Resolve("run-1", "get_weather", "toolu_b")
	assert.Equal(t, toolcall.Identity{Turn: "run-1", Call: "toolu_a"}, a)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, c.Resolve("run-1", "get_weather", "toolu_a"))
}

func TestCorrelatorMintsAndReuses(t *testing.T) {
	c := NewCorrelator(WithIDGenerator(sequentialIDs()))
	first := c.Resolve("run-1", "search_products", "")
	assert.Equal(t, "minted-1", first.Call)
	assert.Equal(t, first, c.Resolve("run-1", "search_products", ""))

	other := c.Resolve("run-2", "search_products", "")
	assert.NotEqual(t, first, other)

	c.Close(first)
	next := c.Resolve("run-1", "search_products", "")
	assert.Equal(t, "minted-3", next.Call)
}

func TestCorrelatorFollowAttachesToFinishedCall(t *testing.T) {
	c := NewCorrelator(WithIDGenerator(sequentialIDs()))
	first := c.Resolve("run-1", "get_weather", "")
	c.Close(first)

	assert.Equal(t, first, c.Follow("run-1", "get_weather", ""))
	assert.Equal(t, first, c.Follow("run-1", "get_weather", ""), "follow-ups do not reopen the call")

	next := c.Resolve("run-1", "get_weather", "")
	assert.Equal(t, "minted-2", next.Call)
	assert.Equal(t, next, c.Follow("run-1", "get_weather", ""), "the open call wins")

	assert.Equal(t, "minted-3", c.Follow("run-1", "generate_poem", "").Call)

	c.EndTurn("run-1")
	assert.Equal(t, "minted-4", c.Follow("run-1", "get_weather", "").Call)
}

func TestCorrelatorFollowKeepsClosedExternalID(t *testing.T) {
	c := NewCorrelator(WithIDGenerator(sequentialIDs()))
	id := c.Resolve("run-1", "get_weather", "toolu_a")
	c.Close(id)
	assert.Equal(t, id, c.Follow("run-1", "get_weather", "toolu_a"))
	assert.Equal(t, "minted-1", c.Resolve("run-1", "get_weather", "").Call)
}

func TestCorrelatorEndTurn(t *testing.T) {
	c := NewCorrelator(WithIDGenerator(sequentialIDs()))
	id := c.Resolve("run-1", "generate_poem", "")
	c.EndTurn("run-1")
	assert.NotEqual(t, id, c.Resolve("run-1", "generate_poem", ""))
}

func TestCorrelatorDefaultsToUUIDs(t *testing.T) {
	c := NewCorrelator()
	a := c.Resolve("run-1", "get_weather", "")
	c.Close(a)
	b := c.Resolve("run-1", "get_weather", "")
	assert.Len(t, a.Call, 36)
	assert.NotEqual(t, a.Call, b.Call)
}
