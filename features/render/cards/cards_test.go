package cards

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/callview/runtime/render/sharedstate"
	"goa.design/callview/runtime/render/toolcall"
	"goa.design/callview/runtime/render/tools"
)

func render(t *testing.T, fn tools.RenderFunc, v toolcall.View) string {
	t.Helper()
	out, ok := fn(v).(string)
	require.True(t, ok, "cards render strings")
	return out
}

func TestWeatherLoading(t *testing.T) {
	th := NewTheme(100)
	out := render(t, th.Weather, toolcall.View{
		ToolName: "get_weather",
		Status:   toolcall.StatusExecuting,
		Args:     map[string]any{"location": "Tokyo"},
	})
	assert.Contains(t, out, "Loading weather for Tokyo...")

	out = render(t, th.Weather, toolcall.View{ToolName: "get_weather", Status: toolcall.StatusPending})
	assert.Contains(t, out, "Loading weather...")
}

func TestWeatherComplete(t *testing.T) {
	th := NewTheme(100)
	out := render(t, th.Weather, toolcall.View{
		ToolName:  "get_weather",
		Status:    toolcall.StatusComplete,
		Args:      map[string]any{"location": "Tokyo"},
		HasResult: true,
		Result:    map[string]any{"location": "Tokyo", "temperature": float64(22), "condition": "sunny", "humidity": float64(40)},
	})
	assert.Contains(t, out, "Weather in Tokyo")
	assert.Contains(t, out, "22°C")
	assert.Contains(t, out, "☀️")
	assert.Contains(t, out, "40%")
	assert.NotContains(t, out, "Loading")
}

func TestProducts(t *testing.T) {
	th := NewTheme(120)
	v := toolcall.View{
		ToolName: "search_products",
		Status:   toolcall.StatusStreamingArgs,
		Args:     map[string]any{"query": "headphones"},
	}
	assert.Contains(t, render(t, th.Products, v), "Searching...")

	v.Status = toolcall.StatusComplete
	v.HasResult = true
	v.Result = map[string]any{"products": []any{
		map[string]any{"id": "prod_001", "name": "Studio", "price": 99.5, "inStock": true, "rating": 4.5},
		map[string]any{"id": "prod_002", "name": "Buds", "price": float64(20), "in_stock": false},
	}}
	out := render(t, th.Products, v)
	assert.Contains(t, out, "prod_001")
	assert.Contains(t, out, "$99.50")
	assert.Contains(t, out, "in stock")
	assert.Contains(t, out, "out of stock")
	assert.Contains(t, out, "★ 4.5")

	v.Result = map[string]any{"products": []any{}}
	assert.Contains(t, render(t, th.Products, v), "No products found.")
}

func TestProductDetailsNotFound(t *testing.T) {
	th := NewTheme(100)
	out := render(t, th.ProductDetails, toolcall.View{
		ToolName:  "get_product_details",
		Status:    toolcall.StatusFailed,
		Args:      map[string]any{"product_id": "prod_999"},
		HasResult: true,
		Result:    map[string]any{"error": "Product not found", "availableIds": []any{"prod_002", "prod_001"}},
		Error:     "Product not found",
	})
	assert.Contains(t, out, "Product prod_999 not found")
	assert.Contains(t, out, "prod_001, prod_002")
}

func TestProductDetails(t *testing.T) {
	th := NewTheme(100)
	out := render(t, th.ProductDetails, toolcall.View{
		ToolName:  "get_product_details",
		Status:    toolcall.StatusComplete,
		Args:      map[string]any{"product_id": "prod_001"},
		HasResult: true,
		Result:    map[string]any{"name": "Studio", "price": float64(99), "warranty": "2 years", "shipping": "Free"},
	})
	assert.Contains(t, out, "Studio")
	assert.Contains(t, out, "$99.00")
	assert.Contains(t, out, "2 years")
	assert.Contains(t, out, "Free")

	loading := render(t, th.ProductDetails, toolcall.View{Status: toolcall.StatusExecuting, Args: map[string]any{"product_id": "prod_001"}})
	assert.Contains(t, loading, "Loading product prod_001...")
}

func TestPoem(t *testing.T) {
	th := NewTheme(100)
	out := render(t, th.Poem, toolcall.View{
		Status: toolcall.StatusStreamingArgs,
		Args:   map[string]any{"topic": "the sea", "style": "haiku"},
	})
	assert.Contains(t, out, "A haiku about the sea")
	assert.Contains(t, out, "Writing...")

	out = render(t, th.Poem, toolcall.View{
		Status: toolcall.StatusComplete,
		Args:   map[string]any{"topic": "the sea", "style": "haiku", "poem": "waves fold into foam"},
	})
	assert.Contains(t, out, "waves fold into foam")
}

func TestJSONAndFailure(t *testing.T) {
	th := NewTheme(100)
	out := render(t, th.JSON, toolcall.View{
		ToolName:  "lookup",
		Status:    toolcall.StatusComplete,
		Args:      map[string]any{"q": "x"},
		HasResult: true,
		Result:    map[string]any{"n": float64(1)},
	})
	assert.Contains(t, out, "COMPLETE")
	assert.Contains(t, out, `{"q":"x"}`)
	assert.Contains(t, out, `{"n":1}`)

	out = render(t, th.Failure, toolcall.View{
		ToolName: "get_weather",
		Status:   toolcall.StatusFailed,
		Error:    "invalid arguments",
		Issues:   []toolcall.FieldIssue{{Field: "location", Constraint: "required"}},
	})
	assert.Contains(t, out, "get_weather failed")
	assert.Contains(t, out, "location: required")
}

func TestCatalogRegisters(t *testing.T) {
	th := NewTheme(0)
	assert.Equal(t, DefaultWidth, th.Width())
	reg := tools.NewRegistry()
	require.NoError(t, reg.RegisterAll(th.Catalog()...))
	assert.Equal(t, 4, reg.Len())
	for _, r := range reg.Registrations() {
		assert.False(t, r.ExecutesLocally(), r.Name)
	}
	details, ok := reg.Resolve("get_product_details")
	require.True(t, ok)
	assert.True(t, details.HandlesFailure)
	assert.Len(t, th.Renderers(), 5)
}

func TestStatusLine(t *testing.T) {
	s := sharedstate.New()
	snap, err := s.Initialize(map[string]any{"lastQuery": nil, "lastToolUsed": nil})
	require.NoError(t, err)
	assert.Equal(t, "Last tool used: none", StatusLine(snap))

	snap, err = s.ApplyRemoteUpdate(map[string]any{"lastToolUsed": "search_products", "lastQuery": "shoes"})
	require.NoError(t, err)
	assert.Equal(t, `Last tool used: search_products (query "shoes")`, StatusLine(snap))
}
