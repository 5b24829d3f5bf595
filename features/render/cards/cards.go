package cards

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"goa.design/callview/runtime/render/dispatch"
	"goa.design/callview/runtime/render/sharedstate"
	"goa.design/callview/runtime/render/toolcall"
	"goa.design/callview/runtime/render/tools"
)

// Renderer names bound by Renderers.
const (
	RendererWeather        = "get_weather"
	RendererProducts       = "search_products"
	RendererProductDetails = "get_product_details"
	RendererPoem           = "generate_poem"
	RendererJSON           = "json"
)

var conditionIcons = map[string]string{
	"sunny":  "☀️",
	"clear":  "☀️",
	"cloudy": "☁️",
	"rainy":  "🌧️",
	"rain":   "🌧️",
	"snowy":  "❄️",
	"snow":   "❄️",
	"stormy": "⛈️",
	"windy":  "💨",
	"foggy":  "🌫️",
}

// Renderers returns the renderer catalog keyed by renderer name, for use
// with tools.Bind.
func (th *Theme) Renderers() map[string]tools.RenderFunc {
	return map[string]tools.RenderFunc{
		RendererWeather:        th.Weather,
		RendererProducts:       th.Products,
		RendererProductDetails: th.ProductDetails,
		RendererPoem:           th.Poem,
		RendererJSON:           th.JSON,
	}
}

// Catalog returns the registrations of the demo tools. All of them execute
// in the agent and are only rendered here.
func (th *Theme) Catalog() []tools.Registration {
	return []tools.Registration{
		{
			Name:         "get_weather",
			Description:  "Get current weather for a location",
			Params:       []tools.Param{{Name: "location", Type: tools.ParamString, Required: true}},
			Availability: tools.AvailabilityDisabled,
			Render:       th.Weather,
		},
		{
			Name:        "search_products",
			Description: "Search the product catalog",
			Params: []tools.Param{
				{Name: "query", Type: tools.ParamString, Required: true},
				{Name: "category", Type: tools.ParamString},
				{Name: "max_price", Type: tools.ParamNumber},
				{Name: "in_stock_only", Type: tools.ParamBoolean},
			},
			Availability: tools.AvailabilityDisabled,
			Render:       th.Products,
		},
		{
			Name:           "get_product_details",
			Description:    "Get details for a product",
			Params:         []tools.Param{{Name: "product_id", Type: tools.ParamString, Required: true}},
			Availability:   tools.AvailabilityDisabled,
			Render:         th.ProductDetails,
			HandlesFailure: true,
		},
		{
			Name:        "generate_poem",
			Description: "Write a poem about a topic",
			Params: []tools.Param{
				{Name: "topic", Type: tools.ParamString, Required: true},
				{Name: "poem", Type: tools.ParamString, Required: true},
				{Name: "style", Type: tools.ParamString, Required: true},
			},
			Availability: tools.AvailabilityDisabled,
			Render:       th.Poem,
		},
	}
}

// Weather renders get_weather calls.
func (th *Theme) Weather(v toolcall.View) any {
	loc, _ := v.Arg("location")
	res, ok := v.ResultObject()
	if !ok {
		if loc == "" {
			return th.card("Weather", th.muted.Render("Loading weather..."))
		}
		return th.card("Weather", th.muted.Render(fmt.Sprintf("Loading weather for %s...", loc)))
	}
	if l := str(res, "location"); l != "" {
		loc = l
	}
	cond := str(res, "condition")
	icon, ok := conditionIcons[strings.ToLower(cond)]
	if !ok {
		icon = "🌡️"
	}
	lines := []string{fmt.Sprintf("%s  %s", icon, th.accent.Render(formatTemp(res["temperature"])))}
	if cond != "" {
		lines = append(lines, th.field("Condition", cond))
	}
	if h, ok := num(res, "humidity"); ok {
		lines = append(lines, th.field("Humidity", fmt.Sprintf("%g%%", h)))
	}
	if w, ok := first(res, "wind_speed", "windSpeed"); ok {
		lines = append(lines, th.field("Wind", fmt.Sprintf("%v km/h", w)))
	}
	return th.card("Weather in "+loc, lines...)
}

// Products renders search_products calls.
func (th *Theme) Products(v toolcall.View) any {
	query, _ := v.Arg("query")
	title := "Products"
	if query != "" {
		title = fmt.Sprintf("Products matching %q", query)
	}
	res, ok := v.ResultObject()
	if !ok {
		return th.card(title, th.muted.Render("Searching..."))
	}
	items, _ := res["products"].([]any)
	if len(items) == 0 {
		return th.card(title, th.muted.Render("No products found."))
	}
	lines := make([]string, 0, len(items))
	for _, it := range items {
		p, ok := it.(map[string]any)
		if !ok {
			continue
		}
		line := fmt.Sprintf("%s  %s", th.title.Render(str(p, "name")), th.accent.Render(formatPrice(p["price"])))
		if stock, ok := first(p, "in_stock", "inStock"); ok {
			line += "  " + th.stock(stock == true)
		}
		if r, ok := num(p, "rating"); ok {
			line += fmt.Sprintf("  ★ %.1f", r)
		}
		if id := str(p, "id"); id != "" {
			line += "  " + th.label.Render(id)
		}
		lines = append(lines, line)
	}
	return th.card(title, lines...)
}

// ProductDetails renders get_product_details calls, including the
// not-found failure that lists the known product IDs.
func (th *Theme) ProductDetails(v toolcall.View) any {
	id, _ := v.Arg("product_id")
	res, _ := v.ResultObject()
	if v.Status == toolcall.StatusFailed {
		msg := v.Error
		if msg == "" {
			msg = "product lookup failed"
		}
		lines := []string{msg}
		if ids := strs(res, "available_ids", "availableIds"); len(ids) > 0 {
			lines = append(lines, th.field("Available IDs", strings.Join(ids, ", ")))
		}
		return th.errorCard("Product "+id+" not found", lines...)
	}
	if res == nil {
		if id == "" {
			return th.card("Product", th.muted.Render("Loading product..."))
		}
		return th.card("Product", th.muted.Render(fmt.Sprintf("Loading product %s...", id)))
	}
	lines := []string{th.accent.Render(formatPrice(res["price"]))}
	if d := str(res, "description"); d != "" {
		lines = append(lines, d)
	}
	if stock, ok := first(res, "in_stock", "inStock"); ok {
		lines = append(lines, th.field("Stock", th.stock(stock == true)))
	}
	if r, ok := num(res, "rating"); ok {
		lines = append(lines, th.field("Rating", fmt.Sprintf("★ %.1f", r)))
	}
	if w := str(res, "warranty"); w != "" {
		lines = append(lines, th.field("Warranty", w))
	}
	if s := str(res, "shipping"); s != "" {
		lines = append(lines, th.field("Shipping", s))
	}
	name := str(res, "name")
	if name == "" {
		name = "Product " + id
	}
	return th.card(name, lines...)
}

// Poem renders generate_poem calls. The poem travels in the arguments; a
// result carrying a poem field takes precedence.
func (th *Theme) Poem(v toolcall.View) any {
	topic, _ := v.Arg("topic")
	style, _ := v.Arg("style")
	text, _ := v.Arg("poem")
	if res, ok := v.ResultObject(); ok {
		if p := str(res, "poem"); p != "" {
			text = p
		}
	}
	title := "Poem"
	switch {
	case style != "" && topic != "":
		title = fmt.Sprintf("A %s about %s", style, topic)
	case topic != "":
		title = "A poem about " + topic
	}
	if text == "" {
		return th.card(title, th.muted.Render("Writing..."))
	}
	return th.card(title, text)
}

// JSON renders any call as its arguments and result.
func (th *Theme) JSON(v toolcall.View) any {
	lines := []string{th.field("Status", v.Status.String())}
	if len(v.Args) > 0 {
		lines = append(lines, th.field("Args", compact(v.Args)))
	}
	if v.HasResult {
		lines = append(lines, th.field("Result", compact(v.Result)))
	}
	return th.card(v.ToolName, lines...)
}

// Failure is the generic error renderer.
func (th *Theme) Failure(v toolcall.View) any {
	f, _ := dispatch.RenderFailure(v).(dispatch.Failure)
	lines := []string{f.Message}
	for _, is := range f.Issues {
		line := fmt.Sprintf("• %s: %s", is.Field, is.Constraint)
		if len(is.Expected) > 0 {
			line += " (" + strings.Join(is.Expected, ", ") + ")"
		}
		lines = append(lines, line)
	}
	return th.errorCard(f.Tool+" failed", lines...)
}

// StatusLine renders the auxiliary status shown below the cards.
func StatusLine(snap sharedstate.Snapshot) string {
	tool, ok := snap.Text("lastToolUsed")
	if !ok || tool == "" {
		tool = "none"
	}
	line := "Last tool used: " + tool
	if q, ok := snap.Text("lastQuery"); ok && q != "" {
		line += fmt.Sprintf(" (query %q)", q)
	}
	return line
}

func (th *Theme) stock(in bool) string {
	if in {
		return th.good.Render("in stock")
	}
	return th.bad.Render("out of stock")
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func num(m map[string]any, key string) (float64, bool) {
	f, ok := m[key].(float64)
	return f, ok
}

func first(m map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func strs(m map[string]any, keys ...string) []string {
	v, ok := first(m, keys...)
	if !ok {
		return nil
	}
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func formatTemp(v any) string {
	switch t := v.(type) {
	case float64:
		return fmt.Sprintf("%g°C", t)
	case string:
		return t
	default:
		return "--"
	}
}

func formatPrice(v any) string {
	if p, ok := v.(float64); ok {
		return fmt.Sprintf("$%.2f", p)
	}
	return "--"
}

func compact(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
