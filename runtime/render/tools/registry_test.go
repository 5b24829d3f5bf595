package tools

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/callview/runtime/render/toolcall"
)

func renderName(v toolcall.View) any { return v.ToolName }

func weatherRegistration() Registration {
	return Registration{
		Name:         "get_weather",
		Description:  "Get current weather for a location",
		Params:       []Param{{Name: "location", Type: ParamString, Required: true}},
		Availability: AvailabilityDisabled,
		Render:       renderName,
	}
}

func TestRegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(weatherRegistration()))

	reg, ok := r.Resolve("get_weather")
	require.True(t, ok)
	assert.Equal(t, "get_weather", reg.Name)
	assert.False(t, reg.ExecutesLocally())
	assert.Equal(t, []string{"location"}, reg.RequiredParams())

	_, ok = r.Resolve("missing")
	assert.False(t, ok)
}

func TestRegisterIdenticalIsNoop(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(weatherRegistration()))
	require.NoError(t, r.Register(weatherRegistration()))
	assert.Equal(t, 1, r.Len())
}

func TestRegisterConflict(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(weatherRegistration()))

	other := weatherRegistration()
	other.Params = []Param{{Name: "city", Type: ParamString, Required: true}}
	err := r.Register(other)
	var dup *DuplicateRegistrationError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "get_weather", dup.Name)

	other = weatherRegistration()
	other.Availability = AvailabilityEnabled
	require.ErrorAs(t, r.Register(other), &dup)

	assert.Panics(t, func() { r.MustRegister(other) })
}

func TestRegisterRejectsInvalid(t *testing.T) {
	cases := map[string]Registration{
		"blank name":    {Name: " ", Render: renderName},
		"nil renderer":  {Name: "x"},
		"unknown type":  {Name: "x", Render: renderName, Params: []Param{{Name: "a", Type: "date"}}},
		"unnamed param": {Name: "x", Render: renderName, Params: []Param{{Type: ParamString}}},
		"dup param": {Name: "x", Render: renderName, Params: []Param{
			{Name: "a", Type: ParamString}, {Name: "a", Type: ParamNumber},
		}},
		"bad availability": {Name: "x", Render: renderName, Availability: "sometimes"},
	}
	for name, reg := range cases {
		t.Run(name, func(t *testing.T) {
			err := NewRegistry().Register(reg)
			assert.True(t, errors.Is(err, ErrInvalidRegistration), "got %v", err)
		})
	}
}

func TestRegistrationsKeepOrder(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"search_products", "get_weather", "generate_poem"} {
		r.MustRegister(Registration{Name: name, Render: renderName})
	}
	var names []string
	for _, reg := range r.Registrations() {
		names = append(names, reg.Name)
		assert.True(t, reg.ExecutesLocally())
	}
	assert.Equal(t, []string{"search_products", "get_weather", "generate_poem"}, names)
}

func TestRegistryConcurrentReads(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(weatherRegistration())
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				_, ok := r.Resolve("get_weather")
				assert.True(t, ok)
			}
		}()
	}
	wg.Wait()
}

func TestValidate(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(Registration{
		Name: "search_products",
		Params: []Param{
			{Name: "query", Type: ParamString, Required: true},
			{Name: "max_price", Type: ParamNumber},
			{Name: "in_stock_only", Type: ParamBoolean},
		},
		Render: renderName,
	})
	reg, _ := r.Resolve("search_products")

	assert.Empty(t, reg.Validate(map[string]any{"query": "keyboards", "max_price": 50.0, "extra": 1}))

	issues := reg.Validate(nil)
	require.Len(t, issues, 1)
	assert.Equal(t, FieldIssue{Field: "query", Constraint: "missing_field"}, issues[0])

	issues = reg.Validate(map[string]any{"query": "keyboards", "in_stock_only": "yes"})
	require.Len(t, issues, 1)
	assert.Equal(t, "in_stock_only", issues[0].Field)
	assert.Equal(t, "invalid_field_type", issues[0].Constraint)
	assert.Equal(t, []string{"boolean"}, issues[0].Expected)

	msg := IssuesError("search_products", []FieldIssue{
		{Field: "query", Constraint: "missing_field"},
		{Field: "in_stock_only", Constraint: "invalid_field_type", Expected: []string{"boolean"}},
	})
	assert.Equal(t, `invalid arguments for search_products: missing required parameter "query"; parameter "in_stock_only" must be boolean`, msg)
}

func TestValidateWithoutParams(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(Registration{Name: "noop", Render: renderName})
	reg, _ := r.Resolve("noop")
	assert.Nil(t, reg.Validate(map[string]any{"anything": true}))
}
