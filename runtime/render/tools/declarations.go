package tools

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type (
	// Catalog is the YAML document listing tool declarations.
	//
	//	tools:
	//	  - name: get_weather
	//	    description: Get current weather for a location
	//	    availability: disabled
	//	    parameters:
	//	      - name: location
	//	        type: string
	//	        required: true
	Catalog struct {
		Tools []Declaration `yaml:"tools"`
	}

	// Declaration declares a tool without its renderer.
	Declaration struct {
		Name           string             `yaml:"name"`
		Description    string             `yaml:"description,omitempty"`
		Availability   string             `yaml:"availability,omitempty"`
		HandlesFailure bool               `yaml:"handles_failure,omitempty"`
		Parameters     []ParamDeclaration `yaml:"parameters,omitempty"`
		// Renderer names the renderer to bind; it defaults to Name.
		Renderer string `yaml:"renderer,omitempty"`
	}

	// ParamDeclaration declares one parameter.
	ParamDeclaration struct {
		Name     string `yaml:"name"`
		Type     string `yaml:"type"`
		Required bool   `yaml:"required,omitempty"`
	}
)

// LoadDeclarations decodes a YAML catalog. Unknown keys are rejected.
func LoadDeclarations(r io.Reader) ([]Declaration, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var cat Catalog
	if err := dec.Decode(&cat); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode tool catalog: %w", err)
	}
	return cat.Tools, nil
}

// LoadDeclarationsFile decodes the YAML catalog stored at path.
func LoadDeclarationsFile(path string) ([]Declaration, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open tool catalog: %w", err)
	}
	defer func() { _ = f.Close() }()
	decls, err := LoadDeclarations(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return decls, nil
}

// Bind turns declarations into registrations. Each declaration is bound to
// the renderer named by its Renderer field (or its name) in renderers, or to
// fallback when the catalog has none. Bind fails when a renderer is missing
// and fallback is nil.
func Bind(decls []Declaration, renderers map[string]RenderFunc, fallback RenderFunc) ([]Registration, error) {
	regs := make([]Registration, 0, len(decls))
	for _, d := range decls {
		avail, err := ParseAvailability(d.Availability)
		if err != nil {
			return nil, fmt.Errorf("tool %q: %w", d.Name, err)
		}
		key := d.Renderer
		if key == "" {
			key = d.Name
		}
		render, ok := renderers[key]
		if !ok {
			if fallback == nil {
				return nil, fmt.Errorf("%w: no renderer %q for tool %q", ErrInvalidRegistration, key, d.Name)
			}
			render = fallback
		}
		params := make([]Param, len(d.Parameters))
		for i, p := range d.Parameters {
			params[i] = Param{Name: p.Name, Type: ParamType(p.Type), Required: p.Required}
		}
		regs = append(regs, Registration{
			Name:           d.Name,
			Description:    d.Description,
			Params:         params,
			Availability:   avail,
			Render:         render,
			HandlesFailure: d.HandlesFailure,
		})
	}
	return regs, nil
}
