package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
)

// Validate checks args against the registration's parameter declaration and
// returns the issues found, or nil when args are valid. Unknown arguments are
// allowed.
func (reg Registration) Validate(args map[string]any) []FieldIssue {
	if reg.schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}
	err := reg.schema.Validate(args)
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return []FieldIssue{{Constraint: "invalid_payload"}}
	}
	var issues []FieldIssue
	collectIssues(verr, &issues)
	if len(issues) == 0 {
		issues = append(issues, FieldIssue{Field: location(verr.InstanceLocation), Constraint: "invalid_payload"})
	}
	slices.SortStableFunc(issues, func(a, b FieldIssue) int { return strings.Compare(a.Field, b.Field) })
	return issues
}

// IssuesError formats issues as a single human readable message.
func IssuesError(tool string, issues []FieldIssue) string {
	parts := make([]string, 0, len(issues))
	for _, is := range issues {
		switch is.Constraint {
		case "missing_field":
			parts = append(parts, fmt.Sprintf("missing required parameter %q", is.Field))
		case "invalid_field_type":
			parts = append(parts, fmt.Sprintf("parameter %q must be %s", is.Field, strings.Join(is.Expected, " or ")))
		default:
			parts = append(parts, fmt.Sprintf("parameter %q is invalid", is.Field))
		}
	}
	return fmt.Sprintf("invalid arguments for %s: %s", tool, strings.Join(parts, "; "))
}

// compileParams compiles the parameter list into a JSON Schema object.
func compileParams(params []Param) (*jsonschema.Schema, error) {
	props := make(map[string]any, len(params))
	required := make([]string, 0, len(params))
	for _, p := range params {
		props[p.Name] = map[string]any{"type": string(p.Type)}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	doc := map[string]any{
		"$schema":    "https://json-schema.org/draft/2020-12/schema",
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	// Round trip through JSON so the compiler only sees decoded JSON types.
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal parameter schema: %w", err)
	}
	var schemaDoc any
	if err := json.Unmarshal(b, &schemaDoc); err != nil {
		return nil, fmt.Errorf("unmarshal parameter schema: %w", err)
	}
	const url = "params.json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, schemaDoc); err != nil {
		return nil, fmt.Errorf("add parameter schema: %w", err)
	}
	schema, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile parameter schema: %w", err)
	}
	return schema, nil
}

func collectIssues(verr *jsonschema.ValidationError, issues *[]FieldIssue) {
	switch k := verr.ErrorKind.(type) {
	case *kind.Required:
		for _, name := range k.Missing {
			*issues = append(*issues, FieldIssue{
				Field:      location(append(slices.Clone(verr.InstanceLocation), name)),
				Constraint: "missing_field",
			})
		}
	case *kind.Type:
		*issues = append(*issues, FieldIssue{
			Field:      location(verr.InstanceLocation),
			Constraint: "invalid_field_type",
			Expected:   slices.Clone(k.Want),
		})
	}
	for _, cause := range verr.Causes {
		collectIssues(cause, issues)
	}
}

func location(path []string) string {
	return strings.Join(path, ".")
}
