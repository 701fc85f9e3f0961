package tools

import (
	"encoding/json"
	"fmt"

	invjs "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Definition is a function tool as advertised to the voice provider.
type Definition struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// reflectParameters derives a plain object schema from an args struct and
// compiles it for argument validation.
func reflectParameters(name string, args any) (json.RawMessage, *jsonschema.Schema, error) {
	r := &invjs.Reflector{
		Anonymous:                 true,
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: true,
	}
	s := r.Reflect(args)
	s.Version = ""

	raw, err := json.Marshal(s)
	if err != nil {
		return nil, nil, fmt.Errorf("tools: marshal %s schema: %w", name, err)
	}
	compiled, err := jsonschema.CompileString(name+".schema.json", string(raw))
	if err != nil {
		return nil, nil, fmt.Errorf("tools: compile %s schema: %w", name, err)
	}
	return raw, compiled, nil
}

// decodeArgs validates raw against schema and decodes it into out.
func decodeArgs(schema *jsonschema.Schema, raw map[string]any, out any) error {
	if raw == nil {
		raw = map[string]any{}
	}
	if err := schema.Validate(raw); err != nil {
		return err
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}
