package intent

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const storeFactSchema = `{
	"type": "object",
	"required": ["content"],
	"properties": {
		"content": {"type": "string", "minLength": 1},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1},
		"source_urls": {"type": "array", "items": {"type": "string"}},
		"tags": {"type": "array", "items": {"type": "string"}}
	}
}`

const storeDecisionSchema = `{
	"type": "object",
	"required": ["decision"],
	"properties": {
		"decision": {"type": "string", "minLength": 1},
		"rationale": {"type": "string"},
		"alternatives": {"type": "array", "items": {"type": "string"}}
	}
}`

const deleteArtifactSchema = `{
	"type": "object",
	"required": ["artifact_id"],
	"properties": {
		"artifact_id": {"type": "string", "minLength": 1},
		"reason": {"type": "string"},
		"force": {"type": "boolean"}
	}
}`

var schemas map[Kind]*jsonschema.Schema

func init() {
	compiler := jsonschema.NewCompiler()
	sources := map[Kind]string{
		KindStoreFact:      storeFactSchema,
		KindStoreDecision:  storeDecisionSchema,
		KindDeleteArtifact: deleteArtifactSchema,
	}
	schemas = make(map[Kind]*jsonschema.Schema, len(sources))
	for kind, src := range sources {
		name := string(kind) + ".json"
		if err := compiler.AddResource(name, strings.NewReader(src)); err != nil {
			panic(fmt.Sprintf("intent schema %s: %v", name, err))
		}
		schemas[kind] = compiler.MustCompile(name)
	}
}

// ValidateArgs checks intent arguments against the schema for the kind.
// Unknown intents have no schema and always validate.
func ValidateArgs(kind Kind, args map[string]any) error {
	schema, ok := schemas[kind]
	if !ok {
		return nil
	}
	v, err := roundTrip(args)
	if err != nil {
		return err
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("invalid %s arguments: %w", kind, err)
	}
	return nil
}
