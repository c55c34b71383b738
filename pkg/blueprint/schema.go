package blueprint

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

// templateSchema constrains the overall shape of a template document. It
// deliberately leaves resource bodies open: the provider owns resource-level
// validation, this check only rejects documents that cannot be a template.
const templateSchema = `
#Template: {
	AWSTemplateFormatVersion?: string
	Description?:              string

	Parameters?: {
		[=~"^[A-Za-z0-9]+$"]: {
			Type:         string
			Default?:     _
			Description?: string
			NoEcho?:      bool
			...
		}
	}

	Resources: {
		[=~"^[A-Za-z0-9]+$"]: {
			Type: string
			...
		}
	}

	Outputs?: {
		[=~"^[A-Za-z0-9]+$"]: {
			Value: _
			...
		}
	}

	...
}
`

var (
	schemaOnce  sync.Once
	schemaCtx   *cue.Context
	schemaValue cue.Value
	schemaErr   error
)

func compiledSchema() (cue.Value, error) {
	schemaOnce.Do(func() {
		schemaCtx = cuecontext.New()
		schemaValue = schemaCtx.CompileString(templateSchema)
		if err := schemaValue.Err(); err != nil {
			schemaErr = fmt.Errorf("failed to compile template schema: %w", err)
			return
		}
		schemaValue = schemaValue.LookupPath(cue.ParsePath("#Template"))
		if err := schemaValue.Err(); err != nil {
			schemaErr = fmt.Errorf("failed to resolve template schema: %w", err)
		}
	})
	return schemaValue, schemaErr
}

// validateTemplate checks a raw template document against the CUE schema.
func validateTemplate(body []byte) error {
	schema, err := compiledSchema()
	if err != nil {
		return err
	}

	var generic map[string]interface{}
	if err := yaml.Unmarshal(body, &generic); err != nil {
		return fmt.Errorf("failed to decode template for validation: %w", err)
	}

	docVal := schemaCtx.Encode(generic)
	if err := docVal.Err(); err != nil {
		return fmt.Errorf("failed to encode template: %w", err)
	}

	unified := schema.Unify(docVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("template schema validation failed: %w", err)
	}

	return nil
}
