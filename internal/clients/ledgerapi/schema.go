package ledgerapi

import (
	"bytes"
	"embed"
	"fmt"
	"net/http"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// responseSchemas maps request identity to the schema its 2xx body must satisfy.
var responseSchemas = map[string]string{
	http.MethodPost + " " + EndpointTransactions: "schemas/submit.json",
	http.MethodGet + " " + EndpointBalances:      "schemas/balances.json",
	http.MethodGet + " " + EndpointHealth:        "schemas/health.json",
	http.MethodGet + " " + EndpointOptions:       "schemas/options.json",
}

type schemaRegistry struct {
	compiled map[string]*jsonschema.Schema
}

func loadSchemas() (*schemaRegistry, error) {
	compiler := jsonschema.NewCompiler()
	reg := &schemaRegistry{compiled: make(map[string]*jsonschema.Schema, len(responseSchemas))}

	for route, file := range responseSchemas {
		raw, err := schemaFS.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read schema %s: %w", file, err)
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to parse schema %s: %w", file, err)
		}
		if err := compiler.AddResource(file, doc); err != nil {
			return nil, fmt.Errorf("failed to add schema %s: %w", file, err)
		}
		sch, err := compiler.Compile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema %s: %w", file, err)
		}
		reg.compiled[route] = sch
	}

	return reg, nil
}

// validate checks body against the schema registered for method+endpoint.
// Routes without a schema pass.
func (r *schemaRegistry) validate(method, endpoint string, body []byte) error {
	sch, ok := r.compiled[method+" "+endpoint]
	if !ok {
		return nil
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %s %s: body is not JSON: %v", ErrInvalidResponse, method, endpoint, err)
	}
	if err := sch.Validate(inst); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrInvalidResponse, method, endpoint, err)
	}
	return nil
}
