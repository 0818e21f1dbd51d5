package pipelinefile

import (
	_ "embed"
	"errors"
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON []byte

var (
	compiledSchema *gojsonschema.Schema
	compileOnce    sync.Once
	compileErr     error
)

func getSchema() (*gojsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiledSchema, compileErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	})
	return compiledSchema, compileErr
}

// checkShape rejects unknown keys and mistyped values in a YAML pipeline.
// Semantic rules live in Validate.
func checkShape(b []byte) error {
	var doc any
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return err
	}
	if doc == nil {
		return nil
	}

	schema, err := getSchema()
	if err != nil {
		return fmt.Errorf("compiling pipeline schema: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("validating pipeline shape: %w", err)
	}

	var errs error
	for _, e := range result.Errors() {
		errs = multierr.Append(errs, errors.New(e.String()))
	}
	return errs
}
