package api

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"callpipe/pipeline"
)

//go:embed call_record.schema.json
var defaultCallSchema []byte

// CallValidator validates call records against a pre-loaded JSON schema.
type CallValidator struct {
	once   sync.Once
	schema *gojsonschema.Schema
	err    error
	path   string
}

// NewCallValidator loads the schema at schemaPath, or the built-in call
// record schema when schemaPath is empty.
func NewCallValidator(schemaPath string) *CallValidator {
	return &CallValidator{path: schemaPath}
}

func (v *CallValidator) load() {
	var loader gojsonschema.JSONLoader
	if v.path == "" {
		loader = gojsonschema.NewBytesLoader(defaultCallSchema)
	} else {
		abs, err := filepath.Abs(v.path)
		if err != nil {
			v.err = fmt.Errorf("resolve schema path: %w", err)
			return
		}
		loader = gojsonschema.NewReferenceLoader("file://" + filepath.ToSlash(abs))
	}
	v.schema, v.err = gojsonschema.NewSchema(loader)
	if v.err != nil {
		v.err = fmt.Errorf("compile schema: %w", v.err)
	}
}

// Validate implements pipeline.Validator.
func (v *CallValidator) Validate(doc interface{}) error {
	v.once.Do(v.load)
	if v.err != nil {
		return v.err
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: %v", pipeline.ErrInvalidPayload, err)
	}
	res, err := v.schema.Validate(gojsonschema.NewBytesLoader(b))
	if err != nil {
		return err
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s", pipeline.ErrSchemaViolation, strings.Join(msgs, "; "))
	}
	return nil
}
