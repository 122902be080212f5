// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package schema validates JSON documents against JSON schemas
package schema

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/goccy/go-json"
	"github.com/xeipuuv/gojsonschema"
)

// ErrInvalid is wrapped by all validation failures of a document
var ErrInvalid = errors.New("the document is not valid")

// Validator validates JSON documents against a set of schemas, identified by their $id
type Validator struct {
	schemaValidators map[string]*gojsonschema.Schema
}

// NewValidatorFromFS creates a new Validator using schemas from fsys. Json files
// from the root will be used as toplevel schemas, while json files in refs/ will
// be used as references. refs/ is optional.
func NewValidatorFromFS(fsys fs.FS) (*Validator, error) {
	readDir := func(dir string) ([]string, error) {
		var strs []string
		files, err := fs.ReadDir(fsys, dir)
		if err != nil {
			return nil, fmt.Errorf("cannot read dir %s: %w", dir, err)
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
				continue
			}
			str, err := fs.ReadFile(fsys, path.Join(dir, f.Name()))
			if err != nil {
				return nil, fmt.Errorf("cannot read file '%s': %w", f.Name(), err)
			}
			strs = append(strs, string(str))
		}
		return strs, nil
	}

	schemas, err := readDir(".")
	if err != nil {
		return nil, err
	}

	var refs []string
	if _, err := fs.Stat(fsys, "refs"); err == nil {
		if refs, err = readDir("refs"); err != nil {
			return nil, err
		}
	}
	return NewValidator(schemas, refs)
}

// NewValidator creates a new Validator using schemas for the top level JSON schemas and refs
// for refs that may be referenced in the top level schemas. Top level schemas cannot reference each
// others.
func NewValidator(schemas []string, refs []string) (*Validator, error) {
	var header struct {
		ID string `json:"$id"`
	}
	validator := Validator{schemaValidators: make(map[string]*gojsonschema.Schema)}
	for _, str := range schemas {
		header.ID = ""
		if err := json.Unmarshal([]byte(str), &header); err != nil {
			return nil, fmt.Errorf("parse error '%v' in schema: '%s'", err, str)
		}
		if header.ID == "" {
			return nil, fmt.Errorf("schema does not contain $id: '%s'", str)
		}

		sl := gojsonschema.NewSchemaLoader()
		for _, ref := range refs {
			if err := sl.AddSchemas(gojsonschema.NewStringLoader(ref)); err != nil {
				return nil, fmt.Errorf("cannot add ref for %s: %w", header.ID, err)
			}
		}
		compiled, err := sl.Compile(gojsonschema.NewStringLoader(str))
		if err != nil {
			return nil, fmt.Errorf("cannot compile schema %s: %w", header.ID, err)
		}
		validator.schemaValidators[header.ID] = compiled
	}
	return &validator, nil
}

// HasSchema returns true if schemaID is known
func (v *Validator) HasSchema(schemaID string) bool {
	_, ok := v.schemaValidators[schemaID]
	return ok
}

// ValidateStruct validates the given value as JSON against schemaID
func (v *Validator) ValidateStruct(value interface{}, schemaID string) error {
	return v.validate(gojsonschema.NewGoLoader(value), schemaID)
}

// ValidateBytes validates the raw JSON document against schemaID
func (v *Validator) ValidateBytes(document []byte, schemaID string) error {
	return v.validate(gojsonschema.NewBytesLoader(document), schemaID)
}

func (v *Validator) validate(loader gojsonschema.JSONLoader, schemaID string) error {
	compiled, ok := v.schemaValidators[schemaID]
	if !ok {
		return fmt.Errorf("there is no schema %s", schemaID)
	}

	result, err := compiled.Validate(loader)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalid, err)
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			details = append(details, e.String())
		}
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(details, "; "))
	}
	return nil
}
