package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON string

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("config.schema.json", strings.NewReader(schemaJSON)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = c.Compile("config.schema.json")
	})
	return schema, schemaErr
}

// LoadFile reads a YAML or JSON (by extension) config file, checks it
// against the schema, decodes it strictly, and applies defaults.
func LoadFile(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	f, err := Parse(b, strings.ToLower(filepath.Ext(path)) == ".json")
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	return f, nil
}

// Parse decodes config bytes. Defaults are applied; Validate is left to the
// caller so flags can be overlaid first.
func Parse(b []byte, isJSON bool) (*File, error) {
	if err := validateSchema(b, isJSON); err != nil {
		return nil, err
	}
	var f File
	if isJSON {
		if err := decodeJSONStrict(b, &f); err != nil {
			return nil, err
		}
	} else {
		if err := decodeYAMLStrict(b, &f); err != nil {
			return nil, err
		}
	}
	applyDefaults(&f)
	return &f, nil
}

// validateSchema checks the document in its JSON data model so YAML and
// JSON files are held to the same rules.
func validateSchema(b []byte, isJSON bool) error {
	s, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	var doc any
	if isJSON {
		doc, err = decodeJSONValue(b)
		if err != nil {
			return err
		}
	} else {
		var raw any
		if err := yaml.Unmarshal(b, &raw); err != nil {
			return err
		}
		if raw == nil {
			raw = map[string]any{}
		}
		jb, err := json.Marshal(raw)
		if err != nil {
			return fmt.Errorf("yaml: %w", err)
		}
		doc, err = decodeJSONValue(jb)
		if err != nil {
			return err
		}
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	return nil
}

func decodeJSONValue(b []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func decodeJSONStrict(b []byte, f *File) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(f); err != nil {
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("json: multiple top-level values are not allowed")
		}
		return err
	}
	return nil
}

func decodeYAMLStrict(b []byte, f *File) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(f); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("yaml: multiple documents are not allowed")
		}
		return err
	}
	return nil
}
