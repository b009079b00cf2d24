package api

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"vrpdash/internal/model"
)

//go:embed schema/route_document.schema.json
var routeDocumentSchema []byte

const routeDocumentSchemaURL = "https://vrpdash.local/schema/route_document.schema.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

// routeSchema compiles the embedded schema once.
func routeSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(routeDocumentSchemaURL, bytes.NewReader(routeDocumentSchema)); err != nil {
			schemaErr = fmt.Errorf("route schema load failed: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile(routeDocumentSchemaURL)
	})
	return compiledSchema, schemaErr
}

// errInvalidDocument marks a body that decoded but failed schema validation.
var errInvalidDocument = errors.New("invalid route document")

// decodeRouteDocument reads and validates an uploaded route document. The raw
// (envelope-free) object is returned alongside the normalized form so the
// original can be stored untouched.
func decodeRouteDocument(r io.Reader) (map[string]any, model.RouteDocument, error) {
	raw, err := model.DecodeRaw(r)
	if err != nil {
		return nil, model.RouteDocument{}, err
	}
	sch, err := routeSchema()
	if err != nil {
		return nil, model.RouteDocument{}, err
	}
	if err := sch.Validate(raw); err != nil {
		return nil, model.RouteDocument{}, fmt.Errorf("%w: %v", errInvalidDocument, err)
	}
	return raw, model.Normalize(raw), nil
}
