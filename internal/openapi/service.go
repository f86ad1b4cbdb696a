// Package openapi renders the service's route table as an OpenAPI 3 document.
package openapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
)

// DocumentProvider serves the encoded document for /openapi.json.
type DocumentProvider interface {
	Document(ctx context.Context) ([]byte, error)
}

type Route struct {
	Method      string
	Path        string
	OperationID string
	Summary     string
	Tag         string
	Responses   []Response
}

// Response is one documented status. A ContentType of application/json is
// described as an object schema, anything else as a string.
type Response struct {
	Status      int
	Description string
	ContentType string
	Example     any
}

// Service builds its document on first use and serves the same bytes after.
type Service struct {
	info   openapi3.Info
	routes []Route

	once sync.Once
	doc  []byte
	err  error
}

// NewService documents routes under title. An empty version becomes "dev".
func NewService(title, version string, routes ...Route) *Service {
	if version == "" {
		version = "dev"
	}
	return &Service{
		info:   openapi3.Info{Title: title, Version: version},
		routes: routes,
	}
}

func (s *Service) Document(ctx context.Context) ([]byte, error) {
	s.once.Do(func() { s.doc, s.err = s.render(ctx) })
	if s.err != nil {
		return nil, s.err
	}
	return append([]byte(nil), s.doc...), nil
}

func (s *Service) render(ctx context.Context) ([]byte, error) {
	if len(s.routes) == 0 {
		return nil, errors.New("openapi: no routes")
	}
	info := s.info
	doc := &openapi3.T{OpenAPI: "3.0.3", Info: &info, Paths: openapi3.NewPaths()}

	for _, rt := range s.routes {
		item := doc.Paths.Value(rt.Path)
		if item == nil {
			item = &openapi3.PathItem{}
			doc.Paths.Set(rt.Path, item)
		}
		method := strings.ToUpper(rt.Method)
		if item.GetOperation(method) != nil {
			return nil, fmt.Errorf("openapi: %s %s documented twice", method, rt.Path)
		}
		item.SetOperation(method, operation(rt))
	}

	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("openapi: %w", err)
	}
	return json.MarshalIndent(doc, "", "  ")
}

func operation(rt Route) *openapi3.Operation {
	op := openapi3.NewOperation()
	op.OperationID, op.Summary = rt.OperationID, rt.Summary
	if rt.Tag != "" {
		op.Tags = []string{rt.Tag}
	}

	responses := rt.Responses
	if len(responses) == 0 {
		responses = []Response{{Status: http.StatusOK, Description: http.StatusText(http.StatusOK)}}
	}
	opts := make([]openapi3.NewResponsesOption, 0, len(responses))
	for _, r := range responses {
		resp := openapi3.NewResponse().WithDescription(r.Description)
		if r.ContentType != "" {
			schema := openapi3.NewStringSchema()
			if r.ContentType == "application/json" {
				schema = openapi3.NewObjectSchema()
			}
			schema.Example = r.Example
			resp = resp.WithContent(openapi3.NewContentWithSchema(schema, []string{r.ContentType}))
		}
		opts = append(opts, openapi3.WithStatus(r.Status, &openapi3.ResponseRef{Value: resp}))
	}
	op.Responses = openapi3.NewResponses(opts...)
	return op
}
