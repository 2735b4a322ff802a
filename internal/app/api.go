package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ggoodman/oidcguard/auth"
	"github.com/ggoodman/oidcguard/guard"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// Version is reported by the public "version" query field.
var Version = "dev"

func registerAPI(mux *http.ServeMux, g *guard.Guard, log *slog.Logger) {
	g.HandlePublic(mux, "GET /healthz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	}))

	g.Handle(mux, "GET /api/hello", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name, method := identity(r.Context())
		writeJSON(w, http.StatusOK, map[string]any{
			"message": "hello, " + name,
			"method":  method,
		})
	}))

	q := &queryEndpoint{guard: g, log: log, resolvers: map[string]resolver{
		"version": func(ctx context.Context) (any, error) { return Version, nil },
		"me": func(ctx context.Context) (any, error) {
			name, method := identity(ctx)
			return map[string]any{"name": name, "method": method}, nil
		},
	}}
	g.Routes().MarkPublic(queryField("version"))

	// Authorization happens per field, so the endpoint itself is public.
	g.HandlePublic(mux, "POST /graphql", guard.WithHTTPRequest(q))
}

type resolver func(ctx context.Context) (any, error)

// queryEndpoint answers GraphQL queries over the top-level fields of Query,
// e.g. `{ version me }`. Each field is checked by the guard on its
// own, so a caller without credentials still gets the public fields.
type queryEndpoint struct {
	guard     *guard.Guard
	log       *slog.Logger
	resolvers map[string]resolver
}

type queryRequest struct {
	Query         string `json:"query"`
	OperationName string `json:"operationName,omitempty"`
}

type queryError struct {
	Message string   `json:"message"`
	Path    []string `json:"path"`
}

type queryResponse struct {
	Data   map[string]any `json:"data"`
	Errors []queryError   `json:"errors,omitempty"`
}

func queryField(name string) string { return "Query." + name }

func (q *queryEndpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, queryResponse{Errors: []queryError{{Message: "malformed request body"}}})
		return
	}
	fields, err := parseSelection(req.Query, req.OperationName)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, queryResponse{Errors: []queryError{{Message: err.Error()}}})
		return
	}

	res := queryResponse{Data: map[string]any{}}
	for _, sel := range fields {
		f := sel.Alias
		resolve, ok := q.resolvers[sel.Name]
		if !ok {
			res.Errors = append(res.Errors, queryError{Message: "unknown field", Path: []string{f}})
			continue
		}
		ctx, err := q.guard.CheckField(r.Context(), queryField(sel.Name))
		if err != nil {
			msg := "internal error"
			if errors.Is(err, auth.ErrUnauthorized) {
				msg = "unauthorized"
			}
			res.Data[f] = nil
			res.Errors = append(res.Errors, queryError{Message: msg, Path: []string{f}})
			continue
		}
		v, err := resolve(ctx)
		if err != nil {
			q.log.ErrorContext(ctx, "resolver failed", slog.String("field", f), slog.String("err", err.Error()))
			res.Data[f] = nil
			res.Errors = append(res.Errors, queryError{Message: "internal error", Path: []string{f}})
			continue
		}
		res.Data[f] = v
	}
	writeJSON(w, http.StatusOK, res)
}

// parseSelection returns the top-level fields selected by the query
// operation named op (or the only operation when op is empty). Nested
// selections are accepted but resolvers return whole values.
func parseSelection(query, op string) ([]*ast.Field, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: query})
	if err != nil {
		return nil, fmt.Errorf("invalid query: %w", err)
	}
	operation := doc.Operations.ForName(op)
	if operation == nil {
		return nil, errors.New("unknown operation")
	}
	if operation.Operation != ast.Query {
		return nil, fmt.Errorf("unsupported operation %q", operation.Operation)
	}

	var fields []*ast.Field
	for _, sel := range operation.SelectionSet {
		f, ok := sel.(*ast.Field)
		if !ok {
			return nil, errors.New("fragments are not supported")
		}
		if f.Alias == "" {
			f.Alias = f.Name
		}
		fields = append(fields, f)
	}
	if len(fields) == 0 {
		return nil, errors.New("empty selection")
	}
	return fields, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
