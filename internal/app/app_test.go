package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/ggoodman/oidcguard/auth/authtest"
	"github.com/ggoodman/oidcguard/config"
	"github.com/ggoodman/oidcguard/internal/testlog"
)

const clientID = "demo-client"

func options(p *authtest.Provider) config.Options {
	return config.Options{
		Issuer:            p.Issuer,
		ClientID:          clientID,
		ClientSecret:      "secret",
		RedirectURILogin:  "http://app.test/callback",
		UserInfoMethod:    "remote",
		AllowedAlgs:       []string{"RS256"},
		Leeway:            time.Minute,
		SessionCookieName: "sid",
		SessionTTL:        time.Hour,
		StorageBackend:    config.StorageMemory,
		StorageMaxItems:   100,
		PostLoginRedirect: "/",
	}
}

func newApp(t *testing.T, o config.Options) *App {
	t.Helper()
	if err := o.Validate(); err != nil {
		t.Fatalf("options: %v", err)
	}
	a, err := New(context.Background(), o, testlog.Logger(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func do(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHTTPRoutes(t *testing.T) {
	p := authtest.NewProvider(t, clientID)
	a := newApp(t, options(p))
	token := p.IDToken(t, "")

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{name: "health is public", method: http.MethodGet, path: "/healthz", want: http.StatusOK},
		{name: "health ignores bad token", method: http.MethodGet, path: "/healthz", token: "garbage", want: http.StatusOK},
		{name: "hello requires auth", method: http.MethodGet, path: "/api/hello", want: http.StatusUnauthorized},
		{name: "hello rejects bad token", method: http.MethodGet, path: "/api/hello", token: "garbage", want: http.StatusUnauthorized},
		{name: "hello with bearer", method: http.MethodGet, path: "/api/hello", token: token, want: http.StatusOK},
		{name: "login redirects", method: http.MethodGet, path: "/login", want: http.StatusFound},
		{name: "me requires auth", method: http.MethodGet, path: "/me", want: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, a.Handler, tt.method, tt.path, tt.token, "")
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}

	rec := do(t, a.Handler, http.MethodGet, "/api/hello", token, "")
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["message"] != "hello, jdoe" || body["method"] != "bearer" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestQueryEndpoint(t *testing.T) {
	p := authtest.NewProvider(t, clientID)
	a := newApp(t, options(p))
	token := p.IDToken(t, "")

	query := `{"query": "{ version me }"}`

	t.Run("anonymous gets public fields only", func(t *testing.T) {
		rec := do(t, a.Handler, http.MethodPost, "/graphql", "", query)
		var res queryResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if res.Data["version"] != Version {
			t.Fatalf("version = %v", res.Data["version"])
		}
		if res.Data["me"] != nil {
			t.Fatalf("me should be null, got %v", res.Data["me"])
		}
		want := []queryError{{Message: "unauthorized", Path: []string{"me"}}}
		if !reflect.DeepEqual(res.Errors, want) {
			t.Fatalf("errors = %+v", res.Errors)
		}
	})

	t.Run("bearer resolves everything", func(t *testing.T) {
		rec := do(t, a.Handler, http.MethodPost, "/graphql", token, query)
		var res queryResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(res.Errors) != 0 {
			t.Fatalf("unexpected errors %+v", res.Errors)
		}
		me, _ := res.Data["me"].(map[string]any)
		if me["name"] != "jdoe" || me["method"] != "bearer" {
			t.Fatalf("me = %v", res.Data["me"])
		}
	})

	t.Run("unknown field", func(t *testing.T) {
		rec := do(t, a.Handler, http.MethodPost, "/graphql", "", `{"query": "{ secrets }"}`)
		var res queryResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(res.Errors) != 1 || res.Errors[0].Message != "unknown field" {
			t.Fatalf("errors = %+v", res.Errors)
		}
	})

	t.Run("named operation with comment", func(t *testing.T) {
		body := `{"query": "# who am i\nquery Me { me }", "operationName": "Me"}`
		rec := do(t, a.Handler, http.MethodPost, "/graphql", token, body)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
		}
		var res queryResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(res.Errors) != 0 || res.Data["me"] == nil {
			t.Fatalf("unexpected response %+v", res)
		}
	})

	t.Run("invalid query", func(t *testing.T) {
		if rec := do(t, a.Handler, http.MethodPost, "/graphql", "", `{"query": "{ version"}`); rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("malformed", func(t *testing.T) {
		if rec := do(t, a.Handler, http.MethodPost, "/graphql", "", `not json`); rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d", rec.Code)
		}
	})
}

func TestUserInfoCallback(t *testing.T) {
	p := authtest.NewProvider(t, clientID)

	o := options(p)
	o.UserInfoCallback = func(ctx context.Context, username string) (any, error) {
		if username == "jdoe" {
			return nil, errors.New("account locked")
		}
		return username, nil
	}
	a := newApp(t, o)

	if rec := do(t, a.Handler, http.MethodGet, "/api/hello", p.IDToken(t, ""), ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestLoginDisabled(t *testing.T) {
	p := authtest.NewProvider(t, clientID)
	o := options(p)
	o.RedirectURILogin = ""
	a := newApp(t, o)

	if rec := do(t, a.Handler, http.MethodGet, "/login", "", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestParseSelection(t *testing.T) {
	tests := []struct {
		query   string
		op      string
		want    []string
		wantErr bool
	}{
		{query: "{ version }", want: []string{"version"}},
		{query: "query { version, me }", want: []string{"version", "me"}},
		{query: "{\n  version\n  me\n}", want: []string{"version", "me"}},
		{query: "query Me { me }", want: []string{"me"}},
		{query: "{ me version } # trailing", want: []string{"me", "version"}},
		{query: "{ me { name } }", want: []string{"me"}},
		{query: "{ v: version }", want: []string{"v"}},
		{query: "query A { version } query B { me }", op: "B", want: []string{"me"}},
		{query: "query A { version } query B { me }", wantErr: true},
		{query: "mutation { logout }", wantErr: true},
		{query: "{ ...F } fragment F on Query { version }", wantErr: true},
		{query: "version", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			fields, err := parseSelection(tt.query, tt.op)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %d fields", len(fields))
				}
				return
			}
			if err != nil {
				t.Fatalf("parseSelection: %v", err)
			}
			var got []string
			for _, f := range fields {
				got = append(got, f.Alias)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("parseSelection = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProtectedResourceMetadata(t *testing.T) {
	p := authtest.NewProvider(t, clientID)
	o := options(p)
	o.PublicURL = "https://api.example.com"
	a := newApp(t, o)

	rec := do(t, a.Handler, http.MethodGet, "/.well-known/oauth-protected-resource", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metadata status = %d", rec.Code)
	}
	var doc map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc["resource"] != "https://api.example.com" || doc["jwks_uri"] != p.Issuer+"/keys" {
		t.Fatalf("unexpected metadata %v", doc)
	}

	rec = do(t, a.Handler, http.MethodGet, "/api/hello", "", "")
	want := `resource_metadata="https://api.example.com/.well-known/oauth-protected-resource"`
	if got := rec.Header().Get("WWW-Authenticate"); !strings.Contains(got, want) {
		t.Fatalf("challenge %q does not advertise metadata", got)
	}
}
