package logctx

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandler_AddsGroups(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(Handler{Handler: slog.NewTextHandler(&buf, nil)})

	ctx := WithRequestData(context.Background(), &RequestData{RequestID: "r1", Method: "GET", Path: "/me"})
	ctx = WithAuthData(ctx, &AuthData{Subject: "user-1", Method: "bearer"})
	log.InfoContext(ctx, "hello")

	out := buf.String()
	for _, want := range []string{"req.id=r1", "req.method=GET", "req.path=/me", "auth.subject=user-1", "auth.method=bearer"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in %q", want, out)
		}
	}
}

func TestHandler_WithAttrsKeepsDecoration(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(Handler{Handler: slog.NewTextHandler(&buf, nil)}).With(slog.String("component", "guard"))

	ctx := WithAuthData(context.Background(), &AuthData{Subject: "s"})
	log.InfoContext(ctx, "hello")

	if out := buf.String(); !strings.Contains(out, "component=guard") || !strings.Contains(out, "auth.subject=s") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestMiddleware(t *testing.T) {
	var got *RequestData
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = r.Context().Value(requestDataKey{}).(*RequestData)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/callback", nil))

	if got == nil {
		t.Fatalf("request data not attached")
	}
	if got.RequestID == "" || got.Method != http.MethodPost || got.Path != "/callback" {
		t.Fatalf("unexpected request data %+v", got)
	}
}
