package storage_test

import (
	"strings"
	"testing"

	"github.com/ggoodman/oidcguard/storage"
)

func TestNamespacePrefix(t *testing.T) {
	tests := []struct {
		name string
		ns   storage.Namespace
		want string
	}{
		{name: "global", ns: nil, want: "global:"},
		{name: "login", ns: storage.LoginNamespace{}, want: "login:"},
		{name: "user", ns: storage.UserNamespace{UserID: "u"}, want: "user:u:"},
		{name: "session", ns: storage.SessionNamespace{UserID: "u", SessionID: "s"}, want: "user:u:session:s:"},
		{name: "urn subject", ns: storage.UserNamespace{UserID: "urn:x:1"}, want: "user:urn%3Ax%3A1:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := storage.NamespacePrefix(tt.ns); got != tt.want {
				t.Fatalf("NamespacePrefix = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNamespacePrefix_NoAliasing(t *testing.T) {
	alice := storage.NamespacePrefix(storage.UserNamespace{UserID: "alice"})
	others := []storage.Namespace{
		storage.UserNamespace{UserID: "alice:admin"},
		storage.SessionNamespace{UserID: "alice:admin", SessionID: "s1"},
	}
	for _, ns := range others {
		if p := storage.NamespacePrefix(ns); strings.HasPrefix(p, alice) {
			t.Errorf("%q is nested under %q", p, alice)
		}
	}

	userKey := storage.ItemKey(storage.UserNamespace{UserID: "a:session:s"}, "x")
	sessionKey := storage.ItemKey(storage.SessionNamespace{UserID: "a", SessionID: "s"}, "x")
	if userKey == sessionKey {
		t.Fatalf("user and session keys collide: %q", userKey)
	}
}
