package router

import "testing"

func handlerStub(any) (any, error) { return nil, nil }

func TestLiteralBeatsParam(t *testing.T) {
	tr := New()
	if err := tr.Insert("/users/me", NewMethodSet("GET"), handlerStub, nil); err != nil {
		t.Fatal(err)
	}
	if err := tr.Insert("/users/{id}", NewMethodSet("GET"), handlerStub, nil); err != nil {
		t.Fatal(err)
	}
	_, _, params, pattern, _, ok := tr.Lookup("/users/me", "GET")
	if !ok {
		t.Fatal("expected match")
	}
	if pattern != "/users/me" {
		t.Fatalf("expected literal route to win, got pattern %q", pattern)
	}
	if len(params) != 0 {
		t.Fatalf("expected no params for literal match, got %v", params)
	}
}

func TestParamCapture(t *testing.T) {
	tr := New()
	if err := tr.Insert("/users/{id}", NewMethodSet("GET"), handlerStub, nil); err != nil {
		t.Fatal(err)
	}
	_, _, params, _, _, ok := tr.Lookup("/users/42", "GET")
	if !ok || params["id"] != "42" {
		t.Fatalf("expected id=42, got %v ok=%v", params, ok)
	}
}

func TestWildcardTerminalOnly(t *testing.T) {
	tr := New()
	if err := tr.Insert("/files/*/edit", NewMethodSet("GET"), handlerStub, nil); err == nil {
		t.Fatal("expected error for non-terminal wildcard")
	}
}

func TestMethodMismatchIs404NotDistinct(t *testing.T) {
	tr := New()
	if err := tr.Insert("/widgets", NewMethodSet("GET"), handlerStub, nil); err != nil {
		t.Fatal(err)
	}
	_, _, _, _, _, ok := tr.Lookup("/widgets", "POST")
	if ok {
		t.Fatal("expected no match for unregistered method")
	}
}

func TestDuplicateCanonicalPatternRejected(t *testing.T) {
	tr := New()
	if err := tr.Insert("/items/{id}", NewMethodSet("GET"), handlerStub, nil); err != nil {
		t.Fatal(err)
	}
	if err := tr.Insert("/items/{slug}", NewMethodSet("GET"), handlerStub, nil); err == nil {
		t.Fatal("expected canonical pattern collision error")
	}
}

func TestWildcardMatchesRemainderOfPath(t *testing.T) {
	tr := New()
	if err := tr.Insert("/static/*", NewMethodSet("GET"), handlerStub, nil); err != nil {
		t.Fatal(err)
	}
	_, _, params, pattern, _, ok := tr.Lookup("/static/a/b/c", "GET")
	if !ok {
		t.Fatal("expected wildcard to match a deeper path")
	}
	if pattern != "/static/*" {
		t.Fatalf("unexpected pattern %q", pattern)
	}
	if params["*"] != "a/b/c" {
		t.Fatalf("expected wildcard remainder captured under \"*\", got %v", params)
	}
}
