package protocols_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"vector/internal/protocols"
)

func TestGet(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "PATH_ACL_01.md"), []byte("# ACL"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("plain"), 0o644); err != nil {
		t.Fatal(err)
	}
	secret := filepath.Join(filepath.Dir(root), "secret.md")
	if err := os.WriteFile(secret, []byte("nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Remove(secret) })
	if err := os.Mkdir(filepath.Join(root, "dir"), 0o755); err != nil {
		t.Fatal(err)
	}

	s := protocols.Store{Root: root}
	ctx := context.Background()
	doc, err := s.Get(ctx, "PATH_ACL_01")
	if err != nil || doc.Content != "# ACL" {
		t.Fatalf("get without extension: %+v %v", doc, err)
	}
	doc, err = s.Get(ctx, "notes.txt")
	if err != nil || doc.Content != "plain" {
		t.Fatalf("get with extension: %+v %v", doc, err)
	}
	doc, err = s.Get(ctx, "../../etc/PATH_ACL_01.md")
	if err != nil || doc.ID != "PATH_ACL_01.md" {
		t.Fatalf("traversal reduced to base: %+v %v", doc, err)
	}
	for _, id := range []string{"", ".", "..", "/", "../secret.md", "missing", "dir"} {
		if _, err := s.Get(ctx, id); !errors.Is(err, protocols.ErrNotFound) {
			t.Fatalf("Get(%q) expected not found, got %v", id, err)
		}
	}
}

func TestSanitizeID(t *testing.T) {
	cases := map[string]string{
		"a.md":            "a.md",
		"x/y/z.md":        "z.md",
		`..\..\win.md`:    "win.md",
		"../":             "",
		"  PATH_ACL_01  ": "PATH_ACL_01",
	}
	for in, want := range cases {
		if got := protocols.SanitizeID(in); got != want {
			t.Fatalf("SanitizeID(%q) = %q, want %q", in, got, want)
		}
	}
}
