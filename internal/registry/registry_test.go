package registry

import (
	"os"
	"path/filepath"
	"testing"

	"slackbridge/internal/domain"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadFromDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "team.yaml", `
conversations:
  - id: C0123ABCD
    name: engineering
  - id: D0456EFGH
    name: dm-ana
`)
	writeFile(t, dir, "extra.yml", `
conversations:
  - id: G0789IJKL
    name: leads
`)
	writeFile(t, dir, "notes.txt", "not a registry file")

	r, err := LoadFromDirectory(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	got := r.Registered()
	if len(got) != 3 {
		t.Fatalf("got %d conversations, want 3", len(got))
	}
	if got["C0123ABCD"].Name != "engineering" {
		t.Errorf("C0123ABCD = %+v", got["C0123ABCD"])
	}
}

func TestLoadSkipsMalformedFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.yaml", "conversations: [unbalanced")
	writeFile(t, dir, "good.yaml", "conversations:\n  - id: C0123ABCD\n    name: ok\n")

	r, err := LoadFromDirectory(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Registered()) != 1 {
		t.Errorf("got %d conversations, want the good file only", len(r.Registered()))
	}
}

func TestLoadMissingDirectoryStartsEmpty(t *testing.T) {
	r, err := LoadFromDirectory(filepath.Join(t.TempDir(), "nope"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Registered()) != 0 {
		t.Errorf("got %d conversations, want 0", len(r.Registered()))
	}
}

func TestRegisteredReturnsCopy(t *testing.T) {
	r, err := LoadFromDirectory(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	r.Register("C1", domain.ConversationConfig{Name: "one"})

	got := r.Registered()
	got["C2"] = domain.ConversationConfig{Name: "sneaky"}
	if _, ok := r.Registered()["C2"]; ok {
		t.Error("mutating the returned map leaked into the registry")
	}
}

func TestEntriesWithoutIDIgnored(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "reg.yaml", "conversations:\n  - name: nameless\n  - id: C1\n    name: ok\n")

	r, err := LoadFromDirectory(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Registered()) != 1 {
		t.Errorf("got %d conversations, want 1", len(r.Registered()))
	}
}
