package registry

import (
	"os"
	"path/filepath"
	"testing"
)

func writeRoster(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadDirParsesJSONAndYAML(t *testing.T) {
	dir := t.TempDir()
	writeRoster(t, dir, "alice.json", `{"name":"alice","external_id":"E1","embedding":[1,0,0]}`)
	writeRoster(t, dir, "team.yaml", "- name: bob\n  embedding: [0, 1, 0]\n- name: carol\n  external_id: E3\n  embedding: [0, 0, 1]\n")
	writeRoster(t, dir, "readme.txt", "not a roster")

	roster, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(roster) != 3 {
		t.Fatalf("loaded %d identities, want 3", len(roster))
	}
	byName := map[string]int{}
	for _, id := range roster {
		byName[id.Name] = len(id.Embedding)
	}
	for _, name := range []string{"alice", "bob", "carol"} {
		if byName[name] != 3 {
			t.Fatalf("identity %q missing or malformed: %v", name, byName)
		}
	}
}

func TestLoadDirRejectsMalformedEntries(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"bad.json", `{not json`},
		{"noname.json", `{"embedding":[1]}`},
		{"novec.yaml", "name: dave\n"},
	}
	for _, tc := range cases {
		dir := t.TempDir()
		writeRoster(t, dir, tc.name, tc.content)
		if _, err := LoadDir(dir); err == nil {
			t.Errorf("%s: expected an error", tc.name)
		}
	}
}

func TestLoadDirMissingDirectory(t *testing.T) {
	if _, err := LoadDir(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatalf("expected an error for a missing directory")
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir on this platform: %v", err)
	}
	if got, err := expandHome("~"); err != nil || got != home {
		t.Fatalf("expandHome(~) = %q, %v; want %q", got, err, home)
	}
	if got, err := expandHome("~/faces"); err != nil || got != filepath.Join(home, "faces") {
		t.Fatalf("expandHome(~/faces) = %q, %v", got, err)
	}
	if got, err := expandHome("/abs/faces"); err != nil || got != "/abs/faces" {
		t.Fatalf("absolute path must pass through, got %q, %v", got, err)
	}
	if got, err := expandHome(""); err != nil || got != "" {
		t.Fatalf("empty path must pass through, got %q, %v", got, err)
	}
}
