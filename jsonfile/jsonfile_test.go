package jsonfile

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMarshalStable(t *testing.T) {
	data, err := MarshalStable([]map[string]any{{"title": "a <b>", "id": 1}})
	if err != nil {
		t.Fatalf("MarshalStable: %v", err)
	}
	want := "[\n  {\n    \"id\": 1,\n    \"title\": \"a <b>\"\n  }\n]\n"
	if string(data) != want {
		t.Errorf("got %q\nwant %q", data, want)
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{"array", `[1,2,3]`, false},
		{"trailing newline", "[1]\n", false},
		{"trailing content", `[1] [2]`, true},
		{"truncated", `[1,`, true},
		{"empty", ``, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v []int
			err := Decode([]byte(tt.data), &v)
			if (err != nil) != tt.wantErr {
				t.Errorf("Decode(%q) error = %v, wantErr %v", tt.data, err, tt.wantErr)
			}
		})
	}
}

func TestWriteAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "tasks.json")

	if err := WriteAtomic(path, []byte("[]\n"), 0o644); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}
	if err := WriteAtomic(path, []byte("[1]\n"), 0o600); err != nil {
		t.Fatalf("WriteAtomic overwrite: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "[1]\n" {
		t.Errorf("content = %q", data)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("perm = %v, want 0600", info.Mode().Perm())
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %v", entries)
	}
}

func TestWriteAtomic_FailureLeavesOriginal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.json")
	if err := os.WriteFile(path, []byte("original"), 0o644); err != nil {
		t.Fatal(err)
	}

	// A directory at the target path makes the rename fail.
	blocked := filepath.Join(dir, "blocked")
	if err := os.MkdirAll(filepath.Join(blocked, "child"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := WriteAtomic(blocked, []byte("new"), 0o644); err == nil {
		t.Fatal("expected error writing over a non-empty directory")
	}

	data, _ := os.ReadFile(path)
	if string(data) != "original" {
		t.Errorf("unrelated file changed: %q", data)
	}
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if e.Name() != "tasks.json" && e.Name() != "blocked" {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}
