package testutil

import (
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// LoadJSON decodes testdata/<rel> into v.
func LoadJSON(t *testing.T, rel string, v any) {
	t.Helper()
	if err := json.Unmarshal(read(t, rel), v); err != nil {
		t.Fatalf("decode %s: %v", rel, err)
	}
}

// LoadHex returns testdata/<rel> with surrounding whitespace removed.
func LoadHex(t *testing.T, rel string) string {
	t.Helper()
	return strings.TrimSpace(string(read(t, rel)))
}

// LoadBytes decodes a hex fixture. Whitespace inside the file is ignored.
func LoadBytes(t *testing.T, rel string) []byte {
	t.Helper()
	b, err := hex.DecodeString(strings.Join(strings.Fields(LoadHex(t, rel)), ""))
	if err != nil {
		t.Fatalf("decode hex %s: %v", rel, err)
	}
	return b
}

// read resolves rel against the testdata directory next to go.mod, walking
// up from the package under test.
func read(t *testing.T, rel string) []byte {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			data, err := os.ReadFile(filepath.Join(dir, "testdata", rel))
			if err != nil {
				t.Fatalf("read testdata %s: %v", rel, err)
			}
			return data
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("no go.mod above the test directory, cannot locate testdata/%s", rel)
		}
		dir = parent
	}
}
