package security

import (
	"strings"
	"testing"
)

func TestSnowflakeCodeGeneratorFormat(t *testing.T) {
	gen, err := NewSnowflakeCodeGenerator(1)
	if err != nil {
		t.Fatalf("NewSnowflakeCodeGenerator returned error: %v", err)
	}

	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		code := gen.Next()
		if !strings.HasPrefix(code, "TZ") {
			t.Fatalf("expected TZ prefix, got %q", code)
		}
		if code != strings.ToUpper(code) {
			t.Fatalf("expected upper-case code, got %q", code)
		}
		if _, dup := seen[code]; dup {
			t.Fatalf("duplicate code %q", code)
		}
		seen[code] = struct{}{}
	}
}

func TestSnowflakeCodeGeneratorRejectsNodeOutOfRange(t *testing.T) {
	if _, err := NewSnowflakeCodeGenerator(4096); err == nil {
		t.Fatal("expected error for node id out of range")
	}
}
