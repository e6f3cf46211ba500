package logging

import "testing"

func FuzzParseLevel(f *testing.F) {
	for _, seed := range []string{"debug", "info", "warn", "warning", "error", "", "INFO", "  error ", "notalevel"} {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, raw string) {
		level, ok := ParseLevel(raw)
		if ok {
			if _, known := levelRanks[level]; !known {
				t.Fatalf("ParseLevel(%q) returned unknown level %q", raw, level)
			}
		} else if level != "" {
			t.Fatalf("ParseLevel(%q) returned %q with ok=false", raw, level)
		}
	})
}
