package debug

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"reflect"
	"strings"
	"testing"
)

// restore saves the package and slog state and puts it back after the test.
func restore(t *testing.T) {
	t.Helper()
	origCats := categories
	origLogger := slog.Default()
	t.Cleanup(func() {
		categories = origCats
		slog.SetDefault(origLogger)
	})
}

func TestParseCategories(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  map[string]bool
	}{
		{"empty", "", map[string]bool{}},
		{"single", "backend", map[string]bool{"backend": true}},
		{"multiple", "backend,engine", map[string]bool{"backend": true, "engine": true}},
		{"all", "all", map[string]bool{"all": true}},
		{"with spaces", " backend , http ", map[string]bool{"backend": true, "http": true}},
		{"uppercase normalized", "BACKEND,Engine", map[string]bool{"backend": true, "engine": true}},
		{"empty segments", "backend,,engine", map[string]bool{"backend": true, "engine": true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseCategories(tt.input)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseCategories(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestEnabled(t *testing.T) {
	restore(t)
	categories = parseCategories("backend,engine")

	if !Enabled("backend") || !Enabled("engine") {
		t.Error("backend and engine should be enabled")
	}
	if Enabled("http") {
		t.Error("http should not be enabled")
	}
}

func TestEnabled_All(t *testing.T) {
	restore(t)
	categories = parseCategories("all")

	for _, c := range []string{"backend", "engine", "anything"} {
		if !Enabled(c) {
			t.Errorf("%s should be enabled via 'all'", c)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"TRACE", LevelTrace},
		{"trace", LevelTrace},
		{"DEBUG", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"WARNING", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"unknown", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestInitWriter_EnvOverridesConfig(t *testing.T) {
	restore(t)
	t.Setenv("LOCALRESP_DEBUG", "http")
	t.Setenv("LOCALRESP_LOG_LEVEL", "")

	var buf bytes.Buffer
	InitWriter(&buf, "backend", "INFO", "text")

	if !Enabled("http") || Enabled("backend") {
		t.Errorf("categories = %v, want only http", Categories())
	}

	// A category implies debug level.
	Log("http", "hello", "k", "v")
	if !strings.Contains(buf.String(), "hello") || !strings.Contains(buf.String(), "debug=http") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestInitWriter_JSON(t *testing.T) {
	restore(t)
	t.Setenv("LOCALRESP_DEBUG", "")
	t.Setenv("LOCALRESP_LOG_LEVEL", "")

	var buf bytes.Buffer
	InitWriter(&buf, "", "warn", "json")

	slog.Info("hidden")
	slog.Warn("shown", "k", "v")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if rec["msg"] != "shown" || rec["k"] != "v" {
		t.Errorf("record = %v", rec)
	}
}

func TestTrace(t *testing.T) {
	restore(t)
	t.Setenv("LOCALRESP_DEBUG", "")
	t.Setenv("LOCALRESP_LOG_LEVEL", "")

	var buf bytes.Buffer
	InitWriter(&buf, "backend", "DEBUG", "text")
	if TraceIsEnabled("backend") {
		t.Error("trace should be off at DEBUG")
	}
	Trace("backend", "chunk")
	if buf.Len() != 0 {
		t.Errorf("unexpected output %q", buf.String())
	}

	InitWriter(&buf, "backend", "TRACE", "text")
	if !TraceIsEnabled("backend") {
		t.Error("trace should be on at TRACE")
	}
	Trace("backend", "chunk")
	if !strings.Contains(buf.String(), "chunk") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestCategories_Sorted(t *testing.T) {
	restore(t)
	categories = parseCategories("http,backend,engine")
	want := []string{"backend", "engine", "http"}
	if got := Categories(); !reflect.DeepEqual(got, want) {
		t.Errorf("Categories() = %v, want %v", got, want)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("Truncate short = %q", got)
	}
	if got := Truncate("this is a long string", 10); got != "this is a ..." {
		t.Errorf("Truncate long = %q", got)
	}
}
