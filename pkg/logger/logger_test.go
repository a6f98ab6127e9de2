package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "app.log")
	if err := Init(Options{Level: "debug", Format: "json", File: path, MaxSize: 1, Quiet: true}); err != nil {
		t.Fatalf("init: %v", err)
	}
	Debugf("hello %s", "file")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"hello file"`) {
		t.Errorf("log file = %s", data)
	}
}

func TestLevelFilter(t *testing.T) {
	if err := Init(Options{Level: "warn"}); err != nil {
		t.Fatalf("init: %v", err)
	}
	var buf bytes.Buffer
	SetOutput(&buf)

	Infof("hidden")
	WithFields(map[string]interface{}{"session": "s1"}).Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info logged at warn level: %s", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "session=s1") {
		t.Errorf("missing warn entry: %s", out)
	}
}
