package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestPreInitLoggerUsesConfiguredHandler(t *testing.T) {
	logger := L("capture")

	var buf bytes.Buffer
	Init("text", "info", &buf)

	logger.Info("stream started", "display", 0, "fps", 60)

	out := buf.String()
	if !strings.Contains(out, "msg=\"stream started\"") {
		t.Fatalf("expected stream started message, got: %s", out)
	}
	if !strings.Contains(out, "component=capture") {
		t.Fatalf("expected component field, got: %s", out)
	}
	if !strings.Contains(out, "fps=60") {
		t.Fatalf("expected fps field, got: %s", out)
	}
}

func TestPreInitLoggerRespectsConfiguredLevel(t *testing.T) {
	logger := L("capture")

	var buf bytes.Buffer
	Init("text", "warn", &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info log should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("warn log should be emitted: %s", out)
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	Init("json", "info", &buf)

	L("capture").Info("frame delivered")

	out := buf.String()
	if !strings.Contains(out, `"msg":"frame delivered"`) {
		t.Fatalf("expected json output, got: %s", out)
	}
	if !strings.Contains(out, `"component":"capture"`) {
		t.Fatalf("expected component field in json, got: %s", out)
	}
}
