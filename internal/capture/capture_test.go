package capture

import "testing"

func TestParseKind(t *testing.T) {
	cases := []struct {
		in   string
		want Kind
	}{
		{"", KindAuto},
		{"auto", KindAuto},
		{"duplication", KindDuplication},
		{"dxgi", KindDuplication},
		{"gdi", KindGDI},
		{"streaming", KindStreaming},
		{"sck", KindStreaming},
		{"library", KindLibrary},
	}
	for _, c := range cases {
		got, err := ParseKind(c.in)
		if err != nil {
			t.Fatalf("ParseKind(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("ParseKind(%q): expected %v, got %v", c.in, c.want, got)
		}
	}

	if _, err := ParseKind("vnc"); err == nil {
		t.Fatal("expected error for unknown backend name")
	}
}

func TestKindStringRoundTrip(t *testing.T) {
	for _, k := range []Kind{KindAuto, KindDuplication, KindGDI, KindStreaming, KindLibrary} {
		got, err := ParseKind(k.String())
		if err != nil {
			t.Fatalf("ParseKind(%q): %v", k.String(), err)
		}
		if got != k {
			t.Fatalf("round trip %v: got %v", k, got)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.FPS != 60 {
		t.Fatalf("expected default fps 60, got %d", cfg.FPS)
	}
	if cfg.DisplayIndex != 0 {
		t.Fatalf("expected default display 0, got %d", cfg.DisplayIndex)
	}
	if cfg.Kind != KindAuto {
		t.Fatalf("expected default kind auto, got %v", cfg.Kind)
	}
}
