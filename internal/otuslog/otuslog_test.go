package otuslog

import "testing"

func TestBuild_DefaultsToInfoOnBadLevel(t *testing.T) {
	l := build(Config{Level: "not-a-level"})
	adapter, ok := l.(*logrusAdapter)
	if !ok {
		t.Fatalf("expected *logrusAdapter")
	}
	if adapter.IsDebugEnabled() {
		t.Fatalf("expected debug disabled at default info level")
	}
}

func TestBuild_DebugLevelEnablesDebug(t *testing.T) {
	l := build(Config{Level: "debug"})
	if !l.IsDebugEnabled() {
		t.Fatalf("expected debug enabled")
	}
}

func TestGosipAdapter_PrefixRoundTrip(t *testing.T) {
	base := &GosipAdapter{Logger: build(Config{Level: "info"})}
	withPrefix := base.WithPrefix("sip")
	if withPrefix.Prefix() != "sip" {
		t.Fatalf("expected prefix 'sip', got %q", withPrefix.Prefix())
	}
	if base.Prefix() != "" {
		t.Fatalf("expected original adapter prefix unchanged")
	}
}
