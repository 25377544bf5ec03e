package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTestConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sngcore.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write test config: %v", err)
	}
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeTestConfig(t, `
sngcore:
  capture:
    limit: 1000
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Capture.Limit != 1000 {
		t.Fatalf("expected capture.limit=1000, got %d", cfg.Capture.Limit)
	}
	if cfg.Capture.Storage != "memory" {
		t.Fatalf("expected default storage=memory, got %q", cfg.Capture.Storage)
	}
	if cfg.Log.Level != "info" {
		t.Fatalf("expected default log level=info, got %q", cfg.Log.Level)
	}
	if cfg.HEP.Send.Version != 3 {
		t.Fatalf("expected default hep.send.ver=3, got %d", cfg.HEP.Send.Version)
	}
}

func TestLoad_ParsesHEPAndKafkaOutputs(t *testing.T) {
	path := writeTestConfig(t, `
sngcore:
  hep:
    send:
      enabled: true
      addr: "10.0.0.5"
      port: 9060
      ver: 3
  output:
    kafka:
      brokers: ["broker1:9092", "broker2:9092"]
      topic: "sip-mirror"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.HEP.Send.Enabled || cfg.HEP.Send.Addr != "10.0.0.5" || cfg.HEP.Send.Port != 9060 {
		t.Fatalf("unexpected hep.send config: %+v", cfg.HEP.Send)
	}
	if len(cfg.Output.Kafka.Brokers) != 2 || cfg.Output.Kafka.Topic != "sip-mirror" {
		t.Fatalf("unexpected output.kafka config: %+v", cfg.Output.Kafka)
	}
	if cfg.Output.Kafka.Compression != "snappy" {
		t.Fatalf("expected default compression=snappy, got %q", cfg.Output.Kafka.Compression)
	}
}

func TestLoad_RejectsInvalidStorage(t *testing.T) {
	path := writeTestConfig(t, `
sngcore:
  capture:
    storage: "bogus"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for invalid capture.storage")
	}
}

func TestLoad_RejectsInvalidHEPVersion(t *testing.T) {
	path := writeTestConfig(t, `
sngcore:
  hep:
    send:
      enabled: true
      ver: 7
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for invalid hep.send.ver")
	}
}
