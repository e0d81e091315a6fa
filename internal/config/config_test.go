package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Translate.Mode != "mock" {
		t.Fatalf("expected mock translate mode, got %q", cfg.Translate.Mode)
	}
	if cfg.Capture.Language != "zh-CN" {
		t.Fatalf("expected zh-CN capture language, got %q", cfg.Capture.Language)
	}
	if !cfg.Capture.Continuous || !cfg.Capture.Interim {
		t.Fatalf("expected continuous interim capture by default")
	}
	if cfg.Client.TimeoutMS != 0 {
		t.Fatalf("expected no client timeout by default, got %d", cfg.Client.TimeoutMS)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "echo.yaml")
	data := []byte(`runtime_name: echo-test
http:
  port: 9000
translate:
  mode: ollama
  endpoint: http://ollama:11434
  model: qwen2.5
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RuntimeName != "echo-test" || cfg.HTTP.Port != 9000 {
		t.Fatalf("expected file values, got %q %d", cfg.RuntimeName, cfg.HTTP.Port)
	}
	if cfg.Translate.Mode != "ollama" || cfg.Translate.Model != "qwen2.5" {
		t.Fatalf("unexpected translate config: %+v", cfg.Translate)
	}
	if cfg.Translate.TargetLang != "en" {
		t.Fatalf("expected default target lang kept, got %q", cfg.Translate.TargetLang)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ECHO_BUS_ENABLED", "true")
	t.Setenv("ECHO_BUS_EMBEDDED", "false")
	t.Setenv("ECHO_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("ECHO_BUS_USERNAME", "alice")
	t.Setenv("ECHO_BUS_PASSWORD", "secret")
	t.Setenv("ECHO_EVENT_STORE_PATH", "./tmp.db")
	t.Setenv("ECHO_EVENT_STORE_RETENTION_MODE", "persistent")
	t.Setenv("ECHO_EVENT_STORE_RETENTION_DAYS", "7")
	t.Setenv("ECHO_TRANSLATE_MODE", "exec")
	t.Setenv("ECHO_TRANSLATE_COMMAND", "translate --json")
	t.Setenv("ECHO_TRANSLATE_TEMPERATURE", "0.5")
	t.Setenv("ECHO_CAPTURE_INTERIM", "false")
	t.Setenv("ECHO_CLIENT_GATEWAY_URL", "http://gateway:8080")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if cfg.EventStore.Path != "./tmp.db" || cfg.EventStore.RetentionMode != "persistent" {
		t.Fatalf("expected event store overrides")
	}
	if cfg.EventStore.RetentionDays != 7 {
		t.Fatalf("expected retention days override")
	}
	if cfg.Translate.Mode != "exec" || cfg.Translate.Command != "translate --json" {
		t.Fatalf("expected translate overrides, got %+v", cfg.Translate)
	}
	if cfg.Translate.Temperature != 0.5 {
		t.Fatalf("expected temperature 0.5, got %v", cfg.Translate.Temperature)
	}
	if cfg.Capture.Interim {
		t.Fatal("expected interim override false")
	}
	if cfg.Client.GatewayURL != "http://gateway:8080" {
		t.Fatalf("expected gateway url override")
	}
}

func TestOpenAIKeyFallback(t *testing.T) {
	t.Setenv("ECHO_TRANSLATE_MODE", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Translate.APIKey != "sk-test" {
		t.Fatalf("expected api key fallback, got %q", cfg.Translate.APIKey)
	}
}

func TestValidateRejectsBadMode(t *testing.T) {
	t.Setenv("ECHO_TRANSLATE_MODE", "carrier-pigeon")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestValidateOpenAIRequiresKey(t *testing.T) {
	t.Setenv("ECHO_TRANSLATE_MODE", "openai")
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := Load(""); err == nil {
		t.Fatal("expected missing api key error")
	}
}
