package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Embedding.Provider != "huggingface" {
		t.Errorf("provider = %q", cfg.Embedding.Provider)
	}
	if cfg.Embedding.Model != "sentence-transformers/all-MiniLM-L6-v2" {
		t.Errorf("model = %q", cfg.Embedding.Model)
	}
	if cfg.Embedding.Dimensions != 384 {
		t.Errorf("dimensions = %d", cfg.Embedding.Dimensions)
	}
	if cfg.Search.Threshold != 0.3 {
		t.Errorf("threshold = %v", cfg.Search.Threshold)
	}
	if cfg.Search.Limit != 10 {
		t.Errorf("limit = %d", cfg.Search.Limit)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
embedding:
  provider: ollama
  model: all-minilm
  dimensions: 384
search:
  threshold: 0.5
  limit: 5
store:
  path: /tmp/test-providers.db
gateway:
  enabled: false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Embedding.Provider != "ollama" {
		t.Errorf("provider = %q", cfg.Embedding.Provider)
	}
	if cfg.Search.Threshold != 0.5 {
		t.Errorf("threshold = %v", cfg.Search.Threshold)
	}
	if cfg.Search.Limit != 5 {
		t.Errorf("limit = %d", cfg.Search.Limit)
	}
	// Unset fields keep their defaults.
	if cfg.Search.EmbedTimeout != 30*time.Second {
		t.Errorf("embed_timeout = %v", cfg.Search.EmbedTimeout)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("LEXMATCH_EMBEDDING_PROVIDER", "ollama")
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Embedding.Provider != "ollama" {
		t.Errorf("env override not applied: %q", cfg.Embedding.Provider)
	}
}

func TestLoadRejectsInsecurePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("gateway:\n  enabled: false\n"), 0o666); err != nil {
		t.Fatal(err)
	}
	// WriteFile's mode is subject to umask; force the insecure mode explicitly.
	if err := os.Chmod(path, 0o666); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "insecure permissions") {
		t.Errorf("expected permissions error, got %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LEXMATCH_EMBEDDING_PROVIDER", "ollama")
	t.Setenv("LEXMATCH_SEARCH_THRESHOLD", "0.45")
	t.Setenv("LEXMATCH_SEARCH_LIMIT", "3")
	t.Setenv("LEXMATCH_GATEWAY_AUTH_TOKEN", "secret-token")
	t.Setenv("LEXMATCH_LOGGER_LEVEL", "debug")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.Embedding.Provider != "ollama" {
		t.Errorf("provider = %q", cfg.Embedding.Provider)
	}
	if cfg.Search.Threshold != 0.45 {
		t.Errorf("threshold = %v", cfg.Search.Threshold)
	}
	if cfg.Search.Limit != 3 {
		t.Errorf("limit = %d", cfg.Search.Limit)
	}
	if !cfg.Gateway.Auth.Enabled || len(cfg.Gateway.Auth.Tokens) != 1 {
		t.Error("auth token env override not applied")
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("logger level = %q", cfg.Logger.Level)
	}
}

func TestValidateAccumulatesErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Embedding.Provider = "nope"
	cfg.Embedding.Dimensions = 0
	cfg.Search.Threshold = 2.0
	cfg.Store.Path = ""

	err := Validate(cfg)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if len(ve.Errors) < 4 {
		t.Errorf("expected at least 4 errors, got %d: %v", len(ve.Errors), ve.Errors)
	}
}

func TestValidateHuggingFaceRequiresAPIKey(t *testing.T) {
	cfg := Defaults()
	cfg.Embedding.APIKey = ""
	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "api_key") {
		t.Errorf("expected api_key validation error, got %v", err)
	}

	cfg.Embedding.APIKey = "hf_xxx"
	if err := Validate(cfg); err != nil {
		t.Errorf("Validate with key: %v", err)
	}
}

func TestValidateGatewayAddr(t *testing.T) {
	cfg := Defaults()
	cfg.Embedding.APIKey = "hf_xxx"
	cfg.Gateway.Addr = "no-port"
	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "host:port") {
		t.Errorf("expected addr validation error, got %v", err)
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	encrypted, err := EncryptValue("hf_super_secret", "passphrase")
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}
	if strings.Contains(encrypted, "hf_super_secret") {
		t.Fatal("ciphertext leaks plaintext")
	}

	decrypted, err := DecryptValue(encrypted, "passphrase")
	if err != nil {
		t.Fatalf("DecryptValue: %v", err)
	}
	if decrypted != "hf_super_secret" {
		t.Errorf("decrypted = %q", decrypted)
	}

	if _, err := DecryptValue(encrypted, "wrong"); err == nil {
		t.Error("wrong passphrase must fail")
	}
}

func TestLoadDecryptsSecrets(t *testing.T) {
	encrypted, err := EncryptValue("hf_real_key", "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	path := writeConfig(t, `
embedding:
  api_key: "enc:`+encrypted+`"
gateway:
  enabled: false
`)
	t.Setenv("LEXMATCH_CONFIG_KEY", "hunter2")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Embedding.APIKey != "hf_real_key" {
		t.Errorf("api_key = %q, want decrypted value", cfg.Embedding.APIKey)
	}
}
