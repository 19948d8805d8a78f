package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

// discard returns a logger that writes nowhere.
func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

const sampleYAML = `
model:
  provider: gemini
  max_tokens: 2048
  gemini:
    model: gemini-1.5-flash
embedding:
  provider: gemini
  dimensions: 768
store:
  backend: sqlite
  dir: /tmp/yksai-store
curriculum:
  dir: /tmp/mufredat
search:
  semantic_weight: 0.6
  keyword_weight: 0.4
server:
  port: 8080
logging:
  level: debug
  format: text
`

// writeConfig writes sampleYAML into a temp file and returns its path.
func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "yksai.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func Test_Config_AppliesYAMLValuesToEnv(t *testing.T) {
	for _, key := range []string{
		"MODEL_PROVIDER", "MODEL_MAX_TOKENS", "GEMINI_MODEL",
		"EMBEDDING_PROVIDER", "EMBEDDING_DIMENSIONS",
		"YKSAI_STORE_BACKEND", "YKSAI_STORE_DIR", "YKSAI_CURRICULUM_DIR",
		"SEARCH_SEMANTIC_WEIGHT", "SEARCH_KEYWORD_WEIGHT", "YKSAI_SERVER_PORT",
		"YKSAI_LOG_LEVEL", "YKSAI_LOG_FORMAT",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	path, err := Load(writeConfig(t), discard())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if path == "" {
		t.Fatal("Load returned empty path, want the config file")
	}

	checks := map[string]string{
		"MODEL_PROVIDER":         "gemini",
		"MODEL_MAX_TOKENS":       "2048",
		"GEMINI_MODEL":           "gemini-1.5-flash",
		"EMBEDDING_DIMENSIONS":   "768",
		"YKSAI_STORE_DIR":        "/tmp/yksai-store",
		"YKSAI_CURRICULUM_DIR":   "/tmp/mufredat",
		"SEARCH_SEMANTIC_WEIGHT": "0.6",
		"SEARCH_KEYWORD_WEIGHT":  "0.4",
		"YKSAI_SERVER_PORT":      "8080",
		"YKSAI_LOG_LEVEL":        "debug",
		"YKSAI_LOG_FORMAT":       "text",
	}
	for key, want := range checks {
		if got := os.Getenv(key); got != want {
			t.Errorf("%s = %q, want %q", key, got, want)
		}
	}
}

func Test_Config_EnvVarsWinOverYAML(t *testing.T) {
	t.Setenv("MODEL_PROVIDER", "ollama")

	if _, err := Load(writeConfig(t), discard()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := os.Getenv("MODEL_PROVIDER"); got != "ollama" {
		t.Errorf("MODEL_PROVIDER = %q, env var should win over YAML", got)
	}
}

func Test_Config_NoFileIsNotAnError(t *testing.T) {
	t.Setenv("YKSAI_CONFIG", "")
	os.Unsetenv("YKSAI_CONFIG")
	t.Setenv("HOME", t.TempDir())

	path, err := Load("", discard())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if path != "" {
		t.Errorf("Load returned %q, want empty path when no file exists", path)
	}
}

func Test_Config_EnvVarPointsToFile(t *testing.T) {
	for _, key := range []string{"MODEL_PROVIDER", "MODEL_MAX_TOKENS"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	t.Setenv("YKSAI_CONFIG", writeConfig(t))

	path, err := Load("", discard())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if path == "" {
		t.Error("Load ignored YKSAI_CONFIG")
	}
}

func Test_Config_MalformedYAMLFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("model: [unclosed"), 0o600); err != nil {
		t.Fatalf("write broken config: %v", err)
	}

	if _, err := Load(path, discard()); err == nil {
		t.Error("Load succeeded on malformed YAML, want error")
	}
}
