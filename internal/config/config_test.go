package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := defaults()

	if cfg.Port != 8090 {
		t.Errorf("Port: got %d, want 8090", cfg.Port)
	}
	if cfg.BindAddress != "127.0.0.1" {
		t.Errorf("BindAddress: got %s", cfg.BindAddress)
	}
	if cfg.Marker != "Speaker" {
		t.Errorf("Marker: got %s", cfg.Marker)
	}
	if cfg.BracketScanLimit != 500 {
		t.Errorf("BracketScanLimit: got %d, want 500", cfg.BracketScanLimit)
	}
	if cfg.FallbackEncoding != "shift_jis" {
		t.Errorf("FallbackEncoding: got %s", cfg.FallbackEncoding)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel: got %s", cfg.LogLevel)
	}
	if cfg.Workers < 1 {
		t.Errorf("Workers should be positive, got %d", cfg.Workers)
	}
	if cfg.ArchiveName != "anonymized_files.zip" {
		t.Errorf("ArchiveName: got %s", cfg.ArchiveName)
	}
	if len(cfg.Rules) != 4 {
		t.Errorf("Rules: got %v", cfg.Rules)
	}
	if len(cfg.Checks) != 5 {
		t.Errorf("Checks: got %v", cfg.Checks)
	}
	if cfg.LedgerPath != "" {
		t.Errorf("LedgerPath should default to empty, got %s", cfg.LedgerPath)
	}
}

func TestLoadEnv_Port(t *testing.T) {
	t.Setenv("ANON_PORT", "9191")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.Port != 9191 {
		t.Errorf("Port: got %d, want 9191", cfg.Port)
	}
}

func TestLoadEnv_InvalidPort_Ignored(t *testing.T) {
	t.Setenv("ANON_PORT", "not-a-number")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.Port != 8090 {
		t.Errorf("Port: got %d, want 8090 (invalid env should be ignored)", cfg.Port)
	}
}

func TestLoadEnv_Marker(t *testing.T) {
	t.Setenv("ANON_MARKER", "Person")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.Marker != "Person" {
		t.Errorf("Marker: got %s", cfg.Marker)
	}
}

func TestLoadEnv_Workers_Zero_Ignored(t *testing.T) {
	t.Setenv("ANON_WORKERS", "0")
	cfg := defaults()
	want := cfg.Workers
	loadEnv(cfg)
	if cfg.Workers != want {
		t.Errorf("Workers: got %d, want %d (zero should be ignored)", cfg.Workers, want)
	}
}

func TestLoadEnv_IgnoreWords_Appended(t *testing.T) {
	t.Setenv("ANON_IGNORE_WORDS", "Agenda, Zoom ,,Teams")
	cfg := defaults()
	cfg.IgnoreWords = []string{"Minutes"}
	loadEnv(cfg)
	want := []string{"Minutes", "Agenda", "Zoom", "Teams"}
	if len(cfg.IgnoreWords) != len(want) {
		t.Fatalf("IgnoreWords: got %v, want %v", cfg.IgnoreWords, want)
	}
	for i := range want {
		if cfg.IgnoreWords[i] != want[i] {
			t.Errorf("IgnoreWords[%d]: got %q, want %q", i, cfg.IgnoreWords[i], want[i])
		}
	}
}

func TestLoadEnv_Strings(t *testing.T) {
	t.Setenv("ANON_BIND_ADDRESS", "0.0.0.0")
	t.Setenv("ANON_TOKEN", "secret-token")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FILE", "/var/log/anonymizer.log")
	t.Setenv("ANON_IGNORE_FILE", "/etc/anonymizer/ignore.yaml")
	t.Setenv("ANON_FALLBACK_ENCODING", "windows-1252")
	t.Setenv("ANON_LEDGER_PATH", "/var/lib/anonymizer/ledger.db")

	cfg := defaults()
	loadEnv(cfg)

	checks := []struct{ name, got, want string }{
		{"BindAddress", cfg.BindAddress, "0.0.0.0"},
		{"ManagementToken", cfg.ManagementToken, "secret-token"},
		{"LogLevel", cfg.LogLevel, "debug"},
		{"LogFile", cfg.LogFile, "/var/log/anonymizer.log"},
		{"IgnoreFile", cfg.IgnoreFile, "/etc/anonymizer/ignore.yaml"},
		{"FallbackEncoding", cfg.FallbackEncoding, "windows-1252"},
		{"LedgerPath", cfg.LedgerPath, "/var/lib/anonymizer/ledger.db"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: got %q, want %q", c.name, c.got, c.want)
		}
	}
}

func TestLoadFile_ValidJSON(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "config-*.json")
	if err != nil {
		t.Fatal(err)
	}

	data, marshalErr := json.Marshal(map[string]any{
		"port":        9999,
		"marker":      "Participant",
		"ignoreWords": []string{"Agenda"},
	})
	if marshalErr != nil {
		t.Fatal(marshalErr)
	}
	if _, err := f.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	cfg := defaults()
	loadFile(cfg, f.Name())

	if cfg.Port != 9999 {
		t.Errorf("Port: got %d, want 9999", cfg.Port)
	}
	if cfg.Marker != "Participant" {
		t.Errorf("Marker: got %s", cfg.Marker)
	}
	if len(cfg.IgnoreWords) != 1 || cfg.IgnoreWords[0] != "Agenda" {
		t.Errorf("IgnoreWords: got %v", cfg.IgnoreWords)
	}
	if cfg.BracketScanLimit != 500 {
		t.Errorf("unset fields should keep defaults, BracketScanLimit=%d", cfg.BracketScanLimit)
	}
}

func TestLoadFile_Missing_IsNoOp(t *testing.T) {
	cfg := defaults()
	loadFile(cfg, "/nonexistent/path/config.json")
	if cfg.Port != 8090 {
		t.Errorf("Port changed unexpectedly: %d", cfg.Port)
	}
}

func TestLoadFile_InvalidJSON_PreservesDefaults(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "config-bad-*.json")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("{this is not json}"); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	cfg := defaults()
	loadFile(cfg, f.Name())
	if cfg.Port != 8090 {
		t.Errorf("Port changed on bad JSON: %d", cfg.Port)
	}
}

func TestLoadFrom_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anonymizer-config.json")
	if err := os.WriteFile(path, []byte(`{"marker":"FromFile","port":7000}`), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ANON_MARKER", "FromEnv")

	cfg := LoadFrom(path)
	if cfg.Marker != "FromEnv" {
		t.Errorf("Marker: got %s, want FromEnv", cfg.Marker)
	}
	if cfg.Port != 7000 {
		t.Errorf("Port: got %d, want 7000", cfg.Port)
	}
}

func TestLoad_ReturnsNonNil(t *testing.T) {
	cfg := Load()
	if cfg == nil {
		t.Fatal("Load() returned nil")
	}
	if cfg.Port <= 0 {
		t.Errorf("Port should be positive, got %d", cfg.Port)
	}
}
