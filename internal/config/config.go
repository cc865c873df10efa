// Package config loads and holds all anonymizer configuration.
// Settings start from built-in defaults, then anonymizer-config.json, then
// environment variables. A .env file in the working directory is loaded into
// the environment first when present.
package config

import (
	"encoding/json"
	"log"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// DefaultFile is the JSON config file read by Load.
const DefaultFile = "anonymizer-config.json"

// Config holds the full anonymizer configuration.
type Config struct {
	BindAddress     string `json:"bindAddress"`
	Port            int    `json:"port"`
	ManagementToken string `json:"managementToken"`
	MaxUploadMB     int    `json:"maxUploadMB"`

	LogLevel     string `json:"logLevel"`
	LogFile      string `json:"logFile"`
	LogMaxSizeMB int    `json:"logMaxSizeMB"`

	// Marker prefixes every pseudonym label and guards against re-anonymizing them.
	Marker           string   `json:"marker"`
	BracketScanLimit int      `json:"bracketScanLimit"`
	Rules            []string `json:"rules"`
	Checks           []string `json:"checks"`

	IgnoreWords    []string `json:"ignoreWords"`
	IgnoreFile     string   `json:"ignoreFile"`
	VocabularyPath string   `json:"vocabularyPath"`

	FallbackEncoding string `json:"fallbackEncoding"`
	Workers          int    `json:"workers"`
	LedgerPath       string `json:"ledgerPath"`
	ArchiveName      string `json:"archiveName"`
}

// Load returns config with defaults overridden by anonymizer-config.json and env vars.
func Load() *Config {
	return LoadFrom(DefaultFile)
}

// LoadFrom is Load with an explicit JSON config path.
func LoadFrom(path string) *Config {
	// Best-effort: a missing .env is the common case.
	_ = godotenv.Load()

	cfg := defaults()
	loadFile(cfg, path)
	loadEnv(cfg)
	return cfg
}

func defaults() *Config {
	return &Config{
		BindAddress:      "127.0.0.1",
		Port:             8090,
		MaxUploadMB:      32,
		LogLevel:         "info",
		LogMaxSizeMB:     50,
		Marker:           "Speaker",
		BracketScanLimit: 500,
		Rules:            []string{"label-colon", "email", "initial-name", "bracket"},
		Checks:           []string{"too-short", "digits", "ignored", "date-like", "marker"},
		VocabularyPath:   "ignore-vocabulary.json",
		FallbackEncoding: "shift_jis",
		Workers:          runtime.NumCPU(),
		ArchiveName:      "anonymized_files.zip",
	}
}

func loadFile(cfg *Config, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return // file is optional
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		log.Printf("[CONFIG] Warning: could not parse %s: %v", path, err)
	} else {
		log.Printf("[CONFIG] Loaded %s", path)
	}
}

func loadEnv(cfg *Config) {
	if v := os.Getenv("ANON_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv("ANON_BIND_ADDRESS"); v != "" {
		cfg.BindAddress = v
	}
	if v := os.Getenv("ANON_TOKEN"); v != "" {
		cfg.ManagementToken = v
	}
	if v := os.Getenv("ANON_MAX_UPLOAD_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxUploadMB = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv("ANON_MARKER"); v != "" {
		cfg.Marker = v
	}
	if v := os.Getenv("ANON_IGNORE_FILE"); v != "" {
		cfg.IgnoreFile = v
	}
	if v := os.Getenv("ANON_IGNORE_WORDS"); v != "" {
		cfg.IgnoreWords = append(cfg.IgnoreWords, splitList(v)...)
	}
	if v := os.Getenv("ANON_FALLBACK_ENCODING"); v != "" {
		cfg.FallbackEncoding = v
	}
	if v := os.Getenv("ANON_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Workers = n
		}
	}
	if v := os.Getenv("ANON_LEDGER_PATH"); v != "" {
		cfg.LedgerPath = v
	}
}

// splitList splits a comma-separated env value, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
