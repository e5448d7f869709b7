// Package config loads process configuration the way
// internal/gateway/config/config.go does: flag + os.Getenv +
// github.com/joho/godotenv for local .env loading, returning a single
// struct consumed by cmd/scle-server.
package config

import (
	"flag"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the process-wide configuration recognized by the engine --
// autoReload and testMode drive scripting settings, the rest are
// transport/storage settings for the standalone server.
type Config struct {
	Port string
	Env  string

	AutoReload  bool
	TestMode    bool
	LLMResolver bool

	ReportStoreDSN string
	TraceDir       string

	GeminiAPIKey string
	GeminiModel  string
}

// Load parses flags and environment variables, loading a local .env
// file first if present (godotenv.Load is a no-op error when absent).
func Load() (*Config, error) {
	_ = godotenv.Load()

	port := flag.String("port", ":8091", "server port")
	flag.Parse()

	if envPort := os.Getenv("PORT"); envPort != "" {
		if strings.HasPrefix(envPort, ":") {
			*port = envPort
		} else {
			*port = ":" + envPort
		}
	}

	env := strings.TrimSpace(os.Getenv("APP_ENV"))
	if env == "" {
		env = "local"
	}

	return &Config{
		Port:           *port,
		Env:            env,
		AutoReload:     parseBoolEnv("SCLE_AUTO_RELOAD", false),
		TestMode:       parseBoolEnv("SCLE_TEST_MODE", false),
		LLMResolver:    parseBoolEnv("SCLE_LLM_RESOLVER", false),
		ReportStoreDSN: strings.TrimSpace(os.Getenv("SCLE_REPORT_STORE_DSN")),
		TraceDir:       firstNonEmpty(strings.TrimSpace(os.Getenv("SCLE_TRACE_DIR")), "tmp/scle_trace"),
		GeminiAPIKey:   strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		GeminiModel:    firstNonEmpty(strings.TrimSpace(os.Getenv("GEMINI_MODEL")), "gemini-2.0-flash"),
	}, nil
}

func parseBoolEnv(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
