// Package cmd contains the command line entry points for the converso
// backend: serve (default), version and help.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/converso/converso/internal/log"
)

// Version information (injected at build time via ldflags).
var (
	AppVersion = "0.1.0"
	BuildTime  = "unknown"
	GitCommit  = "unknown"
)

// Execute is the main entry point, called from main().
//
// Version and help work even when the configuration is invalid; everything
// else goes through the serve path.
func Execute() error {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version", "--version", "-v":
			printVersionInfo()
			return nil
		case "help", "--help", "-h":
			printHelp()
			return nil
		case "serve":
			// fallthrough to default behavior below
		default:
			printHelp()
			return fmt.Errorf("unknown command %q", os.Args[1])
		}
	}

	logger := initLogger()
	slog.SetDefault(logger)

	return runServe(logger)
}

// initLogger builds the process logger.
//
// DEBUG (any value) enables debug level. CONVERSO_LOG_JSON=1 switches to
// JSON output for log shippers.
func initLogger() log.Logger {
	cfg := log.Config{Level: slog.LevelInfo}
	if os.Getenv("DEBUG") != "" {
		cfg.Level = slog.LevelDebug
	}
	if os.Getenv("CONVERSO_LOG_JSON") == "1" {
		cfg.JSON = true
	}
	return log.New(cfg)
}

func printHelp() {
	fmt.Println("Converso - chat session backend")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  converso                   Start the HTTP API server")
	fmt.Println("  converso serve [addr]      Start the HTTP API server on addr")
	fmt.Println("  converso version           Show version information")
	fmt.Println("  converso help              Show this help")
	fmt.Println()
	fmt.Println("Serve flags:")
	fmt.Println("  --addr host:port           Listen address (default from config)")
	fmt.Println()
	fmt.Println("Environment variables:")
	fmt.Println("  GEMINI_API_KEY             Gemini API key (provider: gemini)")
	fmt.Println("  OPENAI_API_KEY             OpenAI API key (provider: openai)")
	fmt.Println("  DATABASE_URL               PostgreSQL URL, overrides postgres_* config")
	fmt.Println("  CONVERSO_PROVIDER          AI provider: gemini (default), ollama, openai")
	fmt.Println("  CONVERSO_MODEL_NAME        Completion model")
	fmt.Println("  CONVERSO_SYSTEM_PROMPT     System prompt for completions")
	fmt.Println("  DEBUG                      Enable debug logging")
	fmt.Println()
	fmt.Println("Configuration file: ~/.converso/config.yaml")
}
