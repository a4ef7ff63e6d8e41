package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/green-return/internal/bottle"
	"github.com/zombor/green-return/internal/preprocess"
	"github.com/zombor/green-return/internal/scanning"
	"github.com/zombor/green-return/internal/scanning/tesseract"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// A missing .env is fine; flags and the environment still apply
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to load .env", "error", err)
	}

	fs := ff.NewFlagSet("green-return")
	var (
		port        = fs.IntLong("port", 8080, "HTTP server port")
		dbPath      = fs.StringLong("db", "green-return.db", "Database file path")
		storagePath = fs.StringLong("storage", "./scans", "Directory for normalized bottle images")
		engineType  = fs.StringLong("engine", "tesseract", "OCR engine: 'tesseract', 'gemini' or 'ollama'")
		language    = fs.StringLong("lang", scanning.DefaultLanguage, "OCR language profile (Tesseract language code)")
		enhance     = fs.BoolLong("tesseract-enhance", "Convert images to high-contrast grayscale before Tesseract")
		geminiKey   = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel = fs.StringLong("gemini-model", "gemini-1.5-flash", "Google Gemini model name")
		ollamaURL   = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, qwen2-vl)")
		maxWidth    = fs.IntLong("max-width", preprocess.DefaultMaxWidth, "Maximum width of normalized images in pixels")
		scanTimeout = fs.DurationLong("scan-timeout", scanning.DefaultTimeout, "Deadline for a single recognition")
		authUser    = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass    = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("GREEN_RETURN"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	// runs after every other deferred cleanup
	exitCode := 0
	defer func() { os.Exit(exitCode) }()

	if *maxWidth <= 0 {
		slog.Error("Invalid max width", "max_width", *maxWidth)
		os.Exit(1)
	}

	slog.Info("Initializing database...")
	db, err := bottle.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	var engine scanning.Engine
	switch *engineType {
	case "tesseract":
		slog.Info("Using Tesseract engine", "language", *language, "enhance", *enhance)
		engine = tesseract.NewEngine(*enhance)
	case "gemini":
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Using Gemini engine", "model", *geminiModel)
		engine, err = scanning.NewGemini(apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "ollama":
		slog.Info("Using Ollama engine", "url", *ollamaURL, "model", *ollamaModel)
		engine, err = scanning.NewOllama(*ollamaURL, *ollamaModel)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid engine type", "type", *engineType, "valid", "tesseract, gemini or ollama")
		os.Exit(1)
	}

	session := scanning.NewSession(engine,
		scanning.WithLanguage(*language),
		scanning.WithTimeout(*scanTimeout),
		scanning.WithLogger(slog.Default().With("component", "ocr")),
	)
	defer func() {
		if err := session.Dispose(); err != nil {
			slog.Warn("Failed to release OCR engine", "error", err)
		}
	}()

	slog.Info("Initializing storage...")
	store, err := bottle.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	service := bottle.NewService(db, session, store, *maxWidth)

	basicAuth := bottle.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := bottle.NewServer(service, basicAuth)

	addr := fmt.Sprintf(":%d", *port)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(addr)
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
	case err := <-serverErr:
		if err != nil {
			slog.Error("Server error", "error", err)
			exitCode = 1
		}
		return
	}

	slog.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), *scanTimeout+5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Graceful shutdown failed", "error", err)
	}
}
