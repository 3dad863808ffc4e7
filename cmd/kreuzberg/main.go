package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/kreuzberg/cache"
	"github.com/hazyhaar/kreuzberg/config"
	"github.com/hazyhaar/kreuzberg/docpipe"
	"github.com/hazyhaar/kreuzberg/ffi"
	"github.com/hazyhaar/kreuzberg/mime"
	"github.com/hazyhaar/kreuzberg/observability"
	"github.com/hazyhaar/kreuzberg/shield"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	setupLogging(env("LOG_LEVEL", "info"))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "extract":
		err = cmdExtract(ctx, os.Args[2:])
	case "batch":
		err = cmdBatch(ctx, os.Args[2:])
	case "detect":
		err = cmdDetect(os.Args[2:])
	case "formats":
		err = cmdFormats()
	case "cache":
		err = cmdCache(ctx, os.Args[2:])
	case "metrics":
		err = cmdMetrics(ctx, os.Args[2:])
	case "serve":
		err = cmdServe(ctx, os.Args[2:])
	case "mcp":
		err = cmdMCP(ctx)
	case "version":
		fmt.Println(ffi.Version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `kreuzberg: document extraction

usage:
  kreuzberg extract [-config file] [-mime type] [-format plain|markdown|djot|html] <file>
  kreuzberg batch   [-config file] <file>...
  kreuzberg detect  <file>
  kreuzberg formats
  kreuzberg cache   stats|clear|prune [-days 30]
  kreuzberg metrics summary [-since 24h] | recent [-n 20] | cleanup [-days 30]
  kreuzberg serve   [-addr :8000] [-config file] [-rate n]
  kreuzberg mcp
  kreuzberg version

Environment:
  LOG_LEVEL      debug|info|warn|error (default info)
  CACHE_DB       SQLite file for the persistent result cache (default: memory only)
  METRICS_DB     SQLite file for extraction metrics (default: disabled)
  TESSERACT      tesseract binary (default: from PATH)
  KREUZBERG_CONFIG  config file; otherwise kreuzberg.{toml,yaml,yml,json} is discovered
`)
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

// engine wires the pipeline from the environment. close releases the
// databases it opened.
func engine(configPath string) (pipe *docpipe.Pipeline, closeFn func(), err error) {
	logger := slog.Default()
	var closers []func()
	closeFn = func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	defaults, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}

	cacheCfg := cache.Config{Logger: logger}
	if path := os.Getenv("CACHE_DB"); path != "" {
		store, err := cache.OpenSQLiteStore(path)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, func() { store.Close() })
		cacheCfg.Store = store
	}

	var metrics *observability.Metrics
	if path := os.Getenv("METRICS_DB"); path != "" {
		var closeMetrics func()
		metrics, closeMetrics, err = openMetrics(path, logger)
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		closers = append(closers, closeMetrics)
	}

	pipe = docpipe.New(docpipe.Config{
		TesseractBinary: os.Getenv("TESSERACT"),
		Defaults:        defaults,
		Cache:           cache.New(cacheCfg),
		Metrics:         metrics,
		Logger:          logger,
	})
	closers = append(closers, pipe.Close)
	return pipe, closeFn, nil
}

// loadConfig reads path, or discovers a config file when path is empty.
// Nil means the built-in defaults.
func loadConfig(path string) (*config.ExtractionConfig, error) {
	if path != "" {
		return config.FromFile(path)
	}
	return config.Discover()
}

func cmdExtract(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	configPath := fs.String("config", "", "config file")
	mimeType := fs.String("mime", "", "MIME type (detected when empty)")
	format := fs.String("format", "", "output format")
	asJSON := fs.Bool("json", false, "print the full result as JSON")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("extract requires exactly one file")
	}

	pipe, closeFn, err := engine(*configPath)
	if err != nil {
		return err
	}
	defer closeFn()

	var cfg *config.ExtractionConfig
	if *format != "" {
		if cfg, err = loadConfig(*configPath); err != nil {
			return err
		}
		if cfg == nil {
			cfg = config.Default()
		}
		cfg.OutputFormat = config.OutputFormat(*format)
	}

	res, err := pipe.ExtractFile(ctx, fs.Arg(0), *mimeType, cfg)
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(res)
	}
	fmt.Println(res.Content)
	return nil
}

func cmdBatch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	configPath := fs.String("config", "", "config file")
	fs.Parse(args)
	if fs.NArg() == 0 {
		return errors.New("batch requires at least one file")
	}

	pipe, closeFn, err := engine(*configPath)
	if err != nil {
		return err
	}
	defer closeFn()

	items, err := pipe.BatchExtractFiles(ctx, fs.Args(), nil)
	if err != nil {
		return err
	}
	type line struct {
		Path     string `json:"path"`
		MIMEType string `json:"mime_type,omitempty"`
		Chars    int    `json:"chars"`
		Error    string `json:"error,omitempty"`
	}
	out := make([]line, len(items))
	failed := 0
	for i, it := range items {
		out[i].Path = fs.Arg(i)
		if it.Err != nil {
			out[i].Error = it.Err.Error()
			failed++
			continue
		}
		out[i].MIMEType = it.Result.MIMEType
		out[i].Chars = len([]rune(it.Result.Content))
	}
	if err := printJSON(out); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(items))
	}
	return nil
}

func cmdDetect(args []string) error {
	if len(args) != 1 {
		return errors.New("detect requires a file")
	}
	m, err := mime.DetectFromPath(args[0])
	if err != nil {
		return err
	}
	fmt.Println(m)
	return nil
}

func cmdFormats() error {
	pipe := docpipe.New(docpipe.Config{})
	for _, f := range pipe.SupportedFormats() {
		fmt.Println(f)
	}
	return nil
}

func cmdCache(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("cache requires stats, clear or prune")
	}
	if os.Getenv("CACHE_DB") == "" {
		return errors.New("CACHE_DB is not set; the in-memory cache does not outlive a command")
	}
	if args[0] == "prune" {
		return cachePrune(ctx, args[1:])
	}
	pipe, closeFn, err := engine("")
	if err != nil {
		return err
	}
	defer closeFn()

	switch args[0] {
	case "stats":
		return printJSON(pipe.Cache().Stats(ctx))
	case "clear":
		if err := pipe.Cache().Clear(ctx); err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "cache cleared")
		return nil
	}
	return fmt.Errorf("unknown cache command: %s", args[0])
}

func cmdServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", env("ADDR", ":8000"), "listen address")
	configPath := fs.String("config", "", "config file")
	rate := fs.Int("rate", 0, "max /extract requests per client per minute (0 disables)")
	fs.Parse(args)

	pipe, closeFn, err := engine(*configPath)
	if err != nil {
		return err
	}
	defer closeFn()

	sc := shield.Config{RateLimit: shield.RateLimitConfig{MaxRequests: *rate, Window: time.Minute}}
	srv := &http.Server{
		Addr:              *addr,
		Handler:           newRouter(pipe, sc),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("kreuzberg listening", "addr", *addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func cmdMCP(ctx context.Context) error {
	pipe, closeFn, err := engine("")
	if err != nil {
		return err
	}
	defer closeFn()

	srv := mcp.NewServer(&mcp.Implementation{Name: "kreuzberg", Version: ffi.Version}, nil)
	pipe.RegisterMCP(srv)
	return srv.Run(ctx, &mcp.StdioTransport{})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
