package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mediacrawl/webagent/pkg/config"
	"github.com/mediacrawl/webagent/pkg/ua"
	"github.com/mediacrawl/webagent/pkg/webstore"
)

const version = "0.9.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "get":
		runGet(os.Args[2:])
	case "resolve":
		runResolve(os.Args[2:])
	case "batch":
		runBatch(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "version":
		fmt.Printf("webagent %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`webagent - web content retrieval client

Usage:
  webagent <command> [options]

Commands:
  get       Fetch a single URL and print its body
  resolve   Fetch a URL following HTTP and HTML redirects, print the hop chain
  batch     Fetch a batch of URLs in parallel with per-domain throttling
  validate  Validate configuration file
  version   Show version info

Run 'webagent <command> -h' for command-specific help.`)
}

// newLogger builds the root logger from the -loglevel flag, falling back to
// the configured log_level when the flag is left at its default.
func newLogger(flagLevel string, cfgLevel string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.InfoLevel)

	levelStr := flagLevel
	if levelStr == "" {
		levelStr = cfgLevel
	}
	if levelStr == "" {
		return log
	}
	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", levelStr, err)
	} else {
		log.SetLevel(level)
	}
	return log
}

// loadValidatedConfig loads the config file, validates it and logs warnings.
func loadValidatedConfig(path string, log *logrus.Logger) *config.AppConfig {
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}
	warnings, err := cfg.Validate()
	for _, w := range warnings {
		log.Warnf("Config: %s", w)
	}
	if err != nil {
		log.Fatalf("Config validation error: %v", err)
	}
	return cfg
}

// runGet handles the get subcommand
func runGet(args []string) {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	logLevel := fs.String("loglevel", "", "Log level (debug, info, warn, error, fatal)")
	timeout := fs.Duration("timeout", 0, "Per-request timeout (0 = config default)")
	maxSize := fs.Int64("max-size", 0, "Max body size in bytes (0 = config default)")
	timing := fs.String("timing", "", "Comma-separated retry delays, e.g. 1s,2s,4s (empty = retries disabled)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: webagent get [options] <url>\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: exactly one URL is required")
		fs.Usage()
		os.Exit(1)
	}
	rawURL := fs.Arg(0)

	cfg := loadValidatedConfig(*configFile, newLogger(*logLevel, ""))
	log := newLogger(*logLevel, cfg.LogLevel)

	agent := newAgent(cfg, log, *timeout, *maxSize, *timing)

	resp, err := agent.Get(rawURL)
	if err != nil {
		log.Fatalf("Fetch failed: %v", err)
	}

	log.Infof("%s: %s", rawURL, resp.StatusLine())
	if resp.ErrorIsClientSide() {
		log.Warn("Failure was client-side")
	}
	fmt.Print(resp.Content())

	if !resp.IsSuccess() {
		os.Exit(1)
	}
}

// runResolve handles the resolve subcommand
func runResolve(args []string) {
	fs := flag.NewFlagSet("resolve", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	logLevel := fs.String("loglevel", "", "Log level (debug, info, warn, error, fatal)")
	timeout := fs.Duration("timeout", 0, "Per-request timeout (0 = config default)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: webagent resolve [options] <url>\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: exactly one URL is required")
		fs.Usage()
		os.Exit(1)
	}
	rawURL := fs.Arg(0)

	cfg := loadValidatedConfig(*configFile, newLogger(*logLevel, ""))
	log := newLogger(*logLevel, cfg.LogLevel)

	agent := newAgent(cfg, log, *timeout, 0, "")

	resp, err := agent.GetFollowHTTPHTMLRedirects(rawURL)
	if err != nil {
		log.Fatalf("Resolve failed: %v", err)
	}

	// Walk the chain back to the first hop, then print oldest first.
	var chain []*ua.Response
	for r := resp; r != nil; r = r.Previous() {
		chain = append(chain, r)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		r := chain[i]
		fmt.Printf("%-4d %-8s %s\n", len(chain)-i, r.StatusLine(), r.Request().URL())
	}
	fmt.Printf("Final URL: %s\n", resp.Request().URL())

	if !resp.IsSuccess() {
		os.Exit(1)
	}
}

// runBatch handles the batch subcommand
func runBatch(args []string) {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	logLevel := fs.String("loglevel", "", "Log level (debug, info, warn, error, fatal)")
	urlsFile := fs.String("urls", "", "File with one URL per line (default: stdin)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: webagent batch [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  webagent batch -config config.yaml -urls urls.txt\n")
		fmt.Fprintf(os.Stderr, "  cat urls.txt | webagent batch -config config.yaml\n")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg := loadValidatedConfig(*configFile, newLogger(*logLevel, ""))
	log := newLogger(*logLevel, cfg.LogLevel)

	urls, err := readURLs(*urlsFile)
	if err != nil {
		log.Fatalf("Reading URLs: %v", err)
	}
	if len(urls) == 0 {
		log.Warn("No URLs to fetch")
		return
	}

	fetcher, err := webstore.New(cfg, logrus.NewEntry(log))
	if err != nil {
		log.Fatalf("Batch setup failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Warnf("Received signal: %v. Cancelling batch...", sig)
		cancel()

		sig = <-sigChan
		log.Warnf("Received second signal: %v. Forcing exit.", sig)
		os.Exit(1)
	}()
	defer signal.Stop(sigChan)

	started := time.Now()
	responses, err := fetcher.FetchAll(ctx, urls)
	if err != nil {
		log.Fatalf("Batch fetch failed: %v", err)
	}

	var succeeded, failed int
	for _, resp := range responses {
		marker := "ok"
		if !resp.IsSuccess() {
			marker = "fail"
			if resp.ErrorIsClientSide() {
				marker = "fail (client-side)"
			}
			failed++
		} else {
			succeeded++
		}
		fmt.Printf("%-20s %s <- %s\n", marker, resp.StatusLine(), resp.OriginalRequest().URL())
	}
	fmt.Printf("\n%d fetched, %d succeeded, %d failed in %s\n",
		len(responses), succeeded, failed, time.Since(started).Round(time.Millisecond))

	if failed > 0 {
		os.Exit(1)
	}
}

// runValidate handles the validate subcommand
func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: webagent validate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doValidate(*configFile, os.Stdout, os.Stderr))
}

// doValidate performs validation and writes output to the provided writers.
// Returns exit code (0 = success, 1 = error).
func doValidate(configPath string, stdout, stderr io.Writer) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	warnings, err := cfg.Validate()
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	fmt.Fprintln(stdout, "Configuration valid.")
	return 0
}

// newAgent builds a UserAgent with the per-command overrides applied.
func newAgent(cfg *config.AppConfig, log *logrus.Logger, timeout time.Duration, maxSize int64, timing string) *ua.UserAgent {
	agent, err := ua.New(cfg, logrus.NewEntry(log))
	if err != nil {
		log.Fatalf("User agent setup failed: %v", err)
	}
	if timeout > 0 {
		if err := agent.SetTimeout(timeout); err != nil {
			log.Fatalf("Invalid timeout: %v", err)
		}
	}
	if maxSize > 0 {
		if err := agent.SetMaxSize(maxSize); err != nil {
			log.Fatalf("Invalid max size: %v", err)
		}
	}
	if timing != "" {
		delays, err := parseTiming(timing)
		if err != nil {
			log.Fatalf("Invalid timing: %v", err)
		}
		agent.SetTiming(delays)
	}
	return agent
}

// parseTiming parses a comma-separated list of durations, e.g. "1s,2s,4s".
func parseTiming(timing string) ([]time.Duration, error) {
	var delays []time.Duration
	for _, part := range strings.Split(timing, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := time.ParseDuration(part)
		if err != nil {
			return nil, fmt.Errorf("bad delay %q: %w", part, err)
		}
		delays = append(delays, d)
	}
	return delays, nil
}

// readURLs reads one URL per line from a file, or stdin if path is empty.
// Blank lines and #-comments are skipped.
func readURLs(path string) ([]string, error) {
	var reader io.Reader = os.Stdin
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		reader = f
	}

	var urls []string
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, scanner.Err()
}
