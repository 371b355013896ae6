// ABOUTME: Entry point for mercury-mcp, the Mercury banking MCP server
// ABOUTME: Serves Mercury accounts over stdio or Streamable HTTP

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/2389/mercury-mcp/internal/adapter"
	"github.com/2389/mercury-mcp/internal/auth"
	"github.com/2389/mercury-mcp/internal/config"
	"github.com/2389/mercury-mcp/internal/logging"
	"github.com/2389/mercury-mcp/internal/mcp"
	"github.com/2389/mercury-mcp/internal/mercury"
)

// version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _ __ ___   ___ _ __ ___ _   _ _ __ _   _       _ __ ___   ___ _ __
| '_ ' _ \ / _ \ '__/ __| | | | '__| | | |_____| '_ ' _ \ / __| '_ \
| | | | | |  __/ | | (__| |_| | |  | |_| |_____| | | | | | (__| |_) |
|_| |_| |_|\___|_|  \___|\__,_|_|   \__, |     |_| |_| |_|\___| .__/
                                    |___/                     |_|
`

const serverInstructions = "Read-only access to Mercury bank accounts. " +
	"Read mercury://accounts for every account, or call get_account_details with an account_id."

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// getConfigPath returns the path to the config file, or "" when none exists.
// Priority: MERCURY_MCP_CONFIG env var > XDG_CONFIG_HOME/mercury-mcp/config.yaml > ~/.config/mercury-mcp/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("MERCURY_MCP_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	path := filepath.Join(configDir, "mercury-mcp", "config.yaml")
	if _, err := os.Stat(path); err != nil {
		// No file is fine; MERCURY_API_KEY alone is a complete config
		return ""
	}
	return path
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: mercury-mcp <command>")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "Commands:")
		fmt.Fprintln(os.Stderr, "  serve                              Start the MCP server")
		fmt.Fprintln(os.Stderr, "  health                             Check HTTP server health")
		fmt.Fprintln(os.Stderr, "  token --subject NAME [--ttl 720h]  Mint a bearer token for the HTTP transport")
		fmt.Fprintln(os.Stderr, "  version                            Print the version")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "health":
		err = runHealth(ctx)
	case "token":
		err = runToken(os.Args[2:])
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads .env and the config file with the given loader.
func loadConfig(load func(string) (*config.Config, error)) (*config.Config, string, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, "", err
	}

	configPath := getConfigPath()
	cfg, err := load(configPath)
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, configPath, nil
}

func runServe(ctx context.Context) error {
	cfg, configPath, err := loadConfig(config.Load)
	if err != nil {
		return err
	}

	logger, closer, err := logging.Setup(cfg.Logging)
	if err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}
	defer closer.Close()

	printBanner(cfg, configPath)

	client, err := mercury.NewClient(mercury.Config{
		APIKey:    cfg.Mercury.APIKey,
		BaseURL:   cfg.Mercury.BaseURL,
		Timeout:   cfg.Mercury.Timeout,
		UserAgent: cfg.Mercury.UserAgent,
		Logger:    logger.With("component", "mercury"),
	})
	if err != nil {
		return fmt.Errorf("creating mercury client: %w", err)
	}

	server, err := mcp.NewServer(mcp.Config{
		Name:         "mercury",
		Version:      version,
		Instructions: serverInstructions,
		Logger:       logger.With("component", "mcp"),
	})
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}

	bridge, err := adapter.New(client, logger.With("component", "adapter"))
	if err != nil {
		return fmt.Errorf("creating adapter: %w", err)
	}
	if err := bridge.Register(server); err != nil {
		return fmt.Errorf("registering mercury tools: %w", err)
	}

	logger.Info("starting mercury-mcp",
		"config", configPath,
		"transport", cfg.Transport.Mode,
		"base_url", cfg.Mercury.BaseURL,
	)

	switch cfg.Transport.Mode {
	case config.ModeHTTP:
		return serveHTTP(ctx, cfg, server, logger)
	default:
		return server.ServeStdio(ctx, os.Stdin, os.Stdout)
	}
}

// printBanner writes startup info to stderr; stdout belongs to the stdio transport.
func printBanner(cfg *config.Config, configPath string) {
	out := color.Error

	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Fprint(out, banner)
	gray.Fprintf(out, "    version: %s\n\n", version)

	if configPath == "" {
		configPath = "(none, environment only)"
	}
	green.Fprint(out, "    ▶ ")
	fmt.Fprintf(out, "Config:    %s\n", configPath)
	green.Fprint(out, "    ▶ ")
	fmt.Fprintf(out, "Mercury:   %s\n", cfg.Mercury.BaseURL)
	green.Fprint(out, "    ▶ ")
	fmt.Fprintf(out, "Transport: %s", cfg.Transport.Mode)
	if cfg.Transport.Mode == config.ModeHTTP {
		cyan.Fprintf(out, " %s", cfg.Transport.HTTPAddr)
		if cfg.Transport.JWTSecret == "" {
			yellow.Fprint(out, " [no auth]")
		}
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out)
}

func serveHTTP(ctx context.Context, cfg *config.Config, server *mcp.Server, logger *slog.Logger) error {
	httpCfg := mcp.HTTPConfig{
		Server: server,
		Logger: logger.With("component", "http"),
	}
	if cfg.Transport.JWTSecret != "" {
		verifier, err := auth.NewJWTVerifier([]byte(cfg.Transport.JWTSecret))
		if err != nil {
			return fmt.Errorf("creating token verifier: %w", err)
		}
		httpCfg.TokenVerifier = verifier
	}

	handler, err := mcp.NewHTTPHandler(httpCfg)
	if err != nil {
		return fmt.Errorf("creating HTTP transport: %w", err)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	handler.RegisterRoutes(router)

	httpServer := &http.Server{
		Addr:              cfg.Transport.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.Transport.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down HTTP server: %w", err)
	}
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig(config.LoadTransport)
	if err != nil {
		return err
	}

	// Make HTTP request to health endpoint with context
	url := fmt.Sprintf("http://%s/health", cfg.Transport.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	subject := fs.String("subject", "", "Subject (client name) for the token")
	ttl := fs.Duration("ttl", 30*24*time.Hour, "Token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *subject == "" {
		return errors.New("--subject is required")
	}
	if *ttl <= 0 {
		return errors.New("--ttl must be positive")
	}

	cfg, _, err := loadConfig(config.LoadTransport)
	if err != nil {
		return err
	}
	if cfg.Transport.JWTSecret == "" {
		return errors.New("transport.jwt_secret is not configured")
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Transport.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating token verifier: %w", err)
	}

	token, err := verifier.Generate(*subject, *ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Fprintf(color.Error, "Token for %s (expires in %s):\n", *subject, *ttl)
	fmt.Println(token)
	return nil
}
