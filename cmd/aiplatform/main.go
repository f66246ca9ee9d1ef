package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stellarlinkco/aiplatform/internal/catalog"
	"github.com/stellarlinkco/aiplatform/internal/config"
	"github.com/stellarlinkco/aiplatform/internal/gateway"
	"github.com/stellarlinkco/aiplatform/internal/logging"
	"github.com/stellarlinkco/aiplatform/internal/mcpserver"
	"github.com/stellarlinkco/aiplatform/internal/platform"
	"github.com/stellarlinkco/aiplatform/internal/store"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "1.0.0"

// ServeOptions for running the HTTP gateway with custom dependencies
type ServeOptions struct {
	Port       int
	Transports string
	Logger     *zap.Logger
	SignalChan chan os.Signal
}

// MCPOptions for running the stdio MCP server with custom streams
type MCPOptions struct {
	Stdin  io.Reader
	Stdout io.Writer
	Logger *zap.Logger
}

var rootCmd = &cobra.Command{
	Use:           "aiplatform",
	Short:         "aiplatform - unified AI platform service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API on the configured transports",
	RunE:  runServe,
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the platform as MCP tools over stdio",
	RunE:  runMCP,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Write default config, system config and tool catalog",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show aiplatform status",
	RunE:  runStatus,
}

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Tool catalog commands",
}

var toolsLintCmd = &cobra.Command{
	Use:   "lint [path]",
	Short: "Check a tool catalog against the function-calling schema",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runToolsLint,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "aiplatform %s\n", version)
	},
}

var (
	portFlag      int
	transportFlag string
)

func init() {
	serveCmd.Flags().IntVarP(&portFlag, "port", "p", 0, "Listen port (0 keeps the configured port)")
	serveCmd.Flags().StringVarP(&transportFlag, "transport", "t", "", "Comma-separated transports: framework, raw, router")
	toolsCmd.AddCommand(toolsLintCmd)
	rootCmd.AddCommand(serveCmd, mcpCmd, onboardCmd, statusCmd, toolsCmd, versionCmd)
}

func main() {
	gin.SetMode(gin.ReleaseMode)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads .env first so it can feed the environment overrides.
func loadConfig() (*config.Config, error) {
	config.LoadDotEnv()
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	return runServeWithOptions(cmd.Context(), ServeOptions{Port: portFlag, Transports: transportFlag})
}

// runServeWithOptions runs the gateway with injectable dependencies for testing
func runServeWithOptions(ctx context.Context, opts ServeOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if opts.Port > 0 {
		cfg.Server.Port = opts.Port
	}
	if opts.Transports != "" {
		cfg.Transports.Select(strings.Split(opts.Transports, ",")...)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger, err = logging.New(cfg.Log)
		if err != nil {
			return err
		}
		defer logger.Sync()
	}

	gw, err := gateway.NewWithOptions(cfg, gateway.Options{
		Logger:     logger,
		SignalChan: opts.SignalChan,
	})
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}
	return gw.Run(ctx)
}

func runMCP(cmd *cobra.Command, args []string) error {
	return runMCPWithOptions(cmd.Context(), MCPOptions{})
}

func runMCPWithOptions(ctx context.Context, opts MCPOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := opts.Logger
	if logger == nil {
		logger, err = logging.New(cfg.Log)
		if err != nil {
			return err
		}
		defer logger.Sync()
	}
	stdin := opts.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	cat := catalog.New(cfg.Catalog.SystemConfig, cfg.Catalog.Tools, logger.Named("catalog"))
	if err := cat.Load(); err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	backend, err := store.Open(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer backend.Close()

	p := platform.New(backend.Memory(), backend.Plans(), cat)
	p.MarkInitialized()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("mcp server ready", zap.String("store", cfg.Store.Backend), zap.Int("tools", len(cat.Tools())))
	return mcpserver.ServeStdio(ctx, mcpserver.New(p, version), stdin, stdout)
}

func runOnboard(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfgPath := config.ConfigPath()

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(out, "Created config: %s\n", cfgPath)
	} else {
		fmt.Fprintf(out, "Config already exists: %s\n", cfgPath)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	for _, f := range []struct {
		path    string
		content []byte
	}{
		{cfg.Catalog.SystemConfig, catalog.DefaultSystemConfig()},
		{cfg.Catalog.Tools, catalog.DefaultTools()},
	} {
		if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
			return fmt.Errorf("create catalog dir: %w", err)
		}
		writeIfNotExists(out, f.path, f.content)
	}

	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintf(out, "  1. Edit %s to choose transports, port and store\n", cfgPath)
	fmt.Fprintln(out, "  2. Run 'aiplatform tools lint' after editing the tool catalog")
	fmt.Fprintln(out, "  3. Run 'aiplatform serve' and open http://localhost:3000/health")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(out, "Config: error (%v)\n", err)
		return nil
	}

	fmt.Fprintf(out, "Config: %s\n", config.ConfigPath())
	fmt.Fprintf(out, "Mode: %s\n", cfg.Server.Mode)
	enabled := cfg.EnabledTransports()
	for _, name := range []string{config.TransportFramework, config.TransportRaw, config.TransportRouter} {
		if port, ok := enabled[name]; ok {
			fmt.Fprintf(out, "Transport %s: %s:%d\n", name, cfg.Server.Host, port)
		} else {
			fmt.Fprintf(out, "Transport %s: disabled\n", name)
		}
	}
	fmt.Fprintf(out, "Store: %s\n", cfg.Store.Backend)

	cat := catalog.New(cfg.Catalog.SystemConfig, cfg.Catalog.Tools, nil)
	if err := cat.Load(); err != nil {
		fmt.Fprintf(out, "Catalog: error (%v)\n", err)
		return nil
	}
	st := cat.Status()
	fmt.Fprintf(out, "System config: %s\n", st.Source)
	fmt.Fprintf(out, "Tools: %d (%s)\n", st.Tools, cfg.Catalog.Tools)
	if issues := catalog.Lint(cat.Tools()); len(issues) > 0 {
		fmt.Fprintf(out, "Tool lint: %d issue(s), run 'aiplatform tools lint'\n", len(issues))
	} else {
		fmt.Fprintln(out, "Tool lint: ok")
	}
	return nil
}

func runToolsLint(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	path := ""
	if len(args) == 1 {
		path = args[0]
	} else {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		path = cfg.Catalog.Tools
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read tools: %w", err)
	}
	tools, err := catalog.ParseTools(data, filepath.Ext(path))
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	issues := catalog.Lint(tools)
	for _, issue := range issues {
		fmt.Fprintln(out, issue.String())
	}
	if len(issues) > 0 {
		return fmt.Errorf("%s: %d issue(s) in %d tool(s)", path, len(issues), len(tools))
	}
	fmt.Fprintf(out, "%s: %d tool(s), no issues\n", path, len(tools))
	return nil
}

func writeIfNotExists(out io.Writer, path string, content []byte) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		_ = os.WriteFile(path, content, 0644)
		fmt.Fprintf(out, "  Created: %s\n", path)
	}
}
