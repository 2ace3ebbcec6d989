package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/1mcp-ai/1mcp/internal/app"
	"github.com/1mcp-ai/1mcp/internal/config"
	"github.com/1mcp-ai/1mcp/internal/inbound"
	"github.com/1mcp-ai/1mcp/internal/logs"
	"github.com/1mcp-ai/1mcp/internal/reqcontext"
	"github.com/1mcp-ai/1mcp/internal/session"
)

var (
	configFile           string
	dataDir              string
	listen               string
	logLevel             string
	logToFile            bool
	logDir               string
	stdioMode            bool
	instructionsTemplate string

	version = "v0.1.0" // injected by -ldflags during release builds
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "1mcp",
		Short:   "A proxying aggregator for the Model Context Protocol",
		Version: version,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file path (default: ~/.1mcp/mcp.json)")
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "", "Data directory path (default: ~/.1mcp)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logToFile, "log-to-file", false, "Enable logging to file alongside console")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Custom log directory path")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the 1mcp proxy server",
		Long:  "Dial every configured outbound MCP server and expose their merged, filtered capabilities over stdio or HTTP.",
		RunE:  runServe,
	}
	serveCmd.Flags().StringVarP(&listen, "listen", "l", "", "HTTP listen address (overrides mcp.json's listen field)")
	serveCmd.Flags().BoolVar(&stdioMode, "stdio", false, "Serve a single unfiltered session over stdio instead of HTTP")
	serveCmd.Flags().StringVar(&instructionsTemplate, "instructions-template", "", "Custom Go text/template for the server's instructions field")

	rootCmd.AddCommand(serveCmd, newVersionCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the 1mcp version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := logs.SetupCommandLogger(true, logLevel, logToFile, logDir)
	if err != nil {
		return fmt.Errorf("set up logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	cfg, err := resolveConfig()
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Listen = listen
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	application, err := app.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}

	baseCtx := reqcontext.WithMetadata(context.Background(), reqcontext.SourceCLI)
	ctx, stop := signal.NotifyContext(baseCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := make(chan error, 1)
	go func() { runErr <- application.Run(ctx, configFile) }()

	if stdioMode {
		return serveStdio(application, logger)
	}
	return serveHTTP(ctx, application, logger, runErr)
}

func serveStdio(application *app.App, logger *zap.Logger) error {
	sess, err := session.New(session.Config{
		ID:                   session.NewSessionID(),
		Filter:               session.NoFilter(),
		EnablePagination:     application.Config.EnablePagination,
		InstructionsTemplate: instructionsTemplate,
	}, application.Router, application.Presets, logger)
	if err != nil {
		return fmt.Errorf("create stdio session: %w", err)
	}
	application.Registry.Register(sess)
	defer sess.Close()

	return mcpserver.ServeStdio(sess.MCPServer())
}

func serveHTTP(ctx context.Context, application *app.App, logger *zap.Logger, runErr chan error) error {
	mux := inbound.NewMux(application.Registry, application.Router, application.Presets,
		application.Config.EnablePagination, instructionsTemplate, logger)

	application.HTTP.Router.Handle("/metrics", application.Metrics.Handler())
	application.HTTP.Router.Mount("/mcp", mux)

	srv := &http.Server{Addr: application.Config.Listen, Handler: application.HTTP.Router}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	logger.Info("1mcp listening", zap.String("addr", application.Config.Listen))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return <-runErr
}

func resolveConfig() (*config.Config, error) {
	if configFile != "" {
		cfg, err := config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", configFile, err)
		}
		if dataDir != "" {
			cfg.DataDir = dataDir
		}
		return cfg, nil
	}
	return config.Load("")
}
