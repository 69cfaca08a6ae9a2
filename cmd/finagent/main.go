package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"finagent/internal/agent"
	"finagent/internal/config"
	"finagent/internal/gateway"
	"finagent/internal/llm/openai"
	"finagent/internal/logging"
	"finagent/internal/report"
	"finagent/internal/server"
	"finagent/internal/session"

	"github.com/spf13/cobra"
)

var (
	configPath string
	host       string
	port       int
	cardURL    string
	mcpServer  string
	mcpEnabled bool
	logLevel   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "finagent",
		Short: "Finance agent answering questions over an A2A-style protocol",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: search standard locations)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (overrides config)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the agent server",
		RunE:  runServe,
	}
	serveCmd.Flags().StringVar(&host, "host", "", "Host to bind (overrides config)")
	serveCmd.Flags().IntVar(&port, "port", 0, "Port to bind (overrides config)")
	serveCmd.Flags().StringVar(&cardURL, "card-url", "", "External URL for the agent card")

	chatCmd := &cobra.Command{
		Use:   "chat [question]",
		Short: "Ask the agent a single question without the server",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runChat,
	}
	chatCmd.Flags().BoolVar(&mcpEnabled, "mcp", false, "Enable the MCP tool gateway")
	chatCmd.Flags().StringVar(&mcpServer, "mcp-server", "", "MCP tool provider URL (overrides config)")

	rootCmd.AddCommand(serveCmd, chatCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.LoadWithDefaults()
	}
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, nil
}

func buildEngine(cfg *config.Config, log *logging.Logger) *agent.Engine {
	client := openai.NewClient(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL)
	reporter := report.New(log)
	return agent.New(agent.Config{
		Model:         cfg.LLM.Model,
		Temperature:   cfg.LLM.Temperature,
		MaxIterations: cfg.MaxIterations,
	}, client, reporter, log)
}

func dispatcherFactory(cfg *config.Config, log *logging.Logger) server.DispatcherFactory {
	if !cfg.MCP.Enabled {
		return nil
	}
	return func(contextID string) agent.ToolDispatcher {
		return gateway.New(cfg.MCP.ServerURL, contextID, log,
			gateway.WithFinalAnswerTool(cfg.MCP.FinalAnswerTool))
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if host != "" {
		cfg.Server.Host = host
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	if cardURL != "" {
		cfg.Server.CardURL = cardURL
	}
	if cfg.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key required (set it in the config or via its ${VAR} reference)")
	}

	log := logging.New(os.Stderr, cfg.LogLevel)
	engine := buildEngine(cfg, log)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := server.New(addr, cfg.BaseCardURL(), engine, dispatcherFactory(cfg, log), log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("addr", addr).Bool("mcp_enabled", cfg.MCP.Enabled).Msg("starting finance agent")
	return srv.ListenAndServe(ctx)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if mcpServer != "" {
		cfg.MCP.ServerURL = mcpServer
	}
	if mcpEnabled {
		cfg.MCP.Enabled = true
	}
	if cfg.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key required (set it in the config or via its ${VAR} reference)")
	}

	log := logging.NewConsole(cfg.LogLevel)
	engine := buildEngine(cfg, log)

	sess := &session.Session{ContextID: "local", History: session.NewHistory()}

	var tools agent.ToolDispatcher
	if cfg.MCP.Enabled {
		gw := gateway.New(cfg.MCP.ServerURL, sess.ContextID, log,
			gateway.WithFinalAnswerTool(cfg.MCP.FinalAnswerTool))
		defer gw.Close()
		tools = gw
	}

	result, err := engine.ProcessMessage(cmd.Context(), sess, tools, args[0], false)
	if err != nil {
		return err
	}

	fmt.Println(result.Response)
	return nil
}
