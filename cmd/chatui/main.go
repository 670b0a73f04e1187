// chatui is a terminal chat client for an assistant backend.
//
// Usage:
//
//	export CHATUI_AUTH_TOKEN="your-token"
//	go run cmd/chatui/main.go
//
// Commands inside the chat:
//
//	/new - Start a fresh session
//	/sessions - Open the session list
//	/attach <path> - Stage a file for the next message
//	/rename <title> - Rename the current session
//	/exit - Exit the program
//	<message> - Send a message to the assistant
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/dazzany/chatui/pkg/api"
	"github.com/dazzany/chatui/pkg/config"
	"github.com/dazzany/chatui/pkg/controller"
	"github.com/dazzany/chatui/pkg/directory"
	"github.com/dazzany/chatui/pkg/stream"
)

var version = "dev"

// rootFlags override environment configuration when set.
type rootFlags struct {
	serverURL string
	logLevel  string
	logFile   string
}

func newRootCmd() *cobra.Command {
	var flags rootFlags
	root := &cobra.Command{
		Use:          "chatui",
		Short:        "Terminal chat client for the assistant backend",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd.Context(), flags)
		},
	}
	root.PersistentFlags().StringVar(&flags.serverURL, "server-url", "", "backend base URL (overrides CHATUI_SERVER_URL)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	root.PersistentFlags().StringVar(&flags.logFile, "log-file", "", "log file path (overrides CHATUI_LOG_FILE)")
	root.AddCommand(newVersionCmd(), newHealthCmd(&flags))
	return root
}

func loadConfig(flags rootFlags) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if flags.serverURL != "" {
		cfg.ServerURL = flags.serverURL
	}
	if flags.logFile != "" {
		cfg.LogFile = flags.logFile
	}
	if flags.logLevel != "" {
		level, err := config.ParseLogLevel(flags.logLevel)
		if err != nil {
			return nil, err
		}
		cfg.LogLevel = level
	}
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "chatui %s %s %s/%s\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}

func newHealthCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check backend reachability and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*flags)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			if err := api.New(cfg.ServerURL, cfg.AuthToken).Health(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

func runTUI(ctx context.Context, flags rootFlags) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	logPath := cfg.LogFile
	if logPath == "" {
		logPath = "chatui.log"
	}
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	handler := slog.NewTextHandler(f, &slog.HandlerOptions{Level: cfg.LogLevel})
	slog.SetDefault(slog.New(handler))
	slog.Info("Logging initialized", "level", cfg.LogLevel)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	apiClient := api.New(cfg.ServerURL, cfg.AuthToken)
	ctrl := controller.New(
		controller.NewStreamOpener(stream.NewClient(apiClient)),
		directory.NewClient(apiClient),
	)

	// A dead backend still gets a UI; sends will surface the failure.
	healthCtx, healthCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := apiClient.Health(healthCtx); err != nil {
		slog.Warn("Backend health check failed", "url", cfg.ServerURL, "error", err)
	}
	healthCancel()

	p := tea.NewProgram(initialModel(ctx, ctrl), tea.WithAltScreen())
	_, err = p.Run()
	return err
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
