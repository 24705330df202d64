package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/hotelbook/concierge/internal/api"
	"github.com/hotelbook/concierge/internal/config"
	"github.com/hotelbook/concierge/internal/engine"
	"github.com/hotelbook/concierge/internal/ingest"
	"github.com/hotelbook/concierge/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the concierge server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running concierge server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server, engine and index status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	startCmd.Flags().Bool("mcp", true, "serve MCP tools over stdio alongside HTTP")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "concierge.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "concierge version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, logCloser, err := newLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	// Generated and saved on first start.
	apiToken, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}

	healthURL := "http://" + cfg.Addr() + "/health"
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		return fmt.Errorf("server already running on %s", cfg.Addr())
	}
	pidPath := pidFilePath(cfg.Storage.DataDir)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer os.Remove(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := engine.New(ctx, engine.Options{
		Provider:  cfg.Engine.Provider,
		BaseURL:   cfg.Engine.BaseURL,
		APIKey:    cfg.Engine.APIKey,
		ChatModel: cfg.Engine.ChatModel,
	})
	if err != nil {
		return fmt.Errorf("creating inference engine: %w", err)
	}
	if err := engine.EnsureReady(ctx, eng, cfg.Engine.ChatModel, cfg.Engine.EmbedModel, os.Stderr); err != nil {
		return err
	}

	svc, err := buildServices(ctx, cfg, eng)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			slog.Warn("closing services", "error", err)
		}
	}()

	if svc.local != nil {
		worker := ingest.NewWorker(svc.local, svc.indexer, 500*time.Millisecond)
		go worker.Run(ctx)
	} else {
		// Hosted content changes outside this process, so vectors are
		// rebuilt from scratch on every start.
		go func() {
			n, err := svc.indexer.IndexAll(ctx)
			if err != nil {
				slog.Error("indexing hosted corpus", "error", err)
				return
			}
			slog.Info("hosted corpus indexed", "entries", n)
		}()
	}

	if withMCP && svc.local != nil {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Knowledge: svc.local,
			Resolver:  svc.orchestrator,
			Retriever: svc.retriever,
			Version:   version,
		})
		go func() {
			err := server.NewStdioServer(mcpSrv).Listen(ctx, os.Stdin, os.Stdout)
			if err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           svc.router(apiToken),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("concierge listening", "addr", cfg.Addr(), "driver", cfg.Storage.Driver, "provider", cfg.Engine.Provider)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("could not load config: %w", err)
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		return fmt.Errorf("concierge is not running (no PID file): %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("could not find process %d: %w", pid, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		os.Remove(pidPath)
		return fmt.Errorf("could not stop concierge (PID %d): %w", pid, err)
	}

	printSuccess("Sent stop signal to concierge (PID %d)", pid)
	return nil
}

type statusReport struct {
	FAQs    int            `json:"faqs"`
	Vectors *int           `json:"vectors"`
	Jobs    map[string]int `json:"jobs"`
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	running := false
	if resp, err := client.Get("http://" + cfg.Addr() + "/health"); err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		running = resp.StatusCode == http.StatusOK
		if running {
			printStatus("Server", "running on %s", cfg.Addr())
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Engine", "%s %s", cfg.Engine.Provider, cfg.Engine.BaseURL)
	printStatus("Chat model", "%s", cfg.Engine.ChatModel)
	printStatus("Embed model", "%s", cfg.Engine.EmbedModel)
	printStatus("Storage", "%s", cfg.Storage.Driver)
	printStatus("Takeover", "%s", cfg.Takeover.Backend)

	if running && cfg.Storage.Driver == "sqlite" {
		if c, err := newAPIClient(); err == nil {
			var st statusReport
			resp, err := c.get(ctx, adminPrefix+"/status")
			if err == nil && decodeJSON(resp, &st) == nil {
				printStatus("FAQ entries", "%d", st.FAQs)
				if st.Vectors != nil {
					printStatus("Vectors", "%d", *st.Vectors)
				}
				printStatus("Embed jobs", "%d pending, %d failed", st.Jobs[storage.JobPending], st.Jobs[storage.JobFailed])
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
