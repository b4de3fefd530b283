// Package main provides the CLI entry point for outie, the single-tenant
// memory-and-tool orchestrator of spec.md. Grounded on the teacher's
// cmd/nexus/main.go cobra-root shape: a small set of subcommands attached
// to one root command, JSON-structured slog configured before cobra even
// parses flags, SilenceUsage so a RunE error doesn't also dump usage text.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/outie/internal/coding"
	"github.com/haasonsaas/outie/internal/config"
	"github.com/haasonsaas/outie/internal/contextbuilder"
	"github.com/haasonsaas/outie/internal/coordinator"
	"github.com/haasonsaas/outie/internal/embeddings"
	"github.com/haasonsaas/outie/internal/embeddings/openai"
	"github.com/haasonsaas/outie/internal/engine"
	"github.com/haasonsaas/outie/internal/mcp/bridge"
	"github.com/haasonsaas/outie/internal/mcp/service"
	"github.com/haasonsaas/outie/internal/mcp/uplink"
	"github.com/haasonsaas/outie/internal/metrics"
	"github.com/haasonsaas/outie/internal/outbound"
	"github.com/haasonsaas/outie/internal/sandbox"
	"github.com/haasonsaas/outie/internal/scheduler"
	"github.com/haasonsaas/outie/internal/search"
	"github.com/haasonsaas/outie/internal/store"
	"github.com/haasonsaas/outie/internal/tools"
	"github.com/haasonsaas/outie/internal/trigger"
	"github.com/haasonsaas/outie/internal/websearch"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "outie",
		Short:        "outie - memory, scheduling and tool orchestrator",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	root.AddCommand(buildServeCmd(), buildBridgeCmd(), buildMigrateCmd(), buildDoctorCmd())
	return root
}

// buildMigrateCmd applies the SQLite schema (store.Open migrates on open)
// and exits, for use as a pre-deploy step separate from serve.
func buildMigrateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the SQLite schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			st, err := store.Open(cfg.Store.Path, cfg.Store.EmbeddingDimension)
			if err != nil {
				return err
			}
			defer st.Close()
			slog.Info("migration applied", "path", cfg.Store.Path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "outie.yaml", "path to YAML configuration file")
	return cmd
}

// buildDoctorCmd reports whether the configured store opens cleanly and the
// trigger/outbound/engine settings look usable, without starting any
// listeners.
func buildDoctorCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and storage health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			st, err := store.Open(cfg.Store.Path, cfg.Store.EmbeddingDimension)
			if err != nil {
				return fmt.Errorf("store: %w", err)
			}
			defer st.Close()

			if cfg.Trigger.WebhookSecret == "" {
				slog.Warn("trigger.webhook_secret is unset; webhook auth is disabled")
			}
			if cfg.Outbound.BotToken == "" {
				slog.Warn("outbound.bot_token is unset; chat replies are a silent no-op")
			}
			if cfg.Engine.BaseURL == "" {
				slog.Warn("engine.base_url is unset")
			}
			fmt.Println("ok")
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "outie.yaml", "path to YAML configuration file")
	return cmd
}

// buildBridgeCmd runs the sandbox-side half of the MCP transport (spec
// §4.8): it owns no tool registry, only the HTTP-MCP listener the
// reasoning engine talks to and the WS-UPLINK listener the orchestrator
// dials into. This runs inside the sandbox, never on the orchestrator host.
func buildBridgeCmd() *cobra.Command {
	var (
		httpAddr string
		wsAddr   string
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Run the sandbox-side MCP bridge (HTTP-MCP + WS-UPLINK listeners)",
		RunE: func(cmd *cobra.Command, args []string) error {
			b := bridge.New(timeout, slog.Default())

			httpSrv := &http.Server{Addr: httpAddr, Handler: b.HTTPMCPHandler()}
			wsSrv := &http.Server{Addr: wsAddr, Handler: b.UplinkHandler()}

			errCh := make(chan error, 2)
			go func() { errCh <- httpSrv.ListenAndServe() }()
			go func() { errCh <- wsSrv.ListenAndServe() }()

			slog.Info("bridge listening", "http_addr", httpAddr, "ws_addr", wsAddr)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			select {
			case <-ctx.Done():
			case err := <-errCh:
				if err != nil && err != http.ErrServerClosed {
					return err
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
			_ = wsSrv.Shutdown(shutdownCtx)
			return nil
		},
	}
	cmd.Flags().StringVar(&httpAddr, "http-addr", "127.0.0.1:7890", "HTTP-MCP listen address")
	cmd.Flags().StringVar(&wsAddr, "ws-addr", "127.0.0.1:7891", "WS-UPLINK listen address")
	cmd.Flags().DurationVar(&timeout, "request-timeout", 30*time.Second, "per-request tunnel timeout")
	return cmd
}

func buildServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator: coordinator, scheduler, MCP uplink and trigger intake",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "outie.yaml", "path to YAML configuration file")
	return cmd
}

func runServe(ctx context.Context, cfg config.Config) error {
	log := slog.Default()

	if lvl, err := parseLevel(cfg.Logging.Level); err == nil {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
		log = slog.Default()
	}

	st, err := store.Open(cfg.Store.Path, cfg.Store.EmbeddingDimension)
	if err != nil {
		return fmt.Errorf("store.Open: %w", err)
	}
	defer st.Close()

	m := metrics.New()

	if cfg.Embedder.APIKey == "" {
		return fmt.Errorf("embedder.api_key is required: journal/topic semantic search depends on it")
	}
	model, err := openai.New(openai.Config{APIKey: cfg.Embedder.APIKey, Model: cfg.Embedder.Model})
	if err != nil {
		return fmt.Errorf("openai.New: %w", err)
	}
	embedder := embeddings.New(model)
	searcher := search.New(st, embedder)

	sb, err := sandbox.Open(ctx, sandbox.Config{
		APIKey:       cfg.Sandbox.APIKey,
		APIURL:       cfg.Sandbox.APIURL,
		ReadyRetries: cfg.Sandbox.ReadyPollRetries,
		ReadyDelay:   cfg.Sandbox.ReadyPollDelay,
	})
	if err != nil {
		return fmt.Errorf("sandbox.Open: %w", err)
	}

	registry := tools.NewRegistry()
	registry.SetRecorder(m)

	outboundSink := outbound.New(outbound.Config{
		BotToken:    cfg.Outbound.BotToken,
		OwnerChatID: cfg.Outbound.OwnerChatID,
	}, log)

	allowedURLs := tools.NewAllowedURLs()

	tools.RegisterMemoryTools(registry, st, searcher, embedder, time.Now)
	tools.RegisterCommsTools(registry, st, outboundSink, time.Now)
	tools.RegisterWebTools(registry, allowedURLs, websearch.New(websearch.Config{}, http.DefaultClient), http.DefaultClient)

	engClient := engine.NewHTTPClient(cfg.Engine.BaseURL, cfg.Engine.PromptTimeout)

	codingOrch := coding.New(coding.Config{
		GitHubApp: coding.GitHubAppConfig{
			ClientID:      cfg.Coding.GitHubAppClientID,
			PrivateKeyPEM: cfg.Coding.GitHubAppPrivateKeyPEM,
			InstallID:     cfg.Coding.GitHubAppInstallID,
		},
		StaleAfter: cfg.Coding.StaleAfter,
	}, st, sandboxExecAdapter{sb}, engClient, coding.EngineClassifier{Eng: engClient}, time.Now)
	tools.RegisterCodingTools(registry, codingOrch)

	svc := service.New(registry)
	up := uplink.New(sb, "/uplink", svc, log)

	builder := contextbuilder.New(st, cfg.Store.CompactThreshold, time.Now)

	co := coordinator.New(coordinator.Config{}, st, builder, sb, up, engClient, outboundSink, log, time.Now)
	co.SetRecorder(m)
	co.SetURLAllower(allowedURLs)

	sched := scheduler.New(st, co, cfg.Scheduler.FireWindow, cfg.Scheduler.MissWindow, log)
	sched.SetRecorder(m)
	tools.RegisterSchedulingTools(registry, st, sched, time.Now)
	if err := sched.Reschedule(ctx); err != nil {
		log.Error("initial reschedule failed", "error", err)
	}
	defer sched.Stop()

	intake := trigger.New(trigger.Config{
		Secret:       cfg.Trigger.WebhookSecret,
		AllowedUsers: cfg.Trigger.AllowedUsers,
	}, func(ctx context.Context, u trigger.Update) (string, error) {
		return co.Handle(ctx, coordinator.Trigger{
			Kind:    contextbuilder.TriggerMessage,
			Text:    u.Text,
			ChatID:  u.ChatID,
			ReplyTo: u.ReplyTo,
		})
	}, func(ctx context.Context, u trigger.Update) (string, error) {
		reply, err := co.Clear(ctx)
		if err == nil {
			if sendErr := outboundSink.Send(ctx, u.ChatID, reply, u.ReplyTo, ""); sendErr != nil {
				log.Error("failed to send /clear acknowledgement", "error", sendErr)
			}
		}
		return reply, err
	}, log)

	mux := http.NewServeMux()
	mux.Handle("/webhook", intake)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	httpSrv := &http.Server{Addr: cfg.Server.ListenAddr, Handler: mux}
	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()
	log.Info("serving", "listen_addr", cfg.Server.ListenAddr)

	runCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	go up.Run(runCtx, time.Second)

	select {
	case <-runCtx.Done():
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	return httpSrv.Shutdown(shutdownCtx)
}

func parseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	err := lvl.UnmarshalText([]byte(s))
	return lvl, err
}

// sandboxExecAdapter narrows *sandbox.Sandbox to coding.Sandbox's
// (stdout, exitCode, err) shape from the richer ExecResult sandbox.Exec
// returns, since coding.Sandbox is intentionally minimal for testability.
type sandboxExecAdapter struct {
	sb *sandbox.Sandbox
}

func (a sandboxExecAdapter) Exec(ctx context.Context, command string) (string, int, error) {
	res, err := a.sb.Exec(ctx, command)
	return res.Stdout, res.ExitCode, err
}
