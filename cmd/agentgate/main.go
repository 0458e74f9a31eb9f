// Command agentgate runs the local control plane that mediates
// between a web client and an AI coding assistant: conversation
// browsing, session metadata, permission brokering, notifications,
// and configuration.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"

	"github.com/agentgate/agentgate/internal/config"
	"github.com/agentgate/agentgate/internal/conversations"
	"github.com/agentgate/agentgate/internal/depgraph"
	"github.com/agentgate/agentgate/internal/logbuf"
	"github.com/agentgate/agentgate/internal/metastore"
	"github.com/agentgate/agentgate/internal/permission"
	"github.com/agentgate/agentgate/internal/push"
	"github.com/agentgate/agentgate/internal/server"
	"github.com/agentgate/agentgate/internal/vcs"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = ""
)

const shutdownGrace = 5 * time.Second

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve":
			runServe(os.Args[2:])
			return
		case "update":
			runUpdate(os.Args[2:])
			return
		case "version", "--version", "-v":
			fmt.Printf("agentgate %s (commit %s, built %s)\n",
				version, commit, buildDate)
			return
		case "help", "--help", "-h":
			printUsage()
			return
		}
	}

	runServe(os.Args[1:])
}

func printUsage() {
	fmt.Printf(`agentgate %s - local control plane for AI coding sessions

Serves conversation history, session metadata, and tool-permission
decisions to a local web client over an authenticated HTTP API.

Usage:
  agentgate [flags]          Start the server (default command)
  agentgate serve [flags]    Start the server (explicit)
  agentgate update [flags]   Check for a newer release
  agentgate version          Show version information
  agentgate help             Show this help

Server flags:
  -host string          Host to bind to (overrides config)
  -port int             Port to listen on (overrides config)
  -data-dir string      Data directory (default ~/.agentgate)
  -projects-dir string  Transcript projects directory
  -no-auth              Disable bearer-token authentication

Update flags:
  -check                Only report, never prompt
  -force                Ignore the cached result

Environment variables:
  AGENTGATE_DATA_DIR    Data directory (config, databases)
  CLAUDE_PROJECTS_DIR   Transcript projects directory

Data is stored in ~/.agentgate/ by default.
`, version)
}

// resolveDataDir picks the data directory from the flag, the
// environment, or the home default, in that order.
func resolveDataDir(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if dir := os.Getenv("AGENTGATE_DATA_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".agentgate"), nil
}

// resolveProjectsDir picks the transcript directory from the flag,
// the config, the environment, or the Claude default.
func resolveProjectsDir(flagValue, configured string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if configured != "" {
		return configured, nil
	}
	if dir := os.Getenv("CLAUDE_PROJECTS_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".claude", "projects"), nil
}

// setupLogging builds the process logger: a colorized console
// handler teed into the in-memory buffer that backs the log API.
func setupLogging() *logbuf.Buffer {
	w := os.Stderr
	var console slog.Handler
	if isatty.IsTerminal(w.Fd()) || isatty.IsCygwinTerminal(w.Fd()) {
		console = tint.NewHandler(w, &tint.Options{
			Level:      slog.LevelInfo,
			TimeFormat: time.Kitchen,
		})
	} else {
		console = slog.NewTextHandler(w, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}

	buf := logbuf.NewBuffer(logbuf.DefaultCapacity)
	slog.SetDefault(slog.New(logbuf.NewHandler(console, buf)))
	return buf
}

func runServe(args []string) {
	fs := flag.NewFlagSet("agentgate", flag.ExitOnError)
	host := fs.String("host", "", "host to bind to (overrides config)")
	port := fs.Int("port", 0, "port to listen on (overrides config)")
	dataDirFlag := fs.String("data-dir", "", "data directory")
	projectsFlag := fs.String("projects-dir", "", "transcript projects directory")
	noAuth := fs.Bool("no-auth", false, "disable bearer-token authentication")
	if err := fs.Parse(args); err != nil {
		os.Exit(2)
	}

	logs := setupLogging()
	log := slog.Default()

	dataDir, err := resolveDataDir(*dataDirFlag)
	if err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		log.Error("creating data dir failed", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load(filepath.Join(dataDir, "config.json"), log)
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	defer cfg.Stop()
	prefs := config.LoadPreferences(
		filepath.Join(dataDir, "preferences.json"), log)

	projectsDir, err := resolveProjectsDir(*projectsFlag, cfg.Get().ProjectsDir)
	if err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(1)
	}

	meta, err := metastore.Open(filepath.Join(dataDir, "session-info.db"))
	if err != nil {
		log.Error("opening session store failed", "error", err)
		os.Exit(1)
	}
	defer meta.Close()

	pushStore, err := push.Open(filepath.Join(dataDir, "web-push.db"))
	if err != nil {
		log.Error("opening push store failed", "error", err)
		os.Exit(1)
	}
	defer pushStore.Close()

	pushSvc := push.NewService(pushStore, func() push.Settings {
		n := cfg.Get().Interface.Notifications
		return push.Settings{
			Enabled:         n.Enabled,
			Subject:         n.PushSubject,
			VAPIDPublicKey:  n.VapidPublicKey,
			VAPIDPrivateKey: n.VapidPrivateKey,
			NtfyURL:         n.NtfyURL,
		}
	}, log)

	lister := conversations.NewLister(projectsDir, meta, log)
	lister.SetCursorSecret([]byte(cfg.Get().AuthToken))
	graph := depgraph.NewEngine(
		filepath.Join(dataDir, "session-deps.json"),
		lister.ReadMessages, log)
	lister.AttachGraph(graph)

	broker := permission.NewBroker(log,
		permission.WithNotify(func(req permission.Request) {
			ctx, cancel := context.WithTimeout(
				context.Background(), time.Minute)
			defer cancel()
			_, err := pushSvc.Broadcast(ctx, push.Notification{
				Title: "Permission requested",
				Body:  req.ToolName + " is waiting for a decision",
				Tag:   "permission",
			})
			if err != nil {
				log.Warn("permission notification failed", "error", err)
			}
		}))
	defer broker.Close()

	prober := vcs.NewProber(func() string {
		return cfg.Get().VCSProbeCommand
	})
	go lister.BackfillHeads(context.Background(), prober)

	if err := cfg.Watch(); err != nil {
		log.Warn("config watcher unavailable", "error", err)
	}

	opts := []server.Option{
		server.WithVersion(server.VersionInfo{
			Version:   version,
			Commit:    commit,
			BuildDate: buildDate,
		}),
	}
	if *noAuth {
		opts = append(opts, server.WithoutAuth())
	}
	srv := server.New(server.Deps{
		Config:  cfg,
		Prefs:   prefs,
		Lister:  lister,
		Meta:    meta,
		Graph:   graph,
		Broker:  broker,
		Push:    pushStore,
		PushSvc: pushSvc,
		Logs:    logs,
	}, log, opts...)

	bindHost := cfg.Get().Server.Host
	if *host != "" {
		bindHost = *host
	}
	bindPort := cfg.Get().Server.Port
	if *port != 0 {
		bindPort = *port
	}
	chosen := server.FindAvailablePort(bindHost, bindPort)
	if chosen != bindPort {
		log.Warn("configured port in use",
			"configured", bindPort, "using", chosen)
	}
	addr := net.JoinHostPort(bindHost, strconv.Itoa(chosen))

	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(addr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("shutdown incomplete", "error", err)
		}
	case err := <-errCh:
		log.Error("server failed", "error", err)
		os.Exit(1)
	}
}
