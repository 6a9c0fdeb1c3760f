package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"

	"arclight/internal/chat"
	"arclight/internal/config"
	"arclight/internal/db"
	"arclight/internal/export"
	"arclight/internal/logging"
	"arclight/internal/models"
	"arclight/internal/proxy"
	"arclight/internal/store"
	"arclight/internal/stream"
	"arclight/internal/ui"
)

var version = "dev"

const banner = `
   __ _ _ __ ___| (_) __ _| |__ | |_
  / _' | '__/ __| | |/ _' | '_ \| __|
 | (_| | | | (__| | | (_| | | | | |_
  \__,_|_|  \___|_|_|\__, |_| |_|\__|
                     |___/
`

func usage() {
	fmt.Println("Usage: arclight [command] [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  chat     Start the terminal chat client (default)")
	fmt.Println("  serve    Start the streaming proxy")
	fmt.Println("  export   Write a stored conversation to Markdown or HTML")
	fmt.Println()
	fmt.Println("Every command accepts -config PATH.")
}

func main() {
	cmd, args := "chat", os.Args[1:]
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch cmd {
	case "chat":
		err = runChat(ctx, args)
	case "serve":
		err = runServe(ctx, args)
	case "export":
		err = runExport(ctx, args)
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "config file (YAML or TOML)")
	addr := fs.String("addr", "", "listen address, overrides server.addr")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Resolve(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if err := cfg.ValidateServe(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format, os.Stdout)
	slog.SetDefault(logger)

	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)
	cyan.Print(banner)
	gray.Printf("    version: %s\n\n", version)
	green.Print("    ▶ ")
	fmt.Printf("Listen:    %s\n", cfg.Server.Addr)
	green.Print("    ▶ ")
	fmt.Printf("Upstream:  %s\n", cfg.Upstream.BaseURL)
	green.Print("    ▶ ")
	fmt.Printf("Models:    %d configured\n", len(cfg.Models))
	if cfg.RateLimit.RequestsPerSecond > 0 {
		green.Print("    ▶ ")
		fmt.Printf("Limit:     %.2f req/s, burst %d\n", cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	}
	fmt.Println()

	upstream := proxy.NewOpenAIUpstream(proxy.UpstreamConfig{
		BaseURL: cfg.Upstream.BaseURL,
		APIKey:  cfg.Upstream.APIKey,
		Headers: cfg.Upstream.Headers,
	})
	handler := proxy.New(upstream, proxy.Options{
		Models:            cfg.Models,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
		Logger:            logger,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("proxy listening", "addr", cfg.Server.Addr, "upstream", cfg.Upstream.BaseURL)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// openStore opens the configured substrate and logs to the configured file,
// or to arclight.log in the data directory.
func openStore(cfg *config.Config) (*store.ConversationStore, *slog.Logger, func(), error) {
	logPath := cfg.Logging.File
	if logPath == "" {
		dir, err := db.DataDir()
		if err != nil {
			return nil, nil, nil, fmt.Errorf("resolving data dir: %w", err)
		}
		logPath = filepath.Join(dir, "arclight.log")
	}
	logFile, err := logging.OpenFile(logPath)
	if err != nil {
		return nil, nil, nil, err
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format, logFile)
	slog.SetDefault(logger)

	kv, err := db.Open(cfg.Storage.Driver, cfg.Storage.Path)
	if err != nil {
		logFile.Close()
		return nil, nil, nil, fmt.Errorf("opening storage: %w", err)
	}
	closeAll := func() {
		if err := kv.Close(); err != nil {
			logger.Error("failed to close storage", "error", err)
		}
		logFile.Close()
	}
	return store.New(kv, logger), logger, closeAll, nil
}

func runChat(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	configPath := fs.String("config", "", "config file (YAML or TOML)")
	proxyURL := fs.String("proxy", "", "proxy base URL, overrides client.proxy_url")
	exportDir := fs.String("export-dir", ".", "directory for Ctrl+E exports")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Resolve(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if *proxyURL != "" {
		cfg.Client.ProxyURL = *proxyURL
	}

	st, logger, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	defaultModel := cfg.Client.DefaultModel
	if defaultModel == "" && len(cfg.Models) > 0 {
		defaultModel = cfg.Models[0].Value
	}

	transport := stream.NewClient(cfg.Client.ProxyURL, nil, logger)
	ctrl := chat.New(st, transport, chat.WithLogger(logger), chat.WithDefaultModel(defaultModel))
	defer ctrl.Close()
	ctrl.Load(ctx)

	logger.Info("chat client started", "proxy", cfg.Client.ProxyURL, "storage", cfg.Storage.Driver)

	m := ui.New(ctx, ctrl, transport, *exportDir)
	if _, err := ui.NewProgram(m).Run(); err != nil {
		return fmt.Errorf("running ui: %w", err)
	}
	ctrl.Abort()
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configPath := fs.String("config", "", "config file (YAML or TOML)")
	id := fs.String("id", "", "conversation id (defaults to the active conversation)")
	format := fs.String("format", string(export.FormatMarkdown), "md or html")
	dir := fs.String("out", ".", "output directory")
	list := fs.Bool("list", false, "list stored conversations and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	f, err := export.ParseFormat(*format)
	if err != nil {
		return err
	}
	cfg, err := config.Resolve(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	st, _, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	if *list {
		for _, c := range st.ListAll(ctx) {
			fmt.Printf("%s  %s  %s\n", c.ID, time.UnixMilli(c.UpdatedAt).Format(time.DateTime), c.Title)
		}
		return nil
	}

	conv, err := pickConversation(ctx, st, *id)
	if err != nil {
		return err
	}
	path, err := export.WriteFile(*dir, conv.Messages, f, time.Now())
	if err != nil {
		return err
	}
	color.New(color.FgGreen).Print("▶ ")
	fmt.Printf("Exported %q to %s\n", conv.Title, path)
	return nil
}

func pickConversation(ctx context.Context, st store.Store, id string) (models.Conversation, error) {
	if id == "" {
		active, ok := st.ActiveID(ctx)
		if !ok {
			return models.Conversation{}, errors.New("no active conversation; pass -id (see -list)")
		}
		id = active
	}
	conv, ok := st.Get(ctx, id)
	if !ok {
		return models.Conversation{}, fmt.Errorf("%w: %s", chat.ErrNotFound, id)
	}
	return conv, nil
}
