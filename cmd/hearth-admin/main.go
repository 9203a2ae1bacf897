// ABOUTME: Entry point for the hearth-admin control surface
// ABOUTME: Serves the admin API and offers token bootstrap and export commands

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"maunium.net/go/mautrix/id"

	"github.com/hearthchat/hearth-admin/internal/adminapi"
	"github.com/hearthchat/hearth-admin/internal/authz"
	"github.com/hearthchat/hearth-admin/internal/config"
	"github.com/hearthchat/hearth-admin/internal/export"
	"github.com/hearthchat/hearth-admin/internal/store"
	"github.com/hearthchat/hearth-admin/internal/visibility"
)

// Version is set by goreleaser at build time.
var version = "dev"

// getConfigPath returns the path to the admin config file.
// Priority: HEARTH_ADMIN_CONFIG env var > XDG_CONFIG_HOME/hearth/admin.yaml > ~/.config/hearth/admin.yaml
func getConfigPath() string {
	if envPath := os.Getenv("HEARTH_ADMIN_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "admin.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "hearth", "admin.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: hearth-admin <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                      Start the admin API server")
		fmt.Println("  token --creator NAME       Create an admin token with full permissions")
		fmt.Println("  export USER_ID             Export all data held on a user")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "token":
		err = runToken(ctx, os.Args[2:])
	case "export":
		err = runExport(ctx, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	green.Print("  ▶ ")
	fmt.Printf("Config:  %s\n", configPath)
	green.Print("  ▶ ")
	fmt.Printf("HTTP:    %s\n", cfg.Server.HTTPAddr)
	green.Print("  ▶ ")
	fmt.Printf("Exports: %s\n", cfg.Export.Dir)
	fmt.Println()

	logger.Info("starting hearth-admin",
		"version", version,
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	sqlStore, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer sqlStore.Close()

	authorizer := authz.New(sqlStore, logger)
	filter := visibility.New(logger)
	exporter := export.New(sqlStore, sqlStore, sqlStore, filter, logger)
	server := adminapi.NewServer(authorizer, sqlStore, sqlStore, exporter, cfg.Export.Dir, logger)

	httpServer := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: server.Routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	}
}

// runToken creates a fully-permissioned admin token, for bootstrapping a
// fresh deployment.
func runToken(ctx context.Context, args []string) error {
	creator := "hearth-admin"
	description := "bootstrap token"
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--creator":
			if i+1 >= len(args) {
				return fmt.Errorf("--creator requires a value")
			}
			i++
			creator = args[i]
		case "--description":
			if i+1 >= len(args) {
				return fmt.Errorf("--description requires a value")
			}
			i++
			description = args[i]
		default:
			return fmt.Errorf("unknown flag %q", args[i])
		}
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	sqlStore, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer sqlStore.Close()

	authorizer := authz.New(sqlStore, logger)

	validUntil := time.Now().Add(cfg.Tokens.DefaultTTL).UTC()
	token, err := authorizer.CreateToken(ctx, validUntil, creator, description)
	if err != nil {
		return fmt.Errorf("creating token: %w", err)
	}

	permissionCodes := []string{
		adminapi.PermissionUsers,
		adminapi.PermissionWhois,
		adminapi.PermissionServerAdmin,
		adminapi.PermissionExport,
		adminapi.PermissionTokens,
	}
	actions := []string{http.MethodGet, http.MethodPut, http.MethodPost, http.MethodDelete}

	for _, code := range permissionCodes {
		for _, action := range actions {
			if _, err := authorizer.SetPermission(ctx, token, code, action, true); err != nil {
				return fmt.Errorf("granting %s %s: %w", action, code, err)
			}
		}
	}

	color.New(color.FgGreen).Println("Admin token created:")
	fmt.Println()
	fmt.Printf("  %s\n", token)
	fmt.Println()
	color.New(color.FgHiBlack).Printf("valid until %s, all permissions granted\n", validUntil.Format(time.RFC3339))
	return nil
}

// runExport exports everything held on a user into a fresh directory under
// the configured export root.
func runExport(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: hearth-admin export USER_ID")
	}
	userID := args[0]

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	sqlStore, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer sqlStore.Close()

	filter := visibility.New(logger)
	exporter := export.New(sqlStore, sqlStore, sqlStore, filter, logger)

	root := filepath.Join(cfg.Export.Dir, uuid.New().String())
	sink, err := export.NewDirSink(root, logger)
	if err != nil {
		return fmt.Errorf("creating export sink: %w", err)
	}

	result, err := exporter.Export(ctx, id.UserID(userID), sink)
	if err != nil {
		return fmt.Errorf("exporting %s: %w", userID, err)
	}

	color.New(color.FgGreen).Printf("Export written to %v\n", result)
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}
