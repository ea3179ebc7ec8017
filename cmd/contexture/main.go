// Package main is the entry point for the contexture CLI. Contexture tracks
// what a conversation is about: each message updates a forest of contexts
// with extracted entities and topics, pronouns resolve against recent
// mentions, and topic switches move an active-context pointer through the
// forest.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"
	"github.com/muesli/termenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/halcyonic/contexture/internal/awareness"
	"github.com/halcyonic/contexture/internal/bus"
	"github.com/halcyonic/contexture/internal/config"
	"github.com/halcyonic/contexture/internal/logging"
	"github.com/halcyonic/contexture/internal/server"
	"github.com/halcyonic/contexture/internal/ui"
)

var (
	version = "0.1.0"

	cfgPath     string
	storeFlag   string
	dataDir     string
	logLevel    string
	sessionName string

	cfg        *config.Config
	logCleanup func()
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "contexture",
		Short: "Contexture - conversational context tracking",
		Long: `Contexture follows a conversation the way a listener does: it extracts
entities and topics from every message, resolves pronouns against recent
mentions, notices when the subject changes, and keeps the contexts worth
remembering retrievable later.

Process messages:        contexture process "Let's talk about basketball"
Stream a transcript:     contexture feed conversation.txt --follow
Interactive session:     contexture repl
Expose over HTTP:        contexture serve`,
		PersistentPreRunE: initApp,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logCleanup != nil {
				logCleanup()
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default ~/.contexture/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&storeFlag, "store", "", "persistence backend: badger, sqlite, or memory")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (default ~/.contexture)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, or error")
	rootCmd.PersistentFlags().StringVar(&sessionName, "session-name", "", "name for this run's session context")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("contexture v%s\n", version)
		},
	})
	rootCmd.AddCommand(processCmd())
	rootCmd.AddCommand(feedCmd())
	rootCmd.AddCommand(replCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(inspectCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// STARTUP
// ═══════════════════════════════════════════════════════════════════════════════

// initApp loads configuration, applies flag overrides, and points the global
// logger at stderr. Commands that own the terminal re-route it to a file.
func initApp(cmd *cobra.Command, args []string) error {
	var err error
	if cfgPath != "" {
		cfg, err = config.LoadFromPath(cfgPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	if storeFlag != "" {
		cfg.Store = storeFlag
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if sessionName != "" {
		cfg.SessionName = sessionName
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logCleanup, err = logging.Setup(logging.Config{Level: cfg.LogLevel})
	return err
}

// redirectLogsToFile moves log output to the data-dir log file, for commands
// whose terminal is occupied by a TUI.
func redirectLogsToFile() error {
	cleanup, err := logging.Setup(logging.Config{Level: cfg.LogLevel, FilePath: cfg.LogFile()})
	if err != nil {
		return err
	}
	prev := logCleanup
	logCleanup = func() {
		cleanup()
		if prev != nil {
			prev()
		}
	}
	return nil
}

// openStore opens the configured persistence backend.
func openStore(cfg *config.Config) (awareness.Store, error) {
	switch cfg.Store {
	case "badger":
		return awareness.NewBadgerStore(cfg.StorePath())
	case "sqlite":
		return awareness.NewSQLiteStore(cfg.StorePath())
	case "memory":
		return awareness.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// buildEngine opens the store and an engine on top of it. The cleanup
// persists the active context and closes the store.
func buildEngine(eventBus *bus.Bus) (*awareness.Engine, func(), error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	engine := awareness.NewEngine(store, eventBus, cfg.EngineConfig())
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := engine.Close(ctx); err != nil {
			log.Warn().Err(err).Msg("engine close failed")
		}
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("store close failed")
		}
	}
	return engine, cleanup, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// PROCESS COMMAND
// ═══════════════════════════════════════════════════════════════════════════════

func processCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "process [message...]",
		Short: "Run messages through the engine and print what each changed",
		Long: `Process feeds each argument to the engine as one message. With no
arguments it reads messages from stdin, one per line; blank lines and lines
starting with # are skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, cleanup, err := buildEngine(nil)
			if err != nil {
				return err
			}
			defer cleanup()

			messages := args
			if len(messages) == 0 {
				messages, err = readMessageLines(os.Stdin)
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
			}

			enc := json.NewEncoder(os.Stdout)
			for i, text := range messages {
				result, err := engine.ProcessMessage(cmd.Context(), text)
				if err != nil {
					return fmt.Errorf("process message %d: %w", i+1, err)
				}
				if jsonOut {
					if err := enc.Encode(result); err != nil {
						return err
					}
					continue
				}
				printResult(i+1, text, result)
			}
			if !jsonOut {
				printSummary(engine)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit one JSON result per message instead of text")
	return cmd
}

// readMessageLines collects non-blank, non-comment lines.
func readMessageLines(r io.Reader) ([]string, error) {
	var messages []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		messages = append(messages, text)
	}
	return messages, scanner.Err()
}

func printResult(index int, text string, result *awareness.MessageResult) {
	fmt.Printf("[%d] %s\n", index, truncate(text, 72))
	fmt.Printf("    context %s (%s) importance %.2f\n",
		result.ContextName, shortID(result.ContextID), result.Importance)

	if len(result.Entities) > 0 {
		names := make([]string, 0, len(result.Entities))
		for name := range result.Entities {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, 0, len(names))
		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s (%s)", name, result.Entities[name].Type))
		}
		fmt.Printf("    entities %s\n", strings.Join(parts, ", "))
	}

	if len(result.Topics) > 0 {
		fmt.Printf("    topics %s\n", strings.Join(result.Topics, ", "))
	}

	for _, res := range result.Resolutions {
		if res.Resolved() {
			fmt.Printf("    %q refers to %s (%.2f %s)\n",
				res.Token, strings.Join(res.Entities, ", "), res.Confidence, res.Source)
		} else {
			fmt.Printf("    %q unresolved\n", res.Token)
		}
	}

	if sw := result.Switch; sw != nil {
		verb := "resumed"
		if sw.CreatedNew {
			verb = "created"
		}
		fmt.Printf("    switch %s context %s (%s %.2f)\n",
			verb, shortID(sw.NewID), sw.Reason, sw.Confidence)
	}
}

func printSummary(engine *awareness.Engine) {
	active := engine.ActiveContext()
	fmt.Printf("\nsession summary\n")
	fmt.Printf("  active context %s (%s)\n", active.Name, shortID(active.ID))

	entries := engine.History().All()
	fmt.Printf("  %d contexts retained\n", len(entries))

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Importance > entries[j].Importance
	})
	for i, c := range entries {
		if i >= 5 {
			break
		}
		fmt.Printf("  %d. %s (%s) importance %.2f, %d entities, topics %s\n",
			i+1, c.Name, shortID(c.ID), c.Importance, len(c.Entities),
			truncate(strings.Join(c.Topics, ", "), 48))
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// FEED COMMAND
// ═══════════════════════════════════════════════════════════════════════════════

func feedCmd() *cobra.Command {
	var follow bool

	cmd := &cobra.Command{
		Use:   "feed <file>",
		Short: "Stream a transcript file through the engine",
		Long: `Feed processes a transcript file with one message per line. Blank lines
and lines starting with # are skipped. With --follow the file is watched and
appended lines are processed as they settle, until interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, cleanup, err := buildEngine(nil)
			if err != nil {
				return err
			}
			defer cleanup()

			path := args[0]
			count := 0
			// In follow mode a trailing line without a newline is left for
			// the next pass; the writer may still be mid-line.
			offset, err := feedFile(cmd.Context(), engine, path, 0, &count, !follow)
			if err != nil {
				return err
			}
			if !follow {
				fmt.Printf("processed %d messages\n", count)
				printSummary(engine)
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := followFile(ctx, engine, path, offset, &count); err != nil {
				return err
			}
			fmt.Printf("\nprocessed %d messages\n", count)
			printSummary(engine)
			return nil
		},
	}

	cmd.Flags().BoolVar(&follow, "follow", false, "watch the file and process appended lines")
	return cmd
}

// feedFile processes complete lines starting at offset and returns the new
// offset. finalPartial controls whether a trailing unterminated line is
// processed or left for a later pass.
func feedFile(ctx context.Context, engine *awareness.Engine, path string, offset int64, count *int, finalPartial bool) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return offset, err
	}
	defer f.Close()

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return offset, err
		}
	}

	reader := bufio.NewReader(f)
	for {
		line, readErr := reader.ReadString('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return offset, readErr
		}
		complete := readErr == nil
		if !complete && (!finalPartial || line == "") {
			return offset, nil
		}
		offset += int64(len(line))

		if text := strings.TrimSpace(line); text != "" && !strings.HasPrefix(text, "#") {
			result, err := engine.ProcessMessage(ctx, text)
			if err != nil {
				return offset, err
			}
			*count++
			printFeedLine(*count, text, result)
		}
		if !complete {
			return offset, nil
		}
	}
}

func printFeedLine(n int, text string, result *awareness.MessageResult) {
	marker := ""
	if sw := result.Switch; sw != nil {
		if sw.CreatedNew {
			marker = fmt.Sprintf("  [new context %s]", shortID(sw.NewID))
		} else {
			marker = fmt.Sprintf("  [switched to %s]", shortID(sw.NewID))
		}
	}
	fmt.Printf("%4d  %-20s %s%s\n", n, result.ContextName, truncate(text, 56), marker)
}

// followFile watches the transcript and drains appended lines once writes
// settle. Events are debounced so editors that save in bursts trigger one
// read, and a shrinking file restarts the offset from zero.
func followFile(ctx context.Context, engine *awareness.Engine, path string, offset int64, count *int) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory rather than the file: editors that replace the
	// file on save would otherwise kill the watch.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	const debounce = 500 * time.Millisecond
	var lastEvent time.Time

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	fmt.Printf("following %s, ctrl+c to stop\n", path)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			lastEvent = time.Now()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("transcript watch error")

		case <-ticker.C:
			if lastEvent.IsZero() || time.Since(lastEvent) < debounce {
				continue
			}
			lastEvent = time.Time{}

			if fi, err := os.Stat(path); err == nil && fi.Size() < offset {
				log.Info().Str("path", path).Msg("transcript shrank, rereading from start")
				offset = 0
			}
			offset, err = feedFile(ctx, engine, path, offset, count, false)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}
		}
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// REPL COMMAND
// ═══════════════════════════════════════════════════════════════════════════════

func replCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Interactive context-tracking session",
		RunE: func(cmd *cobra.Command, args []string) error {
			// The TUI owns the terminal; logs go to the file instead.
			if err := redirectLogsToFile(); err != nil {
				return err
			}

			// Force TrueColor so the palette renders the same across
			// terminals that under-report their capabilities.
			lipgloss.SetColorProfile(termenv.TrueColor)

			engine, cleanup, err := buildEngine(nil)
			if err != nil {
				return err
			}
			defer cleanup()

			return ui.Run(engine, ui.DefaultOptions())
		},
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// SERVE COMMAND
// ═══════════════════════════════════════════════════════════════════════════════

func serveCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the engine over HTTP with a WebSocket event stream",
		Long: `Serve hosts one engine behind an HTTP surface: POST /message feeds it,
GET /query ranks stored contexts, GET /ws streams engine events over
WebSocket, and GET /healthz reports stream health. Runs until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen != "" {
				cfg.Server.Listen = listen
			}

			eventBus := bus.NewBusWithConfig(cfg.Server.HistoryBuffer, cfg.Server.EventBuffer)
			defer func() {
				if err := eventBus.Close(); err != nil {
					log.Warn().Err(err).Msg("event bus close failed")
				}
			}()

			engine, cleanup, err := buildEngine(eventBus)
			if err != nil {
				return err
			}
			defer cleanup()

			srv := server.New(engine, eventBus, server.Config{Listen: cfg.Server.Listen})
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "host:port to bind (default from config)")
	return cmd
}

// ═══════════════════════════════════════════════════════════════════════════════
// INSPECT COMMAND
// ═══════════════════════════════════════════════════════════════════════════════

func inspectCmd() *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "inspect <context-id>",
		Short: "Render a stored context as a report",
		Long: `Inspect loads one persisted context by ID (unique prefixes work) and
renders it as a markdown report with entities, topics, references, and
lineage. --raw prints the stored JSON record instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			c, err := loadStoredContext(cmd.Context(), store, args[0])
			if err != nil {
				return err
			}

			if raw {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(c)
			}

			markdown := ui.ContextMarkdown(c, loadLineage(cmd.Context(), store, c))
			rendered, err := ui.RenderMarkdown(markdown, 100)
			if err != nil {
				return err
			}
			fmt.Print(rendered)
			return nil
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "print the stored JSON record instead of the report")
	return cmd
}

// loadStoredContext fetches a context by exact ID from either collection,
// then falls back to a unique-prefix scan so the short IDs printed by other
// commands work here.
func loadStoredContext(ctx context.Context, store awareness.Store, id string) (*awareness.Context, error) {
	collections := []awareness.Collection{awareness.CollectionHierarchy, awareness.CollectionHistory}

	for _, col := range collections {
		c, err := store.GetContext(ctx, col, id)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, awareness.ErrKeyNotFound) {
			return nil, err
		}
	}

	var match *awareness.Context
	for _, col := range collections {
		records, err := store.ListContexts(ctx, col)
		if err != nil {
			return nil, err
		}
		for _, c := range records {
			if !strings.HasPrefix(c.ID, id) {
				continue
			}
			if match != nil && match.ID != c.ID {
				return nil, fmt.Errorf("context id %q is ambiguous", id)
			}
			match = c
		}
	}
	if match == nil {
		return nil, fmt.Errorf("context %q not found in %s store", id, cfg.Store)
	}
	return match, nil
}

// loadLineage walks parent links up through the hierarchy collection. A
// missing ancestor truncates the chain.
func loadLineage(ctx context.Context, store awareness.Store, c *awareness.Context) []*awareness.Context {
	var chain []*awareness.Context
	for cur := c; cur.ParentID != ""; {
		parent, err := store.GetContext(ctx, awareness.CollectionHierarchy, cur.ParentID)
		if err != nil {
			break
		}
		chain = append([]*awareness.Context{parent}, chain...)
		cur = parent
	}
	return chain
}

// ═══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
