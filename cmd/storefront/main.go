// Storefront is a command-line harness that connects a language model to
// an MCP tool server and lets it answer questions with the server's
// tools.
//
// Configuration is loaded from a YAML file discovered automatically (see
// [config.DefaultSearchPaths]); without one, defaults and environment
// variables are used. A .env file in the working directory is loaded
// first.
//
// Usage:
//
//	storefront ask <question>    Answer one question and exit
//	storefront chat              Interactive question loop
//	storefront tools             List the tool server's tools
//	storefront history [id]      List archived conversations, or show one
//	storefront usage [days]      Token usage and cost summary
//	storefront init [dir]        Write a starter config and .env.example
//	storefront version           Print version and build information
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"

	"github.com/nugget/storefront-mcp/internal/agent"
	"github.com/nugget/storefront-mcp/internal/buildinfo"
	"github.com/nugget/storefront-mcp/internal/config"
	"github.com/nugget/storefront-mcp/internal/lifecycle"
	"github.com/nugget/storefront-mcp/internal/llm"
	"github.com/nugget/storefront-mcp/internal/mcp"
	"github.com/nugget/storefront-mcp/internal/transcript"
	"github.com/nugget/storefront-mcp/internal/usage"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:])
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// options are the global flags shared by every subcommand.
type options struct {
	configPath string
	serverPath string
	outputFmt  string
}

// run is the real entry point. OS-level dependencies are injected so
// tests can drive whole commands. Logs go to stderr; answers and
// listings go to stdout.
func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	var opts options
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			opts.configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			opts.configPath = strings.TrimPrefix(args[i], "-config=")
		case args[i] == "-server" && i+1 < len(args):
			opts.serverPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-server="):
			opts.serverPath = strings.TrimPrefix(args[i], "-server=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			opts.outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			opts.outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			opts.outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if opts.outputFmt == "" {
		opts.outputFmt = "text"
	}
	if opts.outputFmt != "text" && opts.outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", opts.outputFmt)
	}

	switch command {
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: storefront ask <question>")
		}
		return runAsk(ctx, stdout, stderr, opts, strings.Join(cmdArgs, " "))
	case "chat":
		return runChat(ctx, stdin, stdout, stderr, opts)
	case "tools":
		return runTools(ctx, stdout, stderr, opts)
	case "history":
		id := ""
		if len(cmdArgs) > 0 {
			id = cmdArgs[0]
		}
		return runHistory(ctx, stdout, stderr, opts, id)
	case "usage":
		days := 1
		if len(cmdArgs) > 0 {
			n, err := strconv.Atoi(cmdArgs[0])
			if err != nil || n <= 0 {
				return fmt.Errorf("usage: storefront usage [days]")
			}
			days = n
		}
		return runUsage(stdout, stderr, opts, days)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, opts.outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.BuildInfo()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Storefront - MCP tool harness for BigCommerce")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: storefront [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  ask <question>  Answer one question and exit")
	fmt.Fprintln(w, "  chat            Interactive question loop (quit to exit)")
	fmt.Fprintln(w, "  tools           List the tool server's tools")
	fmt.Fprintln(w, "  history [id]    List archived conversations, or show one")
	fmt.Fprintln(w, "  usage [days]    Token usage and cost summary (default: 1 day)")
	fmt.Fprintln(w, "  init [dir]      Write starter config files (default: .)")
	fmt.Fprintln(w, "  version         Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -server <script>  Tool server script, .py or .js (overrides server.script)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./storefront.yaml, ~/.config/storefront/config.yaml, /etc/storefront/config.yaml")
	return nil
}

// env is everything a session-using command needs, torn down by close.
type env struct {
	client *agent.Client
	close  func()
}

// setup loads configuration, builds the model client and stores, and
// connects a harness client to the tool server.
func setup(ctx context.Context, stderr io.Writer, opts options) (*env, error) {
	cfg, logger, err := loadEnvironment(stderr, opts.configPath)
	if err != nil {
		return nil, err
	}

	script := cfg.Server.Script
	if opts.serverPath != "" {
		script = opts.serverPath
	}
	if script == "" {
		return nil, errors.New("no tool server configured (set server.script or pass -server)")
	}

	model, err := newModelClient(cfg, logger)
	if err != nil {
		return nil, err
	}

	registry := lifecycle.Default()
	stopHook := registry.ExitHook(ctx, os.Interrupt, syscall.SIGTERM)

	var closers []func()
	loopCfg := agent.LoopConfig{
		Model:        cfg.LLM.Model,
		MaxTokens:    cfg.LLM.MaxTokens,
		MaxRounds:    cfg.Agent.MaxRounds,
		ModelTimeout: cfg.Agent.ModelTimeout,
		ToolTimeout:  cfg.Agent.ToolTimeout,
		SystemPrompt: cfg.Agent.SystemPrompt,
		Include:      cfg.Server.Include,
		Exclude:      cfg.Server.Exclude,
		Logger:       logger,
	}
	if cfg.DataDir != "" {
		archive, ledger, err := openStores(cfg)
		if err != nil {
			stopHook()
			return nil, err
		}
		loopCfg.Recorder = archive
		loopCfg.Usage = ledger
		closers = append(closers, func() { archive.Close() }, func() { ledger.Close() })
	}

	session := mcp.NewSession(mcp.SessionConfig{
		Python:         cfg.Server.Python,
		Node:           cfg.Server.Node,
		Env:            cfg.Server.Env,
		ConnectTimeout: cfg.Server.ConnectTimeout,
		Logger:         logger,
	})
	client := agent.NewClient(model, session, agent.ClientConfig{
		Loop:     loopCfg,
		Registry: registry,
		Logger:   logger,
	})

	teardown := func() {
		client.Close()
		stopHook()
		for _, c := range closers {
			c()
		}
	}

	if err := client.Connect(ctx, script); err != nil {
		teardown()
		return nil, fmt.Errorf("connect to %s: %w", script, err)
	}

	return &env{client: client, close: teardown}, nil
}

func runAsk(ctx context.Context, stdout, stderr io.Writer, opts options, question string) error {
	e, err := setup(ctx, stderr, opts)
	if err != nil {
		return err
	}
	defer e.close()

	msgs, err := e.client.ProcessQuery(ctx, question)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}
	return printAnswer(stdout, opts.outputFmt, msgs)
}

func runChat(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, opts options) error {
	e, err := setup(ctx, stderr, opts)
	if err != nil {
		return err
	}
	defer e.close()

	fmt.Fprintln(stdout, "Connected. Type your questions, or quit to exit.")

	lines := make(chan string)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
	}()

	for {
		fmt.Fprint(stdout, "\nQuery: ")

		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(stdout)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(stdout)
				return nil
			}
			line = strings.TrimSpace(l)
		}

		switch strings.ToLower(line) {
		case "":
			continue
		case "quit", "exit":
			return nil
		}

		msgs, err := e.client.ProcessQuery(ctx, line)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(stdout, "\nError: %v\n", err)
			continue
		}
		fmt.Fprintln(stdout)
		if err := printAnswer(stdout, opts.outputFmt, msgs); err != nil {
			return err
		}
	}
}

func runTools(ctx context.Context, stdout, stderr io.Writer, opts options) error {
	e, err := setup(ctx, stderr, opts)
	if err != nil {
		return err
	}
	defer e.close()

	tools, err := e.client.Tools()
	if err != nil {
		return err
	}
	if opts.outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(tools)
	}
	for _, t := range tools {
		fmt.Fprintf(stdout, "%-32s %s\n", t.Name, firstLine(t.Description))
	}
	return nil
}

func runHistory(ctx context.Context, stdout, stderr io.Writer, opts options, id string) error {
	cfg, _, err := loadEnvironment(stderr, opts.configPath)
	if err != nil {
		return err
	}
	if cfg.DataDir == "" {
		return errors.New("history needs data_dir in the config")
	}
	archive, err := transcript.NewStore(filepath.Join(cfg.DataDir, "transcripts.db"))
	if err != nil {
		return err
	}
	defer archive.Close()

	if id != "" {
		msgs, err := archive.Messages(ctx, id)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			return fmt.Errorf("no conversation %s", id)
		}
		return printTranscript(stdout, opts.outputFmt, msgs)
	}

	recent, err := archive.Recent(ctx, 20)
	if err != nil {
		return err
	}
	if opts.outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(recent)
	}
	for _, c := range recent {
		fmt.Fprintf(stdout, "%s  %-16s  %d messages\n", c.ID, humanize.Time(c.UpdatedAt), c.Messages)
	}
	return nil
}

func runUsage(stdout, stderr io.Writer, opts options, days int) error {
	cfg, _, err := loadEnvironment(stderr, opts.configPath)
	if err != nil {
		return err
	}
	if cfg.DataDir == "" {
		return errors.New("usage needs data_dir in the config")
	}
	ledger, err := usage.NewStore(filepath.Join(cfg.DataDir, "usage.db"), cfg.Pricing)
	if err != nil {
		return err
	}
	defer ledger.Close()

	now := time.Now()
	start, end := now.AddDate(0, 0, -days), now.Add(time.Minute)
	total, err := ledger.Summary(start, end)
	if err != nil {
		return err
	}
	byModel, err := ledger.SummaryByModel(start, end)
	if err != nil {
		return err
	}

	if opts.outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"days": days, "total": total, "by_model": byModel})
	}
	fmt.Fprintf(stdout, "Last %d day(s): %d calls, %s in / %s out tokens, $%.4f\n",
		days, total.TotalRecords,
		humanize.Comma(total.TotalInputTokens), humanize.Comma(total.TotalOutputTokens),
		total.TotalCostUSD)
	models := make([]string, 0, len(byModel))
	for model := range byModel {
		models = append(models, model)
	}
	sort.Strings(models)
	for _, model := range models {
		s := byModel[model]
		fmt.Fprintf(stdout, "  %-40s %5d calls  %12s tokens  $%.4f\n", model, s.TotalRecords,
			humanize.Comma(s.TotalInputTokens+s.TotalOutputTokens), s.TotalCostUSD)
	}
	return nil
}

// loadEnvironment loads .env, then the config file (or defaults when no
// file exists and none was named), and builds the logger.
func loadEnvironment(stderr io.Writer, explicit string) (*config.Config, *slog.Logger, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, nil, fmt.Errorf("load .env: %w", err)
	}

	cfg, cfgPath, err := loadConfig(explicit)
	if err != nil {
		return nil, nil, err
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	logger := config.NewLogger(stderr, level, cfg.LogFormat)
	if cfgPath != "" {
		logger.Debug("config loaded", "path", cfgPath)
	}
	return cfg, logger, nil
}

// loadConfig locates and parses the YAML configuration. An explicit path
// must exist; with no explicit path and no file found, defaults apply.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, "", err
		}
		cfg := config.Default()
		if err := cfg.Validate(); err != nil {
			return nil, "", err
		}
		return cfg, "", nil
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

// newModelClient builds the model client: the configured provider
// answers every model, except those llm.models routes elsewhere.
func newModelClient(cfg *config.Config, logger *slog.Logger) (llm.Client, error) {
	build := func(provider, apiKey, baseURL string) (llm.Client, error) {
		switch provider {
		case config.ProviderOpenRouter:
			if apiKey == "" {
				apiKey = os.Getenv("OPENROUTER_API_KEY")
			}
			if apiKey == "" {
				return nil, errors.New("no OpenRouter API key (set OPENROUTER_API_KEY or llm.api_key)")
			}
			return llm.NewOpenRouterClient(apiKey, baseURL, logger), nil
		case config.ProviderAnthropic:
			if apiKey == "" {
				apiKey = os.Getenv("ANTHROPIC_API_KEY")
			}
			if apiKey == "" {
				return nil, errors.New("no Anthropic API key (set ANTHROPIC_API_KEY or llm.api_key)")
			}
			return llm.NewAnthropicClient(apiKey, baseURL, logger), nil
		default:
			return nil, fmt.Errorf("unknown provider %q", provider)
		}
	}

	primary, err := build(cfg.LLM.Provider, cfg.LLM.APIKey, cfg.LLM.BaseURL)
	if err != nil {
		return nil, err
	}
	router := llm.NewRouter(cfg.LLM.Provider, primary, logger)
	for model, provider := range cfg.LLM.Models {
		if !router.HasProvider(provider) {
			client, err := build(provider, "", "")
			if err != nil {
				return nil, fmt.Errorf("llm.models[%s]: %w", model, err)
			}
			router.AddProvider(provider, client)
		}
		if err := router.Route(model, provider); err != nil {
			return nil, err
		}
	}

	logger.Debug("model client ready",
		"provider", router.ProviderFor(cfg.LLM.Model),
		"model", cfg.LLM.Model,
		"routes", len(cfg.LLM.Models),
	)
	return router, nil
}

func openStores(cfg *config.Config) (*transcript.Store, *usage.Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create data dir: %w", err)
	}
	archive, err := transcript.NewStore(filepath.Join(cfg.DataDir, "transcripts.db"))
	if err != nil {
		return nil, nil, err
	}
	ledger, err := usage.NewStore(filepath.Join(cfg.DataDir, "usage.db"), cfg.Pricing)
	if err != nil {
		archive.Close()
		return nil, nil, err
	}
	return archive, ledger, nil
}

// printAnswer writes the final assistant message, or the whole
// transcript in JSON mode.
func printAnswer(w io.Writer, outputFmt string, msgs []llm.Message) error {
	if outputFmt == "json" {
		return printTranscript(w, outputFmt, msgs)
	}
	if n := len(msgs); n > 0 && msgs[n-1].Role == llm.RoleAssistant {
		fmt.Fprintln(w, msgs[n-1].Content)
	}
	return nil
}

func printTranscript(w io.Writer, outputFmt string, msgs []llm.Message) error {
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(msgs)
	}
	for _, m := range msgs {
		switch {
		case len(m.ToolCalls) > 0:
			for _, tc := range m.ToolCalls {
				fmt.Fprintf(w, "[%s] calling %s %s\n", m.Role, tc.Function.Name, tc.Function.Arguments)
			}
		case m.Role == llm.RoleTool:
			fmt.Fprintf(w, "[tool %s] %s\n", m.ToolCallID, m.Content)
		default:
			fmt.Fprintf(w, "[%s] %s\n", m.Role, m.Content)
		}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
