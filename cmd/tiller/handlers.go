package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/tillerhq/tiller/internal/agent"
	"github.com/tillerhq/tiller/internal/agent/providers"
	"github.com/tillerhq/tiller/internal/catalog"
	"github.com/tillerhq/tiller/internal/config"
	"github.com/tillerhq/tiller/internal/observability"
)

type chatOptions struct {
	configPath    string
	modelID       string
	system        string
	prompt        string
	maxIterations int
	debug         bool
}

// runChat wires the full stack for one task: config, catalog, providers,
// tools, runtime, then streams the run to stdout.
func runChat(ctx context.Context, opts chatOptions) error {
	level := slog.LevelInfo
	if opts.debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}

	cat, provs, err := buildProviders(cfg)
	if err != nil {
		return err
	}

	registry := agent.NewToolRegistry()
	for _, tool := range builtinTools() {
		if disabled(cfg, tool.Name()) {
			continue
		}
		if err := registry.Register(tool); err != nil {
			return err
		}
	}

	rt, err := agent.NewRuntime(agent.RuntimeConfig{
		Catalog:          cat,
		Registry:         registry,
		Providers:        provs,
		CompletionMarker: cfg.CompletionMarker,
		MaxIterations:    cfg.MaxIterations,
		ToolTimeout:      cfg.ToolTimeout,
		Logger:           logger,
		Metrics:          observability.NewMetrics(nil),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	modelID := opts.modelID
	if modelID == "" {
		modelID = cfg.DefaultModel
	}

	updates, err := rt.Stream(ctx, &agent.RunRequest{
		ModelID:       modelID,
		System:        opts.system,
		Prompt:        opts.prompt,
		MaxIterations: opts.maxIterations,
	})
	if err != nil {
		return err
	}

	var result *agent.RunResult
	for u := range updates {
		switch {
		case u.Text != "":
			fmt.Print(u.Text)
		case u.ToolCall != nil:
			fmt.Fprintf(os.Stderr, "\n→ %s %s\n", u.ToolCall.Name, u.ToolCall.Input)
		case u.ToolResult != nil && u.ToolResult.IsError:
			fmt.Fprintf(os.Stderr, "  ✗ %s\n", u.ToolResult.Text())
		case u.Result != nil:
			result = u.Result
		}
	}
	fmt.Println()

	if result == nil {
		return fmt.Errorf("run produced no result")
	}
	switch result.StopReason {
	case agent.StopDone:
		return nil
	case agent.StopCanceled:
		fmt.Fprintln(os.Stderr, "Canceled.")
		return nil
	default:
		return fmt.Errorf("run ended (%s): %s", result.StopReason, result.Note)
	}
}

func runModels(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cat, _, err := buildProviders(cfg)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tVENDOR\tCONTEXT\tVISION\tTOOLS")
	for _, m := range cat.List() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%v\t%v\n",
			m.ID, m.Name, m.Vendor, m.MaxInputTokens, m.SupportsVision, m.NativeToolCalling)
	}
	return w.Flush()
}

// buildProviders constructs the catalog and the adapter for every vendor
// with credentials. Vendors without credentials are simply absent; selecting
// one of their models fails with a clear error at run start.
func buildProviders(cfg *config.Config) (*catalog.Catalog, map[catalog.Vendor]providers.ChatProvider, error) {
	cat := catalog.Builtin()
	provs := map[catalog.Vendor]providers.ChatProvider{}

	if key := cfg.Providers.Anthropic.APIKey; key != "" {
		p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{APIKey: key})
		if err != nil {
			return nil, nil, err
		}
		provs[catalog.VendorAnthropic] = p
	}
	if key := cfg.Providers.OpenAI.APIKey; key != "" {
		p, err := providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:  key,
			BaseURL: cfg.Providers.OpenAI.BaseURL,
		})
		if err != nil {
			return nil, nil, err
		}
		provs[catalog.VendorOpenAI] = p
	}
	if key := cfg.Providers.Google.APIKey; key != "" {
		p, err := providers.NewGoogleProvider(providers.GoogleConfig{APIKey: key})
		if err != nil {
			return nil, nil, err
		}
		provs[catalog.VendorGoogle] = p
	}
	if local := cfg.Providers.Local; local.Model != "" {
		provs[catalog.VendorLocal] = providers.NewLocalServerProvider(providers.LocalServerConfig{
			BaseURL:     local.BaseURL,
			NativeTools: local.NativeTools,
		})
		contextWindow := local.ContextWindow
		if contextWindow <= 0 {
			contextWindow = 8192
		}
		cat.Register(catalog.Model{
			ID:                local.Model,
			Name:              local.Model,
			Vendor:            catalog.VendorLocal,
			MaxInputTokens:    contextWindow,
			MaxOutputTokens:   contextWindow / 2,
			NativeToolCalling: local.NativeTools,
		})
	}

	if len(provs) == 0 {
		return nil, nil, fmt.Errorf("no provider configured; set an API key or a local model (see tiller.yaml)")
	}

	if cfg.DefaultModel != "" {
		if err := cat.SetDefault(cfg.DefaultModel); err != nil {
			return nil, nil, err
		}
	}

	return cat, provs, nil
}

func disabled(cfg *config.Config, name string) bool {
	for _, d := range cfg.DisabledTools {
		if d == name {
			return true
		}
	}
	return false
}
