package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tillerhq/tiller/internal/agent/providers"
	"github.com/tillerhq/tiller/internal/catalog"
	"github.com/tillerhq/tiller/internal/observability"
	"github.com/tillerhq/tiller/pkg/models"
)

// StopReason explains why a run ended.
type StopReason string

const (
	// StopDone means the model emitted the completion marker.
	StopDone StopReason = "done"

	// StopSilence means the model twice produced a response with neither a
	// tool call nor the completion marker.
	StopSilence StopReason = "silence"

	// StopRepetition means the model kept issuing the same tool call.
	StopRepetition StopReason = "repetition"

	// StopIterationLimit means the loop hit its iteration bound.
	StopIterationLimit StopReason = "iteration_limit"

	// StopCanceled means the caller canceled the run.
	StopCanceled StopReason = "canceled"

	// StopError means a provider failure ended the run.
	StopError StopReason = "error"
)

const (
	// DefaultMaxIterations bounds a run unless the request overrides it.
	DefaultMaxIterations = 25

	// MaxIterationsCeiling is the hard upper bound on the override.
	MaxIterationsCeiling = 100

	// DefaultCompletionMarker is the literal the model is instructed to
	// emit when it considers the task finished.
	DefaultCompletionMarker = "[TASK_COMPLETE]"

	// repetitionWindow is how many recent tool call keys are remembered.
	repetitionWindow = 6

	// repetitionLimit aborts the loop when one key reaches this count
	// inside the window.
	repetitionLimit = 3

	// silenceLimit aborts the loop at this many consecutive responses
	// without a tool call or completion marker.
	silenceLimit = 2
)

const nudgeMessage = "You responded without calling a tool and without the completion marker. " +
	"Either call a tool to make progress, or finish your answer and end it with the completion marker."

// RunRequest describes one agent invocation.
type RunRequest struct {
	// ModelID selects the model; empty uses the catalog default.
	ModelID string

	// System is the base system prompt. The runtime appends its own
	// completion-marker instruction.
	System string

	// Prompt is the user's task. It is appended to Messages as a user
	// message when non-empty.
	Prompt string

	// Messages is prior conversation history, oldest first.
	Messages []models.ChatMessage

	// MaxIterations overrides DefaultMaxIterations, capped at
	// MaxIterationsCeiling. Zero keeps the default.
	MaxIterations int

	// MaxTokens caps each response; zero uses the model's catalog
	// MaxOutputTokens.
	MaxTokens int

	// DisabledTools names registered tools withheld from this run. They
	// stay in the registry for other runs.
	DisabledTools []string
}

// Update is one unit of run progress delivered to the caller. Exactly one
// field group is set; Result arrives last, exactly once.
type Update struct {
	Text       string
	Thinking   string
	ToolCall   *models.ToolCall
	ToolResult *models.ToolResult
	Result     *RunResult
}

// RunResult is the terminal outcome of a run.
type RunResult struct {
	StopReason StopReason

	// Text is the model's final visible answer, completion marker removed.
	Text string

	// Note carries the user-visible explanation for aborted runs and the
	// guidance for failed ones.
	Note string

	// Messages is the conversation as it stood at the end, including
	// everything the run appended.
	Messages []models.ChatMessage

	Iterations   int
	ToolCalls    int
	InputTokens  int
	OutputTokens int
}

// Runtime drives the agent loop: request the model, execute its tool calls,
// feed results back, repeat until the completion marker or a guard rail.
type Runtime struct {
	catalog   *catalog.Catalog
	registry  *ToolRegistry
	gateway   *ToolGateway
	providers map[catalog.Vendor]providers.ChatProvider

	marker           string
	maxIterations    int
	throttleInterval time.Duration

	logger  *slog.Logger
	metrics *observability.Metrics
}

// RuntimeConfig configures a Runtime.
type RuntimeConfig struct {
	Catalog  *catalog.Catalog
	Registry *ToolRegistry

	// Providers maps each vendor to its adapter. A model whose vendor has
	// no entry cannot be run.
	Providers map[catalog.Vendor]providers.ChatProvider

	// CompletionMarker overrides DefaultCompletionMarker.
	CompletionMarker string

	// MaxIterations overrides DefaultMaxIterations as the runtime-wide
	// default, capped at MaxIterationsCeiling.
	MaxIterations int

	// ToolTimeout bounds each tool execution; zero uses DefaultToolTimeout.
	ToolTimeout time.Duration

	// ThrottleInterval batches streamed text updates; zero uses 100ms.
	ThrottleInterval time.Duration

	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// NewRuntime creates a Runtime.
func NewRuntime(cfg RuntimeConfig) (*Runtime, error) {
	if cfg.Catalog == nil {
		return nil, errors.New("agent: catalog is required")
	}
	if cfg.Registry == nil {
		cfg.Registry = NewToolRegistry()
	}
	if len(cfg.Providers) == 0 {
		return nil, errors.New("agent: at least one provider is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	marker := cfg.CompletionMarker
	if marker == "" {
		marker = DefaultCompletionMarker
	}

	return &Runtime{
		catalog:          cfg.Catalog,
		registry:         cfg.Registry,
		gateway:          NewToolGateway(cfg.Registry, cfg.ToolTimeout, logger, cfg.Metrics),
		providers:        cfg.Providers,
		marker:           marker,
		maxIterations:    clampIterations(cfg.MaxIterations),
		throttleInterval: cfg.ThrottleInterval,
		logger:           logger,
		metrics:          cfg.Metrics,
	}, nil
}

func clampIterations(n int) int {
	if n <= 0 {
		return DefaultMaxIterations
	}
	if n > MaxIterationsCeiling {
		return MaxIterationsCeiling
	}
	return n
}

// Stream starts a run and returns the update channel. The channel is closed
// after the terminal Update carrying the RunResult. A non-nil error means the
// run never started: nil request, unknown model, or no adapter for the
// model's vendor. Everything that goes wrong after that arrives as a
// RunResult instead.
func (rt *Runtime) Stream(ctx context.Context, req *RunRequest) (<-chan Update, error) {
	if req == nil {
		return nil, errors.New("agent: request is nil")
	}

	model, provider, err := rt.resolve(req.ModelID)
	if err != nil {
		return nil, err
	}

	updates := make(chan Update, 16)
	go func() {
		defer close(updates)
		runID := uuid.NewString()
		ctx := observability.WithRunID(ctx, runID)
		result := rt.run(ctx, req, model, provider, updates)
		if rt.metrics != nil {
			rt.metrics.RunCompletionCounter.WithLabelValues(string(result.StopReason)).Inc()
		}
		rt.logger.Info("run finished",
			"run_id", runID,
			"stop_reason", result.StopReason,
			"iterations", result.Iterations,
			"tool_calls", result.ToolCalls)
		updates <- Update{Result: result}
	}()

	return updates, nil
}

// Run executes the full loop and returns only the terminal result.
func (rt *Runtime) Run(ctx context.Context, req *RunRequest) (*RunResult, error) {
	updates, err := rt.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	var result *RunResult
	for u := range updates {
		if u.Result != nil {
			result = u.Result
		}
	}
	if result == nil {
		return nil, errors.New("agent: run produced no result")
	}
	return result, nil
}

func (rt *Runtime) resolve(modelID string) (catalog.Model, providers.ChatProvider, error) {
	var model catalog.Model
	var ok bool
	if modelID == "" {
		model, ok = rt.catalog.Default()
		if !ok {
			return catalog.Model{}, nil, errors.New("agent: catalog has no default model")
		}
	} else {
		model, ok = rt.catalog.Lookup(modelID)
		if !ok {
			return catalog.Model{}, nil, fmt.Errorf("agent: unknown model %q", modelID)
		}
	}
	provider, ok := rt.providers[model.Vendor]
	if !ok {
		return catalog.Model{}, nil, fmt.Errorf("agent: no provider configured for vendor %q", model.Vendor)
	}
	return model, provider, nil
}

// iterationOutput is what one model request produced once its stream ended.
type iterationOutput struct {
	text         string
	calls        []models.ToolCall
	inputTokens  int
	outputTokens int
}

func (rt *Runtime) run(ctx context.Context, req *RunRequest, model catalog.Model, provider providers.ChatProvider, updates chan<- Update) *RunResult {
	history := append([]models.ChatMessage{}, req.Messages...)
	if req.Prompt != "" {
		history = append(history, models.UserText(req.Prompt))
	}

	maxIterations := rt.maxIterations
	if req.MaxIterations > 0 {
		maxIterations = clampIterations(req.MaxIterations)
	}

	system := rt.buildSystemPrompt(req.System)
	compactor := NewCompactor(provider, rt.logger, rt.metrics)

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = model.MaxOutputTokens
	}

	result := &RunResult{}
	finish := func(reason StopReason, text, note string) *RunResult {
		result.StopReason = reason
		result.Text = text
		result.Note = note
		result.Messages = history
		return result
	}

	silenceCount := 0
	retriedWithoutTools := false
	window := newCallWindow(repetitionWindow)

	for iteration := 1; iteration <= maxIterations; iteration++ {
		if ctx.Err() != nil {
			return finish(StopCanceled, "", "run canceled")
		}
		result.Iterations = iteration

		history = compactor.MaybeCompact(ctx, history, model.ID, model.MaxInputTokens)

		var tools []models.ToolDefinition
		if provider.SupportsTools() && !retriedWithoutTools {
			tools = filterDisabledTools(rt.registry.Definitions(model), req.DisabledTools)
		}

		output, err := rt.streamIteration(ctx, provider, model, system, history, tools, maxTokens, updates)
		if err != nil {
			if providers.IsCanceled(err) || ctx.Err() != nil {
				return finish(StopCanceled, "", "run canceled")
			}
			if providers.IsInvalidRequest(err) && len(tools) > 0 && !retriedWithoutTools {
				rt.logger.Warn("provider rejected tools-enabled request, retrying without tools", "error", err)
				retriedWithoutTools = true
				iteration--
				continue
			}
			note := err.Error()
			if pe, ok := providers.GetProviderError(err); ok {
				note = pe.Guidance()
			}
			return finish(StopError, "", note)
		}

		result.InputTokens += output.inputTokens
		result.OutputTokens += output.outputTokens

		history = appendAssistantMessage(history, output)

		if len(output.calls) == 0 {
			if text, done := stripMarker(output.text, rt.marker); done {
				return finish(StopDone, strings.TrimSpace(text), "")
			}
			silenceCount++
			if silenceCount >= silenceLimit {
				return finish(StopSilence, strings.TrimSpace(output.text),
					"the model stopped responding productively")
			}
			history = append(history, models.UserText(nudgeMessage))
			continue
		}

		silenceCount = 0

		for _, call := range output.calls {
			window.add(callKey(call))
		}
		if key, hit := window.repeated(repetitionLimit); hit {
			rt.logger.Warn("repetition guard tripped", "call_key", key)
			return finish(StopRepetition, "",
				"the model kept repeating the same tool call and the run was stopped")
		}

		for i := range output.calls {
			updates <- Update{ToolCall: &output.calls[i]}
		}

		results, images := rt.gateway.Dispatch(ctx, output.calls)
		result.ToolCalls += len(output.calls)

		for i := range results {
			updates <- Update{ToolResult: &results[i]}
		}

		history = append(history, toolResultMessage(results, images, model.SupportsVision))
	}

	return finish(StopIterationLimit, "",
		fmt.Sprintf("the run was stopped after %d iterations without completing", maxIterations))
}

// streamIteration issues one model request and consumes its stream, relaying
// throttled text to the caller and collecting the full output.
func (rt *Runtime) streamIteration(ctx context.Context, provider providers.ChatProvider, model catalog.Model, system string, history []models.ChatMessage, tools []models.ToolDefinition, maxTokens int, updates chan<- Update) (*iterationOutput, error) {
	request := &providers.ChatRequest{
		Model:     model.ID,
		System:    system,
		Messages:  history,
		Tools:     tools,
		MaxTokens: maxTokens,
	}

	start := time.Now()
	stream, err := provider.Stream(ctx, request)
	if err != nil {
		rt.countRequest(provider.Vendor(), model.ID, "error")
		return nil, err
	}

	throttle := newDeltaThrottler(rt.throttleInterval)
	thinkThrottle := newDeltaThrottler(rt.throttleInterval)
	filter := newMarkerFilter(rt.marker)
	output := &iterationOutput{}
	var text strings.Builder
	calls := map[string]int{}

	emit := func(chunk string) {
		if chunk = filter.feed(chunk); chunk != "" {
			if batch := throttle.Add(chunk); batch != "" {
				updates <- Update{Text: batch}
			}
		}
	}

	for ev := range stream.Events() {
		switch {
		case ev.Done:
			output.inputTokens = ev.InputTokens
			output.outputTokens = ev.OutputTokens
		case ev.ToolCall != nil:
			// Finalized calls can arrive more than once from lenient
			// local servers; keep the first per ID.
			if _, seen := calls[ev.ToolCall.ID]; !seen {
				calls[ev.ToolCall.ID] = len(output.calls)
				output.calls = append(output.calls, *ev.ToolCall)
			}
		case ev.Thinking != "":
			if batch := thinkThrottle.Add(ev.Thinking); batch != "" {
				updates <- Update{Thinking: batch}
			}
		case ev.Text != "":
			text.WriteString(ev.Text)
			emit(ev.Text)
		}
	}

	if remainder := filter.flush(); remainder != "" {
		throttle.Add(remainder)
	}
	if batch := throttle.Flush(); batch != "" {
		updates <- Update{Text: batch}
	}
	if batch := thinkThrottle.Flush(); batch != "" {
		updates <- Update{Thinking: batch}
	}

	elapsed := time.Since(start)
	if err := stream.Err(); err != nil {
		rt.countRequest(provider.Vendor(), model.ID, "error")
		return nil, err
	}

	rt.countRequest(provider.Vendor(), model.ID, "success")
	if rt.metrics != nil {
		rt.metrics.ModelRequestDuration.WithLabelValues(provider.Vendor(), model.ID).Observe(elapsed.Seconds())
		rt.metrics.ModelTokensUsed.WithLabelValues(provider.Vendor(), model.ID, "input").Add(float64(output.inputTokens))
		rt.metrics.ModelTokensUsed.WithLabelValues(provider.Vendor(), model.ID, "output").Add(float64(output.outputTokens))
	}

	output.text = text.String()
	return output, nil
}

func (rt *Runtime) countRequest(vendor, model, status string) {
	if rt.metrics != nil {
		rt.metrics.ModelRequestCounter.WithLabelValues(vendor, model, status).Inc()
	}
}

func (rt *Runtime) buildSystemPrompt(base string) string {
	instruction := fmt.Sprintf(
		"When the task is complete, end your final message with the exact text %s on its own.",
		rt.marker)
	if base == "" {
		return instruction
	}
	return base + "\n\n" + instruction
}

// appendAssistantMessage records the model's turn. An assistant message is
// never appended empty: a turn with neither text nor calls contributes
// nothing worth replaying.
func appendAssistantMessage(history []models.ChatMessage, output *iterationOutput) []models.ChatMessage {
	var parts []models.ContentPart
	if output.text != "" {
		parts = append(parts, models.TextPart(output.text))
	}
	for _, call := range output.calls {
		parts = append(parts, models.ToolUsePart(call))
	}
	if len(parts) == 0 {
		return history
	}
	return append(history, models.ChatMessage{Role: models.RoleAssistant, Parts: parts})
}

// toolResultMessage packs the batch's results into one user message. Images
// extracted by the gateway ride along when the model can see them.
func toolResultMessage(results []models.ToolResult, images []models.ContentPart, vision bool) models.ChatMessage {
	parts := make([]models.ContentPart, 0, len(results)+len(images))
	for _, r := range results {
		parts = append(parts, models.ToolResultPart(r))
	}
	if vision {
		parts = append(parts, images...)
	}
	return models.ChatMessage{Role: models.RoleUser, Parts: parts}
}

// stripMarker reports whether text contains the completion marker and
// returns the text with it removed.
func stripMarker(text, marker string) (string, bool) {
	if !strings.Contains(text, marker) {
		return text, false
	}
	return strings.ReplaceAll(text, marker, ""), true
}

// filterDisabledTools drops the definitions named in disabled.
func filterDisabledTools(defs []models.ToolDefinition, disabled []string) []models.ToolDefinition {
	if len(disabled) == 0 {
		return defs
	}
	kept := defs[:0]
	for _, def := range defs {
		off := false
		for _, name := range disabled {
			if def.Name == name {
				off = true
				break
			}
		}
		if !off {
			kept = append(kept, def)
		}
	}
	return kept
}

// callKey identifies a tool call for the repetition guard: same name and
// same canonicalized input means the same call.
func callKey(call models.ToolCall) string {
	input := call.Input
	var compact bytes.Buffer
	if err := json.Compact(&compact, input); err == nil {
		input = compact.Bytes()
	}
	return call.Name + "\x00" + string(input)
}

// callWindow is the repetition guard's bounded memory of recent call keys.
type callWindow struct {
	keys []string
	size int
}

func newCallWindow(size int) *callWindow {
	return &callWindow{size: size}
}

func (w *callWindow) add(key string) {
	w.keys = append(w.keys, key)
	if len(w.keys) > w.size {
		w.keys = w.keys[len(w.keys)-w.size:]
	}
}

// repeated returns a key that occurs at least limit times in the window.
func (w *callWindow) repeated(limit int) (string, bool) {
	counts := map[string]int{}
	for _, k := range w.keys {
		counts[k]++
		if counts[k] >= limit {
			return k, true
		}
	}
	return "", false
}

// markerFilter removes the completion marker from streamed text without
// leaking a partial marker across chunk boundaries. It holds back any chunk
// suffix that could be the start of the marker until the next chunk decides.
type markerFilter struct {
	marker string
	held   string
}

func newMarkerFilter(marker string) *markerFilter {
	return &markerFilter{marker: marker}
}

func (f *markerFilter) feed(chunk string) string {
	if f.marker == "" {
		return chunk
	}
	buf := f.held + chunk
	buf = strings.ReplaceAll(buf, f.marker, "")

	// Hold back the longest tail that prefixes the marker.
	hold := 0
	maxHold := len(f.marker) - 1
	if maxHold > len(buf) {
		maxHold = len(buf)
	}
	for n := maxHold; n > 0; n-- {
		if strings.HasPrefix(f.marker, buf[len(buf)-n:]) {
			hold = n
			break
		}
	}
	f.held = buf[len(buf)-hold:]
	return buf[:len(buf)-hold]
}

func (f *markerFilter) flush() string {
	out := f.held
	f.held = ""
	return out
}
