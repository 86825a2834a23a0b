package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/carbon-run/agentcore/pkg/ai"
	"github.com/carbon-run/agentcore/pkg/budget"
	"github.com/carbon-run/agentcore/pkg/cancel"
	pkgcontext "github.com/carbon-run/agentcore/pkg/context"
	"github.com/carbon-run/agentcore/pkg/hooks"
	"github.com/carbon-run/agentcore/pkg/metrics"
	"github.com/carbon-run/agentcore/pkg/session"
	"github.com/carbon-run/agentcore/pkg/tools"
)

// CompactionConfig controls when and how context compaction runs.
// It configures a pkgcontext.Manager internally; see that package for the
// summarisation pipeline itself.
type CompactionConfig struct {
	// Enabled turns auto-compaction on or off. Default: false.
	Enabled bool

	// ContextWindow is the model's maximum context size in tokens.
	// Required for auto-compaction (compaction triggers when the estimated
	// token count exceeds ContextWindow - ReserveTokens).
	ContextWindow int

	// ReserveTokens is the minimum free-token buffer to maintain.
	// Default: 16384.
	ReserveTokens int

	// KeepRecentTokens is how many tokens of recent history to preserve
	// after compaction. Default: 20000.
	KeepRecentTokens int
}

func (c CompactionConfig) toManagerConfig() pkgcontext.Config {
	return pkgcontext.Config{
		ContextWindow:    c.ContextWindow,
		ReserveTokens:    c.ReserveTokens,
		KeepRecentTokens: c.KeepRecentTokens,
	}
}

// Agent orchestrates the LLM + tool loop.
// It is safe to subscribe/unsubscribe listeners from multiple goroutines,
// but Prompt / Steer / FollowUp must not be called concurrently.
type Agent struct {
	mu           sync.RWMutex
	systemPrompt string
	model        string
	provider     ai.Provider
	tools        *tools.Registry

	messages     []ai.Message
	isStreaming  bool
	pendingCalls map[string]bool
	err          string

	listeners   map[int]func(Event)
	listenerSeq int
	listenerMu  sync.RWMutex

	cancelToken *cancel.Token

	steeringQueue []ai.Message
	steeringMu    sync.Mutex
	followUpQueue []ai.Message
	followUpMu    sync.Mutex

	// Session persistence (optional).
	sess *session.Session
	// entryIDs maps message index → session entry ID, used for compaction.
	entryIDs []string

	// Compaction.
	compactionCfg CompactionConfig
	summarizer    pkgcontext.Summarizer
	ctxMgr        *pkgcontext.Manager
	streamOpts    ai.StreamOptions

	// Cost accounting, accumulated across every Prompt call on this agent.
	budgetTracker *budget.Tracker

	// hooksPipeline runs before/after/persist hooks around every tool
	// invocation dispatched through the orchestrator.
	hooksPipeline *hooks.Pipeline
	agentID       string

	logger        *slog.Logger
	metricsClient *metrics.Metrics
}

// Options configures a new Agent.
type Options struct {
	SystemPrompt  string
	Model         string
	Provider      ai.Provider
	Tools         *tools.Registry  // nil → empty registry
	Session       *session.Session // optional: persist conversation to file
	Compaction    CompactionConfig // optional: auto-compact when context grows
	StreamOptions ai.StreamOptions // passed to every LLM call

	// Hooks runs before/after/persist around every tool call dispatched
	// through the orchestrator. nil → hooks.New() (an empty pipeline).
	Hooks *hooks.Pipeline
	// AgentID identifies this agent instance to the hook pipeline
	// (hooks.Context.AgentID). Optional.
	AgentID string

	Logger  *slog.Logger     // nil → slog.Default()
	Metrics *metrics.Metrics // nil → metrics disabled
}

func defaultLogger() *slog.Logger {
	return slog.Default()
}

// New creates a new Agent.
func New(opts Options) *Agent {
	reg := opts.Tools
	if reg == nil {
		reg = tools.NewRegistry()
	}
	logger := opts.Logger
	if logger == nil {
		logger = defaultLogger()
	}
	hooksPipeline := opts.Hooks
	if hooksPipeline == nil {
		hooksPipeline = hooks.New()
	}

	a := &Agent{
		systemPrompt:  opts.SystemPrompt,
		model:         opts.Model,
		provider:      opts.Provider,
		tools:         reg,
		pendingCalls:  make(map[string]bool),
		listeners:     make(map[int]func(Event)),
		sess:          opts.Session,
		compactionCfg: opts.Compaction,
		streamOpts:    opts.StreamOptions,
		budgetTracker: budget.New(),
		hooksPipeline: hooksPipeline,
		agentID:       opts.AgentID,
		logger:        logger,
		metricsClient: opts.Metrics,
	}

	if opts.Compaction.Enabled && opts.Compaction.ContextWindow > 0 {
		a.summarizer = pkgcontext.LLMSummarizer{
			Provider: opts.Provider,
			Model:    opts.Model,
			Options:  opts.StreamOptions,
		}
		a.ctxMgr = pkgcontext.New(opts.Compaction.toManagerConfig(), a.summarizer)
	}

	return a
}

// SetSession attaches a session for persistence. Existing session entries are
// NOT replayed; use session.ParseMessages before creating the agent to resume.
func (a *Agent) SetSession(s *session.Session) {
	a.mu.Lock()
	a.sess = s
	a.mu.Unlock()
}

// AttachSession attaches an already opened session and replaces the agent's
// history with msgs (nil clears it). Call before first Prompt().
func (a *Agent) AttachSession(s *session.Session, msgs []ai.Message) {
	a.mu.Lock()
	a.sess = s
	// Build entryIDs slice (all zeros for pre-loaded messages).
	a.entryIDs = make([]string, len(msgs))
	a.messages = msgs
	a.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Configuration setters
// ---------------------------------------------------------------------------

func (a *Agent) SetSystemPrompt(s string) {
	a.mu.Lock()
	a.systemPrompt = s
	a.mu.Unlock()
}

func (a *Agent) SetModel(m string) {
	a.mu.Lock()
	a.model = m
	a.mu.Unlock()
}

func (a *Agent) SetProvider(p ai.Provider) {
	a.mu.Lock()
	a.provider = p
	a.mu.Unlock()
}

// SetContextWindow updates the compaction window size, rebuilding the
// underlying context manager. Used by the config reloader when a live model
// swap changes the available window.
func (a *Agent) SetContextWindow(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.compactionCfg.ContextWindow = n
	if a.ctxMgr == nil {
		return
	}
	a.ctxMgr = pkgcontext.New(a.compactionCfg.toManagerConfig(), a.summarizer)
}

func (a *Agent) Tools() *tools.Registry {
	return a.tools
}

// ---------------------------------------------------------------------------
// Event subscriptions
// ---------------------------------------------------------------------------

// Subscribe registers a listener and returns an unsubscribe function.
func (a *Agent) Subscribe(fn func(Event)) func() {
	a.listenerMu.Lock()
	id := a.listenerSeq
	a.listenerSeq++
	a.listeners[id] = fn
	a.listenerMu.Unlock()

	return func() {
		a.listenerMu.Lock()
		delete(a.listeners, id)
		a.listenerMu.Unlock()
	}
}

func (a *Agent) broadcast(e Event) {
	a.listenerMu.RLock()
	fns := make([]func(Event), 0, len(a.listeners))
	for _, fn := range a.listeners {
		fns = append(fns, fn)
	}
	a.listenerMu.RUnlock()
	for _, fn := range fns {
		fn(e)
	}
}

// ---------------------------------------------------------------------------
// Prompt / Steer / FollowUp
// ---------------------------------------------------------------------------

// Prompt sends a new user message and runs the agent loop.
// Returns when the loop is complete (or ctx cancelled).
func (a *Agent) Prompt(ctx context.Context, text string, cfg Config) error {
	return a.PromptMessages(ctx, []ai.Message{
		ai.UserMessage{
			Role:      ai.RoleUser,
			Content:   []ai.ContentBlock{ai.TextContent{Type: "text", Text: text}},
			Timestamp: time.Now().UnixMilli(),
		},
	}, cfg)
}

// PromptMessages sends one or more pre-built messages and runs the loop.
func (a *Agent) PromptMessages(ctx context.Context, msgs []ai.Message, cfg Config) error {
	if a.IsStreaming() {
		return fmt.Errorf("agent is already streaming; use Steer or FollowUp to queue messages")
	}

	token, release := cancel.New(ctx)
	a.mu.Lock()
	a.cancelToken = token
	a.isStreaming = true
	a.err = ""
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.isStreaming = false
		a.cancelToken = nil
		a.mu.Unlock()
		release()
	}()

	// Wire steering/follow-up hooks into config
	cfg = a.wrapConfig(cfg)

	return a.runLoop(token.Context(), msgs, cfg)
}

// Continue resumes from existing context (e.g. after an error or retry).
func (a *Agent) Continue(ctx context.Context, cfg Config) error {
	if a.IsStreaming() {
		return fmt.Errorf("agent is already streaming")
	}
	msgs := a.snapshotMessages()
	if len(msgs) == 0 {
		return fmt.Errorf("no messages to continue from")
	}
	if msgs[len(msgs)-1].GetRole() == ai.RoleAssistant {
		return fmt.Errorf("last message is assistant; nothing to continue from")
	}
	return a.PromptMessages(ctx, nil, cfg)
}

// Steer queues a message to inject after the current batch of tool calls finishes.
func (a *Agent) Steer(m ai.Message) {
	a.steeringMu.Lock()
	a.steeringQueue = append(a.steeringQueue, m)
	a.steeringMu.Unlock()
}

// SteerText queues a plain-text steering message.
func (a *Agent) SteerText(text string) {
	a.Steer(ai.UserMessage{
		Role:      ai.RoleUser,
		Content:   []ai.ContentBlock{ai.TextContent{Type: "text", Text: text}},
		Timestamp: time.Now().UnixMilli(),
	})
}

// FollowUp queues a message to process after the agent would otherwise stop.
func (a *Agent) FollowUp(m ai.Message) {
	a.followUpMu.Lock()
	a.followUpQueue = append(a.followUpQueue, m)
	a.followUpMu.Unlock()
}

// FollowUpText queues a plain-text follow-up message.
func (a *Agent) FollowUpText(text string) {
	a.FollowUp(ai.UserMessage{
		Role:      ai.RoleUser,
		Content:   []ai.ContentBlock{ai.TextContent{Type: "text", Text: text}},
		Timestamp: time.Now().UnixMilli(),
	})
}

// Abort cancels the running loop.
func (a *Agent) Abort() {
	a.mu.RLock()
	tok := a.cancelToken
	a.mu.RUnlock()
	if tok != nil {
		tok.CancelWithReason("aborted")
	}
}

// ---------------------------------------------------------------------------
// State accessors
// ---------------------------------------------------------------------------

func (a *Agent) IsStreaming() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.isStreaming
}

func (a *Agent) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	msgs := make([]ai.Message, len(a.messages))
	copy(msgs, a.messages)
	pending := make(map[string]bool, len(a.pendingCalls))
	for k, v := range a.pendingCalls {
		pending[k] = v
	}
	usage := pkgcontext.EstimateContextTokens(msgs)
	return State{
		SystemPrompt:     a.systemPrompt,
		Model:            a.model,
		Provider:         a.provider.Name(),
		Messages:         msgs,
		IsStreaming:      a.isStreaming,
		PendingToolCalls: pending,
		Error:            a.err,
		ContextTokens:    usage.Tokens,
		CumulativeCost:   toCostUsage(a.budgetTracker.Totals()),
	}
}

// toCostUsage adapts a budget.Totals (or per-call budget.CostDelta, which
// shares the same field shape) to the public CostUsage type.
func toCostUsage(t budget.Totals) CostUsage {
	return CostUsage{
		InputTokens:  t.InputTokens,
		OutputTokens: t.OutputTokens,
		CachedTokens: t.CachedTokens,
		InputCost:    t.InputCost,
		OutputCost:   t.OutputCost,
		CachedCost:   t.CachedCost,
		TotalCost:    t.TotalCost,
	}
}

// Messages returns a snapshot of the full conversation history.
func (a *Agent) Messages() []ai.Message {
	return a.snapshotMessages()
}

// ClearMessages resets conversation history.
func (a *Agent) ClearMessages() {
	a.mu.Lock()
	a.messages = nil
	a.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Internal helpers
// ---------------------------------------------------------------------------

func (a *Agent) appendMsg(m ai.Message) {
	// Normalise: dereference pointer types so all stored messages are values.
	// Providers (e.g. streaming loop) return *AssistantMessage.
	m = derefMessage(m)
	a.mu.Lock()
	a.messages = append(a.messages, m)
	var entryID string
	if a.sess != nil {
		var err error
		entryID, err = a.sess.AppendMessage(m)
		if err != nil {
			a.logger.Error("session write failed", "error", err)
		}
	}
	a.entryIDs = append(a.entryIDs, entryID)
	a.mu.Unlock()
}

// maybeCompact checks whether compaction should run and, if so, replaces the
// message history with a summary + kept messages. It records the compaction
// entry in the session file.
func (a *Agent) maybeCompact(ctx context.Context) error {
	a.mu.RLock()
	mgr := a.ctxMgr
	msgs := make([]ai.Message, len(a.messages))
	copy(msgs, a.messages)
	entryIDs := make([]string, len(a.entryIDs))
	copy(entryIDs, a.entryIDs)
	a.mu.RUnlock()

	if mgr == nil {
		return nil
	}

	before := pkgcontext.EstimateContextTokens(msgs)
	newMsgs, compacted, err := mgr.PrepareMessages(ctx, msgs)
	if err != nil {
		return fmt.Errorf("compaction: %w", err)
	}
	if !compacted {
		return nil
	}

	kept := len(newMsgs) - 1 // newMsgs[0] is the synthesised summary message
	removed := len(msgs) - kept
	cutIdx := len(msgs) - kept

	firstKeptEntryID := ""
	if a.sess != nil && cutIdx >= 0 && cutIdx < len(entryIDs) {
		firstKeptEntryID = entryIDs[cutIdx]
	}

	var summary string
	if len(newMsgs) > 0 {
		if um, ok := newMsgs[0].(ai.UserMessage); ok {
			for _, b := range um.Content {
				if tc, ok := b.(ai.TextContent); ok {
					summary = tc.Text
				}
			}
		}
	}

	if a.sess != nil {
		if err := a.sess.AppendCompaction(summary, firstKeptEntryID, before.Tokens); err != nil {
			a.logger.Error("session compaction write failed", "error", err)
		}
	}

	newEntryIDs := make([]string, 1+kept)
	if cutIdx >= 0 && cutIdx+kept <= len(entryIDs) {
		copy(newEntryIDs[1:], entryIDs[cutIdx:cutIdx+kept])
	}

	a.mu.Lock()
	a.messages = newMsgs
	a.entryIDs = newEntryIDs
	a.mu.Unlock()

	a.broadcast(Event{Type: EventCompaction, Compaction: &CompactionEvent{
		Summary:         summary,
		MessagesRemoved: removed,
		MessagesKept:    kept,
		TokensBefore:    before.Tokens,
		TokensAfter:     pkgcontext.EstimateContextTokens(newMsgs).Tokens,
	}})

	return nil
}

// derefMessage unwraps pointer message types to their value form.
// All concrete types (UserMessage, AssistantMessage, ToolResultMessage) define
// GetRole on value receivers, so both *T and T implement ai.Message. We
// normalise to values to keep type assertions simple throughout the codebase.
func derefMessage(m ai.Message) ai.Message {
	switch p := m.(type) {
	case *ai.UserMessage:
		return *p
	case *ai.AssistantMessage:
		return *p
	case *ai.ToolResultMessage:
		return *p
	}
	return m
}

func (a *Agent) snapshotMessages() []ai.Message {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]ai.Message, len(a.messages))
	copy(out, a.messages)
	return out
}

func (a *Agent) collectNew() []ai.Message {
	return a.snapshotMessages()
}

// wrapConfig injects the agent's steering/follow-up queues into the config.
func (a *Agent) wrapConfig(cfg Config) Config {
	if cfg.GetSteeringMessages == nil {
		cfg.GetSteeringMessages = func() ([]ai.Message, error) {
			a.steeringMu.Lock()
			defer a.steeringMu.Unlock()
			if len(a.steeringQueue) == 0 {
				return nil, nil
			}
			first := a.steeringQueue[0]
			a.steeringQueue = a.steeringQueue[1:]
			return []ai.Message{first}, nil
		}
	}
	if cfg.GetFollowUpMessages == nil {
		cfg.GetFollowUpMessages = func() ([]ai.Message, error) {
			a.followUpMu.Lock()
			defer a.followUpMu.Unlock()
			if len(a.followUpQueue) == 0 {
				return nil, nil
			}
			first := a.followUpQueue[0]
			a.followUpQueue = a.followUpQueue[1:]
			return []ai.Message{first}, nil
		}
	}
	return cfg
}
