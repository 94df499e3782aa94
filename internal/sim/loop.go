package sim

import (
	"sync"
	"time"

	"towerdefense/server/internal/telemetry"
)

const (
	// CommandRejectQueueLimit indicates a command was dropped due to per-actor
	// queue throttling.
	CommandRejectQueueLimit = "queue_limit"
	// CommandRejectQueueFull indicates the global command buffer is saturated.
	CommandRejectQueueFull = "queue_full"
)

// LoopConfig tunes the command buffer and tick orchestration.
type LoopConfig struct {
	TickInterval    time.Duration
	CommandCapacity int
	PerActorLimit   int
	WarningStep     int
}

// DefaultLoopConfig returns the production tuning.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		TickInterval:    100 * time.Millisecond,
		CommandCapacity: 1024,
		PerActorLimit:   16,
		WarningStep:     256,
	}
}

// LoopTickContext identifies one tick.
type LoopTickContext struct {
	Tick  uint64
	Now   time.Time
	Delta float64
}

// LoopStepResult describes a completed tick.
type LoopStepResult struct {
	Tick     uint64
	Now      time.Time
	Delta    float64
	Commands []Command
	Duration time.Duration
	Budget   time.Duration
}

// OverBudget reports whether the tick took longer than its interval.
func (r LoopStepResult) OverBudget() bool {
	return r.Budget > 0 && r.Duration > r.Budget
}

// LoopHooks are invoked from Advance on the caller's goroutine. Apply runs
// once per staged command before Step.
type LoopHooks struct {
	Apply          func(LoopTickContext, Command)
	Step           func(LoopTickContext)
	OnQueueWarning func(length int)
	OnCommandDrop  func(reason string, cmd Command)
}

// Loop stages commands between ticks and applies them at the tick boundary,
// ahead of the simulation step.
type Loop struct {
	deps    Deps
	buffer  *CommandBuffer
	hooks   LoopHooks
	config  LoopConfig
	logger  telemetry.Logger
	metrics telemetry.Metrics

	queueMu       sync.Mutex
	perActorCount map[string]int
	dropCounts    map[string]uint64
	scratch       []Command
}

// NewLoop constructs a loop around a fresh command buffer.
func NewLoop(deps Deps, cfg LoopConfig, hooks LoopHooks) *Loop {
	defaults := DefaultLoopConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaults.TickInterval
	}
	if cfg.CommandCapacity <= 0 {
		cfg.CommandCapacity = defaults.CommandCapacity
	}
	var metrics telemetryMetrics
	if deps.Metrics != nil {
		metrics = deps.Metrics
	}
	return &Loop{
		deps:          deps,
		buffer:        NewCommandBuffer(cfg.CommandCapacity, metrics),
		hooks:         hooks,
		config:        cfg,
		logger:        deps.Logger,
		metrics:       deps.Metrics,
		perActorCount: make(map[string]int),
		dropCounts:    make(map[string]uint64),
	}
}

// Config returns the effective configuration.
func (l *Loop) Config() LoopConfig {
	if l == nil {
		return LoopConfig{}
	}
	return l.config
}

// Pending reports the number of staged commands.
func (l *Loop) Pending() int {
	if l == nil {
		return 0
	}
	return l.buffer.Len()
}

// Enqueue stages a command, enforcing per-actor throttling and capacity limits.
func (l *Loop) Enqueue(cmd Command) (bool, string) {
	if l == nil {
		return false, CommandRejectQueueFull
	}
	reason := ""
	var dropCount uint64
	l.queueMu.Lock()
	if l.config.PerActorLimit > 0 && cmd.ActorID != "" {
		count := l.perActorCount[cmd.ActorID]
		if count >= l.config.PerActorLimit {
			reason = CommandRejectQueueLimit
			dropCount = l.incrementDropLocked(cmd.ActorID)
		} else {
			l.perActorCount[cmd.ActorID] = count + 1
		}
	}
	if reason == "" {
		if !l.buffer.Push(cmd) {
			reason = CommandRejectQueueFull
			dropCount = l.incrementDropLocked(cmd.ActorID)
			if cmd.ActorID != "" && l.perActorCount[cmd.ActorID] > 0 {
				l.perActorCount[cmd.ActorID]--
			}
		} else if l.config.WarningStep > 0 {
			length := l.buffer.Len()
			if length >= l.config.WarningStep && length%l.config.WarningStep == 0 {
				l.queueMu.Unlock()
				l.warnQueue(length)
				return true, ""
			}
		}
	}
	l.queueMu.Unlock()
	if reason != "" {
		l.reportDrop(reason, cmd, dropCount)
		return false, reason
	}
	return true, ""
}

// Advance drains the staged commands, applies them in FIFO order and then
// runs the step hook.
func (l *Loop) Advance(ctx LoopTickContext) LoopStepResult {
	if l == nil {
		return LoopStepResult{}
	}
	clock := l.deps.clock()
	start := clock.Now()
	commands := l.drainCommands()
	if l.hooks.Apply != nil {
		for _, cmd := range commands {
			l.hooks.Apply(ctx, cmd)
		}
	}
	if l.hooks.Step != nil {
		l.hooks.Step(ctx)
	}
	return LoopStepResult{
		Tick:     ctx.Tick,
		Now:      ctx.Now,
		Delta:    ctx.Delta,
		Commands: commands,
		Duration: clock.Now().Sub(start),
		Budget:   l.config.TickInterval,
	}
}

func (l *Loop) drainCommands() []Command {
	l.queueMu.Lock()
	defer l.queueMu.Unlock()
	l.scratch = l.buffer.Drain(l.scratch[:0])
	if len(l.perActorCount) > 0 {
		clear(l.perActorCount)
	}
	if len(l.scratch) == 0 {
		return nil
	}
	commands := make([]Command, len(l.scratch))
	copy(commands, l.scratch)
	return commands
}

func (l *Loop) incrementDropLocked(actorID string) uint64 {
	if actorID == "" {
		return 0
	}
	count := l.dropCounts[actorID] + 1
	l.dropCounts[actorID] = count
	return count
}

// Forget releases per-actor drop accounting for a departed connection.
func (l *Loop) Forget(actorID string) {
	if l == nil {
		return
	}
	l.queueMu.Lock()
	delete(l.dropCounts, actorID)
	l.queueMu.Unlock()
}

func (l *Loop) warnQueue(length int) {
	if l.hooks.OnQueueWarning != nil {
		l.hooks.OnQueueWarning(length)
	}
}

func (l *Loop) reportDrop(reason string, cmd Command, count uint64) {
	if l.metrics != nil {
		l.metrics.Add("command_drops_total", 1)
	}
	if l.hooks.OnCommandDrop != nil {
		l.hooks.OnCommandDrop(reason, cmd)
	}
	if count > 0 && count&(count-1) == 0 {
		if l.logger != nil {
			l.logger.Printf(
				"[backpressure] dropping command actor=%s type=%s reason=%s count=%d limit=%d",
				cmd.ActorID,
				cmd.Type,
				reason,
				count,
				l.config.PerActorLimit,
			)
		}
	}
}
