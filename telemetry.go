package server

import (
	"sync/atomic"
	"time"

	"towerdefense/server/internal/telemetry"
)

type telemetryCounters struct {
	ticks              atomic.Uint64
	tickDurationMillis atomic.Int64
	tickOverruns       atomic.Uint64
	commandsApplied    atomic.Uint64
	bytesSent          atomic.Uint64
	lastBroadcastBytes atomic.Uint64
	framesSent         atomic.Uint64
	sendDrops          atomic.Uint64
	kills              atomic.Uint64
	leaks              atomic.Uint64
	metrics            telemetry.Metrics
}

type telemetrySnapshot struct {
	Ticks              uint64 `json:"ticks"`
	TickDuration       int64  `json:"tickDurationMillis"`
	TickOverruns       uint64 `json:"tickOverruns"`
	CommandsApplied    uint64 `json:"commandsApplied"`
	BytesSent          uint64 `json:"bytesSent"`
	LastBroadcastBytes uint64 `json:"lastBroadcastBytes"`
	FramesSent         uint64 `json:"framesSent"`
	SendDrops          uint64 `json:"sendDrops"`
	Kills              uint64 `json:"kills"`
	Leaks              uint64 `json:"leaks"`
}

func newTelemetryCounters(metrics telemetry.Metrics) *telemetryCounters {
	return &telemetryCounters{metrics: metrics}
}

func (t *telemetryCounters) RecordTick(duration time.Duration, commands int, overBudget bool) {
	millis := duration.Milliseconds()
	if millis < 0 {
		millis = 0
	}
	t.ticks.Add(1)
	t.tickDurationMillis.Store(millis)
	if commands > 0 {
		t.commandsApplied.Add(uint64(commands))
	}
	if overBudget {
		t.tickOverruns.Add(1)
	}
	if t.metrics != nil {
		t.metrics.Add("hub_ticks_total", 1)
		t.metrics.Store("hub_tick_duration_millis", uint64(millis))
	}
}

func (t *telemetryCounters) RecordBroadcast(bytes, frames int) {
	if bytes < 0 {
		bytes = 0
	}
	if frames < 0 {
		frames = 0
	}
	t.bytesSent.Add(uint64(bytes))
	t.lastBroadcastBytes.Store(uint64(bytes))
	t.framesSent.Add(uint64(frames))
	if t.metrics != nil {
		t.metrics.Add("broadcast_bytes_total", uint64(bytes))
	}
}

func (t *telemetryCounters) RecordSendDrop() {
	t.sendDrops.Add(1)
	if t.metrics != nil {
		t.metrics.Add("send_drops_total", 1)
	}
}

func (t *telemetryCounters) RecordCombat(kills, leaks int) {
	if kills > 0 {
		t.kills.Add(uint64(kills))
	}
	if leaks > 0 {
		t.leaks.Add(uint64(leaks))
	}
}

func (t *telemetryCounters) Snapshot() telemetrySnapshot {
	return telemetrySnapshot{
		Ticks:              t.ticks.Load(),
		TickDuration:       t.tickDurationMillis.Load(),
		TickOverruns:       t.tickOverruns.Load(),
		CommandsApplied:    t.commandsApplied.Load(),
		BytesSent:          t.bytesSent.Load(),
		LastBroadcastBytes: t.lastBroadcastBytes.Load(),
		FramesSent:         t.framesSent.Load(),
		SendDrops:          t.sendDrops.Load(),
		Kills:              t.kills.Load(),
		Leaks:              t.leaks.Load(),
	}
}
