package server

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"towerdefense/server/internal/actions"
	"towerdefense/server/internal/game"
	"towerdefense/server/internal/net/intake"
	"towerdefense/server/internal/net/proto"
	"towerdefense/server/internal/persist"
	"towerdefense/server/internal/rooms"
	"towerdefense/server/internal/sim"
	"towerdefense/server/internal/telemetry"
	"towerdefense/server/logging"
	loggingeconomy "towerdefense/server/logging/economy"
	logginglifecycle "towerdefense/server/logging/lifecycle"
	loggingnetwork "towerdefense/server/logging/network"
	loggingsimulation "towerdefense/server/logging/simulation"
)

var (
	// ErrHubStopped is returned to connections arriving after Run has exited.
	ErrHubStopped = errors.New("server: hub stopped")
	// ErrHubFault is returned by Run after recovering from a panic.
	ErrHubFault = errors.New("server: hub fault")
)

// Client is a connection the hub pushes frames to. Send must not block.
type Client interface {
	ID() string
	Send(data []byte) bool
	Close()
}

// HubConfig tunes the hub's cadences and injects its dependencies.
type HubConfig struct {
	TickInterval      time.Duration
	BroadcastInterval time.Duration
	LobbyInterval     time.Duration
	SaveDebounce      time.Duration
	GracePeriod       time.Duration
	// IdleTimeout removes empty rooms after inactivity; zero keeps them.
	IdleTimeout time.Duration
	InboxSize   int
	Loop        sim.LoopConfig

	Logger  telemetry.Logger
	Metrics *telemetry.Counters
	Clock   logging.Clock
	RNG     *rand.Rand
	// Writer persists snapshots; nil disables persistence.
	Writer *persist.Writer
}

// DefaultHubConfig returns the production cadences.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		TickInterval:      defaultTickInterval,
		BroadcastInterval: defaultBroadcastInterval,
		LobbyInterval:     defaultLobbyInterval,
		SaveDebounce:      defaultSaveDebounce,
		GracePeriod:       defaultGracePeriod,
		IdleTimeout:       defaultIdleTimeout,
		InboxSize:         defaultInboxSize,
		Loop:              sim.DefaultLoopConfig(),
	}
}

// Status is the public summary served by the status endpoint.
type Status struct {
	Rooms       int    `json:"rooms"`
	Players     int    `json:"players"`
	Online      int    `json:"online"`
	Connections int    `json:"connections"`
	Tick        uint64 `json:"tick"`
}

// Diagnostics is the operator view served by the diagnostics endpoint.
type Diagnostics struct {
	Status          Status               `json:"status"`
	Telemetry       telemetrySnapshot    `json:"telemetry"`
	Counters        map[string]uint64    `json:"counters"`
	PendingCommands int                  `json:"pendingCommands"`
	Persistence     *persist.WriterStats `json:"persistence,omitempty"`
}

type requestKind int

const (
	requestConnect requestKind = iota
	requestDeliver
	requestDisconnect
)

type request struct {
	kind   requestKind
	connID string
	client Client
	msg    proto.ClientMessage
}

type clientState struct {
	client   Client
	playerID string
	name     string
	dropped  uint64
}

// Hub owns every room. All room state is touched only by the goroutine
// running Run; connections talk to it through Connect, Deliver and
// Disconnect.
type Hub struct {
	cfg       HubConfig
	ctx       context.Context
	publisher logging.Publisher
	logger    telemetry.Logger
	clock     logging.Clock
	rng       *rand.Rand
	metrics   *telemetry.Counters
	telemetry *telemetryCounters
	writer    *persist.Writer

	registry *rooms.Registry
	sessions *rooms.Sessions
	loop     *sim.Loop

	inbox chan request
	done  chan struct{}

	clients       map[string]*clientState
	tick          uint64
	lastTick      time.Time
	dirty         bool
	lastSave      time.Time
	lastDoc       *persist.Document
	overrunStreak uint64

	status atomic.Pointer[Status]
}

// NewHub constructs a hub with an empty registry. Restore may be called
// before Run to install hydrated rooms.
func NewHub(cfg HubConfig, publisher logging.Publisher) *Hub {
	defaults := DefaultHubConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaults.TickInterval
	}
	if cfg.BroadcastInterval <= 0 {
		cfg.BroadcastInterval = defaults.BroadcastInterval
	}
	if cfg.LobbyInterval <= 0 {
		cfg.LobbyInterval = defaults.LobbyInterval
	}
	if cfg.SaveDebounce <= 0 {
		cfg.SaveDebounce = defaults.SaveDebounce
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = defaults.GracePeriod
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = defaults.InboxSize
	}
	if cfg.Loop.TickInterval <= 0 {
		cfg.Loop.TickInterval = cfg.TickInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.LoggerFunc(nil)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.NewCounters()
	}
	if cfg.Clock == nil {
		cfg.Clock = logging.SystemClock{}
	}
	if cfg.RNG == nil {
		cfg.RNG = rand.New(rand.NewSource(cfg.Clock.Now().UnixNano()))
	}
	if publisher == nil {
		publisher = logging.NopPublisher()
	}

	registry := rooms.NewRegistry(cfg.IdleTimeout)
	h := &Hub{
		cfg:       cfg,
		ctx:       context.Background(),
		publisher: publisher,
		logger:    cfg.Logger,
		clock:     cfg.Clock,
		rng:       cfg.RNG,
		metrics:   cfg.Metrics,
		telemetry: newTelemetryCounters(cfg.Metrics),
		writer:    cfg.Writer,
		registry:  registry,
		sessions:  rooms.NewSessions(registry, cfg.GracePeriod),
		inbox:     make(chan request, cfg.InboxSize),
		done:      make(chan struct{}),
		clients:   make(map[string]*clientState),
	}
	h.loop = sim.NewLoop(sim.Deps{
		Logger:  cfg.Logger,
		Metrics: cfg.Metrics,
		Clock:   cfg.Clock,
		RNG:     cfg.RNG,
	}, cfg.Loop, sim.LoopHooks{
		Apply: h.applyCommand,
		Step:  h.stepRooms,
		OnQueueWarning: func(length int) {
			h.logger.Printf("[backpressure] command buffer at %d", length)
		},
	})
	h.lastTick = cfg.Clock.Now()
	h.publishStatus()
	return h
}

// Restore installs hydrated rooms. It must be called before Run.
func (h *Hub) Restore(restored []*game.Room) int {
	installed := h.registry.Hydrate(restored)
	if installed > 0 {
		h.publishStatus()
	}
	return installed
}

// Connect registers a new connection.
func (h *Hub) Connect(client Client) error {
	return h.enqueue(request{kind: requestConnect, connID: client.ID(), client: client})
}

// Deliver hands a decoded client message to the hub. It blocks while the
// inbox is full.
func (h *Hub) Deliver(connID string, msg proto.ClientMessage) error {
	return h.enqueue(request{kind: requestDeliver, connID: connID, msg: msg})
}

// Disconnect reports a closed connection. The bound player goes offline and
// keeps its lane for the grace period.
func (h *Hub) Disconnect(connID string) {
	h.enqueue(request{kind: requestDisconnect, connID: connID})
}

func (h *Hub) enqueue(req request) error {
	select {
	case <-h.done:
		return ErrHubStopped
	default:
	}
	select {
	case h.inbox <- req:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

// Status returns the summary published at the last tick.
func (h *Hub) Status() Status {
	if status := h.status.Load(); status != nil {
		return *status
	}
	return Status{}
}

// Diagnostics gathers counters for operators. Safe to call from any goroutine.
func (h *Hub) Diagnostics() Diagnostics {
	diag := Diagnostics{
		Status:          h.Status(),
		Telemetry:       h.telemetry.Snapshot(),
		Counters:        h.metrics.Snapshot(),
		PendingCommands: h.loop.Pending(),
	}
	if h.writer != nil {
		stats := h.writer.Stats()
		diag.Persistence = &stats
	}
	return diag
}

// Run owns the rooms until ctx is cancelled, then writes a final snapshot.
// A panic is recovered, the last consistent state is flushed and
// ErrHubFault is returned.
func (h *Hub) Run(ctx context.Context) (err error) {
	h.ctx = ctx
	defer close(h.done)
	defer func() {
		if r := recover(); r != nil {
			h.logger.Printf("hub fault at tick %d: %v\n%s", h.tick, r, debug.Stack())
			loggingsimulation.HubFault(context.WithoutCancel(ctx), h.publisher, h.tick, loggingsimulation.HubFaultPayload{Panic: fmt.Sprint(r)})
			if flushErr := h.flush(context.WithoutCancel(ctx), true); flushErr != nil {
				h.logger.Printf("fault flush failed: %v", flushErr)
			}
			h.closeClients()
			err = fmt.Errorf("%w: %v", ErrHubFault, r)
		}
	}()

	ticker := time.NewTicker(h.cfg.TickInterval)
	defer ticker.Stop()
	broadcast := time.NewTicker(h.cfg.BroadcastInterval)
	defer broadcast.Stop()
	lobby := time.NewTicker(h.cfg.LobbyInterval)
	defer lobby.Stop()

	h.lastTick = h.clock.Now()
	for {
		select {
		case <-ctx.Done():
			flushErr := h.flush(context.WithoutCancel(ctx), false)
			h.closeClients()
			return flushErr
		case req := <-h.inbox:
			h.handle(req)
		case <-ticker.C:
			h.advance(h.clock.Now())
		case <-broadcast.C:
			h.broadcastRooms(h.clock.Now())
		case <-lobby.C:
			h.broadcastLobby()
		}
	}
}

// flush writes the current rooms synchronously. After a fault the rooms may
// be inconsistent; if capturing them fails the last submitted document is
// written instead.
func (h *Hub) flush(ctx context.Context, faulted bool) error {
	if h.writer == nil {
		return nil
	}
	doc, ok := h.captureSafely()
	if !ok {
		if h.lastDoc == nil {
			return errors.New("server: no consistent snapshot to flush")
		}
		doc = *h.lastDoc
	}
	if err := h.writer.Flush(ctx, doc); err != nil {
		return fmt.Errorf("flush snapshot: %w", err)
	}
	if faulted {
		h.logger.Printf("flushed %d rooms after fault", len(doc.Rooms))
	}
	return nil
}

func (h *Hub) captureSafely() (doc persist.Document, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	return persist.Capture(h.registry.Rooms(), h.clock.Now()), true
}

func (h *Hub) closeClients() {
	for _, state := range h.clients {
		state.client.Close()
	}
}

func (h *Hub) handle(req request) {
	now := h.clock.Now()
	switch req.kind {
	case requestConnect:
		h.clients[req.connID] = &clientState{client: req.client}
	case requestDisconnect:
		h.disconnect(req.connID, now)
	case requestDeliver:
		state, ok := h.clients[req.connID]
		if !ok {
			return
		}
		h.dispatch(req.connID, state, req.msg, now)
	}
}

func (h *Hub) dispatch(connID string, state *clientState, msg proto.ClientMessage, now time.Time) {
	switch m := msg.(type) {
	case proto.Hello:
		h.hello(connID, state, m, now)
	case proto.ListRooms:
		h.sendRoomList(connID)
	case proto.CreateRoom:
		h.createRoom(connID, state, m, now)
	case proto.JoinRoom:
		if state.playerID == "" {
			h.sendError(connID, "hello required")
			return
		}
		h.join(connID, state, m.RoomID, now)
	case proto.LeaveRoom:
		h.leave(connID, now)
	case proto.Action:
		h.stageAction(connID, m, now)
	case proto.Ping:
		h.sendMessage(connID, &proto.Pong{ClientTime: m.SentAt, ServerTime: now.UnixMilli()})
	default:
		h.sendError(connID, "unsupported message")
	}
}

func (h *Hub) hello(connID string, state *clientState, msg proto.Hello, now time.Time) {
	playerID := msg.PlayerID
	if playerID == "" {
		playerID = uuid.NewString()
	}
	if state.playerID != "" && state.playerID != playerID {
		h.dropBinding(connID, "identity changed", now)
	}
	state.playerID = playerID
	// An empty name keeps the one stored on a resumed player record.
	state.name = game.NormalizeName(msg.Name, "")
	h.sendMessage(connID, &proto.Welcome{
		PlayerID: state.playerID,
		Name:     game.NormalizeName(state.name, defaultPlayerName),
		Towers:   proto.Catalog(),
	})
	h.sendRoomList(connID)
}

func (h *Hub) createRoom(connID string, state *clientState, msg proto.CreateRoom, now time.Time) {
	if state.playerID == "" {
		h.sendError(connID, "hello required")
		return
	}
	room, err := h.registry.Create(msg.Name, msg.MaxPlayers, now)
	if err != nil {
		h.sendError(connID, err.Error())
		return
	}
	h.dirty = true
	logginglifecycle.RoomCreated(h.ctx, h.publisher, h.tick, room.ID, state.playerID, logginglifecycle.RoomPayload{
		Name:       room.Name,
		MaxPlayers: room.MaxPlayers,
		Wave:       room.Wave,
	})
	h.sendMessage(connID, &proto.RoomCreated{Room: proto.NewRoomSummary(room.Summary())})
	h.join(connID, state, room.ID, now)
}

func (h *Hub) join(connID string, state *clientState, roomID string, now time.Time) {
	result, err := h.sessions.Join(connID, roomID, state.playerID, state.name, now)
	if result.Left != nil {
		h.announceLeave(*result.Left, "switched rooms")
	}
	if err != nil {
		h.sendError(connID, err.Error())
		return
	}
	h.dirty = true
	room, player := result.Room, result.Player

	if result.Replaced != "" {
		h.closeReplaced(result.Replaced, room.ID)
	}
	if result.Reset {
		logginglifecycle.RoomReset(h.ctx, h.publisher, h.tick, room.ID, logginglifecycle.RoomPayload{Name: room.Name, Reason: "defeat"})
		h.notice(room.ID, "A new run begins")
	}

	h.sendMessage(connID, &proto.Joined{
		RoomID:      room.ID,
		PlayerID:    player.ID,
		Lane:        string(player.Lane),
		ActiveLanes: laneNames(room.ActiveLanes),
		Reconnected: result.Reconnected,
	})
	h.sendMessage(connID, &proto.State{Room: proto.NewRoomState(room), ServerTime: now.UnixMilli()})

	payload := logginglifecycle.PlayerJoinedPayload{Name: player.Name, Lane: string(player.Lane)}
	if result.Reconnected {
		logginglifecycle.PlayerReconnected(h.ctx, h.publisher, h.tick, room.ID, logging.PlayerRef(player.ID), payload, nil)
		h.notice(room.ID, fmt.Sprintf("%s reconnected", player.Name))
	} else {
		logginglifecycle.PlayerJoined(h.ctx, h.publisher, h.tick, room.ID, logging.PlayerRef(player.ID), payload, nil)
		h.notice(room.ID, fmt.Sprintf("%s joined the %s lane", player.Name, player.Lane))
	}
}

func (h *Hub) leave(connID string, now time.Time) {
	result, ok := h.sessions.Leave(connID, true, now)
	if !ok {
		h.sendError(connID, "not in a room")
		return
	}
	h.dirty = true
	h.announceLeave(result, "left")
	h.sendRoomList(connID)
}

func (h *Hub) disconnect(connID string, now time.Time) {
	h.dropBinding(connID, "disconnected", now)
	delete(h.clients, connID)
	h.loop.Forget(connID)
}

// closeReplaced tells a superseded connection why it is going away, then
// closes it. Its later disconnect finds no binding and is a no-op.
func (h *Hub) closeReplaced(connID, roomID string) {
	state, ok := h.clients[connID]
	if !ok {
		return
	}
	h.sendMessage(connID, &proto.Notice{RoomID: roomID, Text: "signed in from another connection"})
	delete(h.clients, connID)
	h.loop.Forget(connID)
	state.client.Close()
}

// dropBinding takes the connection's player offline, starting its grace
// period.
func (h *Hub) dropBinding(connID, reason string, now time.Time) {
	result, ok := h.sessions.Leave(connID, false, now)
	if !ok {
		return
	}
	h.dirty = true
	h.announceLeave(result, reason)
}

func (h *Hub) announceLeave(result rooms.LeaveResult, reason string) {
	if result.Player == nil {
		return
	}
	roomID := result.Binding.RoomID
	logginglifecycle.PlayerDisconnected(h.ctx, h.publisher, h.tick, roomID, logging.PlayerRef(result.Player.ID), logginglifecycle.PlayerDisconnectedPayload{
		Reason: reason,
		Left:   result.Destroyed,
	}, nil)
	if result.Destroyed {
		h.notice(roomID, fmt.Sprintf("%s left the game", result.Player.Name))
	} else {
		h.notice(roomID, fmt.Sprintf("%s disconnected", result.Player.Name))
	}
}

func (h *Hub) stageAction(connID string, msg proto.Action, now time.Time) {
	_, ok, reason := intake.StageAction(intake.CommandContext{
		Loop: h.loop,
		InRoom: func(id string) bool {
			_, bound := h.sessions.Binding(id)
			return bound
		},
		Tick: func() uint64 { return h.tick },
		Now:  func() time.Time { return now },
	}, connID, msg)
	if ok {
		return
	}
	h.sendMessage(connID, &proto.Ack{ActionID: msg.ActionID, Reason: reason})
	if reason == actions.ReasonServerBusy {
		loggingsimulation.CommandDropped(h.ctx, h.publisher, h.tick, logging.PlayerRef(connID), msg.ActionID, loggingsimulation.CommandDroppedPayload{
			Reason:  reason,
			Pending: h.loop.Pending(),
		})
	}
}

// advance runs one tick: staged commands first, then every room's step.
func (h *Hub) advance(now time.Time) {
	budget := h.cfg.TickInterval
	dt := now.Sub(h.lastTick)
	if dt <= 0 {
		dt = budget
	}
	if dt > maxTickDeltaFactor*budget {
		dt = maxTickDeltaFactor * budget
	}
	h.lastTick = now
	h.tick++

	result := h.loop.Advance(sim.LoopTickContext{Tick: h.tick, Now: now, Delta: dt.Seconds()})
	h.telemetry.RecordTick(result.Duration, len(result.Commands), result.OverBudget())
	if result.OverBudget() {
		h.overrunStreak++
		loggingsimulation.TickBudgetOverrun(h.ctx, h.publisher, h.tick, loggingsimulation.TickBudgetOverrunPayload{
			DurationMillis: result.Duration.Milliseconds(),
			BudgetMillis:   result.Budget.Milliseconds(),
			Ratio:          float64(result.Duration) / float64(result.Budget),
			Streak:         h.overrunStreak,
		})
	} else {
		h.overrunStreak = 0
	}

	h.maybeSave(now)
	h.publishStatus()
}

func (h *Hub) applyCommand(ctx sim.LoopTickContext, cmd sim.Command) {
	var room *game.Room
	playerID := ""
	if binding, ok := h.sessions.Binding(cmd.ActorID); ok {
		room, _ = h.registry.Get(binding.RoomID)
		playerID = binding.PlayerID
	}
	result := actions.Apply(room, playerID, cmd.Action, ctx.Now)
	h.sendMessage(cmd.ActorID, &proto.Ack{
		ActionID:  result.ActionID,
		OK:        result.OK,
		Duplicate: result.Duplicate,
		Reason:    result.Reason,
		GoldDelta: result.GoldDelta,
	})

	roomID := ""
	if room != nil {
		roomID = room.ID
	}
	actor := logging.PlayerRef(playerID)
	if !result.OK {
		loggingeconomy.ActionRejected(h.ctx, h.publisher, ctx.Tick, roomID, cmd.Action.ActionID, actor, loggingeconomy.ActionRejectedPayload{
			Kind:   string(cmd.Action.Kind),
			Lane:   string(cmd.Action.Lane),
			Slot:   cmd.Action.Slot,
			Reason: result.Reason,
		})
		return
	}
	if result.Duplicate {
		return
	}
	h.dirty = true
	payload := loggingeconomy.TowerPayload{
		TowerType: string(result.TowerType),
		Lane:      string(cmd.Action.Lane),
		Slot:      cmd.Action.Slot,
		GoldDelta: result.GoldDelta,
		TeamGold:  room.TeamGold,
	}
	switch result.Kind {
	case game.ActionBuild:
		loggingeconomy.TowerBuilt(h.ctx, h.publisher, ctx.Tick, roomID, result.ActionID, actor, payload)
	case game.ActionSell:
		loggingeconomy.TowerSold(h.ctx, h.publisher, ctx.Tick, roomID, result.ActionID, actor, payload)
	}
}

func (h *Hub) stepRooms(ctx sim.LoopTickContext) {
	env := sim.Env{
		Now:   ctx.Now,
		Delta: ctx.Delta,
		Grace: h.cfg.GracePeriod,
		RNG:   h.rng,
	}
	for _, room := range h.registry.Rooms() {
		result := sim.StepRoom(room, env)
		if result.Dirty() {
			h.dirty = true
		}
		h.telemetry.RecordCombat(len(result.Kills), len(result.Leaks))
		for _, playerID := range result.Evicted {
			h.sessions.ForgetPlayer(room.ID, playerID)
			logginglifecycle.PlayerEvicted(h.ctx, h.publisher, ctx.Tick, room.ID, logging.PlayerRef(playerID))
			h.notice(room.ID, "A lane was freed after its defender timed out")
		}
		if wave := result.WaveCleared; wave > 0 {
			bonus := game.WaveClearBonus(wave)
			loggingsimulation.WaveCleared(h.ctx, h.publisher, ctx.Tick, room.ID, loggingsimulation.WavePayload{Wave: wave, CoreHP: room.CoreHP})
			loggingeconomy.WaveBonus(h.ctx, h.publisher, ctx.Tick, room.ID, loggingeconomy.WaveBonusPayload{Wave: wave, Bonus: bonus, TeamGold: room.TeamGold})
		}
		if wave := result.WaveStarted; wave > 0 {
			loggingsimulation.WaveStarted(h.ctx, h.publisher, ctx.Tick, room.ID, loggingsimulation.WavePayload{
				Wave:    wave,
				Credits: room.RemainingCredits(),
				CoreHP:  room.CoreHP,
			})
		}
		if result.Defeated {
			loggingsimulation.Defeat(h.ctx, h.publisher, ctx.Tick, room.ID, loggingsimulation.WavePayload{Wave: room.Wave, CoreHP: room.CoreHP})
			h.notice(room.ID, fmt.Sprintf("The core has fallen on wave %d", room.Wave))
		}
	}

	for _, roomID := range h.registry.SweepIdle(ctx.Now) {
		h.sessions.ForgetRoom(roomID)
		h.dirty = true
		logginglifecycle.RoomDestroyed(h.ctx, h.publisher, ctx.Tick, roomID, logginglifecycle.RoomPayload{Reason: "idle"})
	}
}

func (h *Hub) maybeSave(now time.Time) {
	if h.writer == nil || !h.dirty {
		return
	}
	if !h.lastSave.IsZero() && now.Sub(h.lastSave) < h.cfg.SaveDebounce {
		return
	}
	doc := persist.Capture(h.registry.Rooms(), now)
	h.lastDoc = &doc
	h.writer.Submit(doc)
	h.dirty = false
	h.lastSave = now
}

func (h *Hub) broadcastRooms(now time.Time) {
	for _, room := range h.registry.Rooms() {
		conns := h.sessions.Connections(room.ID)
		if len(conns) == 0 {
			continue
		}
		data, err := proto.Encode(&proto.State{Room: proto.NewRoomState(room), ServerTime: now.UnixMilli()})
		if err != nil {
			h.logger.Printf("failed to encode state for room %s: %v", room.ID, err)
			continue
		}
		for _, connID := range conns {
			h.send(connID, data)
		}
		h.telemetry.RecordBroadcast(len(data)*len(conns), len(conns))
	}
}

func (h *Hub) broadcastLobby() {
	if len(h.clients) == 0 {
		return
	}
	data, err := h.roomList()
	if err != nil {
		h.logger.Printf("failed to encode room list: %v", err)
		return
	}
	for connID := range h.clients {
		h.send(connID, data)
	}
	h.telemetry.RecordBroadcast(len(data)*len(h.clients), len(h.clients))
}

func (h *Hub) roomList() ([]byte, error) {
	summaries := h.registry.Summaries()
	list := &proto.RoomList{Rooms: make([]proto.RoomSummary, 0, len(summaries))}
	for _, summary := range summaries {
		list.Rooms = append(list.Rooms, proto.NewRoomSummary(summary))
	}
	return proto.Encode(list)
}

func (h *Hub) sendRoomList(connID string) {
	data, err := h.roomList()
	if err != nil {
		h.logger.Printf("failed to encode room list: %v", err)
		return
	}
	h.send(connID, data)
}

func (h *Hub) notice(roomID, text string) {
	data, err := proto.Encode(&proto.Notice{RoomID: roomID, Text: text})
	if err != nil {
		return
	}
	for _, connID := range h.sessions.Connections(roomID) {
		h.send(connID, data)
	}
}

func (h *Hub) sendError(connID, message string) {
	h.sendMessage(connID, &proto.Error{Message: message})
}

func (h *Hub) sendMessage(connID string, msg proto.ServerMessage) {
	data, err := proto.Encode(msg)
	if err != nil {
		h.logger.Printf("failed to encode %s for %s: %v", msg.ServerType(), connID, err)
		return
	}
	h.send(connID, data)
}

// send queues a frame; a full queue drops it and counts the drop.
func (h *Hub) send(connID string, data []byte) {
	state, ok := h.clients[connID]
	if !ok {
		return
	}
	if state.client.Send(data) {
		return
	}
	state.dropped++
	h.telemetry.RecordSendDrop()
	if state.dropped&(state.dropped-1) == 0 {
		loggingnetwork.SendQueueOverflow(h.ctx, h.publisher, connID, loggingnetwork.SendOverflowPayload{Dropped: state.dropped})
	}
}

func (h *Hub) publishStatus() {
	status := Status{
		Rooms:       h.registry.Len(),
		Connections: len(h.clients),
		Tick:        h.tick,
	}
	for _, room := range h.registry.Rooms() {
		status.Players += len(room.Players)
		status.Online += room.OnlineCount()
	}
	h.status.Store(&status)
}

func laneNames(lanes []game.Lane) []string {
	out := make([]string, len(lanes))
	for i, lane := range lanes {
		out[i] = string(lane)
	}
	return out
}
