package rooms

import (
	"sort"
	"time"

	"towerdefense/server/internal/game"
)

// Binding ties a connection to a player inside a room.
type Binding struct {
	ConnID   string
	RoomID   string
	PlayerID string
}

type playerKey struct {
	roomID   string
	playerID string
}

// JoinResult describes what a join did.
type JoinResult struct {
	Room   *game.Room
	Player *game.Player
	// Reconnected is set when an existing player record was resumed.
	Reconnected bool
	// Reset is set when a defeated room was restarted by this join.
	Reset bool
	// Replaced is the stale connection that previously held the player.
	Replaced string
	// Left is set when the connection was moved out of another room.
	Left *LeaveResult
}

// LeaveResult describes what a leave did.
type LeaveResult struct {
	Binding   Binding
	Player    *game.Player
	Destroyed bool
}

// Sessions binds connections to players and assigns lanes.
type Sessions struct {
	registry *Registry
	grace    time.Duration
	bindings map[string]Binding
	owners   map[playerKey]string
}

// NewSessions constructs a session manager over registry. Offline players
// keep their lane for grace.
func NewSessions(registry *Registry, grace time.Duration) *Sessions {
	return &Sessions{
		registry: registry,
		grace:    grace,
		bindings: make(map[string]Binding),
		owners:   make(map[playerKey]string),
	}
}

// Grace reports the reconnection window.
func (s *Sessions) Grace() time.Duration {
	return s.grace
}

// Binding returns the current binding of a connection.
func (s *Sessions) Binding(connID string) (Binding, bool) {
	binding, ok := s.bindings[connID]
	return binding, ok
}

// Connections lists the connections bound to a room in a stable order.
func (s *Sessions) Connections(roomID string) []string {
	var conns []string
	for connID, binding := range s.bindings {
		if binding.RoomID == roomID {
			conns = append(conns, connID)
		}
	}
	sort.Strings(conns)
	return conns
}

// Join binds connID to playerID inside roomID. An existing record for the
// player is resumed unchanged; otherwise a free lane is assigned. A
// connection bound elsewhere leaves its previous room only once the new
// seat is certain, so a failed join keeps the old membership.
func (s *Sessions) Join(connID, roomID, playerID, name string, now time.Time) (JoinResult, error) {
	room, ok := s.registry.Get(roomID)
	if !ok {
		return JoinResult{}, ErrRoomNotFound
	}
	var result JoinResult
	current, bound := s.bindings[connID]
	if bound && current.RoomID == roomID {
		if current.PlayerID == playerID {
			s.unbind(connID)
		} else {
			left, _ := s.Leave(connID, true, now)
			result.Left = &left
		}
		bound = false
	}

	player, exists := room.Players[playerID]
	var lane game.Lane
	if !exists {
		var err error
		if lane, err = s.freeLane(room, now); err != nil {
			return result, err
		}
	}
	if bound {
		left, _ := s.Leave(connID, true, now)
		result.Left = &left
	}
	if exists {
		result.Reconnected = true
	} else {
		player = game.NewPlayer(playerID, game.NormalizeName(name, "Defender"), lane, now)
		room.Players[playerID] = player
	}

	if room.Phase == game.PhaseDefeat {
		room.ResetRun()
		result.Reset = true
	}

	key := playerKey{roomID: roomID, playerID: playerID}
	if stale, held := s.owners[key]; held && stale != connID {
		delete(s.bindings, stale)
		result.Replaced = stale
	}
	if exists && name != "" {
		player.Name = game.NormalizeName(name, player.Name)
	}
	player.MarkOnline(now)
	s.bindings[connID] = Binding{ConnID: connID, RoomID: roomID, PlayerID: playerID}
	s.owners[key] = connID
	room.LastActiveAt = now

	result.Room = room
	result.Player = player
	return result, nil
}

// freeLane picks the first lane in declared order without a live owner.
// Owners offline past grace are dropped to make room.
func (s *Sessions) freeLane(room *game.Room, now time.Time) (game.Lane, error) {
	occupied := 0
	for _, player := range room.Players {
		if !player.GraceExpired(now, s.grace) {
			occupied++
		}
	}
	if occupied >= room.MaxPlayers {
		return "", ErrRoomFull
	}
	for _, lane := range room.ActiveLanes {
		owner := room.LaneOwner(lane)
		if owner == nil {
			return lane, nil
		}
		if owner.GraceExpired(now, s.grace) {
			delete(room.Players, owner.ID)
			s.forget(room.ID, owner.ID)
			return lane, nil
		}
	}
	return "", ErrNoFreeLane
}

// Leave unbinds connID. With destroy the player record is deleted and its
// lane freed; otherwise the player goes offline and its grace period starts.
func (s *Sessions) Leave(connID string, destroy bool, now time.Time) (LeaveResult, bool) {
	binding, ok := s.bindings[connID]
	if !ok {
		return LeaveResult{}, false
	}
	s.unbind(connID)
	result := LeaveResult{Binding: binding, Destroyed: destroy}
	room, ok := s.registry.Get(binding.RoomID)
	if !ok {
		return result, true
	}
	player, ok := room.Players[binding.PlayerID]
	if !ok {
		return result, true
	}
	result.Player = player
	if destroy {
		delete(room.Players, binding.PlayerID)
	} else {
		player.MarkOffline(now)
	}
	room.LastActiveAt = now
	return result, true
}

// ForgetPlayer drops bookkeeping for a player evicted by the grace sweep.
func (s *Sessions) ForgetPlayer(roomID, playerID string) {
	s.forget(roomID, playerID)
}

// ForgetRoom drops every binding into a removed room and returns the
// affected connections.
func (s *Sessions) ForgetRoom(roomID string) []string {
	conns := s.Connections(roomID)
	for _, connID := range conns {
		s.unbind(connID)
	}
	for key := range s.owners {
		if key.roomID == roomID {
			delete(s.owners, key)
		}
	}
	return conns
}

func (s *Sessions) forget(roomID, playerID string) {
	key := playerKey{roomID: roomID, playerID: playerID}
	if connID, ok := s.owners[key]; ok {
		delete(s.bindings, connID)
		delete(s.owners, key)
	}
}

func (s *Sessions) unbind(connID string) {
	binding, ok := s.bindings[connID]
	if !ok {
		return
	}
	delete(s.bindings, connID)
	key := playerKey{roomID: binding.RoomID, playerID: binding.PlayerID}
	if s.owners[key] == connID {
		delete(s.owners, key)
	}
}
