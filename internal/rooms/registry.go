// Package rooms owns the set of live rooms and the binding of connections to
// players inside them. Nothing here is safe for concurrent use: the hub
// goroutine is the only caller.
package rooms

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"towerdefense/server/internal/game"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomFull     = errors.New("room full")
	ErrNoFreeLane   = errors.New("no free lane")
)

const (
	codeLength   = 8
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// Registry holds rooms by code.
type Registry struct {
	rooms       map[string]*game.Room
	idleTimeout time.Duration
	newCode     func() (string, error)
}

// NewRegistry constructs an empty registry. Rooms with no players that have
// been inactive for idleTimeout are removed by SweepIdle.
func NewRegistry(idleTimeout time.Duration) *Registry {
	return &Registry{
		rooms:       make(map[string]*game.Room),
		idleTimeout: idleTimeout,
		newCode:     generateCode,
	}
}

// Create allocates a unique code and starts a room on wave 1.
func (r *Registry) Create(name string, capacity int, now time.Time) (*game.Room, error) {
	if !game.ValidCapacity(capacity) {
		return nil, game.ErrInvalidCapacity
	}
	var id string
	for attempt := 0; ; attempt++ {
		code, err := r.newCode()
		if err != nil {
			return nil, fmt.Errorf("allocate room code: %w", err)
		}
		if _, taken := r.rooms[code]; !taken {
			id = code
			break
		}
		if attempt >= 32 {
			return nil, fmt.Errorf("allocate room code: too many collisions")
		}
	}
	room, err := game.NewRoom(id, name, capacity, now)
	if err != nil {
		return nil, err
	}
	r.rooms[id] = room
	return room, nil
}

// Get looks up a room by code.
func (r *Registry) Get(id string) (*game.Room, bool) {
	room, ok := r.rooms[id]
	return room, ok
}

// Remove tears down a room, reporting whether it existed.
func (r *Registry) Remove(id string) bool {
	if _, ok := r.rooms[id]; !ok {
		return false
	}
	delete(r.rooms, id)
	return true
}

// Len reports the number of rooms.
func (r *Registry) Len() int {
	return len(r.rooms)
}

// Rooms lists rooms oldest first.
func (r *Registry) Rooms() []*game.Room {
	list := make([]*game.Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		list = append(list, room)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
	return list
}

// Summaries returns the lobby view of every room.
func (r *Registry) Summaries() []game.Summary {
	rooms := r.Rooms()
	summaries := make([]game.Summary, 0, len(rooms))
	for _, room := range rooms {
		summaries = append(summaries, room.Summary())
	}
	return summaries
}

// SweepIdle removes rooms without players that have been inactive past the
// idle timeout and returns their ids.
func (r *Registry) SweepIdle(now time.Time) []string {
	if r.idleTimeout <= 0 {
		return nil
	}
	var removed []string
	for id, room := range r.rooms {
		if len(room.Players) == 0 && now.Sub(room.LastActiveAt) >= r.idleTimeout {
			removed = append(removed, id)
		}
	}
	for _, id := range removed {
		r.Remove(id)
	}
	sort.Strings(removed)
	return removed
}

// Hydrate installs restored rooms. Rooms whose code is already taken are
// skipped; the number installed is returned.
func (r *Registry) Hydrate(rooms []*game.Room) int {
	installed := 0
	for _, room := range rooms {
		if room == nil || room.ID == "" {
			continue
		}
		if _, taken := r.rooms[room.ID]; taken {
			continue
		}
		r.rooms[room.ID] = room
		installed++
	}
	return installed
}

func generateCode() (string, error) {
	limit := big.NewInt(int64(len(codeAlphabet)))
	code := make([]byte, codeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		code[i] = codeAlphabet[n.Int64()]
	}
	return string(code), nil
}
