package game

import "errors"

// Lane identifies one of the fixed enemy paths leading to the core.
type Lane string

const (
	LaneEast  Lane = "east"
	LaneWest  Lane = "west"
	LaneNorth Lane = "north"
	LaneSouth Lane = "south"
)

const (
	// SlotsPerLane is the number of build slots along every lane.
	SlotsPerLane = 8
	// MinPlayers and MaxPlayers bound room capacity.
	MinPlayers = 2
	MaxPlayers = 4
)

// laneOrder is the declared order used for lane assignment.
var laneOrder = [...]Lane{LaneEast, LaneWest, LaneNorth, LaneSouth}

// ErrInvalidCapacity is returned when a room is created with an unsupported
// player capacity.
var ErrInvalidCapacity = errors.New("invalid capacity")

// AllLanes returns every lane in declared order.
func AllLanes() []Lane {
	lanes := make([]Lane, len(laneOrder))
	copy(lanes, laneOrder[:])
	return lanes
}

// ValidCapacity reports whether n players is a supported room size.
func ValidCapacity(n int) bool {
	return n >= MinPlayers && n <= MaxPlayers
}

// ClampCapacity forces n into the supported capacity range.
func ClampCapacity(n int) int {
	if n < MinPlayers {
		return MinPlayers
	}
	if n > MaxPlayers {
		return MaxPlayers
	}
	return n
}

// ActiveLanes derives the lanes in play for a room of the given capacity.
// The result depends on capacity alone.
func ActiveLanes(capacity int) []Lane {
	n := ClampCapacity(capacity)
	lanes := make([]Lane, n)
	copy(lanes, laneOrder[:n])
	return lanes
}

// ParseLane resolves a wire lane name.
func ParseLane(value string) (Lane, bool) {
	for _, lane := range laneOrder {
		if string(lane) == value {
			return lane, true
		}
	}
	return "", false
}

// ContainsLane reports whether lane appears in lanes.
func ContainsLane(lanes []Lane, lane Lane) bool {
	for _, candidate := range lanes {
		if candidate == lane {
			return true
		}
	}
	return false
}

// ValidSlot reports whether slot indexes a build slot.
func ValidSlot(slot int) bool {
	return slot >= 0 && slot < SlotsPerLane
}

// SlotProgress is the position of a build slot along its lane, measured in
// the same [0,1] units as enemy progress.
func SlotProgress(slot int) float64 {
	return (float64(slot) + 0.5) / SlotsPerLane
}
