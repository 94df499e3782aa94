package server

import "time"

const (
	defaultTickInterval      = 100 * time.Millisecond
	defaultBroadcastInterval = 140 * time.Millisecond
	defaultLobbyInterval     = time.Second
	defaultSaveDebounce      = 2 * time.Second
	defaultGracePeriod       = 3 * time.Minute
	defaultIdleTimeout       = 20 * time.Minute
	defaultInboxSize         = 256

	// maxTickDeltaFactor caps the simulated delta after a stalled tick.
	maxTickDeltaFactor = 5

	defaultPlayerName = "Defender"
)
