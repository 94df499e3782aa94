package sim

import (
	"math/rand"

	"towerdefense/server/internal/telemetry"
	"towerdefense/server/logging"
)

// Deps carries shared infrastructure dependencies required by the simulation loop.
type Deps struct {
	Logger  telemetry.Logger
	Metrics telemetry.Metrics
	Clock   logging.Clock
	RNG     *rand.Rand
}

func (d Deps) clock() logging.Clock {
	if d.Clock == nil {
		return logging.SystemClock{}
	}
	return d.Clock
}
