package game

import "math"

// EnemyKind names an enemy archetype.
type EnemyKind string

const (
	KindBat     EnemyKind = "bat"
	KindHopper  EnemyKind = "hopper"
	KindBrute   EnemyKind = "brute"
	KindElder   EnemyKind = "elder"
	KindRaider  EnemyKind = "raider"
	KindCrusher EnemyKind = "crusher"
	KindLord    EnemyKind = "lord"
)

// EnemyArchetype holds the wave-1 stats of an enemy kind and its spawn weight
// schedule. Speed is lane progress per second.
type EnemyArchetype struct {
	Kind       EnemyKind
	HP         float64
	Speed      float64
	Reward     int
	CoreDamage int

	// Weight schedule: zero before UnlockWave, then grows by WeightGrowth per
	// wave until it reaches MaxWeight. BaseWeight applies from wave 1.
	BaseWeight   float64
	UnlockWave   int
	WeightGrowth float64
	MaxWeight    float64
}

// drawOrder lists the randomly drawn kinds from lowest to highest tier.
var drawOrder = []EnemyArchetype{
	{Kind: KindBat, HP: 30, Speed: 0.105, Reward: 6, CoreDamage: 3, BaseWeight: 1},
	{Kind: KindHopper, HP: 22, Speed: 0.15, Reward: 7, CoreDamage: 4, UnlockWave: 1, WeightGrowth: 0.1, MaxWeight: 0.9},
	{Kind: KindBrute, HP: 90, Speed: 0.07, Reward: 12, CoreDamage: 8, UnlockWave: 3, WeightGrowth: 0.08, MaxWeight: 0.8},
	{Kind: KindElder, HP: 70, Speed: 0.09, Reward: 14, CoreDamage: 6, UnlockWave: 5, WeightGrowth: 0.06, MaxWeight: 0.6},
	{Kind: KindRaider, HP: 55, Speed: 0.14, Reward: 13, CoreDamage: 7, UnlockWave: 7, WeightGrowth: 0.06, MaxWeight: 0.6},
	{Kind: KindCrusher, HP: 220, Speed: 0.055, Reward: 26, CoreDamage: 14, UnlockWave: 10, WeightGrowth: 0.04, MaxWeight: 0.5},
}

var lordArchetype = EnemyArchetype{Kind: KindLord, HP: 900, Speed: 0.05, Reward: 120, CoreDamage: 35}

const (
	earlyWaveLimit = 10
	lateWaveLimit  = 25
	maxSpeedScale  = 2.2
)

// Archetype looks up an enemy kind.
func Archetype(kind EnemyKind) (EnemyArchetype, bool) {
	if kind == KindLord {
		return lordArchetype, true
	}
	for _, archetype := range drawOrder {
		if archetype.Kind == kind {
			return archetype, true
		}
	}
	return EnemyArchetype{}, false
}

// Weight reports the spawn weight of the archetype on the given wave.
func (a EnemyArchetype) Weight(wave int) float64 {
	if a.BaseWeight > 0 {
		return a.BaseWeight
	}
	if a.UnlockWave <= 0 || wave < a.UnlockWave {
		return 0
	}
	return math.Min(a.MaxWeight, a.WeightGrowth*float64(wave-a.UnlockWave+1))
}

// DrawKind picks an archetype by cumulative-probability draw. roll is a
// uniform sample in [0,1).
func DrawKind(wave int, roll float64) EnemyKind {
	total := 0.0
	for _, archetype := range drawOrder {
		total += archetype.Weight(wave)
	}
	target := roll * total
	cumulative := 0.0
	for _, archetype := range drawOrder {
		weight := archetype.Weight(wave)
		if weight <= 0 {
			continue
		}
		cumulative += weight
		if target < cumulative {
			return archetype.Kind
		}
	}
	return drawOrder[0].Kind
}

// ForcedLords is the number of lord spawns each lane receives on the wave.
func ForcedLords(wave int) int {
	lords := 0
	if wave > 0 && wave%10 == 0 {
		lords++
	}
	if wave >= 30 && wave%5 == 0 {
		lords++
	}
	return lords
}

// HPScale is the enemy hit point multiplier for a wave.
func HPScale(wave int) float64 {
	return threeRegimeCurve(wave, curve{early: 0.18, late: 0.32, lateQuad: 0.012, extended: 0.7, extendedQuad: 0.04})
}

// SpeedScale is the enemy speed multiplier for a wave, capped at maxSpeedScale.
func SpeedScale(wave int) float64 {
	scale := threeRegimeCurve(wave, curve{early: 0.015, late: 0.018, lateQuad: 0.0006, extended: 0.04, extendedQuad: 0.001})
	return math.Min(scale, maxSpeedScale)
}

// RewardScale is the kill reward multiplier for a wave.
func RewardScale(wave int) float64 {
	return threeRegimeCurve(wave, curve{early: 0.08, late: 0.1, lateQuad: 0.003, extended: 0.2, extendedQuad: 0.006})
}

type curve struct {
	early        float64
	late         float64
	lateQuad     float64
	extended     float64
	extendedQuad float64
}

// threeRegimeCurve is linear through earlyWaveLimit, linear plus quadratic
// through lateWaveLimit and steeper beyond. Each regime starts at the value
// the previous one ended on, and its opening slope is at least the closing
// slope of the one before.
func threeRegimeCurve(wave int, c curve) float64 {
	w := float64(max(wave, 1))
	early := func(x float64) float64 { return 1 + c.early*(x-1) }
	late := func(x float64) float64 {
		d := x - earlyWaveLimit
		return early(earlyWaveLimit) + c.late*d + c.lateQuad*d*d
	}
	switch {
	case w <= earlyWaveLimit:
		return early(w)
	case w <= lateWaveLimit:
		return late(w)
	default:
		d := w - lateWaveLimit
		return late(lateWaveLimit) + c.extended*d + c.extendedQuad*d*d
	}
}

// SpawnCredits is the number of enemies each active lane spawns on a wave.
func SpawnCredits(wave int) int {
	w := max(wave, 1)
	return 4 + w + w/4
}

// SpawnInterval is the delay in seconds between spawn rounds on a wave.
func SpawnInterval(wave int) float64 {
	return math.Max(0.35, 1.2-0.03*float64(max(wave, 1)))
}

// WaveClearBonus is the gold granted when a wave enters cooldown.
func WaveClearBonus(wave int) int {
	return 20 + 2*max(wave, 1)
}

// Enemy is a live enemy walking a lane. Progress runs from 0 at the spawn
// point to 1 at the core.
type Enemy struct {
	ID         uint64
	Lane       Lane
	Kind       EnemyKind
	Progress   float64
	HP         float64
	MaxHP      float64
	Speed      float64
	Reward     int
	CoreDamage int

	SlowMultiplier   float64
	SlowTimer        float64
	WeakenMultiplier float64
	WeakenTimer      float64
}

// NewEnemy scales an archetype to the wave.
func NewEnemy(id uint64, lane Lane, kind EnemyKind, wave int) *Enemy {
	archetype, ok := Archetype(kind)
	if !ok {
		archetype = drawOrder[0]
	}
	hp := archetype.HP * HPScale(wave)
	return &Enemy{
		ID:               id,
		Lane:             lane,
		Kind:             archetype.Kind,
		HP:               hp,
		MaxHP:            hp,
		Speed:            archetype.Speed * SpeedScale(wave),
		Reward:           int(math.Round(float64(archetype.Reward) * RewardScale(wave))),
		CoreDamage:       archetype.CoreDamage,
		SlowMultiplier:   1,
		WeakenMultiplier: 1,
	}
}

// Alive reports whether the enemy still has hit points.
func (e *Enemy) Alive() bool {
	return e.HP > 0
}

// MovementFactor is the active slow multiplier.
func (e *Enemy) MovementFactor() float64 {
	if e.SlowTimer > 0 {
		return e.SlowMultiplier
	}
	return 1
}

// DamageFactor is the active weaken multiplier.
func (e *Enemy) DamageFactor() float64 {
	if e.WeakenTimer > 0 {
		return e.WeakenMultiplier
	}
	return 1
}

// ApplySnare sets slow and weaken effects for duration seconds, keeping the
// stronger effect if one is already active.
func (e *Enemy) ApplySnare(slow, weaken, duration float64) {
	if e.SlowTimer <= 0 || slow <= e.SlowMultiplier {
		e.SlowMultiplier = slow
	}
	e.SlowTimer = math.Max(e.SlowTimer, duration)
	if e.WeakenTimer <= 0 || weaken >= e.WeakenMultiplier {
		e.WeakenMultiplier = weaken
	}
	e.WeakenTimer = math.Max(e.WeakenTimer, duration)
}

// DecayEffects counts effect timers down by dt, clearing expired effects.
func (e *Enemy) DecayEffects(dt float64) {
	if e.SlowTimer > 0 {
		e.SlowTimer = math.Max(0, e.SlowTimer-dt)
		if e.SlowTimer == 0 {
			e.SlowMultiplier = 1
		}
	}
	if e.WeakenTimer > 0 {
		e.WeakenTimer = math.Max(0, e.WeakenTimer-dt)
		if e.WeakenTimer == 0 {
			e.WeakenMultiplier = 1
		}
	}
}
