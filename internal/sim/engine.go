package sim

import (
	"math"
	"math/rand"
	"sort"
	"time"

	"towerdefense/server/internal/game"
)

// Env carries the per-tick inputs of a room step.
type Env struct {
	Now   time.Time
	Delta float64
	Grace time.Duration
	RNG   *rand.Rand
}

// Kill records an enemy destroyed by a tower.
type Kill struct {
	EnemyID uint64
	Kind    game.EnemyKind
	Lane    game.Lane
	Owner   string
	Reward  int
}

// Leak records an enemy that reached the core.
type Leak struct {
	EnemyID uint64
	Kind    game.EnemyKind
	Lane    game.Lane
	Damage  int
}

// StepResult summarises what a room step changed.
type StepResult struct {
	Evicted     []string
	Spawned     int
	Kills       []Kill
	Leaks       []Leak
	WaveCleared int
	WaveStarted int
	Defeated    bool
	// Active is set when the room had at least one online player and its
	// run progressed.
	Active bool
}

// Dirty reports whether the step mutated persisted state.
func (r StepResult) Dirty() bool {
	return r.Active || len(r.Evicted) > 0
}

// StepRoom advances one room by env.Delta seconds: grace sweep, wave
// progression, tower fire, then enemy movement. Rooms without an online
// player only run the grace sweep.
func StepRoom(room *game.Room, env Env) StepResult {
	var result StepResult
	if room == nil {
		return result
	}
	result.Evicted = sweepGrace(room, env.Now, env.Grace)
	if room.Phase != game.PhaseRunning || room.OnlineCount() == 0 {
		return result
	}
	result.Active = true
	advanceWave(room, env, &result)
	fireTowers(room, env.Delta, &result)
	moveEnemies(room, env.Delta, &result)
	room.LastActiveAt = env.Now
	return result
}

func sweepGrace(room *game.Room, now time.Time, grace time.Duration) []string {
	var evicted []string
	for id, player := range room.Players {
		if player.GraceExpired(now, grace) {
			delete(room.Players, id)
			evicted = append(evicted, id)
		}
	}
	sort.Strings(evicted)
	return evicted
}

func advanceWave(room *game.Room, env Env, result *StepResult) {
	switch room.WaveState {
	case game.WaveSpawning:
		if room.RemainingCredits() > 0 {
			room.SpawnTimer -= env.Delta
			if room.SpawnTimer <= 0 {
				result.Spawned += spawnRound(room, env.RNG)
				room.SpawnTimer += game.SpawnInterval(room.Wave)
				if room.SpawnTimer <= 0 {
					room.SpawnTimer = game.SpawnInterval(room.Wave)
				}
			}
			return
		}
		if len(room.Enemies) > 0 {
			return
		}
		room.WaveState = game.WaveCooldown
		room.WaveTimer = game.WaveCooldownSeconds
		room.TeamGold += game.WaveClearBonus(room.Wave)
		result.WaveCleared = room.Wave
	case game.WaveCooldown:
		room.WaveTimer -= env.Delta
		if room.WaveTimer <= 0 {
			room.StartWave(room.Wave + 1)
			result.WaveStarted = room.Wave
		}
	}
}

// spawnRound emits one enemy in every lane with credits left. The first
// ForcedLords spawns of a lane are lords.
func spawnRound(room *game.Room, rng *rand.Rand) int {
	total := game.SpawnCredits(room.Wave)
	lords := game.ForcedLords(room.Wave)
	spawned := 0
	for _, lane := range room.ActiveLanes {
		credits := room.SpawnCredits[lane]
		if credits <= 0 {
			continue
		}
		kind := game.KindLord
		if total-credits >= lords {
			roll := 0.0
			if rng != nil {
				roll = rng.Float64()
			}
			kind = game.DrawKind(room.Wave, roll)
		}
		room.SpawnCredits[lane] = credits - 1
		room.NextEnemyID++
		room.Enemies = append(room.Enemies, game.NewEnemy(room.NextEnemyID, lane, kind, room.Wave))
		spawned++
	}
	return spawned
}

func fireTowers(room *game.Room, dt float64, result *StepResult) {
	killers := make(map[uint64]string)
	for _, lane := range room.ActiveLanes {
		slots := room.Towers[lane]
		if slots == nil {
			continue
		}
		for slot, tower := range slots {
			if tower == nil {
				continue
			}
			spec, ok := game.LookupTower(tower.Type)
			if !ok {
				continue
			}
			if tower.Cooldown > 0 {
				tower.Cooldown = math.Max(0, tower.Cooldown-dt)
				if tower.Cooldown > 0 {
					continue
				}
			}
			target := selectTarget(room.Enemies, lane, game.SlotProgress(slot), spec.Range)
			if target == nil {
				continue
			}
			if spec.IsSnare() {
				target.ApplySnare(spec.Slow, spec.Weaken, spec.EffectDuration)
			} else {
				damage(target, spec.Damage, tower.Owner, killers)
				if spec.Splash > 0 {
					for _, other := range room.Enemies {
						if other == target || other.Lane != lane || !other.Alive() {
							continue
						}
						if math.Abs(other.Progress-target.Progress) <= spec.Splash {
							damage(other, spec.Damage*spec.SplashFactor, tower.Owner, killers)
						}
					}
				}
			}
			tower.Cooldown = spec.Reload
		}
	}
	if len(killers) > 0 {
		collectKills(room, killers, result)
	}
}

// selectTarget picks the live enemy nearest the core inside the window,
// preferring the lowest id on equal progress.
func selectTarget(enemies []*game.Enemy, lane game.Lane, center, reach float64) *game.Enemy {
	var best *game.Enemy
	for _, enemy := range enemies {
		if enemy.Lane != lane || !enemy.Alive() {
			continue
		}
		if math.Abs(enemy.Progress-center) > reach {
			continue
		}
		if best == nil || enemy.Progress > best.Progress ||
			(enemy.Progress == best.Progress && enemy.ID < best.ID) {
			best = enemy
		}
	}
	return best
}

func damage(enemy *game.Enemy, amount float64, owner string, killers map[uint64]string) {
	if !enemy.Alive() {
		return
	}
	enemy.HP -= amount * enemy.DamageFactor()
	if !enemy.Alive() {
		killers[enemy.ID] = owner
	}
}

func collectKills(room *game.Room, killers map[uint64]string, result *StepResult) {
	survivors := room.Enemies[:0]
	for _, enemy := range room.Enemies {
		owner, killed := killers[enemy.ID]
		if !killed {
			survivors = append(survivors, enemy)
			continue
		}
		room.TeamGold += enemy.Reward
		if player, ok := room.Players[owner]; ok {
			player.Kills++
		}
		result.Kills = append(result.Kills, Kill{
			EnemyID: enemy.ID,
			Kind:    enemy.Kind,
			Lane:    enemy.Lane,
			Owner:   owner,
			Reward:  enemy.Reward,
		})
	}
	clearTail(room.Enemies, len(survivors))
	room.Enemies = survivors
}

func moveEnemies(room *game.Room, dt float64, result *StepResult) {
	survivors := room.Enemies[:0]
	for _, enemy := range room.Enemies {
		enemy.Progress += enemy.Speed * enemy.MovementFactor() * dt
		enemy.DecayEffects(dt)
		if enemy.Progress < 1 {
			survivors = append(survivors, enemy)
			continue
		}
		room.CoreHP -= enemy.CoreDamage
		result.Leaks = append(result.Leaks, Leak{
			EnemyID: enemy.ID,
			Kind:    enemy.Kind,
			Lane:    enemy.Lane,
			Damage:  enemy.CoreDamage,
		})
	}
	clearTail(room.Enemies, len(survivors))
	room.Enemies = survivors
	if room.CoreHP <= 0 {
		room.CoreHP = 0
		room.Phase = game.PhaseDefeat
		room.WaveState = game.WaveEnded
		result.Defeated = true
	}
}

func clearTail(enemies []*game.Enemy, from int) {
	for i := from; i < len(enemies); i++ {
		enemies[i] = nil
	}
}
