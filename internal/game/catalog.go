package game

import (
	_ "embed"
	"fmt"
	"math"
	"sort"

	"gopkg.in/yaml.v3"
)

// TowerType names a buildable tower.
type TowerType string

const (
	TowerBolt    TowerType = "bolt"
	TowerCannon  TowerType = "cannon"
	TowerSnare   TowerType = "snare"
	TowerObelisk TowerType = "obelisk"
)

// TowerSpec holds the static stats of a tower type.
type TowerSpec struct {
	Type   TowerType `yaml:"type"`
	Cost   int       `yaml:"cost"`
	Damage float64   `yaml:"damage"`
	Range  float64   `yaml:"range"`
	Reload float64   `yaml:"reload"`
	Refund float64   `yaml:"refund"`
	MaxHP  float64   `yaml:"maxHp"`

	// Snare fields. A tower with Slow > 0 applies effects instead of damage.
	Slow           float64 `yaml:"slow"`
	Weaken         float64 `yaml:"weaken"`
	EffectDuration float64 `yaml:"effectDuration"`

	// Splash damage hits other enemies within Splash progress of the target.
	Splash       float64 `yaml:"splash"`
	SplashFactor float64 `yaml:"splashFactor"`
}

// IsSnare reports whether the tower applies slow/weaken instead of damage.
func (s TowerSpec) IsSnare() bool {
	return s.Slow > 0
}

// RefundAmount is the gold returned when the tower is sold.
func (s TowerSpec) RefundAmount() int {
	return int(math.Floor(float64(s.Cost) * s.Refund))
}

//go:embed towers.yaml
var towerCatalogYAML []byte

type towerCatalogFile struct {
	Towers []TowerSpec `yaml:"towers"`
}

var (
	towerCatalog = mustParseTowerCatalog(towerCatalogYAML)
	towerOrder   = sortedTowerTypes(towerCatalog)
)

// LookupTower returns the catalog entry for the provided tower type.
func LookupTower(towerType TowerType) (TowerSpec, bool) {
	spec, ok := towerCatalog[towerType]
	return spec, ok
}

// TowerTypes lists the catalog in a stable order.
func TowerTypes() []TowerType {
	types := make([]TowerType, len(towerOrder))
	copy(types, towerOrder)
	return types
}

func mustParseTowerCatalog(data []byte) map[TowerType]TowerSpec {
	catalog, err := parseTowerCatalog(data)
	if err != nil {
		panic(fmt.Sprintf("game: tower catalog: %v", err))
	}
	return catalog
}

func parseTowerCatalog(data []byte) (map[TowerType]TowerSpec, error) {
	var file towerCatalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if len(file.Towers) == 0 {
		return nil, fmt.Errorf("no towers defined")
	}
	catalog := make(map[TowerType]TowerSpec, len(file.Towers))
	for _, spec := range file.Towers {
		if spec.Type == "" {
			return nil, fmt.Errorf("tower without type")
		}
		if _, exists := catalog[spec.Type]; exists {
			return nil, fmt.Errorf("duplicate tower %q", spec.Type)
		}
		if spec.Cost <= 0 || spec.Reload <= 0 || spec.Range <= 0 || spec.MaxHP <= 0 {
			return nil, fmt.Errorf("tower %q: cost, reload, range and maxHp must be positive", spec.Type)
		}
		if spec.Refund < 0.55 || spec.Refund > 0.58 {
			return nil, fmt.Errorf("tower %q: refund %.2f outside [0.55, 0.58]", spec.Type, spec.Refund)
		}
		if spec.IsSnare() && (spec.Weaken < 1 || spec.EffectDuration <= 0) {
			return nil, fmt.Errorf("tower %q: snare needs weaken >= 1 and a duration", spec.Type)
		}
		if !spec.IsSnare() && spec.Damage <= 0 {
			return nil, fmt.Errorf("tower %q: damage must be positive", spec.Type)
		}
		catalog[spec.Type] = spec
	}
	return catalog, nil
}

func sortedTowerTypes(catalog map[TowerType]TowerSpec) []TowerType {
	types := make([]TowerType, 0, len(catalog))
	for t := range catalog {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool {
		ci, cj := catalog[types[i]].Cost, catalog[types[j]].Cost
		if ci != cj {
			return ci < cj
		}
		return types[i] < types[j]
	})
	return types
}
