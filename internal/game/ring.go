package game

// RecentActionLimit bounds the per-player dedup window.
const RecentActionLimit = 240

// ActionKind is the verb of a client command.
type ActionKind string

const (
	ActionBuild ActionKind = "build"
	ActionSell  ActionKind = "sell"
)

// Action is a build or sell command as submitted by a client. Lane and slot
// are unvalidated.
type Action struct {
	ActionID  string
	Lane      Lane
	Slot      int
	Kind      ActionKind
	TowerType TowerType
}

// ActionRecord remembers an applied action for deduplication.
type ActionRecord struct {
	ActionID string
	Lane     Lane
	Slot     int
	Kind     ActionKind
}

// ActionRing is a fixed-capacity FIFO of applied actions with constant-time
// membership checks. The oldest record is evicted when full.
type ActionRing struct {
	records []ActionRecord
	head    int
	count   int
	index   map[string]struct{}
}

// NewActionRing constructs a ring holding up to capacity records.
func NewActionRing(capacity int) *ActionRing {
	if capacity < 1 {
		capacity = RecentActionLimit
	}
	return &ActionRing{
		records: make([]ActionRecord, capacity),
		index:   make(map[string]struct{}, capacity),
	}
}

// Contains reports whether actionID is inside the window.
func (r *ActionRing) Contains(actionID string) bool {
	if r == nil {
		return false
	}
	_, ok := r.index[actionID]
	return ok
}

// Add appends a record. Records whose id is already present are ignored.
func (r *ActionRing) Add(record ActionRecord) {
	if r == nil || record.ActionID == "" || r.Contains(record.ActionID) {
		return
	}
	capacity := len(r.records)
	if r.count == capacity {
		evicted := r.records[r.head]
		delete(r.index, evicted.ActionID)
		r.records[r.head] = record
		r.head = (r.head + 1) % capacity
	} else {
		r.records[(r.head+r.count)%capacity] = record
		r.count++
	}
	r.index[record.ActionID] = struct{}{}
}

// Len reports the number of records held.
func (r *ActionRing) Len() int {
	if r == nil {
		return 0
	}
	return r.count
}

// Records returns the held records, oldest first.
func (r *ActionRing) Records() []ActionRecord {
	if r == nil || r.count == 0 {
		return nil
	}
	out := make([]ActionRecord, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.records[(r.head+i)%len(r.records)]
	}
	return out
}
