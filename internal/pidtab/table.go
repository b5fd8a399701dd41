package pidtab

import (
	"errors"
	"fmt"
	"sync"

	"vtunerd/internal/message"
)

// MaxCapacity is the largest table a PIDList message can describe with a
// trailing zero entry.
const MaxCapacity = message.PIDListLen - 1

const unusedSlot uint16 = 0xFFFF

// ErrTableFull reports that no slot was free for a new PID. It is a soft
// failure: the caller logs it and carries on.
var ErrTableFull = errors.New("pid table full")

// Snapshot is a compacted copy of the table taken at one version.
type Snapshot struct {
	PIDs    []uint16
	Version uint64
}

// Message renders the snapshot as a PIDList message: entries in slot order,
// zero-terminated, with an explicit count.
func (s Snapshot) Message() message.Message {
	msg := message.New(message.KindPIDList)
	n := copy(msg.Body.PIDList[:MaxCapacity], s.PIDs)
	msg.Body.PIDCount = uint8(n)
	return msg
}

// Table is a fixed-capacity set of PIDs. Every mutation bumps the version.
type Table struct {
	mu      sync.Mutex
	slots   []uint16
	version uint64
}

// NewTable returns an empty table with the given capacity, clamped to
// [1, MaxCapacity].
func NewTable(capacity int) *Table {
	if capacity < 1 {
		capacity = 1
	}
	if capacity > MaxCapacity {
		capacity = MaxCapacity
	}
	slots := make([]uint16, capacity)
	for i := range slots {
		slots[i] = unusedSlot
	}
	return &Table{slots: slots}
}

// Add inserts pid. It reports true when the table changed and false when pid
// was already present. PIDs above MaxPID are rejected with ErrInvalidPID.
func (t *Table) Add(pid uint16) (bool, error) {
	if pid > MaxPID {
		return false, fmt.Errorf("%w: %#x", ErrInvalidPID, pid)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	free := -1
	for i, slot := range t.slots {
		if slot == pid {
			return false, nil
		}
		if slot == unusedSlot && free < 0 {
			free = i
		}
	}
	if free < 0 {
		return false, fmt.Errorf("%w: cannot track pid %#x (capacity %d)", ErrTableFull, pid, len(t.slots))
	}
	t.slots[free] = pid
	t.version++
	return true, nil
}

// Remove drops pid. It reports true when the table changed.
func (t *Table) Remove(pid uint16) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, slot := range t.slots {
		if slot == pid {
			t.slots[i] = unusedSlot
			t.version++
			return true
		}
	}
	return false
}

// Contains reports whether pid is tracked.
func (t *Table) Contains(pid uint16) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, slot := range t.slots {
		if slot == pid {
			return true
		}
	}
	return false
}

// Clear empties the table.
func (t *Table) Clear() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	changed := false
	for i, slot := range t.slots {
		if slot != unusedSlot {
			t.slots[i] = unusedSlot
			changed = true
		}
	}
	if changed {
		t.version++
	}
	return changed
}

// Snapshot returns the tracked PIDs in slot order.
func (t *Table) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	pids := make([]uint16, 0, len(t.slots))
	for _, slot := range t.slots {
		if slot != unusedSlot {
			pids = append(pids, slot)
		}
	}
	return Snapshot{PIDs: pids, Version: t.version}
}

// Len returns the number of tracked PIDs.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, slot := range t.slots {
		if slot != unusedSlot {
			n++
		}
	}
	return n
}

// Capacity returns the number of slots.
func (t *Table) Capacity() int {
	return len(t.slots)
}

// Version returns the mutation counter.
func (t *Table) Version() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.version
}
