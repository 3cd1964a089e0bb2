// Package lobby implements the slot table and rendezvous-channel naming
// shared by the multi-client and dispatch servers (spec §4.6): FIFO
// assignment of free slots, the "occupied iff Connected/Draining"
// invariant, and the `<base>_<slot_id>` channel naming convention.
package lobby

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Platon7788/xshm/internal/wire"
)

// ChannelName derives a slot's channel name from the lobby's base name,
// per spec §6: "Multi-client derives slot channels as <base>_<slot_id>".
func ChannelName(base string, slotID uint32) string {
	return fmt.Sprintf("%s_%d", base, slotID)
}

// SlotTable tracks free/occupied slot ids for one multi-client server.
// len(free)+len(occupied) == maxClients at all times (spec §4.6 invariant).
type SlotTable struct {
	mu         sync.Mutex
	free       []uint32
	occupied   map[uint32]struct{}
	maxClients uint32
}

// NewSlotTable builds a table with slot ids 0..maxClients-1, all free.
func NewSlotTable(maxClients uint32) *SlotTable {
	free := make([]uint32, maxClients)
	for i := range free {
		free[i] = uint32(i)
	}
	return &SlotTable{
		free:       free,
		occupied:   make(map[uint32]struct{}, maxClients),
		maxClients: maxClients,
	}
}

// MaxClients returns the table's fixed capacity.
func (t *SlotTable) MaxClients() uint32 { return t.maxClients }

// Assign pops the free slot id at the head of the free queue (FIFO order,
// spec §4.6: "Slot assignment is FIFO over free slots"): ids start out
// queued in ascending order, and a released id joins the tail. ok is false, with id ==
// wire.SlotIDNoSlot, when every slot is occupied (spec §8 scenario 4).
func (t *SlotTable) Assign() (id uint32, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.free) == 0 {
		return wire.SlotIDNoSlot, false
	}
	id = t.free[0]
	t.free = t.free[1:]
	t.occupied[id] = struct{}{}
	return id, true
}

// Release returns slotID to the free pool. A slot not currently occupied is
// a no-op, matching idempotent-close semantics elsewhere in this module.
func (t *SlotTable) Release(slotID uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.occupied[slotID]; !ok {
		return
	}
	delete(t.occupied, slotID)
	t.free = append(t.free, slotID)
}

// Occupied returns the currently occupied slot ids in ascending order, the
// iteration order spec §4.6's Broadcast uses.
func (t *SlotTable) Occupied() []uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]uint32, 0, len(t.occupied))
	for id := range t.occupied {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// FreeCount and OccupiedCount support the slot-table invariant check in
// tests: FreeCount()+OccupiedCount() == MaxClients() always.
func (t *SlotTable) FreeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.free)
}

func (t *SlotTable) OccupiedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.occupied)
}
