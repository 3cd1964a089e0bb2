package lobby

import (
	"testing"

	"github.com/Platon7788/xshm/internal/wire"
)

func TestAssignIsFIFOAndExhausts(t *testing.T) {
	table := NewSlotTable(2)
	a, ok := table.Assign()
	if !ok || a != 0 {
		t.Fatalf("expected slot 0 first, got %d ok=%v", a, ok)
	}
	b, ok := table.Assign()
	if !ok || b != 1 {
		t.Fatalf("expected slot 1 second, got %d ok=%v", b, ok)
	}
	_, ok = table.Assign()
	if ok {
		t.Fatalf("expected exhaustion on the third assignment")
	}
	id, ok := table.Assign()
	if ok || id != wire.SlotIDNoSlot {
		t.Fatalf("expected SlotIDNoSlot, got %d ok=%v", id, ok)
	}
}

func TestReleaseReturnsSlotToFreePoolInFIFOOrder(t *testing.T) {
	table := NewSlotTable(2)
	table.Assign() // 0
	table.Assign() // 1
	table.Release(0)
	id, ok := table.Assign()
	if !ok || id != 0 {
		t.Fatalf("expected slot 0 reused after release, got %d", id)
	}
}

func TestSlotCountInvariantHolds(t *testing.T) {
	table := NewSlotTable(3)
	table.Assign()
	table.Assign()
	table.Release(0)
	if uint32(table.FreeCount()+table.OccupiedCount()) != table.MaxClients() {
		t.Fatalf("free+occupied must equal maxClients")
	}
}

func TestOccupiedReturnsAscendingIDs(t *testing.T) {
	table := NewSlotTable(4)
	table.Assign() // 0
	table.Assign() // 1
	table.Assign() // 2
	table.Release(1)
	table.Assign() // reassigns 1
	ids := table.Occupied()
	for i := 1; i < len(ids); i++ {
		if ids[i-1] >= ids[i] {
			t.Fatalf("expected ascending order, got %v", ids)
		}
	}
}

func TestChannelNameDerivation(t *testing.T) {
	if got := ChannelName("base", 3); got != "base_3" {
		t.Fatalf("expected base_3, got %s", got)
	}
}
