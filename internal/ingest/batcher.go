package ingest

import (
	"sync"

	"github.com/fleetgazer/fleetgazer/internal/models"
)

// batcher coalesces updates per vehicle between flushes. Only the latest
// update per vehicle survives a flush window; this bounds downstream message
// volume independent of upstream burst rate.
type batcher struct {
	mu      sync.Mutex
	pending map[string]models.VehicleUpdate
	order   []string // flush in first-seen order
}

func newBatcher() *batcher {
	return &batcher{pending: make(map[string]models.VehicleUpdate)}
}

// Add 写入或覆盖该车辆的待发更新 (last write wins)
func (b *batcher) Add(u models.VehicleUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, seen := b.pending[u.VehicleID]; !seen {
		b.order = append(b.order, u.VehicleID)
	}
	b.pending[u.VehicleID] = u
}

// Flush 取出全部待发更新并清空缓冲
func (b *batcher) Flush() []models.VehicleUpdate {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.pending) == 0 {
		return nil
	}

	out := make([]models.VehicleUpdate, 0, len(b.pending))
	for _, id := range b.order {
		out = append(out, b.pending[id])
	}
	b.pending = make(map[string]models.VehicleUpdate)
	b.order = b.order[:0]
	return out
}

// Len 当前缓冲的车辆数
func (b *batcher) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
