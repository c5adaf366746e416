package repository

import (
	"sort"
	"sync"

	"spot-cycle-trader/internal/model"
)

// BalanceRepository holds the last quote balance read from each venue. It is for display
// only; selection always reads balances fresh.
type BalanceRepository struct {
	cache map[string]model.Balance
	mu    sync.RWMutex
}

func NewBalanceRepository() *BalanceRepository {
	return &BalanceRepository{
		cache: make(map[string]model.Balance),
	}
}

func (r *BalanceRepository) ObserveBalance(b model.Balance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[b.Exchange+"/"+b.Asset] = b
}

func (r *BalanceRepository) Get(exchange, asset string) (model.Balance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.cache[exchange+"/"+asset]
	return b, ok
}

// All returns the balances sorted by exchange then asset.
func (r *BalanceRepository) All() []model.Balance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Balance, 0, len(r.cache))
	for _, b := range r.cache {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Exchange != out[j].Exchange {
			return out[i].Exchange < out[j].Exchange
		}
		return out[i].Asset < out[j].Asset
	})
	return out
}
