package position

import (
	"fmt"

	"github.com/tathienbao/position-engine/internal/types"
)

// orderRegistry holds the snapshots of every order the position created
// since the last reset, keyed by client order id. At most one entry and one
// live exit pair are active; replaced legs linger until their terminal
// callback arrives.
type orderRegistry struct {
	byID  map[string]OrderSnapshot
	order []string
}

func newOrderRegistry() *orderRegistry {
	return &orderRegistry{byID: make(map[string]OrderSnapshot)}
}

func (r *orderRegistry) add(s OrderSnapshot) error {
	id := s.Spec.ClientOrderID
	if _, exists := r.byID[id]; exists {
		return fmt.Errorf("%w: %s", types.ErrDuplicateOrder, id)
	}
	r.byID[id] = s
	r.order = append(r.order, id)
	return nil
}

func (r *orderRegistry) get(id string) (OrderSnapshot, bool) {
	s, ok := r.byID[id]
	return s, ok
}

// replace swaps in a new snapshot for an existing order.
func (r *orderRegistry) replace(s OrderSnapshot) {
	if _, ok := r.byID[s.Spec.ClientOrderID]; ok {
		r.byID[s.Spec.ClientOrderID] = s
	}
}

func (r *orderRegistry) live() []OrderSnapshot {
	out := make([]OrderSnapshot, 0, 3)
	for _, id := range r.order {
		if s := r.byID[id]; s.IsLive() {
			out = append(out, s)
		}
	}
	return out
}

func (r *orderRegistry) all() []OrderSnapshot {
	out := make([]OrderSnapshot, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

func (r *orderRegistry) lookup(id string) *OrderSnapshot {
	if id == "" {
		return nil
	}
	s, ok := r.byID[id]
	if !ok {
		return nil
	}
	return &s
}
