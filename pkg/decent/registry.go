package decent

import (
	"sync"

	"github.com/fako1024/decentscale/pkg/scale"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// registry holds the weight callbacks in insertion order
type registry struct {
	mu        sync.Mutex
	nextID    scale.CallbackID
	callbacks *orderedmap.OrderedMap[scale.CallbackID, scale.WeightCallback]
}

func newRegistry() *registry {
	return &registry{
		callbacks: orderedmap.New[scale.CallbackID, scale.WeightCallback](),
	}
}

func (r *registry) add(fn scale.WeightCallback) scale.CallbackID {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	r.callbacks.Set(r.nextID, fn)

	return r.nextID
}

func (r *registry) remove(id scale.CallbackID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, present := r.callbacks.Delete(id)
	return present
}

func (r *registry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.callbacks = orderedmap.New[scale.CallbackID, scale.WeightCallback]()
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.callbacks.Len()
}

// notify invokes all callbacks registered at the time of the call, in order.
// Callbacks removed during the delivery pass (e.g. by a preceding callback)
// are skipped, callbacks added during the pass are not invoked until the next
func (r *registry) notify(data scale.DataPoint) {
	r.mu.Lock()
	ids := make([]scale.CallbackID, 0, r.callbacks.Len())
	for pair := r.callbacks.Oldest(); pair != nil; pair = pair.Next() {
		ids = append(ids, pair.Key)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.mu.Lock()
		fn, present := r.callbacks.Get(id)
		r.mu.Unlock()

		if present {
			fn(data)
		}
	}
}
