package vehicle

import (
	"fmt"

	"github.com/samber/lo"
)

// Arena stores vehicle records by stable id. Retired ids go on a free list
// and are handed out again by Alloc.
type Arena struct {
	Vehicles []*Vehicle `msgpack:"vehicles"`
	FreeList []int      `msgpack:"free"`
}

// Alloc returns a cleared record, reusing a retired id when one is free.
func (a *Arena) Alloc() *Vehicle {
	var id int
	if n := len(a.FreeList); n > 0 {
		id = a.FreeList[n-1]
		a.FreeList = a.FreeList[:n-1]
	} else {
		id = len(a.Vehicles)
		a.Vehicles = append(a.Vehicles, nil)
	}
	v := &Vehicle{ID: id, Role: Ordinary, IntentJunction: -1, LastJunction: -1, Garage: -1, LastLaneChange: -1}
	a.Vehicles[id] = v
	return v
}

// Get returns the record for id, or nil.
func (a *Arena) Get(id int) *Vehicle {
	if id < 0 || id >= len(a.Vehicles) {
		return nil
	}
	v := a.Vehicles[id]
	if v == nil || v.Role == Free {
		return nil
	}
	return v
}

// Retire returns id to the free list. Retiring a free slot is an error.
func (a *Arena) Retire(id int) error {
	if id < 0 || id >= len(a.Vehicles) || a.Vehicles[id] == nil {
		return fmt.Errorf("retire: vehicle %d does not exist", id)
	}
	v := a.Vehicles[id]
	if v.Role == Free {
		return fmt.Errorf("retire: vehicle %d already free", id)
	}
	*v = Vehicle{ID: id, Role: Free}
	a.FreeList = append(a.FreeList, id)
	return nil
}

// Live returns all records not on the free list, in id order.
func (a *Arena) Live() []*Vehicle {
	return lo.Filter(a.Vehicles, func(v *Vehicle, _ int) bool {
		return v != nil && v.Role != Free
	})
}

// Count returns how many live records hold role r.
func (a *Arena) Count(r Role) int {
	return lo.CountBy(a.Vehicles, func(v *Vehicle) bool {
		return v != nil && v.Role == r
	})
}

// Size returns the number of live records.
func (a *Arena) Size() int { return len(a.Vehicles) - len(a.FreeList) }
