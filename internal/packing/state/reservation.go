/*
 * Copyright 2023 nebuly.com.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package state

import (
	"errors"
	"fmt"
	"k8s.io/apimachinery/pkg/util/sets"
	"sync"
)

var ErrConflict = errors.New("reservation conflict")

// Reservation tracks the physical units of a single host circuit that are no
// longer available, either because a placement uses them or because they
// isolate a placement from its neighbours.
type Reservation struct {
	used    sets.Int
	padding sets.Int

	mtx sync.RWMutex
}

func NewReservation() *Reservation {
	return &Reservation{
		used:    sets.NewInt(),
		padding: sets.NewInt(),
	}
}

// Snapshot returns a copy of every reserved unit, used or padding.
func (r *Reservation) Snapshot() sets.Int {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	return r.used.Union(r.padding)
}

func (r *Reservation) Used() sets.Int {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	return sets.NewInt(r.used.UnsortedList()...)
}

func (r *Reservation) Padding() sets.Int {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	return sets.NewInt(r.padding.UnsortedList()...)
}

// Len returns the number of reserved units.
func (r *Reservation) Len() int {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	return r.used.Len() + r.padding.Len()
}

func (r *Reservation) IsEmpty() bool {
	return r.Len() == 0
}

// Commit reserves the provided units. It fails without modifying the
// reservation if any of the used units is already reserved.
func (r *Reservation) Commit(used, padding sets.Int) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if overlap := used.Intersection(r.used.Union(r.padding)); overlap.Len() > 0 {
		return fmt.Errorf("%w: units %v already reserved", ErrConflict, overlap.List())
	}
	if overlap := used.Intersection(padding); overlap.Len() > 0 {
		return fmt.Errorf("%w: units %v both used and padding", ErrConflict, overlap.List())
	}
	r.used = r.used.Union(used)
	r.padding = r.padding.Union(padding).Difference(r.used)
	return nil
}
