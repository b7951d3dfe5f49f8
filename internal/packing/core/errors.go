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

package core

import (
	"fmt"
	"strings"
)

// PlacementError is returned for a circuit that could not be placed on any backend.
type PlacementError struct {
	CircuitIndex int
	CircuitName  string
	Reason       string
	Err          error
}

func (e *PlacementError) Error() string {
	msg := fmt.Sprintf("circuit %d (%s) cannot be placed: %s", e.CircuitIndex, e.CircuitName, e.Reason)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *PlacementError) Unwrap() error {
	return e.Err
}

// LayoutConflictError is returned for a circuit whose forced layout is
// inconsistent, either on its own or with every candidate backend.
type LayoutConflictError struct {
	CircuitIndex int
	CircuitName  string
	// Conflicts lists the reasons of the conflict. When the layout is
	// incompatible with specific backends, each reason is prefixed with the
	// backend name.
	Conflicts []string
}

func (e *LayoutConflictError) Error() string {
	return fmt.Sprintf(
		"circuit %d (%s) has a conflicting forced layout: %s",
		e.CircuitIndex,
		e.CircuitName,
		strings.Join(e.Conflicts, "; "),
	)
}
