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

package dispatch

import (
	"fmt"
	"github.com/nebuly-ai/qpack/pkg/backend"
)

// SubmissionError is returned when a backend rejects a host circuit.
type SubmissionError struct {
	JobID   string
	Backend string
	Err     error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("job %s: submission to backend %s failed: %v", e.JobID, e.Backend, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// ExecutionError is returned when a submitted job does not complete
// successfully.
type ExecutionError struct {
	JobID   string
	Backend string
	Handle  backend.Handle
	Status  backend.Status
	Err     error
}

func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("job %s (%s) on backend %s: %v", e.JobID, e.Handle, e.Backend, e.Err)
	}
	return fmt.Sprintf("job %s (%s) on backend %s terminated with status %s", e.JobID, e.Handle, e.Backend, e.Status)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
