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


package util

import (
	"context"
	"time"
)

// NewStoppedTimer returns a timer that is not armed.
func NewStoppedTimer() *time.Timer {
	timer := time.NewTimer(0)
	StopTimer(timer)
	return timer
}

// StopTimer stops the timer and drains its channel.
func StopTimer(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
}

// SleepWithTimer arms the timer for d and waits for it to fire. It returns the
// context error if the context is done first.
func SleepWithTimer(ctx context.Context, timer *time.Timer, d time.Duration) error {
	StopTimer(timer)
	timer.Reset(d)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
