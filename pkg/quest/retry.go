// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package quest

import (
	"context"
	"time"
)

// Attempt is invoked once per retry loop iteration. It returns the
// raw JSON result on success.
type Attempt func(ctx context.Context, attemptNumber int) (result []byte, err error)

// runRetryLoop applies policy to fn (§4.C): up to MaxTries attempts,
// sleeping WaitMs before each retry (never before the first attempt).
// It stops retrying as soon as fn returns a non-retryable error (an
// UnknownWorkerError, a non-retryable ToolError, or any error that
// doesn't classify itself as retryable), surfacing that error
// immediately. On exhaustion it surfaces the last error.
//
// attempts reports how many times fn was actually invoked, for the
// run record's attempt_count.
func runRetryLoop(ctx context.Context, policy RetryPolicy, fn Attempt) (result []byte, attempts int, err error) {
	for i := 1; i <= policy.MaxTries; i++ {
		if i > 1 {
			select {
			case <-time.After(time.Duration(policy.WaitMs) * time.Millisecond):
			case <-ctx.Done():
				return nil, i - 1, ctx.Err()
			}
		}

		result, err = fn(ctx, i)
		attempts = i
		if err == nil {
			return result, attempts, nil
		}
		if !retryable(err) {
			return nil, attempts, err
		}
	}
	return nil, attempts, err
}
