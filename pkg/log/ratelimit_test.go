// Copyright 2019-2020 Intel Corporation. All Rights Reserved.
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

package log

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimit(t *testing.T) {
	tl := setup(t)

	skip := RateLimit(NewLogger("skipper"), Interval(time.Hour))
	for i := 0; i < 5; i++ {
		skip.Warn("line %d: bad value", 7)
		skip.Warn("line %d: bad value", 9)
	}

	require.Equal(t, []string{
		"<rate-limited> line 7: bad value",
		"<rate-limited> line 9: bad value",
	}, tl.messages("skipper"))
}

func TestRateLimitWindow(t *testing.T) {
	tcases := []struct {
		name     string
		window   int
		expected int
	}{
		{name: "default", expected: DefaultWindow},
		{name: "too small", window: 4, expected: MinimumWindow},
		{name: "explicit", window: 64, expected: 64},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			rl := RateLimit(Default(), Rate{Window: tc.window, Limit: Interval(time.Hour).Limit}).(*ratelimited)

			first := rl.limiter("message #0")
			require.Same(t, first, rl.limiter("message #0"))

			// fill the window, pushing the first message out
			for i := 1; i <= tc.expected; i++ {
				rl.limiter(fmt.Sprintf("message #%d", i))
			}
			require.Len(t, rl.window, tc.expected)
			require.Len(t, rl.limits, tc.expected)

			require.NotSame(t, first, rl.limiter("message #0"), "evicted message should get a new limiter")
		})
	}
}
