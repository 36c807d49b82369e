// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

package aggregate

import "sort"

// Percentile computes the q-th percentile (0..100) of samples by linear
// interpolation between closest ranks:
//
//	k = (q/100) * (n-1);  f = floor(k);  d = k - f
//	value = S[f] + d * (S[min(f+1, n-1)] - S[f])
//
// Returns 0 on an empty slice. The input is copied, not mutated.
func Percentile(samples []float64, q float64) float64 {
	n := len(samples)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return samples[0]
	}

	sorted := make([]float64, n)
	copy(sorted, samples)
	sort.Float64s(sorted)

	k := (q / 100) * float64(n-1)
	f := int(k)
	d := k - float64(f)

	next := f + 1
	if next > n-1 {
		next = n - 1
	}
	return sorted[f] + d*(sorted[next]-sorted[f])
}
