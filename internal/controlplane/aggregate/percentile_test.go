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

import (
	"math"
	"testing"
)

func TestPercentileEmpty(t *testing.T) {
	if got := Percentile(nil, 95); got != 0 {
		t.Errorf("Percentile(nil) = %f, want 0", got)
	}
}

func TestPercentileSingleSample(t *testing.T) {
	for _, q := range []float64{0, 50, 95, 100} {
		if got := Percentile([]float64{42}, q); got != 42 {
			t.Errorf("Percentile([42], %f) = %f, want 42", q, got)
		}
	}
}

func TestPercentileInterpolation(t *testing.T) {
	samples := []float64{10, 20, 30, 40}

	cases := []struct {
		q    float64
		want float64
	}{
		{0, 10},
		{50, 25},   // k = 1.5 -> 20 + 0.5*(30-20)
		{100, 40},
		{25, 17.5}, // k = 0.75 -> 10 + 0.75*(20-10)
	}
	for _, tc := range cases {
		if got := Percentile(samples, tc.q); math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("Percentile(%f) = %f, want %f", tc.q, got, tc.want)
		}
	}
}

func TestPercentileUnsortedInput(t *testing.T) {
	// Order must not matter and the input must not be mutated.
	samples := []float64{40, 10, 30, 20}
	if got := Percentile(samples, 50); math.Abs(got-25) > 1e-9 {
		t.Errorf("Percentile = %f, want 25", got)
	}
	if samples[0] != 40 {
		t.Error("input slice was mutated")
	}
}

func TestPercentileMonotone(t *testing.T) {
	samples := []float64{3, 1, 4, 1, 5, 9, 2, 6, 5, 3, 5}
	prev := -1.0
	for q := 0.0; q <= 100; q += 5 {
		v := Percentile(samples, q)
		if v < prev {
			t.Fatalf("percentile not monotone: p%.0f=%f < p%.0f=%f", q, v, q-5, prev)
		}
		prev = v
	}
}
