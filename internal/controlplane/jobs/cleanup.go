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

package jobs

import (
	"context"
	"fmt"
)

// RunCleanup enforces retention: raw signals 7 days, hourly rollups 90 days.
// Daily rollups are kept indefinitely; they are tiny and irreplaceable.
func (r *Runner) RunCleanup(ctx context.Context) error {
	now := r.now().UTC()

	signals, err := r.signals.DeleteOlderThan(ctx, now.Add(-rawSignalRetention))
	if err != nil {
		return fmt.Errorf("cleanup signals: %w", err)
	}
	hourly, err := r.rollups.DeleteHourlyOlderThan(ctx, now.Add(-hourlyRetention))
	if err != nil {
		return fmt.Errorf("cleanup hourly rollups: %w", err)
	}

	r.log.Info().Int64("signals", signals).Int64("hourly", hourly).Msg("retention cleanup complete")
	return nil
}
