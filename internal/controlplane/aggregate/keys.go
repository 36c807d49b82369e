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
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Window names the three aggregation horizons.
type Window string

const (
	Window1m  Window = "1m"
	Window1h  Window = "1h"
	Window24h Window = "24h"
)

// TTL returns how long a window's keys live. The minute bucket gets double its
// horizon so the previous bucket stays readable across the rollover.
func (w Window) TTL() time.Duration {
	switch w {
	case Window1m:
		return 2 * time.Minute
	case Window1h:
		return time.Hour
	default:
		return 24 * time.Hour
	}
}

// Key layout:
//
//	agg:user:{id}:svc:{service}:ep:{endpoint}:{window}             rolling 1h/24h hash
//	agg:user:{id}:svc:{service}:ep:{endpoint}:1m:{epochMin}        minute-bucket hash
//	{window key}:latencies                                         latency reservoir
//	agg:user:{id}:svc:{service}:ep:{endpoint}:client:{cid}:1m:{m}  per-customer counter

func windowKey(userID int64, service, endpoint string, w Window, at time.Time) string {
	base := fmt.Sprintf("agg:user:%d:svc:%s:ep:%s", userID, service, endpoint)
	if w == Window1m {
		return fmt.Sprintf("%s:1m:%d", base, at.Unix()/60)
	}
	return fmt.Sprintf("%s:%s", base, w)
}

func reservoirKey(userID int64, service, endpoint string, w Window, at time.Time) string {
	return windowKey(userID, service, endpoint, w, at) + ":latencies"
}

func clientKey(userID int64, service, endpoint, customerID string, at time.Time) string {
	return fmt.Sprintf("agg:user:%d:svc:%s:ep:%s:client:%s:1m:%d",
		userID, service, endpoint, customerID, at.Unix()/60)
}

// ParsedKey is a window key decomposed back into its parts. Only the rolling
// 1h/24h hashes parse; minute buckets, client counters and reservoirs do not.
type ParsedKey struct {
	UserID   int64
	Service  string
	Endpoint string
	Window   Window
}

// ParseWindowKey inverts windowKey for the snapshot scanner. Endpoints may
// contain ':' (rare, but nothing forbids it), so the endpoint is everything
// between the "ep:" marker and the trailing window token.
func ParseWindowKey(key string) (ParsedKey, bool) {
	if strings.HasSuffix(key, ":latencies") {
		return ParsedKey{}, false
	}
	parts := strings.Split(key, ":")
	// agg user {id} svc {service} ep {endpoint...} {window}
	if len(parts) < 8 || parts[0] != "agg" || parts[1] != "user" || parts[3] != "svc" || parts[5] != "ep" {
		return ParsedKey{}, false
	}
	w := Window(parts[len(parts)-1])
	if w != Window1h && w != Window24h {
		return ParsedKey{}, false
	}
	endpoint := strings.Join(parts[6:len(parts)-1], ":")
	if strings.Contains(endpoint, ":client:") || strings.Contains(endpoint, ":1m:") {
		return ParsedKey{}, false
	}
	userID, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return ParsedKey{}, false
	}
	return ParsedKey{UserID: userID, Service: parts[4], Endpoint: endpoint, Window: w}, true
}
