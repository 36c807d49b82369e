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

package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"controlplane/internal/controlplane/persistence"
)

type contextKey string

const userContextKey contextKey = "user"

// apiKeyAuth authenticates via "Authorization: Bearer <key>" and stores the
// resolved account on the request context.
func (s *Server) apiKeyAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Detail: "missing Authorization header"})
			return
		}
		key, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || key == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Detail: "Authorization must be a Bearer token"})
			return
		}

		user, err := s.identity.UserByAPIKey(r.Context(), key)
		if err != nil {
			if errors.Is(err, persistence.ErrInvalidAPIKey) {
				writeJSON(w, http.StatusUnauthorized, errorBody{Detail: "invalid or inactive API key"})
				return
			}
			s.log.Error().Err(err).Msg("api key lookup failed")
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Detail: "authentication temporarily unavailable"})
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userContextKey, user)))
	})
}

// userFrom extracts the authenticated account set by apiKeyAuth.
func userFrom(ctx context.Context) *persistence.User {
	u, _ := ctx.Value(userContextKey).(*persistence.User)
	return u
}
