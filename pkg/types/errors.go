// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package types

import "errors"

// Shared error sentinels. Callers classify failures with errors.Is; packages
// wrap these with context via fmt.Errorf("...: %w", ...).
var (
	// ErrNotFound reports a missing session, message, or file content.
	// Recoverable: surfaces as null/404, never as a stream error.
	ErrNotFound = errors.New("not found")

	// ErrInvariantViolated reports a caller bug: a non-monotone status
	// transition, a non-dense step index, or a regressing todo counter.
	ErrInvariantViolated = errors.New("invariant violated")

	// ErrSessionBusy reports that another stream is already active on the
	// session. The trigger mutation is rejected; no stream is started.
	ErrSessionBusy = errors.New("session busy")

	// ErrStorageFailed reports a store write that failed after the busy
	// retry loop was exhausted. Fatal for the turn.
	ErrStorageFailed = errors.New("storage failed")

	// ErrProviderAuth reports rejected provider credentials.
	ErrProviderAuth = errors.New("provider authentication failed")

	// ErrProviderProtocol reports a malformed provider stream event.
	ErrProviderProtocol = errors.New("provider protocol error")
)
