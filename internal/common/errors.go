// Copyright 2025 Trackfs Authors
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

package common

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrExists         = errors.New("already exists")
	ErrInvalidPath    = errors.New("invalid path")
	ErrChainCorrupt   = errors.New("snapshot chain corrupt")
	ErrSequenceGap    = errors.New("sequence gap in snapshot range")
	ErrContinuity     = errors.New("file continuity violation")
	ErrRejected       = errors.New("operation rejected")
	ErrNoSnapshots    = errors.New("no snapshots recorded")
	ErrNoCheckpoint   = errors.New("no checkpoint available")
	ErrWorkspaceBusy  = errors.New("workspace is locked by another process")
	ErrInvalidRange   = errors.New("invalid milestone range")
	ErrDiffUnparsable = errors.New("diff text could not be parsed")
)
