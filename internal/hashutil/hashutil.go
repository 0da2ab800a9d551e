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

// Package hashutil provides the content fingerprint used as the integrity
// primitive throughout the snapshot engine. It is an integrity check, not a
// security boundary, so the digest is truncated for compactness.
package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
)

// TokenLen is the number of hex characters retained from the digest.
const TokenLen = 16

// Hash returns a deterministic short token for content.
func Hash(content []byte) string {
	h := sha256.Sum256(content)
	return hex.EncodeToString(h[:])[:TokenLen]
}

// HashText is Hash over string content.
func HashText(content string) string {
	return Hash([]byte(content))
}

// EmptyHash is the token for empty content. By convention a file that does
// not exist yet hashes identically to an empty file.
func EmptyHash() string {
	return Hash(nil)
}

// HashFile hashes the content of the file at path. A missing or unreadable
// file hashes the same as empty content.
func HashFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return EmptyHash()
	}
	return Hash(data)
}
