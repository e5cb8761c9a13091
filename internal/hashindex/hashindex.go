/*
Copyright 2025 Google LLC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	https://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package hashindex builds the hash -> candidate-positions index a Player
// uses to find a recorded match for an inbound request (spec.md §4.C).
package hashindex

import (
	"runtime"

	"github.com/google/replay-harness/internal/recording"
)

// Chunk is the number of messages processed between scheduler yields.
const Chunk = 50

// Entry is one candidate position for a given hash, in file order.
type Entry struct {
	Index int
	Raw   *recording.LazyMessage
}

// Index maps a request hash to its candidate positions, in file order. A
// bucket's Entries are consumed front-to-back by the Player, which keeps its
// own per-bucket pointer of how many have been handed out; the Index itself
// is read-only once built.
type Index struct {
	buckets map[string][]Entry
}

// Build walks lr.Messages in order, bucketing by hash, and yields to the
// scheduler every Chunk messages so a large recording's index build never
// blocks other sessions (spec.md §4.C/§5).
func Build(lr *recording.LazyRecording) *Index {
	idx := &Index{buckets: make(map[string][]Entry)}
	for i, m := range lr.Messages {
		if m.Hash != "" {
			idx.buckets[m.Hash] = append(idx.buckets[m.Hash], Entry{Index: m.Index, Raw: m})
		}
		if (i+1)%Chunk == 0 {
			runtime.Gosched()
		}
	}
	return idx
}

// Bucket returns the candidate positions for hash, in file order. The
// returned slice must not be mutated by the caller.
func (idx *Index) Bucket(hash string) []Entry {
	return idx.buckets[hash]
}

// Len reports how many distinct hashes the index has buckets for.
func (idx *Index) Len() int {
	return len(idx.buckets)
}
