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

package hashindex

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/google/replay-harness/internal/recording"
)

func lazyWithHashes(hashes ...string) *recording.LazyRecording {
	lr := &recording.LazyRecording{}
	for i, h := range hashes {
		lr.Messages = append(lr.Messages, &recording.LazyMessage{Hash: h, Index: i, Raw: []byte("{}")})
	}
	return lr
}

func TestBuild_DuplicateHashesInFileOrder(t *testing.T) {
	lr := lazyWithHashes("a", "b", "a", "a", "c")
	idx := Build(lr)

	bucket := idx.Bucket("a")
	require.Len(t, bucket, 3)
	require.Equal(t, []int{0, 2, 3}, []int{bucket[0].Index, bucket[1].Index, bucket[2].Index})
}

func TestBuild_MissingHashYieldsEmptyBucket(t *testing.T) {
	lr := lazyWithHashes("a", "b")
	idx := Build(lr)
	require.Empty(t, idx.Bucket("nonexistent"))
}

func TestBuild_SkipsMessagesWithoutHash(t *testing.T) {
	lr := lazyWithHashes("a", "", "b")
	idx := Build(lr)
	require.Equal(t, 2, idx.Len())
}

func TestBuild_Large_YieldsWithoutPanicking(t *testing.T) {
	hashes := make([]string, 0, 1000)
	for i := 0; i < 1000; i++ {
		hashes = append(hashes, "h")
	}
	lr := lazyWithHashes(hashes...)
	idx := Build(lr)
	require.Len(t, idx.Bucket("h"), 1000)
}
