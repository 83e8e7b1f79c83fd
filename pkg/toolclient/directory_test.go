// Copyright 2025 Tom Barlow
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

package toolclient_test

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/questd/pkg/quest"
	"github.com/tombee/questd/pkg/toolclient"
)

func TestStaticDirectory_Resolve(t *testing.T) {
	dir := toolclient.NewStaticDirectory(map[string]string{"architect": "http://architect.local"})

	endpoint, err := dir.Resolve("architect")
	require.NoError(t, err)
	assert.Equal(t, "http://architect.local", endpoint)
}

func TestStaticDirectory_UnknownWorker(t *testing.T) {
	dir := toolclient.NewStaticDirectory(nil)

	_, err := dir.Resolve("ghost")
	require.Error(t, err)
	var unknown *quest.UnknownWorkerError
	assert.ErrorAs(t, err, &unknown)
	assert.False(t, unknown.IsRetryable())
}

func TestStaticDirectory_RegisterAndNames(t *testing.T) {
	dir := toolclient.NewStaticDirectory(map[string]string{"architect": "http://architect.local"})
	dir.Register("forge", "http://forge.local")

	names := dir.Names()
	sort.Strings(names)
	assert.Equal(t, []string{"architect", "forge"}, names)

	endpoint, err := dir.Resolve("forge")
	require.NoError(t, err)
	assert.Equal(t, "http://forge.local", endpoint)
}
