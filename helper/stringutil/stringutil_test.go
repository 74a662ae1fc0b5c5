// Copyright 2018 Bull S.A.S. Atos Technologies - Bull, Rue Jean Jaures, B.P.68, 78340, Les Clayes-sous-Bois, France.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package stringutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitNonEmptyLines(t *testing.T) {
	t.Parallel()
	require.Equal(t, []string{"cn001", "cn002"}, SplitNonEmptyLines("cn001\n\n  cn002  \n"))
	require.Nil(t, SplitNonEmptyLines("\n \n"))
}

func TestUniqueTimestampedName(t *testing.T) {
	t.Parallel()
	name := UniqueTimestampedName("raysub_", ".out")
	require.True(t, strings.HasPrefix(name, "raysub_"))
	require.True(t, strings.HasSuffix(name, ".out"))
}
