// Copyright 2024 The cartfs Authors.
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

package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func init() {
	ctx := context.Background()
	putCmd.SetContext(ctx)
	getCmd.SetContext(ctx)
	statCmd.SetContext(ctx)
	sessionCmd.SetContext(ctx)
}

func TestPutReportsBytesWritten(t *testing.T) {
	withTestController(t, 1)

	dir := t.TempDir()
	src := filepath.Join(dir, "in.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello, cartridge"), 0o644))

	var out bytes.Buffer
	putCmd.SetOut(&out)
	defer putCmd.SetOut(nil)

	err := putCmd.RunE(putCmd, []string{"greeting", src})
	require.NoError(t, err)
	require.Contains(t, out.String(), "wrote 16 bytes to greeting")
}

// Because PowerOn re-zeros every cartridge, a "get" in a separate power
// cycle never sees what a prior "put" wrote: this is an explicit
// consequence of having no persistence beyond a power cycle, not a bug.
// "session" is the surface that round-trips within one power cycle (see
// session_test.go).
func TestGetAfterSeparatePutFindsNothing(t *testing.T) {
	withTestController(t, 1)

	dir := t.TempDir()
	src := filepath.Join(dir, "in.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello, cartridge"), 0o644))
	require.NoError(t, putCmd.RunE(putCmd, []string{"greeting", src}))

	dst := filepath.Join(dir, "out.txt")
	var out bytes.Buffer
	getCmd.SetOut(&out)
	defer getCmd.SetOut(nil)

	err := getCmd.RunE(getCmd, []string{"greeting", dst})
	require.NoError(t, err)
	require.Contains(t, out.String(), "read 0 bytes from greeting")
}

func TestStatUnknownPathReportsNotFound(t *testing.T) {
	withTestController(t, 1)

	var out bytes.Buffer
	statCmd.SetOut(&out)
	defer statCmd.SetOut(nil)

	err := statCmd.RunE(statCmd, []string{"nope"})
	require.NoError(t, err)
	require.Contains(t, out.String(), "not found this power cycle")
}
