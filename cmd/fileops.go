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
	"context"
	"fmt"
	"io"
	"os"

	cartfs "github.com/cartfs/cartfs"
	"github.com/spf13/cobra"
)

// readWriteBufSize is the chunk size put/get move through Driver.Write /
// Driver.Read per call; it has no relation to the frame size and exists
// only to bound each command's own memory use on large local files.
const readWriteBufSize = 64 * 1024

var putCmd = &cobra.Command{
	Use:   "put PATH LOCAL-FILE",
	Short: "Copy a local file into the block device as PATH",
	Long: `put is its own power cycle: poweron, open, write, close, poweroff. Since
there is no persistence of the file table beyond a power cycle, a later
"get PATH ..." in a separate invocation opens PATH as a new, empty file
and reads 0 bytes — "session" is the way to put and get within one cycle.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, localFile := args[0], args[1]
		f, err := os.Open(localFile)
		if err != nil {
			return err
		}
		defer f.Close()

		ctx := cmd.Context()
		d := newDriver(&rootCfg)
		if err := d.PowerOn(ctx); err != nil {
			return fmt.Errorf("poweron: %w", err)
		}
		defer d.PowerOff(ctx)

		fd, err := d.Open(path)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		defer d.Close(fd)

		total, err := copyInto(ctx, d, fd, f)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes to %s\n", total, path)
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get PATH LOCAL-FILE",
	Short: "Copy PATH from the block device to a local file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, localFile := args[0], args[1]
		out, err := os.Create(localFile)
		if err != nil {
			return err
		}
		defer out.Close()

		ctx := cmd.Context()
		d := newDriver(&rootCfg)
		if err := d.PowerOn(ctx); err != nil {
			return fmt.Errorf("poweron: %w", err)
		}
		defer d.PowerOff(ctx)

		fd, err := d.Open(path)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		defer d.Close(fd)

		total, err := copyFrom(ctx, d, fd, out)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "read %d bytes from %s\n", total, path)
		return nil
	},
}

var statFlagCache bool

var statCmd = &cobra.Command{
	Use:   "stat PATH",
	Short: "Report PATH's length, frame count, and open state",
	Long: `stat reports a read-only view of a file table entry: length, frame
count, and whether it is currently open. --cache also prints the frame
cache's cumulative hit/miss/eviction counters.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		ctx := cmd.Context()
		d := newDriver(&rootCfg)
		if err := d.PowerOn(ctx); err != nil {
			return fmt.Errorf("poweron: %w", err)
		}
		defer d.PowerOff(ctx)

		printStat(cmd.OutOrStdout(), d, path)
		if statFlagCache {
			s := d.CacheStats()
			fmt.Fprintf(cmd.OutOrStdout(), "cache: hits=%d misses=%d evictions=%d size=%d/%d\n",
				s.Hits, s.Misses, s.Evictions, s.Size, s.MaxFrames)
		}
		return nil
	},
}

func init() {
	statCmd.Flags().BoolVar(&statFlagCache, "cache", false, "also print frame cache statistics")
}

func printStat(w io.Writer, d *cartfs.Driver, path string) {
	info, ok := d.Stat(path)
	if !ok {
		fmt.Fprintf(w, "%s: not found this power cycle\n", path)
		return
	}
	fmt.Fprintf(w, "%s: length=%d frames=%d open=%v\n", info.Path, info.Length, info.NumFrames, info.Open)
}

// copyInto streams r into fd via Write, readWriteBufSize bytes at a time.
func copyInto(ctx context.Context, d *cartfs.Driver, fd int, r io.Reader) (int64, error) {
	buf := make([]byte, readWriteBufSize)
	var total int64
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			if _, werr := d.Write(ctx, fd, buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
		}
		if rerr == io.EOF {
			return total, nil
		}
		if rerr != nil {
			return total, rerr
		}
	}
}

// copyFrom streams fd into w via Read, readWriteBufSize bytes at a time,
// stopping when Read returns 0 bytes (end of file's logical length).
func copyFrom(ctx context.Context, d *cartfs.Driver, fd int, w io.Writer) (int64, error) {
	buf := make([]byte, readWriteBufSize)
	var total int64
	for {
		n, err := d.Read(ctx, fd, buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
		}
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, nil
		}
	}
}
