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
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/cartfs/cartfs/internal/logger"
	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Run a line-oriented REPL against the block device for one power cycle",
	Long: `session powers the driver on once, reads open/read/write/seek/close/stat
commands from stdin until EOF or "quit", then powers off. Every command
in one invocation shares the same power cycle, so files written early in
the session are visible to reads later in the same session — unlike
"put"/"get", which are each their own power cycle.

Commands (one per line):

  open PATH            open PATH, printing its file descriptor
  write FD TEXT         write the remainder of the line as bytes at FD's cursor
  read FD N             read up to N bytes from FD, printing them
  seek FD LOC           move FD's cursor to absolute byte offset LOC
  close FD              close FD
  stat PATH             print PATH's length, frame count, and open state
  quit                  power off and exit
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSession(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func runSession(ctx context.Context, in io.Reader, out io.Writer) error {
	d := newDriver(&rootCfg)
	if err := d.PowerOn(ctx); err != nil {
		return fmt.Errorf("poweron: %w", err)
	}
	defer func() {
		if err := d.PowerOff(ctx); err != nil {
			logger.Errorf("cartfsctl: poweroff: %v", err)
		}
	}()

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, " ", 3)
		switch fields[0] {
		case "quit", "exit":
			return nil

		case "open":
			if len(fields) < 2 {
				fmt.Fprintln(out, "usage: open PATH")
				continue
			}
			fd, err := d.Open(fields[1])
			if err != nil {
				fmt.Fprintln(out, "error:", err)
				continue
			}
			fmt.Fprintf(out, "fd=%d\n", fd)

		case "close":
			fd, err := parseFD(fields)
			if err != nil {
				fmt.Fprintln(out, "usage: close FD")
				continue
			}
			if err := d.Close(fd); err != nil {
				fmt.Fprintln(out, "error:", err)
			}

		case "write":
			if len(fields) < 3 {
				fmt.Fprintln(out, "usage: write FD TEXT")
				continue
			}
			fd, err := strconv.Atoi(fields[1])
			if err != nil {
				fmt.Fprintln(out, "usage: write FD TEXT")
				continue
			}
			n, err := d.Write(ctx, fd, []byte(fields[2]))
			if err != nil {
				fmt.Fprintln(out, "error:", err)
				continue
			}
			fmt.Fprintf(out, "wrote=%d\n", n)

		case "read":
			if len(fields) < 3 {
				fmt.Fprintln(out, "usage: read FD N")
				continue
			}
			fd, err := strconv.Atoi(fields[1])
			if err != nil {
				fmt.Fprintln(out, "usage: read FD N")
				continue
			}
			n, err := strconv.Atoi(fields[2])
			if err != nil || n < 0 {
				fmt.Fprintln(out, "usage: read FD N")
				continue
			}
			buf := make([]byte, n)
			read, err := d.Read(ctx, fd, buf)
			if err != nil {
				fmt.Fprintln(out, "error:", err)
				continue
			}
			fmt.Fprintf(out, "read=%d data=%q\n", read, buf[:read])

		case "seek":
			if len(fields) < 3 {
				fmt.Fprintln(out, "usage: seek FD LOC")
				continue
			}
			fd, err := strconv.Atoi(fields[1])
			if err != nil {
				fmt.Fprintln(out, "usage: seek FD LOC")
				continue
			}
			loc, err := strconv.ParseUint(fields[2], 10, 32)
			if err != nil {
				fmt.Fprintln(out, "usage: seek FD LOC")
				continue
			}
			if err := d.Seek(ctx, fd, uint32(loc)); err != nil {
				fmt.Fprintln(out, "error:", err)
			}

		case "stat":
			if len(fields) < 2 {
				fmt.Fprintln(out, "usage: stat PATH")
				continue
			}
			printStat(out, d, fields[1])

		default:
			fmt.Fprintf(out, "unknown command %q\n", fields[0])
		}
	}
	return scanner.Err()
}

func parseFD(fields []string) (int, error) {
	if len(fields) < 2 {
		return 0, fmt.Errorf("missing FD")
	}
	return strconv.Atoi(fields[1])
}
