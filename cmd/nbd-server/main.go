// Copyright 2018 Axel Wagner
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

// Command nbd-server exports one or more local files or block devices over
// the NBD network protocol.
//
// Usage:
//
//	nbd-server -p <port> -d <file1> <name1> [<file2> <name2> ...]
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"

	"github.com/blockexport/nbd"
)

const usage = `Usage: nbd-server -p <port> -d <file1> <name1> [<file2> <name2> ...]

Exports each <fileN> over NBD under the export name <nameN>. The file may be
a regular file or a block device. At least one -d pair is required.
`

func main() {
	log.SetFlags(0)
	log.SetPrefix("nbd-server: ")

	port, pairs, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprint(os.Stderr, usage)
		log.Fatal(err)
	}

	reg, closeAll, err := buildRegistry(pairs)
	if err != nil {
		closeAll()
		fmt.Fprint(os.Stderr, usage)
		log.Fatal(err)
	}
	defer closeAll()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	addr := fmt.Sprintf(":%d", port)
	log.Printf("listening on %s", addr)
	if err := nbd.ListenAndServe(ctx, "tcp", addr, reg); err != nil {
		log.Fatal(err)
	}
}

// exportPair is one -d <file> <name> argument pair.
type exportPair struct {
	file string
	name string
}

// parseArgs implements the fixed CLI surface this program mandates: a
// single -p <port> flag followed by a single -d flag whose value is every
// remaining argument, read off in (file, name) pairs. This shape doesn't
// fit flag.FlagSet (each flag there takes exactly one value), so it's
// parsed by hand.
func parseArgs(args []string) (port int, pairs []exportPair, err error) {
	if len(args) < 4 || args[0] != "-p" || args[2] != "-d" {
		return 0, nil, fmt.Errorf("malformed arguments")
	}
	port, err = strconv.Atoi(args[1])
	if err != nil {
		return 0, nil, fmt.Errorf("invalid port %q: %w", args[1], err)
	}
	if port >= 65536 || port < 0 {
		return 0, nil, fmt.Errorf("port %d out of range", port)
	}

	rest := args[3:]
	if len(rest)%2 != 0 || len(rest) == 0 {
		return 0, nil, fmt.Errorf("-d requires an even, non-zero number of <file> <name> tokens")
	}
	for i := 0; i < len(rest); i += 2 {
		pairs = append(pairs, exportPair{file: rest[i], name: rest[i+1]})
	}
	return port, pairs, nil
}

// buildRegistry opens every file in pairs and builds a Registry from them.
// The returned closeAll function releases all opened files; it must be
// called even on a non-nil error, to close whatever was opened so far.
func buildRegistry(pairs []exportPair) (reg *nbd.Registry, closeAll func(), err error) {
	var files []*os.File
	closeAll = func() {
		for _, f := range files {
			f.Close()
		}
	}

	var exports []nbd.Export
	for _, p := range pairs {
		f, err := os.OpenFile(p.file, os.O_RDWR, 0)
		readOnly := false
		if err != nil {
			f, err = os.OpenFile(p.file, os.O_RDONLY, 0)
			readOnly = true
		}
		if err != nil {
			return nil, closeAll, fmt.Errorf("open %s: %w", p.file, err)
		}
		files = append(files, f)

		size, err := deviceSize(f)
		if err != nil {
			return nil, closeAll, fmt.Errorf("stat %s: %w", p.file, err)
		}

		exports = append(exports, nbd.Export{
			Name:     p.name,
			Size:     size,
			ReadOnly: readOnly,
			Device:   f,
		})
	}

	reg, err = nbd.NewRegistry(exports...)
	if err != nil {
		return nil, closeAll, err
	}
	return reg, closeAll, nil
}
