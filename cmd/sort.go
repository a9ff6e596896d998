// elPrep: a high-performance tool for analyzing SAM/BAM files.
// Copyright (c) 2017-2020 imec vzw.

// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version, and Additional Terms
// (see below).

// This program is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.

// You should have received a copy of the GNU Affero General Public
// License and Additional Terms along with this program. If not, see
// <https://github.com/ExaScience/elprep/blob/master/LICENSE.txt>.

package cmd

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chbe-helix/fast-samtools-sort/internal"
	"github.com/chbe-helix/fast-samtools-sort/sortpipeline"
)

// SortHelp is printed for "fast-samtools-sort --help".
const SortHelp = "Sort a SAM/BAM/CRAM file by coordinate:\n" +
	"fast-samtools-sort sam-or-bam-file\n" +
	"	[--output path]\n" +
	"	[--level level]\n" +
	"	[--memory size]\n" +
	"	[--workers n]\n" +
	"	[--encoder samtools|sambamba|native]\n" +
	"	[--input-is-text]\n" +
	"	[--log-path path]\n" +
	"	[--verbose]\n"

const defaultMemoryBytes = 2 << 30 // 2 GiB

// parseMemorySize parses a byte count with an optional K/M/G suffix
// (powers of 1024), following the -m option of the program this tool
// reimplements.
func parseMemorySize(s string) (int64, error) {
	if s == "" {
		return defaultMemoryBytes, nil
	}
	mult := int64(1)
	numeric := s
	switch s[len(s)-1] {
	case 'k', 'K':
		mult = 1 << 10
		numeric = s[:len(s)-1]
	case 'm', 'M':
		mult = 1 << 20
		numeric = s[:len(s)-1]
	case 'g', 'G':
		mult = 1 << 30
		numeric = s[:len(s)-1]
	}
	val, err := strconv.ParseInt(numeric, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid --memory value %q: %v", s, err)
	}
	if val <= 0 {
		return 0, fmt.Errorf("invalid --memory value %q: must be positive", s)
	}
	return val * mult, nil
}

func clampLevel(level int) int {
	switch {
	case level < 0:
		return 0
	case level > 9:
		return 9
	default:
		return level
	}
}

func defaultOutputPath(input string) string {
	return input + ".sorted"
}

// cleanupStaleTempFiles removes any "<input>.tmp.*" bucket or shard files
// left behind by a previous run of this tool that crashed or was killed
// before it could clean up after itself, so they can't be mistaken for
// this run's own intermediate files.
func cleanupStaleTempFiles(fullInput string) {
	dir := filepath.Dir(fullInput)
	names, err := internal.Directory(dir)
	if err != nil {
		return
	}
	prefix := filepath.Base(fullInput) + ".tmp."
	for _, name := range names {
		if strings.HasPrefix(name, prefix) {
			path := filepath.Join(dir, name)
			if err := os.Remove(path); err != nil {
				log.Printf("warning: could not remove stale temp file %s: %v", path, err)
			} else {
				log.Printf("removed stale temp file from a previous run: %s", path)
			}
		}
	}
}

// Sort implements the tool's single command: sort a SAM/BAM/CRAM file by
// coordinate.
func Sort() error {
	flags := flag.NewFlagSet("fast-samtools-sort", flag.ContinueOnError)
	output := flags.String("output", "", "Output path. Default <input>.sorted.")
	level := flags.Int("level", 6, "Compression level, 0-9.")
	memory := flags.String("memory", "", "Memory budget, e.g. 512M, 2G. Default 2G.")
	workers := flags.Int("workers", 1, "Number of worker goroutines.")
	encoderFlag := flags.String("encoder", "samtools", "Byte-stream collaborator: samtools, sambamba, or native.")
	inputIsText := flags.Bool("input-is-text", false, "Treat the input as already-decoded textual SAM.")
	logPath := flags.String("log-path", "", "Directory to write the log file to.")
	verbose := flags.Bool("verbose", false, "Log stage-by-stage progress.")

	input := getFilename(os.Args[1], SortHelp)
	parseFlags(*flags, 2, SortHelp)

	outputPath := *output
	if outputPath == "" {
		outputPath = defaultOutputPath(input)
	}

	if !checkExist("input file", input) {
		os.Exit(0)
	}
	if !checkCreate("output file", outputPath) {
		os.Exit(0)
	}

	fullInput, err := internal.FullPathname(input)
	if err != nil {
		log.Println("Error:", err)
		os.Exit(0)
	}
	cleanupStaleTempFiles(fullInput)

	encKind, err := sortpipeline.ParseEncoderKind(strings.ToLower(*encoderFlag))
	if err != nil {
		log.Println("Error:", err)
		fmt.Fprint(os.Stderr, SortHelp)
		os.Exit(0)
	}

	memBytes, err := parseMemorySize(*memory)
	if err != nil {
		log.Println("Error:", err)
		fmt.Fprint(os.Stderr, SortHelp)
		os.Exit(0)
	}

	w := *workers
	if w < 1 {
		w = 1
	}

	setLogOutput(*logPath)

	opts := sortpipeline.Options{
		InputPath:   fullInput,
		OutputPath:  outputPath,
		Level:       clampLevel(*level),
		MemoryBytes: memBytes,
		Workers:     w,
		Verbose:     *verbose,
		InputIsText: *inputIsText,
		Encoder:     encKind,
	}

	var sortErr error
	timedRun(*verbose, "", "Sorting "+input, 0, func() {
		sortErr = sortpipeline.Sort(context.Background(), opts)
	})
	if sortErr != nil {
		log.Println("Error:", sortErr)
		os.Exit(1)
	}
	return nil
}
