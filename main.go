// elPrep: a high-performance tool for preparing SAM/BAM files.
// Copyright (c) 2017-2019 imec vzw.

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

// fast-samtools-sort is a memory-bounded, parallel external sort of
// SAM/BAM/CRAM alignment records by reference coordinate.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/chbe-helix/fast-samtools-sort/cmd"
)

func main() {
	fmt.Fprintln(os.Stderr, cmd.ProgramMessage)
	if len(os.Args) < 2 {
		log.Println("Incorrect number of parameters.")
		fmt.Fprint(os.Stderr, cmd.SortHelp)
		os.Exit(0)
	}

	switch os.Args[1] {
	case "help", "-help", "--help", "-h", "--h":
		fmt.Fprint(os.Stderr, cmd.SortHelp)
		return
	}

	if err := cmd.Sort(); err != nil {
		log.Fatal(err)
	}
}
