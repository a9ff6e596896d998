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

package sam

import (
	"bufio"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
)

// Tool identifies which external program produces or consumes the
// decompressed, textual SAM byte stream this package wraps.
type Tool int

const (
	// Samtools shells out to "samtools view"/"samtools cat".
	Samtools Tool = iota
	// Sambamba shells out to "sambamba view"/"sambamba merge".
	Sambamba
)

func (t Tool) String() string {
	switch t {
	case Sambamba:
		return "sambamba"
	default:
		return "samtools"
	}
}

// InputFile is a readable byte stream backed either by a plain os.File or by
// the stdout pipe of a decoder subprocess.
type InputFile struct {
	rc  io.ReadCloser
	buf *bufio.Reader
	cmd *exec.Cmd
}

// Reader returns the buffered reader wrapping this input stream.
func (input *InputFile) Reader() *bufio.Reader {
	return input.buf
}

// OutputFile is a writable byte stream backed either by a plain os.File or
// by the stdin pipe of an encoder/concatenator subprocess.
type OutputFile struct {
	wc  io.WriteCloser
	buf *bufio.Writer
	cmd *exec.Cmd
}

// Writer returns the buffered writer wrapping this output stream.
func (output *OutputFile) Writer() *bufio.Writer {
	return output.buf
}

// OpenDecoder starts tool as a subprocess that decodes name (a .bam/.cram
// file, or anything samtools/sambamba recognizes) to headered textual SAM on
// its stdout, and returns a stream reading that stdout. headerOnly restricts
// the subprocess to emitting only the header.
func OpenDecoder(tool Tool, name string, headerOnly bool) (*InputFile, error) {
	if _, err := os.Stat(name); err != nil {
		return nil, err
	}
	var args []string
	switch tool {
	case Sambamba:
		args = []string{"view", "-h"}
		if headerOnly {
			args = []string{"view", "-H"}
		}
		args = append(args, "-t", strconv.Itoa(runtime.GOMAXPROCS(0)), name)
	default:
		args = []string{"view"}
		if headerOnly {
			args = append(args, "-H")
		} else {
			args = append(args, "-h")
		}
		args = append(args, "-@", strconv.Itoa(runtime.GOMAXPROCS(0)), name)
	}
	cmd := exec.Command(tool.String(), args...)
	outPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &InputFile{rc: outPipe, buf: bufio.NewReader(outPipe), cmd: cmd}, nil
}

// OpenPlain opens name directly, with no decoding subprocess, for inputs
// that are already textual SAM (or piped in on /dev/stdin).
func OpenPlain(name string) (*InputFile, error) {
	if name == "/dev/stdin" {
		return &InputFile{rc: os.Stdin, buf: bufio.NewReader(os.Stdin)}, nil
	}
	file, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	return &InputFile{rc: file, buf: bufio.NewReader(file)}, nil
}

// Close releases the input stream, waiting for any decoder subprocess to
// exit and propagating its exit error, if any.
func (input *InputFile) Close() error {
	if input.rc != os.Stdin {
		if err := input.rc.Close(); err != nil {
			return err
		}
	}
	if input.cmd != nil {
		return input.cmd.Wait()
	}
	return nil
}

// CreateEncoder starts tool as a subprocess that encodes headered textual
// SAM written to its stdin into name (a .bam/.cram output path), at the
// given zlib-style compression level. A level of -1 leaves the subprocess's
// own default in effect.
func CreateEncoder(tool Tool, name string, level int) (*OutputFile, error) {
	var args []string
	switch tool {
	case Sambamba:
		args = []string{"view", "-S", "-f", "bam", "-o", name}
		if level >= 0 {
			args = append(args, "-l", strconv.Itoa(level))
		}
		args = append(args, "/dev/stdin")
	default:
		args = []string{"view", "-Sb", "-@", strconv.Itoa(runtime.GOMAXPROCS(0))}
		if level >= 0 {
			args = append(args, "-l", strconv.Itoa(level))
		}
		args = append(args, "-o", name, "-")
	}
	cmd := exec.Command(tool.String(), args...)
	inPipe, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = os.Stderr
	cmd.Stdout = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &OutputFile{wc: inPipe, buf: bufio.NewWriter(inPipe), cmd: cmd}, nil
}

// CreatePlain creates name directly, with no encoding subprocess.
func CreatePlain(name string) (*OutputFile, error) {
	if name == "/dev/stdout" {
		return &OutputFile{wc: os.Stdout, buf: bufio.NewWriter(os.Stdout)}, nil
	}
	file, err := os.Create(name)
	if err != nil {
		return nil, err
	}
	return &OutputFile{wc: file, buf: bufio.NewWriter(file)}, nil
}

// Close flushes and releases the output stream, waiting for any encoder
// subprocess to exit and propagating its exit error, if any.
func (output *OutputFile) Close() error {
	if err := output.buf.Flush(); err != nil {
		return err
	}
	if output.wc != os.Stdout {
		if err := output.wc.Close(); err != nil {
			return err
		}
	}
	if output.cmd != nil {
		return output.cmd.Wait()
	}
	return nil
}

// Concatenate runs tool's container-level concatenation operation to splice
// the header from headerSource together with the already-compressed shard
// files parts, in order, into name.
func Concatenate(tool Tool, name, headerSource string, parts []string) error {
	var args []string
	switch tool {
	case Sambamba:
		args = append([]string{"merge", name, headerSource}, parts...)
	default:
		args = append([]string{"cat", "-h", headerSource, "-o", name}, parts...)
	}
	cmd := exec.Command(tool.String(), args...)
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
