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
	"errors"
	"fmt"
	"io"

	"github.com/chbe-helix/fast-samtools-sort/utils"
)

// Header holds the verbatim SAM header lines of an input file, grouped by
// record type, so that the header can be re-emitted byte-for-byte ahead of
// the sorted body.
type Header struct {
	HD          utils.StringMap
	SQ          []utils.StringMap
	RG          []utils.StringMap
	PG          []utils.StringMap
	CO          []string
	UserRecords map[string][]utils.StringMap
	Text        string // the header exactly as read, including trailing newlines
}

// NewHeader returns an empty Header.
func NewHeader() *Header {
	return &Header{UserRecords: make(map[string][]utils.StringMap)}
}

// IsHeaderUserTag reports whether code is a lowercase two-letter user tag,
// per the SAM specification's @-code extension mechanism.
func IsHeaderUserTag(code string) bool {
	if len(code) != 3 || code[0] != '@' {
		return false
	}
	return code[1] >= 'a' && code[1] <= 'z' && code[2] >= 'a' && code[2] <= 'z'
}

// AddUserRecord appends a user-tag header record under its code.
func (hdr *Header) AddUserRecord(code string, record utils.StringMap) {
	hdr.UserRecords[code] = append(hdr.UserRecords[code], record)
}

func (sc *StringScanner) parseHeaderField() (tag, value string) {
	if sc.err != nil {
		return
	}
	tag, ok := sc.readUntil(':')
	if !ok || len(tag) != 2 {
		if sc.err == nil {
			sc.err = fmt.Errorf("invalid field tag %v", tag)
		}
		return "", ""
	}
	value, _ = sc.readUntil('\t')
	return tag, value
}

func (sc *StringScanner) parseHeaderLine() utils.StringMap {
	if sc.err != nil {
		return nil
	}
	record := make(utils.StringMap)
	for sc.Len() > 0 {
		tag, value := sc.parseHeaderField()
		if !record.SetUniqueEntry(tag, value) {
			if sc.err == nil {
				sc.err = fmt.Errorf("duplicate field tag %v in a SAM header line", tag)
			}
			break
		}
	}
	return record
}

// ParseHeader reads the leading block of '@'-prefixed lines from reader and
// parses it into a Header. It reports an error if an @SQ record's SN or LN
// field is missing or absurdly short.
func ParseHeader(reader *bufio.Reader) (hdr *Header, text string, err error) {
	hdr = NewHeader()
	defer func() { hdr.Text = text }()
	var textBuf []byte
	var sc StringScanner
	for first := true; ; first = false {
		data, peekErr := reader.Peek(1)
		switch {
		case peekErr == io.EOF:
			return hdr, string(textBuf), nil
		case peekErr != nil:
			return hdr, string(textBuf), peekErr
		case data[0] != '@':
			return hdr, string(textBuf), nil
		}
		bytes, readErr := reader.ReadSlice('\n')
		length := len(bytes)
		switch {
		case readErr == nil:
			length--
		case readErr != io.EOF:
			return hdr, string(textBuf), readErr
		}
		textBuf = append(textBuf, bytes[:length]...)
		textBuf = append(textBuf, '\n')
		if length < 4 {
			return hdr, string(textBuf), errors.New("truncated SAM header line")
		}
		line := string(bytes[4:length])
		sc.Reset(line)
		switch string(bytes[0:4]) {
		case "@HD\t":
			if !first {
				return hdr, string(textBuf), errors.New("@HD line not in first position when parsing a SAM header")
			}
			hdr.HD = sc.parseHeaderLine()
		case "@SQ\t":
			record := sc.parseHeaderLine()
			if err := validateSQRecord(record); err != nil {
				return hdr, string(textBuf), err
			}
			hdr.SQ = append(hdr.SQ, record)
		case "@RG\t":
			hdr.RG = append(hdr.RG, sc.parseHeaderLine())
		case "@PG\t":
			hdr.PG = append(hdr.PG, sc.parseHeaderLine())
		case "@CO\t":
			hdr.CO = append(hdr.CO, line)
		default:
			code := string(bytes[0:3])
			switch {
			case code == "@CO":
				hdr.CO = append(hdr.CO, string(bytes[3:length]))
			case IsHeaderUserTag(code):
				if bytes[3] != '\t' {
					return hdr, string(textBuf), fmt.Errorf("header code %v not followed by a tab when parsing a SAM header", code)
				}
				hdr.AddUserRecord(code, sc.parseHeaderLine())
			default:
				return hdr, string(textBuf), fmt.Errorf("unknown SAM header record type code %v", code)
			}
		}
		if sc.err != nil {
			return hdr, string(textBuf), sc.err
		}
	}
}

// validateSQRecord enforces that an @SQ line carries well-formed SN and LN
// fields; an empty SN value, or a missing LN, is rejected.
func validateSQRecord(record utils.StringMap) error {
	sn, ok := record["SN"]
	if !ok || len(sn) == 0 {
		return fmt.Errorf("malformed @SQ record: SN field %q is missing or empty", sn)
	}
	ln, ok := record["LN"]
	if !ok || len(ln) <= 0 {
		return fmt.Errorf("malformed @SQ record: LN field %q is missing", ln)
	}
	return nil
}

// SkipHeader advances reader past the leading block of '@'-prefixed lines
// without parsing them, for callers (such as the decoder collaborator) that
// already have the header from elsewhere.
func SkipHeader(reader *bufio.Reader) (lines int, err error) {
	for {
		data, err := reader.Peek(1)
		if err != nil {
			if err == io.EOF {
				return lines, nil
			}
			return lines, err
		}
		if data[0] != '@' {
			break
		}
		for {
			b, err := reader.ReadByte()
			if err != nil {
				if err == io.EOF {
					return lines, nil
				}
				return lines, err
			}
			if b == '\n' {
				break
			}
		}
		lines++
	}
	return lines, nil
}
