// +build pedantic

// elPrep: a high-performance tool for analyzing SAM/BAM files.
// Copyright (c) 2020 imec vzw.

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

package internal

const (
	// StrictMode is a Boolean flag for conditional compilation. When built
	// with the "pedantic" build tag, record validation additionally rejects
	// any record line with fewer than the mandatory 11 SAM columns, instead
	// of only checking the columns this tool actually reads.
	StrictMode = true

	// StrictMessage can be added to the overall program message.
	StrictMessage = "strict validation mode "
)
