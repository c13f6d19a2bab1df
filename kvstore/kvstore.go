// Copyright 2016 CoreOS, Inc.
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

// Package kvstore implements the simple KEY=VALUE line format used for
// version/release files and similar flat metadata: lines separated by
// '\n', each line "KEY=VALUE", lines with no '=' are dropped, and a
// VALUE wrapped in a single matching pair of quotes has them stripped.
package kvstore

import "strings"

// ParseString splits s into a map of KEY=VALUE pairs. Lines without '='
// are ignored. A value at least two characters long and wrapped in a
// single matching pair of '"' or '\'' has those quote characters
// stripped; no other escaping is recognized.
func ParseString(s string) map[string]string {
	ret := make(map[string]string)
	for _, line := range strings.Split(s, "\n") {
		pos := strings.IndexByte(line, '=')
		if pos < 0 {
			continue
		}
		key := line[:pos]
		val := line[pos+1:]
		if len(val) >= 2 {
			first, last := val[0], val[len(val)-1]
			if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
				val = val[1 : len(val)-1]
			}
		}
		ret[key] = val
	}
	return ret
}

// AssembleString emits "KEY=VALUE\n" for each entry of data. Key
// ordering is the iteration order of the map and is unspecified. This is
// NOT the inverse of stripping quotes in ParseString: a value containing
// '\n' or starting/ending with a quote character round-trips incorrectly
// and is the caller's responsibility to avoid.
func AssembleString(data map[string]string) string {
	var b strings.Builder
	for k, v := range data {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(v)
		b.WriteByte('\n')
	}
	return b.String()
}
