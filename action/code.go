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

// Package action implements the scheduling primitive shared by every step
// of an update attempt: a typed graph of actions connected by single-use
// pipes, driven sequentially to completion by a Processor.
package action

// Code is the closed result enumeration every action reports on
// completion. The processor and its owner use it to decide retry, skip,
// abort, or revert semantics; it never carries free-form text.
type Code int

const (
	CodeSuccess Code = iota
	CodeErrorNoUpdate
	CodeErrorNetwork
	CodeErrorHash
	CodeErrorSignature
	CodeErrorPayloadMismatch
	CodeErrorIO
	CodeErrorSecurity
	CodeErrorAborted
	CodeErrorInternal
)

func (c Code) String() string {
	switch c {
	case CodeSuccess:
		return "success"
	case CodeErrorNoUpdate:
		return "no-update"
	case CodeErrorNetwork:
		return "network"
	case CodeErrorHash:
		return "hash"
	case CodeErrorSignature:
		return "signature"
	case CodeErrorPayloadMismatch:
		return "payload-mismatch"
	case CodeErrorIO:
		return "io"
	case CodeErrorSecurity:
		return "security"
	case CodeErrorAborted:
		return "aborted"
	case CodeErrorInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Soft reports whether code represents a condition that should NOT trip
// the check scheduler's failure backoff (§4.7): a clean "no update"
// response, and cancellation, are not failures.
func (c Code) Soft() bool {
	return c == CodeSuccess || c == CodeErrorNoUpdate || c == CodeErrorAborted
}

// Fatal reports whether code should terminate the whole process rather
// than just the current attempt (§7 "internal").
func (c Code) Fatal() bool {
	return c == CodeErrorInternal
}
