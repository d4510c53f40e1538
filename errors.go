// Copyright 2024 The Cockroach Authors
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

package hv

import (
	"github.com/cockroachdb/errors"
)

// The following errors are raised by panicking: they describe conditions
// the engine cannot recover from on its own. Callers that want to survive
// them must recover and test the recovered value with errors.Is.
var (
	// ErrKeyTooLong is raised when a key is longer than keycodec.MaxKeyLen.
	ErrKeyTooLong = errors.New("hash keys must be smaller than 2**31 bytes")
	// ErrDisallowedKey is raised when a new key is stored into a
	// restricted table.
	ErrDisallowedKey = errors.New("attempt to access disallowed key in a restricted hash")
	// ErrReadOnlyKey is raised when a restricted table is asked to drop a
	// value that reports itself as read-only.
	ErrReadOnlyKey = errors.New("attempt to delete readonly key from a restricted hash")
	// ErrStringTableModified is raised when the intern table's backing
	// table is written to through the public Table API.
	ErrStringTableModified = errors.New("cannot modify shared string table")
)

func fatalf(base error, format string, args ...interface{}) {
	panic(errors.Wrapf(base, format, args...))
}

// Fatal extracts the error from a value recovered after one of the engine's
// fatal panics. It returns nil if r did not originate from this package.
func Fatal(r interface{}) error {
	err, ok := r.(error)
	if !ok {
		return nil
	}
	for _, base := range []error{ErrKeyTooLong, ErrDisallowedKey, ErrReadOnlyKey, ErrStringTableModified} {
		if errors.Is(err, base) {
			return err
		}
	}
	return nil
}
