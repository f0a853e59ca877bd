// Copyright 2018 The gVisor Authors.
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

// Package rand implements a cryptographically secure pseudorandom number
// generator used for transaction and echo identifiers.
package rand

import (
	"encoding/binary"
	"io"
)

// Reader is the default reader.
var Reader io.Reader = reader{}

// Read reads from the default reader.
func Read(b []byte) (int, error) {
	return io.ReadFull(Reader, b)
}

// Uint16 returns a random 16-bit value. It panics if the random source fails.
func Uint16() uint16 {
	var b [2]byte
	if _, err := Read(b[:]); err != nil {
		panic("rand: " + err.Error())
	}
	return binary.BigEndian.Uint16(b[:])
}

// Uint32 returns a random 32-bit value. It panics if the random source fails.
func Uint32() uint32 {
	var b [4]byte
	if _, err := Read(b[:]); err != nil {
		panic("rand: " + err.Error())
	}
	return binary.BigEndian.Uint32(b[:])
}
