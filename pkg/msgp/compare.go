//
//  Copyright 2026 The nvrpc Authors
//
//  Licensed to the Apache Software Foundation (ASF) under one or more
//  contributor license agreements.  See the NOTICE file distributed with
//  this work for additional information regarding copyright ownership.
//  The ASF licenses this file to You under the Apache License, Version 2.0
//  (the "License"); you may not use this file except in compliance with
//  the License.  You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.
//

package msgp

import (
	"bytes"
	"math"
)

func floatBits(f float64) uint64     { return math.Float64bits(f) }
func floatFromBits(b uint64) float64 { return math.Float64frombits(b) }

// Equal reports structural equality. Arrays compare element-wise, maps
// compare pair-wise in sorted key order. Integers compare by raw stored
// bits.
func (o Object) Equal(other Object) bool {
	return Compare(o, other) == 0
}

// Compare defines a total, stable ordering over all variants. Objects of
// different variants order by tag. It is the ordering used for map key
// sorting and for deterministic assertions.
func Compare(a, b Object) int {
	if a.tag != b.tag {
		if a.tag < b.tag {
			return -1
		}
		return 1
	}

	switch a.tag {
	case TypeInvalid, TypeNil:
		return 0

	case TypeBoolean, TypeInteger:
		return compareUint(a.num, b.num)

	case TypeFloat64:
		af, bf := floatFromBits(a.num), floatFromBits(b.num)
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		// Equal values, or NaNs. Fall back to bit order so the
		// ordering stays total.
		return compareUint(a.num, b.num)

	case TypeString, TypeBinary, TypeExtension:
		return bytes.Compare(a.bin, b.bin)

	case TypeArray:
		return compareArrays(a.arr, b.arr)

	case TypeMap:
		return comparePairs(a.m, b.m)
	}

	return 0
}

func compareUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareArrays(a, b []Object) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return len(a) - len(b)
}

func comparePairs(a, b []Pair) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := Compare(a[i].Key, b[i].Key); c != 0 {
			return c
		}
		if c := Compare(a[i].Value, b[i].Value); c != 0 {
			return c
		}
	}
	return len(a) - len(b)
}
