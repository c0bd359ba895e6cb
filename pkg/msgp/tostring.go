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
	"strconv"
	"strings"
)

// String renders the object for logs and diagnostics. Integers render
// through their unsigned reading; sign information is not stored.
func (o Object) String() string {
	var b strings.Builder
	writeObject(&b, o)
	return b.String()
}

// TypeName renders the name of the object's variant, recursing into
// containers. Used for error messages.
func (o Object) TypeName() string {
	var b strings.Builder
	writeTypeName(&b, o)
	return b.String()
}

func writeObject(b *strings.Builder, o Object) {
	switch o.tag {
	case TypeNil:
		b.WriteString("null")
	case TypeBoolean:
		if o.Bool() {
			b.WriteString("True")
		} else {
			b.WriteString("False")
		}
	case TypeInteger:
		b.WriteString(strconv.FormatUint(o.num, 10))
	case TypeFloat64:
		b.WriteString(strconv.FormatFloat(o.Float64(), 'g', -1, 64))
	case TypeString:
		b.WriteByte('"')
		b.Write(o.bin)
		b.WriteByte('"')
	case TypeBinary:
		const digits = "0123456789abcdef"
		b.WriteString("b'")
		for _, c := range o.bin {
			b.WriteByte(digits[c>>4])
			b.WriteByte(digits[c&15])
		}
		b.WriteByte('\'')
	case TypeExtension:
		b.WriteString("(extension)")
	case TypeArray:
		b.WriteByte('[')
		for i, elem := range o.arr {
			if i > 0 {
				b.WriteString(", ")
			}
			writeObject(b, elem)
		}
		b.WriteByte(']')
	case TypeMap:
		b.WriteByte('{')
		for i, p := range o.m {
			if i > 0 {
				b.WriteString(", ")
			}
			writeObject(b, p.Key)
			b.WriteString(" : ")
			writeObject(b, p.Value)
		}
		b.WriteByte('}')
	default:
		b.WriteString("(invalid)")
	}
}

func writeTypeName(b *strings.Builder, o Object) {
	switch o.tag {
	case TypeNil:
		b.WriteString("null")
	case TypeBoolean:
		b.WriteString("boolean")
	case TypeInteger:
		b.WriteString("integer")
	case TypeFloat64:
		b.WriteString("float64")
	case TypeString:
		b.WriteString("string")
	case TypeBinary:
		b.WriteString("binary")
	case TypeExtension:
		b.WriteString("extension")
	case TypeArray:
		b.WriteByte('[')
		for i, elem := range o.arr {
			if i > 0 {
				b.WriteString(", ")
			}
			writeTypeName(b, elem)
		}
		b.WriteByte(']')
	case TypeMap:
		b.WriteByte('{')
		for i, p := range o.m {
			if i > 0 {
				b.WriteString(", ")
			}
			writeTypeName(b, p.Key)
			b.WriteString(" : ")
			writeTypeName(b, p.Value)
		}
		b.WriteByte('}')
	default:
		b.WriteString("invalid")
	}
}
