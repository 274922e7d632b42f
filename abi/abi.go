// Copyright 2024 The evmtrack Authors
// This file is part of the evmtrack library.
//
// The evmtrack library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The evmtrack library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the evmtrack library. If not, see <http://www.gnu.org/licenses/>.

// Package abi decodes event logs and function calldata against catalog
// signatures. The decoder is deliberately forgiving: anything it cannot
// represent becomes an Unsupported value on that field, it never aborts the
// record it is working on.
package abi

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/evmtrack/evmtrack/sigs"
)

// Kind tags the variant carried by a Value.
type Kind uint8

const (
	KindAddress Kind = iota
	KindUint
	KindInt
	KindBool
	KindBytes32
	KindBytes
	KindString
	KindArray
	KindUnsupported
)

// Value is one decoded ABI value. Exactly the field selected by Kind is
// meaningful. Int values share the Uint container: no sign extension is
// performed at decode time, signedness is the consumer's concern.
type Value struct {
	Kind   Kind
	Addr   common.Address
	Num    *big.Int
	Flag   bool
	Word   common.Hash
	Blob   []byte
	Text   string
	Elems  []Value
	Reason string
}

// Field is a decoded, named event parameter.
type Field struct {
	Name    string
	Value   Value
	Indexed bool
}

func AddressValue(a common.Address) Value { return Value{Kind: KindAddress, Addr: a} }
func UintValue(n *big.Int) Value          { return Value{Kind: KindUint, Num: n} }
func IntValue(n *big.Int) Value           { return Value{Kind: KindInt, Num: n} }
func BoolValue(b bool) Value              { return Value{Kind: KindBool, Flag: b} }
func Bytes32Value(w common.Hash) Value    { return Value{Kind: KindBytes32, Word: w} }
func BytesValue(b []byte) Value           { return Value{Kind: KindBytes, Blob: b} }
func StringValue(s string) Value          { return Value{Kind: KindString, Text: s} }
func ArrayValue(elems []Value) Value      { return Value{Kind: KindArray, Elems: elems} }
func UnsupportedValue(reason string) Value {
	return Value{Kind: KindUnsupported, Reason: reason}
}

// String flattens a value to the form the JSON emitter prints.
func (v Value) String() string {
	switch v.Kind {
	case KindAddress:
		return strings.ToLower(v.Addr.Hex())
	case KindUint, KindInt:
		if v.Num == nil {
			return "0"
		}
		return v.Num.String()
	case KindBool:
		return fmt.Sprintf("%t", v.Flag)
	case KindBytes32:
		return v.Word.Hex()
	case KindBytes:
		return hexutil.Encode(v.Blob)
	case KindString:
		return v.Text
	case KindArray:
		parts := make([]string, len(v.Elems))
		for i, e := range v.Elems {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ",") + "]"
	default:
		return "<unsupported:" + v.Reason + ">"
	}
}

// IsDynamicType reports whether typ uses tail encoding.
func IsDynamicType(typ string) bool {
	return typ == "string" || typ == "bytes" || strings.HasSuffix(typ, "[]")
}

// DecodeIndexed decodes a single indexed parameter from its 32-byte topic.
// Dynamic and composite indexed parameters are keccak hashes on the wire, not
// values, so they come back Unsupported.
func DecodeIndexed(topic common.Hash, typ string) Value {
	switch {
	case IsDynamicType(typ) || strings.ContainsAny(typ, "[("):
		return UnsupportedValue("indexed dynamic or unsupported type")
	case typ == "address":
		return AddressValue(common.BytesToAddress(topic[12:]))
	case typ == "bool":
		return BoolValue(topic[31] != 0)
	case typ == "bytes32":
		return Bytes32Value(topic)
	case strings.HasPrefix(typ, "uint"):
		return UintValue(new(big.Int).SetBytes(topic[:]))
	case strings.HasPrefix(typ, "int"):
		return IntValue(new(big.Int).SetBytes(topic[:]))
	default:
		return UnsupportedValue("indexed dynamic or unsupported type")
	}
}

// DecodeStaticWord decodes a 32-byte head slot holding a static value.
func DecodeStaticWord(word []byte, typ string) Value {
	switch {
	case typ == "address":
		return AddressValue(common.BytesToAddress(word[12:32]))
	case typ == "bool":
		return BoolValue(word[31] != 0)
	case typ == "bytes32":
		return Bytes32Value(common.BytesToHash(word))
	case strings.HasPrefix(typ, "uint"):
		return UintValue(new(big.Int).SetBytes(word))
	case strings.HasPrefix(typ, "int"):
		return IntValue(new(big.Int).SetBytes(word))
	default:
		return UnsupportedValue("dynamic or unsupported type")
	}
}

// wordAt reads the big-endian word at offset as a length or offset. Values
// that do not fit an int are treated as unreadable.
func wordAt(data []byte, offset int) (int, bool) {
	if offset < 0 || offset+32 > len(data) {
		return 0, false
	}
	n := new(big.Int).SetBytes(data[offset : offset+32])
	if !n.IsInt64() || n.Int64() < 0 || n.Int64() > int64(len(data)) {
		return 0, false
	}
	return int(n.Int64()), true
}

// decodeDynamic decodes a tail-encoded value whose payload starts at offset.
// The bool result is false when the payload does not fit the data region.
func decodeDynamic(data []byte, offset int, typ string) (Value, bool) {
	if offset+32 > len(data) {
		return Value{}, false
	}
	if typ == "string" || typ == "bytes" {
		length, ok := wordAt(data, offset)
		if !ok {
			return Value{}, false
		}
		start := offset + 32
		if start+length > len(data) {
			return Value{}, false
		}
		raw := data[start : start+length]
		if typ == "string" {
			return StringValue(string(raw)), true
		}
		out := make([]byte, length)
		copy(out, raw)
		return BytesValue(out), true
	}
	base, isArray := strings.CutSuffix(typ, "[]")
	if !isArray {
		return Value{}, false
	}
	count, ok := wordAt(data, offset)
	if !ok {
		return Value{}, false
	}
	start := offset + 32
	elems := make([]Value, 0, count)
	for i := 0; i < count; i++ {
		off := start + i*32
		if off+32 > len(data) {
			return Value{}, false
		}
		if IsDynamicType(base) {
			return UnsupportedValue("nested dynamic array"), true
		}
		elems = append(elems, DecodeStaticWord(data[off:off+32], base))
	}
	return ArrayValue(elems), true
}

// DecodeEvent decodes a log against its catalog entry. Indexed parameters
// come from topics[1:] in declaration order, non-indexed parameters from the
// head area of data. A head slot or tail that falls outside data drops or
// marks the field but never fails the event.
func DecodeEvent(sig sigs.EventSig, topics []common.Hash, data []byte) []Field {
	fields := make([]Field, 0, len(sig.Inputs))
	topicIdx := 1
	headIdx := 0
	for _, input := range sig.Inputs {
		if input.Indexed {
			if topicIdx < len(topics) {
				fields = append(fields, Field{
					Name:    input.Name,
					Value:   DecodeIndexed(topics[topicIdx], input.Type),
					Indexed: true,
				})
				topicIdx++
			}
			continue
		}
		headOff := headIdx * 32
		headIdx++
		if headOff+32 > len(data) {
			continue
		}
		if IsDynamicType(input.Type) {
			off, ok := wordAt(data, headOff)
			v := UnsupportedValue("dynamic decode failed")
			if ok {
				if dv, ok2 := decodeDynamic(data, off, input.Type); ok2 {
					v = dv
				}
			}
			fields = append(fields, Field{Name: input.Name, Value: v})
			continue
		}
		fields = append(fields, Field{
			Name:  input.Name,
			Value: DecodeStaticWord(data[headOff:headOff+32], input.Type),
		})
	}
	return fields
}

// DecodeCalldata decodes function arguments from full calldata including the
// 4-byte selector. The head area starts after the selector, and dynamic
// offsets are relative to that base.
func DecodeCalldata(sig sigs.FuncSig, calldata []byte) []Value {
	const headBase = 4
	values := make([]Value, 0, len(sig.Inputs))
	for i, input := range sig.Inputs {
		off := headBase + i*32
		if off+32 > len(calldata) {
			break
		}
		if IsDynamicType(input.Type) {
			rel, ok := wordAt(calldata, off)
			v := UnsupportedValue("dynamic decode failed")
			if ok {
				if dv, ok2 := decodeDynamic(calldata, headBase+rel, input.Type); ok2 {
					v = dv
				}
			}
			values = append(values, v)
			continue
		}
		values = append(values, DecodeStaticWord(calldata[off:off+32], input.Type))
	}
	return values
}
