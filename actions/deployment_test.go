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

package actions

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func minimalProxyCode(impl common.Address) []byte {
	code := append([]byte(nil), eip1167Prefix...)
	code = append(code, impl.Bytes()...)
	return append(code, eip1167Suffix...)
}

func TestDetectMinimalProxy(t *testing.T) {
	impl := common.HexToAddress("0x1111111111111111111111111111111111111111")
	got, ok := DetectMinimalProxy(minimalProxyCode(impl))
	require.True(t, ok)
	assert.Equal(t, impl, got)
}

func TestDetectMinimalProxyRejectsNearMisses(t *testing.T) {
	impl := common.HexToAddress("0x1111111111111111111111111111111111111111")
	code := minimalProxyCode(impl)

	// one trailing byte too many
	_, ok := DetectMinimalProxy(append(code, 0x00))
	assert.False(t, ok)

	// corrupted prefix
	bad := append([]byte(nil), code...)
	bad[0] = 0x00
	_, ok = DetectMinimalProxy(bad)
	assert.False(t, ok)

	_, ok = DetectMinimalProxy(nil)
	assert.False(t, ok)
}

func TestScanCodeReport(t *testing.T) {
	impl := common.HexToAddress("0x1111111111111111111111111111111111111111")
	contract := common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc")
	code := minimalProxyCode(impl)

	report := ScanCode(contract, code)
	assert.True(t, report.EIP1167MinProxy)
	require.NotNil(t, report.EIP1167Impl)
	assert.Equal(t, "0x1111111111111111111111111111111111111111", *report.EIP1167Impl)
	assert.Equal(t, len(code), report.CodeSize)
	assert.False(t, report.Empty)
	assert.Equal(t, hexutil.Encode(code[:16]), report.Head)
	assert.False(t, report.EIP1967ImplSlotRef)
}

func TestScanCodeEmptyAndSlotRefs(t *testing.T) {
	contract := common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc")

	empty := ScanCode(contract, nil)
	assert.True(t, empty.Empty)
	assert.Zero(t, empty.CodeSize)
	assert.False(t, empty.EIP1167MinProxy)

	withSlot := append([]byte{0x60, 0x80}, eip1967ImplementationSlot.Bytes()...)
	withSlot = append(withSlot, eip1967AdminSlot.Bytes()...)
	report := ScanCode(contract, withSlot)
	assert.True(t, report.EIP1967ImplSlotRef)
	assert.True(t, report.EIP1967AdminRef)
}
