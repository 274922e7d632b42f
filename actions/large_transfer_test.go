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
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evmtrack/evmtrack/abi"
	"github.com/evmtrack/evmtrack/track"
)

func transferRecord(amount *big.Int) *track.EventRecord {
	from := common.HexToAddress("0xaa00000000000000000000000000000000000001")
	to := common.HexToAddress("0xbb00000000000000000000000000000000000002")
	return &track.EventRecord{
		Address: common.HexToAddress("0x9999999999999999999999999999999999999999"),
		Name:    "Transfer",
		Topics: []common.Hash{
			transferTopic,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Fields: []abi.Field{
			{Name: "from", Value: abi.AddressValue(from), Indexed: true},
			{Name: "to", Value: abi.AddressValue(to), Indexed: true},
			{Name: "value", Value: abi.UintValue(amount)},
		},
	}
}

func TestLargeTransferThreshold(t *testing.T) {
	oneEther, _ := new(big.Int).SetString("de0b6b3a7640000", 16) // 1e18

	low := NewLargeTransferAction(LargeTransferOptions{MinAmountHuman: "0.5", DecimalsDefault: 18})
	amount, ok := low.Fires(transferRecord(oneEther))
	require.True(t, ok, "1 token is above a 0.5 threshold")
	assert.Equal(t, "1", amount)

	high := NewLargeTransferAction(LargeTransferOptions{MinAmountHuman: "10", DecimalsDefault: 18})
	_, ok = high.Fires(transferRecord(oneEther))
	assert.False(t, ok, "1 token is below a 10 threshold")
}

func TestLargeTransferAnomalyCeiling(t *testing.T) {
	// 1e14 tokens at 18 decimals: beyond any plausible supply.
	huge := new(big.Int).Mul(pow10(14), pow10(18))
	a := NewLargeTransferAction(LargeTransferOptions{MinAmountHuman: "1", DecimalsDefault: 18})
	_, ok := a.Fires(transferRecord(huge))
	assert.False(t, ok)
}

func TestLargeTransferIgnoresOtherEvents(t *testing.T) {
	a := NewLargeTransferAction(LargeTransferOptions{MinAmountHuman: "0"})
	rec := transferRecord(big.NewInt(1))
	rec.Topics[0] = common.HexToHash("0x01")
	_, ok := a.Fires(rec)
	assert.False(t, ok)
}

func TestLargeTransferKnownTokenDecimals(t *testing.T) {
	a := NewLargeTransferAction(LargeTransferOptions{MinAmountHuman: "1", DecimalsDefault: 18})
	rec := transferRecord(big.NewInt(2_000_000)) // 2 USDC at 6 decimals
	rec.Address = common.HexToAddress("0x8ac76a51cc950d9822d68b83fe1ad97b32cd580d")
	amount, ok := a.Fires(rec)
	require.True(t, ok)
	assert.Equal(t, "2", amount)
}

func TestParseHumanAmount(t *testing.T) {
	v, ok := parseHumanAmount("0.5", 18)
	require.True(t, ok)
	half, _ := new(big.Int).SetString("6f05b59d3b20000", 16) // 5e17
	assert.Zero(t, v.Cmp(half))

	v, ok = parseHumanAmount("10", 6)
	require.True(t, ok)
	assert.EqualValues(t, 10_000_000, v.Int64())

	_, ok = parseHumanAmount("1.1234567", 6)
	assert.False(t, ok, "more fractional digits than decimals")

	_, ok = parseHumanAmount("abc", 18)
	assert.False(t, ok)
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "1.5", formatAmount(big.NewInt(1_500_000), 6))
	assert.Equal(t, "2", formatAmount(big.NewInt(2_000_000), 6))
	assert.Equal(t, "0.000001", formatAmount(big.NewInt(1), 6))
	assert.Equal(t, "7", formatAmount(big.NewInt(7), 0))
}
