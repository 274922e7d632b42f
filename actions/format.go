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
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

func fmtU64(n *uint64) string {
	if n == nil {
		return "pending"
	}
	return strconv.FormatUint(*n, 10)
}

func fmtHash(h *common.Hash) string {
	if h == nil {
		return "-"
	}
	return h.Hex()
}

func fmtAddr(a *common.Address) string {
	if a == nil {
		return "-"
	}
	return strings.ToLower(a.Hex())
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// scaleAmount renders a raw token amount in human units with the fractional
// part left-padded to the token's decimals.
func scaleAmount(v *big.Int, decimals uint8) string {
	if decimals == 0 {
		return v.String()
	}
	denom := pow10(int(decimals))
	quo, rem := new(big.Int).QuoRem(v, denom, new(big.Int))
	frac := rem.String()
	if pad := int(decimals) - len(frac); pad > 0 {
		frac = strings.Repeat("0", pad) + frac
	}
	return quo.String() + "." + frac
}

// formatAmount is scaleAmount with trailing zeros trimmed.
func formatAmount(v *big.Int, decimals uint8) string {
	s := scaleAmount(v, decimals)
	if !strings.Contains(s, ".") {
		return s
	}
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// parseHumanAmount converts a decimal string in human units to the raw token
// amount. More fractional digits than the token's decimals is a parse error.
func parseHumanAmount(s string, decimals uint8) (*big.Int, bool) {
	intPart, fracPart, hasFrac := strings.Cut(s, ".")
	intV, ok := new(big.Int).SetString(intPart, 10)
	if !ok || intV.Sign() < 0 {
		return nil, false
	}
	denom := pow10(int(decimals))
	out := new(big.Int).Mul(intV, denom)
	if !hasFrac {
		return out, true
	}
	if len(fracPart) > int(decimals) {
		return nil, false
	}
	fracV, ok := new(big.Int).SetString(fracPart, 10)
	if !ok || fracV.Sign() < 0 {
		return nil, false
	}
	scale := pow10(len(fracPart))
	fracScaled := new(big.Int).Mul(new(big.Int).Div(denom, scale), fracV)
	return out.Add(out, fracScaled), true
}
