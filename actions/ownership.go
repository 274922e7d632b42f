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
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/evmtrack/evmtrack/abi"
	"github.com/evmtrack/evmtrack/track"
)

// OwnershipAction reports OwnershipTransferred events.
type OwnershipAction struct {
	track.BaseAction
}

func (OwnershipAction) OnEvent(e *track.EventRecord) error {
	if e.Name != "OwnershipTransferred" {
		return nil
	}
	var prev, next *common.Address
	for _, f := range e.Fields {
		if f.Value.Kind != abi.KindAddress {
			continue
		}
		switch f.Name {
		case "previousOwner":
			addr := f.Value.Addr
			prev = &addr
		case "newOwner":
			addr := f.Value.Addr
			next = &addr
		}
	}
	fmt.Printf("[ownership] contract=%s previous=%s new=%s tx=%s block=%s\n",
		strings.ToLower(e.Address.Hex()), fmtAddr(prev), fmtAddr(next), fmtHash(e.TxHash), fmtU64(e.BlockNumber))
	return nil
}

func ownershipFactory() track.Factory {
	return track.Factory{
		Description:   "Report OwnershipTransferred events with previous and new owner",
		ConfigExample: `{"enabled": true, "addresses": {}, "options": {}}`,
		New: func(*track.FactoryContext) (track.Action, error) {
			return OwnershipAction{}, nil
		},
	}
}
