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
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/evmtrack/evmtrack/track"
)

// ERC-1967 fixed storage slots.
var (
	eip1967ImplementationSlot = common.HexToHash("0x360894a13ba1a3210667c828492db98dca3e2076cc3735a920a3ca505d382bbc")
	eip1967AdminSlot          = common.HexToHash("0xb53127684a568b3173ae13b9f8a6016e243e63b6e8ee1178d6a717850b5d6103")
	eip1967BeaconSlot         = common.HexToHash("0xa3f0ad74e5423aebfd80d3ef4346578335a9a72aeaee59ff6cb3582b35133d50")
)

// storageReader is the slice of the node client the proxy scan uses.
type storageReader interface {
	StorageAt(ctx context.Context, account common.Address, slot common.Hash) (common.Hash, error)
}

// ProxyUpgradeAction reacts to ERC-1967 proxy lifecycle events and
// cross-checks the event payload against the on-chain slots.
type ProxyUpgradeAction struct {
	track.BaseAction
	reader storageReader
}

// NewProxyUpgradeAction builds the action around a storage reader.
func NewProxyUpgradeAction(reader storageReader) *ProxyUpgradeAction {
	return &ProxyUpgradeAction{reader: reader}
}

func (a *ProxyUpgradeAction) OnEvent(e *track.EventRecord) error {
	switch e.Name {
	case "Upgraded", "ImplementationUpgraded":
		a.handleImplementationUpgrade(e)
	case "AdminChanged":
		a.handleAdminChange(e)
	case "BeaconUpgraded":
		a.handleBeaconUpgrade(e)
	}
	return nil
}

func slotAddress(word common.Hash) *common.Address {
	addr := common.BytesToAddress(word[12:])
	if addr == (common.Address{}) {
		return nil
	}
	return &addr
}

func (a *ProxyUpgradeAction) readSlot(ctx context.Context, proxy common.Address, slot common.Hash) *common.Address {
	word, err := a.reader.StorageAt(ctx, proxy, slot)
	if err != nil {
		logger.Warn("storage read failed", "proxy", proxy, "slot", slot, "err", err)
		return nil
	}
	return slotAddress(word)
}

func fieldContaining(e *track.EventRecord, substr string) string {
	for _, f := range e.Fields {
		if strings.Contains(strings.ToLower(f.Name), substr) {
			return f.Value.String()
		}
	}
	return "-"
}

func (a *ProxyUpgradeAction) handleImplementationUpgrade(e *track.EventRecord) {
	claimed := fieldContaining(e, "implementation")
	proxy, txh, bn := e.Address, e.TxHash, e.BlockNumber
	go func() {
		ctx := context.Background()
		impl := a.readSlot(ctx, proxy, eip1967ImplementationSlot)
		admin := a.readSlot(ctx, proxy, eip1967AdminSlot)
		beacon := a.readSlot(ctx, proxy, eip1967BeaconSlot)
		fmt.Printf("[proxy-upgrade] proxy=%s new_impl=%s onchain_impl=%s admin=%s beacon=%s tx=%s block=%s\n",
			strings.ToLower(proxy.Hex()), claimed, fmtAddr(impl), fmtAddr(admin), fmtAddr(beacon), fmtHash(txh), fmtU64(bn))
	}()
}

func (a *ProxyUpgradeAction) handleAdminChange(e *track.EventRecord) {
	var prev, next string = "-", "-"
	for _, f := range e.Fields {
		switch strings.ToLower(f.Name) {
		case "previousadmin", "previous_admin", "from":
			prev = f.Value.String()
		case "newadmin", "new_admin", "to":
			next = f.Value.String()
		}
	}
	proxy, txh, bn := e.Address, e.TxHash, e.BlockNumber
	go func() {
		admin := a.readSlot(context.Background(), proxy, eip1967AdminSlot)
		fmt.Printf("[proxy-admin-changed] proxy=%s prev=%s new=%s onchain_admin=%s tx=%s block=%s\n",
			strings.ToLower(proxy.Hex()), prev, next, fmtAddr(admin), fmtHash(txh), fmtU64(bn))
	}()
}

func (a *ProxyUpgradeAction) handleBeaconUpgrade(e *track.EventRecord) {
	claimed := fieldContaining(e, "beacon")
	proxy, txh, bn := e.Address, e.TxHash, e.BlockNumber
	go func() {
		beacon := a.readSlot(context.Background(), proxy, eip1967BeaconSlot)
		fmt.Printf("[proxy-beacon-upgrade] proxy=%s new_beacon=%s onchain_beacon=%s tx=%s block=%s\n",
			strings.ToLower(proxy.Hex()), claimed, fmtAddr(beacon), fmtHash(txh), fmtU64(bn))
	}()
}

func proxyUpgradeFactory() track.Factory {
	return track.Factory{
		Description:   "Cross-check ERC-1967 proxy upgrade events against the on-chain slots",
		ConfigExample: `{"enabled": true, "addresses": {}, "options": {}}`,
		New: func(ctx *track.FactoryContext) (track.Action, error) {
			return NewProxyUpgradeAction(ctx.Client), nil
		},
	}
}
