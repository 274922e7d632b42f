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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/evmtrack/evmtrack/track"
)

// EIP-1167 minimal proxy runtime bytecode:
// prefix + 20-byte implementation + suffix, nothing else.
var (
	eip1167Prefix = hexutil.MustDecode("0x363d3d373d3d3d363d73")
	eip1167Suffix = hexutil.MustDecode("0x5af43d82803e903d91602b57fd5bf3")
)

// eip1967 slot constants referenced as byte patterns inside runtime code.
var (
	eip1967ImplSlotBytes  = eip1967ImplementationSlot.Bytes()
	eip1967AdminSlotBytes = eip1967AdminSlot.Bytes()
)

// codeReader is the slice of the node client the deployment scan uses.
type codeReader interface {
	CodeAt(ctx context.Context, account common.Address) ([]byte, error)
}

// DeploymentOptions configures the optional JSON-lines output file.
type DeploymentOptions struct {
	OutputFilepath string
}

// DeploymentScanAction fetches the runtime bytecode of every freshly
// deployed contract and reports size, hash, and proxy fingerprints.
type DeploymentScanAction struct {
	track.BaseAction
	reader codeReader
	opts   DeploymentOptions
}

// NewDeploymentScanAction builds the action around a code reader.
func NewDeploymentScanAction(reader codeReader, opts DeploymentOptions) *DeploymentScanAction {
	return &DeploymentScanAction{reader: reader, opts: opts}
}

// DeploymentReport is the JSON document appended per deployment.
type DeploymentReport struct {
	Kind               string  `json:"kind"`
	Contract           string  `json:"contract"`
	CodeSize           int     `json:"code_size"`
	CodeKeccak         string  `json:"code_keccak"`
	Head               string  `json:"head"`
	Empty              bool    `json:"empty"`
	EIP1167MinProxy    bool    `json:"eip1167_min_proxy"`
	EIP1167Impl        *string `json:"eip1167_impl"`
	EIP1967ImplSlotRef bool    `json:"eip1967_impl_slot_ref"`
	EIP1967AdminRef    bool    `json:"eip1967_admin_slot_ref"`
}

// DetectMinimalProxy matches the exact EIP-1167 runtime pattern and extracts
// the embedded implementation address.
func DetectMinimalProxy(code []byte) (common.Address, bool) {
	total := len(eip1167Prefix) + common.AddressLength + len(eip1167Suffix)
	if len(code) != total ||
		!bytes.HasPrefix(code, eip1167Prefix) ||
		!bytes.HasSuffix(code, eip1167Suffix) {
		return common.Address{}, false
	}
	return common.BytesToAddress(code[len(eip1167Prefix) : len(eip1167Prefix)+common.AddressLength]), true
}

// ScanCode builds the report for a contract's runtime bytecode.
func ScanCode(contract common.Address, code []byte) DeploymentReport {
	head := code
	if len(head) > 16 {
		head = head[:16]
	}
	report := DeploymentReport{
		Kind:               "deployment",
		Contract:           strings.ToLower(contract.Hex()),
		CodeSize:           len(code),
		CodeKeccak:         crypto.Keccak256Hash(code).Hex(),
		Head:               hexutil.Encode(head),
		Empty:              len(code) == 0,
		EIP1967ImplSlotRef: bytes.Contains(code, eip1967ImplSlotBytes),
		EIP1967AdminRef:    bytes.Contains(code, eip1967AdminSlotBytes),
	}
	if impl, ok := DetectMinimalProxy(code); ok {
		report.EIP1167MinProxy = true
		s := strings.ToLower(impl.Hex())
		report.EIP1167Impl = &s
	}
	return report
}

func (a *DeploymentScanAction) OnTx(t *track.TxRecord) error {
	if t.ContractAddress == nil {
		return nil
	}
	contract := *t.ContractAddress
	go func() {
		code, err := a.reader.CodeAt(context.Background(), contract)
		if err != nil {
			logger.Warn("code fetch failed", "contract", contract, "err", err)
			return
		}
		report := ScanCode(contract, code)
		impl := "-"
		if report.EIP1167Impl != nil {
			impl = *report.EIP1167Impl
		}
		fmt.Printf("[deploy-scan] contract=%s code_size=%d code_keccak=%s head=%s empty=%t min_proxy=%t impl=%s eip1967_impl_ref=%t eip1967_admin_ref=%t\n",
			report.Contract, report.CodeSize, report.CodeKeccak, report.Head, report.Empty,
			report.EIP1167MinProxy, impl, report.EIP1967ImplSlotRef, report.EIP1967AdminRef)
		if a.opts.OutputFilepath != "" {
			if b, err := json.Marshal(report); err == nil {
				if err := appendLine(a.opts.OutputFilepath, string(b)); err != nil {
					logger.Warn("deployment report write failed", "path", a.opts.OutputFilepath, "err", err)
				}
			}
		}
	}()
	return nil
}

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintln(f, line)
	return err
}

func deploymentFactory() track.Factory {
	return track.Factory{
		Description: "Inspect the runtime bytecode of freshly deployed contracts",
		ConfigExample: `{"enabled": true, "addresses": {}, "options": {
  "output-filepath": "deployments.jsonl"}}`,
		New: func(ctx *track.FactoryContext) (track.Action, error) {
			path, _ := ctx.Config.OptString("output-filepath")
			return NewDeploymentScanAction(ctx.Client, DeploymentOptions{OutputFilepath: path}), nil
		},
	}
}
