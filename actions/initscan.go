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
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/sync/semaphore"

	"github.com/evmtrack/evmtrack/client"
	"github.com/evmtrack/evmtrack/config"
	"github.com/evmtrack/evmtrack/track"
)

// initCaller is the slice of the node client the initializer scan uses.
type initCaller interface {
	CallContract(ctx context.Context, msg client.CallMsg, blockNumber *big.Int) ([]byte, error)
	TraceCall(ctx context.Context, msg client.CallMsg, blockNumber *big.Int) (*client.TraceResult, error)
}

// controlSelector is a selector no sane contract implements. The control
// trace must NOT touch the watched addresses; a contract that writes them on
// every call would otherwise false-positive.
var controlSelector = hexutil.MustDecode("0x6fcb831b")

// CalldataVariant is one named initialize-style calldata candidate.
type CalldataVariant struct {
	Name string
	Data []byte
}

// InitscanOptions configures the initializer scan.
type InitscanOptions struct {
	From           *common.Address
	CheckAddresses []common.Address
	InitAfterDelay time.Duration
	// USDThreshold is accepted for config compatibility and not used.
	USDThreshold  float64
	Calldatas     []CalldataVariant
	WebhookURL    string
	KnownFilepath string
	RetryInterval time.Duration
	MaxInflight   int64
	Debug         bool
}

// KnownInit is one persisted finding: a contract that passed the heuristic
// together with the calldata that passed.
type KnownInit struct {
	Contract common.Address
	Calldata []byte
}

type knownInitJSON struct {
	Contract string `json:"contract"`
	Calldata string `json:"calldata"`
}

// InitscanAction looks for freshly deployed contracts whose initialize-style
// entry point an arbitrary caller could still claim. Two-phase heuristic:
// the candidate call must succeed and write one of the watched addresses into
// storage, while a control call with a garbage selector must not.
type InitscanAction struct {
	track.BaseAction
	caller initCaller
	opts   InitscanOptions

	knownMu sync.RWMutex
	known   []KnownInit

	sem  *semaphore.Weighted
	stop chan struct{}
}

// NewInitscanAction builds the action, loads the persisted known list and
// starts the periodic retry clock when configured.
func NewInitscanAction(caller initCaller, opts InitscanOptions) *InitscanAction {
	if opts.From != nil {
		found := false
		for _, a := range opts.CheckAddresses {
			if a == *opts.From {
				found = true
				break
			}
		}
		if !found {
			opts.CheckAddresses = append(opts.CheckAddresses, *opts.From)
		}
	}
	a := &InitscanAction{caller: caller, opts: opts, stop: make(chan struct{})}
	if opts.MaxInflight > 0 {
		a.sem = semaphore.NewWeighted(opts.MaxInflight)
	}
	if opts.KnownFilepath != "" {
		known, err := LoadKnownInits(opts.KnownFilepath)
		if err != nil {
			logger.Warn("loading known init list failed", "path", opts.KnownFilepath, "err", err)
		} else {
			a.known = known
		}
		if opts.RetryInterval > 0 {
			go a.retryLoop(opts.KnownFilepath, opts.RetryInterval)
		}
	}
	return a
}

// Stop terminates the retry clock at its next tick.
func (a *InitscanAction) Stop() {
	select {
	case <-a.stop:
	default:
		close(a.stop)
	}
}

func (a *InitscanAction) dbg(format string, args ...interface{}) {
	if a.opts.Debug {
		fmt.Printf("[initscan][debug] "+format+"\n", args...)
	}
}

// Known snapshots the current known list.
func (a *InitscanAction) Known() []KnownInit {
	a.knownMu.RLock()
	defer a.knownMu.RUnlock()
	return append([]KnownInit(nil), a.known...)
}

func (a *InitscanAction) OnTx(t *track.TxRecord) error {
	if t.ContractAddress == nil {
		return nil
	}
	contract := *t.ContractAddress
	block := t.BlockNumber
	go a.TryInitForContract(context.Background(), contract, block)
	return nil
}

// TryInitForContract runs every candidate calldata against a deployment,
// holding one concurrency permit for the whole evaluation.
func (a *InitscanAction) TryInitForContract(ctx context.Context, contract common.Address, blockNumber *uint64) {
	if a.sem != nil {
		if err := a.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer a.sem.Release(1)
	}
	a.dbg("deployment detected contract=%s block=%s variants=%d", contract.Hex(), fmtU64(blockNumber), len(a.opts.Calldatas))
	if a.opts.InitAfterDelay > 0 {
		select {
		case <-time.After(a.opts.InitAfterDelay):
		case <-ctx.Done():
			return
		}
	}
	var block *big.Int
	if blockNumber != nil {
		block = new(big.Int).SetUint64(*blockNumber)
	}
	for _, variant := range a.opts.Calldatas {
		if err := a.tryInitWithCalldata(ctx, contract, block, variant.Data); err != nil {
			logger.Warn("init probe failed", "contract", contract, "variant", variant.Name, "err", err)
		}
	}
}

func (a *InitscanAction) stateDiffContainsWatched(tr *client.TraceResult) bool {
	if len(a.opts.CheckAddresses) == 0 || tr.StateDiff == nil {
		return false
	}
	diff := strings.ToLower(string(tr.StateDiff))
	for _, addr := range a.opts.CheckAddresses {
		if strings.Contains(diff, hex.EncodeToString(addr[:])) {
			return true
		}
	}
	return false
}

// evaluateOnce runs the heuristic without side effects: eth_call gate, trace
// success, stateDiff containment, and the negative control.
func (a *InitscanAction) evaluateOnce(ctx context.Context, contract common.Address, block *big.Int, calldata []byte) (bool, error) {
	msg := client.CallMsg{From: a.opts.From, To: contract, Data: calldata}
	if _, err := a.caller.CallContract(ctx, msg, block); err != nil {
		a.dbg("eth_call rejected: %v", err)
		return false, nil
	}
	tr, err := a.caller.TraceCall(ctx, msg, block)
	if err != nil {
		return false, err
	}
	if !tr.Succeeded() {
		a.dbg("trace_call had an error frame")
		return false, nil
	}
	if !a.stateDiffContainsWatched(tr) {
		a.dbg("stateDiff does not touch a watched address")
		return false, nil
	}
	control, err := a.caller.TraceCall(ctx, client.CallMsg{From: a.opts.From, To: contract, Data: controlSelector}, block)
	if err != nil {
		return false, err
	}
	if control.Succeeded() && a.stateDiffContainsWatched(control) {
		a.dbg("control selector also touches a watched address; discarding")
		return false, nil
	}
	return true, nil
}

func (a *InitscanAction) tryInitWithCalldata(ctx context.Context, contract common.Address, block *big.Int, calldata []byte) error {
	a.dbg("probing contract=%s calldata_len=%d", contract.Hex(), len(calldata))
	ok, err := a.evaluateOnce(ctx, contract, block, calldata)
	if err != nil || !ok {
		return err
	}
	msg := fmt.Sprintf("# Interesting contract\nAddress: %s\ncalldataLen: %d\n",
		strings.ToLower(contract.Hex()), len(calldata))
	if a.opts.WebhookURL != "" {
		if err := postWebhook(a.opts.WebhookURL, msg); err != nil {
			logger.Warn("initscan webhook failed", "err", err)
		}
	} else {
		fmt.Printf("[initscan] %s\n", strings.ReplaceAll(msg, "\n", " "))
	}
	a.addKnownAndSave(contract, calldata)
	return nil
}

// addKnownAndSave appends a finding (deduplicated by contract) and persists
// the list. The snapshot is taken under the lock, the disk write happens
// outside it.
func (a *InitscanAction) addKnownAndSave(contract common.Address, calldata []byte) {
	if a.opts.KnownFilepath == "" {
		return
	}
	a.knownMu.Lock()
	for _, k := range a.known {
		if k.Contract == contract {
			a.knownMu.Unlock()
			return
		}
	}
	a.known = append(a.known, KnownInit{Contract: contract, Calldata: append([]byte(nil), calldata...)})
	snapshot := append([]KnownInit(nil), a.known...)
	a.knownMu.Unlock()

	fmt.Printf("[initscan] added %s to known list\n", strings.ToLower(contract.Hex()))
	if err := SaveKnownInits(a.opts.KnownFilepath, snapshot); err != nil {
		logger.Warn("persisting known init list failed", "path", a.opts.KnownFilepath, "err", err)
	}
}

func (a *InitscanAction) retryLoop(path string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := a.RetryKnownAndSave(context.Background(), path); err != nil {
				logger.Warn("periodic init retry failed", "err", err)
			}
		case <-a.stop:
			return
		}
	}
}

// RetryKnownAndSave re-evaluates every known entry. Entries that still pass
// are kept, entries that fail are dropped, and errors keep the entry
// (pessimistic retention). The pruned list replaces the in-memory state and
// the file.
func (a *InitscanAction) RetryKnownAndSave(ctx context.Context, path string) error {
	snapshot := a.Known()
	if len(snapshot) == 0 {
		return nil
	}
	a.dbg("retrying %d known entries", len(snapshot))
	kept := make([]KnownInit, 0, len(snapshot))
	for _, item := range snapshot {
		ok, err := a.evaluateOnce(ctx, item.Contract, nil, item.Calldata)
		if err != nil {
			logger.Warn("init retry errored; keeping entry", "contract", item.Contract, "err", err)
			kept = append(kept, item)
			continue
		}
		if ok {
			kept = append(kept, item)
		}
	}
	a.knownMu.Lock()
	a.known = kept
	a.knownMu.Unlock()
	return SaveKnownInits(path, kept)
}

// LoadKnownInits reads a persisted known list. Calldata is accepted as
// 0x-hex or base64; a missing file is an empty list.
func LoadKnownInits(path string) ([]KnownInit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	var raw []knownInitJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := make([]KnownInit, 0, len(raw))
	for _, item := range raw {
		if !common.IsHexAddress(item.Contract) {
			return nil, fmt.Errorf("invalid contract address %q", item.Contract)
		}
		var calldata []byte
		if b, err := hexutil.Decode(item.Calldata); err == nil {
			calldata = b
		} else if b, err := hex.DecodeString(item.Calldata); err == nil {
			calldata = b
		} else if b, err := base64.StdEncoding.DecodeString(item.Calldata); err == nil {
			calldata = b
		}
		out = append(out, KnownInit{Contract: common.HexToAddress(item.Contract), Calldata: calldata})
	}
	return out, nil
}

// SaveKnownInits writes the list as pretty JSON via a temp file and rename,
// so the file on disk is always a complete document.
func SaveKnownInits(path string, list []KnownInit) error {
	raw := make([]knownInitJSON, 0, len(list))
	for _, k := range list {
		raw = append(raw, knownInitJSON{
			Contract: strings.ToLower(k.Contract.Hex()),
			Calldata: hexutil.Encode(k.Calldata),
		})
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ParseInitscanOptions reads the action's documented option keys.
func ParseInitscanOptions(ac *config.ActionConfig, webhookFallback string) InitscanOptions {
	opts := InitscanOptions{}
	if s, ok := ac.OptString("from-address"); ok && common.IsHexAddress(s) {
		addr := common.HexToAddress(s)
		opts.From = &addr
	}
	for _, s := range ac.OptStringSlice("check-addresses") {
		if common.IsHexAddress(s) {
			opts.CheckAddresses = append(opts.CheckAddresses, common.HexToAddress(s))
		}
	}
	for name, raw := range ac.OptStringMap("function-signature-calldata") {
		h := strings.TrimPrefix(raw, "0x")
		if b, err := hex.DecodeString(h); err == nil {
			opts.Calldatas = append(opts.Calldatas, CalldataVariant{Name: name, Data: b})
		}
	}
	sort.Slice(opts.Calldatas, func(i, j int) bool { return opts.Calldatas[i].Name < opts.Calldatas[j].Name })
	delay := uint64(1)
	if d, ok := ac.OptUint64("init-after-delay"); ok {
		delay = d
	}
	opts.InitAfterDelay = time.Duration(delay) * time.Second
	if url, ok := ac.OptString("webhook-url"); ok {
		opts.WebhookURL = url
	} else {
		opts.WebhookURL = webhookFallback
	}
	opts.KnownFilepath, _ = ac.OptString("initializable-contracts-filepath")
	if freq, ok := ac.OptUint64("init-known-contracts-frequency"); ok && freq > 0 {
		opts.RetryInterval = time.Duration(freq) * time.Second
	}
	if n, ok := ac.OptUint64("init-concurrency"); ok {
		opts.MaxInflight = int64(n)
	}
	opts.Debug = ac.OptBool("debug", false)
	return opts
}

func initscanFactory() track.Factory {
	return track.Factory{
		Description: "Probe fresh deployments for claimable initialize-style entry points",
		ConfigExample: `{"enabled": true, "addresses": {}, "options": {
  "from-address": "0x...", "check-addresses": ["0x..."],
  "function-signature-calldata": {"initialize()": "0x8129fc1c"},
  "init-after-delay": 1, "init-concurrency": 10,
  "initializable-contracts-filepath": "data/initializable.json",
  "init-known-contracts-frequency": 600}}`,
		New: func(ctx *track.FactoryContext) (track.Action, error) {
			opts := ParseInitscanOptions(ctx.Config, ctx.Flags.WebhookURL)
			return NewInitscanAction(ctx.Client, opts), nil
		},
	}
}
