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

package track

import (
	"github.com/ethereum/go-ethereum/log"
)

var logger = log.New("module", "track")

// Action is the analyzer contract. Handlers are synchronous and must not
// block the dispatcher; an action that needs slow I/O spawns its own
// goroutine and bounds it itself. Returned errors are logged and swallowed.
//
// Embed BaseAction to implement only the handlers an analyzer needs.
type Action interface {
	OnEvent(e *EventRecord) error
	OnTx(t *TxRecord) error
	OnBlock(b *BlockRecord) error
	OnContractCreation(c *ContractCreationRecord) error
}

// BaseAction provides no-op defaults for all four handlers.
type BaseAction struct{}

func (BaseAction) OnEvent(*EventRecord) error                       { return nil }
func (BaseAction) OnTx(*TxRecord) error                             { return nil }
func (BaseAction) OnBlock(*BlockRecord) error                       { return nil }
func (BaseAction) OnContractCreation(*ContractCreationRecord) error { return nil }

type namedAction struct {
	name   string
	action Action
}

// ActionSet is the ordered, immutable-after-build collection of active
// actions. Fan-out visits actions in registry resolution order; one failing
// action never stops the others.
type ActionSet struct {
	actions []namedAction
}

// NewActionSet returns an empty set.
func NewActionSet() *ActionSet { return &ActionSet{} }

// Add appends an action. Only the registry builder should call this.
func (s *ActionSet) Add(name string, a Action) {
	s.actions = append(s.actions, namedAction{name: name, action: a})
}

// Len reports the number of active actions.
func (s *ActionSet) Len() int { return len(s.actions) }

// Names lists the actions in dispatch order.
func (s *ActionSet) Names() []string {
	names := make([]string, len(s.actions))
	for i, a := range s.actions {
		names[i] = a.name
	}
	return names
}

// OnEvent fans an event record out to every action.
func (s *ActionSet) OnEvent(e *EventRecord) {
	for _, a := range s.actions {
		if err := a.action.OnEvent(e); err != nil {
			logger.Warn("action failed on event", "action", a.name, "err", err)
		}
	}
}

// OnTx fans a transaction record out to every action.
func (s *ActionSet) OnTx(t *TxRecord) {
	for _, a := range s.actions {
		if err := a.action.OnTx(t); err != nil {
			logger.Warn("action failed on tx", "action", a.name, "err", err)
		}
	}
}

// OnBlock fans a block record out to every action.
func (s *ActionSet) OnBlock(b *BlockRecord) {
	for _, a := range s.actions {
		if err := a.action.OnBlock(b); err != nil {
			logger.Warn("action failed on block", "action", a.name, "err", err)
		}
	}
}

// OnContractCreation fans a deployment record out to every action.
func (s *ActionSet) OnContractCreation(c *ContractCreationRecord) {
	for _, a := range s.actions {
		if err := a.action.OnContractCreation(c); err != nil {
			logger.Warn("action failed on contract creation", "action", a.name, "err", err)
		}
	}
}
