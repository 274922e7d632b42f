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

	"github.com/evmtrack/evmtrack/output"
	"github.com/evmtrack/evmtrack/track"
)

// KafkaLogAction publishes the same documents the JSON emitter prints to
// per-kind Kafka topics.
type KafkaLogAction struct {
	track.BaseAction
	broker *output.Broker
}

// NewKafkaLogAction wraps a connected broker.
func NewKafkaLogAction(broker *output.Broker) *KafkaLogAction {
	return &KafkaLogAction{broker: broker}
}

func (a *KafkaLogAction) OnEvent(e *track.EventRecord) error {
	return a.broker.Publish("events", eventToJSON(e))
}

func (a *KafkaLogAction) OnTx(t *track.TxRecord) error {
	return a.broker.Publish("txs", txToJSON(t))
}

func (a *KafkaLogAction) OnBlock(b *track.BlockRecord) error {
	return a.broker.Publish("blocks", jsonBlock{Kind: "block", Number: b.Number})
}

func kafkaLogFactory() track.Factory {
	return track.Factory{
		Description: "Publish records as JSON documents to Kafka topics",
		ConfigExample: `{"enabled": true, "addresses": {}, "options": {
  "brokers": ["localhost:9092"], "topic-prefix": "evmtrack"}}`,
		New: func(ctx *track.FactoryContext) (track.Action, error) {
			brokers := ctx.Config.OptStringSlice("brokers")
			if len(brokers) == 0 {
				return nil, fmt.Errorf("KafkaLog requires a non-empty brokers list")
			}
			prefix, ok := ctx.Config.OptString("topic-prefix")
			if !ok {
				prefix = "evmtrack"
			}
			broker, err := output.NewBroker(brokers, prefix)
			if err != nil {
				return nil, err
			}
			return NewKafkaLogAction(broker), nil
		},
	}
}
