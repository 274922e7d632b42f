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

package output

import (
	"encoding/json"

	"github.com/Shopify/sarama"
)

// Broker publishes JSON documents to Kafka topics named
// "<prefix>-<suffix>". Each record kind gets its own suffix.
type Broker struct {
	producer    sarama.SyncProducer
	topicPrefix string
}

// NewBroker connects a synchronous producer to the given broker list.
func NewBroker(brokers []string, topicPrefix string) (*Broker, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Version = sarama.MaxVersion
	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}
	return &Broker{producer: producer, topicPrefix: topicPrefix}, nil
}

// Publish marshals v and sends it to the suffixed topic.
func (b *Broker) Publish(suffix string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: b.topicPrefix + "-" + suffix,
		Value: sarama.ByteEncoder(data),
	}
	_, _, err = b.producer.SendMessage(msg)
	return err
}

// Close releases the producer.
func (b *Broker) Close() error {
	return b.producer.Close()
}
