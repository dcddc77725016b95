// Copyright 2017 Pilosa Corp.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions
// are met:
//
// 1. Redistributions of source code must retain the above copyright
// notice, this list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright
// notice, this list of conditions and the following disclaimer in the
// documentation and/or other materials provided with the distribution.
//
// 3. Neither the name of the copyright holder nor the names of its
// contributors may be used to endorse or promote products derived
// from this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND
// CONTRIBUTORS "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES,
// INCLUDING, BUT NOT LIMITED TO, THE IMPLIED WARRANTIES OF
// MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR
// CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL,
// SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING,
// BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
// INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY,
// WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING
// NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH
// DAMAGE.

package kafka

import (
	"encoding/json"
	"io"

	"github.com/Shopify/sarama"
	"github.com/learningregistry/lrgraph"
	"github.com/pkg/errors"
)

// JSONBatch implements the sarama.Encoder interface for Batch using json.
type JSONBatch lrgraph.Batch

// Encode marshals the batch to json.
func (b JSONBatch) Encode() ([]byte, error) {
	return json.Marshal(lrgraph.Batch(b))
}

// Length returns the length of the marshalled json.
func (b JSONBatch) Length() int {
	bytes, _ := b.Encode()
	return len(bytes)
}

// Publisher sends batches to a kafka topic, one document per message, keyed
// by document ID.
type Publisher struct {
	Topic    string
	producer sarama.SyncProducer
}

// NewProducer connects a sync producer to hosts.
func NewProducer(hosts []string) (sarama.SyncProducer, error) {
	conf := sarama.NewConfig()
	conf.Version = sarama.V0_10_0_0
	conf.Producer.Return.Successes = true
	producer, err := sarama.NewSyncProducer(hosts, conf)
	if err != nil {
		return nil, errors.Wrap(err, "getting new producer")
	}
	return producer, nil
}

// NewPublisher gets a Publisher sending to topic through producer.
func NewPublisher(producer sarama.SyncProducer, topic string) *Publisher {
	return &Publisher{Topic: topic, producer: producer}
}

// Publish sends one batch.
func (p *Publisher) Publish(b lrgraph.Batch) error {
	msg := &sarama.ProducerMessage{Topic: p.Topic, Value: JSONBatch(b)}
	if b.ID != "" {
		msg.Key = sarama.StringEncoder(b.ID)
	}
	_, _, err := p.producer.SendMessage(msg)
	return errors.Wrapf(err, "sending document '%s'", b.ID)
}

// PublishAll sends every batch from src until io.EOF and returns how many were
// sent.
func (p *Publisher) PublishAll(src lrgraph.Source) (n int, err error) {
	for {
		b, err := src.Record()
		if err == io.EOF {
			return n, nil
		} else if err != nil {
			return n, errors.Wrap(err, "getting record from source")
		}
		if err := p.Publish(b); err != nil {
			return n, err
		}
		n++
	}
}

// Close closes the producer.
func (p *Publisher) Close() error {
	return errors.Wrap(p.producer.Close(), "closing producer")
}
