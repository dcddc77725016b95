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

// Package kafka carries Learning Registry documents over Kafka topics. Each
// message value is a JSON data service document or a single JSON envelope.
package kafka

import (
	"io"
	"io/ioutil"
	"log"
	"time"

	"github.com/Shopify/sarama"
	cluster "github.com/bsm/sarama-cluster"
	"github.com/learningregistry/lrgraph"
	"github.com/pkg/errors"
)

// consumer is the part of a cluster.Consumer the Source uses.
type consumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	MarkOffset(msg *sarama.ConsumerMessage, metadata string)
	Close() error
}

// Source implements the lrgraph.Source interface using kafka as a data
// source. A message is marked as processed once the batch made from it has
// been handled, i.e. on the next call to Record or on Close.
type Source struct {
	Hosts   []string
	Topics  []string
	Group   string
	MaxMsgs int
	// IdleTimeout ends the feed when no message arrives for this long. Zero
	// waits forever.
	IdleTimeout time.Duration

	Log   lrgraph.Logger
	Stats lrgraph.Statter

	numMsgs  int
	pending  *sarama.ConsumerMessage
	consumer consumer
}

var _ lrgraph.Source = &Source{}

// NewSource gets a new Source
func NewSource() *Source {
	return &Source{
		Hosts:  []string{"localhost:9092"},
		Topics: []string{"lrgraph"},
		Group:  "lrgraph",
		Log:    lrgraph.NopLogger{},
		Stats:  lrgraph.NopStatter{},
	}
}

// Record returns the batch held by the next kafka message. Messages which
// can't be decoded are logged and skipped.
func (s *Source) Record() (lrgraph.Batch, error) {
	s.markPending()
	var idle <-chan time.Time
	if s.IdleTimeout > 0 {
		t := time.NewTimer(s.IdleTimeout)
		defer t.Stop()
		idle = t.C
	}
	for {
		if s.MaxMsgs > 0 && s.numMsgs >= s.MaxMsgs {
			return lrgraph.Batch{}, io.EOF
		}
		var msg *sarama.ConsumerMessage
		var ok bool
		select {
		case msg, ok = <-s.consumer.Messages():
		case <-idle:
			s.Log.Printf("no message for %v, ending kafka feed", s.IdleTimeout)
			return lrgraph.Batch{}, io.EOF
		}
		if !ok {
			return lrgraph.Batch{}, errors.New("messages channel closed")
		}
		s.numMsgs++
		s.Stats.Count("kafka.message", 1, 1.0)
		batch, err := lrgraph.DecodeBatch(msg.Value)
		if err != nil {
			s.Stats.Count("kafka.bad_message", 1, 1.0)
			s.Log.Printf("skipping message %s/%d/%d: %v", msg.Topic, msg.Partition, msg.Offset, err)
			s.consumer.MarkOffset(msg, "")
			continue
		}
		s.pending = msg
		return batch, nil
	}
}

func (s *Source) markPending() {
	if s.pending != nil {
		s.consumer.MarkOffset(s.pending, "") // mark message as processed
		s.pending = nil
	}
}

// Open initializes the kafka source.
func (s *Source) Open() error {
	// init (custom) config, enable errors and notifications
	sarama.Logger = log.New(ioutil.Discard, "", 0)
	config := cluster.NewConfig()
	config.Config.Version = sarama.V0_10_0_0
	config.Consumer.Return.Errors = true
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Group.Return.Notifications = true

	c, err := cluster.NewConsumer(s.Hosts, s.Group, s.Topics, config)
	if err != nil {
		return errors.Wrap(err, "getting new consumer")
	}
	s.consumer = c

	// consume errors
	go func() {
		for err := range c.Errors() {
			s.Log.Printf("kafka consumer error: %v", err)
		}
	}()

	// consume notifications
	go func() {
		for ntf := range c.Notifications() {
			s.Log.Debugf("kafka rebalanced: %+v", ntf)
		}
	}()
	return nil
}

// Close marks the last delivered message and closes the underlying kafka
// consumer.
func (s *Source) Close() error {
	if s.consumer == nil {
		return nil
	}
	s.markPending()
	err := s.consumer.Close()
	return errors.Wrap(err, "closing kafka consumer")
}
