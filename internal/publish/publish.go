// Copyright 2016 by Thorsten von Eicken, see LICENSE file

// Package publish ships decoded measurements to external sinks. It follows
// the teacher gateway's mq wrapper for connection handling, but the
// publishing contract is an interface so the scheduler can fan a batch out
// to several sinks and tolerate one failing without aborting the others.
package publish

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher is anything that can accept one named measurement payload.
// Name identifies the inverter (its config name, not its serial), Payload
// is already JSON-marshalable. Implementations must not block indefinitely;
// the MQTT sink below uses a bounded wait.
type Publisher interface {
	Publish(name string, payload interface{}) error
}

// Fanout calls every sink with the same payload and collects each sink's
// error without letting one failing sink stop the others, per the
// per-sink-failure-tolerance requirement on the bridge's publishing layer.
type Fanout struct {
	Sinks  []Publisher
	Logger func(format string, v ...interface{})
}

// Publish sends to every sink, logging (but not returning) individual
// failures, and returns an error only if every sink failed.
func (f Fanout) Publish(name string, payload interface{}) error {
	if len(f.Sinks) == 0 {
		return nil
	}
	failures := 0
	for _, s := range f.Sinks {
		if err := s.Publish(name, payload); err != nil {
			failures++
			if f.Logger != nil {
				f.Logger("publish: sink failed for %s: %s", name, err)
			}
		}
	}
	if failures == len(f.Sinks) {
		return fmt.Errorf("publish: all %d sinks failed for %s", failures, name)
	}
	return nil
}

// MQTTConfig is the connection info for the MQTT sink.
type MQTTConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Prefix   string // topic prefix, e.g. "yc600"
}

// mqttSink publishes each measurement as a retained JSON message under
// Prefix/<name>, mirroring the teacher's mq.Publish but without the
// internal subscription-forwarding machinery, which this bridge has no use
// for: it never needs to route a published message back to itself.
type mqttSink struct {
	conn   mqtt.Client
	prefix string
}

// NewMQTT connects to the broker described by conf and returns a Publisher.
func NewMQTT(conf MQTTConfig, debug func(format string, v ...interface{})) (Publisher, error) {
	if debug != nil {
		debug("publish: connecting to MQTT broker %s:%d", conf.Host, conf.Port)
	}
	mqtt.ERROR = log.New(os.Stderr, "", 0)
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", conf.Host, conf.Port))
	opts.ClientID = "yc600-bridge"
	opts.Username = conf.User
	opts.Password = conf.Password
	opts.AutoReconnect = true

	conn := mqtt.NewClient(opts)
	if token := conn.Connect(); !token.WaitTimeout(10*time.Second) || token.Error() != nil {
		if token.Error() != nil {
			return nil, token.Error()
		}
		return nil, fmt.Errorf("publish: timed out connecting to MQTT broker")
	}
	return &mqttSink{conn: conn, prefix: conf.Prefix}, nil
}

func (m *mqttSink) Publish(name string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("publish: cannot marshal payload for %s: %w", name, err)
	}
	topic := m.prefix + "/" + name
	token := m.conn.Publish(topic, 1, true, body)
	if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		if token.Error() != nil {
			return token.Error()
		}
		return fmt.Errorf("publish: timed out publishing to %s", topic)
	}
	return nil
}
