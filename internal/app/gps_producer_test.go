// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/relabs-tech/gps_streamer/internal/config"
	"github.com/relabs-tech/gps_streamer/internal/gps"
)

// doneToken is an mqtt.Token that has already completed.
type doneToken struct{ err error }

func (t doneToken) Wait() bool { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{topic, qos, retained, payload.([]byte)})
	return doneToken{err: p.err}
}

func (p *fakePublisher) byTopic(topic string) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, m := range p.msgs {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func TestBridgeToMQTT_PublishesEveryReportType(t *testing.T) {
	r := startRelay(t)
	gc := startClient(t, r)

	cfg := config.Default()
	pub := &fakePublisher{}
	subs := bridgeToMQTT(gc, pub, topicsFrom(cfg), zaptest.NewLogger(t))
	assert.Len(t, subs, 3)

	r.feedUntil(t, func() bool {
		return len(pub.byTopic(cfg.TopicGPSPosition)) > 0 &&
			len(pub.byTopic(cfg.TopicGPSVelocity)) > 0 &&
			len(pub.byTopic(cfg.TopicGPSQuality)) > 0
	})

	msg := pub.byTopic(cfg.TopicGPSPosition)[0]
	assert.True(t, msg.retained)
	assert.Zero(t, msg.qos)

	var pos gps.Position
	require.NoError(t, json.Unmarshal(msg.payload, &pos))
	assert.InDelta(t, 48.1173, pos.Lat, 1e-6)
	require.NotNil(t, pos.Alt)
	assert.InDelta(t, 545.4, *pos.Alt, 1e-9)

	var q gps.Quality
	require.NoError(t, json.Unmarshal(pub.byTopic(cfg.TopicGPSQuality)[0].payload, &q))
	assert.Equal(t, 8, q.SatellitesVisible)
	assert.Equal(t, 5, q.SatellitesUsed)

	var v map[string]float64
	require.NoError(t, json.Unmarshal(pub.byTopic(cfg.TopicGPSVelocity)[0].payload, &v))
	assert.Contains(t, v, "speed")
	assert.Contains(t, v, "track")
	assert.Contains(t, v, "climb")
}

func TestPublishReport_ErrorIsLoggedNotFatal(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker gone")}
	publishReport(pub, "gps/position", gps.Position{Lat: 1}, zaptest.NewLogger(t))
	assert.Len(t, pub.byTopic("gps/position"), 1)
}
