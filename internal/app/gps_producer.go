package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/relabs-tech/gps_streamer/internal/config"
	"github.com/relabs-tech/gps_streamer/internal/gps"
	"github.com/relabs-tech/gps_streamer/internal/gpsd"
)

const publishTimeout = 5 * time.Second

// publisher is the part of mqtt.Client the bridge needs.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// gpsTopics maps each report type to its MQTT topic.
type gpsTopics map[gps.ReportType]string

func topicsFrom(cfg *config.Config) gpsTopics {
	return gpsTopics{
		gps.TypePosition: cfg.TopicGPSPosition,
		gps.TypeVelocity: cfg.TopicGPSVelocity,
		gps.TypeQuality:  cfg.TopicGPSQuality,
	}
}

// RunGPSProducer streams reports from gpsd and publishes each one as retained
// JSON on its MQTT topic until ctx is cancelled.
func RunGPSProducer(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	// ---- 1) Connect to MQTT broker ----
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDGPS).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt connect %s: %w", cfg.MQTTBroker, token.Error())
	}
	defer client.Disconnect(250)
	log.Info("GPS producer connected to MQTT broker", zap.String("broker", cfg.MQTTBroker))

	// ---- 2) Stream from gpsd ----
	gc := newGPSDClient(cfg, log, nil)
	defer gc.Close()

	bridgeToMQTT(gc, client, topicsFrom(cfg), log)

	if err := gc.StartStreaming(ctx); err != nil {
		return err
	}
	log.Info("GPS producer streaming", zap.String("gpsd", gc.Endpoint().Addr()))

	<-ctx.Done()
	log.Info("GPS producer shutting down")
	return nil
}

// bridgeToMQTT subscribes to every report type on gc and publishes each
// report to its topic. Publish failures are logged and the report dropped.
func bridgeToMQTT(gc *gpsd.Client, pub publisher, topics gpsTopics, log *zap.Logger) []*gpsd.Subscription {
	subs := make([]*gpsd.Subscription, 0, len(gps.ReportTypes))
	for _, t := range gps.ReportTypes {
		topic := topics[t]
		subs = append(subs, gc.Subscribe(t, func(r gps.Report) {
			publishReport(pub, topic, r, log)
		}))
	}
	return subs
}

func publishReport(pub publisher, topic string, r gps.Report, log *zap.Logger) {
	payload, err := json.Marshal(r)
	if err != nil {
		log.Warn("GPS JSON marshal error", zap.Stringer("type", r.Type()), zap.Error(err))
		return
	}

	token := pub.Publish(topic, 0, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		log.Warn("GPS publish timed out", zap.String("topic", topic))
		return
	}
	if err := token.Error(); err != nil {
		log.Warn("GPS publish error", zap.String("topic", topic), zap.Error(err))
		return
	}

	log.Debug("published GPS report", zap.String("topic", topic), zap.ByteString("payload", payload))
}
