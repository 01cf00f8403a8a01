package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/relabs-tech/gps_streamer/internal/config"
	"github.com/relabs-tech/gps_streamer/internal/gps"
)

// RunConsoleMQTT prints every GPS report published on the configured topics
// to out until ctx is cancelled.
func RunConsoleMQTT(ctx context.Context, cfg *config.Config, out io.Writer, log *zap.Logger) error {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDConsole)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt connect %s: %w", cfg.MQTTBroker, token.Error())
	}
	log.Info("console: connected to MQTT broker", zap.String("broker", cfg.MQTTBroker))

	for t, topic := range topicsFrom(cfg) {
		token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			line, err := formatGPSMessage(t, msg.Payload())
			if err != nil {
				log.Warn("console: unmarshal error", zap.String("topic", msg.Topic()), zap.Error(err))
				return
			}
			fmt.Fprintln(out, line)
		})
		token.Wait()
		if token.Error() != nil {
			return fmt.Errorf("subscribe %s: %w", topic, token.Error())
		}
		log.Info("console: subscribed", zap.String("topic", topic))
	}

	<-ctx.Done()

	log.Info("console: shutting down")
	client.Disconnect(250)
	return nil
}

// formatGPSMessage renders one MQTT payload of report type t as a console line.
func formatGPSMessage(t gps.ReportType, payload []byte) (string, error) {
	switch t {
	case gps.TypePosition:
		var p gps.Position
		if err := json.Unmarshal(payload, &p); err != nil {
			return "", err
		}
		alt := "    n/a"
		if p.Alt != nil {
			alt = fmt.Sprintf("%7.1fm", *p.Alt)
		}
		return fmt.Sprintf("[POS ]  lat=%.8f lon=%.8f alt=%s", p.Lat, p.Lon, alt), nil

	case gps.TypeVelocity:
		var v gps.Velocity
		if err := json.Unmarshal(payload, &v); err != nil {
			return "", err
		}
		return fmt.Sprintf("[VEL ]  speed=%.2fm/s (%.1fkm/h) track=%.1f° climb=%.2fm/s",
			v.SpeedMPS, v.SpeedMPS*3.6, v.TrackDeg, v.ClimbMPS), nil

	case gps.TypeQuality:
		var q gps.Quality
		if err := json.Unmarshal(payload, &q); err != nil {
			return "", err
		}
		line := fmt.Sprintf("[QUAL]  sats=%d/%d", q.SatellitesUsed, q.SatellitesVisible)
		if q.HDOP != nil {
			line += fmt.Sprintf(" hdop=%.2f (%s)", *q.HDOP, gps.RateHDOP(*q.HDOP))
		}
		if q.VDOP != nil {
			line += fmt.Sprintf(" vdop=%.2f", *q.VDOP)
		}
		if q.PDOP != nil {
			line += fmt.Sprintf(" pdop=%.2f", *q.PDOP)
		}
		return line, nil
	}
	return "", fmt.Errorf("unknown report type %d", t)
}
