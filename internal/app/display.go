package app

import (
	"context"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/gps_streamer/internal/config"
	"github.com/relabs-tech/gps_streamer/internal/gps"
)

const (
	panelWidth  = 128
	panelHeight = 64
)

// RunDisplay renders the cached fix on an SSD1306 panel every
// DISPLAY_UPDATE_INTERVAL milliseconds until ctx is cancelled.
func RunDisplay(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	// Initialize periph
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}

	// Open I2C bus
	bus, err := i2creg.Open("")
	if err != nil {
		return fmt.Errorf("failed to open I2C bus: %w", err)
	}
	defer bus.Close()

	dev, err := ssd1306.NewI2C(addrBus{Bus: bus, addr: cfg.DisplayI2CAddr}, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	log.Info("display initialized", zap.String("addr", fmt.Sprintf("0x%02X", cfg.DisplayI2CAddr)))

	if err := dev.Draw(dev.Bounds(), renderSplash(), image.Point{}); err != nil {
		log.Warn("display: error showing splash", zap.Error(err))
	}

	gc := newGPSDClient(cfg, log, nil)
	defer gc.Close()
	if err := gc.StartStreaming(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(time.Duration(cfg.DisplayUpdateInterval) * time.Millisecond)
	defer ticker.Stop()

	log.Info("display: starting update loop")

	for {
		select {
		case <-ctx.Done():
			_ = dev.Halt()
			return nil
		case <-ticker.C:
		}

		var pos *gps.Position
		if p, ok := gc.LatestPosition(); ok {
			pos = &p
		}
		var q *gps.Quality
		if v, ok := gc.LatestQuality(); ok {
			q = &v
		}

		if err := dev.Draw(dev.Bounds(), renderGPSPanel(pos, q), image.Point{}); err != nil {
			log.Warn("display: error updating display", zap.Error(err))
		}
	}
}

// addrBus sends every transaction to addr; ssd1306.NewI2C always targets
// the panel's default 0x3C.
type addrBus struct {
	i2c.Bus
	addr uint16
}

func (b addrBus) Tx(_ uint16, w, r []byte) error { return b.Bus.Tx(b.addr, w, r) }

func newPanel() (*image1bit.VerticalLSB, *font.Drawer) {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, panelWidth, panelHeight))
	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	return img, drawer
}

// renderGPSPanel draws position and satellite status; pos nil means no fix.
func renderGPSPanel(pos *gps.Position, q *gps.Quality) *image1bit.VerticalLSB {
	img, drawer := newPanel()

	if pos == nil {
		drawer.Dot = fixed.P(0, 26)
		drawer.DrawString("GPS Position")
		drawer.Dot = fixed.P(0, 39)
		drawer.DrawString("Waiting...")
		if q != nil {
			drawer.Dot = fixed.P(0, 52)
			drawer.DrawString(fmt.Sprintf("Sats %d/%d", q.SatellitesUsed, q.SatellitesVisible))
		}
		return img
	}

	// Latitude
	drawer.Dot = fixed.P(0, 13)
	latDir := "N"
	lat := pos.Lat
	if lat < 0 {
		latDir = "S"
		lat = -lat
	}
	drawer.DrawString(fmt.Sprintf("%.5f%s", lat, latDir))

	// Longitude
	drawer.Dot = fixed.P(0, 26)
	lonDir := "E"
	lon := pos.Lon
	if lon < 0 {
		lonDir = "W"
		lon = -lon
	}
	drawer.DrawString(fmt.Sprintf("%.5f%s", lon, lonDir))

	// Altitude
	drawer.Dot = fixed.P(0, 39)
	if pos.Alt != nil {
		drawer.DrawString(fmt.Sprintf("Alt: %.0fm", *pos.Alt))
	} else {
		drawer.DrawString("Alt: 2D fix")
	}

	// Satellites
	if q != nil {
		drawer.Dot = fixed.P(0, 52)
		line := fmt.Sprintf("Sats %d/%d", q.SatellitesUsed, q.SatellitesVisible)
		if q.HDOP != nil {
			line += fmt.Sprintf(" H%.1f", *q.HDOP)
		}
		drawer.DrawString(line)
	}

	return img
}

func renderSplash() *image1bit.VerticalLSB {
	img, drawer := newPanel()

	drawer.Dot = fixed.P(10, 26)
	drawer.DrawString("GPS Streamer")

	drawer.Dot = fixed.P(5, 43)
	drawer.DrawString("Looking for")

	drawer.Dot = fixed.P(25, 56)
	drawer.DrawString("sats")

	return img
}
