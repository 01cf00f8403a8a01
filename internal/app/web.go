package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/relabs-tech/gps_streamer/internal/config"
	"github.com/relabs-tech/gps_streamer/internal/gps"
	"github.com/relabs-tech/gps_streamer/internal/gpsd"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsQueue        = 32
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// gpsSnapshot is the /api/gps response body.
type gpsSnapshot struct {
	Position *gps.Position `json:"position"`
	Velocity *gps.Velocity `json:"velocity,omitempty"`
	Quality  *gps.Quality  `json:"quality,omitempty"`
	Summary  string        `json:"summary"`
	Updated  time.Time     `json:"updated"`
}

// wsMessage is one frame of the /ws/gps feed.
type wsMessage struct {
	Type string     `json:"type"`
	Data gps.Report `json:"data"`
}

// RunWeb serves the latest fix, a live websocket feed and Prometheus metrics
// until ctx is cancelled.
func RunWeb(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	gc := newGPSDClient(cfg, log, gpsd.NewMetrics(reg))
	defer gc.Close()
	if err := gc.StartStreaming(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.WebServerPort),
		Handler:           newWebHandler(gc, reg, "web", log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("web server listening", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// newWebHandler routes the GPS API. Static files are served from staticDir
// when it is not empty.
func newWebHandler(gc *gpsd.Client, gatherer prometheus.Gatherer, staticDir string, log *zap.Logger) http.Handler {
	mux := http.NewServeMux()

	// JSON API endpoint: latest fix
	mux.HandleFunc("/api/gps", func(w http.ResponseWriter, r *http.Request) {
		pos, ok := gc.LatestPosition()
		if !ok {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}

		snap := gpsSnapshot{
			Position: &pos,
			Updated:  gc.LastUpdate(gps.TypePosition),
		}
		if v, ok := gc.LatestVelocity(); ok {
			snap.Velocity = &v
		}
		if q, ok := gc.LatestQuality(); ok {
			snap.Quality = &q
		}
		snap.Summary = gps.Summary(snap.Position, snap.Velocity, snap.Quality)

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snap); err != nil {
			log.Warn("json encode error", zap.Error(err))
		}
	})

	mux.HandleFunc("/ws/gps", func(w http.ResponseWriter, r *http.Request) {
		serveGPSFeed(w, r, gc, log)
	})

	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	if staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(staticDir)))
	}
	return mux
}

// serveGPSFeed pushes the cached reports, then every new report, to one
// websocket client. A client that falls behind misses reports.
func serveGPSFeed(w http.ResponseWriter, r *http.Request, gc *gpsd.Client, log *zap.Logger) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade error", zap.Error(err))
		return
	}
	defer conn.Close()

	feed := make(chan gps.Report, wsQueue)
	push := func(rep gps.Report) {
		select {
		case feed <- rep:
		default:
		}
	}

	for _, t := range gps.ReportTypes {
		if rep, ok := gc.Latest(t); ok {
			push(rep)
		}
	}
	for _, t := range gps.ReportTypes {
		sub := gc.Subscribe(t, push)
		defer sub.Unsubscribe()
	}

	// The reader only detects the close frame; clients send nothing else.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case rep := <-feed:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(wsMessage{Type: rep.Type().String(), Data: rep}); err != nil {
				log.Debug("websocket write error", zap.Error(err))
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}
