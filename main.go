package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/Uranury/depthsense/api"
	"github.com/Uranury/depthsense/config"
	"github.com/Uranury/depthsense/framesource"
	"github.com/Uranury/depthsense/sensors"
	"github.com/Uranury/depthsense/session"
	"github.com/Uranury/depthsense/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var rec store.Recorder = store.Discard{}
	if cfg.Influx.Enabled() {
		rec = store.NewInflux(cfg.Influx.URL, cfg.Influx.Token, cfg.Influx.Org, cfg.Influx.Bucket)
		log.Printf("Writing captures to InfluxDB at %s (bucket %s)", cfg.Influx.URL, cfg.Influx.Bucket)
	} else {
		log.Println("InfluxDB not configured, captures are not stored")
	}
	defer rec.Close()

	camera := framesource.NewSimulated(cfg.Simulator.SourceConfig())
	defer camera.Shutdown()

	ctrl := session.NewController(camera)
	srv := api.NewServer(session.NewChannel(ctrl), rec, cfg.Sampling)

	probes := buildProbes(cfg.Telemetry)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sensors.Poll(ctx, probes, cfg.Telemetry.Interval, srv.PublishReading)

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Router()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	log.Printf("Server starting on %s", cfg.HTTPAddr)
	log.Printf("Depth camera: %s (available=%v)", camera.Name(), ctrl.CheckAvailability())
	log.Println("Monitoring probes:", len(probes))
	for _, p := range probes {
		log.Printf("  - %s", p.Name())
	}

	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("http: %v", err)
	}

	ctrl.Stop()
	log.Println("Shut down")
}

// buildProbes uses the real DHT22 when a pin is configured and falls back
// to simulated probes otherwise.
func buildProbes(t config.Telemetry) []sensors.Probe {
	probes := []sensors.Probe{sensors.NewBMP280(), sensors.NewGY32()}
	if t.DHTPin == "" {
		return probes
	}
	dht, err := sensors.NewDHT22(t.DHTPin)
	if err != nil {
		log.Printf("DHT22 unavailable, continuing without it: %v", err)
		return probes
	}
	return append([]sensors.Probe{dht}, probes...)
}
