// Package history records thermostat state updates in InfluxDB.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/joshp123/gohome-flair/internal/config"
	"github.com/joshp123/gohome-flair/internal/logging"
	"github.com/joshp123/gohome-flair/internal/thermostat"
)

const (
	measurement    = "thermostat"
	connectTimeout = 10 * time.Second
	batchSize      = 50
	flushInterval  = 10 * time.Second
)

var ErrDisabled = errors.New("influx history disabled")

// Sink writes one point per state update through the batching write API.
type Sink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	log      *logging.Logger
}

func Connect(cfg config.InfluxConfig, log *logging.Logger) (*Sink, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if log == nil {
		log = logging.Nop()
	}

	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(batchSize).
			SetFlushInterval(uint(flushInterval.Milliseconds())),
	)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ping influx: %w", err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("influx at %s is not healthy", cfg.URL)
	}

	s := &Sink{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		log:      log.Named("history"),
	}
	go s.logWriteErrors(s.writeAPI.Errors())
	return s, nil
}

func (s *Sink) Publish(ctx context.Context, u thermostat.StateUpdate) {
	s.writeAPI.WritePoint(pointFor(u))
}

// Flush sends buffered points now.
func (s *Sink) Flush() {
	s.writeAPI.Flush()
}

func (s *Sink) Close() {
	s.writeAPI.Flush()
	s.client.Close()
}

func (s *Sink) logWriteErrors(errs <-chan error) {
	for err := range errs {
		s.log.Warnw("influx write failed", "err", err)
	}
}

func pointFor(u thermostat.StateUpdate) *write.Point {
	ts := u.UpdatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	tags := map[string]string{
		"device_id": u.DeviceID,
		"name":      u.Name,
	}
	if u.StructureMode != "" {
		tags["structure_mode"] = string(u.StructureMode)
	}
	return influxdb2.NewPoint(
		measurement,
		tags,
		map[string]any{
			"current_temperature_c": u.CurrentTemperatureC,
			"current_humidity":      u.CurrentHumidity,
			"set_point_c":           u.SetPointC,
			"target_state":          string(u.TargetState),
			"current_state":         string(u.CurrentState),
		},
		ts,
	)
}
