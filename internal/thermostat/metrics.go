package thermostat

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/joshp123/gohome-flair/internal/model"
)

var (
	refreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gohome_flair_refresh_total",
			Help: "Device refreshes by entity and result",
		},
		[]string{"entity", "result"},
	)
	commandTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gohome_flair_command_total",
			Help: "Device commands by command and result",
		},
		[]string{"command", "result"},
	)
	structureFetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gohome_flair_structure_fetch_total",
			Help: "Remote structure fetches by result",
		},
		[]string{"result"},
	)
	structureModeSetTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gohome_flair_structure_mode_set_total",
			Help: "Structure mode changes by requested mode and result",
		},
		[]string{"mode", "result"},
	)
	devicesGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gohome_flair_devices",
			Help: "Number of registered HVAC devices",
		},
	)
)

// MetricsCollectors returns the package-level collectors.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		refreshTotal,
		commandTotal,
		structureFetchTotal,
		structureModeSetTotal,
		devicesGauge,
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// StateCollector exports cached device state as gauges. Collect never calls
// the remote API.
type StateCollector struct {
	source StateSource

	roomTemperature *prometheus.Desc
	roomHumidity    *prometheus.Desc
	setPoint        *prometheus.Desc
	targetState     *prometheus.Desc
	currentState    *prometheus.Desc
	structureManual *prometheus.Desc
}

func NewStateCollector(source StateSource) *StateCollector {
	labels := []string{"device_id", "name"}
	return &StateCollector{
		source:          source,
		roomTemperature: prometheus.NewDesc("gohome_flair_room_temperature_celsius", "Room temperature", labels, nil),
		roomHumidity:    prometheus.NewDesc("gohome_flair_room_humidity_percent", "Room relative humidity", labels, nil),
		setPoint:        prometheus.NewDesc("gohome_flair_setpoint_celsius", "HVAC set point", labels, nil),
		targetState:     prometheus.NewDesc("gohome_flair_target_state", "Target state (1 for the active state)", append(labels, "state"), nil),
		currentState:    prometheus.NewDesc("gohome_flair_current_state", "Inferred current state (1 for the active state)", append(labels, "state"), nil),
		structureManual: prometheus.NewDesc("gohome_flair_structure_manual", "Structure mode as seen by the device (1=manual)", labels, nil),
	}
}

func (c *StateCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.roomTemperature
	ch <- c.roomHumidity
	ch <- c.setPoint
	ch <- c.targetState
	ch <- c.currentState
	ch <- c.structureManual
}

func (c *StateCollector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.source.States() {
		ch <- prometheus.MustNewConstMetric(c.roomTemperature, prometheus.GaugeValue, s.CurrentTemperatureC, s.DeviceID, s.Name)
		ch <- prometheus.MustNewConstMetric(c.roomHumidity, prometheus.GaugeValue, s.CurrentHumidity, s.DeviceID, s.Name)
		ch <- prometheus.MustNewConstMetric(c.setPoint, prometheus.GaugeValue, s.SetPointC, s.DeviceID, s.Name)
		ch <- prometheus.MustNewConstMetric(c.targetState, prometheus.GaugeValue, 1, s.DeviceID, s.Name, string(s.TargetState))
		ch <- prometheus.MustNewConstMetric(c.currentState, prometheus.GaugeValue, 1, s.DeviceID, s.Name, string(s.CurrentState))
		manual := 0.0
		if s.StructureMode == model.StructureModeManual {
			manual = 1
		}
		ch <- prometheus.MustNewConstMetric(c.structureManual, prometheus.GaugeValue, manual, s.DeviceID, s.Name)
	}
}
