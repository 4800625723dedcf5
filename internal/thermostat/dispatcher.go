package thermostat

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/joshp123/gohome-flair/internal/logging"
	"github.com/joshp123/gohome-flair/internal/model"
)

// Dispatcher runs the ordered remote calls behind a device command.
// The first failing step aborts the rest; earlier steps are not reverted,
// so a failed mode change can leave the structure in manual mode.
type Dispatcher struct {
	guard  *StructureGuard
	client DeviceClient
	state  *Reconciler
	log    *logging.Logger
}

func NewDispatcher(guard *StructureGuard, client DeviceClient, state *Reconciler, log *logging.Logger) *Dispatcher {
	if log == nil {
		log = logging.Nop()
	}
	return &Dispatcher{guard: guard, client: client, state: state, log: log}
}

// SetTargetMode switches the structure to manual, then powers the unit off
// or on with the matching mode, then re-reads and publishes the unit. The
// returned state is derived from the confirmed unit.
func (d *Dispatcher) SetTargetMode(ctx context.Context, desired model.TargetState) (model.TargetState, error) {
	if !desired.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidTargetState, desired)
	}
	log := d.log.With("device_id", d.state.ID(), "command_id", uuid.NewString(), "desired", desired)

	hvac, err := d.applyTargetMode(ctx, desired)
	commandTotal.WithLabelValues("set_target_mode", result(err)).Inc()
	if err != nil {
		log.Warnw("set target mode failed", "err", err)
		return "", err
	}
	d.state.storeHVAC(hvac)

	confirmed, err := d.state.RefreshHVAC(ctx)
	if err != nil {
		// The writes succeeded; publish what they returned.
		d.state.publish(ctx)
	}
	got := TargetStateOf(confirmed)
	log.Infow("target mode set", "confirmed", got)
	return got, nil
}

func (d *Dispatcher) applyTargetMode(ctx context.Context, desired model.TargetState) (model.HVAC, error) {
	if _, err := d.guard.SetMode(ctx, model.StructureModeManual); err != nil {
		return model.HVAC{}, err
	}

	hvac := d.state.HVAC()
	if desired == model.TargetOff {
		hvac, err := d.client.SetHVACPowerMode(ctx, hvac, model.PowerOff)
		if err != nil {
			return model.HVAC{}, fmt.Errorf("power off: %w", err)
		}
		return hvac, nil
	}

	hvac, err := d.client.SetHVACPowerMode(ctx, hvac, model.PowerOn)
	if err != nil {
		return model.HVAC{}, fmt.Errorf("power on: %w", err)
	}
	mode := hvacModeFor(desired)
	hvac, err = d.client.SetHVACMode(ctx, hvac, mode)
	if err != nil {
		return model.HVAC{}, fmt.Errorf("set mode %s: %w", mode, err)
	}
	return hvac, nil
}

// SetTargetTemperature writes the set point, caches and publishes the
// returned unit, and acknowledges with the set point in the unit's scale.
func (d *Dispatcher) SetTargetTemperature(ctx context.Context, valueC float64) (float64, error) {
	log := d.log.With("device_id", d.state.ID(), "command_id", uuid.NewString(), "celsius", valueC)

	hvac, err := d.client.SetHVACTemperature(ctx, d.state.HVAC(), valueC)
	commandTotal.WithLabelValues("set_target_temperature", result(err)).Inc()
	if err != nil {
		log.Warnw("set target temperature failed", "err", err)
		return 0, fmt.Errorf("set temperature: %w", err)
	}
	d.state.storeHVAC(hvac)
	d.state.publish(ctx)

	ack := model.FromCelsius(valueC, hvac.TemperatureScale)
	log.Infow("target temperature set", "ack", ack, "scale", hvac.TemperatureScale)
	return ack, nil
}
