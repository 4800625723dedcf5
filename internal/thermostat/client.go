package thermostat

import (
	"context"

	"github.com/joshp123/gohome-flair/internal/model"
)

// StructureClient reads and changes the home structure.
type StructureClient interface {
	GetPrimaryStructure(ctx context.Context) (model.Structure, error)
	SetStructureMode(ctx context.Context, s model.Structure, mode model.StructureMode) (model.Structure, error)
}

// DeviceClient reads and commands a single unit and its room.
type DeviceClient interface {
	GetHVAC(ctx context.Context, h model.HVAC) (model.HVAC, error)
	SetHVACPowerMode(ctx context.Context, h model.HVAC, power model.PowerMode) (model.HVAC, error)
	SetHVACMode(ctx context.Context, h model.HVAC, mode model.HVACMode) (model.HVAC, error)
	SetHVACTemperature(ctx context.Context, h model.HVAC, valueC float64) (model.HVAC, error)
	GetRoom(ctx context.Context, r model.Room) (model.Room, error)
}

// RemoteClient is everything the platform needs from the remote API.
type RemoteClient interface {
	StructureClient
	DeviceClient
	GetHVACs(ctx context.Context, s model.Structure) ([]model.HVAC, error)
}
