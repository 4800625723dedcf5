package flair

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/joshp123/gohome-flair/internal/logging"
	"github.com/joshp123/gohome-flair/internal/model"
	"github.com/joshp123/gohome-flair/internal/rate"
	"github.com/joshp123/gohome-flair/internal/thermostat"
)

var _ thermostat.RemoteClient = (*Client)(nil)

type staticTokens struct {
	refreshes atomic.Int32
}

func (s *staticTokens) AccessToken(ctx context.Context) (string, error) { return "test-token", nil }
func (s *staticTokens) TriggerRefresh(ctx context.Context)              { s.refreshes.Add(1) }

func TestClientReads(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Fatalf("missing bearer token")
		}
		switch r.URL.Path {
		case "/api/structures":
			_, _ = io.WriteString(w, `{"data":[{"type":"structures","id":"s1","attributes":{"name":"Home","mode":"auto"}}]}`)
		case "/api/structures/s1/hvac-units":
			_, _ = io.WriteString(w, `{"data":[
				{"type":"hvac-units","id":"h1","attributes":{"name":"Office","power":"On","mode":"Auto","temperature":68,"temperature-scale":"F"},"relationships":{"room":{"data":{"type":"rooms","id":"r1"}}}},
				{"type":"hvac-units","id":"h2","attributes":{"name":"Den","power":"Off","mode":"Heat","temperature":19,"temperature-scale":"C"},"relationships":{"room":{"data":null}}}
			]}`)
		case "/api/rooms/r1":
			_, _ = io.WriteString(w, `{"data":{"type":"rooms","id":"r1","attributes":{"name":"Office","current-temperature-c":22.5,"current-humidity":44}}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL}, &staticTokens{}, nil)
	ctx := context.Background()

	s, err := client.GetPrimaryStructure(ctx)
	if err != nil {
		t.Fatalf("GetPrimaryStructure: %v", err)
	}
	if s != (model.Structure{ID: "s1", Name: "Home", Mode: model.StructureModeAuto}) {
		t.Fatalf("structure = %+v", s)
	}

	hvacs, err := client.GetHVACs(ctx, s)
	if err != nil {
		t.Fatalf("GetHVACs: %v", err)
	}
	if len(hvacs) != 2 {
		t.Fatalf("hvacs = %d", len(hvacs))
	}
	if hvacs[0].RoomID != "r1" || hvacs[1].RoomID != "" {
		t.Fatalf("room links = %q, %q", hvacs[0].RoomID, hvacs[1].RoomID)
	}
	if math.Abs(hvacs[0].SetPointC-20) > 1e-9 {
		t.Fatalf("fahrenheit set point not stored as celsius: %v", hvacs[0].SetPointC)
	}
	if hvacs[1].Power != model.PowerOff || hvacs[1].Mode != model.HVACModeHeat {
		t.Fatalf("hvac 2 = %+v", hvacs[1])
	}

	room, err := client.GetRoom(ctx, model.Room{ID: "r1"})
	if err != nil {
		t.Fatalf("GetRoom: %v", err)
	}
	if room.CurrentTemperatureC != 22.5 || room.CurrentHumidity != 44 || room.Name != "Office" {
		t.Fatalf("room = %+v", room)
	}

	if _, err := client.GetRoom(ctx, model.Room{ID: "missing"}); err == nil {
		t.Fatalf("expected 404 error")
	} else {
		var apiErr APIError
		if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
			t.Fatalf("err = %v", err)
		}
	}
}

func TestClientPatchesJSONAPI(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Fatalf("method = %s", r.Method)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Fatalf("content type = %q", r.Header.Get("Content-Type"))
		}
		got = nil
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		switch r.URL.Path {
		case "/api/structures/s1":
			_, _ = io.WriteString(w, `{"data":{"type":"structures","id":"s1","attributes":{"name":"Home","mode":"manual"}}}`)
		case "/api/hvac-units/h1":
			// Respond without relationships to check the room link is kept.
			_, _ = io.WriteString(w, `{"data":{"type":"hvac-units","id":"h1","attributes":{"name":"Office","power":"On","mode":"Cool","temperature":70.7,"temperature-scale":"F"}}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL + "/"}, &staticTokens{}, nil)
	ctx := context.Background()

	s, err := client.SetStructureMode(ctx, model.Structure{ID: "s1"}, model.StructureModeManual)
	if err != nil {
		t.Fatalf("SetStructureMode: %v", err)
	}
	if s.Mode != model.StructureModeManual {
		t.Fatalf("mode = %s", s.Mode)
	}
	data := got["data"].(map[string]any)
	if data["type"] != "structures" || data["attributes"].(map[string]any)["mode"] != "manual" {
		t.Fatalf("structure body = %v", got)
	}

	unit := model.HVAC{ID: "h1", TemperatureScale: model.ScaleFahrenheit, RoomID: "r1"}
	h, err := client.SetHVACTemperature(ctx, unit, 21.5)
	if err != nil {
		t.Fatalf("SetHVACTemperature: %v", err)
	}
	temp := got["data"].(map[string]any)["attributes"].(map[string]any)["temperature"].(float64)
	if math.Abs(temp-70.7) > 1e-9 {
		t.Fatalf("sent temperature = %v, want 70.7", temp)
	}
	if math.Abs(h.SetPointC-21.5) > 1e-9 || h.RoomID != "r1" {
		t.Fatalf("returned hvac = %+v", h)
	}

	if _, err := client.SetHVACPowerMode(ctx, unit, model.PowerOff); err != nil {
		t.Fatalf("SetHVACPowerMode: %v", err)
	}
	if got["data"].(map[string]any)["attributes"].(map[string]any)["power"] != "Off" {
		t.Fatalf("power body = %v", got)
	}
	if _, err := client.SetHVACMode(ctx, unit, model.HVACModeHeat); err != nil {
		t.Fatalf("SetHVACMode: %v", err)
	}
	if got["data"].(map[string]any)["attributes"].(map[string]any)["mode"] != "Heat" {
		t.Fatalf("mode body = %v", got)
	}
}

func TestClientUnauthorizedTriggersRefresh(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	tokens := &staticTokens{}
	client := NewClient(Config{BaseURL: server.URL}, tokens, nil)
	_, err := client.GetHVAC(context.Background(), model.HVAC{ID: "h1"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v", err)
	}
	if tokens.refreshes.Load() != 1 {
		t.Fatalf("refreshes = %d", tokens.refreshes.Load())
	}
}

func TestClientRejectsUnknownMode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":{"type":"hvac-units","id":"h1","attributes":{"power":"On","mode":"Dry","temperature":20,"temperature-scale":"C"}}}`)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL}, &staticTokens{}, nil)
	_, err := client.GetHVAC(context.Background(), model.HVAC{ID: "h1"})
	var malformed *MalformedResponseError
	if !errors.As(err, &malformed) {
		t.Fatalf("err = %v", err)
	}
}

func TestGetHVACsSkipsUnitsInUnsupportedModes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":[
			{"type":"hvac-units","id":"h1","attributes":{"name":"Office","power":"On","mode":"Cool","temperature":21,"temperature-scale":"C"},"relationships":{"room":{"data":{"type":"rooms","id":"r1"}}}},
			{"type":"hvac-units","id":"h2","attributes":{"name":"Den","power":"On","mode":"Dry","temperature":21,"temperature-scale":"C"},"relationships":{"room":{"data":{"type":"rooms","id":"r2"}}}}
		]}`)
	}))
	defer server.Close()

	core, logs := observer.New(zap.WarnLevel)
	client := NewClient(Config{BaseURL: server.URL, Logger: logging.FromCore(core)}, &staticTokens{}, nil)

	hvacs, err := client.GetHVACs(context.Background(), model.Structure{ID: "s1"})
	if err != nil {
		t.Fatalf("GetHVACs: %v", err)
	}
	if len(hvacs) != 1 || hvacs[0].ID != "h1" {
		t.Fatalf("hvacs = %+v", hvacs)
	}
	skipped := logs.FilterMessage("skipping malformed hvac unit").All()
	if len(skipped) != 1 || skipped[0].ContextMap()["device_id"] != "h2" {
		t.Fatalf("skip log = %+v", skipped)
	}
}

func TestClientHonoursRateGuard(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, `{"data":{"type":"rooms","id":"r1","attributes":{"name":"Office"}}}`)
	}))
	defer server.Close()

	guard := rate.NewGuard(rate.Provider("flair").MaxRequestsPer(rate.Day, 1))
	client := NewClient(Config{BaseURL: server.URL}, &staticTokens{}, guard)

	if _, err := client.GetRoom(context.Background(), model.Room{ID: "r1"}); err != nil {
		t.Fatalf("first GetRoom: %v", err)
	}
	_, err := client.GetRoom(context.Background(), model.Room{ID: "r1"})
	var limitErr rate.LimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("err = %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("hits = %d", hits.Load())
	}
}

func TestTokenURL(t *testing.T) {
	if got := TokenURL(""); got != "https://api.flair.co/oauth/token" {
		t.Fatalf("TokenURL = %q", got)
	}
	if got := TokenURL("http://localhost:8080/"); got != "http://localhost:8080/oauth/token" {
		t.Fatalf("TokenURL = %q", got)
	}
}
