package thermostat

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/joshp123/gohome-flair/internal/logging"
	"github.com/joshp123/gohome-flair/internal/model"
)

func TestFailedRoomPollKeepsCacheAndLogs(t *testing.T) {
	h, r := officeUnit()
	client := newFakeClient()
	client.addDevice(h, r)
	core, logs := observer.New(zapcore.DebugLevel)
	pub := &recordingPublisher{}
	rec := NewReconciler(client, pub, logging.FromCore(core), h, r)

	client.setErr(&client.getRoomErr, errRemote)
	got, err := rec.RefreshRoom(context.Background())
	if !errors.Is(err, errRemote) {
		t.Fatalf("err = %v", err)
	}
	if got != r || rec.Room() != r {
		t.Fatalf("cache changed: %+v", rec.Room())
	}
	if rec.Room().CurrentTemperatureC != 22 {
		t.Fatalf("temperature = %v", rec.Room().CurrentTemperatureC)
	}
	if len(pub.all()) != 0 {
		t.Fatalf("published after failed poll")
	}

	entries := logs.FilterMessage("room refresh failed").All()
	if len(entries) != 1 {
		t.Fatalf("log entries = %d", len(entries))
	}
	if entries[0].Level != zapcore.ErrorLevel {
		t.Fatalf("level = %s", entries[0].Level)
	}
	if entries[0].ContextMap()["device_id"] != "h1" {
		t.Fatalf("context = %v", entries[0].ContextMap())
	}
}

func TestFailedHVACPollKeepsCache(t *testing.T) {
	h, r := officeUnit()
	client := newFakeClient()
	client.addDevice(h, r)
	rec := NewReconciler(client, nil, nil, h, r)

	client.setErr(&client.getHVACErr, errRemote)
	if _, err := rec.RefreshHVAC(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if rec.HVAC() != (model.HVAC{ID: "h1", Name: "Office", Power: model.PowerOff, Mode: model.HVACModeAuto, SetPointC: 20, TemperatureScale: model.ScaleCelsius, RoomID: "r1"}) {
		t.Fatalf("cache changed: %+v", rec.HVAC())
	}
}

func TestSuccessfulPollReplacesAndPublishes(t *testing.T) {
	h, r := officeUnit()
	client := newFakeClient()
	client.addDevice(h, r)
	pub := &recordingPublisher{}
	rec := NewReconciler(client, pub, nil, h, r)

	client.mu.Lock()
	client.rooms["r1"] = model.Room{ID: "r1", Name: "Office", CurrentTemperatureC: 23.5, CurrentHumidity: 55}
	client.mu.Unlock()

	if _, err := rec.RefreshRoom(context.Background()); err != nil {
		t.Fatalf("RefreshRoom: %v", err)
	}
	last, ok := pub.last()
	if !ok {
		t.Fatalf("nothing published")
	}
	if last.CurrentTemperatureC != 23.5 || last.CurrentHumidity != 55 {
		t.Fatalf("published %+v", last)
	}
	if last.UpdatedAt.IsZero() {
		t.Fatalf("updated_at not set")
	}
}

func TestJitteredIntervalBounds(t *testing.T) {
	base := 30 * time.Second
	next := JitteredInterval(base)
	seen := make(map[time.Duration]bool)
	for i := 0; i < 2000; i++ {
		d := next()
		if d < base+time.Second || d > base+20*time.Second {
			t.Fatalf("interval %v out of range", d)
		}
		if d%time.Second != 0 {
			t.Fatalf("interval %v not whole seconds", d)
		}
		seen[d] = true
	}
	if len(seen) < 10 {
		t.Fatalf("jitter not re-rolled: %d distinct values", len(seen))
	}
}

func TestPollLoopFetchesImmediatelyAndStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var fetches, intervals atomic.Int32
	next := func() time.Duration {
		intervals.Add(1)
		return time.Millisecond
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		pollLoop(ctx, next, func(context.Context) { fetches.Add(1) })
	}()

	deadline := time.After(2 * time.Second)
	for fetches.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("fetches = %d", fetches.Load())
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("poll loop did not stop")
	}
	if intervals.Load() < fetches.Load()-1 {
		t.Fatalf("interval drawn %d times for %d fetches", intervals.Load(), fetches.Load())
	}
}

func TestPollLoopFirstFetchBeforeTimer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fetched := make(chan struct{}, 1)
	go pollLoop(ctx, func() time.Duration { return time.Hour }, func(context.Context) {
		select {
		case fetched <- struct{}{}:
		default:
		}
	})
	select {
	case <-fetched:
	case <-time.After(2 * time.Second):
		t.Fatalf("no immediate fetch")
	}
}

func TestUpdateStructureIncludedInState(t *testing.T) {
	h, r := officeUnit()
	rec := NewReconciler(newFakeClient(), nil, nil, h, r)
	rec.UpdateStructure(model.Structure{ID: "s1", Mode: model.StructureModeManual})
	if rec.State().StructureMode != model.StructureModeManual {
		t.Fatalf("state = %+v", rec.State())
	}
}

// slowReadClient holds the first GetHVAC after it has read the remote
// state, so a command can complete while that read is in flight.
type slowReadClient struct {
	*fakeClient
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (c *slowReadClient) GetHVAC(ctx context.Context, h model.HVAC) (model.HVAC, error) {
	got, err := c.fakeClient.GetHVAC(ctx, h)
	if c.calls.Add(1) == 1 {
		close(c.entered)
		<-c.release
	}
	return got, err
}

func TestPollReadOvertakenByCommandIsDiscarded(t *testing.T) {
	h, r := officeUnit()
	fake := newFakeClient()
	fake.addDevice(h, r)
	client := &slowReadClient{fakeClient: fake, entered: make(chan struct{}), release: make(chan struct{})}
	pub := &recordingPublisher{}
	rec := NewReconciler(client, pub, nil, h, r)
	dispatcher := NewDispatcher(NewStructureGuard(fake), client, rec, nil)

	pollDone := make(chan model.HVAC)
	go func() {
		got, _ := rec.RefreshHVAC(context.Background())
		pollDone <- got
	}()
	<-client.entered

	got, err := dispatcher.SetTargetMode(context.Background(), model.TargetCool)
	if err != nil || got != model.TargetCool {
		t.Fatalf("SetTargetMode = %q, %v", got, err)
	}

	close(client.release)
	polled := <-pollDone
	if polled.Power != model.PowerOn || polled.Mode != model.HVACModeCool {
		t.Fatalf("poll returned stale unit %+v", polled)
	}
	if cached := rec.HVAC(); cached.Power != model.PowerOn || cached.Mode != model.HVACModeCool {
		t.Fatalf("stale read overwrote confirmed unit: %+v", cached)
	}
	last, ok := pub.last()
	if !ok || last.TargetState != model.TargetCool {
		t.Fatalf("last published = %+v", last)
	}
}
