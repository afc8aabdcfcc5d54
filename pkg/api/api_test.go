package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/fako1024/smartchef/pkg/scale"
	"github.com/gofiber/fiber/v2"
)

type fakeController struct {
	mu          sync.Mutex
	status      scale.ConnectionStatus
	reading     *scale.DataPoint
	connects    chan struct{}
	disconnects int
	disconnErr  error
}

func (f *fakeController) Status() scale.ConnectionStatus { return f.status }

func (f *fakeController) LastReading() (scale.DataPoint, bool) {
	if f.reading == nil {
		return scale.DataPoint{}, false
	}
	return *f.reading, true
}

func (f *fakeController) ConnectedFor() time.Duration { return 1500 * time.Millisecond }

func (f *fakeController) RequestConnect(_ context.Context) error {
	f.connects <- struct{}{}
	return nil
}

func (f *fakeController) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return f.disconnErr
}

func TestStatus(t *testing.T) {
	ctrl := &fakeController{status: scale.ConnectionStatus{
		State: scale.StateDisconnected,
		Error: errors.New("connection refused"),
	}}
	api := New(ctrl, nil)

	resp, err := api.router.Test(httptest.NewRequest(fiber.MethodGet, "/status", nil))
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("unexpected status code %d", resp.StatusCode)
	}

	var st Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("failed to decode response: %s", err)
	}
	if st.State != "Disconnected" || st.Error != "connection refused" || st.ConnectedFor != 1.5 {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestReading(t *testing.T) {
	ctrl := &fakeController{}
	api := New(ctrl, nil)

	resp, err := api.router.Test(httptest.NewRequest(fiber.MethodGet, "/reading", nil))
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("unexpected status code %d", resp.StatusCode)
	}

	ctrl.reading = &scale.DataPoint{Value: "0.4227", Unit: scale.UnitFluidOunces, Locked: true}
	resp, err = api.router.Test(httptest.NewRequest(fiber.MethodGet, "/reading", nil))
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	var r Reading
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		t.Fatalf("failed to decode response: %s", err)
	}
	if r.Value != "0.4227" || r.Unit != "fl oz" || !r.Locked {
		t.Fatalf("unexpected reading %+v", r)
	}
}

func TestConnect(t *testing.T) {
	ctrl := &fakeController{connects: make(chan struct{}, 1)}
	api := New(ctrl, nil)

	resp, err := api.router.Test(httptest.NewRequest(fiber.MethodPost, "/connect", nil))
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("unexpected status code %d", resp.StatusCode)
	}

	select {
	case <-ctrl.connects:
	case <-time.After(time.Second):
		t.Fatalf("connect was not requested")
	}

	ctrl.status = scale.ConnectionStatus{State: scale.StateConnected}
	resp, err = api.router.Test(httptest.NewRequest(fiber.MethodPost, "/connect", nil))
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if resp.StatusCode != fiber.StatusConflict {
		t.Fatalf("unexpected status code %d", resp.StatusCode)
	}
}

func TestDisconnect(t *testing.T) {
	ctrl := &fakeController{}
	api := New(ctrl, nil)

	resp, err := api.router.Test(httptest.NewRequest(fiber.MethodPost, "/disconnect", nil))
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if resp.StatusCode != fiber.StatusNoContent || ctrl.disconnects != 1 {
		t.Fatalf("unexpected status code %d / disconnects %d", resp.StatusCode, ctrl.disconnects)
	}

	ctrl.disconnErr = errors.New("stack failure")
	resp, err = api.router.Test(httptest.NewRequest(fiber.MethodPost, "/disconnect", nil))
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("unexpected status code %d", resp.StatusCode)
	}
}
