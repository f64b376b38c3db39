package zinguo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/joshp123/zinguo/internal/logging"
)

const testMAC = "AA:BB:CC:DD:EE:FF"

// fakeCloud mimics the vendor REST API: tokens are "tok-N" for the Nth
// login and only the latest one is accepted.
type fakeCloud struct {
	server *httptest.Server

	mu             sync.Mutex
	loginStatus    int
	validToken     string
	rejectDevices  bool
	rejectControl  bool
	devicesStatus  []int
	controlStatus  []int
	devices        []map[string]any
	devicesGate    chan struct{}
	devicesEntered chan struct{}

	logins        int
	deviceCalls   int
	controlCalls  int
	controlTokens []string
	controlBodies []map[string]any
}

func newFakeCloud(t *testing.T) *fakeCloud {
	t.Helper()
	f := &fakeCloud{devices: []map[string]any{deviceRecord(testMAC)}}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /customer/login", f.handleLogin)
	mux.HandleFunc("GET /customer/devices", f.handleDevices)
	mux.HandleFunc("PUT /wifiyuba/yuBaControl", f.handleControl)
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func deviceRecord(mac string) map[string]any {
	return map[string]any{
		"_id":               "dev-1",
		"mac":               mac,
		"name":              "Bathroom",
		"online":            true,
		"temperature":       23.5,
		"lightSwitch":       1,
		"warmingSwitch1":    2,
		"warmingSwitch2":    1,
		"windSwitch":        "2",
		"ventilationSwitch": 0,
		"comovement":        1,
		"hardwareVersion":   "1.0",
		"softwareVersion":   "2.1",
	}
}

func (f *fakeCloud) config() Config {
	return Config{
		Account:        "user@example.com",
		Password:       "secret",
		MAC:            testMAC,
		LoginURL:       f.server.URL + "/customer/login",
		DevicesURL:     f.server.URL + "/customer/devices",
		ControlURL:     f.server.URL + "/wifiyuba/yuBaControl",
		PollInterval:   time.Hour,
		RequestTimeout: 2 * time.Second,
	}
}

func (f *fakeCloud) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds map[string]string
	_ = json.NewDecoder(r.Body).Decode(&creds)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins++
	if f.loginStatus != 0 {
		w.WriteHeader(f.loginStatus)
		return
	}
	if creds["account"] != "user@example.com" || creds["password"] != "secret" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	f.validToken = fmt.Sprintf("tok-%d", f.logins)
	_ = json.NewEncoder(w).Encode(map[string]string{"token": f.validToken})
}

func (f *fakeCloud) handleDevices(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.deviceCalls++
	gate, entered := f.devicesGate, f.devicesEntered
	f.mu.Unlock()

	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.devicesStatus) > 0 {
		status := f.devicesStatus[0]
		f.devicesStatus = f.devicesStatus[1:]
		w.WriteHeader(status)
		return
	}
	if f.rejectDevices || r.Header.Get("x-access-token") != f.validToken {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	_ = json.NewEncoder(w).Encode(f.devices)
}

func (f *fakeCloud) handleControl(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.controlCalls++
	f.controlBodies = append(f.controlBodies, body)
	f.controlTokens = append(f.controlTokens, r.Header.Get("x-access-token"))
	if len(f.controlStatus) > 0 {
		status := f.controlStatus[0]
		f.controlStatus = f.controlStatus[1:]
		w.WriteHeader(status)
		_, _ = w.Write([]byte("vendor says no"))
		return
	}
	if f.rejectControl || r.Header.Get("x-access-token") != f.validToken {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	_, _ = w.Write([]byte(`{"ok":true}`))
}

// expireToken makes the cloud reject the current token until the next login.
func (f *fakeCloud) expireToken() {
	f.mu.Lock()
	f.validToken = "expired"
	f.mu.Unlock()
}

// gateDevices blocks device requests until the returned func is called.
func (f *fakeCloud) gateDevices() (entered <-chan struct{}, release func()) {
	gate := make(chan struct{})
	in := make(chan struct{}, 1)
	f.mu.Lock()
	f.devicesGate = gate
	f.devicesEntered = in
	f.mu.Unlock()

	var once sync.Once
	return in, func() { once.Do(func() { close(gate) }) }
}

func (f *fakeCloud) counts() (logins, devices, control int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logins, f.deviceCalls, f.controlCalls
}

func (f *fakeCloud) lastControlBody() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.controlBodies) == 0 {
		return nil
	}
	return f.controlBodies[len(f.controlBodies)-1]
}

func newTestCoordinator(t *testing.T, cfg Config, opts ...Option) *Coordinator {
	t.Helper()
	c, err := New(cfg, append([]Option{WithLogger(logging.Discard())}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = c.Close(ctx)
	})
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
