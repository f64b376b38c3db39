package zinguo

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
)

func TestSendBuildsPayloadAndRequestsRefresh(t *testing.T) {
	cloud := newFakeCloud(t)
	c := newTestCoordinator(t, cloud.config())

	if err := c.Send(context.Background(), ControlRequest{Key: SwitchWarming1, On: true}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	body := cloud.lastControlBody()
	want := map[string]any{
		"mac":            testMAC,
		"masterUser":     "user@example.com",
		"setParamter":    false,
		"action":         false,
		"warmingSwitch1": true,
	}
	if len(body) != len(want) {
		t.Fatalf("unexpected payload: %v", body)
	}
	for key, value := range want {
		if body[key] != value {
			t.Fatalf("%s: expected %v, got %v", key, value, body[key])
		}
	}

	waitFor(t, "refresh after command", func() bool {
		_, devices, _ := cloud.counts()
		return devices == 1
	})
}

func TestSendRenewsOnceOnRejectedToken(t *testing.T) {
	cloud := newFakeCloud(t)
	c := newTestCoordinator(t, cloud.config())
	if outcome := c.Refresh(context.Background()); !outcome.OK() {
		t.Fatalf("refresh: %v", outcome.Err)
	}
	cloud.expireToken()

	if err := c.Send(context.Background(), ControlRequest{Key: SwitchWind, On: false}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	logins, _, control := cloud.counts()
	if logins != 2 || control != 2 {
		t.Fatalf("expected 2 logins and 2 writes, got %d/%d", logins, control)
	}
	cloud.mu.Lock()
	tokens := append([]string(nil), cloud.controlTokens...)
	bodies := cloud.controlBodies
	cloud.mu.Unlock()
	if tokens[0] != "tok-1" || tokens[1] != "tok-2" {
		t.Fatalf("expected retry with renewed token, got %v", tokens)
	}
	if bodies[1]["windSwitch"] != false || bodies[1]["mac"] != testMAC {
		t.Fatalf("retry payload not rebuilt: %v", bodies[1])
	}
}

func TestSendServerErrorIsNotRetried(t *testing.T) {
	cloud := newFakeCloud(t)
	cloud.controlStatus = []int{http.StatusInternalServerError}
	c := newTestCoordinator(t, cloud.config())

	err := c.Send(context.Background(), ControlRequest{Key: SwitchLight, On: true})
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) || cmdErr.Status != http.StatusInternalServerError {
		t.Fatalf("expected command error 500, got %v", err)
	}
	if cmdErr.Body != "vendor says no" {
		t.Fatalf("unexpected body: %q", cmdErr.Body)
	}
	if !errors.Is(err, ErrCommandFailed) || Kind(err) != KindCommandFailed {
		t.Fatalf("unexpected classification: %v", Kind(err))
	}
	if _, _, control := cloud.counts(); control != 1 {
		t.Fatalf("expected single write, got %d", control)
	}
	if c.Session().Token() != "tok-1" {
		t.Fatalf("token must survive a failed command")
	}
}

func TestSendSecondRejectionKeepsToken(t *testing.T) {
	cloud := newFakeCloud(t)
	cloud.rejectControl = true
	c := newTestCoordinator(t, cloud.config())

	err := c.Send(context.Background(), ControlRequest{Key: SwitchVentilation, On: true})
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) || cmdErr.Status != http.StatusUnauthorized {
		t.Fatalf("expected command error 401, got %v", err)
	}
	if logins, _, control := cloud.counts(); logins != 2 || control != 2 {
		t.Fatalf("expected 2 logins and 2 writes, got %d/%d", logins, control)
	}
	if !c.Session().Authenticated() {
		t.Fatalf("expected renewed token to be kept")
	}
}

func TestSendRejectedCredentials(t *testing.T) {
	cloud := newFakeCloud(t)
	cloud.loginStatus = http.StatusForbidden
	c := newTestCoordinator(t, cloud.config())

	err := c.Send(context.Background(), ControlRequest{Key: SwitchLight, On: true})
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected auth failure, got %v", err)
	}
	if _, _, control := cloud.counts(); control != 0 {
		t.Fatalf("expected no write, got %d", control)
	}
}

func TestSendUnknownSwitch(t *testing.T) {
	cloud := newFakeCloud(t)
	c := newTestCoordinator(t, cloud.config())

	err := c.Send(context.Background(), ControlRequest{Key: "sauna_switch", On: true})
	if Kind(err) != KindCommandFailed {
		t.Fatalf("expected command failure, got %v", err)
	}
	if logins, _, control := cloud.counts(); logins != 0 || control != 0 {
		t.Fatalf("expected no cloud traffic, got %d/%d", logins, control)
	}
}

func TestSendRawOverlayWins(t *testing.T) {
	cloud := newFakeCloud(t)
	c := newTestCoordinator(t, cloud.config())

	overlay := map[string]any{"comovement": 2, "action": true}
	if err := c.SendRaw(context.Background(), overlay); err != nil {
		t.Fatalf("SendRaw: %v", err)
	}
	body := cloud.lastControlBody()
	if body["comovement"] != float64(2) || body["action"] != true || body["setParamter"] != false {
		t.Fatalf("unexpected payload: %v", body)
	}
	if len(overlay) != 2 {
		t.Fatalf("caller overlay was modified: %v", overlay)
	}
}

func TestCommandObserver(t *testing.T) {
	cloud := newFakeCloud(t)
	cloud.controlStatus = []int{http.StatusBadRequest}

	var (
		mu      sync.Mutex
		records []CommandRecord
	)
	c := newTestCoordinator(t, cloud.config(), WithCommandObserver(func(ctx context.Context, record CommandRecord) {
		if ctx.Err() != nil {
			t.Errorf("observer context already done: %v", ctx.Err())
		}
		mu.Lock()
		records = append(records, record)
		mu.Unlock()
	}))

	_ = c.Send(context.Background(), ControlRequest{Key: SwitchWarming2, On: true})
	if err := c.Send(context.Background(), ControlRequest{Key: SwitchWarming2, On: false}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Err == nil || records[0].Attempts != 1 {
		t.Fatalf("unexpected failed record: %+v", records[0])
	}
	if records[1].Err != nil || records[1].MAC != testMAC || records[1].Overlay["warmingSwitch2"] != false {
		t.Fatalf("unexpected success record: %+v", records[1])
	}
}
