package zinguo

import (
	"context"
	"errors"
	"net"
	"net/http"
	"path/filepath"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/zinguo/internal/audit"
	"github.com/joshp123/zinguo/internal/rate"
	"github.com/joshp123/zinguo/internal/rpc"
)

func request(t *testing.T, fields map[string]any) *structpb.Struct {
	t.Helper()
	req, err := structpb.NewStruct(fields)
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	return req
}

func openAuditLog(t *testing.T) *audit.Log {
	t.Helper()
	log, err := audit.Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("audit.Open: %v", err)
	}
	t.Cleanup(func() { _ = log.Close() })
	return log
}

func TestServiceGetStatusBeforeFirstPoll(t *testing.T) {
	cloud := newFakeCloud(t)
	svc := &service{coordinator: newTestCoordinator(t, cloud.config())}

	resp, err := svc.GetStatus(context.Background(), &structpb.Struct{})
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	fields := resp.GetFields()
	if fields["available"].GetBoolValue() {
		t.Fatalf("expected unavailable before first poll")
	}
	if _, ok := fields["device"]; ok {
		t.Fatalf("expected no device before first poll")
	}
	if logins, devices, _ := cloud.counts(); logins+devices != 0 {
		t.Fatalf("GetStatus must not call the cloud")
	}
}

func TestServiceRefreshAndSetSwitch(t *testing.T) {
	cloud := newFakeCloud(t)
	svc := &service{coordinator: newTestCoordinator(t, cloud.config())}

	resp, err := svc.Refresh(context.Background(), &structpb.Struct{})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	device := resp.GetFields()["device"].GetStructValue().GetFields()
	if device["temperature"].GetNumberValue() != 23.5 {
		t.Fatalf("unexpected device: %v", device)
	}
	if !device["switches"].GetStructValue().GetFields()["warming_switch_1"].GetBoolValue() {
		t.Fatalf("expected warming_switch_1 on")
	}

	resp, err = svc.SetSwitch(context.Background(), request(t, map[string]any{"switch": "light_switch", "on": true}))
	if err != nil {
		t.Fatalf("SetSwitch: %v", err)
	}
	if !resp.GetFields()["on"].GetBoolValue() {
		t.Fatalf("unexpected response: %v", resp)
	}
	if body := cloud.lastControlBody(); body["lightSwitch"] != true {
		t.Fatalf("unexpected control payload: %v", body)
	}

	if _, err := svc.SetComovement(context.Background(), request(t, map[string]any{"mode": 2})); err != nil {
		t.Fatalf("SetComovement: %v", err)
	}
	if body := cloud.lastControlBody(); body["comovement"] != float64(2) {
		t.Fatalf("unexpected control payload: %v", body)
	}
}

func TestServiceValidation(t *testing.T) {
	cloud := newFakeCloud(t)
	svc := &service{coordinator: newTestCoordinator(t, cloud.config())}

	_, err := svc.SetSwitch(context.Background(), request(t, map[string]any{"switch": "sauna", "on": true}))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
	_, err = svc.SetComovement(context.Background(), &structpb.Struct{})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
	_, err = svc.ListCommands(context.Background(), &structpb.Struct{})
	if status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("expected FailedPrecondition without audit log, got %v", err)
	}

	unconfigured := &service{}
	if _, err := unconfigured.GetStatus(context.Background(), &structpb.Struct{}); status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("expected FailedPrecondition, got %v", err)
	}
}

func TestServiceRefreshAuthFailure(t *testing.T) {
	cloud := newFakeCloud(t)
	cloud.loginStatus = http.StatusUnauthorized
	svc := &service{coordinator: newTestCoordinator(t, cloud.config())}

	if _, err := svc.Refresh(context.Background(), &structpb.Struct{}); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
}

func TestServiceListCommands(t *testing.T) {
	cloud := newFakeCloud(t)
	cloud.controlStatus = []int{http.StatusInternalServerError}
	commands := openAuditLog(t)

	c := newTestCoordinator(t, cloud.config(), WithCommandObserver(func(ctx context.Context, record CommandRecord) {
		if err := commands.Record(ctx, commandEntry(record)); err != nil {
			t.Errorf("Record: %v", err)
		}
	}))
	svc := &service{coordinator: c, commands: commands}

	_, _ = svc.SetSwitch(context.Background(), request(t, map[string]any{"switch": "wind_switch", "on": true}))
	if _, err := svc.SetSwitch(context.Background(), request(t, map[string]any{"switch": "wind_switch", "on": false})); err != nil {
		t.Fatalf("SetSwitch: %v", err)
	}

	resp, err := svc.ListCommands(context.Background(), request(t, map[string]any{"limit": 10}))
	if err != nil {
		t.Fatalf("ListCommands: %v", err)
	}
	rows := resp.GetFields()["commands"].GetListValue().GetValues()
	if len(rows) != 2 {
		t.Fatalf("expected 2 commands, got %d", len(rows))
	}
	results := map[string]bool{}
	for _, row := range rows {
		results[row.GetStructValue().GetFields()["result"].GetStringValue()] = true
	}
	if !results["success"] || !results["command_failed"] {
		t.Fatalf("unexpected results: %v", results)
	}
}

func TestStatusError(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{ErrClosed, codes.Unavailable},
		{ErrAuthFailed, codes.Unauthenticated},
		{ErrDeviceNotFound, codes.NotFound},
		{&CommandError{Status: 500}, codes.Aborted},
		{&TransientError{Op: "devices", Status: 502}, codes.Unavailable},
		{&TransientError{Op: "devices", Err: rate.RateLimitError{Provider: "zinguo"}}, codes.ResourceExhausted},
		{&TransientError{Op: "devices", Err: context.DeadlineExceeded}, codes.DeadlineExceeded},
		{context.Canceled, codes.Canceled},
		{errors.New("boom"), codes.Internal},
	}
	for _, tt := range tests {
		if got := status.Code(statusError("op", tt.err)); got != tt.want {
			t.Fatalf("%v: expected %s, got %s", tt.err, tt.want, got)
		}
	}
}

func TestRegisterZinguoServiceOverGRPC(t *testing.T) {
	cloud := newFakeCloud(t)
	c := newTestCoordinator(t, cloud.config())

	listener := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	if err := RegisterZinguoService(server, c, nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	go func() { _ = server.Serve(listener) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	resp, err := rpc.Invoke(context.Background(), conn, ServiceName, "Refresh", nil)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if !resp.GetFields()["available"].GetBoolValue() {
		t.Fatalf("expected available status: %v", resp)
	}

	_, err = rpc.Invoke(context.Background(), conn, ServiceName, "SetSwitch", map[string]any{"switch": "nope"})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}
