package zinguo

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/zinguo/internal/audit"
	"github.com/joshp123/zinguo/internal/rate"
	"github.com/joshp123/zinguo/internal/rpc"
)

const (
	ServiceName         = "zinguo.v1.ZinguoService"
	defaultCommandLimit = 20
)

// CommandLog stores and lists past control commands.
type CommandLog interface {
	Record(ctx context.Context, entry *audit.Entry) error
	Recent(ctx context.Context, limit int) ([]audit.Entry, error)
}

type service struct {
	coordinator *Coordinator
	commands    CommandLog
}

// RegisterZinguoService mounts zinguo.v1.ZinguoService on server.
func RegisterZinguoService(server grpc.ServiceRegistrar, coordinator *Coordinator, commands CommandLog) error {
	return rpc.Register(server, (&service{coordinator: coordinator, commands: commands}).describe())
}

func (s *service) describe() rpc.Service {
	return rpc.Service{
		Package: "zinguo.v1",
		Name:    "ZinguoService",
		Methods: []rpc.Method{
			{Name: "GetStatus", Handler: s.GetStatus},
			{Name: "SetSwitch", Handler: s.SetSwitch},
			{Name: "SetComovement", Handler: s.SetComovement},
			{Name: "Refresh", Handler: s.Refresh},
			{Name: "ListCommands", Handler: s.ListCommands},
		},
	}
}

func (s *service) GetStatus(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.coordinator == nil {
		return nil, status.Error(codes.FailedPrecondition, "zinguo coordinator not configured")
	}
	return structpb.NewStruct(statusFields(s.coordinator))
}

func (s *service) SetSwitch(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.coordinator == nil {
		return nil, status.Error(codes.FailedPrecondition, "zinguo coordinator not configured")
	}
	fields := req.GetFields()
	key, err := ParseSwitchKey(fields["switch"].GetStringValue())
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "%v (known: %v)", err, SwitchKeys())
	}
	on := fields["on"].GetBoolValue()

	if err := s.coordinator.Send(ctx, ControlRequest{Key: key, On: on}); err != nil {
		return nil, statusError("set switch", err)
	}
	return structpb.NewStruct(map[string]any{"switch": string(key), "on": on})
}

func (s *service) SetComovement(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.coordinator == nil {
		return nil, status.Error(codes.FailedPrecondition, "zinguo coordinator not configured")
	}
	value, ok := req.GetFields()["mode"]
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "mode is required")
	}
	mode := int(value.GetNumberValue())
	if mode < 0 {
		return nil, status.Errorf(codes.InvalidArgument, "mode must not be negative, got %d", mode)
	}

	if err := s.coordinator.SendRaw(ctx, map[string]any{"comovement": mode}); err != nil {
		return nil, statusError("set comovement", err)
	}
	return structpb.NewStruct(map[string]any{"mode": mode})
}

func (s *service) Refresh(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.coordinator == nil {
		return nil, status.Error(codes.FailedPrecondition, "zinguo coordinator not configured")
	}
	if outcome := s.coordinator.Refresh(ctx); outcome.Err != nil {
		return nil, statusError("refresh", outcome.Err)
	}
	return structpb.NewStruct(statusFields(s.coordinator))
}

func (s *service) ListCommands(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.commands == nil {
		return nil, status.Error(codes.FailedPrecondition, "command audit log not enabled")
	}
	limit := defaultCommandLimit
	if v, ok := req.GetFields()["limit"]; ok && v.GetNumberValue() > 0 {
		limit = int(v.GetNumberValue())
	}

	entries, err := s.commands.Recent(ctx, limit)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "list commands: %v", err)
	}
	out := make([]any, 0, len(entries))
	for _, e := range entries {
		row := map[string]any{
			"id":          e.ID,
			"mac":         e.MAC,
			"fields":      e.Fields,
			"result":      e.Result,
			"attempts":    e.Attempts,
			"duration_ms": e.DurationMS,
			"created_at":  e.CreatedAt.UTC().Format(time.RFC3339),
		}
		if e.Error != "" {
			row["error"] = e.Error
		}
		out = append(out, row)
	}
	return structpb.NewStruct(map[string]any{"commands": out})
}

// statusError maps coordinator failures onto gRPC codes.
func statusError(op string, err error) error {
	var limited rate.RateLimitError
	switch {
	case errors.As(err, &limited):
		return status.Errorf(codes.ResourceExhausted, "%s: %v", op, err)
	case errors.Is(err, ErrClosed):
		return status.Errorf(codes.Unavailable, "%s: %v", op, err)
	case errors.Is(err, context.Canceled):
		return status.Errorf(codes.Canceled, "%s: %v", op, err)
	case errors.Is(err, context.DeadlineExceeded):
		return status.Errorf(codes.DeadlineExceeded, "%s: %v", op, err)
	}

	switch Kind(err) {
	case KindAuthFailed:
		return status.Errorf(codes.Unauthenticated, "%s: %v", op, err)
	case KindDeviceNotFound:
		return status.Errorf(codes.NotFound, "%s: %v", op, err)
	case KindCommandFailed:
		return status.Errorf(codes.Aborted, "%s: %v", op, err)
	case KindTransient:
		return status.Errorf(codes.Unavailable, "%s: %v", op, err)
	default:
		return status.Errorf(codes.Internal, "%s: %v", op, err)
	}
}

// snapshotFields is the JSON shape shared by gRPC, /status and MQTT state.
func snapshotFields(s Snapshot) map[string]any {
	switches := make(map[string]any, len(s.Switches))
	for _, key := range SwitchKeys() {
		switches[string(key)] = s.Switch(key)
	}
	fields := map[string]any{
		"id":               s.ID,
		"mac":              s.MAC,
		"name":             s.Name,
		"online":           s.Online,
		"switches":         switches,
		"hardware_version": s.HardwareVersion,
		"software_version": s.SoftwareVersion,
		"fetched_at":       s.FetchedAt.UTC().Format(time.RFC3339),
	}
	if s.Temperature != nil {
		fields["temperature"] = *s.Temperature
	}
	if s.Comovement != nil {
		fields["comovement"] = *s.Comovement
	}
	return fields
}

func statusFields(c *Coordinator) map[string]any {
	outcome := c.Outcome()
	fields := map[string]any{
		"available":     outcome.OK(),
		"authenticated": c.Session().Authenticated(),
	}
	if !outcome.CompletedAt.IsZero() {
		fields["completed_at"] = outcome.CompletedAt.UTC().Format(time.RFC3339)
	}
	if outcome.Err != nil {
		fields["error"] = outcome.Err.Error()
		fields["error_kind"] = Kind(outcome.Err).String()
	}
	if ts := c.LastSuccessAt(); !ts.IsZero() {
		fields["last_success_at"] = ts.UTC().Format(time.RFC3339)
	}
	if snap, ok := c.Snapshot(); ok {
		fields["device"] = snapshotFields(snap)
	}
	return fields
}

// historyFields are the InfluxDB fields written for each good snapshot.
func historyFields(s Snapshot) map[string]any {
	fields := map[string]any{"online": s.Online}
	if s.Temperature != nil {
		fields["temperature"] = *s.Temperature
	}
	if s.Comovement != nil {
		fields["comovement"] = *s.Comovement
	}
	for _, key := range SwitchKeys() {
		fields[string(key)] = s.Switch(key)
	}
	return fields
}
