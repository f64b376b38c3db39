package router

import (
	"fmt"

	"google.golang.org/grpc"

	"github.com/joshp123/zinguo/internal/core"
	"github.com/joshp123/zinguo/internal/rpc"
)

// RegisterPlugins registers plugin services and core services on the gRPC server.
func RegisterPlugins(server *grpc.Server, plugins []core.Plugin) error {
	if err := rpc.Register(server, core.NewRegistryService(plugins).Service()); err != nil {
		return fmt.Errorf("register registry: %w", err)
	}

	for _, p := range plugins {
		if err := p.RegisterGRPC(server); err != nil {
			return fmt.Errorf("register plugin %s: %w", p.ID(), err)
		}
	}
	return nil
}
