// Package rpc declares unary gRPC services whose requests and responses are
// google.protobuf.Struct values. Descriptors are built at runtime and added
// to the global registry so server reflection and grpcurl can see them.
package rpc

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/structpb"
)

const structType = ".google.protobuf.Struct"

// Handler serves one unary method.
type Handler func(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

type Method struct {
	Name    string
	Handler Handler
}

// Service is a named set of methods in a proto package, e.g. zinguo.v1.ZinguoService.
type Service struct {
	Package string
	Name    string
	Methods []Method
}

func (s Service) FullName() string {
	return s.Package + "." + s.Name
}

// FilePath is the synthetic .proto path the service is registered under.
func (s Service) FilePath() string {
	return strings.ReplaceAll(s.Package, ".", "/") + "/" + strings.ToLower(s.Name) + ".proto"
}

var registerMu sync.Mutex

// Register publishes the service descriptor and mounts it on server.
func Register(server grpc.ServiceRegistrar, svc Service) error {
	if _, err := Describe(svc); err != nil {
		return err
	}
	server.RegisterService(serviceDesc(svc), struct{}{})
	return nil
}

// Describe returns the registered descriptor for svc, creating it on first use.
func Describe(svc Service) (protoreflect.ServiceDescriptor, error) {
	if svc.Package == "" || svc.Name == "" {
		return nil, fmt.Errorf("service package and name are required")
	}

	registerMu.Lock()
	defer registerMu.Unlock()

	path := svc.FilePath()
	file, err := protoregistry.GlobalFiles.FindFileByPath(path)
	if err != nil {
		file, err = protodesc.NewFile(fileProto(svc), protoregistry.GlobalFiles)
		if err != nil {
			return nil, fmt.Errorf("build descriptor for %s: %w", svc.FullName(), err)
		}
		if err := protoregistry.GlobalFiles.RegisterFile(file); err != nil {
			return nil, fmt.Errorf("register descriptor for %s: %w", svc.FullName(), err)
		}
	}

	desc := file.Services().ByName(protoreflect.Name(svc.Name))
	if desc == nil {
		return nil, fmt.Errorf("service %s missing from %s", svc.FullName(), path)
	}
	for _, method := range svc.Methods {
		if desc.Methods().ByName(protoreflect.Name(method.Name)) == nil {
			return nil, fmt.Errorf("method %s.%s conflicts with registered descriptor", svc.FullName(), method.Name)
		}
	}
	return desc, nil
}

func fileProto(svc Service) *descriptorpb.FileDescriptorProto {
	methods := make([]*descriptorpb.MethodDescriptorProto, 0, len(svc.Methods))
	for _, method := range svc.Methods {
		methods = append(methods, &descriptorpb.MethodDescriptorProto{
			Name:       proto.String(method.Name),
			InputType:  proto.String(structType),
			OutputType: proto.String(structType),
		})
	}
	return &descriptorpb.FileDescriptorProto{
		Name:       proto.String(svc.FilePath()),
		Package:    proto.String(svc.Package),
		Syntax:     proto.String("proto3"),
		Dependency: []string{(&structpb.Struct{}).ProtoReflect().Descriptor().ParentFile().Path()},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name:   proto.String(svc.Name),
			Method: methods,
		}},
	}
}

func serviceDesc(svc Service) *grpc.ServiceDesc {
	full := svc.FullName()
	desc := &grpc.ServiceDesc{
		ServiceName: full,
		HandlerType: (*any)(nil),
		Streams:     []grpc.StreamDesc{},
		Metadata:    svc.FilePath(),
	}
	for _, method := range svc.Methods {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: method.Name,
			Handler:    unaryHandler("/"+full+"/"+method.Name, method.Handler),
		})
	}
	return desc
}

func unaryHandler(fullMethod string, handler Handler) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return handler(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return handler(ctx, req.(*structpb.Struct))
		})
	}
}

// Invoke calls service/method on conn with fields as the request body.
func Invoke(ctx context.Context, conn grpc.ClientConnInterface, service, method string, fields map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, "/"+service+"/"+method, in, out); err != nil {
		return nil, err
	}
	return out, nil
}
