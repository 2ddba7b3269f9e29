package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Services are described by hand; every message is a google.protobuf.Struct
// so grpcurl and any proto client can talk to them without generated stubs.
const (
	ReviewServiceName    = "invoices.v1.ReviewService"
	IngestionServiceName = "invoices.v1.IngestionService"
)

// ReviewServer resolves quarantined invoices.
type ReviewServer interface {
	// ListPending accepts {"month": "YYYY-MM"} (optional).
	ListPending(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	// Resolve accepts {"key": "...", "action": "promote"|"discard"}.
	Resolve(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

// IngestionServer runs files through the pipeline.
type IngestionServer interface {
	// IngestFile accepts {"path": "..."} and processes synchronously.
	IngestFile(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	// IngestDirectory accepts {"root_path": "...", "skip_hidden": bool} and queues every match.
	IngestDirectory(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

type unaryFunc func(srv any, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryFunc) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv, ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var ReviewServiceDesc = grpc.ServiceDesc{
	ServiceName: ReviewServiceName,
	HandlerType: (*ReviewServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ListPending",
			Handler: unaryHandler("/"+ReviewServiceName+"/ListPending", func(srv any, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return srv.(ReviewServer).ListPending(ctx, in)
			}),
		},
		{
			MethodName: "Resolve",
			Handler: unaryHandler("/"+ReviewServiceName+"/Resolve", func(srv any, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return srv.(ReviewServer).Resolve(ctx, in)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "invoices/v1/review.proto",
}

var IngestionServiceDesc = grpc.ServiceDesc{
	ServiceName: IngestionServiceName,
	HandlerType: (*IngestionServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "IngestFile",
			Handler: unaryHandler("/"+IngestionServiceName+"/IngestFile", func(srv any, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return srv.(IngestionServer).IngestFile(ctx, in)
			}),
		},
		{
			MethodName: "IngestDirectory",
			Handler: unaryHandler("/"+IngestionServiceName+"/IngestDirectory", func(srv any, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return srv.(IngestionServer).IngestDirectory(ctx, in)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "invoices/v1/ingestion.proto",
}

func RegisterReviewServer(s grpc.ServiceRegistrar, srv ReviewServer) {
	s.RegisterService(&ReviewServiceDesc, srv)
}

func RegisterIngestionServer(s grpc.ServiceRegistrar, srv IngestionServer) {
	s.RegisterService(&IngestionServiceDesc, srv)
}

// Client calls both services over one connection.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client { return &Client{cc: cc} }

func (c *Client) invoke(ctx context.Context, service, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+service+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListPending(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, ReviewServiceName, "ListPending", in, opts...)
}

func (c *Client) Resolve(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, ReviewServiceName, "Resolve", in, opts...)
}

func (c *Client) IngestFile(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, IngestionServiceName, "IngestFile", in, opts...)
}

func (c *Client) IngestDirectory(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, IngestionServiceName, "IngestDirectory", in, opts...)
}
