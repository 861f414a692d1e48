package logservice

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "devdiag.logservice.LogService"

// LogServiceServer is the server API of the log service
type LogServiceServer interface {
	Version(context.Context, *VersionRequest) (*VersionResponse, error)
	SetTagFilter(context.Context, *SetTagFilterRequest) (*SetTagFilterResponse, error)
	GetNextEntry(context.Context, *GetNextEntryRequest) (*GetNextEntryResponse, error)
}

// RegisterLogServiceServer attaches srv to s
func RegisterLogServiceServer(s grpc.ServiceRegistrar, srv LogServiceServer) {
	s.RegisterService(&logServiceDesc, srv)
}

var logServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*LogServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Version",
			Handler:    versionHandler,
		},
		{
			MethodName: "SetTagFilter",
			Handler:    setTagFilterHandler,
		},
		{
			MethodName: "GetNextEntry",
			Handler:    getNextEntryHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "logservice",
}

func fullMethod(method string) string {
	return "/" + serviceName + "/" + method
}

func versionHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(VersionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LogServiceServer).Version(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: fullMethod("Version"),
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LogServiceServer).Version(ctx, req.(*VersionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func setTagFilterHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SetTagFilterRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LogServiceServer).SetTagFilter(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: fullMethod("SetTagFilter"),
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LogServiceServer).SetTagFilter(ctx, req.(*SetTagFilterRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getNextEntryHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetNextEntryRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LogServiceServer).GetNextEntry(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: fullMethod("GetNextEntry"),
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LogServiceServer).GetNextEntry(ctx, req.(*GetNextEntryRequest))
	}
	return interceptor(ctx, in, info, handler)
}
