// Package rpc defines the booking.v1.BookingService gRPC surface: message
// types, a JSON codec, the service descriptor and a typed client.
package rpc

import (
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "booking.v1.BookingService"

// FullMethod returns "/booking.v1.BookingService/<method>".
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// Sender is the server side of a server-streaming call.
type Sender[T any] interface {
	Send(*T) error
	grpc.ServerStream
}

type BookingServiceServer interface {
	Register(context.Context, *RegisterRequest) (*AuthResponse, error)
	Login(context.Context, *LoginRequest) (*AuthResponse, error)
	Refresh(context.Context, *RefreshRequest) (*AuthResponse, error)
	Logout(context.Context, *Empty) (*Empty, error)
	GetProfile(context.Context, *Empty) (*ProfileResponse, error)
	ListDoctors(context.Context, *Empty) (*DoctorsResponse, error)
	GetDoctor(context.Context, *GetDoctorRequest) (*DoctorResponse, error)
	WatchDoctors(*Empty, Sender[DoctorsResponse]) error
	ListAppointments(context.Context, *Empty) (*AppointmentsResponse, error)
	WatchAppointments(*Empty, Sender[AppointmentsResponse]) error
	CreateAppointment(context.Context, *CreateAppointmentRequest) (*CreateAppointmentResponse, error)
}

func RegisterBookingServiceServer(s grpc.ServiceRegistrar, srv BookingServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BookingServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Register", BookingServiceServer.Register),
		unary("Login", BookingServiceServer.Login),
		unary("Refresh", BookingServiceServer.Refresh),
		unary("Logout", BookingServiceServer.Logout),
		unary("GetProfile", BookingServiceServer.GetProfile),
		unary("ListDoctors", BookingServiceServer.ListDoctors),
		unary("GetDoctor", BookingServiceServer.GetDoctor),
		unary("ListAppointments", BookingServiceServer.ListAppointments),
		unary("CreateAppointment", BookingServiceServer.CreateAppointment),
	},
	Streams: []grpc.StreamDesc{
		serverStream("WatchDoctors", BookingServiceServer.WatchDoctors),
		serverStream("WatchAppointments", BookingServiceServer.WatchAppointments),
	},
	Metadata: "booking/v1/booking.proto",
}

// IsStream reports whether method (short name) is server-streaming.
func IsStream(method string) bool {
	for _, s := range ServiceDesc.Streams {
		if s.StreamName == method {
			return true
		}
	}
	return false
}

// HasMethod reports whether method (short name) is a unary method.
func HasMethod(method string) bool {
	for _, m := range ServiceDesc.Methods {
		if m.MethodName == method {
			return true
		}
	}
	return false
}

func unary[Req, Resp any](name string, call func(BookingServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(BookingServiceServer), ctx, req.(*Req))
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			return interceptor(ctx, in, info, handler)
		},
	}
}

type serverSender[T any] struct {
	grpc.ServerStream
}

func (s *serverSender[T]) Send(m *T) error { return s.ServerStream.SendMsg(m) }

func serverStream[Req, Resp any](name string, call func(BookingServiceServer, *Req, Sender[Resp]) error) grpc.StreamDesc {
	return grpc.StreamDesc{
		StreamName:    name,
		ServerStreams: true,
		Handler: func(srv any, stream grpc.ServerStream) error {
			in := new(Req)
			if err := stream.RecvMsg(in); err != nil {
				return err
			}
			return call(srv.(BookingServiceServer), in, &serverSender[Resp]{stream})
		},
	}
}
