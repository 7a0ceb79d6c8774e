package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// WithToken attaches an access token to outgoing calls made with ctx.
func WithToken(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
}

type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func invoke[Resp any](ctx context.Context, c *Client, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Register(ctx context.Context, in *RegisterRequest, opts ...grpc.CallOption) (*AuthResponse, error) {
	return invoke[AuthResponse](ctx, c, "Register", in, opts)
}

func (c *Client) Login(ctx context.Context, in *LoginRequest, opts ...grpc.CallOption) (*AuthResponse, error) {
	return invoke[AuthResponse](ctx, c, "Login", in, opts)
}

func (c *Client) Refresh(ctx context.Context, in *RefreshRequest, opts ...grpc.CallOption) (*AuthResponse, error) {
	return invoke[AuthResponse](ctx, c, "Refresh", in, opts)
}

func (c *Client) Logout(ctx context.Context, opts ...grpc.CallOption) error {
	_, err := invoke[Empty](ctx, c, "Logout", &Empty{}, opts)
	return err
}

func (c *Client) GetProfile(ctx context.Context, opts ...grpc.CallOption) (*ProfileResponse, error) {
	return invoke[ProfileResponse](ctx, c, "GetProfile", &Empty{}, opts)
}

func (c *Client) ListDoctors(ctx context.Context, opts ...grpc.CallOption) (*DoctorsResponse, error) {
	return invoke[DoctorsResponse](ctx, c, "ListDoctors", &Empty{}, opts)
}

func (c *Client) GetDoctor(ctx context.Context, in *GetDoctorRequest, opts ...grpc.CallOption) (*DoctorResponse, error) {
	return invoke[DoctorResponse](ctx, c, "GetDoctor", in, opts)
}

func (c *Client) ListAppointments(ctx context.Context, opts ...grpc.CallOption) (*AppointmentsResponse, error) {
	return invoke[AppointmentsResponse](ctx, c, "ListAppointments", &Empty{}, opts)
}

func (c *Client) CreateAppointment(ctx context.Context, in *CreateAppointmentRequest, opts ...grpc.CallOption) (*CreateAppointmentResponse, error) {
	return invoke[CreateAppointmentResponse](ctx, c, "CreateAppointment", in, opts)
}

// Stream is the client side of a server-streaming call.
type Stream[T any] struct {
	grpc.ClientStream
}

func (s *Stream[T]) Recv() (*T, error) {
	m := new(T)
	if err := s.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func openStream[T any](ctx context.Context, c *Client, method string, opts []grpc.CallOption) (*Stream[T], error) {
	var desc *grpc.StreamDesc
	for i := range ServiceDesc.Streams {
		if ServiceDesc.Streams[i].StreamName == method {
			desc = &ServiceDesc.Streams[i]
		}
	}
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	st, err := c.cc.NewStream(ctx, desc, FullMethod(method), opts...)
	if err != nil {
		return nil, err
	}
	if err := st.SendMsg(&Empty{}); err != nil {
		return nil, err
	}
	if err := st.CloseSend(); err != nil {
		return nil, err
	}
	return &Stream[T]{st}, nil
}

// WatchDoctors streams the full doctor list on every change until ctx ends.
func (c *Client) WatchDoctors(ctx context.Context, opts ...grpc.CallOption) (*Stream[DoctorsResponse], error) {
	return openStream[DoctorsResponse](ctx, c, "WatchDoctors", opts)
}

func (c *Client) WatchAppointments(ctx context.Context, opts ...grpc.CallOption) (*Stream[AppointmentsResponse], error) {
	return openStream[AppointmentsResponse](ctx, c, "WatchAppointments", opts)
}
