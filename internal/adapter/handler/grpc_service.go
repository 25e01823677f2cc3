package handler

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

const waitlistServiceName = "dropspot.v1.Waitlist"

type DropRequest struct {
	DropID string `json:"drop_id"`
}

// Replies report business outcomes in Success, Code and Message; only
// infrastructure and auth failures are returned as gRPC status errors.
type MembershipReply struct {
	Success       bool   `json:"success"`
	Code          string `json:"code,omitempty"`
	Message       string `json:"message,omitempty"`
	Status        string `json:"status,omitempty"`
	AlreadyJoined bool   `json:"already_joined"`
}

type ClaimReply struct {
	Success   bool   `json:"success"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
	ClaimCode string `json:"claim_code,omitempty"`
	ClaimedAt string `json:"claimed_at,omitempty"`
}

type DropReply struct {
	Success bool          `json:"success"`
	Code    string        `json:"code,omitempty"`
	Message string        `json:"message,omitempty"`
	Drop    *dropResponse `json:"drop,omitempty"`
}

type WaitlistServer interface {
	Join(ctx context.Context, req *DropRequest) (*MembershipReply, error)
	Leave(ctx context.Context, req *DropRequest) (*MembershipReply, error)
	Claim(ctx context.Context, req *DropRequest) (*ClaimReply, error)
	GetDrop(ctx context.Context, req *DropRequest) (*DropReply, error)
}

func RegisterWaitlistServer(s grpc.ServiceRegistrar, srv WaitlistServer) {
	s.RegisterService(&waitlistServiceDesc, srv)
}

// unaryMethod adapts one WaitlistServer method to a grpc.MethodDesc handler.
func unaryMethod[Resp any](name string, call func(WaitlistServer, context.Context, *DropRequest) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + waitlistServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(DropRequest)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(WaitlistServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(WaitlistServer), ctx, req.(*DropRequest))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var waitlistServiceDesc = grpc.ServiceDesc{
	ServiceName: waitlistServiceName,
	HandlerType: (*WaitlistServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("Join", WaitlistServer.Join),
		unaryMethod("Leave", WaitlistServer.Leave),
		unaryMethod("Claim", WaitlistServer.Claim),
		unaryMethod("GetDrop", WaitlistServer.GetDrop),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "dropspot/v1/waitlist",
}

// WaitlistClient calls the Waitlist service with the JSON codec.
type WaitlistClient struct {
	cc    grpc.ClientConnInterface
	token string
}

// NewWaitlistClient returns a client sending token as a bearer credential.
// token may be empty for public calls.
func NewWaitlistClient(cc grpc.ClientConnInterface, token string) *WaitlistClient {
	return &WaitlistClient{cc: cc, token: token}
}

func (c *WaitlistClient) invoke(ctx context.Context, method string, in *DropRequest, out any) error {
	if c.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
	}
	return c.cc.Invoke(ctx, "/"+waitlistServiceName+"/"+method, in, out, grpc.CallContentSubtype(codecName))
}

func (c *WaitlistClient) Join(ctx context.Context, dropID string) (*MembershipReply, error) {
	out := new(MembershipReply)
	if err := c.invoke(ctx, "Join", &DropRequest{DropID: dropID}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *WaitlistClient) Leave(ctx context.Context, dropID string) (*MembershipReply, error) {
	out := new(MembershipReply)
	if err := c.invoke(ctx, "Leave", &DropRequest{DropID: dropID}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *WaitlistClient) Claim(ctx context.Context, dropID string) (*ClaimReply, error) {
	out := new(ClaimReply)
	if err := c.invoke(ctx, "Claim", &DropRequest{DropID: dropID}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *WaitlistClient) GetDrop(ctx context.Context, dropID string) (*DropReply, error) {
	out := new(DropReply)
	if err := c.invoke(ctx, "GetDrop", &DropRequest{DropID: dropID}, out); err != nil {
		return nil, err
	}
	return out, nil
}
