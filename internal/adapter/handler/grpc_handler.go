package handler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/dropspot/internal/auth"
	"github.com/rl1809/dropspot/internal/core/domain"
	"github.com/rl1809/dropspot/internal/core/service"
)

type GRPCHandler struct {
	drops    *service.DropService
	waitlist *service.WaitlistService
	claims   *service.ClaimService
	verifier *auth.Verifier
	clock    service.Clock
	logger   *slog.Logger
}

var _ WaitlistServer = (*GRPCHandler)(nil)

func NewGRPCHandler(
	drops *service.DropService,
	waitlist *service.WaitlistService,
	claims *service.ClaimService,
	verifier *auth.Verifier,
	clock service.Clock,
	logger *slog.Logger,
) *GRPCHandler {
	return &GRPCHandler{
		drops:    drops,
		waitlist: waitlist,
		claims:   claims,
		verifier: verifier,
		clock:    clock,
		logger:   logger.With(slog.String("component", "grpc")),
	}
}

// publicMethods may be called without a bearer token.
var publicMethods = map[string]bool{
	"/" + waitlistServiceName + "/GetDrop": true,
}

// UnaryAuthInterceptor verifies the "authorization" metadata and stores the
// caller identity in the context.
func (h *GRPCHandler) UnaryAuthInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		var header string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if values := md.Get("authorization"); len(values) > 0 {
				header = values[0]
			}
		}

		if header == "" {
			if publicMethods[info.FullMethod] {
				return handler(ctx, req)
			}
			return nil, status.Error(codes.Unauthenticated, "missing authorization metadata")
		}

		token, ok := auth.BearerToken(header)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "expected authorization: Bearer <token>")
		}
		id, err := h.verifier.Verify(token)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "invalid or expired token")
		}
		return handler(auth.WithIdentity(ctx, id), req)
	}
}

// infraStatus converts failures outside the business taxonomy into status errors.
func (h *GRPCHandler) infraStatus(method string, err error) error {
	switch {
	case errors.Is(err, domain.ErrAllocatorBusy):
		return status.Error(codes.Unavailable, "claim allocator is busy, retry shortly")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	h.logger.Error("rpc failed", slog.String("method", method), slog.Any("error", err))
	return status.Error(codes.Internal, "internal error")
}

func (h *GRPCHandler) Join(ctx context.Context, req *DropRequest) (*MembershipReply, error) {
	id, _ := auth.FromContext(ctx)
	result, err := h.waitlist.Join(ctx, req.DropID, id.UserID)
	return h.membershipReply("Join", result, err)
}

func (h *GRPCHandler) Leave(ctx context.Context, req *DropRequest) (*MembershipReply, error) {
	id, _ := auth.FromContext(ctx)
	result, err := h.waitlist.Leave(ctx, req.DropID, id.UserID)
	return h.membershipReply("Leave", result, err)
}

func (h *GRPCHandler) membershipReply(method string, result domain.MembershipResult, err error) (*MembershipReply, error) {
	if err != nil {
		if !domain.IsBusinessError(err) {
			return nil, h.infraStatus(method, err)
		}
		return &MembershipReply{
			Success: false,
			Code:    domain.Code(err),
			Message: err.Error(),
		}, nil
	}

	return &MembershipReply{
		Success:       true,
		Status:        result.Status,
		AlreadyJoined: result.AlreadyJoined,
	}, nil
}

func (h *GRPCHandler) Claim(ctx context.Context, req *DropRequest) (*ClaimReply, error) {
	id, _ := auth.FromContext(ctx)
	claim, err := h.claims.Claim(ctx, req.DropID, id.UserID)
	if err != nil {
		if !domain.IsBusinessError(err) {
			return nil, h.infraStatus("Claim", err)
		}
		return &ClaimReply{
			Success: false,
			Code:    domain.Code(err),
			Message: err.Error(),
		}, nil
	}

	return &ClaimReply{
		Success:   true,
		ClaimCode: claim.ClaimCode,
		ClaimedAt: claim.ClaimedAt.Format(time.RFC3339Nano),
	}, nil
}

func (h *GRPCHandler) GetDrop(ctx context.Context, req *DropRequest) (*DropReply, error) {
	drop, err := h.drops.GetDrop(ctx, req.DropID)
	if err != nil {
		if !domain.IsBusinessError(err) {
			return nil, h.infraStatus("GetDrop", err)
		}
		return &DropReply{
			Success: false,
			Code:    domain.Code(err),
			Message: err.Error(),
		}, nil
	}

	resp := toDropResponse(drop, h.clock.Now())
	if id, ok := auth.FromContext(ctx); ok {
		statuses, err := h.waitlist.Statuses(ctx, id.UserID, []string{drop.ID})
		if err != nil {
			return nil, h.infraStatus("GetDrop", err)
		}
		resp.WaitlistStatus = string(statuses[drop.ID])
	}
	return &DropReply{Success: true, Drop: &resp}, nil
}
