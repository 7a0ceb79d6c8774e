package handler

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"doctor-booking-api/internal/appointments"
	"doctor-booking-api/internal/directory"
	"doctor-booking-api/internal/gateway"
	"doctor-booking-api/internal/middleware"
	"doctor-booking-api/internal/model"
	"doctor-booking-api/internal/rpc"
)

func (h *Handler) ListDoctors(ctx context.Context, _ *rpc.Empty) (*rpc.DoctorsResponse, error) {
	doctors, err := h.directory.ListDoctors(ctx)
	if err != nil {
		h.log.Error("handler.ListDoctors failed", zap.Error(err))
		return nil, status.Error(codes.Internal, "internal error")
	}
	return &rpc.DoctorsResponse{Doctors: doctors}, nil
}

// GetDoctor returns one doctor and, for a patient caller, whether an
// appointment with them already exists.
func (h *Handler) GetDoctor(ctx context.Context, req *rpc.GetDoctorRequest) (*rpc.DoctorResponse, error) {
	if err := rpc.Validate(req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	doc, err := h.directory.Doctor(ctx, req.ID)
	if err != nil {
		return nil, toStatus(err)
	}

	resp := &rpc.DoctorResponse{Doctor: *doc}
	if middleware.Role(ctx) == model.RolePatient {
		has, err := h.sync.HasAppointmentWith(ctx, middleware.UserID(ctx), doc.ID)
		if err != nil {
			h.log.Warn("handler.GetDoctor appointment check failed", zap.String("doctorId", doc.ID), zap.Error(err))
		}
		resp.HasAppointment = has
	}
	return resp, nil
}

func (h *Handler) WatchDoctors(_ *rpc.Empty, stream rpc.Sender[rpc.DoctorsResponse]) error {
	return serveWatch(h, "doctors", stream, func(ctx context.Context, push func(*rpc.DoctorsResponse)) (gateway.Subscription, error) {
		return h.directory.WatchDoctors(ctx, func(doctors []model.UserProfile) {
			push(&rpc.DoctorsResponse{Doctors: doctors})
		})
	})
}

// toStatus maps domain errors onto gRPC codes; anything else becomes
// Internal with the cause hidden.
func toStatus(err error) error {
	switch {
	case errors.Is(err, directory.ErrNotFound), errors.Is(err, appointments.ErrNotDoctor):
		return status.Error(codes.NotFound, "doctor not found")
	case errors.Is(err, appointments.ErrNotPatient):
		return status.Error(codes.PermissionDenied, "only patients can book appointments")
	case errors.Is(err, appointments.ErrInvalidRole):
		return status.Error(codes.PermissionDenied, "unknown role")
	case errors.Is(err, appointments.ErrChatLink):
		return status.Error(codes.Unavailable, "Fail to add the doctor to your contact list, please try again")
	case errors.Is(err, gateway.ErrInvalidQuery):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
