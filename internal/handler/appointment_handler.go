package handler

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"doctor-booking-api/internal/directory"
	"doctor-booking-api/internal/gateway"
	"doctor-booking-api/internal/middleware"
	"doctor-booking-api/internal/model"
	"doctor-booking-api/internal/rpc"
)

func (h *Handler) ListAppointments(ctx context.Context, _ *rpc.Empty) (*rpc.AppointmentsResponse, error) {
	uid, role := middleware.UserID(ctx), middleware.Role(ctx)
	list, err := h.sync.List(ctx, uid, role)
	if err != nil {
		h.log.Error("handler.ListAppointments failed", zap.String("uid", uid), zap.Error(err))
		return nil, toStatus(err)
	}
	return &rpc.AppointmentsResponse{Appointments: list}, nil
}

func (h *Handler) WatchAppointments(_ *rpc.Empty, stream rpc.Sender[rpc.AppointmentsResponse]) error {
	ctx := stream.Context()
	uid, role := middleware.UserID(ctx), middleware.Role(ctx)
	return serveWatch(h, "appointments", stream, func(ctx context.Context, push func(*rpc.AppointmentsResponse)) (gateway.Subscription, error) {
		return h.sync.Subscribe(ctx, uid, role, func(list []model.DisplayAppointment) {
			push(&rpc.AppointmentsResponse{Appointments: list})
		})
	})
}

// CreateAppointment books the caller, who must be a patient, with a doctor.
func (h *Handler) CreateAppointment(ctx context.Context, req *rpc.CreateAppointmentRequest) (*rpc.CreateAppointmentResponse, error) {
	if err := rpc.Validate(req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if middleware.Role(ctx) != model.RolePatient {
		return nil, status.Error(codes.PermissionDenied, "only patients can book appointments")
	}

	uid := middleware.UserID(ctx)
	patient, err := h.directory.Profile(ctx, uid)
	if errors.Is(err, directory.ErrNotFound) {
		return nil, status.Error(codes.FailedPrecondition, "Cannot load the authenticated information, please try again")
	}
	if err != nil {
		h.log.Error("handler.CreateAppointment load patient failed", zap.String("uid", uid), zap.Error(err))
		return nil, status.Error(codes.Internal, "internal error")
	}

	doctor, err := h.directory.Doctor(ctx, req.DoctorID)
	if err != nil {
		if !errors.Is(err, directory.ErrNotFound) {
			h.log.Error("handler.CreateAppointment load doctor failed", zap.String("doctorId", req.DoctorID), zap.Error(err))
		}
		return nil, toStatus(err)
	}

	res, err := h.booker.Book(ctx, *patient, *doctor, req.IdempotencyKey)
	if err != nil {
		return nil, toStatus(err)
	}
	return &rpc.CreateAppointmentResponse{
		Appointment: res.Appointment,
		ChatLinked:  res.ChatLinked,
		ChatOutcome: res.Outcome,
	}, nil
}
