package appointments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"doctor-booking-api/internal/gateway"
	"doctor-booking-api/internal/model"
)

// ChatPolicy decides what a failed chat contact link does to a booking.
type ChatPolicy string

const (
	// PolicyBestEffort writes the appointment even if linking failed.
	PolicyBestEffort ChatPolicy = "best-effort"
	// PolicyRequired aborts the booking before anything is written.
	PolicyRequired ChatPolicy = "required"
	// PolicyDeferred hands linking to the friend-link queue.
	PolicyDeferred ChatPolicy = "deferred"
)

func ParsePolicy(s string) (ChatPolicy, error) {
	switch p := ChatPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyBestEffort, nil
	case PolicyBestEffort, PolicyRequired, PolicyDeferred:
		return p, nil
	default:
		return "", fmt.Errorf("appointments: unknown chat policy %q", s)
	}
}

// Outcomes of the chat step, used as metric labels.
const (
	OutcomeLinked   = "linked"
	OutcomeFailed   = "failed"
	OutcomeDeferred = "deferred"
	OutcomeReplayed = "replayed"
)

var (
	ErrNotPatient = errors.New("appointments: only patients can book")
	ErrNotDoctor  = errors.New("appointments: target is not a doctor")
	ErrChatLink   = errors.New("appointments: chat contact link failed")
)

// idempotencyNamespace seeds the v5 ids of keyed bookings.
var idempotencyNamespace = uuid.MustParse("6f1c2a8e-5d0b-4c3e-9a61-2b7f4e8d9c10")

// ChatLinker makes two users contacts on the chat platform.
type ChatLinker interface {
	AddFriends(ctx context.Context, uid string, friendIDs ...string) error
}

// LinkQueue accepts chat links to be made later.
type LinkQueue interface {
	EnqueueFriendLink(ctx context.Context, uid, friendID string) error
}

// Metrics observes bookings. A nil Metrics is allowed.
type Metrics interface {
	AppointmentBooked(outcome string)
}

type Result struct {
	Appointment model.Appointment
	// ChatLinked is true only when the contact link succeeded inline.
	ChatLinked  bool
	Outcome     string
}

type Booker struct {
	gw      gateway.Gateway
	chat    ChatLinker
	queue   LinkQueue
	metrics Metrics
	policy  ChatPolicy
	log     *zap.Logger
}

type Option func(*Booker)

func WithPolicy(p ChatPolicy) Option { return func(b *Booker) { b.policy = p } }

func WithQueue(q LinkQueue) Option { return func(b *Booker) { b.queue = q } }

func WithMetrics(m Metrics) Option { return func(b *Booker) { b.metrics = m } }

func NewBooker(gw gateway.Gateway, chat ChatLinker, log *zap.Logger, opts ...Option) (*Booker, error) {
	if log == nil {
		log = zap.NewNop()
	}
	b := &Booker{gw: gw, chat: chat, policy: PolicyBestEffort, log: log}
	for _, opt := range opts {
		opt(b)
	}
	if b.policy == PolicyDeferred && b.queue == nil {
		return nil, errors.New("appointments: deferred chat policy needs a queue")
	}
	if b.policy == PolicyRequired && b.chat == nil {
		return nil, errors.New("appointments: required chat policy needs a chat client")
	}
	return b, nil
}

func (b *Booker) Policy() ChatPolicy { return b.policy }

// Book links patient and doctor on the chat platform and stores the
// appointment under a new id. With a non-empty idempotencyKey the id is
// derived from (patient, doctor, key) and a repeated call returns the
// stored appointment untouched.
func (b *Booker) Book(ctx context.Context, patient, doctor model.UserProfile, idempotencyKey string) (*Result, error) {
	if patient.Role != model.RolePatient || patient.ID == "" {
		return nil, ErrNotPatient
	}
	if doctor.Role != model.RoleDoctor || doctor.ID == "" {
		return nil, ErrNotDoctor
	}

	id := uuid.NewString()
	if idempotencyKey != "" {
		id = uuid.NewSHA1(idempotencyNamespace,
			[]byte(patient.ID+"\x00"+doctor.ID+"\x00"+idempotencyKey)).String()
		existing, err := b.lookup(ctx, id)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			b.observe(OutcomeReplayed)
			return &Result{Appointment: *existing, Outcome: OutcomeReplayed}, nil
		}
	}

	outcome, err := b.link(ctx, patient.ID, doctor.ID)
	if err != nil {
		return nil, err
	}

	appt := model.NewAppointment(id, patient, doctor)
	if err := b.gw.Set(ctx, gateway.Appointments, id, appt); err != nil {
		b.log.Error("appointments.Booker.Book write failed",
			zap.String("appointmentId", id),
			zap.Error(err),
		)
		return nil, fmt.Errorf("appointments: write %s: %w", id, err)
	}

	b.observe(outcome)
	b.log.Info("appointments.Booker.Book created",
		zap.String("appointmentId", id),
		zap.String("patientId", patient.ID),
		zap.String("doctorId", doctor.ID),
		zap.String("chat", outcome),
	)
	return &Result{Appointment: appt, ChatLinked: outcome == OutcomeLinked, Outcome: outcome}, nil
}

func (b *Booker) link(ctx context.Context, patientID, doctorID string) (string, error) {
	if b.policy == PolicyDeferred {
		if err := b.queue.EnqueueFriendLink(ctx, patientID, doctorID); err != nil {
			b.log.Warn("appointments.Booker.link enqueue failed",
				zap.String("patientId", patientID),
				zap.String("doctorId", doctorID),
				zap.Error(err),
			)
			return OutcomeFailed, nil
		}
		return OutcomeDeferred, nil
	}

	if b.chat == nil {
		// chat is not configured
		return OutcomeFailed, nil
	}
	err := b.chat.AddFriends(ctx, patientID, doctorID)
	if err == nil {
		return OutcomeLinked, nil
	}
	if b.policy == PolicyRequired {
		b.observe(OutcomeFailed)
		return "", fmt.Errorf("%w: %w", ErrChatLink, err)
	}
	b.log.Warn("appointments.Booker.link chat link failed",
		zap.String("patientId", patientID),
		zap.String("doctorId", doctorID),
		zap.Error(err),
	)
	return OutcomeFailed, nil
}

func (b *Booker) lookup(ctx context.Context, id string) (*model.Appointment, error) {
	snap, err := b.gw.Get(ctx, gateway.Appointments, id)
	if err != nil {
		return nil, fmt.Errorf("appointments: lookup %s: %w", id, err)
	}
	found := gateway.Decode[model.Appointment](snap, nil)
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}

func (b *Booker) observe(outcome string) {
	if b.metrics != nil {
		b.metrics.AppointmentBooked(outcome)
	}
}
