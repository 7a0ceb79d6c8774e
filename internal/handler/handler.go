package handler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"doctor-booking-api/internal/appointments"
	"doctor-booking-api/internal/chat"
	"doctor-booking-api/internal/directory"
	"doctor-booking-api/internal/gateway"
	"doctor-booking-api/internal/model"
	"doctor-booking-api/internal/rpc"
	"doctor-booking-api/internal/store"
)

// Accounts is the credential store, *store.Store in production.
type Accounts interface {
	CreateAccount(ctx context.Context, a *model.Account) error
	DeleteAccount(ctx context.Context, id string) error
	AccountByEmail(ctx context.Context, email string) (*model.Account, error)
	AccountByID(ctx context.Context, id string) (*model.Account, error)
	CreateRefreshToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) (string, error)
	GetRefreshTokenByHash(ctx context.Context, tokenHash string) (*store.RefreshToken, error)
	RotateRefreshToken(ctx context.Context, oldID, userID, newHash string, newExpiry time.Time) (string, error)
	RevokeAllRefreshTokens(ctx context.Context, userID string) error
}

// ChatUsers manages users on the chat platform, *chat.Client in production.
type ChatUsers interface {
	CreateUser(ctx context.Context, u chat.User) error
	CreateAuthToken(ctx context.Context, uid string) (string, error)
}

type Avatars interface {
	Upload(ctx context.Context, userID, filename string, data []byte) (string, error)
}

// WatchMetrics observes watch streams, *metrics.Metrics in production.
type WatchMetrics interface {
	WatchStarted(stream string) func()
	SnapshotSent(stream string)
}

type Deps struct {
	Accounts  Accounts
	Gateway   gateway.Gateway
	Directory *directory.Directory
	Sync      *appointments.Sync
	Booker    *appointments.Booker

	// optional
	Chat    ChatUsers
	Avatars Avatars
	Metrics WatchMetrics
	Secret  string
	Log     *zap.Logger
}

var _ rpc.BookingServiceServer = (*Handler)(nil)

type Handler struct {
	accounts  Accounts
	gw        gateway.Gateway
	directory *directory.Directory
	sync      *appointments.Sync
	booker    *appointments.Booker
	chat      ChatUsers
	avatars   Avatars
	metrics   WatchMetrics
	secret    string
	log       *zap.Logger
}

func New(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		accounts:  d.Accounts,
		gw:        d.Gateway,
		directory: d.Directory,
		sync:      d.Sync,
		booker:    d.Booker,
		chat:      d.Chat,
		avatars:   d.Avatars,
		metrics:   d.Metrics,
		secret:    d.Secret,
		log:       log,
	}
}
