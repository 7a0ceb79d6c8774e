package handler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"doctor-booking-api/internal/auth"
	"doctor-booking-api/internal/chat"
	"doctor-booking-api/internal/directory"
	"doctor-booking-api/internal/gateway"
	"doctor-booking-api/internal/middleware"
	"doctor-booking-api/internal/model"
	"doctor-booking-api/internal/rpc"
	"doctor-booking-api/internal/store"
)

func (h *Handler) Register(ctx context.Context, req *rpc.RegisterRequest) (*rpc.AuthResponse, error) {
	if err := rpc.Validate(req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, status.Error(codes.Internal, "internal error")
	}

	acct := &model.Account{
		ID:           uuid.New().String(),
		Email:        req.Email,
		PasswordHash: hash,
		Role:         model.Role(req.Role),
	}
	if err := h.accounts.CreateAccount(ctx, acct); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return nil, status.Error(codes.AlreadyExists, "Fail to create your account, your account might be existed")
		}
		h.log.Error("handler.Register create account failed", zap.Error(err))
		return nil, status.Error(codes.Internal, "internal error")
	}

	profile := model.UserProfile{
		ID:       acct.ID,
		Fullname: req.Fullname,
		Email:    req.Email,
		Role:     acct.Role,
		Bio:      req.Bio,
	}
	if err := h.gw.Set(ctx, gateway.Users, profile.ID, profile); err != nil {
		h.log.Error("handler.Register write profile failed", zap.String("uid", profile.ID), zap.Error(err))
		// without a profile the account can neither log in nor register again
		if derr := h.accounts.DeleteAccount(context.WithoutCancel(ctx), acct.ID); derr != nil {
			h.log.Error("handler.Register remove orphan account failed", zap.String("uid", acct.ID), zap.Error(derr))
		}
		return nil, status.Error(codes.Internal, "internal error")
	}

	var warnings []string
	if len(req.Avatar) > 0 && h.avatars != nil {
		if w := h.attachAvatar(ctx, &profile, req.AvatarFilename, req.Avatar); w != "" {
			warnings = append(warnings, w)
		}
	}

	if h.chat != nil {
		err := h.chat.CreateUser(ctx, chat.User{UID: profile.ID, Name: profile.Fullname, Avatar: profile.Avatar})
		if err != nil {
			h.log.Warn("handler.Register chat user failed", zap.String("uid", profile.ID), zap.Error(err))
			warnings = append(warnings, "Fail to create your CometChat user, please try again")
		}
	}

	resp, err := h.issue(ctx, profile)
	if err != nil {
		return nil, err
	}
	resp.Warnings = warnings
	h.log.Info("handler.Register created", zap.String("uid", profile.ID), zap.String("role", string(profile.Role)))
	return resp, nil
}

// attachAvatar uploads the image and patches the stored profile with its
// URL. It returns a warning for the caller instead of failing.
func (h *Handler) attachAvatar(ctx context.Context, p *model.UserProfile, filename string, data []byte) string {
	url, err := h.avatars.Upload(ctx, p.ID, filename, data)
	if err != nil {
		h.log.Warn("handler.Register avatar upload failed", zap.String("uid", p.ID), zap.Error(err))
		return "Fail to upload your avatar"
	}
	withAvatar := *p
	withAvatar.Avatar = url
	if err := h.gw.Set(ctx, gateway.Users, p.ID, withAvatar); err != nil {
		h.log.Warn("handler.Register avatar patch failed", zap.String("uid", p.ID), zap.Error(err))
		return "Fail to upload your avatar"
	}
	*p = withAvatar
	return ""
}

func (h *Handler) Login(ctx context.Context, req *rpc.LoginRequest) (*rpc.AuthResponse, error) {
	if err := rpc.Validate(req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	acct, err := h.accounts.AccountByEmail(ctx, req.Email)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "invalid credentials")
	}
	if !auth.CheckPassword(acct.PasswordHash, req.Password) {
		return nil, status.Error(codes.Unauthenticated, "invalid credentials")
	}

	profile, err := h.directory.Profile(ctx, acct.ID)
	if err != nil {
		h.log.Error("handler.Login load profile failed", zap.String("uid", acct.ID), zap.Error(err))
		return nil, status.Error(codes.Internal, "Cannot load the authenticated information, please try again")
	}

	resp, err := h.issue(ctx, *profile)
	if err != nil {
		return nil, err
	}
	resp.ChatAuthToken = h.chatToken(ctx, acct.ID)
	return resp, nil
}

func (h *Handler) Refresh(ctx context.Context, req *rpc.RefreshRequest) (*rpc.AuthResponse, error) {
	if err := rpc.Validate(req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	rt, err := h.accounts.GetRefreshTokenByHash(ctx, auth.HashRefreshToken(req.RefreshToken))
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "invalid refresh token")
	}
	if rt.Revoked {
		// a rotated token came back: assume theft, end every session
		if err := h.accounts.RevokeAllRefreshTokens(ctx, rt.UserID); err != nil {
			h.log.Error("handler.Refresh revoke all failed", zap.String("uid", rt.UserID), zap.Error(err))
		}
		return nil, status.Error(codes.Unauthenticated, "invalid refresh token")
	}
	if !rt.Usable(time.Now()) {
		return nil, status.Error(codes.Unauthenticated, "invalid refresh token")
	}

	acct, err := h.accounts.AccountByID(ctx, rt.UserID)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "invalid refresh token")
	}
	profile, err := h.directory.Profile(ctx, acct.ID)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "invalid refresh token")
	}

	raw, hash, err := auth.GenerateRefreshToken()
	if err != nil {
		return nil, status.Error(codes.Internal, "internal error")
	}
	if _, err := h.accounts.RotateRefreshToken(ctx, rt.ID, rt.UserID, hash, time.Now().Add(auth.RefreshTokenTTL)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, status.Error(codes.Unauthenticated, "invalid refresh token")
		}
		return nil, status.Error(codes.Internal, "internal error")
	}

	// the account row, not the public profile, is authoritative for the role
	access, err := auth.MakeToken(acct.ID, acct.Role, h.secret)
	if err != nil {
		return nil, status.Error(codes.Internal, "internal error")
	}
	return &rpc.AuthResponse{AccessToken: access, RefreshToken: raw, Profile: *profile}, nil
}

func (h *Handler) Logout(ctx context.Context, _ *rpc.Empty) (*rpc.Empty, error) {
	uid := middleware.UserID(ctx)
	if err := h.accounts.RevokeAllRefreshTokens(ctx, uid); err != nil {
		h.log.Error("handler.Logout revoke failed", zap.String("uid", uid), zap.Error(err))
		return nil, status.Error(codes.Internal, "internal error")
	}
	return &rpc.Empty{}, nil
}

func (h *Handler) GetProfile(ctx context.Context, _ *rpc.Empty) (*rpc.ProfileResponse, error) {
	p, err := h.directory.Profile(ctx, middleware.UserID(ctx))
	if errors.Is(err, directory.ErrNotFound) {
		return nil, status.Error(codes.NotFound, "profile not found")
	}
	if err != nil {
		return nil, status.Error(codes.Internal, "internal error")
	}
	return &rpc.ProfileResponse{Profile: *p}, nil
}

// issue mints an access token and a stored refresh token for p.
func (h *Handler) issue(ctx context.Context, p model.UserProfile) (*rpc.AuthResponse, error) {
	access, err := auth.MakeToken(p.ID, p.Role, h.secret)
	if err != nil {
		return nil, status.Error(codes.Internal, "internal error")
	}
	raw, hash, err := auth.GenerateRefreshToken()
	if err != nil {
		return nil, status.Error(codes.Internal, "internal error")
	}
	if _, err := h.accounts.CreateRefreshToken(ctx, p.ID, hash, time.Now().Add(auth.RefreshTokenTTL)); err != nil {
		h.log.Error("handler.issue store refresh token failed", zap.String("uid", p.ID), zap.Error(err))
		return nil, status.Error(codes.Internal, "internal error")
	}
	return &rpc.AuthResponse{AccessToken: access, RefreshToken: raw, Profile: p}, nil
}

func (h *Handler) chatToken(ctx context.Context, uid string) string {
	if h.chat == nil {
		return ""
	}
	tok, err := h.chat.CreateAuthToken(ctx, uid)
	if err != nil {
		h.log.Warn("handler chat auth token failed", zap.String("uid", uid), zap.Error(err))
		return ""
	}
	return tok
}
