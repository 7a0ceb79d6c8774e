// Command client is a terminal front end for the booking service. The
// signed-in session survives between runs in the user config directory.
//
// Usage:
//
//	client [-addr host:port] <command> [flags]
//
// Commands: register, login, logout, whoami, doctors, doctor, appointments, book.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"doctor-booking-api/internal/rpc"
	"doctor-booking-api/internal/session"
)

type app struct {
	client  *rpc.Client
	session *session.Manager
}

func main() {
	addr := flag.String("addr", envOr("BOOKING_ADDR", "localhost:50051"), "gRPC server address")
	dir := flag.String("session-dir", "", "where the session is kept (default: user config dir)")
	redisAddr := flag.String("session-redis", os.Getenv("SESSION_REDIS_ADDR"), "keep the session in Redis at this address instead of on disk")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	kv, err := openSession(*dir, *redisAddr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	if err := run(*addr, kv, flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", describe(err))
		os.Exit(1)
	}
}

// openSession picks the session backend: Redis when an address is given,
// otherwise files under dir.
func openSession(dir, redisAddr string) (session.KV, error) {
	if redisAddr != "" {
		return session.NewRedisKV(redis.NewClient(&redis.Options{Addr: redisAddr}), "booking:session:"), nil
	}
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(base, "doctor-booking")
	}
	kv, err := session.NewFileKV(dir)
	if err != nil {
		return nil, err
	}
	return kv, nil
}

func run(addr string, kv session.KV, cmd string, args []string) error {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	a := &app{client: rpc.NewClient(conn), session: session.NewManager(session.NewStore(kv))}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "register":
		return a.register(ctx, args)
	case "login":
		return a.login(ctx, args)
	case "logout":
		return a.logout(ctx)
	case "whoami":
		return a.whoami(ctx)
	case "doctors":
		return a.doctors(ctx, args)
	case "doctor":
		return a.doctor(ctx, args)
	case "appointments":
		return a.appointments(ctx, args)
	case "book":
		return a.book(ctx, args)
	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: client [-addr host:port] <command> [flags]

commands:
  register -name N -email E -role Patient|Doctor -password P -bio B [-avatar file]
  login -email E -password P
  logout
  whoami
  doctors [-watch]
  doctor -id ID
  appointments [-watch]
  book -doctor ID [-key K]
`)
	flag.PrintDefaults()
}

// describe prefers the server's message over the gRPC wrapping.
func describe(err error) string {
	if st, ok := status.FromError(err); ok {
		return st.Message()
	}
	return err.Error()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

var errNotSignedIn = errors.New("not signed in, run: client login")

// authed returns ctx carrying the stored access token.
func (a *app) authed(ctx context.Context) (context.Context, error) {
	t, err := a.session.Store().LoadTokens(ctx)
	if err != nil {
		return nil, err
	}
	if t == nil || t.AccessToken == "" {
		return nil, errNotSignedIn
	}
	return rpc.WithToken(ctx, t.AccessToken), nil
}

// call runs fn with the access token, refreshing it once if the server
// rejects it as expired.
func (a *app) call(ctx context.Context, fn func(ctx context.Context) error) error {
	actx, err := a.authed(ctx)
	if err != nil {
		return err
	}
	err = fn(actx)
	if status.Code(err) != codes.Unauthenticated {
		return err
	}
	if rerr := a.refresh(ctx); rerr != nil {
		return err
	}
	if actx, err = a.authed(ctx); err != nil {
		return err
	}
	return fn(actx)
}

func (a *app) refresh(ctx context.Context) error {
	t, err := a.session.Store().LoadTokens(ctx)
	if err != nil || t == nil || t.RefreshToken == "" {
		return errNotSignedIn
	}
	resp, err := a.client.Refresh(ctx, &rpc.RefreshRequest{RefreshToken: t.RefreshToken})
	if err != nil {
		// the refresh token is dead too; start over
		_ = a.session.Logout(ctx)
		return err
	}
	return a.session.Login(ctx, resp.Profile, session.Tokens{
		AccessToken:   resp.AccessToken,
		RefreshToken:  resp.RefreshToken,
		ChatAuthToken: t.ChatAuthToken,
	})
}

func (a *app) signIn(ctx context.Context, resp *rpc.AuthResponse) error {
	if err := a.session.Login(ctx, resp.Profile, session.Tokens{
		AccessToken:   resp.AccessToken,
		RefreshToken:  resp.RefreshToken,
		ChatAuthToken: resp.ChatAuthToken,
	}); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	for _, w := range resp.Warnings {
		fmt.Fprintln(os.Stderr, "warning:", w)
	}
	fmt.Printf("signed in as %s (%s)\n", resp.Profile.Fullname, resp.Profile.Role)
	return nil
}
