// Package bridge exposes the gRPC service to browsers: JSON over plain
// HTTP, gRPC-Web frames carrying JSON, and watch streams over websockets.
package bridge

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"doctor-booking-api/internal/middleware"
	"doctor-booking-api/internal/rpc"
)

// maxBody caps request bodies; registration carries an avatar.
const maxBody = 8 << 20

// Bridge relays HTTP requests to the gRPC service over conn.
type Bridge struct {
	conn     grpc.ClientConnInterface
	log      *zap.Logger
	upgrader websocket.Upgrader
}

func New(conn grpc.ClientConnInterface, log *zap.Logger) *Bridge {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bridge{
		conn: conn,
		log:  log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// watches authenticate with a bearer token, never cookies
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Routes builds the HTTP surface. metrics may be nil.
func (b *Bridge) Routes(origins []string, metrics http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Grpc-Web", "X-User-Agent"},
		ExposedHeaders: []string{"Grpc-Status", "Grpc-Message"},
		MaxAge:         86400,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if metrics != nil {
		r.Handle("/metrics", metrics)
	}
	r.Post("/rpc/{method}", b.handleJSON)
	r.Post("/"+rpc.ServiceName+"/{method}", b.handleGRPCWeb)
	r.Get("/watch/{method}", b.handleWatch)
	return r
}

// outgoing copies the caller's credentials and address into gRPC metadata.
// The address is always the TCP peer, never a client-supplied header.
// Browsers cannot set headers on a websocket upgrade, so ?token= is
// accepted as well.
func outgoing(r *http.Request) context.Context {
	md := metadata.MD{}
	if v := r.Header.Get("Authorization"); v != "" {
		md.Set("authorization", v)
	} else if tok := r.URL.Query().Get("token"); tok != "" {
		md.Set("authorization", "Bearer "+tok)
	}
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	md.Set(middleware.ForwardedForKey, host)
	return metadata.NewOutgoingContext(r.Context(), md)
}

func (b *Bridge) invoke(ctx context.Context, method string, payload []byte) ([]byte, error) {
	if !rpc.HasMethod(method) {
		return nil, status.Errorf(codes.Unimplemented, "unknown method %s", method)
	}
	resp := &rpc.Raw{}
	err := b.conn.Invoke(ctx, rpc.FullMethod(method), &rpc.Raw{Data: payload}, resp,
		grpc.CallContentSubtype(rpc.CodecName))
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// handleJSON serves POST /rpc/{method}: the body is the request message,
// the response body is the reply or {"code","message"}.
func (b *Bridge) handleJSON(w http.ResponseWriter, r *http.Request) {
	method := chi.URLParam(r, "method")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeStatus(w, status.New(codes.InvalidArgument, "read body failed"))
		return
	}
	if len(body) == 0 {
		body = []byte("{}")
	}

	out, err := b.invoke(outgoing(r), method, body)
	if err != nil {
		st := status.Convert(err)
		b.log.Debug("bridge rpc failed", zap.String("method", method), zap.String("code", st.Code().String()))
		writeStatus(w, st)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

// handleGRPCWeb serves unary gRPC-Web calls whose single frame holds a
// JSON message.
func (b *Bridge) handleGRPCWeb(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/grpc-web") {
		http.Error(w, "not grpc-web", http.StatusUnsupportedMediaType)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeFrameError(w, codes.Internal, "read body failed")
		return
	}
	payload, err := unframe(body)
	if err != nil {
		writeFrameError(w, codes.InvalidArgument, err.Error())
		return
	}

	out, err := b.invoke(outgoing(r), chi.URLParam(r, "method"), payload)
	if err != nil {
		st := status.Convert(err)
		writeFrameError(w, st.Code(), st.Message())
		return
	}
	writeFrameSuccess(w, out)
}

// handleWatch relays a server stream over a websocket, one text message
// per snapshot. The first snapshot is awaited before upgrading so that
// auth and argument errors come back as plain HTTP errors.
func (b *Bridge) handleWatch(w http.ResponseWriter, r *http.Request) {
	method := chi.URLParam(r, "method")
	if !rpc.IsStream(method) {
		writeStatus(w, status.Newf(codes.Unimplemented, "unknown stream %s", method))
		return
	}

	ctx, cancel := context.WithCancel(outgoing(r))
	defer cancel()

	desc := &grpc.StreamDesc{StreamName: method, ServerStreams: true}
	st, err := b.conn.NewStream(ctx, desc, rpc.FullMethod(method), grpc.CallContentSubtype(rpc.CodecName))
	if err != nil {
		writeStatus(w, status.Convert(err))
		return
	}
	if err := st.SendMsg(&rpc.Raw{Data: []byte("{}")}); err != nil {
		writeStatus(w, status.Convert(err))
		return
	}
	if err := st.CloseSend(); err != nil {
		writeStatus(w, status.Convert(err))
		return
	}
	msg := &rpc.Raw{}
	if err := st.RecvMsg(msg); err != nil {
		writeStatus(w, status.Convert(err))
		return
	}

	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn("bridge websocket upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()

	// the client never sends; reading only notices when it leaves
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	b.log.Debug("bridge watch opened", zap.String("method", method))
	for {
		_ = ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := ws.WriteMessage(websocket.TextMessage, msg.Data); err != nil {
			return
		}
		msg = &rpc.Raw{}
		if err := st.RecvMsg(msg); err != nil {
			if ctx.Err() == nil {
				reason := status.Convert(err).Message()
				if len(reason) > 120 {
					reason = reason[:120]
				}
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseInternalServerErr, reason),
					time.Now().Add(time.Second))
			}
			return
		}
	}
}

// ----- gRPC-Web framing -----

const (
	frameData    byte = 0x00
	frameTrailer byte = 0x80
)

// unframe extracts the message of a single data frame:
// 1-byte flag + 4-byte big-endian length + payload.
func unframe(body []byte) ([]byte, error) {
	if len(body) < 5 {
		return nil, fmt.Errorf("body too short")
	}
	if body[0] != frameData {
		return nil, fmt.Errorf("unexpected frame flag %#x", body[0])
	}
	n := binary.BigEndian.Uint32(body[1:5])
	if int(n)+5 > len(body) {
		return nil, fmt.Errorf("incomplete frame")
	}
	return body[5 : 5+n], nil
}

func frame(flag byte, data []byte) []byte {
	f := make([]byte, 5+len(data))
	f[0] = flag
	binary.BigEndian.PutUint32(f[1:5], uint32(len(data)))
	copy(f[5:], data)
	return f
}

func writeFrameError(w http.ResponseWriter, code codes.Code, msg string) {
	w.Header().Set("Content-Type", "application/grpc-web+json")
	w.WriteHeader(http.StatusOK)
	trailer := fmt.Sprintf("grpc-status:%d\r\ngrpc-message:%s\r\n", code, encodeMessage(msg))
	_, _ = w.Write(frame(frameTrailer, []byte(trailer)))
}

// encodeMessage percent-encodes a grpc-message value: bytes outside
// printable ASCII, and '%' itself, become %XX.
func encodeMessage(msg string) string {
	var b strings.Builder
	for i := 0; i < len(msg); i++ {
		c := msg[i]
		if c >= ' ' && c <= '~' && c != '%' {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

func writeFrameSuccess(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "application/grpc-web+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(frame(frameData, data))
	_, _ = w.Write(frame(frameTrailer, []byte("grpc-status:0\r\n")))
}

// ----- JSON errors -----

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeStatus(w http.ResponseWriter, st *status.Status) {
	writeJSON(w, httpStatus(st.Code()), errorBody{Code: st.Code().String(), Message: st.Message()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func httpStatus(c codes.Code) int {
	switch c {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists, codes.Aborted:
		return http.StatusConflict
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Canceled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}
