package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/observability"
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/samber/lo"
	"golang.org/x/time/rate"
)

const maxLoggedFrame = 256

type SessionConfig struct {
	DefaultRoom       domain.RoomName
	HeartbeatInterval time.Duration
	ClientTimeout     time.Duration
	WriteTimeout      time.Duration
	ConnectTimeout    time.Duration
	LookupTimeout     time.Duration
	OutboundBuffer    int
	// RateLimit is the number of inbound frames allowed per second, zero disables it.
	RateLimit float64
	RateBurst int
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		DefaultRoom:       domain.DefaultRoom,
		HeartbeatInterval: 5 * time.Second,
		ClientTimeout:     10 * time.Second,
		WriteTimeout:      5 * time.Second,
		ConnectTimeout:    5 * time.Second,
		LookupTimeout:     2 * time.Second,
		OutboundBuffer:    256,
	}
}

func (c SessionConfig) withDefaults() SessionConfig {
	d := DefaultSessionConfig()
	if c.DefaultRoom == "" {
		c.DefaultRoom = d.DefaultRoom
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.ClientTimeout <= 0 {
		c.ClientTimeout = d.ClientTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.LookupTimeout <= 0 {
		c.LookupTimeout = d.LookupTimeout
	}
	return c
}

type SessionOption func(*Session)

// WithRoom makes the session join room right after connecting.
func WithRoom(room domain.RoomName) SessionOption {
	return func(s *Session) { s.requestedRoom = room }
}

// WithUser resolves the display name of userID through the gateway.
func WithUser(gateway contract.IPersistenceGateway, userID string) SessionOption {
	return func(s *Session) {
		s.gateway = gateway
		s.userID = userID
	}
}

func WithCensor(censor contract.Censor) SessionOption {
	return func(s *Session) { s.censor = censor }
}

func WithMonitor(monitor *observability.Monitor) SessionOption {
	return func(s *Session) { s.monitor = monitor }
}

var _ contract.Outbound = (*Session)(nil)

// Session owns one websocket: it registers with the registry, relays inbound
// TYPING and TEXT frames, writes broadcasts back and watches liveness.
type Session struct {
	log       *slog.Logger
	config    SessionConfig
	conn      contract.Conn
	registry  contract.IRegistry
	submitter contract.ConversationSubmitter
	gateway   contract.IPersistenceGateway
	censor    contract.Censor
	monitor   *observability.Monitor
	limiter   *rate.Limiter

	requestedRoom domain.RoomName
	userID        string

	id       domain.SessionID
	state    atomic.Int32
	lastSeen atomic.Int64
	mu       sync.RWMutex
	room     domain.RoomName
	name     string

	outbound  chan domain.ChatPayload
	done      chan struct{}
	closeOnce sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func NewSession(
	log *slog.Logger,
	conn contract.Conn,
	registry contract.IRegistry,
	submitter contract.ConversationSubmitter,
	config SessionConfig,
	opts ...SessionOption,
) *Session {
	config = config.withDefaults()
	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}
	s := &Session{
		log:       log,
		config:    config,
		conn:      conn,
		registry:  registry,
		submitter: submitter,
		limiter:   rate.NewLimiter(limit, max(config.RateBurst, 1)),
		room:      config.DefaultRoom,
		outbound:  make(chan domain.ChatPayload, max(config.OutboundBuffer, 1)),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.state.Store(int32(domain.Connecting))
	s.touch()
	return s
}

func (s *Session) ID() domain.SessionID { return s.id }

func (s *Session) State() domain.SessionState { return domain.SessionState(s.state.Load()) }

func (s *Session) LastSeen() time.Time { return time.Unix(0, s.lastSeen.Load()) }

func (s *Session) Room() domain.RoomName {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.room
}

func (s *Session) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

// Deliver queues a payload for the write loop. It never blocks: a full buffer
// drops the payload and the registry moves on to the next member.
func (s *Session) Deliver(payload domain.ChatPayload) error {
	select {
	case <-s.done:
		return errors.ErrSessionClosed
	default:
	}
	select {
	case s.outbound <- payload:
		return nil
	default:
		return errors.ErrOutboundFull
	}
}

// Serve runs the session until the connection ends. It returns an error only
// when the registry could not be reached, in which case the session never
// became active.
func (s *Session) Serve(ctx context.Context) error {
	connectCtx, cancelConnect := context.WithTimeout(ctx, s.config.ConnectTimeout)
	id, err := s.registry.Connect(connectCtx, s)
	cancelConnect()
	if err != nil {
		s.closeOnce.Do(func() {
			close(s.done)
			s.state.Store(int32(domain.Closed))
			_ = s.conn.Close(websocket.StatusTryAgainLater, "registry unavailable")
		})
		s.log.Warn("Session rejected, registry unavailable", "error", err)
		return err
	}

	s.id = id
	s.log = s.log.With("session_id", id)
	ctx, s.cancel = context.WithCancel(ctx)
	s.touch()
	s.state.Store(int32(domain.Active))
	s.monitor.SessionOpened()
	s.log.Info("Session active", "room", s.Room())

	s.joinRequestedRoom(ctx)
	s.resolveName(ctx)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.writeLoop(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.heartbeat(ctx)
	}()

	code, reason := s.readLoop(ctx)
	s.close(code, reason)
	s.wg.Wait()
	return nil
}

func (s *Session) joinRequestedRoom(ctx context.Context) {
	room := s.requestedRoom
	if room == "" || room == s.Room() {
		return
	}
	if err := s.registry.Join(ctx, s.id, room); err != nil {
		s.log.Warn("Failed to join room", "room", room, "error", err)
		return
	}
	s.mu.Lock()
	s.room = room
	s.mu.Unlock()
}

// resolveName looks up the display name once. A missing user is not an error.
func (s *Session) resolveName(ctx context.Context) {
	if s.gateway == nil || s.userID == "" {
		return
	}
	lookupCtx, cancel := context.WithTimeout(ctx, s.config.LookupTimeout)
	defer cancel()
	user, err := s.gateway.FindUser(lookupCtx, s.userID)
	switch {
	case err == nil:
		s.mu.Lock()
		s.name = user.Nickname
		s.mu.Unlock()
		s.log = s.log.With("nickname", user.Nickname)
	case stderrors.Is(err, errors.ErrUserNotFound):
		s.log.Debug("Unknown user on session", "user_id", s.userID)
	default:
		s.log.Warn("User lookup failed", "user_id", s.userID, "error", err)
	}
}

func (s *Session) readLoop(ctx context.Context) (websocket.StatusCode, string) {
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return websocket.StatusNormalClosure, "session closed"
			}
			if status := websocket.CloseStatus(err); status != -1 {
				s.log.Debug("Client closed connection", "status", status)
				return websocket.StatusNormalClosure, ""
			}
			s.log.Debug("Read failed", "error", err)
			return websocket.StatusProtocolError, "read failed"
		}
		s.touch()
		s.monitor.FrameReceived()

		if typ != websocket.MessageText {
			s.log.Debug("Unsupported binary frame ignored", "size", len(data))
			continue
		}
		if !s.limiter.Allow() {
			s.monitor.RateLimited()
			s.log.Warn("Rate limit exceeded, frame dropped")
			continue
		}
		payload, err := domain.ParsePayload(data)
		if err != nil {
			s.monitor.MalformedFrame()
			s.log.Warn("Failed to parse message", "error", err, "frame", truncate(data))
			continue
		}
		s.handle(ctx, payload)
	}
}

func (s *Session) handle(ctx context.Context, payload domain.ChatPayload) {
	switch payload.Type {
	case domain.Typing:
		s.forward(ctx, payload)
	case domain.Text:
		if s.censor != nil {
			payload.Values = lo.Map(payload.Values, func(v string, _ int) string {
				return s.censor.Censor(v)
			})
		}
		s.forward(ctx, payload)
		if !s.submitter.Submit(domain.NewConversationFromPayload(payload)) {
			s.log.Debug("Conversation not queued for persistence", "room", payload.RoomID)
		}
	default:
		s.log.Debug("Ignoring client message", "chat_type", payload.Type)
	}
}

// forward stamps the payload with this session and broadcasts it to the
// current room, skipping the sender.
func (s *Session) forward(ctx context.Context, payload domain.ChatPayload) {
	payload.ID = s.id
	if err := s.registry.Broadcast(ctx, s.Room(), payload, s.id); err != nil {
		s.log.Warn("Broadcast failed", "chat_type", payload.Type, "error", err)
	}
}

func (s *Session) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-s.outbound:
			data, err := payload.Encode()
			if err != nil {
				s.log.Error("Failed to encode payload", "chat_type", payload.Type, "error", err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, s.config.WriteTimeout)
			err = s.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				s.log.Debug("Write failed", "error", err)
				s.close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

// heartbeat pings the client every interval and closes the session once
// nothing was heard for longer than the client timeout.
func (s *Session) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if idle := time.Since(s.LastSeen()); idle > s.config.ClientTimeout {
				s.monitor.HeartbeatTimeout()
				s.log.Info("Heartbeat timeout, closing session", "idle", idle)
				s.close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
			pingCtx, cancel := context.WithTimeout(ctx, s.config.HeartbeatInterval)
			err := s.conn.Ping(pingCtx)
			cancel()
			if err == nil {
				s.touch()
			} else if ctx.Err() == nil {
				s.log.Debug("Ping unanswered", "error", err)
			}
		}
	}
}

// close runs once whatever triggered it: read loop end, write failure or timeout.
func (s *Session) close(code websocket.StatusCode, reason string) {
	s.closeOnce.Do(func() {
		s.state.Store(int32(domain.Closing))
		close(s.done)

		ctx, cancel := context.WithTimeout(context.Background(), s.config.WriteTimeout)
		if err := s.registry.Disconnect(ctx, s.id); err != nil {
			s.log.Warn("Failed to unregister session", "error", err)
		}
		cancel()

		if s.cancel != nil {
			s.cancel()
		}
		_ = s.conn.Close(code, reason)
		s.state.Store(int32(domain.Closed))
		s.monitor.SessionClosed()
		s.log.Info("Session closed", "reason", reason)
	})
}

func (s *Session) touch() {
	s.lastSeen.Store(time.Now().UnixNano())
}

func truncate(data []byte) string {
	if len(data) > maxLoggedFrame {
		return string(data[:maxLoggedFrame]) + "..."
	}
	return string(data)
}
