package web

import (
	"chat-relay/domain"
	"chat-relay/runtime"
	"context"
	"net/http"

	"github.com/coder/websocket"
)

// serveWS upgrades the request and runs one session until the client leaves.
// ?room= picks the room to join instead of the default one, ?user_id= names the user.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns,
	})
	if err != nil {
		s.log.Debug("Websocket upgrade failed", "origin", r.Header.Get("Origin"), "error", err)
		return
	}

	opts := []runtime.SessionOption{runtime.WithMonitor(s.monitor)}
	if room := r.URL.Query().Get("room"); room != "" {
		opts = append(opts, runtime.WithRoom(domain.RoomName(room)))
	}
	if userID := r.URL.Query().Get("user_id"); userID != "" {
		opts = append(opts, runtime.WithUser(s.service, userID))
	}
	if s.censor != nil {
		opts = append(opts, runtime.WithCensor(s.censor))
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(s.baseCtx, cancel)
	defer stop()

	s.sessions.Add(1)
	defer s.sessions.Done()

	session := runtime.NewSession(s.log, conn, s.registry, s.submitter, s.sessionConfig, opts...)
	if err := session.Serve(ctx); err != nil {
		s.log.Warn("Session ended before becoming active", "remote", r.RemoteAddr, "error", err)
	}
}
