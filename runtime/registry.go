package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/samber/lo"
)

type Set map[domain.SessionID]struct{}

type RegistryConfig struct {
	DefaultRoom domain.RoomName
	// AnnounceJoin also sends a CONNECT into the room a session joins.
	// Off by default: a join only notifies the room that was left.
	AnnounceJoin bool
	BufferSize   int
}

var (
	_ contract.IRegistry = (*Registry)(nil)
	_ contract.Worker    = (*Registry)(nil)
)

// Registry is the single owner of room membership.
// Every operation is a command applied by Run, one at a time and in arrival order,
// so sessions, rooms, lastID and dropped are only ever touched from that goroutine.
type Registry struct {
	log          *slog.Logger
	commands     chan command
	stopped      chan struct{}
	stopOnce     sync.Once
	defaultRoom  domain.RoomName
	announceJoin bool

	sessions map[domain.SessionID]contract.Outbound
	rooms    map[domain.RoomName]Set
	lastID   domain.SessionID
	dropped  uint64
}

func NewRegistry(log *slog.Logger, config RegistryConfig) *Registry {
	if config.DefaultRoom == "" {
		config.DefaultRoom = domain.DefaultRoom
	}
	return &Registry{
		log:          log,
		commands:     make(chan command, max(config.BufferSize, 0)),
		stopped:      make(chan struct{}),
		defaultRoom:  config.DefaultRoom,
		announceJoin: config.AnnounceJoin,
		sessions:     make(map[domain.SessionID]contract.Outbound),
		rooms:        map[domain.RoomName]Set{config.DefaultRoom: {}},
	}
}

// Run drains the command queue until ctx is done.
// A panic inside a command unwinds Run but keeps the state, the supervisor restarts it.
func (r *Registry) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			r.stopOnce.Do(func() { close(r.stopped) })
			r.log.Debug("Stopping registry")
			return ctx.Err()
		case cmd := <-r.commands:
			cmd.apply(r)
		}
	}
}

// Connect registers the outbound handle, places the session in the default room
// and announces it there. The new session receives its own CONNECT, which is how
// a client learns its id.
func (r *Registry) Connect(ctx context.Context, out contract.Outbound) (domain.SessionID, error) {
	reply := make(chan domain.SessionID, 1)
	if err := r.enqueue(ctx, connectCommand{out: out, reply: reply}); err != nil {
		return domain.NoSession, err
	}
	id, err := await(ctx, r, reply)
	if err != nil {
		// The command may still be applied: release the id as soon as it shows up.
		go r.releaseLate(reply)
		return domain.NoSession, err
	}
	return id, nil
}

func (r *Registry) Disconnect(ctx context.Context, id domain.SessionID) error {
	return r.enqueue(ctx, disconnectCommand{id: id})
}

func (r *Registry) Join(ctx context.Context, id domain.SessionID, room domain.RoomName) error {
	return r.enqueue(ctx, joinCommand{id: id, room: room})
}

func (r *Registry) Broadcast(ctx context.Context, room domain.RoomName, payload domain.ChatPayload, exclude domain.SessionID) error {
	return r.enqueue(ctx, broadcastCommand{room: room, payload: payload, exclude: exclude})
}

func (r *Registry) ListRooms(ctx context.Context) ([]domain.RoomName, error) {
	reply := make(chan []domain.RoomName, 1)
	if err := r.enqueue(ctx, listRoomsCommand{reply: reply}); err != nil {
		return nil, err
	}
	return await(ctx, r, reply)
}

func (r *Registry) Members(ctx context.Context, room domain.RoomName) ([]domain.SessionID, error) {
	reply := make(chan []domain.SessionID, 1)
	if err := r.enqueue(ctx, membersCommand{room: room, reply: reply}); err != nil {
		return nil, err
	}
	return await(ctx, r, reply)
}

func (r *Registry) Stats(ctx context.Context) (contract.RegistryStats, error) {
	reply := make(chan contract.RegistryStats, 1)
	if err := r.enqueue(ctx, statsCommand{reply: reply}); err != nil {
		return contract.RegistryStats{}, err
	}
	return await(ctx, r, reply)
}

func (r *Registry) enqueue(ctx context.Context, cmd command) error {
	select {
	case <-r.stopped:
		return errors.ErrRegistryUnavailable
	default:
	}
	select {
	case r.commands <- cmd:
		return nil
	case <-r.stopped:
		return errors.ErrRegistryUnavailable
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", errors.ErrRegistryUnavailable, ctx.Err())
	}
}

func await[T any](ctx context.Context, r *Registry, reply chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-r.stopped:
		return zero, errors.ErrRegistryUnavailable
	case <-ctx.Done():
		return zero, fmt.Errorf("%w: %v", errors.ErrRegistryUnavailable, ctx.Err())
	}
}

func (r *Registry) releaseLate(reply <-chan domain.SessionID) {
	select {
	case id := <-reply:
		r.log.Debug("Releasing session abandoned during connect", "session_id", id)
		_ = r.enqueue(context.Background(), disconnectCommand{id: id})
	case <-r.stopped:
	}
}

func (r *Registry) connect(out contract.Outbound) domain.SessionID {
	id := r.nextID()
	r.sessions[id] = out
	r.members(r.defaultRoom)[id] = struct{}{}
	r.log.Debug("Session connected", "session_id", id, "room", r.defaultRoom)
	r.broadcast(r.defaultRoom, domain.NewConnectPayload(id, r.defaultRoom), domain.NoSession)
	return id
}

// nextID never hands out NoSession nor an id that is still live.
func (r *Registry) nextID() domain.SessionID {
	for {
		r.lastID++
		if r.lastID == domain.NoSession {
			continue
		}
		if _, live := r.sessions[r.lastID]; !live {
			return r.lastID
		}
	}
}

func (r *Registry) disconnect(id domain.SessionID) {
	if _, ok := r.sessions[id]; !ok {
		return
	}
	delete(r.sessions, id)
	for _, room := range r.leave(id) {
		r.broadcast(room, domain.NewDisconnectPayload(id, room), domain.NoSession)
	}
	r.log.Debug("Session disconnected", "session_id", id)
}

func (r *Registry) join(id domain.SessionID, room domain.RoomName) {
	if _, ok := r.sessions[id]; !ok {
		r.log.Debug("Join ignored for unknown session", "session_id", id, "room", room)
		return
	}
	if _, already := r.rooms[room][id]; already {
		return
	}
	for _, left := range r.leave(id) {
		r.broadcast(left, domain.NewDisconnectPayload(id, left), domain.NoSession)
	}
	r.members(room)[id] = struct{}{}
	r.log.Debug("Session joined room", "session_id", id, "room", room)
	if r.announceJoin {
		r.broadcast(room, domain.NewConnectPayload(id, room), id)
	}
}

// broadcast is best effort: a member whose handle refuses the payload is skipped.
func (r *Registry) broadcast(room domain.RoomName, payload domain.ChatPayload, exclude domain.SessionID) {
	for id := range r.rooms[room] {
		if id == exclude {
			continue
		}
		out, ok := r.sessions[id]
		if !ok {
			continue
		}
		if err := out.Deliver(payload); err != nil {
			r.dropped++
			r.log.Debug("Delivery dropped", "session_id", id, "room", room, "error", err)
		}
	}
}

func (r *Registry) leave(id domain.SessionID) []domain.RoomName {
	var left []domain.RoomName
	for name, members := range r.rooms {
		if _, ok := members[id]; ok {
			delete(members, id)
			left = append(left, name)
		}
	}
	return left
}

// members returns the set for room, creating the room on first use.
func (r *Registry) members(room domain.RoomName) Set {
	set, ok := r.rooms[room]
	if !ok {
		set = make(Set)
		r.rooms[room] = set
	}
	return set
}

type command interface {
	apply(r *Registry)
}

type connectCommand struct {
	out   contract.Outbound
	reply chan<- domain.SessionID
}

func (c connectCommand) apply(r *Registry) { c.reply <- r.connect(c.out) }

type disconnectCommand struct {
	id domain.SessionID
}

func (c disconnectCommand) apply(r *Registry) { r.disconnect(c.id) }

type joinCommand struct {
	id   domain.SessionID
	room domain.RoomName
}

func (c joinCommand) apply(r *Registry) { r.join(c.id, c.room) }

type broadcastCommand struct {
	room    domain.RoomName
	payload domain.ChatPayload
	exclude domain.SessionID
}

func (c broadcastCommand) apply(r *Registry) { r.broadcast(c.room, c.payload, c.exclude) }

type listRoomsCommand struct {
	reply chan<- []domain.RoomName
}

func (c listRoomsCommand) apply(r *Registry) { c.reply <- lo.Keys(r.rooms) }

type membersCommand struct {
	room  domain.RoomName
	reply chan<- []domain.SessionID
}

func (c membersCommand) apply(r *Registry) { c.reply <- lo.Keys(r.rooms[c.room]) }

type statsCommand struct {
	reply chan<- contract.RegistryStats
}

func (c statsCommand) apply(r *Registry) {
	c.reply <- contract.RegistryStats{
		Sessions:          len(r.sessions),
		Rooms:             len(r.rooms),
		DroppedDeliveries: r.dropped,
	}
}
