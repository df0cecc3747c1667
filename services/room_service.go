package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"quizroom/models"
	"quizroom/store"
)

// Broadcaster delivers events to room subscribers or to one connection.
// Delivery is best effort.
type Broadcaster interface {
	Subscribe(connID, roomCode string)
	Publish(roomCode, eventType string, payload any)
	PublishToCaller(connID, eventType string, payload any)
	CloseRoom(roomCode string)
}

type GameOptions struct {
	// AutoReveal reveals the answer once the time limit plus RevealGrace has
	// passed and the host has not done so.
	AutoReveal  bool
	RevealGrace time.Duration
}

// RoomService is the room coordinator. Every guarded transition runs inside
// store.Update; events go out after the commit.
type RoomService struct {
	store     store.Store
	questions store.QuestionSource
	drawer    *QuestionDrawer
	hub       Broadcaster
	cache     SnapshotCache
	opts      GameOptions
	logger    *slog.Logger

	newCode   func() (string, error)
	now       func() time.Time
	afterFunc func(d time.Duration, f func())
	pick      func(n int) []int
}

func NewRoomService(st store.Store, questions store.QuestionSource, hub Broadcaster, cache SnapshotCache, opts GameOptions, logger *slog.Logger) *RoomService {
	if cache == nil {
		cache = NoopSnapshotCache{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RoomService{
		store:     st,
		questions: questions,
		drawer:    NewQuestionDrawer(questions),
		hub:       hub,
		cache:     cache,
		opts:      opts,
		logger:    logger,
		newCode:   NewRoomCode,
		now:       time.Now,
		afterFunc: func(d time.Duration, f func()) { time.AfterFunc(d, f) },
		pick:      randPerm,
	}
}

// roomState is the committed view of a room after a mutation.
type roomState struct {
	room    models.Room
	players []models.Player
}

func (st *roomState) player(id uint) *models.Player {
	for i := range st.players {
		if st.players[i].ID == id {
			return &st.players[i]
		}
	}
	return nil
}

// mutate runs fn under the room's exclusivity and returns the state it
// committed.
func (s *RoomService) mutate(ctx context.Context, roomID uint, fn func(tx store.Tx) error) (*roomState, error) {
	var st roomState
	err := s.store.Update(ctx, roomID, func(tx store.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		st.room = *tx.Room()
		st.players = st.players[:0]
		for _, p := range tx.Players() {
			st.players = append(st.players, *p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Update bumps the version once per commit.
	st.room.Version++
	s.refreshSnapshot(ctx, &st)
	return &st, nil
}

func (s *RoomService) refreshSnapshot(ctx context.Context, st *roomState) {
	if err := s.cache.Put(ctx, newSnapshot(&st.room, st.players)); err != nil {
		s.logger.Warn("snapshot cache put failed", "room", st.room.Code, "err", err)
	}
}

func (s *RoomService) publishPlayerList(st *roomState) {
	s.hub.Publish(st.room.Code, EventPlayerListUpdated, PlayerListPayload{Players: playerViews(st.players)})
}

func (s *RoomService) roomByCode(ctx context.Context, code string) (*models.Room, error) {
	room, err := s.store.GetRoomByCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", store.NormalizeCode(code), ErrRoomNotFound)
	}
	return room, err
}

type CreateRoomRequest struct {
	Name            string `json:"name" binding:"required"`
	MaxPlayers      int    `json:"max_players" binding:"required"`
	TimePerQuestion int    `json:"time_per_question" binding:"required"`
	TotalQuestions  int    `json:"total_questions" binding:"required"`
}

func (r *CreateRoomRequest) validate() error {
	switch {
	case strings.TrimSpace(r.Name) == "":
		return fmt.Errorf("name is required: %w", ErrInvalidRoomSettings)
	case r.MaxPlayers < 1 || r.MaxPlayers > 100:
		return fmt.Errorf("max_players must be 1..100: %w", ErrInvalidRoomSettings)
	case r.TimePerQuestion < 5 || r.TimePerQuestion > 300:
		return fmt.Errorf("time_per_question must be 5..300 seconds: %w", ErrInvalidRoomSettings)
	case r.TotalQuestions < 1 || r.TotalQuestions > MaxLevel:
		return fmt.Errorf("total_questions must be 1..%d: %w", MaxLevel, ErrInvalidRoomSettings)
	}
	return nil
}

// CreateRoom opens a room in Waiting. Code generation repeats until the store
// accepts the code as unique.
func (s *RoomService) CreateRoom(ctx context.Context, ownerID uint, req *CreateRoomRequest) (*models.Room, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < maxRoomCodeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return nil, err
		}
		room := &models.Room{
			Code:            code,
			OwnerID:         ownerID,
			Name:            strings.TrimSpace(req.Name),
			MaxPlayers:      req.MaxPlayers,
			TimePerQuestion: req.TimePerQuestion,
			TotalQuestions:  req.TotalQuestions,
			Phase:           models.PhaseWaiting,
		}
		err = s.store.CreateRoom(ctx, room)
		if errors.Is(err, store.ErrConflict) {
			s.logger.Debug("room code collision", "room", code, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create room: %w", err)
		}

		s.logger.Info("room created", "room", room.Code, "owner", ownerID)
		s.refreshSnapshot(ctx, &roomState{room: *room})
		return room, nil
	}
	return nil, fmt.Errorf("no free room code after %d attempts", maxRoomCodeAttempts)
}

// DeleteRoom removes a room and everything in it. Only the owner may do so.
func (s *RoomService) DeleteRoom(ctx context.Context, ownerID uint, code string) error {
	room, err := s.roomByCode(ctx, code)
	if err != nil {
		return err
	}
	if room.OwnerID != ownerID {
		return fmt.Errorf("room %s: %w", room.Code, ErrNotOwner)
	}
	if err := s.store.DeleteRoom(ctx, room.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%s: %w", room.Code, ErrRoomNotFound)
		}
		return err
	}
	if err := s.cache.Delete(ctx, room.Code); err != nil {
		s.logger.Warn("snapshot cache delete failed", "room", room.Code, "err", err)
	}

	s.hub.Publish(room.Code, EventRoomClosed, RoomClosedPayload{RoomCode: room.Code})
	s.hub.CloseRoom(room.Code)
	s.logger.Info("room deleted", "room", room.Code)
	return nil
}

// Snapshot returns the public state of a room, preferring the cache.
func (s *RoomService) Snapshot(ctx context.Context, code string) (*RoomSnapshot, error) {
	snap, err := s.cache.Get(ctx, code)
	if err != nil {
		s.logger.Warn("snapshot cache get failed", "room", code, "err", err)
	}
	if snap != nil {
		return snap, nil
	}

	room, err := s.roomByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	players, err := s.store.ListPlayers(ctx, room.ID)
	if err != nil {
		return nil, err
	}
	snap = newSnapshot(room, players)
	if err := s.cache.Put(ctx, snap); err != nil {
		s.logger.Warn("snapshot cache put failed", "room", room.Code, "err", err)
	}
	return snap, nil
}

const maxNameLength = 32

func cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxNameLength {
		return "", fmt.Errorf("%q: %w", name, ErrInvalidName)
	}
	return name, nil
}

// bindingOf returns the player connID is bound to, or nil.
func (s *RoomService) bindingOf(ctx context.Context, connID string) (*models.Player, error) {
	p, err := s.store.FindPlayerByConnection(ctx, connID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return p, err
}

// claimConnection fails when connID is bound to a player of this room other
// than allowed. Bindings in other rooms are caught before the transaction.
func claimConnection(players []*models.Player, connID string, allowed func(*models.Player) bool) error {
	for _, p := range players {
		if p.ConnectionID == connID && !allowed(p) {
			return fmt.Errorf("conn %s bound to player %d: %w", connID, p.ID, ErrAlreadyJoined)
		}
	}
	return nil
}

// JoinAsHost attaches connID to the room's host player, creating it on first
// use. It is allowed in every phase so a host can come back.
func (s *RoomService) JoinAsHost(ctx context.Context, connID, roomCode, hostName string) (uint, error) {
	room, err := s.roomByCode(ctx, roomCode)
	if err != nil {
		return 0, err
	}

	bound, err := s.bindingOf(ctx, connID)
	if err != nil {
		return 0, err
	}
	if bound != nil && (bound.RoomID != room.ID || !bound.IsHost) {
		return 0, fmt.Errorf("conn %s bound to player %d: %w", connID, bound.ID, ErrAlreadyJoined)
	}

	var hostID uint
	st, err := s.mutate(ctx, room.ID, func(tx store.Tx) error {
		isHost := func(p *models.Player) bool { return p.IsHost }
		if err := claimConnection(tx.Players(), connID, isHost); err != nil {
			return err
		}
		var host *models.Player
		for _, p := range tx.Players() {
			if p.IsHost {
				host = p
				break
			}
		}
		if host == nil {
			name, err := cleanName(hostName)
			if err != nil {
				return err
			}
			host = &models.Player{Name: name, IsHost: true, JoinedAt: s.now()}
			if err := tx.AddPlayer(host); err != nil {
				if errors.Is(err, store.ErrConflict) {
					return fmt.Errorf("%s: %w", name, ErrNameTaken)
				}
				return err
			}
		}
		host.ConnectionID = connID
		host.Connected = true
		hostID = host.ID
		return nil
	})
	if err != nil {
		return 0, translateRoomErr(err, room.Code)
	}

	host := st.player(hostID)
	s.hub.Subscribe(connID, st.room.Code)
	s.hub.PublishToCaller(connID, EventJoinedRoom, JoinedRoomPayload{
		PlayerID: hostID,
		Name:     host.Name,
		RoomCode: st.room.Code,
		RoomName: st.room.Name,
		IsHost:   true,
		Phase:    st.room.Phase,
	})
	s.publishPlayerList(st)
	s.logger.Info("host joined", "room", st.room.Code, "player", hostID, "conn", connID)
	return hostID, nil
}

// JoinRoom adds a contestant while the room is still waiting.
func (s *RoomService) JoinRoom(ctx context.Context, connID, roomCode, playerName string) (uint, error) {
	room, err := s.roomByCode(ctx, roomCode)
	if err != nil {
		return 0, err
	}
	name, err := cleanName(playerName)
	if err != nil {
		return 0, err
	}
	bound, err := s.bindingOf(ctx, connID)
	if err != nil {
		return 0, err
	}
	if bound != nil {
		return 0, fmt.Errorf("conn %s bound to player %d: %w", connID, bound.ID, ErrAlreadyJoined)
	}

	var player *models.Player
	st, err := s.mutate(ctx, room.ID, func(tx store.Tx) error {
		none := func(*models.Player) bool { return false }
		if err := claimConnection(tx.Players(), connID, none); err != nil {
			return err
		}
		r := tx.Room()
		if r.Phase != models.PhaseWaiting {
			return fmt.Errorf("%s is %s: %w", r.Code, r.Phase, ErrGameAlreadyStarted)
		}
		if countContestants(tx.Players()) >= r.MaxPlayers {
			return fmt.Errorf("%s holds %d: %w", r.Code, r.MaxPlayers, ErrRoomFull)
		}
		player = &models.Player{Name: name, ConnectionID: connID, Connected: true, JoinedAt: s.now()}
		if err := tx.AddPlayer(player); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return fmt.Errorf("%s: %w", name, ErrNameTaken)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return 0, translateRoomErr(err, room.Code)
	}

	s.hub.Subscribe(connID, st.room.Code)
	s.hub.PublishToCaller(connID, EventJoinedRoom, JoinedRoomPayload{
		PlayerID: player.ID,
		Name:     player.Name,
		RoomCode: st.room.Code,
		RoomName: st.room.Name,
		Phase:    st.room.Phase,
	})
	s.publishPlayerList(st)
	s.hub.Publish(st.room.Code, EventPlayerJoined, PlayerRefPayload{PlayerID: player.ID, Name: player.Name})
	s.logger.Info("player joined", "room", st.room.Code, "player", player.ID, "conn", connID)
	return player.ID, nil
}

// Reconnect reattaches connID to an existing player of roomCode and sends the
// caller enough state to resync.
func (s *RoomService) Reconnect(ctx context.Context, connID string, playerID uint, roomCode string) error {
	room, err := s.store.GetRoomByCode(ctx, roomCode)
	if err != nil {
		return fmt.Errorf("room %s: %w", store.NormalizeCode(roomCode), ErrReconnectFailed)
	}

	bound, err := s.bindingOf(ctx, connID)
	if err != nil {
		return err
	}
	if bound != nil && bound.ID != playerID {
		return fmt.Errorf("conn %s bound to player %d: %w", connID, bound.ID, ErrAlreadyJoined)
	}

	st, err := s.mutate(ctx, room.ID, func(tx store.Tx) error {
		same := func(p *models.Player) bool { return p.ID == playerID }
		if err := claimConnection(tx.Players(), connID, same); err != nil {
			return err
		}
		p, err := tx.Player(playerID)
		if err != nil {
			return fmt.Errorf("player %d not in %s: %w", playerID, room.Code, ErrReconnectFailed)
		}
		p.ConnectionID = connID
		p.Connected = true
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("room %s: %w", room.Code, ErrReconnectFailed)
		}
		return err
	}

	p := st.player(playerID)
	payload := ReconnectedPayload{
		PlayerID:       p.ID,
		Name:           p.Name,
		RoomCode:       st.room.Code,
		IsHost:         p.IsHost,
		Phase:          st.room.Phase,
		QuestionIndex:  st.room.CurrentIndex,
		TotalQuestions: st.room.TotalQuestions,
		Points:         p.Points,
		Answered:       p.HasAnsweredCurrent,
	}
	if st.room.Phase == models.PhaseShowingQuestion {
		if q, err := s.questions.GetQuestion(ctx, st.room.CurrentQuestionID); err == nil {
			payload.Question = questionView(&st.room, q)
		}
	}

	s.hub.Subscribe(connID, st.room.Code)
	s.hub.PublishToCaller(connID, EventReconnected, payload)
	s.hub.Publish(st.room.Code, EventPlayerReconnected, PlayerRefPayload{PlayerID: p.ID, Name: p.Name})
	s.publishPlayerList(st)
	s.logger.Info("player reconnected", "room", st.room.Code, "player", p.ID, "conn", connID)
	return nil
}

// Disconnect marks every player bound to connID as gone. Unknown or replaced
// connections are ignored.
func (s *RoomService) Disconnect(ctx context.Context, connID string) error {
	bound, err := s.store.PlayersByConnection(ctx, connID)
	if err != nil {
		return err
	}
	var errs []error
	for i := range bound {
		if err := s.detach(ctx, connID, &bound[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *RoomService) detach(ctx context.Context, connID string, owner *models.Player) error {
	st, err := s.mutate(ctx, owner.RoomID, func(tx store.Tx) error {
		p, err := tx.Player(owner.ID)
		if err != nil {
			return err
		}
		if p.ConnectionID != connID {
			return errStaleConnection
		}
		p.ConnectionID = ""
		p.Connected = false
		return nil
	})
	if errors.Is(err, errStaleConnection) || errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	s.hub.Publish(st.room.Code, EventPlayerDisconnected, PlayerRefPayload{PlayerID: owner.ID, Name: owner.Name})
	s.publishPlayerList(st)
	s.logger.Info("player disconnected", "room", st.room.Code, "player", owner.ID, "conn", connID)
	return nil
}

// Session is what a connection is attached to.
type Session struct {
	RoomID   uint
	RoomCode string
	PlayerID uint
	IsHost   bool
}

// SessionFor resolves the player bound to connID.
func (s *RoomService) SessionFor(ctx context.Context, connID string) (*Session, error) {
	p, err := s.store.FindPlayerByConnection(ctx, connID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("conn %s: %w", connID, ErrNotJoined)
	}
	if err != nil {
		return nil, err
	}
	room, err := s.store.GetRoom(ctx, p.RoomID)
	if err != nil {
		return nil, translateRoomErr(err, "")
	}
	return &Session{RoomID: room.ID, RoomCode: room.Code, PlayerID: p.ID, IsHost: p.IsHost}, nil
}

func countContestants(players []*models.Player) int {
	n := 0
	for _, p := range players {
		if p.Contestant() {
			n++
		}
	}
	return n
}

func translateRoomErr(err error, code string) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s: %w", code, ErrRoomNotFound)
	}
	return err
}
