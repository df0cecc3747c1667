package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// Dispatcher routes inbound websocket messages to the room coordinator. The
// room and player a message acts on come from the connection's session,
// never from the payload.
type Dispatcher struct {
	rooms  *RoomService
	hub    Broadcaster
	logger *slog.Logger
}

func NewDispatcher(rooms *RoomService, hub Broadcaster, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{rooms: rooms, hub: hub, logger: logger}
}

type joinAsHostPayload struct {
	RoomCode string `json:"room_code"`
	HostName string `json:"host_name"`
}

type joinRoomPayload struct {
	RoomCode   string `json:"room_code"`
	PlayerName string `json:"player_name"`
}

type reconnectPayload struct {
	PlayerID uint   `json:"player_id"`
	RoomCode string `json:"room_code"`
}

type submitAnswerPayload struct {
	Option         string `json:"option"`
	ElapsedMs      int    `json:"elapsed_ms"`
	LifelineActive bool   `json:"lifeline_active"`
}

type doubleDipPayload struct {
	Option string `json:"option"`
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return nil
}

func (d *Dispatcher) HandleMessage(ctx context.Context, connID string, msg IncomingMessage) {
	err := d.route(ctx, connID, msg)
	if err == nil {
		return
	}

	log := d.logger.With("type", msg.Type, "conn", connID, "err", err)
	switch {
	case IsUserFacing(err):
		log.Info("request rejected")
		d.hub.PublishToCaller(connID, EventError, ErrorPayload{Message: PublicMessage(err)})
	case errors.Is(err, ErrInvalidPhase), errors.Is(err, ErrAlreadyAnswered),
		errors.Is(err, ErrPlayerNotFound), errors.Is(err, ErrNotContestant),
		errors.Is(err, ErrNotHost), errors.Is(err, ErrUnknownMessage):
		log.Debug("message ignored")
	default:
		log.Error("message failed")
		d.hub.PublishToCaller(connID, EventError, ErrorPayload{Message: PublicMessage(err)})
	}
}

func (d *Dispatcher) HandleDisconnect(ctx context.Context, connID string) {
	if err := d.rooms.Disconnect(ctx, connID); err != nil {
		d.logger.Error("disconnect failed", "conn", connID, "err", err)
	}
}

func (d *Dispatcher) route(ctx context.Context, connID string, msg IncomingMessage) error {
	switch msg.Type {
	case "join_as_host":
		var p joinAsHostPayload
		if err := decode(msg.Payload, &p); err != nil {
			return err
		}
		_, err := d.rooms.JoinAsHost(ctx, connID, p.RoomCode, p.HostName)
		return err

	case "join_room":
		var p joinRoomPayload
		if err := decode(msg.Payload, &p); err != nil {
			return err
		}
		_, err := d.rooms.JoinRoom(ctx, connID, p.RoomCode, p.PlayerName)
		return err

	case "reconnect":
		var p reconnectPayload
		if err := decode(msg.Payload, &p); err != nil {
			return err
		}
		return d.rooms.Reconnect(ctx, connID, p.PlayerID, p.RoomCode)

	case "start_game", "show_next_question", "reveal_answer", "show_leaderboard", "end_game":
		sess, err := d.rooms.SessionFor(ctx, connID)
		if err != nil {
			return err
		}
		if !sess.IsHost {
			return fmt.Errorf("%s from player %d: %w", msg.Type, sess.PlayerID, ErrNotHost)
		}
		return d.hostAction(ctx, msg.Type, sess.RoomID)

	case "submit_answer":
		var p submitAnswerPayload
		if err := decode(msg.Payload, &p); err != nil {
			return err
		}
		sess, err := d.rooms.SessionFor(ctx, connID)
		if err != nil {
			return err
		}
		return d.rooms.SubmitAnswer(ctx, sess.RoomID, sess.PlayerID, p.Option, p.ElapsedMs, p.LifelineActive)

	case "use_fifty_fifty":
		sess, err := d.rooms.SessionFor(ctx, connID)
		if err != nil {
			return err
		}
		_, err = d.rooms.UseFiftyFifty(ctx, connID, sess.RoomID, sess.PlayerID)
		return err

	case "skip_question":
		sess, err := d.rooms.SessionFor(ctx, connID)
		if err != nil {
			return err
		}
		return d.rooms.SkipQuestion(ctx, sess.RoomID, sess.PlayerID)

	case "double_dip":
		var p doubleDipPayload
		if err := decode(msg.Payload, &p); err != nil {
			return err
		}
		sess, err := d.rooms.SessionFor(ctx, connID)
		if err != nil {
			return err
		}
		_, err = d.rooms.DoubleDipCheck(ctx, connID, sess.RoomID, sess.PlayerID, p.Option)
		return err

	default:
		return fmt.Errorf("%q: %w", msg.Type, ErrUnknownMessage)
	}
}

func (d *Dispatcher) hostAction(ctx context.Context, action string, roomID uint) error {
	switch action {
	case "start_game":
		return d.rooms.StartGame(ctx, roomID)
	case "show_next_question":
		return d.rooms.ShowNextQuestion(ctx, roomID)
	case "reveal_answer":
		return d.rooms.RevealAnswer(ctx, roomID)
	case "show_leaderboard":
		return d.rooms.ShowLeaderboard(ctx, roomID)
	default:
		return d.rooms.EndGame(ctx, roomID)
	}
}
