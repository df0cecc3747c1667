package services

import "errors"

// Errors the dispatcher reports back to the calling client.
var (
	ErrRoomNotFound         = errors.New("room not found")
	ErrGameAlreadyStarted   = errors.New("game already started")
	ErrRoomFull             = errors.New("room is full")
	ErrNameTaken            = errors.New("name already taken")
	ErrInvalidName          = errors.New("invalid name")
	ErrNotEnoughPlayers     = errors.New("at least one player is required to start")
	ErrNoQuestionsAvailable = errors.New("no questions available")
	ErrReconnectFailed      = errors.New("reconnect failed")
	ErrLifelineUsed         = errors.New("lifeline already used")
	ErrNotOwner             = errors.New("room belongs to another host")
	ErrInvalidRoomSettings  = errors.New("invalid room settings")
	ErrNotJoined            = errors.New("connection has not joined a room")
	ErrAlreadyJoined        = errors.New("connection already joined as another player")
	ErrBadPayload           = errors.New("invalid message payload")
)

// Errors that mark stale or duplicate messages. They are logged and dropped.
var (
	ErrInvalidPhase    = errors.New("action not allowed in current phase")
	ErrAlreadyAnswered = errors.New("already answered")
	ErrPlayerNotFound  = errors.New("player not found")
	ErrNotContestant   = errors.New("host cannot play")
	ErrNotHost         = errors.New("host only")
	ErrUnknownMessage  = errors.New("unknown message type")
	errStaleConnection = errors.New("connection replaced")
)

var userFacing = []error{
	ErrRoomNotFound,
	ErrGameAlreadyStarted,
	ErrRoomFull,
	ErrNameTaken,
	ErrInvalidName,
	ErrNotEnoughPlayers,
	ErrNoQuestionsAvailable,
	ErrReconnectFailed,
	ErrLifelineUsed,
	ErrNotOwner,
	ErrInvalidRoomSettings,
	ErrNotJoined,
	ErrAlreadyJoined,
	ErrBadPayload,
}

// IsUserFacing reports whether err should be shown to the client that caused it.
func IsUserFacing(err error) bool {
	for _, target := range userFacing {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// PublicMessage is the text sent in an error event for err.
func PublicMessage(err error) string {
	for _, target := range userFacing {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return "internal error"
}
