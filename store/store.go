// Package store holds the authoritative room, player and answer tables.
//
// Every read returns a copy. Mutations go through Update, which serializes
// all writers of one room, hands the closure freshly read working copies, and
// either commits everything the closure changed or nothing at all.
package store

import (
	"context"
	"errors"
	"strings"

	"quizroom/models"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// Tx is the working set handed to an Update closure. Its entities are fresh
// copies taken while the room is held exclusively; changes made to them are
// persisted only when the closure returns nil.
type Tx interface {
	Room() *models.Room
	Players() []*models.Player
	Player(id uint) (*models.Player, error)
	// AddPlayer inserts a new player into the room. It fails with ErrConflict
	// when the name key is taken or a second host is added.
	AddPlayer(p *models.Player) error
	// AppendAnswer adds a ledger row. It fails with ErrConflict when the
	// (room, player, question index) triple already exists.
	AppendAnswer(a *models.Answer) error
	// Answers returns ledger rows for questionIndex, including rows appended
	// earlier in this transaction.
	Answers(questionIndex int) ([]models.Answer, error)
}

type Store interface {
	CreateRoom(ctx context.Context, room *models.Room) error
	// DeleteRoom removes the room with its players and answers. Durable
	// stores archive the rows instead of dropping them.
	DeleteRoom(ctx context.Context, roomID uint) error

	GetRoom(ctx context.Context, roomID uint) (*models.Room, error)
	GetRoomByCode(ctx context.Context, code string) (*models.Room, error)
	GetPlayer(ctx context.Context, playerID uint) (*models.Player, error)
	// FindPlayerByConnection returns the lowest-id player bound to connID.
	FindPlayerByConnection(ctx context.Context, connID string) (*models.Player, error)
	// PlayersByConnection returns every player bound to connID, by id.
	PlayersByConnection(ctx context.Context, connID string) ([]models.Player, error)
	ListPlayers(ctx context.Context, roomID uint) ([]models.Player, error)
	// ListAnswers returns the ledger for one question index, or the whole
	// room when questionIndex is negative.
	ListAnswers(ctx context.Context, roomID uint, questionIndex int) ([]models.Answer, error)
	UsedQuestionIDs(ctx context.Context, roomID uint) ([]uint, error)

	Update(ctx context.Context, roomID uint, fn func(tx Tx) error) error
}

// NormalizeCode uppercases a room code the way every entry point expects.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
