package models

import (
	"time"

	"gorm.io/gorm"
)

type Lifeline string

const (
	LifelineNone       Lifeline = ""
	LifelineFiftyFifty Lifeline = "fifty_fifty"
	LifelineSkip       Lifeline = "skip"
	LifelineDoubleDip  Lifeline = "double_dip"
)

// Answer is one row of the append-only answer ledger. (RoomID, PlayerID,
// QuestionIndex) is unique.
type Answer struct {
	ID             uint           `json:"id" gorm:"primaryKey"`
	RoomID         uint           `json:"room_id" gorm:"not null;uniqueIndex:idx_answers_room_player_question"`
	PlayerID       uint           `json:"player_id" gorm:"not null;uniqueIndex:idx_answers_room_player_question"`
	QuestionIndex  int            `json:"question_index" gorm:"not null;uniqueIndex:idx_answers_room_player_question"`
	QuestionID     uint           `json:"question_id" gorm:"not null"`
	SelectedOption *string        `json:"selected_option"` // nil means skipped or no selection
	IsCorrect      bool           `json:"is_correct" gorm:"not null"`
	ElapsedMs      int            `json:"elapsed_ms" gorm:"not null"`
	Points         int            `json:"points" gorm:"not null"`
	Lifeline       Lifeline       `json:"lifeline" gorm:"not null;default:''"`
	CreatedAt      time.Time      `json:"created_at"`
	DeletedAt      gorm.DeletedAt `json:"-" gorm:"index"`
}

func (a *Answer) Skipped() bool {
	return a.Lifeline == LifelineSkip
}
