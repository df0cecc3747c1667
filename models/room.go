package models

import (
	"time"

	"gorm.io/gorm"
)

type Phase string

const (
	PhaseWaiting            Phase = "waiting"
	PhaseStarting           Phase = "starting"
	PhaseShowingQuestion    Phase = "showing_question"
	PhaseShowingAnswer      Phase = "showing_answer"
	PhaseShowingLeaderboard Phase = "showing_leaderboard"
	PhaseFinished           Phase = "finished"
)

// Started reports whether the room has left the lobby.
func (p Phase) Started() bool {
	return p != PhaseWaiting
}

type Room struct {
	ID                uint           `json:"id" gorm:"primaryKey"`
	Code              string         `json:"code" gorm:"uniqueIndex;size:8;not null"`
	OwnerID           uint           `json:"owner_id" gorm:"not null;index"`
	Name              string         `json:"name" gorm:"not null"`
	MaxPlayers        int            `json:"max_players" gorm:"not null;default:10"`
	TimePerQuestion   int            `json:"time_per_question" gorm:"not null;default:30"` // seconds
	TotalQuestions    int            `json:"total_questions" gorm:"not null;default:15"`
	Phase             Phase          `json:"phase" gorm:"not null;default:'waiting'"`
	CurrentQuestionID uint           `json:"current_question_id"`
	CurrentIndex      int            `json:"current_index" gorm:"not null;default:0"` // doubles as level
	Version           int64          `json:"version" gorm:"not null;default:0"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	DeletedAt         gorm.DeletedAt `json:"-" gorm:"index"`
	StartedAt         *time.Time     `json:"started_at"`
	QuestionStartedAt *time.Time     `json:"question_started_at"`
	EndedAt           *time.Time     `json:"ended_at"`
}

// TimeLimitMs is the per-question answer window in milliseconds.
func (r *Room) TimeLimitMs() int {
	return r.TimePerQuestion * 1000
}
