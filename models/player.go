package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

type Player struct {
	ID                 uint           `json:"id" gorm:"primaryKey"`
	RoomID             uint           `json:"room_id" gorm:"not null;uniqueIndex:idx_players_room_name"`
	Name               string         `json:"name" gorm:"not null"`
	NameKey            string         `json:"-" gorm:"not null;uniqueIndex:idx_players_room_name"`
	ConnectionID       string         `json:"-" gorm:"index"`
	Connected          bool           `json:"connected" gorm:"not null;default:false"`
	IsHost             bool           `json:"is_host" gorm:"not null;default:false"`
	Points             int            `json:"points" gorm:"not null;default:0"`
	CorrectAnswers     int            `json:"correct_answers" gorm:"not null;default:0"`
	WrongAnswers       int            `json:"wrong_answers" gorm:"not null;default:0"`
	TotalTimeMs        int64          `json:"total_time_ms" gorm:"not null;default:0"`
	UsedFiftyFifty     bool           `json:"used_fifty_fifty" gorm:"not null;default:false"`
	UsedSkip           bool           `json:"used_skip" gorm:"not null;default:false"`
	UsedDoubleDip      bool           `json:"used_double_dip" gorm:"not null;default:false"`
	FiftyFiftyIndex    int            `json:"-" gorm:"not null;default:0"`
	DoubleDipIndex     int            `json:"-" gorm:"not null;default:0"`
	HasAnsweredCurrent bool           `json:"has_answered_current" gorm:"not null;default:false"`
	JoinedAt           time.Time      `json:"joined_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
	DeletedAt          gorm.DeletedAt `json:"-" gorm:"index"`
}

// NameKey folds a display name for case-insensitive uniqueness checks.
func NameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Contestant reports whether the player competes for points. The host drives
// the room and is listed on the leaderboard, but never answers.
func (p *Player) Contestant() bool {
	return !p.IsHost
}
