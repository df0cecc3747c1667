package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// OptionLetters are the four answer slots, in display order.
var OptionLetters = []string{"A", "B", "C", "D"}

// Question is owned by the question bank; rooms only read it.
type Question struct {
	ID            uint           `json:"id" gorm:"primaryKey"`
	OwnerID       uint           `json:"owner_id" gorm:"not null;index:idx_questions_owner_level"`
	Level         int            `json:"level" gorm:"not null;index:idx_questions_owner_level"`
	Text          string         `json:"text" gorm:"not null"`
	OptionA       string         `json:"option_a" gorm:"not null"`
	OptionB       string         `json:"option_b" gorm:"not null"`
	OptionC       string         `json:"option_c" gorm:"not null"`
	OptionD       string         `json:"option_d" gorm:"not null"`
	CorrectOption string         `json:"correct_option" gorm:"size:1;not null"`
	Explanation   string         `json:"explanation"`
	Active        bool           `json:"active" gorm:"not null;default:true"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `json:"-" gorm:"index"`
}

// Options returns the option texts in A..D order.
func (q *Question) Options() []string {
	return []string{q.OptionA, q.OptionB, q.OptionC, q.OptionD}
}

// ParseOption normalizes a client-supplied letter. Anything that is not A..D
// yields nil, which always scores as wrong.
func ParseOption(s string) *string {
	letter := strings.ToUpper(strings.TrimSpace(s))
	for _, l := range OptionLetters {
		if l == letter {
			return &letter
		}
	}
	return nil
}

func (q *Question) IsCorrect(option *string) bool {
	return option != nil && strings.EqualFold(*option, q.CorrectOption)
}

// WrongOptions lists the letters that are not the correct answer.
func (q *Question) WrongOptions() []string {
	wrong := make([]string, 0, len(OptionLetters)-1)
	for _, l := range OptionLetters {
		if !strings.EqualFold(l, q.CorrectOption) {
			wrong = append(wrong, l)
		}
	}
	return wrong
}
