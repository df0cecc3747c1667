package services

import (
	"context"
	"fmt"
	"math/rand/v2"

	"quizroom/models"
	"quizroom/store"
)

// QuestionDrawer picks the question for a level, preferring ones the room has
// not seen.
type QuestionDrawer struct {
	source store.QuestionSource
	intn   func(n int) int
}

func NewQuestionDrawer(source store.QuestionSource) *QuestionDrawer {
	return &QuestionDrawer{source: source, intn: rand.IntN}
}

// Draw chooses uniformly among the owner's active questions at level whose ID
// is not excluded. When every candidate is excluded it reuses one instead.
func (d *QuestionDrawer) Draw(ctx context.Context, ownerID uint, level int, exclude []uint) (*models.Question, error) {
	all, err := d.source.ListQuestions(ctx, ownerID, level)
	if err != nil {
		return nil, fmt.Errorf("draw level %d: %w", level, err)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("level %d for owner %d: %w", level, ownerID, ErrNoQuestionsAvailable)
	}

	skip := make(map[uint]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}
	fresh := make([]models.Question, 0, len(all))
	for _, q := range all {
		if !skip[q.ID] {
			fresh = append(fresh, q)
		}
	}
	if len(fresh) == 0 {
		fresh = all
	}

	q := fresh[d.intn(len(fresh))]
	return &q, nil
}
