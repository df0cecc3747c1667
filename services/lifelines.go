package services

import (
	"context"
	"fmt"
	"math/rand/v2"

	"quizroom/models"
	"quizroom/store"
)

func randPerm(n int) []int {
	return rand.Perm(n)
}

// UseFiftyFifty hides two wrong options from the caller. Nothing is written to
// the ledger.
func (s *RoomService) UseFiftyFifty(ctx context.Context, connID string, roomID, playerID uint) ([]string, error) {
	var hidden []string
	_, err := s.mutate(ctx, roomID, func(tx store.Tx) error {
		p, q, err := s.answerGuard(ctx, tx, playerID)
		if err != nil {
			return err
		}
		if p.UsedFiftyFifty {
			return fmt.Errorf("fifty-fifty for player %d: %w", playerID, ErrLifelineUsed)
		}
		p.UsedFiftyFifty = true
		p.FiftyFiftyIndex = tx.Room().CurrentIndex

		wrong := q.WrongOptions()
		order := s.pick(len(wrong))
		hidden = []string{wrong[order[0]], wrong[order[1]]}
		return nil
	})
	if err != nil {
		return nil, translatePlayerErr(err)
	}

	s.hub.PublishToCaller(connID, EventFiftyFiftyResult, FiftyFiftyPayload{HiddenOptions: hidden})
	return hidden, nil
}

// SkipQuestion spends the skip lifeline: the question counts as answered with
// no points either way.
func (s *RoomService) SkipQuestion(ctx context.Context, roomID, playerID uint) error {
	var everyone bool
	st, err := s.mutate(ctx, roomID, func(tx store.Tx) error {
		p, q, err := s.answerGuard(ctx, tx, playerID)
		if err != nil {
			return err
		}
		if p.UsedSkip {
			return fmt.Errorf("skip for player %d: %w", playerID, ErrLifelineUsed)
		}
		p.UsedSkip = true
		a := &models.Answer{
			QuestionIndex: tx.Room().CurrentIndex,
			QuestionID:    q.ID,
			Lifeline:      models.LifelineSkip,
		}
		if err := recordAnswer(tx, p, a); err != nil {
			return err
		}
		everyone = allAnswered(tx.Players())
		return nil
	})
	if err != nil {
		return translatePlayerErr(err)
	}

	s.publishAnswered(st, playerID, everyone)
	return nil
}

// DoubleDipCheck checks one guess under the double-dip lifeline. The lifeline
// is spent by the first guess; further guesses on the same question are
// allowed until one is right. Only a correct guess is scored.
func (s *RoomService) DoubleDipCheck(ctx context.Context, connID string, roomID, playerID uint, option string) (*DoubleDipResult, error) {
	result := &DoubleDipResult{}
	var everyone bool
	st, err := s.mutate(ctx, roomID, func(tx store.Tx) error {
		p, q, err := s.answerGuard(ctx, tx, playerID)
		if err != nil {
			return err
		}
		room := tx.Room()
		if p.UsedDoubleDip && p.DoubleDipIndex != room.CurrentIndex {
			return fmt.Errorf("double dip for player %d: %w", playerID, ErrLifelineUsed)
		}
		p.UsedDoubleDip = true
		p.DoubleDipIndex = room.CurrentIndex

		selected := models.ParseOption(option)
		result.ChosenOption = selected
		if !q.IsCorrect(selected) {
			return nil
		}

		elapsed := 0
		if room.QuestionStartedAt != nil {
			elapsed = int(s.now().Sub(*room.QuestionStartedAt).Milliseconds())
		}
		a := &models.Answer{
			QuestionIndex:  room.CurrentIndex,
			QuestionID:     q.ID,
			SelectedOption: selected,
			IsCorrect:      true,
			ElapsedMs:      elapsed,
			Points:         ComputePoints(room.CurrentIndex, elapsed, room.TimeLimitMs(), true, true),
			Lifeline:       models.LifelineDoubleDip,
		}
		if err := recordAnswer(tx, p, a); err != nil {
			return err
		}
		result.Correct = true
		result.Points = a.Points
		everyone = allAnswered(tx.Players())
		return nil
	})
	if err != nil {
		return nil, translatePlayerErr(err)
	}

	s.hub.PublishToCaller(connID, EventDoubleDipResult, result)
	if result.Correct {
		s.publishAnswered(st, playerID, everyone)
	}
	return result, nil
}
