package services

import (
	"context"
	"errors"
	"fmt"

	"quizroom/models"
	"quizroom/store"
)

// answerGuard loads the room's current question and the contestant who may
// still answer it. Every failure here marks a stale or duplicate message.
func (s *RoomService) answerGuard(ctx context.Context, tx store.Tx, playerID uint) (*models.Player, *models.Question, error) {
	room := tx.Room()
	if room.Phase != models.PhaseShowingQuestion {
		return nil, nil, fmt.Errorf("answer in %s: %w", room.Phase, ErrInvalidPhase)
	}
	p, err := tx.Player(playerID)
	if err != nil {
		return nil, nil, fmt.Errorf("player %d: %w", playerID, ErrPlayerNotFound)
	}
	if !p.Contestant() {
		return nil, nil, fmt.Errorf("player %d: %w", playerID, ErrNotContestant)
	}
	if p.HasAnsweredCurrent {
		return nil, nil, fmt.Errorf("player %d question %d: %w", playerID, room.CurrentIndex, ErrAlreadyAnswered)
	}
	q, err := s.questions.GetQuestion(ctx, room.CurrentQuestionID)
	if err != nil {
		return nil, nil, fmt.Errorf("load question %d: %w", room.CurrentQuestionID, err)
	}
	return p, q, nil
}

// recordAnswer appends a to the ledger and folds it into the player's totals.
func recordAnswer(tx store.Tx, p *models.Player, a *models.Answer) error {
	a.PlayerID = p.ID
	if err := tx.AppendAnswer(a); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("player %d question %d: %w", p.ID, a.QuestionIndex, ErrAlreadyAnswered)
		}
		return err
	}

	p.Points += a.Points
	if a.ElapsedMs > 0 {
		p.TotalTimeMs += int64(a.ElapsedMs)
	}
	switch {
	case a.Skipped():
	case a.IsCorrect:
		p.CorrectAnswers++
	default:
		p.WrongAnswers++
	}
	p.HasAnsweredCurrent = true
	return nil
}

func allAnswered(players []*models.Player) bool {
	contestants := 0
	for _, p := range players {
		if !p.Contestant() {
			continue
		}
		contestants++
		if !p.HasAnsweredCurrent {
			return false
		}
	}
	return contestants > 0
}

// SubmitAnswer records a contestant's answer to the current question. Late,
// repeated and host submissions are rejected without touching state.
func (s *RoomService) SubmitAnswer(ctx context.Context, roomID, playerID uint, option string, elapsedMs int, lifelineActive bool) error {
	var everyone bool
	st, err := s.mutate(ctx, roomID, func(tx store.Tx) error {
		p, q, err := s.answerGuard(ctx, tx, playerID)
		if err != nil {
			return err
		}
		room := tx.Room()

		selected := models.ParseOption(option)
		correct := q.IsCorrect(selected)
		lifeline := models.LifelineNone
		if p.UsedFiftyFifty && p.FiftyFiftyIndex == room.CurrentIndex {
			lifeline = models.LifelineFiftyFifty
			lifelineActive = true
		}

		a := &models.Answer{
			QuestionIndex:  room.CurrentIndex,
			QuestionID:     q.ID,
			SelectedOption: selected,
			IsCorrect:      correct,
			ElapsedMs:      elapsedMs,
			Points:         ComputePoints(room.CurrentIndex, elapsedMs, room.TimeLimitMs(), correct, lifelineActive),
			Lifeline:       lifeline,
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

// publishAnswered runs the broadcasts shared by every way of answering.
func (s *RoomService) publishAnswered(st *roomState, playerID uint, everyone bool) {
	name := ""
	if p := st.player(playerID); p != nil {
		name = p.Name
	}
	s.hub.Publish(st.room.Code, EventPlayerAnswered, PlayerAnsweredPayload{PlayerID: playerID, Name: name, Answered: true})
	s.publishLive(st)
	if everyone {
		s.hub.Publish(st.room.Code, EventAllPlayersAnswered, nil)
	}
	s.logger.Debug("answer recorded", "room", st.room.Code, "player", playerID, "all", everyone)
}

func translatePlayerErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrPlayerNotFound, err)
	}
	return err
}
