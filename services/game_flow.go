package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"quizroom/models"
	"quizroom/store"
)

// StartGame moves a waiting room to Starting. The first question is a
// separate host action.
func (s *RoomService) StartGame(ctx context.Context, roomID uint) error {
	st, err := s.mutate(ctx, roomID, func(tx store.Tx) error {
		room := tx.Room()
		if room.Phase != models.PhaseWaiting {
			return fmt.Errorf("start from %s: %w", room.Phase, ErrInvalidPhase)
		}
		if countContestants(tx.Players()) == 0 {
			return fmt.Errorf("room %s: %w", room.Code, ErrNotEnoughPlayers)
		}
		now := s.now()
		room.Phase = models.PhaseStarting
		room.StartedAt = &now
		return nil
	})
	if err != nil {
		return translateRoomErr(err, "")
	}

	s.hub.Publish(st.room.Code, EventGameStarting, GameStartingPayload{
		Countdown:      StartCountdownSeconds,
		TotalQuestions: st.room.TotalQuestions,
	})
	s.publishPlayerList(st)
	s.logger.Info("game starting", "room", st.room.Code, "players", len(st.players))
	return nil
}

// ShowNextQuestion draws the question for the next level and opens it for
// answers. On failure the room stays where it was.
func (s *RoomService) ShowNextQuestion(ctx context.Context, roomID uint) error {
	var question *models.Question
	st, err := s.mutate(ctx, roomID, func(tx store.Tx) error {
		room := tx.Room()
		switch room.Phase {
		case models.PhaseStarting, models.PhaseShowingAnswer, models.PhaseShowingLeaderboard:
		default:
			return fmt.Errorf("next question from %s: %w", room.Phase, ErrInvalidPhase)
		}

		level := room.CurrentIndex + 1
		if level > room.TotalQuestions {
			return fmt.Errorf("room %s played all %d: %w", room.Code, room.TotalQuestions, ErrNoQuestionsAvailable)
		}
		answers, err := tx.Answers(-1)
		if err != nil {
			return err
		}
		q, err := s.drawer.Draw(ctx, room.OwnerID, level, usedQuestions(answers, room.CurrentQuestionID))
		if err != nil {
			return err
		}

		now := s.now()
		room.CurrentIndex = level
		room.CurrentQuestionID = q.ID
		room.Phase = models.PhaseShowingQuestion
		room.QuestionStartedAt = &now
		for _, p := range tx.Players() {
			p.HasAnsweredCurrent = false
		}
		question = q
		return nil
	})
	if err != nil {
		return translateRoomErr(err, "")
	}

	s.hub.Publish(st.room.Code, EventQuestionRevealed, questionView(&st.room, question))
	s.publishLive(st)
	s.publishPlayerList(st)
	s.logger.Info("question shown", "room", st.room.Code, "index", st.room.CurrentIndex, "question", question.ID)

	if s.opts.AutoReveal {
		index := st.room.CurrentIndex
		wait := time.Duration(st.room.TimePerQuestion)*time.Second + s.opts.RevealGrace
		s.afterFunc(wait, func() {
			err := s.revealAnswer(context.Background(), roomID, index)
			if err != nil && !errors.Is(err, ErrInvalidPhase) {
				s.logger.Warn("auto reveal failed", "room", st.room.Code, "index", index, "err", err)
			}
		})
	}
	return nil
}

// RevealAnswer closes the current question and publishes the results.
func (s *RoomService) RevealAnswer(ctx context.Context, roomID uint) error {
	return s.revealAnswer(ctx, roomID, -1)
}

// revealAnswer only acts on question index when index is not negative.
func (s *RoomService) revealAnswer(ctx context.Context, roomID uint, index int) error {
	var answers []models.Answer
	st, err := s.mutate(ctx, roomID, func(tx store.Tx) error {
		room := tx.Room()
		if room.Phase != models.PhaseShowingQuestion {
			return fmt.Errorf("reveal from %s: %w", room.Phase, ErrInvalidPhase)
		}
		if index >= 0 && room.CurrentIndex != index {
			return fmt.Errorf("reveal of %d while at %d: %w", index, room.CurrentIndex, ErrInvalidPhase)
		}
		var err error
		answers, err = tx.Answers(room.CurrentIndex)
		if err != nil {
			return err
		}
		room.Phase = models.PhaseShowingAnswer
		return nil
	})
	if err != nil {
		return translateRoomErr(err, "")
	}

	q, err := s.questions.GetQuestion(ctx, st.room.CurrentQuestionID)
	if err != nil {
		return fmt.Errorf("load question %d: %w", st.room.CurrentQuestionID, err)
	}

	results := make([]PlayerResult, 0, len(answers))
	for _, a := range answers {
		name := ""
		if p := st.player(a.PlayerID); p != nil {
			name = p.Name
		}
		results = append(results, PlayerResult{
			ID:             a.PlayerID,
			Name:           name,
			SelectedOption: a.SelectedOption,
			Correct:        a.IsCorrect,
			Points:         a.Points,
			ElapsedMs:      a.ElapsedMs,
			UsedSkip:       a.Skipped(),
		})
	}

	s.hub.Publish(st.room.Code, EventAnswerRevealed, AnswerRevealedPayload{
		QuestionIndex: st.room.CurrentIndex,
		CorrectOption: q.CorrectOption,
		Explanation:   q.Explanation,
		Results:       results,
	})
	s.publishLive(st)
	s.logger.Info("answer revealed", "room", st.room.Code, "index", st.room.CurrentIndex, "answers", len(results))
	return nil
}

// ShowLeaderboard publishes the standings after a reveal.
func (s *RoomService) ShowLeaderboard(ctx context.Context, roomID uint) error {
	st, err := s.mutate(ctx, roomID, func(tx store.Tx) error {
		room := tx.Room()
		if room.Phase != models.PhaseShowingAnswer {
			return fmt.Errorf("leaderboard from %s: %w", room.Phase, ErrInvalidPhase)
		}
		room.Phase = models.PhaseShowingLeaderboard
		return nil
	})
	if err != nil {
		return translateRoomErr(err, "")
	}

	s.hub.Publish(st.room.Code, EventLeaderboardUpdated, leaderboard(st))
	s.publishPlayerList(st)
	return nil
}

// EndGame finishes a started room and names the winner.
func (s *RoomService) EndGame(ctx context.Context, roomID uint) error {
	st, err := s.mutate(ctx, roomID, func(tx store.Tx) error {
		room := tx.Room()
		if !room.Phase.Started() || room.Phase == models.PhaseFinished {
			return fmt.Errorf("end from %s: %w", room.Phase, ErrInvalidPhase)
		}
		now := s.now()
		room.Phase = models.PhaseFinished
		room.EndedAt = &now
		return nil
	})
	if err != nil {
		return translateRoomErr(err, "")
	}

	ranked := rankPlayers(st.players)
	payload := GameEndedPayload{Leaderboard: ranked}
	for _, e := range ranked {
		if !e.IsHost {
			id, name := e.ID, e.Name
			payload.WinnerID = &id
			payload.WinnerName = &name
			break
		}
	}

	s.hub.Publish(st.room.Code, EventGameEnded, payload)
	s.publishPlayerList(st)
	winner := ""
	if payload.WinnerName != nil {
		winner = *payload.WinnerName
	}
	s.logger.Info("game ended", "room", st.room.Code, "winner", winner)
	return nil
}

func leaderboard(st *roomState) LeaderboardPayload {
	return LeaderboardPayload{
		QuestionIndex:  st.room.CurrentIndex,
		TotalQuestions: st.room.TotalQuestions,
		Leaderboard:    rankPlayers(st.players),
	}
}

func (s *RoomService) publishLive(st *roomState) {
	s.hub.Publish(st.room.Code, EventLiveLeaderboard, leaderboard(st))
}

// usedQuestions lists question IDs the room has already shown.
func usedQuestions(answers []models.Answer, current uint) []uint {
	seen := map[uint]bool{}
	var ids []uint
	if current != 0 {
		seen[current] = true
		ids = append(ids, current)
	}
	for _, a := range answers {
		if a.QuestionID != 0 && !seen[a.QuestionID] {
			seen[a.QuestionID] = true
			ids = append(ids, a.QuestionID)
		}
	}
	return ids
}
