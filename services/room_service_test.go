package services

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"quizroom/models"
	"quizroom/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentEvent struct {
	room    string
	conn    string
	kind    string
	payload any
}

type fakeHub struct {
	mu     sync.Mutex
	events []sentEvent
	subs   map[string]string
	closed []string
}

func newFakeHub() *fakeHub {
	return &fakeHub{subs: map[string]string{}}
}

func (h *fakeHub) Subscribe(connID, roomCode string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[connID] = roomCode
}

func (h *fakeHub) Publish(roomCode, eventType string, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, sentEvent{room: roomCode, kind: eventType, payload: payload})
}

func (h *fakeHub) PublishToCaller(connID, eventType string, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, sentEvent{conn: connID, kind: eventType, payload: payload})
}

func (h *fakeHub) CloseRoom(roomCode string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = append(h.closed, roomCode)
}

func (h *fakeHub) find(kind string) []sentEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []sentEvent
	for _, e := range h.events {
		if e.kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (h *fakeHub) last(t *testing.T, kind string) sentEvent {
	t.Helper()
	events := h.find(kind)
	require.NotEmpty(t, events, "no %s event", kind)
	return events[len(events)-1]
}

func (h *fakeHub) reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = nil
}

type fixture struct {
	svc   *RoomService
	hub   *fakeHub
	store *store.MemoryStore
	room  *models.Room
	clock time.Time
	ctx   context.Context
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newFixture builds a room owned by user 1 with one question per level for
// levels 1..3; the correct option is always B.
func newFixture(t *testing.T, maxPlayers, totalQuestions int) *fixture {
	t.Helper()
	questions := store.NewMemoryQuestionSource()
	for level := 1; level <= 3; level++ {
		questions.Add(models.Question{
			OwnerID: 1, Level: level, Text: "question", Active: true,
			OptionA: "a", OptionB: "b", OptionC: "c", OptionD: "d",
			CorrectOption: "B", Explanation: "because",
		})
	}

	f := &fixture{
		hub:   newFakeHub(),
		store: store.NewMemoryStore(),
		clock: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		ctx:   context.Background(),
	}
	f.svc = NewRoomService(f.store, questions, f.hub, nil, GameOptions{}, quietLogger())
	f.svc.now = func() time.Time { return f.clock }

	room, err := f.svc.CreateRoom(f.ctx, 1, &CreateRoomRequest{
		Name: "Friday", MaxPlayers: maxPlayers, TimePerQuestion: 30, TotalQuestions: totalQuestions,
	})
	require.NoError(t, err)
	f.room = room
	return f
}

func (f *fixture) host(t *testing.T) uint {
	t.Helper()
	id, err := f.svc.JoinAsHost(f.ctx, "c-host", f.room.Code, "H")
	require.NoError(t, err)
	return id
}

func (f *fixture) join(t *testing.T, conn, name string) uint {
	t.Helper()
	id, err := f.svc.JoinRoom(f.ctx, conn, f.room.Code, name)
	require.NoError(t, err)
	return id
}

// started returns a room showing its first question with host H and player Maya.
func (f *fixture) started(t *testing.T) (hostID, mayaID uint) {
	t.Helper()
	hostID = f.host(t)
	mayaID = f.join(t, "c-maya", "Maya")
	require.NoError(t, f.svc.StartGame(f.ctx, f.room.ID))
	require.NoError(t, f.svc.ShowNextQuestion(f.ctx, f.room.ID))
	return hostID, mayaID
}

func (f *fixture) player(t *testing.T, id uint) *models.Player {
	t.Helper()
	p, err := f.store.GetPlayer(f.ctx, id)
	require.NoError(t, err)
	return p
}

func (f *fixture) phase(t *testing.T) models.Phase {
	t.Helper()
	room, err := f.store.GetRoom(f.ctx, f.room.ID)
	require.NoError(t, err)
	return room.Phase
}

func TestCreateRoomValidates(t *testing.T) {
	svc := NewRoomService(store.NewMemoryStore(), store.NewMemoryQuestionSource(), newFakeHub(), nil, GameOptions{}, quietLogger())
	ctx := context.Background()

	bad := []CreateRoomRequest{
		{Name: "", MaxPlayers: 2, TimePerQuestion: 30, TotalQuestions: 5},
		{Name: "x", MaxPlayers: 0, TimePerQuestion: 30, TotalQuestions: 5},
		{Name: "x", MaxPlayers: 101, TimePerQuestion: 30, TotalQuestions: 5},
		{Name: "x", MaxPlayers: 2, TimePerQuestion: 4, TotalQuestions: 5},
		{Name: "x", MaxPlayers: 2, TimePerQuestion: 30, TotalQuestions: 16},
	}
	for _, req := range bad {
		_, err := svc.CreateRoom(ctx, 1, &req)
		assert.ErrorIs(t, err, ErrInvalidRoomSettings, "%+v", req)
	}
}

func TestCreateRoomRetriesCodeOnConflict(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, st.CreateRoom(ctx, &models.Room{Code: "AAAAAA"}))

	svc := NewRoomService(st, store.NewMemoryQuestionSource(), newFakeHub(), nil, GameOptions{}, quietLogger())
	codes := []string{"AAAAAA", "AAAAAA", "BBBBBB"}
	calls := 0
	svc.newCode = func() (string, error) {
		code := codes[calls]
		calls++
		return code, nil
	}

	room, err := svc.CreateRoom(ctx, 1, &CreateRoomRequest{Name: "x", MaxPlayers: 2, TimePerQuestion: 30, TotalQuestions: 3})
	require.NoError(t, err)
	assert.Equal(t, "BBBBBB", room.Code)
	assert.Equal(t, 3, calls)
	assert.Equal(t, models.PhaseWaiting, room.Phase)
}

func TestJoinRoomNameTakenIgnoresCase(t *testing.T) {
	f := newFixture(t, 5, 3)
	f.join(t, "c1", "Asha")

	_, err := f.svc.JoinRoom(f.ctx, "c2", f.room.Code, "ASHA")
	assert.ErrorIs(t, err, ErrNameTaken)
}

func TestJoinRoomRejections(t *testing.T) {
	f := newFixture(t, 1, 3)
	f.host(t)

	_, err := f.svc.JoinRoom(f.ctx, "c0", "NOPE99", "Maya")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	_, err = f.svc.JoinRoom(f.ctx, "c0", f.room.Code, "   ")
	assert.ErrorIs(t, err, ErrInvalidName)

	// the host does not take a seat
	f.join(t, "c1", "Maya")
	_, err = f.svc.JoinRoom(f.ctx, "c2", f.room.Code, "Ravi")
	assert.ErrorIs(t, err, ErrRoomFull)

	require.NoError(t, f.svc.StartGame(f.ctx, f.room.ID))
	_, err = f.svc.JoinRoom(f.ctx, "c3", f.room.Code, "Late")
	assert.ErrorIs(t, err, ErrGameAlreadyStarted)
}

func TestJoinRoomBroadcasts(t *testing.T) {
	f := newFixture(t, 5, 3)
	id := f.join(t, "c1", "Maya")

	assert.Equal(t, f.room.Code, f.hub.subs["c1"])
	joined := f.hub.last(t, EventJoinedRoom)
	assert.Equal(t, "c1", joined.conn)
	assert.Equal(t, id, joined.payload.(JoinedRoomPayload).PlayerID)

	list := f.hub.last(t, EventPlayerListUpdated).payload.(PlayerListPayload)
	require.Len(t, list.Players, 1)
	assert.Equal(t, "Maya", list.Players[0].Name)
	assert.True(t, list.Players[0].Connected)

	announced := f.hub.last(t, EventPlayerJoined)
	assert.Equal(t, f.room.Code, announced.room)
}

func TestJoinAsHostIsIdempotent(t *testing.T) {
	f := newFixture(t, 5, 3)
	first := f.host(t)

	second, err := f.svc.JoinAsHost(f.ctx, "c-host-2", strings.ToLower(f.room.Code), "Someone Else")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	p := f.player(t, first)
	assert.Equal(t, "H", p.Name)
	assert.Equal(t, "c-host-2", p.ConnectionID)
	assert.True(t, p.IsHost)
	assert.Len(t, f.hub.find(EventPlayerListUpdated), 2)
}

func TestStartGameNeedsAPlayer(t *testing.T) {
	f := newFixture(t, 5, 3)
	f.host(t)

	assert.ErrorIs(t, f.svc.StartGame(f.ctx, f.room.ID), ErrNotEnoughPlayers)
	assert.Equal(t, models.PhaseWaiting, f.phase(t))

	f.join(t, "c1", "Maya")
	require.NoError(t, f.svc.StartGame(f.ctx, f.room.ID))
	assert.Equal(t, models.PhaseStarting, f.phase(t))
	assert.Equal(t, 3, f.hub.last(t, EventGameStarting).payload.(GameStartingPayload).Countdown)

	assert.ErrorIs(t, f.svc.StartGame(f.ctx, f.room.ID), ErrInvalidPhase)
}

func TestWorkedScenario(t *testing.T) {
	f := newFixture(t, 2, 3)
	_, maya := f.started(t)

	q := f.hub.last(t, EventQuestionRevealed).payload.(*QuestionView)
	assert.Equal(t, 1, q.Index)
	assert.Equal(t, 30, q.TimeLimit)
	assert.Equal(t, 100, q.Points)
	assert.Len(t, q.Options, 4)
	assert.NotEmpty(t, f.hub.find(EventLiveLeaderboard))

	require.NoError(t, f.svc.SubmitAnswer(f.ctx, f.room.ID, maya, "b", 5000, false))

	p := f.player(t, maya)
	assert.Equal(t, 142, p.Points)
	assert.Equal(t, 1, p.CorrectAnswers)
	assert.Equal(t, int64(5000), p.TotalTimeMs)
	assert.True(t, p.HasAnsweredCurrent)

	answered := f.hub.last(t, EventPlayerAnswered).payload.(PlayerAnsweredPayload)
	assert.Equal(t, maya, answered.PlayerID)
	assert.Len(t, f.hub.find(EventAllPlayersAnswered), 1)
}

func TestSubmitAnswerIsIdempotent(t *testing.T) {
	f := newFixture(t, 5, 3)
	_, maya := f.started(t)
	f.join2(t)

	require.NoError(t, f.svc.SubmitAnswer(f.ctx, f.room.ID, maya, "A", 1000, false))
	before := f.player(t, maya)
	assert.Equal(t, -25, before.Points)
	assert.Equal(t, 1, before.WrongAnswers)

	err := f.svc.SubmitAnswer(f.ctx, f.room.ID, maya, "B", 1000, false)
	assert.ErrorIs(t, err, ErrAlreadyAnswered)
	after := f.player(t, maya)
	assert.Equal(t, before.Points, after.Points)
	assert.Equal(t, before.WrongAnswers, after.WrongAnswers)

	answers, err := f.store.ListAnswers(f.ctx, f.room.ID, 1)
	require.NoError(t, err)
	assert.Len(t, answers, 1)
	assert.Empty(t, f.hub.find(EventAllPlayersAnswered))
}

// join2 is only valid before the game starts, so it reaches into the store.
func (f *fixture) join2(t *testing.T) {
	t.Helper()
	require.NoError(t, f.store.Update(f.ctx, f.room.ID, func(tx store.Tx) error {
		return tx.AddPlayer(&models.Player{Name: "Ravi"})
	}))
}

func TestSubmitAnswerUnknownOptionIsWrong(t *testing.T) {
	f := newFixture(t, 5, 3)
	_, maya := f.started(t)

	require.NoError(t, f.svc.SubmitAnswer(f.ctx, f.room.ID, maya, "Z", 1000, false))
	answers, err := f.store.ListAnswers(f.ctx, f.room.ID, 1)
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Nil(t, answers[0].SelectedOption)
	assert.False(t, answers[0].IsCorrect)
	assert.Equal(t, -25, answers[0].Points)
}

func TestHostCannotAnswer(t *testing.T) {
	f := newFixture(t, 5, 3)
	host, _ := f.started(t)

	assert.ErrorIs(t, f.svc.SubmitAnswer(f.ctx, f.room.ID, host, "B", 10, false), ErrNotContestant)
	assert.Equal(t, 0, f.player(t, host).Points)
}

func TestLateAnswerAfterRevealIsRejected(t *testing.T) {
	f := newFixture(t, 5, 3)
	_, maya := f.started(t)

	require.NoError(t, f.svc.RevealAnswer(f.ctx, f.room.ID))
	err := f.svc.SubmitAnswer(f.ctx, f.room.ID, maya, "B", 100, false)
	assert.ErrorIs(t, err, ErrInvalidPhase)
	assert.Equal(t, 0, f.player(t, maya).Points)
}

func TestRevealWithoutAnswers(t *testing.T) {
	f := newFixture(t, 5, 3)
	f.started(t)

	require.NoError(t, f.svc.RevealAnswer(f.ctx, f.room.ID))
	revealed := f.hub.last(t, EventAnswerRevealed).payload.(AnswerRevealedPayload)
	assert.Empty(t, revealed.Results)
	assert.Equal(t, "B", revealed.CorrectOption)
	assert.Equal(t, "because", revealed.Explanation)
	assert.Equal(t, models.PhaseShowingAnswer, f.phase(t))

	assert.ErrorIs(t, f.svc.RevealAnswer(f.ctx, f.room.ID), ErrInvalidPhase)
}

func TestRevealIncludesResults(t *testing.T) {
	f := newFixture(t, 5, 3)
	_, maya := f.started(t)
	require.NoError(t, f.svc.SubmitAnswer(f.ctx, f.room.ID, maya, "B", 0, false))

	require.NoError(t, f.svc.RevealAnswer(f.ctx, f.room.ID))
	revealed := f.hub.last(t, EventAnswerRevealed).payload.(AnswerRevealedPayload)
	require.Len(t, revealed.Results, 1)
	r := revealed.Results[0]
	assert.Equal(t, "Maya", r.Name)
	assert.Equal(t, "B", *r.SelectedOption)
	assert.True(t, r.Correct)
	assert.Equal(t, 150, r.Points)
	assert.False(t, r.UsedSkip)
}

func TestSkipThenSubmit(t *testing.T) {
	f := newFixture(t, 5, 3)
	_, maya := f.started(t)

	require.NoError(t, f.svc.SkipQuestion(f.ctx, f.room.ID, maya))
	assert.ErrorIs(t, f.svc.SubmitAnswer(f.ctx, f.room.ID, maya, "B", 100, false), ErrAlreadyAnswered)

	p := f.player(t, maya)
	assert.True(t, p.UsedSkip)
	assert.True(t, p.HasAnsweredCurrent)
	assert.Equal(t, 0, p.Points)
	assert.Equal(t, 0, p.CorrectAnswers)
	assert.Equal(t, 0, p.WrongAnswers)
	assert.Len(t, f.hub.find(EventAllPlayersAnswered), 1)

	answers, err := f.store.ListAnswers(f.ctx, f.room.ID, 1)
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.True(t, answers[0].Skipped())
	assert.Nil(t, answers[0].SelectedOption)

	// single use across the game
	require.NoError(t, f.svc.RevealAnswer(f.ctx, f.room.ID))
	require.NoError(t, f.svc.ShowNextQuestion(f.ctx, f.room.ID))
	assert.ErrorIs(t, f.svc.SkipQuestion(f.ctx, f.room.ID, maya), ErrLifelineUsed)
}

func TestFiftyFifty(t *testing.T) {
	f := newFixture(t, 5, 3)
	_, maya := f.started(t)

	hidden, err := f.svc.UseFiftyFifty(f.ctx, "c-maya", f.room.ID, maya)
	require.NoError(t, err)
	require.Len(t, hidden, 2)
	assert.NotContains(t, hidden, "B")
	assert.NotEqual(t, hidden[0], hidden[1])

	result := f.hub.last(t, EventFiftyFiftyResult)
	assert.Equal(t, "c-maya", result.conn)
	assert.Empty(t, result.room)

	_, err = f.svc.UseFiftyFifty(f.ctx, "c-maya", f.room.ID, maya)
	assert.ErrorIs(t, err, ErrLifelineUsed)

	answers, err := f.store.ListAnswers(f.ctx, f.room.ID, 1)
	require.NoError(t, err)
	assert.Empty(t, answers)

	// the penalty applies even when the client forgets to flag it
	require.NoError(t, f.svc.SubmitAnswer(f.ctx, f.room.ID, maya, "B", 0, false))
	assert.Equal(t, 120, f.player(t, maya).Points)
	answers, err = f.store.ListAnswers(f.ctx, f.room.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, models.LifelineFiftyFifty, answers[0].Lifeline)
}

func TestFiftyFiftyNeverHidesCorrect(t *testing.T) {
	for i := 0; i < 30; i++ {
		f := newFixture(t, 5, 3)
		_, maya := f.started(t)
		hidden, err := f.svc.UseFiftyFifty(f.ctx, "c-maya", f.room.ID, maya)
		require.NoError(t, err)
		assert.NotContains(t, hidden, "B")
	}
}

func TestDoubleDip(t *testing.T) {
	f := newFixture(t, 5, 3)
	_, maya := f.started(t)

	miss, err := f.svc.DoubleDipCheck(f.ctx, "c-maya", f.room.ID, maya, "A")
	require.NoError(t, err)
	assert.False(t, miss.Correct)
	assert.Equal(t, "A", *miss.ChosenOption)
	assert.True(t, f.player(t, maya).UsedDoubleDip)
	assert.False(t, f.player(t, maya).HasAnsweredCurrent)
	assert.Empty(t, f.hub.find(EventPlayerAnswered))

	answers, err := f.store.ListAnswers(f.ctx, f.room.ID, 1)
	require.NoError(t, err)
	assert.Empty(t, answers)

	f.clock = f.clock.Add(3 * time.Second)
	hit, err := f.svc.DoubleDipCheck(f.ctx, "c-maya", f.room.ID, maya, "b")
	require.NoError(t, err)
	assert.True(t, hit.Correct)
	assert.Equal(t, ComputePoints(1, 3000, 30000, true, true), hit.Points)

	p := f.player(t, maya)
	assert.Equal(t, hit.Points, p.Points)
	assert.Equal(t, int64(3000), p.TotalTimeMs)
	assert.True(t, p.HasAnsweredCurrent)
	assert.Len(t, f.hub.find(EventPlayerAnswered), 1)
	assert.Len(t, f.hub.find(EventDoubleDipResult), 2)

	answers, err = f.store.ListAnswers(f.ctx, f.room.ID, 1)
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Equal(t, models.LifelineDoubleDip, answers[0].Lifeline)
	assert.Equal(t, 3000, answers[0].ElapsedMs)

	require.NoError(t, f.svc.RevealAnswer(f.ctx, f.room.ID))
	require.NoError(t, f.svc.ShowNextQuestion(f.ctx, f.room.ID))
	_, err = f.svc.DoubleDipCheck(f.ctx, "c-maya", f.room.ID, maya, "B")
	assert.ErrorIs(t, err, ErrLifelineUsed)
}

func TestShowNextQuestionStopsAtTotal(t *testing.T) {
	f := newFixture(t, 5, 1)
	f.started(t)
	require.NoError(t, f.svc.RevealAnswer(f.ctx, f.room.ID))

	err := f.svc.ShowNextQuestion(f.ctx, f.room.ID)
	assert.ErrorIs(t, err, ErrNoQuestionsAvailable)
	assert.Equal(t, models.PhaseShowingAnswer, f.phase(t))
}

func TestShowNextQuestionWithEmptyLevel(t *testing.T) {
	f := newFixture(t, 5, 5)
	f.started(t)
	for i := 0; i < 2; i++ {
		require.NoError(t, f.svc.RevealAnswer(f.ctx, f.room.ID))
		require.NoError(t, f.svc.ShowNextQuestion(f.ctx, f.room.ID))
	}
	require.NoError(t, f.svc.RevealAnswer(f.ctx, f.room.ID))

	err := f.svc.ShowNextQuestion(f.ctx, f.room.ID)
	assert.ErrorIs(t, err, ErrNoQuestionsAvailable)
	room, err := f.store.GetRoom(f.ctx, f.room.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseShowingAnswer, room.Phase)
	assert.Equal(t, 3, room.CurrentIndex)
}

func TestShowNextQuestionResetsAnsweredFlags(t *testing.T) {
	f := newFixture(t, 5, 3)
	_, maya := f.started(t)
	require.NoError(t, f.svc.SubmitAnswer(f.ctx, f.room.ID, maya, "B", 100, false))
	require.NoError(t, f.svc.RevealAnswer(f.ctx, f.room.ID))
	require.NoError(t, f.svc.ShowLeaderboard(f.ctx, f.room.ID))
	assert.Equal(t, models.PhaseShowingLeaderboard, f.phase(t))

	require.NoError(t, f.svc.ShowNextQuestion(f.ctx, f.room.ID))
	assert.False(t, f.player(t, maya).HasAnsweredCurrent)
	assert.Equal(t, 2, f.hub.last(t, EventQuestionRevealed).payload.(*QuestionView).Index)

	assert.ErrorIs(t, f.svc.ShowNextQuestion(f.ctx, f.room.ID), ErrInvalidPhase)
}

func TestLeaderboardOrdering(t *testing.T) {
	f := newFixture(t, 5, 3)
	f.host(t)
	slow := f.join(t, "c1", "Slow")
	fast := f.join(t, "c2", "Fast")
	wrong := f.join(t, "c3", "Wrong")
	require.NoError(t, f.svc.StartGame(f.ctx, f.room.ID))
	require.NoError(t, f.svc.ShowNextQuestion(f.ctx, f.room.ID))

	require.NoError(t, f.svc.SubmitAnswer(f.ctx, f.room.ID, slow, "B", 40000, false))
	require.NoError(t, f.svc.SubmitAnswer(f.ctx, f.room.ID, fast, "B", 35000, false))
	require.NoError(t, f.svc.SubmitAnswer(f.ctx, f.room.ID, wrong, "C", 1000, false))
	require.NoError(t, f.svc.RevealAnswer(f.ctx, f.room.ID))
	require.NoError(t, f.svc.ShowLeaderboard(f.ctx, f.room.ID))

	board := f.hub.last(t, EventLeaderboardUpdated).payload.(LeaderboardPayload).Leaderboard
	require.Len(t, board, 4)
	assert.Equal(t, "Fast", board[0].Name)
	assert.Equal(t, "Slow", board[1].Name)
	assert.Equal(t, 100, board[0].Points)
	assert.Equal(t, 1, board[0].Rank)
	assert.Equal(t, "H", board[2].Name)
	assert.Equal(t, "Wrong", board[3].Name)
	assert.Equal(t, 1, board[3].Wrong)
}

func TestEndGame(t *testing.T) {
	f := newFixture(t, 5, 3)
	f.host(t)
	assert.ErrorIs(t, f.svc.EndGame(f.ctx, f.room.ID), ErrInvalidPhase)

	maya := f.join(t, "c-maya", "Maya")
	require.NoError(t, f.svc.StartGame(f.ctx, f.room.ID))
	require.NoError(t, f.svc.ShowNextQuestion(f.ctx, f.room.ID))
	require.NoError(t, f.svc.SubmitAnswer(f.ctx, f.room.ID, maya, "B", 100, false))
	require.NoError(t, f.svc.EndGame(f.ctx, f.room.ID))

	ended := f.hub.last(t, EventGameEnded).payload.(GameEndedPayload)
	require.NotNil(t, ended.WinnerName)
	assert.Equal(t, "Maya", *ended.WinnerName)
	assert.Equal(t, maya, *ended.WinnerID)
	assert.Len(t, ended.Leaderboard, 2)

	room, err := f.store.GetRoom(f.ctx, f.room.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseFinished, room.Phase)
	assert.NotNil(t, room.EndedAt)
	assert.ErrorIs(t, f.svc.EndGame(f.ctx, f.room.ID), ErrInvalidPhase)
}

func TestReconnect(t *testing.T) {
	f := newFixture(t, 5, 3)
	_, maya := f.started(t)
	other, err := f.svc.CreateRoom(f.ctx, 1, &CreateRoomRequest{Name: "Other", MaxPlayers: 5, TimePerQuestion: 30, TotalQuestions: 3})
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.Reconnect(f.ctx, "c-new", maya, "NOPE99"), ErrReconnectFailed)
	assert.ErrorIs(t, f.svc.Reconnect(f.ctx, "c-new", 9999, f.room.Code), ErrReconnectFailed)
	assert.ErrorIs(t, f.svc.Reconnect(f.ctx, "c-new", maya, other.Code), ErrReconnectFailed)

	require.NoError(t, f.svc.Disconnect(f.ctx, "c-maya"))
	assert.False(t, f.player(t, maya).Connected)

	require.NoError(t, f.svc.Reconnect(f.ctx, "c-new", maya, f.room.Code))
	p := f.player(t, maya)
	assert.True(t, p.Connected)
	assert.Equal(t, "c-new", p.ConnectionID)
	assert.Equal(t, f.room.Code, f.hub.subs["c-new"])

	back := f.hub.last(t, EventReconnected)
	assert.Equal(t, "c-new", back.conn)
	payload := back.payload.(ReconnectedPayload)
	assert.Equal(t, models.PhaseShowingQuestion, payload.Phase)
	assert.Equal(t, 1, payload.QuestionIndex)
	require.NotNil(t, payload.Question)
	assert.NotEmpty(t, f.hub.find(EventPlayerReconnected))
}

func TestDisconnect(t *testing.T) {
	f := newFixture(t, 5, 3)
	maya := f.join(t, "c-maya", "Maya")

	require.NoError(t, f.svc.Disconnect(f.ctx, "unknown"))
	assert.Empty(t, f.hub.find(EventPlayerDisconnected))

	require.NoError(t, f.svc.Disconnect(f.ctx, "c-maya"))
	p := f.player(t, maya)
	assert.False(t, p.Connected)
	assert.Empty(t, p.ConnectionID)
	assert.Len(t, f.hub.find(EventPlayerDisconnected), 1)

	// a disconnected player keeps their seat
	_, err := f.svc.JoinRoom(f.ctx, "c2", f.room.Code, "maya")
	assert.ErrorIs(t, err, ErrNameTaken)
}

func TestConcurrentSubmitsScoreOnce(t *testing.T) {
	f := newFixture(t, 5, 3)
	_, maya := f.started(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.svc.SubmitAnswer(f.ctx, f.room.ID, maya, "B", 5000, false)
		}()
	}
	wg.Wait()

	assert.Equal(t, 142, f.player(t, maya).Points)
	answers, err := f.store.ListAnswers(f.ctx, f.room.ID, 1)
	require.NoError(t, err)
	assert.Len(t, answers, 1)
	assert.Len(t, f.hub.find(EventAllPlayersAnswered), 1)
}

func TestSubmitRacingRevealIsConsistent(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := newFixture(t, 5, 3)
		_, maya := f.started(t)

		var wg sync.WaitGroup
		var submitErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			submitErr = f.svc.SubmitAnswer(f.ctx, f.room.ID, maya, "B", 1000, false)
		}()
		go func() {
			defer wg.Done()
			_ = f.svc.RevealAnswer(f.ctx, f.room.ID)
		}()
		wg.Wait()

		answers, err := f.store.ListAnswers(f.ctx, f.room.ID, 1)
		require.NoError(t, err)
		revealed := f.hub.last(t, EventAnswerRevealed).payload.(AnswerRevealedPayload)
		if submitErr == nil {
			assert.Len(t, answers, 1)
		} else {
			assert.ErrorIs(t, submitErr, ErrInvalidPhase)
			assert.Empty(t, answers)
			assert.Empty(t, revealed.Results)
		}
	}
}

func TestAutoReveal(t *testing.T) {
	f := newFixture(t, 5, 3)
	var scheduled []func()
	var waits []time.Duration
	f.svc.opts = GameOptions{AutoReveal: true, RevealGrace: 2 * time.Second}
	f.svc.afterFunc = func(d time.Duration, fn func()) {
		waits = append(waits, d)
		scheduled = append(scheduled, fn)
	}
	f.started(t)
	require.Len(t, scheduled, 1)
	assert.Equal(t, 32*time.Second, waits[0])

	scheduled[0]()
	assert.Equal(t, models.PhaseShowingAnswer, f.phase(t))

	// a timer from an earlier question must not close the next one
	require.NoError(t, f.svc.ShowNextQuestion(f.ctx, f.room.ID))
	scheduled[0]()
	assert.Equal(t, models.PhaseShowingQuestion, f.phase(t))
	scheduled[1]()
	assert.Equal(t, models.PhaseShowingAnswer, f.phase(t))
}

func TestDeleteRoom(t *testing.T) {
	f := newFixture(t, 5, 3)
	f.join(t, "c1", "Maya")

	assert.ErrorIs(t, f.svc.DeleteRoom(f.ctx, 2, f.room.Code), ErrNotOwner)
	require.NoError(t, f.svc.DeleteRoom(f.ctx, 1, f.room.Code))
	assert.Equal(t, []string{f.room.Code}, f.hub.closed)
	assert.NotEmpty(t, f.hub.find(EventRoomClosed))

	_, err := f.svc.Snapshot(f.ctx, f.room.Code)
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestSnapshot(t *testing.T) {
	f := newFixture(t, 5, 3)
	f.host(t)
	f.join(t, "c1", "Maya")

	snap, err := f.svc.Snapshot(f.ctx, f.room.Code)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseWaiting, snap.Phase)
	assert.Len(t, snap.Players, 2)
}

func TestUsedQuestions(t *testing.T) {
	answers := []models.Answer{{QuestionID: 4}, {QuestionID: 4}, {QuestionID: 2}, {QuestionID: 0}}
	assert.Equal(t, []uint{7, 4, 2}, usedQuestions(answers, 7))
	assert.Equal(t, []uint{4, 2}, usedQuestions(answers, 0))
}

func TestConnectionBindsOnePlayer(t *testing.T) {
	f := newFixture(t, 5, 3)
	asha := f.join(t, "c-x", "Asha")

	_, err := f.svc.JoinRoom(f.ctx, "c-x", f.room.Code, "Bala")
	assert.ErrorIs(t, err, ErrAlreadyJoined)
	_, err = f.svc.JoinAsHost(f.ctx, "c-x", f.room.Code, "H")
	assert.ErrorIs(t, err, ErrAlreadyJoined)

	other, err := f.svc.CreateRoom(f.ctx, 1, &CreateRoomRequest{Name: "Other", MaxPlayers: 5, TimePerQuestion: 30, TotalQuestions: 3})
	require.NoError(t, err)
	_, err = f.svc.JoinRoom(f.ctx, "c-x", other.Code, "Asha")
	assert.ErrorIs(t, err, ErrAlreadyJoined)

	ravi := f.join(t, "c-r", "Ravi")
	assert.ErrorIs(t, f.svc.Reconnect(f.ctx, "c-x", ravi, f.room.Code), ErrAlreadyJoined)
	assert.Equal(t, "c-r", f.player(t, ravi).ConnectionID)

	players, err := f.store.ListPlayers(f.ctx, f.room.ID)
	require.NoError(t, err)
	assert.Len(t, players, 2)
	assert.Equal(t, f.room.Code, f.hub.subs["c-x"])

	// reconnecting a player to the socket it already holds is fine
	require.NoError(t, f.svc.Reconnect(f.ctx, "c-x", asha, f.room.Code))

	sess, err := f.svc.SessionFor(f.ctx, "c-x")
	require.NoError(t, err)
	assert.Equal(t, asha, sess.PlayerID)

	require.NoError(t, f.svc.Disconnect(f.ctx, "c-x"))
	assert.False(t, f.player(t, asha).Connected)
	_, err = f.svc.SessionFor(f.ctx, "c-x")
	assert.ErrorIs(t, err, ErrNotJoined)
}

func TestHostSocketCannotJoinAsPlayer(t *testing.T) {
	f := newFixture(t, 5, 3)
	host := f.host(t)

	_, err := f.svc.JoinRoom(f.ctx, "c-host", f.room.Code, "Sneaky")
	assert.ErrorIs(t, err, ErrAlreadyJoined)

	again, err := f.svc.JoinAsHost(f.ctx, "c-host", f.room.Code, "H")
	require.NoError(t, err)
	assert.Equal(t, host, again)

	sess, err := f.svc.SessionFor(f.ctx, "c-host")
	require.NoError(t, err)
	assert.True(t, sess.IsHost)
}

func TestDisconnectClearsEveryBinding(t *testing.T) {
	f := newFixture(t, 5, 3)
	other, err := f.svc.CreateRoom(f.ctx, 1, &CreateRoomRequest{Name: "Other", MaxPlayers: 5, TimePerQuestion: 30, TotalQuestions: 3})
	require.NoError(t, err)

	// rows left bound to one socket by an older process
	var ids []uint
	for _, roomID := range []uint{f.room.ID, other.ID} {
		require.NoError(t, f.store.Update(f.ctx, roomID, func(tx store.Tx) error {
			p := &models.Player{Name: "Asha", ConnectionID: "c-x", Connected: true}
			err := tx.AddPlayer(p)
			ids = append(ids, p.ID)
			return err
		}))
	}

	sess, err := f.svc.SessionFor(f.ctx, "c-x")
	require.NoError(t, err)
	assert.Equal(t, ids[0], sess.PlayerID)

	require.NoError(t, f.svc.Disconnect(f.ctx, "c-x"))
	for _, id := range ids {
		p := f.player(t, id)
		assert.False(t, p.Connected)
		assert.Empty(t, p.ConnectionID)
	}
	assert.Len(t, f.hub.find(EventPlayerDisconnected), 2)
}
