package services

import (
	"sort"
	"strings"

	"quizroom/models"
)

// Outbound event types.
const (
	EventPlayerListUpdated  = "player_list_updated"
	EventJoinedRoom         = "joined_room"
	EventPlayerJoined       = "player_joined"
	EventGameStarting       = "game_starting"
	EventQuestionRevealed   = "question_revealed"
	EventPlayerAnswered     = "player_answered"
	EventAllPlayersAnswered = "all_players_answered"
	EventAnswerRevealed     = "answer_revealed"
	EventLiveLeaderboard    = "live_leaderboard"
	EventLeaderboardUpdated = "leaderboard_updated"
	EventGameEnded          = "game_ended"
	EventFiftyFiftyResult   = "fifty_fifty_result"
	EventDoubleDipResult    = "double_dip_result"
	EventReconnected        = "reconnected"
	EventPlayerReconnected  = "player_reconnected"
	EventPlayerDisconnected = "player_disconnected"
	EventRoomClosed         = "room_closed"
	EventError              = "error"
	EventPong               = "pong"
)

// StartCountdownSeconds is the countdown clients show after game_starting.
const StartCountdownSeconds = 3

type PlayerView struct {
	ID        uint   `json:"id"`
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
	Points    int    `json:"points"`
	Answered  bool   `json:"answered"`
	IsHost    bool   `json:"is_host"`
}

type PlayerListPayload struct {
	Players []PlayerView `json:"players"`
}

type JoinedRoomPayload struct {
	PlayerID uint         `json:"player_id"`
	Name     string       `json:"name"`
	RoomCode string       `json:"room_code"`
	RoomName string       `json:"room_name"`
	IsHost   bool         `json:"is_host"`
	Phase    models.Phase `json:"phase"`
}

type PlayerRefPayload struct {
	PlayerID uint   `json:"player_id"`
	Name     string `json:"name"`
}

type PlayerAnsweredPayload struct {
	PlayerID uint   `json:"player_id"`
	Name     string `json:"name"`
	Answered bool   `json:"answered"`
}

type GameStartingPayload struct {
	Countdown      int `json:"countdown"`
	TotalQuestions int `json:"total_questions"`
}

type QuestionView struct {
	Index     int      `json:"index"`
	Total     int      `json:"total"`
	Text      string   `json:"text"`
	Options   []string `json:"options"`
	TimeLimit int      `json:"time_limit"`
	Points    int      `json:"points"`
}

type PlayerResult struct {
	ID             uint    `json:"id"`
	Name           string  `json:"name"`
	SelectedOption *string `json:"selected_option"`
	Correct        bool    `json:"correct"`
	Points         int     `json:"points"`
	ElapsedMs      int     `json:"elapsed_ms"`
	UsedSkip       bool    `json:"used_skip"`
}

type AnswerRevealedPayload struct {
	QuestionIndex int            `json:"question_index"`
	CorrectOption string         `json:"correct_option"`
	Explanation   string         `json:"explanation"`
	Results       []PlayerResult `json:"results"`
}

type LeaderboardEntry struct {
	Rank        int    `json:"rank"`
	ID          uint   `json:"id"`
	Name        string `json:"name"`
	Points      int    `json:"points"`
	Correct     int    `json:"correct"`
	Wrong       int    `json:"wrong"`
	TotalTimeMs int64  `json:"total_time_ms"`
	IsHost      bool   `json:"is_host"`
	Answered    bool   `json:"answered"`
}

type LeaderboardPayload struct {
	QuestionIndex  int                `json:"question_index"`
	TotalQuestions int                `json:"total_questions"`
	Leaderboard    []LeaderboardEntry `json:"leaderboard"`
}

type GameEndedPayload struct {
	WinnerID    *uint              `json:"winner_id"`
	WinnerName  *string            `json:"winner_name"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
}

type FiftyFiftyPayload struct {
	HiddenOptions []string `json:"hidden_options"`
}

type DoubleDipResult struct {
	Correct      bool    `json:"correct"`
	ChosenOption *string `json:"chosen_option"`
	Points       int     `json:"points"`
}

type ReconnectedPayload struct {
	PlayerID       uint          `json:"player_id"`
	Name           string        `json:"name"`
	RoomCode       string        `json:"room_code"`
	IsHost         bool          `json:"is_host"`
	Phase          models.Phase  `json:"phase"`
	QuestionIndex  int           `json:"question_index"`
	TotalQuestions int           `json:"total_questions"`
	Points         int           `json:"points"`
	Answered       bool          `json:"answered"`
	Question       *QuestionView `json:"question,omitempty"`
}

type RoomClosedPayload struct {
	RoomCode string `json:"room_code"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

func playerViews(players []models.Player) []PlayerView {
	views := make([]PlayerView, 0, len(players))
	for _, p := range players {
		views = append(views, PlayerView{
			ID:        p.ID,
			Name:      p.Name,
			Connected: p.Connected,
			Points:    p.Points,
			Answered:  p.HasAnsweredCurrent,
			IsHost:    p.IsHost,
		})
	}
	return views
}

// rankPlayers orders by points descending, then total answering time
// ascending, then name.
func rankPlayers(players []models.Player) []LeaderboardEntry {
	sorted := append([]models.Player(nil), players...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Points != b.Points {
			return a.Points > b.Points
		}
		if a.TotalTimeMs != b.TotalTimeMs {
			return a.TotalTimeMs < b.TotalTimeMs
		}
		return strings.ToLower(a.Name) < strings.ToLower(b.Name)
	})

	entries := make([]LeaderboardEntry, 0, len(sorted))
	for i, p := range sorted {
		entries = append(entries, LeaderboardEntry{
			Rank:        i + 1,
			ID:          p.ID,
			Name:        p.Name,
			Points:      p.Points,
			Correct:     p.CorrectAnswers,
			Wrong:       p.WrongAnswers,
			TotalTimeMs: p.TotalTimeMs,
			IsHost:      p.IsHost,
			Answered:    p.HasAnsweredCurrent,
		})
	}
	return entries
}

func questionView(room *models.Room, q *models.Question) *QuestionView {
	return &QuestionView{
		Index:     room.CurrentIndex,
		Total:     room.TotalQuestions,
		Text:      q.Text,
		Options:   q.Options(),
		TimeLimit: room.TimePerQuestion,
		Points:    BasePoints(room.CurrentIndex),
	}
}
