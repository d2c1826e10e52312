package duel

import "github.com/quizduel/backend/internal/domain"

// Wire message types exchanged over the per-player connection.
const (
	// client -> server
	TypeJoinMatchmaking  = "join_matchmaking"
	TypeLeaveMatchmaking = "leave_matchmaking"
	TypeAnswerQuestion   = "answer_question"

	// server -> client
	TypeMatchFound           = "match_found"
	TypeMatchmakingCancelled = "matchmaking_cancelled"
	TypeAnswerFeedback       = "answer_feedback"
	TypeScoreUpdate          = "score_update"
	TypeNextQuestion         = "next_question"
	TypeGameEnded            = "game_ended"
	TypeOpponentDisconnected = "opponent_disconnected"
	TypeOpponentReconnected  = "opponent_reconnected"
	TypeError                = "error"
)

// Message is the JSON envelope for every wire message, both directions.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type MatchFoundPayload struct {
	SessionID  string            `json:"sessionId"`
	OpponentID string            `json:"opponentId"`
	Questions  []domain.Question `json:"questions"`
}

type MatchmakingCancelledPayload struct {
	Message string `json:"message"`
}

type AnswerFeedbackPayload struct {
	PlayerID      string `json:"playerId"`
	QuestionOrder int    `json:"questionOrder"`
	IsCorrect     bool   `json:"isCorrect"`
	CorrectAnswer string `json:"correctAnswer"`
}

type ScoreUpdatePayload struct {
	SessionID string         `json:"sessionId"`
	Scores    map[string]int `json:"scores"`
}

type NextQuestionPayload struct {
	Question domain.Question `json:"question"`
}

type GameEndedPayload struct {
	SessionID string         `json:"sessionId"`
	Winner    string         `json:"winner"`
	Scores    map[string]int `json:"scores"`
}

type OpponentPayload struct {
	OpponentID string `json:"opponentId"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
