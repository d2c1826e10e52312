package domain

import "time"

// SessionStatus is the lifecycle state of a duel session.
type SessionStatus string

const (
	StatusActive SessionStatus = "ACTIVE"
	StatusEnded  SessionStatus = "ENDED"
)

// Draw is the WinnerID value recorded when both players finish on the same score.
const Draw = "DRAW"

// Identity is the authenticated identity behind a connection, resolved once
// at connection establishment.
type Identity struct {
	PlayerID    string
	Username    string
	SkillRating int
}

// Question is a single quiz question. Immutable once attached to a session;
// Order defines the advancement sequence both players traverse.
type Question struct {
	Order         int      `json:"order"`
	Prompt        string   `json:"prompt"`
	CorrectAnswer string   `json:"-"`
	Distractors   []string `json:"distractors"`
	Category      string   `json:"category"`
	Difficulty    string   `json:"difficulty"`
}

// AnswerRecord is the write-once record of one player's answer to one question.
type AnswerRecord struct {
	QuestionOrder int
	PlayerID      string
	Answer        string
	Correct       bool
}

// Session is one two-player duel. Mutated only by the duel orchestrator,
// under the store's per-session lock.
type Session struct {
	SessionID    string
	PlayerA      string
	PlayerB      string
	Status       SessionStatus
	Scores       map[string]int
	Questions    []Question
	CurrentOrder int
	// Answers is keyed by question order, then player ID.
	Answers   map[int]map[string]AnswerRecord
	WinnerID  string
	StartedAt time.Time
}

// IsParticipant reports whether the player is one of the session's two players.
func (s *Session) IsParticipant(playerID string) bool {
	return playerID == s.PlayerA || playerID == s.PlayerB
}

// Opponent returns the other participant's ID.
func (s *Session) Opponent(playerID string) string {
	if playerID == s.PlayerA {
		return s.PlayerB
	}
	return s.PlayerA
}

// Answered reports whether the player already has an answer record for the question.
func (s *Session) Answered(order int, playerID string) bool {
	_, ok := s.Answers[order][playerID]
	return ok
}

// BothAnswered reports whether both participants have an answer record for the question.
func (s *Session) BothAnswered(order int) bool {
	return len(s.Answers[order]) == 2
}

// MatchResult is the immutable outcome of an ended session.
type MatchResult struct {
	SessionID string
	// WinnerID is a player ID, or Draw on a tie.
	WinnerID string
	Scores   map[string]int
	EndedAt  time.Time
}
