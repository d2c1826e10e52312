package domain

const (
	EventNameMatchEnded = "match.ended"
)

type EventMatchEnded struct {
	Result MatchResult
}

func (EventMatchEnded) Name() string { return EventNameMatchEnded }
