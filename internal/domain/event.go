package domain

const (
	EventNameGameFinished    = "game.finished"
	EventNameHistoryRecorded = "history.recorded"
	EventNameStateChanged    = "state.changed"
)

type EventGameFinished struct {
	Result GameResult
}

func (EventGameFinished) Name() string { return EventNameGameFinished }

type EventHistoryRecorded struct {
	Entry HistoryEntry
}

func (EventHistoryRecorded) Name() string { return EventNameHistoryRecorded }

type EventStateChanged struct {
	Snapshot Snapshot
}

func (EventStateChanged) Name() string { return EventNameStateChanged }
