package gcal

type EventTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

// When returns whichever representation the API filled in: a datetime for
// timed events, a bare date for all-day events.
func (t EventTime) When() string {
	if t.DateTime != "" {
		return t.DateTime
	}
	return t.Date
}

type Event struct {
	ID      string    `json:"id,omitempty"`
	Summary string    `json:"summary"`
	Status  string    `json:"status,omitempty"`
	Start   EventTime `json:"start"`
	End     EventTime `json:"end"`
}

type EventInput struct {
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Start       EventTime `json:"start"`
	End         EventTime `json:"end"`
}

type eventList struct {
	Items []Event `json:"items"`
}
