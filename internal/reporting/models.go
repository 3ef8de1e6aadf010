package reporting

import "time"

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest filters the summary. Zero fields match everything.
type CallsSummaryRequest struct {
	Range         TimeRange `json:"range"`
	Direction     string    `json:"direction,omitempty"`
	PhoneNumberID string    `json:"phone_number_id,omitempty"`
}

type CallsSummary struct {
	Direction     string `json:"direction,omitempty"`
	PhoneNumberID string `json:"phone_number_id,omitempty"`

	TotalCalls      int `json:"total_calls"`
	CompletedCalls  int `json:"completed_calls"`
	FailedCalls     int `json:"failed_calls"`
	NoAnswerCalls   int `json:"no_answer_calls"`
	BusyCalls       int `json:"busy_calls"`
	CanceledCalls   int `json:"canceled_calls"`
	InProgressCalls int `json:"in_progress_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	RecordedCalls int `json:"recorded_calls"`

	// Provider prices are negative for charges; TotalPrice is the absolute spend.
	TotalPrice float64 `json:"total_price"`
	PriceUnit  string  `json:"price_unit,omitempty"`
}

// Call statuses as normalized by the history layer.
const (
	StatusQueued     = "queued"
	StatusRinging    = "ringing"
	StatusInProgress = "in-progress"
	StatusCompleted  = "completed"
	StatusBusy       = "busy"
	StatusFailed     = "failed"
	StatusNoAnswer   = "no-answer"
	StatusCanceled   = "canceled"
)
