package queue

import (
	"encoding/json"
	"fmt"
)

// TypeGenerateWarnings asks a worker to recompute one week of warnings.
const TypeGenerateWarnings = "generate_warnings"

// GenerateWarnings is the body of a TypeGenerateWarnings message.
type GenerateWarnings struct {
	WeekStart string `json:"week_start"`
	Threshold int    `json:"threshold"`
	// Attempt counts earlier failed runs of this job.
	Attempt int `json:"attempt,omitempty"`
}

// NewGenerateWarnings builds a generation job.
func NewGenerateWarnings(weekStart string, threshold int) (Message, error) {
	return EncodeGenerateWarnings(GenerateWarnings{WeekStart: weekStart, Threshold: threshold})
}

// EncodeGenerateWarnings wraps job in a message, keeping its attempt count.
func EncodeGenerateWarnings(job GenerateWarnings) (Message, error) {
	body, err := json.Marshal(job)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: TypeGenerateWarnings, Body: body}, nil
}

// DecodeGenerateWarnings reads the job out of msg.
func DecodeGenerateWarnings(msg Message) (GenerateWarnings, error) {
	if msg.Type != TypeGenerateWarnings {
		return GenerateWarnings{}, fmt.Errorf("unexpected job type %q", msg.Type)
	}
	var job GenerateWarnings
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		return GenerateWarnings{}, fmt.Errorf("decode %s: %w", msg.Type, err)
	}
	return job, nil
}
