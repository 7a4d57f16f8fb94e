package domain

import (
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Report is one unit outcome published for a job
type Report struct {
	JobID   string `json:"job_id"`
	Success bool   `json:"success"`
	ItemID  string `json:"item_id,omitempty"`
}

// ParseReport decodes and validates a report message body
func ParseReport(body []byte) (Report, error) {
	var r Report
	if err := json.Unmarshal(body, &r); err != nil {
		return Report{}, fmt.Errorf("%w: %v", ErrInvalidReport, err)
	}
	if r.JobID == "" {
		return Report{}, fmt.Errorf("%w: job_id is required", ErrInvalidReport)
	}
	return r, nil
}

// ReportMessage is a report paired with the delivery it arrived in
type ReportMessage struct {
	Report
	Delivery amqp.Delivery
}
