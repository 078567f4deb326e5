package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSecurityAssessment runs the periodic security posture assessment.
	TaskSecurityAssessment = "security:assessment"
)

// SecurityAssessmentPayload parameterises an assessment run.
type SecurityAssessmentPayload struct {
	// Trigger records what started the run: "cron" or "manual".
	Trigger string `json:"trigger"`
}

// NewSecurityAssessmentTask constructs an Asynq task for one assessment run.
func NewSecurityAssessmentTask(payload SecurityAssessmentPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSecurityAssessment, data), nil
}
