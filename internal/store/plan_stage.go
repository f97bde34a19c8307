package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// Plan-stage artifact types. Plan generation is not a real tool call,
// but it appears in the same audit trail under a synthetic execution id.
const (
	ArtifactPrompt          = "prompt"
	ArtifactPlan            = "plan"
	ArtifactValidationError = "validation_error"
)

// RecordPlanStage logs a planning stage into the execution log under
// the synthetic id "<tool>_<planID>". The prompt and the produced plan
// are stored as artifacts; when validation failed, a validation_error
// artifact is added and the row is marked unsuccessful.
func (s *ExecutionStore) RecordPlanStage(tool, planID, prompt string, planDoc interface{}, validationErr error) error {
	planJSON, err := json.Marshal(planDoc)
	if err != nil {
		return fmt.Errorf("%w: marshal plan: %v", ErrStorage, err)
	}

	artifacts := []Artifact{
		{Type: ArtifactPrompt, Content: map[string]string{"prompt": prompt}},
		{Type: ArtifactPlan, Content: json.RawMessage(planJSON)},
	}
	errMsg := ""
	if validationErr != nil {
		errMsg = validationErr.Error()
		artifacts = append(artifacts, Artifact{
			Type:    ArtifactValidationError,
			Content: map[string]string{"error": errMsg},
		})
	}

	args, _ := json.Marshal(map[string]string{"plan_id": planID})
	return s.RecordExecution(Execution{
		ID:            fmt.Sprintf("%s_%s", tool, planID),
		ToolName:      tool,
		ArgumentsJSON: string(args),
		Timestamp:     time.Now().UnixMilli(),
		Success:       validationErr == nil,
		ErrorMessage:  errMsg,
	}, artifacts)
}
