package handlers

import (
	"context"
	"fmt"

	"github.com/c360studio/evoq/dispatch"
)

// JobExecutorName is the handler name the job_requests queue routes to.
const JobExecutorName = "job-executor"

func init() {
	if err := dispatch.RegisterHandler(JobExecutorName, HandleCodeExecution); err != nil {
		panic("failed to register job-executor handler: " + err.Error())
	}
}

// Analysis types accepted in code_execution_request payloads.
const (
	AnalysisQuality  = "quality"
	AnalysisSecurity = "security"
)

// JobRequest is the decoded payload of a code_execution_request message.
type JobRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	// AnalysisType is quality or security. Empty defaults to quality.
	AnalysisType string `json:"analysis_type,omitempty"`
}

// HandleCodeExecution statically analyzes the submitted code and reports a
// quality score with the findings behind it. The code is parsed, never run.
// The report is a pure function of the payload, so redelivered messages
// produce identical results.
func HandleCodeExecution(ctx context.Context, req *dispatch.Request) (dispatch.Result, error) {
	var job JobRequest
	if err := decodePayload(req.Payload, &job); err != nil {
		return nil, dispatch.NewInvalidInputError(err)
	}
	if job.Code == "" {
		return nil, dispatch.NewInvalidInputError(fmt.Errorf("code is required"))
	}

	spec, ok := languages[job.Language]
	if !ok {
		return nil, dispatch.NewInvalidInputError(fmt.Errorf("unsupported language %q", job.Language))
	}

	analysisType := job.AnalysisType
	if analysisType == "" {
		analysisType = AnalysisQuality
	}
	switch analysisType {
	case AnalysisQuality, AnalysisSecurity:
	default:
		return nil, dispatch.NewInvalidInputError(fmt.Errorf("unsupported analysis type %q", job.AnalysisType))
	}

	report, err := analyzeCode(ctx, spec, []byte(job.Code), analysisType == AnalysisSecurity)
	if err != nil {
		return nil, err
	}
	report.AnalysisType = analysisType

	return dispatch.Result{
		"language":      report.Language,
		"analysis_type": report.AnalysisType,
		"quality_score": report.QualityScore,
		"issues":        report.Issues,
		"findings":      report.Findings,
		"functions":     report.Functions,
		"lines":         report.Lines,
	}, nil
}
