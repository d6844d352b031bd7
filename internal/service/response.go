package service

import (
	"time"

	"motor-quality-service/internal/analytics"
	"motor-quality-service/internal/models"
	"motor-quality-service/internal/pipeline"
	"motor-quality-service/internal/quality"
	"motor-quality-service/internal/temporal"
)

// ProcessResponse ответ на запуск обработки развертывания
type ProcessResponse struct {
	RunID        string                   `json:"run_id"`
	DeploymentID int64                    `json:"despliegue_id"`
	Summary      models.DeploymentSummary `json:"summary"`
	Report       quality.Report           `json:"report"`
	Temporal     temporal.Summary         `json:"temporal"`
	Abstentions  []analytics.Abstention   `json:"abstentions"`
	// Records заполняется только для анализа без сохранения
	Records   []RecordVerdict     `json:"records,omitempty"`
	Persisted models.PersistStats `json:"persisted"`
}

// RecordVerdict код и флаги одного измерения после дедупликации
type RecordVerdict struct {
	Timestamp time.Time      `json:"ts_utc"`
	Variable  string         `json:"variable"`
	Value     models.Value   `json:"value"`
	Code      quality.Code   `json:"quality_code"`
	Label     string         `json:"quality_label"`
	Flags     []quality.Flag `json:"flags,omitempty"`
}

// BatchItem результат обработки одного развертывания пакета
type BatchItem struct {
	DeploymentID int64            `json:"despliegue_id"`
	Result       *ProcessResponse `json:"result,omitempty"`
	Error        string           `json:"error,omitempty"`
}

// BatchProcessResponse ответ на пакетную обработку
type BatchProcessResponse struct {
	Processed int         `json:"processed"`
	Failed    int         `json:"failed"`
	Results   []BatchItem `json:"results"`
}

func newResponse(res *pipeline.Result, verdicts bool) *ProcessResponse {
	resp := &ProcessResponse{
		RunID:        res.RunID,
		DeploymentID: res.Deployment.ID,
		Summary:      res.Summary,
		Report:       res.Report,
		Temporal:     res.Series.Summary(),
		Abstentions:  res.Abstentions,
	}
	if resp.Abstentions == nil {
		resp.Abstentions = []analytics.Abstention{}
	}
	if !verdicts {
		return resp
	}

	resp.Records = make([]RecordVerdict, res.Series.Len())
	for i := range resp.Records {
		r := res.Series.At(i)
		code := res.Codes[i]
		v := RecordVerdict{
			Timestamp: r.Timestamp,
			Variable:  r.Variable,
			Value:     r.Value,
			Code:      code,
			Label:     code.Label(),
		}
		for _, f := range quality.AllFlags {
			if res.Flags[i].Has(f) {
				v.Flags = append(v.Flags, f)
			}
		}
		resp.Records[i] = v
	}
	return resp
}
