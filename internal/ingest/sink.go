package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"motor-quality-service/internal/models"
)

// postResult исход записи одного индикатора
type postResult int

const (
	postInserted postResult = iota
	postDuplicate
	postFailed
)

type qualityPayload struct {
	DeploymentID int64    `json:"despliegue_id"`
	Timestamp    string   `json:"ts_utc"`
	Variable     string   `json:"variable"`
	Value        *float64 `json:"valor"`
	QualityCode  int      `json:"indicador_calidad"`
}

// SaveQuality отправляет индикаторы качества в POST /mediciones/.
// 409 считается логическим успехом и учитывается как дубликат.
// Запись, не принятая после всех повторов, учитывается как неудачная и не прерывает остальные.
func (c *Client) SaveQuality(ctx context.Context, records []models.QualityRecord) (models.PersistStats, error) {
	var (
		mu    sync.Mutex
		stats models.PersistStats
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.PostConcurrency)

	for _, rec := range records {
		rec := rec
		g.Go(func() error {
			res := c.postQuality(gctx, rec)
			mu.Lock()
			defer mu.Unlock()
			switch res {
			case postInserted:
				stats.Inserted++
			case postDuplicate:
				stats.Duplicates++
			default:
				stats.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	c.logger.Info("Quality records posted",
		zap.Int("total", len(records)),
		zap.Int("inserted", stats.Inserted),
		zap.Int("duplicates", stats.Duplicates),
		zap.Int("failed", stats.Failed))

	if err := ctx.Err(); err != nil {
		return stats, err
	}
	return stats, nil
}

func (c *Client) postQuality(ctx context.Context, rec models.QualityRecord) postResult {
	body, err := json.Marshal(qualityPayload{
		DeploymentID: rec.DeploymentID,
		Timestamp:    rec.Timestamp.UTC().Format(time.RFC3339Nano),
		Variable:     rec.Variable,
		Value:        rec.Value,
		QualityCode:  rec.QualityCode,
	})
	if err != nil {
		return postFailed
	}

	result := postFailed
	err = c.backoff.Do(ctx, "POST /mediciones", func(ctx context.Context) (bool, error) {
		req, err := c.newRequest(ctx, http.MethodPost, "/mediciones/", nil, bytes.NewReader(body))
		if err != nil {
			return false, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return ctx.Err() == nil, err
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK, http.StatusCreated:
			result = postInserted
			return false, nil
		case http.StatusConflict:
			result = postDuplicate
			return false, nil
		}
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return retryableStatus(resp.StatusCode), &statusError{Status: resp.StatusCode, Body: string(msg)}
	})
	if err != nil {
		c.logger.Warn("Failed to post quality record",
			zap.Int64("deployment_id", rec.DeploymentID),
			zap.String("variable", rec.Variable),
			zap.Time("ts_utc", rec.Timestamp),
			zap.Error(err))
		return postFailed
	}
	return result
}

// Describe имя приемника для логов и метрик
func (c *Client) Describe() string {
	return fmt.Sprintf("rest(%s)", c.cfg.BaseURL)
}
