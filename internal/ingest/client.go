// Package ingest обращается к REST API хранилища измерений:
// развертывания, активы, моторы, сырые ингесты и запись индикаторов качества.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"motor-quality-service/internal/models"
	"motor-quality-service/internal/retry"
)

var (
	// ErrNotFound ресурс отсутствует в API
	ErrNotFound = errors.New("ingest: not found")
	// ErrOpenDeployment у развертывания не задан конец (fin = null), обработка невозможна
	ErrOpenDeployment = errors.New("ingest: deployment has no end time")
)

// Config параметры клиента API
type Config struct {
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	Timeout   time.Duration `mapstructure:"timeout"`
	ListLimit int           `mapstructure:"list_limit"`

	// PostConcurrency количество параллельных POST при записи индикаторов качества
	PostConcurrency int           `mapstructure:"post_concurrency"`
	Retry           retry.Backoff `mapstructure:"retry"`
}

// DefaultConfig возвращает параметры по умолчанию
func DefaultConfig() Config {
	return Config{
		BaseURL:         "http://127.0.0.1:8000/api",
		Timeout:         60 * time.Second,
		ListLimit:       100,
		PostConcurrency: 4,
		Retry: retry.Backoff{
			MaxAttempts: 5,
			MinInterval: 2 * time.Second,
			MaxInterval: 30 * time.Second,
		},
	}
}

// Client REST-клиент; безопасен для параллельного использования
type Client struct {
	cfg     Config
	http    *http.Client
	backoff retry.Backoff
	logger  *zap.Logger
}

// NewClient создает клиент
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.ListLimit <= 0 {
		cfg.ListLimit = def.ListLimit
	}
	if cfg.PostConcurrency <= 0 {
		cfg.PostConcurrency = def.PostConcurrency
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	backoff := cfg.Retry
	backoff.Logger = logger.Named("retry")

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		backoff: backoff,
		logger:  logger.Named("ingest"),
	}
}

// statusError ответ API с неожиданным статусом
type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Body)
}

// retryableStatus 429 и 5xx повторяются, остальные статусы - нет
func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	u := c.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("x-api-key", c.cfg.APIKey)
	}
	return req, nil
}

// getJSON выполняет GET с повторами и декодирует ответ в out
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	return c.backoff.Do(ctx, "GET "+path, func(ctx context.Context) (bool, error) {
		req, err := c.newRequest(ctx, http.MethodGet, path, query, nil)
		if err != nil {
			return false, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			// сетевая ошибка или таймаут запроса; отмена ctx повторов не допускает
			return ctx.Err() == nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return false, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return retryableStatus(resp.StatusCode), &statusError{Status: resp.StatusCode, Body: string(body)}
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return false, fmt.Errorf("failed to decode %s: %w", path, err)
		}
		return false, nil
	})
}

// deploymentWire развертывание в формате API; даты могут приходить без часового пояса
type deploymentWire struct {
	ID      int64   `json:"despliegue_id"`
	AssetID int64   `json:"asset_id"`
	MotorID int64   `json:"motor_id"`
	Start   string  `json:"inicio"`
	End     *string `json:"fin"`
}

// FetchDeployment находит развертывание (список + фильтр), разрешает коды актива и мотора.
// Развертывание без конца отклоняется с ErrOpenDeployment.
func (c *Client) FetchDeployment(ctx context.Context, id int64) (models.Deployment, error) {
	var list []deploymentWire
	query := url.Values{"limit": {fmt.Sprint(c.cfg.ListLimit)}}
	if err := c.getJSON(ctx, "/despliegues", query, &list); err != nil {
		return models.Deployment{}, fmt.Errorf("failed to list deployments: %w", err)
	}

	var found *deploymentWire
	for i := range list {
		if list[i].ID == id {
			found = &list[i]
			break
		}
	}
	if found == nil {
		return models.Deployment{}, fmt.Errorf("%w: deployment %d", ErrNotFound, id)
	}

	d := models.Deployment{ID: found.ID, AssetID: found.AssetID, MotorID: found.MotorID}
	start, err := parseTime(found.Start)
	if err != nil {
		return models.Deployment{}, fmt.Errorf("deployment %d: invalid inicio: %w", id, err)
	}
	d.Start = start
	if found.End == nil || *found.End == "" {
		return models.Deployment{}, fmt.Errorf("%w: deployment %d", ErrOpenDeployment, id)
	}
	end, err := parseTime(*found.End)
	if err != nil {
		return models.Deployment{}, fmt.Errorf("deployment %d: invalid fin: %w", id, err)
	}
	d.End = &end

	var asset struct {
		Code string `json:"asset_codigo"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("/assets/%d", d.AssetID), nil, &asset); err != nil {
		return models.Deployment{}, fmt.Errorf("failed to resolve asset %d: %w", d.AssetID, err)
	}
	var motor struct {
		Code string `json:"motor_codigo"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("/motores/%d", d.MotorID), nil, &motor); err != nil {
		return models.Deployment{}, fmt.Errorf("failed to resolve motor %d: %w", d.MotorID, err)
	}
	d.AssetCode, d.MotorCode = asset.Code, motor.Code

	return d, nil
}

type ingestaWire struct {
	IngestID  int64        `json:"ingesta_id"`
	AssetCode string       `json:"asset_codigo"`
	MotorCode string       `json:"motor_codigo"`
	Timestamp string       `json:"ts_utc"`
	Variable  string       `json:"variable"`
	Value     models.Value `json:"valor"`
}

// LoadMeasurements загружает все сырые измерения развертывания за [inicio, fin)
func (c *Client) LoadMeasurements(ctx context.Context, d models.Deployment) ([]models.Measurement, error) {
	if d.End == nil {
		return nil, fmt.Errorf("%w: deployment %d", ErrOpenDeployment, d.ID)
	}

	query := url.Values{
		"asset_codigo": {d.AssetCode},
		"motor_codigo": {d.MotorCode},
		"ts_from":      {d.Start.UTC().Format(time.RFC3339)},
		"ts_to":        {d.End.UTC().Format(time.RFC3339)},
	}
	var payload struct {
		Items []ingestaWire `json:"items"`
	}
	if err := c.getJSON(ctx, "/ingestas/by-asset-motor", query, &payload); err != nil {
		return nil, fmt.Errorf("failed to load measurements of deployment %d: %w", d.ID, err)
	}

	ms := make([]models.Measurement, 0, len(payload.Items))
	for _, it := range payload.Items {
		ts, err := parseTime(it.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("ingesta %d: invalid ts_utc: %w", it.IngestID, err)
		}
		asset, motor := it.AssetCode, it.MotorCode
		if asset == "" {
			asset = d.AssetCode
		}
		if motor == "" {
			motor = d.MotorCode
		}
		ms = append(ms, models.Measurement{
			IngestID:     it.IngestID,
			DeploymentID: d.ID,
			AssetCode:    asset,
			MotorCode:    motor,
			Timestamp:    ts,
			Variable:     it.Variable,
			Value:        it.Value,
		})
	}

	c.logger.Info("Measurements loaded",
		zap.Int64("deployment_id", d.ID),
		zap.String("asset", d.AssetCode),
		zap.String("motor", d.MotorCode),
		zap.Int("count", len(ms)))
	return ms, nil
}

// Load находит развертывание и загружает его измерения
func (c *Client) Load(ctx context.Context, id int64) (models.Deployment, []models.Measurement, error) {
	d, err := c.FetchDeployment(ctx, id)
	if err != nil {
		return models.Deployment{}, nil, err
	}
	ms, err := c.LoadMeasurements(ctx, d)
	if err != nil {
		return models.Deployment{}, nil, err
	}
	return d, ms, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// parseTime разбирает ISO-дату; дата без пояса считается UTC
func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported time format %q", s)
}
