package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"motor-quality-service/internal/models"
	"motor-quality-service/internal/retry"
)

func newTestClient(url string) *Client {
	return NewClient(Config{
		BaseURL: url + "/api/",
		APIKey:  "secret",
		Retry:   retry.Backoff{MaxAttempts: 3, MinInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond},
	}, nil)
}

func apiServer(t *testing.T, fin interface{}) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/despliegues", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		assert.Equal(t, "100", r.URL.Query().Get("limit"))
		json.NewEncoder(w).Encode([]map[string]interface{}{
			{"despliegue_id": 1, "asset_id": 10, "motor_id": 20, "inicio": "2024-05-01T00:00:00", "fin": nil},
			{"despliegue_id": 2, "asset_id": 11, "motor_id": 21, "inicio": "2024-05-01T00:00:00Z", "fin": fin},
		})
	})
	mux.HandleFunc("/api/assets/11", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"asset_codigo": "A-11"})
	})
	mux.HandleFunc("/api/motores/21", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"motor_codigo": "M-21"})
	})
	mux.HandleFunc("/api/ingestas/by-asset-motor", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "A-11", q.Get("asset_codigo"))
		assert.Equal(t, "M-21", q.Get("motor_codigo"))
		assert.Equal(t, "2024-05-01T00:00:00Z", q.Get("ts_from"))
		assert.Equal(t, "2024-05-02T00:00:00Z", q.Get("ts_to"))
		w.Write([]byte(`{"items": [
			{"ingesta_id": 1, "ts_utc": "2024-05-01T00:00:00+00:00", "variable": "Speed", "valor": 1500},
			{"ingesta_id": 2, "ts_utc": "2024-05-01 00:15:00", "variable": "Speed", "valor": null},
			{"ingesta_id": 3, "ts_utc": "2024-05-01T00:15:00Z", "variable": "Bearing Condition", "valor": "1.0"},
			{"ingesta_id": 4, "ts_utc": "2024-05-01T00:30:00Z", "variable": "Bearing Condition", "valor": "bad"}
		]}`))
	})
	return httptest.NewServer(mux)
}

func TestClient_Load(t *testing.T) {
	srv := apiServer(t, "2024-05-02T00:00:00Z")
	defer srv.Close()

	d, ms, err := newTestClient(srv.URL).Load(context.Background(), 2)
	require.NoError(t, err)

	assert.Equal(t, int64(2), d.ID)
	assert.Equal(t, "A-11", d.AssetCode)
	assert.Equal(t, "M-21", d.MotorCode)
	require.NotNil(t, d.End)

	require.Len(t, ms, 4)
	assert.Equal(t, int64(2), ms[0].DeploymentID)
	assert.Equal(t, "A-11", ms[0].AssetCode)
	assert.Equal(t, models.Number(1500), ms[0].Value)
	assert.True(t, ms[1].Value.IsMissing())
	assert.Equal(t, time.Date(2024, 5, 1, 0, 15, 0, 0, time.UTC), ms[1].Timestamp)
	assert.Equal(t, models.Number(1), ms[2].Value)
	assert.True(t, ms[3].Value.IsInvalid())
}

func TestClient_OpenDeploymentRefused(t *testing.T) {
	srv := apiServer(t, nil)
	defer srv.Close()

	_, err := newTestClient(srv.URL).FetchDeployment(context.Background(), 2)
	assert.True(t, errors.Is(err, ErrOpenDeployment))

	_, err = newTestClient(srv.URL).LoadMeasurements(context.Background(), models.Deployment{ID: 5})
	assert.True(t, errors.Is(err, ErrOpenDeployment))
}

func TestClient_DeploymentNotFound(t *testing.T) {
	srv := apiServer(t, "2024-05-02T00:00:00Z")
	defer srv.Close()

	_, err := newTestClient(srv.URL).FetchDeployment(context.Background(), 99)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).FetchDeployment(context.Background(), 1)
	assert.True(t, errors.Is(err, ErrNotFound), "empty list after recovery")
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).FetchDeployment(context.Background(), 1)
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_SaveQuality(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/api/mediciones/", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))

		var p qualityPayload
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		switch p.Variable {
		case "Speed":
			w.WriteHeader(http.StatusCreated)
		case "Skin Temperature":
			w.WriteHeader(http.StatusConflict)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	v := 1500.0
	ts := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	records := []models.QualityRecord{
		{DeploymentID: 2, Timestamp: ts, Variable: "Speed", Value: &v},
		{DeploymentID: 2, Timestamp: ts, Variable: "Speed", QualityCode: 1},
		{DeploymentID: 2, Timestamp: ts, Variable: "Skin Temperature", Value: &v},
		{DeploymentID: 2, Timestamp: ts, Variable: "Output Power", Value: &v},
	}

	stats, err := newTestClient(srv.URL).SaveQuality(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, models.PersistStats{Inserted: 2, Duplicates: 1, Failed: 1}, stats)
	assert.Equal(t, int32(6), atomic.LoadInt32(&calls), "the failing record is tried three times")
}

func TestClient_SaveQualityKeepsSubSecondTimestamp(t *testing.T) {
	got := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p qualityPayload
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		got <- p.Timestamp
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	v := 3.5
	ts := time.Date(2024, 5, 1, 3, 0, 0, 250_000_000, time.FixedZone("UTC-5", -5*3600))
	stats, err := newTestClient(srv.URL).SaveQuality(context.Background(),
		[]models.QualityRecord{{DeploymentID: 2, Timestamp: ts, Variable: "Speed", Value: &v}})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Inserted)

	sent := <-got
	assert.Equal(t, "2024-05-01T08:00:00.25Z", sent)
	parsed, err := time.Parse(time.RFC3339Nano, sent)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(ts))
}

func TestParseTime(t *testing.T) {
	want := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
	for _, s := range []string{
		"2024-05-01T10:30:00Z",
		"2024-05-01T12:30:00+02:00",
		"2024-05-01T10:30:00",
		"2024-05-01 10:30:00",
		"2024-05-01 10:30:00+00:00",
	} {
		got, err := parseTime(s)
		require.NoError(t, err, s)
		assert.True(t, want.Equal(got), s)
	}
	_, err := parseTime("01/05/2024")
	assert.Error(t, err)
}
