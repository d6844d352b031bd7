// Package models содержит структуры данных измерений, развертываний и результатов контроля качества
package models

import "time"

// Measurement представляет одно измерение датчика мотора в длинном формате.
// Неизменяемо после загрузки.
type Measurement struct {
	IngestID     int64     `json:"ingesta_id,omitempty"`
	DeploymentID int64     `json:"despliegue_id"`
	AssetCode    string    `json:"asset_codigo"`
	MotorCode    string    `json:"motor_codigo"`
	Timestamp    time.Time `json:"ts_utc"`
	Variable     string    `json:"variable"`
	Value        Value     `json:"valor"`
}

// Key логический ключ измерения (asset, motor, timestamp, variable)
type Key struct {
	AssetCode string
	MotorCode string
	Timestamp int64
	Variable  string
}

// Key возвращает логический ключ измерения
func (m Measurement) Key() Key {
	return Key{
		AssetCode: m.AssetCode,
		MotorCode: m.MotorCode,
		Timestamp: m.Timestamp.UnixNano(),
		Variable:  m.Variable,
	}
}

// Deployment ограниченная по времени сессия мониторинга мотора
type Deployment struct {
	ID        int64      `json:"despliegue_id"`
	AssetID   int64      `json:"asset_id"`
	MotorID   int64      `json:"motor_id"`
	AssetCode string     `json:"asset_codigo,omitempty"`
	MotorCode string     `json:"motor_codigo,omitempty"`
	Start     time.Time  `json:"inicio"`
	End       *time.Time `json:"fin"`
}

// QualityRecord запись для сохранения индикатора качества одного измерения
type QualityRecord struct {
	DeploymentID int64     `json:"despliegue_id" db:"despliegue_id"`
	Timestamp    time.Time `json:"ts_utc" db:"ts_utc"`
	Variable     string    `json:"variable" db:"variable"`
	Value        *float64  `json:"valor" db:"valor"`
	QualityCode  int       `json:"indicador_calidad" db:"indicador_calidad"`
}

// CleanRecord ячейка очищенного и импутированного набора данных в длинном формате
type CleanRecord struct {
	DeploymentID int64     `json:"despliegue_id" db:"despliegue_id"`
	Slot         time.Time `json:"ts_utc" db:"ts_utc"`
	Variable     string    `json:"variable" db:"variable"`
	Value        *float64  `json:"valor" db:"valor"`
	Provenance   string    `json:"procedencia" db:"procedencia"`
}
