package models

import (
	"time"

	"github.com/google/uuid"
)

// PredictRequest is one flow submitted for scoring
type PredictRequest struct {
	Features []float64 `json:"features" binding:"required"`
	SrcIP    string    `json:"src_ip,omitempty"`
	DstPort  *int      `json:"dst_port,omitempty"`
}

// PredictResponse is the scoring outcome returned to the caller
type PredictResponse struct {
	AttackType string  `json:"attack_type"`
	Confidence float64 `json:"confidence"`
	RiskScore  float64 `json:"risk_score"`
	Guide      string  `json:"guide"`
	Country    string  `json:"country"`
}

// DetectionLog is the persisted record of one scored flow
type DetectionLog struct {
	ID           uuid.UUID `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	SrcIP        string    `json:"src_ip"`
	DstPort      *int      `json:"dst_port,omitempty"`
	AttackType   string    `json:"attack_type"`
	Label        string    `json:"label"`
	IsAttack     bool      `json:"is_attack"`
	Confidence   float64   `json:"confidence"`
	RiskScore    float64   `json:"risk_score"`
	Country      string    `json:"country"`
	Latitude     *float64  `json:"latitude,omitempty"`
	Longitude    *float64  `json:"longitude,omitempty"`
	ModelVersion string    `json:"model_version"`
}

// HasLocation reports whether the record carries coordinates
func (l *DetectionLog) HasLocation() bool {
	return l.Latitude != nil && l.Longitude != nil
}

// Log query bounds
const (
	DefaultLogLimit = 100
	MaxLogLimit     = 500
)

// LogFilter selects stored detection logs. Zero values mean "no bound".
type LogFilter struct {
	AttackType string
	MinRisk    *float64
	MaxRisk    *float64
	Start      *time.Time
	End        *time.Time
	Limit      int
}

// TimeBucket is a per-minute aggregate
type TimeBucket struct {
	Minute time.Time `json:"minute"`
	Value  float64   `json:"value"`
}

// AttackCount is the number of logs for one attack type
type AttackCount struct {
	AttackType string `json:"attack_type"`
	Count      int64  `json:"count"`
}

// MapPoint is a high-risk detection with coordinates
type MapPoint struct {
	SrcIP      string    `json:"src_ip"`
	Country    string    `json:"country"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	AttackType string    `json:"attack_type"`
	RiskScore  float64   `json:"risk_score"`
	Timestamp  time.Time `json:"timestamp"`
}
