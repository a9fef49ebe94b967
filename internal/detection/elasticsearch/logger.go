// Package elasticsearch indexes detections for threat hunting
package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v8"

	"github.com/smartshieldai-idps/ddosguard/internal/models"
)

// ThreatDocument is the indexed form of a detection
type ThreatDocument struct {
	Timestamp    time.Time `json:"@timestamp"`
	DetectionID  string    `json:"detection_id"`
	SrcIP        string    `json:"src_ip"`
	DstPort      *int      `json:"dst_port,omitempty"`
	AttackType   string    `json:"attack_type"`
	Label        string    `json:"label"`
	IsAttack     bool      `json:"is_attack"`
	Confidence   float64   `json:"confidence"`
	RiskScore    float64   `json:"risk_score"`
	Severity     string    `json:"severity"`
	Country      string    `json:"country"`
	Location     *GeoPoint `json:"location,omitempty"`
	ModelVersion string    `json:"model_version"`
}

// GeoPoint is an Elasticsearch geo_point
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Logger handles logging threats to Elasticsearch
type Logger struct {
	client *elasticsearch.Client
	index  string
}

// NewLogger creates a new Elasticsearch logger
func NewLogger(addresses []string, username, password, index string) (*Logger, error) {
	return newLogger(elasticsearch.Config{
		Addresses: addresses,
		Username:  username,
		Password:  password,
	}, index)
}

func newLogger(cfg elasticsearch.Config, index string) (*Logger, error) {
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}

	return &Logger{
		client: client,
		index:  index,
	}, nil
}

// Name identifies the logger in sink metrics
func (l *Logger) Name() string { return "elasticsearch" }

// Append indexes one detection under its ID
func (l *Logger) Append(ctx context.Context, log *models.DetectionLog) error {
	docJSON, err := json.Marshal(NewThreatDocument(log))
	if err != nil {
		return fmt.Errorf("failed to marshal threat: %w", err)
	}

	res, err := l.client.Index(
		l.index,
		bytes.NewReader(docJSON),
		l.client.Index.WithContext(ctx),
		l.client.Index.WithDocumentID(log.ID.String()),
	)
	if err != nil {
		return fmt.Errorf("failed to index threat: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("error indexing threat: %s", res.String())
	}

	return nil
}

// Ping checks the cluster is reachable
func (l *Logger) Ping(ctx context.Context) error {
	res, err := l.client.Ping(l.client.Ping.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("elasticsearch ping: %s", res.Status())
	}
	return nil
}

// NewThreatDocument maps a detection log to its indexed form
func NewThreatDocument(log *models.DetectionLog) ThreatDocument {
	doc := ThreatDocument{
		Timestamp:    log.Timestamp,
		DetectionID:  log.ID.String(),
		SrcIP:        log.SrcIP,
		DstPort:      log.DstPort,
		AttackType:   log.AttackType,
		Label:        log.Label,
		IsAttack:     log.IsAttack,
		Confidence:   log.Confidence,
		RiskScore:    log.RiskScore,
		Severity:     severity(log.RiskScore),
		Country:      log.Country,
		ModelVersion: log.ModelVersion,
	}
	if log.HasLocation() {
		doc.Location = &GeoPoint{Lat: *log.Latitude, Lon: *log.Longitude}
	}
	return doc
}

func severity(risk float64) string {
	switch {
	case risk >= 80:
		return "critical"
	case risk >= 50:
		return "high"
	case risk > 0:
		return "medium"
	default:
		return "info"
	}
}
