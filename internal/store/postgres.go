package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/smartshieldai-idps/ddosguard/internal/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrInvalidFilter is returned for out-of-range log query parameters.
var ErrInvalidFilter = errors.New("invalid log filter")

const (
	statsWindow   = time.Hour
	mapMinRisk    = 70
	mapPointLimit = 50
)

const (
	insertColumns = `id, ts, src_ip, dst_port, attack_type, label, is_attack, confidence, risk_score, country, latitude, longitude, model_version`
	selectColumns = `id::text, ts, src_ip, dst_port, attack_type, label, is_attack, confidence, risk_score, country, latitude, longitude, model_version`
)

// LogStore persists detection logs in PostgreSQL and serves the dashboard
// queries.
type LogStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewLogStore connects to dsn and applies the embedded migrations.
func NewLogStore(ctx context.Context, dsn string, logger *zap.Logger) (*LogStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 20
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	s := &LogStore{pool: pool, logger: logger}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *LogStore) migrate(ctx context.Context) error {
	sql, err := migrations.ReadFile("migrations/001_logs.sql")
	if err != nil {
		return fmt.Errorf("read migration: %w", err)
	}
	if _, err := s.pool.Exec(ctx, string(sql)); err != nil {
		return fmt.Errorf("exec migration: %w", err)
	}
	s.logger.Info("database migrated")
	return nil
}

// Name identifies the store in sink metrics.
func (s *LogStore) Name() string { return "postgres" }

// Append inserts one detection log.
func (s *LogStore) Append(ctx context.Context, l *models.DetectionLog) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO detection_logs (`+insertColumns+`)
		 VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		l.ID.String(), l.Timestamp, l.SrcIP, l.DstPort, l.AttackType, l.Label, l.IsAttack,
		l.Confidence, l.RiskScore, l.Country, l.Latitude, l.Longitude, l.ModelVersion)
	if err != nil {
		return fmt.Errorf("insert detection log: %w", err)
	}
	return nil
}

// QueryLogs returns logs matching f, newest first.
func (s *LogStore) QueryLogs(ctx context.Context, f models.LogFilter) ([]models.DetectionLog, error) {
	f, err := NormalizeFilter(f)
	if err != nil {
		return nil, err
	}

	query, args := buildLogQuery(f)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}
	logs, err := pgx.CollectRows(rows, scanLog)
	if err != nil {
		return nil, fmt.Errorf("scan logs: %w", err)
	}
	return logs, nil
}

// TrafficStats returns per-minute detection counts for the last hour.
func (s *LogStore) TrafficStats(ctx context.Context) ([]models.TimeBucket, error) {
	return s.buckets(ctx, `count(*)::float8`)
}

// RiskStats returns the per-minute average risk for the last hour.
func (s *LogStore) RiskStats(ctx context.Context) ([]models.TimeBucket, error) {
	return s.buckets(ctx, `round(avg(risk_score)::numeric, 2)::float8`)
}

func (s *LogStore) buckets(ctx context.Context, aggregate string) ([]models.TimeBucket, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT date_trunc('minute', ts) AS minute, `+aggregate+`
		 FROM detection_logs
		 WHERE ts >= $1
		 GROUP BY minute
		 ORDER BY minute`,
		time.Now().Add(-statsWindow))
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	buckets, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.TimeBucket, error) {
		var b models.TimeBucket
		err := row.Scan(&b.Minute, &b.Value)
		return b, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan stats: %w", err)
	}
	return buckets, nil
}

// AttackTypeStats counts logs per attack type, most frequent first.
func (s *LogStore) AttackTypeStats(ctx context.Context) ([]models.AttackCount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT attack_type, count(*)
		 FROM detection_logs
		 WHERE attack_type <> ''
		 GROUP BY attack_type
		 ORDER BY count(*) DESC, attack_type`)
	if err != nil {
		return nil, fmt.Errorf("query attack stats: %w", err)
	}
	counts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.AttackCount, error) {
		var c models.AttackCount
		err := row.Scan(&c.AttackType, &c.Count)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan attack stats: %w", err)
	}
	return counts, nil
}

// MapData returns the latest high-risk detections that carry coordinates.
func (s *LogStore) MapData(ctx context.Context) ([]models.MapPoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT src_ip, country, latitude, longitude, attack_type, risk_score, ts
		 FROM detection_logs
		 WHERE risk_score >= $1 AND latitude IS NOT NULL AND longitude IS NOT NULL
		 ORDER BY ts DESC
		 LIMIT $2`,
		mapMinRisk, mapPointLimit)
	if err != nil {
		return nil, fmt.Errorf("query map data: %w", err)
	}
	points, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.MapPoint, error) {
		var p models.MapPoint
		err := row.Scan(&p.SrcIP, &p.Country, &p.Latitude, &p.Longitude, &p.AttackType, &p.RiskScore, &p.Timestamp)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan map data: %w", err)
	}
	return points, nil
}

// Ping checks the database connection.
func (s *LogStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (s *LogStore) Close() {
	s.pool.Close()
}

// NormalizeFilter applies the default limit and rejects out-of-range bounds.
func NormalizeFilter(f models.LogFilter) (models.LogFilter, error) {
	if f.Limit == 0 {
		f.Limit = models.DefaultLogLimit
	}
	if f.Limit < 1 || f.Limit > models.MaxLogLimit {
		return f, fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidFilter, models.MaxLogLimit)
	}
	for _, r := range []*float64{f.MinRisk, f.MaxRisk} {
		if r != nil && (*r < 0 || *r > 100) {
			return f, fmt.Errorf("%w: risk bounds must be between 0 and 100", ErrInvalidFilter)
		}
	}
	if f.MinRisk != nil && f.MaxRisk != nil && *f.MinRisk > *f.MaxRisk {
		return f, fmt.Errorf("%w: min_risk exceeds max_risk", ErrInvalidFilter)
	}
	if f.Start != nil && f.End != nil && f.Start.After(*f.End) {
		return f, fmt.Errorf("%w: start is after end", ErrInvalidFilter)
	}
	return f, nil
}

func buildLogQuery(f models.LogFilter) (string, []interface{}) {
	var (
		where []string
		args  []interface{}
	)
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if f.AttackType != "" {
		add("attack_type = $%d", f.AttackType)
	}
	if f.MinRisk != nil {
		add("risk_score >= $%d", *f.MinRisk)
	}
	if f.MaxRisk != nil {
		add("risk_score <= $%d", *f.MaxRisk)
	}
	if f.Start != nil {
		add("ts >= $%d", *f.Start)
	}
	if f.End != nil {
		add("ts <= $%d", *f.End)
	}

	var b strings.Builder
	b.WriteString("SELECT " + selectColumns + " FROM detection_logs")
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	args = append(args, f.Limit)
	fmt.Fprintf(&b, " ORDER BY ts DESC LIMIT $%d", len(args))
	return b.String(), args
}

func scanLog(row pgx.CollectableRow) (models.DetectionLog, error) {
	var (
		l  models.DetectionLog
		id string
	)
	err := row.Scan(&id, &l.Timestamp, &l.SrcIP, &l.DstPort, &l.AttackType, &l.Label, &l.IsAttack,
		&l.Confidence, &l.RiskScore, &l.Country, &l.Latitude, &l.Longitude, &l.ModelVersion)
	if err != nil {
		return l, err
	}
	l.ID, err = uuid.Parse(id)
	return l, err
}
