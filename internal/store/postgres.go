package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"github.com/quadshield/quadshield/internal/model"
)

// PostgresStore persists alerts and incident records. Payloads are stored
// as JSONB alongside the columns the center queries on.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore opens and verifies a PostgreSQL connection.
func NewPostgresStore(host, port, user, password, dbname string, logger *slog.Logger) (*PostgresStore, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresStore{db: db, logger: logger}, nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Health checks if the database is accessible.
func (s *PostgresStore) Health() error {
	return s.db.Ping()
}

// SaveAlert persists one alert.
func (s *PostgresStore) SaveAlert(ctx context.Context, alert model.ThreatAlert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}

	query := `
		INSERT INTO threat_alerts (agent_id, threat_level, malware_process, created_at, payload)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := s.db.ExecContext(ctx, query,
		alert.AgentID, string(alert.ThreatLevel), alert.MalwareProcess,
		alert.Timestamp, payload); err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// AlertsSince returns alerts with timestamps at or after since, oldest
// first.
func (s *PostgresStore) AlertsSince(ctx context.Context, since time.Time) ([]model.ThreatAlert, error) {
	query := `
		SELECT payload
		FROM threat_alerts
		WHERE created_at >= $1
		ORDER BY created_at
	`
	rows, err := s.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []model.ThreatAlert
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		var alert model.ThreatAlert
		if err := json.Unmarshal(payload, &alert); err != nil {
			return nil, fmt.Errorf("failed to decode alert: %w", err)
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return alerts, nil
}

// SaveIncident creates or replaces an incident record.
func (s *PostgresStore) SaveIncident(ctx context.Context, rec model.IncidentRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode incident: %w", err)
	}

	query := `
		INSERT INTO incidents (incident_id, agent_id, risk_level, created_at, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (incident_id) DO UPDATE SET
			risk_level = EXCLUDED.risk_level,
			payload = EXCLUDED.payload
	`
	if _, err := s.db.ExecContext(ctx, query,
		rec.IncidentID, rec.Alert.AgentID, rec.RiskAssessment.RiskLevel,
		rec.ResponseTimestamp, payload); err != nil {
		return fmt.Errorf("failed to upsert incident: %w", err)
	}
	return nil
}

// Incident retrieves an incident record by ID. It returns nil when the
// incident does not exist.
func (s *PostgresStore) Incident(ctx context.Context, incidentID string) (*model.IncidentRecord, error) {
	query := `SELECT payload FROM incidents WHERE incident_id = $1`

	var payload []byte
	err := s.db.QueryRowContext(ctx, query, incidentID).Scan(&payload)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query incident: %w", err)
	}

	var rec model.IncidentRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode incident: %w", err)
	}
	return &rec, nil
}

// RecentIncidents returns up to limit incidents, newest first.
func (s *PostgresStore) RecentIncidents(ctx context.Context, limit int) ([]model.IncidentRecord, error) {
	query := `
		SELECT payload
		FROM incidents
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query incidents: %w", err)
	}
	defer rows.Close()

	var incidents []model.IncidentRecord
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan incident: %w", err)
		}
		var rec model.IncidentRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode incident: %w", err)
		}
		incidents = append(incidents, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return incidents, nil
}
