package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/quadshield/quadshield/internal/model"
)

// RemoteStrategy asks an external analysis service for a classification.
// The service receives the alert and correlation as JSON and must answer
// with a complete classification; a missing field or a non-200 status is a
// strategy failure that promotes the next strategy in line.
type RemoteStrategy struct {
	name    string
	baseURL string
	client  *http.Client
}

// NewRemoteStrategy builds a remote strategy named for its provider.
func NewRemoteStrategy(name, baseURL string) *RemoteStrategy {
	return &RemoteStrategy{
		name:    name,
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Name implements Strategy.
func (r *RemoteStrategy) Name() string { return r.name }

type analysisRequest struct {
	Alert       model.ThreatAlert       `json:"alert"`
	Correlation model.CorrelationResult `json:"correlation"`
}

// Classify implements Strategy.
func (r *RemoteStrategy) Classify(ctx context.Context, alert model.ThreatAlert, corr model.CorrelationResult) (model.Classification, error) {
	payload, err := json.Marshal(analysisRequest{Alert: alert, Correlation: corr})
	if err != nil {
		return model.Classification{}, fmt.Errorf("encode analysis request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/analyze", r.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return model.Classification{}, fmt.Errorf("build analysis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return model.Classification{}, fmt.Errorf("call analysis service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.Classification{}, fmt.Errorf("analysis service returned status %d", resp.StatusCode)
	}

	var result model.Classification
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return model.Classification{}, fmt.Errorf("decode analysis response: %w", err)
	}
	if err := validateClassification(result); err != nil {
		return model.Classification{}, fmt.Errorf("malformed analysis response: %w", err)
	}
	return result, nil
}

func validateClassification(c model.Classification) error {
	if c.AttackClassification == "" {
		return fmt.Errorf("missing attack_classification")
	}
	if c.PropagationMethod == "" {
		return fmt.Errorf("missing propagation_method")
	}
	if c.ConfidenceScore <= 0 || c.ConfidenceScore > 1 {
		return fmt.Errorf("confidence_score %v outside (0,1]", c.ConfidenceScore)
	}
	switch c.RecommendedNetworkResponse {
	case model.TierAggressive, model.TierTargeted, model.TierMonitoring:
		return nil
	default:
		return fmt.Errorf("unknown recommended_network_response %q", c.RecommendedNetworkResponse)
	}
}
