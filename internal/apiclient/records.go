package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/ashureev/careerguide/internal/domain"
)

// Profile fetches the signed-in user's profile.
func (c *Client) Profile(ctx context.Context) (*domain.Identity, error) {
	var id domain.Identity
	if err := c.JSON(ctx, http.MethodGet, "/users/profile", nil, &id); err != nil {
		return nil, err
	}
	return &id, nil
}

// Health reports whether the API is up. It never sends a credential.
func (c *Client) Health(ctx context.Context) (json.RawMessage, error) {
	return c.raw(Public(ctx), http.MethodGet, "/health", nil)
}

// CreateAssessment submits an assessment document.
func (c *Client) CreateAssessment(ctx context.Context, body json.RawMessage) (json.RawMessage, error) {
	return c.raw(ctx, http.MethodPost, "/assessments", body)
}

// ListAssessments lists the user's assessments.
func (c *Client) ListAssessments(ctx context.Context) (json.RawMessage, error) {
	return c.raw(ctx, http.MethodGet, "/assessments", nil)
}

// GetAssessment fetches one assessment.
func (c *Client) GetAssessment(ctx context.Context, id string) (json.RawMessage, error) {
	return c.raw(ctx, http.MethodGet, "/assessments/"+url.PathEscape(id), nil)
}

// EvaluateSkills submits a skill evaluation.
func (c *Client) EvaluateSkills(ctx context.Context, body json.RawMessage) (json.RawMessage, error) {
	return c.raw(ctx, http.MethodPost, "/skills/evaluate", body)
}

// ListSkillEvaluations lists the user's skill evaluations.
func (c *Client) ListSkillEvaluations(ctx context.Context) (json.RawMessage, error) {
	return c.raw(ctx, http.MethodGet, "/skills", nil)
}

// GenerateRecommendations requests a recommendation document.
func (c *Client) GenerateRecommendations(ctx context.Context, body json.RawMessage) (json.RawMessage, error) {
	return c.raw(ctx, http.MethodPost, "/recommendations/generate", body)
}

// ListRecommendations lists the user's recommendations.
func (c *Client) ListRecommendations(ctx context.Context) (json.RawMessage, error) {
	return c.raw(ctx, http.MethodGet, "/recommendations", nil)
}

// GetRecommendation fetches one recommendation.
func (c *Client) GetRecommendation(ctx context.Context, id string) (json.RawMessage, error) {
	return c.raw(ctx, http.MethodGet, "/recommendations/"+url.PathEscape(id), nil)
}

// Get fetches any path under the API root and returns the body untouched.
func (c *Client) Get(ctx context.Context, path string) (json.RawMessage, error) {
	return c.raw(ctx, http.MethodGet, path, nil)
}

func (c *Client) raw(ctx context.Context, method, path string, body json.RawMessage) (json.RawMessage, error) {
	var in any
	if body != nil {
		in = body
	}
	resp, err := c.Do(ctx, method, path, in)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(resp.Body), nil
}
