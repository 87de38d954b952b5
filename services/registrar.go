package services

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"audio-converter/models"
)

// RegistrationTarget holds the fixed deployment identifiers sent with every
// registration.
type RegistrationTarget struct {
	URL         string
	Token       string
	WorkspaceID string
	OrgID       string
	BoardID     string
}

// Registration describes one published artifact.
type Registration struct {
	URL      string
	FileName string
	OwnerID  string
}

type RegistrarService struct {
	target RegistrationTarget
	client *http.Client
}

func NewRegistrarService(target RegistrationTarget) *RegistrarService {
	return &RegistrarService{
		target: target,
		client: newHTTPClient(),
	}
}

type registrationRequest struct {
	FileName    string `json:"file_name"`
	URL         string `json:"url"`
	WorkspaceID string `json:"workspace_id"`
	OrgID       string `json:"org_id"`
	UID         string `json:"uid"`
	BoardID     string `json:"board_id"`
}

type registrationResponse struct {
	Document *struct {
		ID json.RawMessage `json:"id"`
	} `json:"document"`
}

// Register announces the artifact downstream and returns the document id.
func (r *RegistrarService) Register(ctx context.Context, reg Registration) (string, error) {
	payload, err := json.Marshal(registrationRequest{
		FileName:    reg.FileName,
		URL:         reg.URL,
		WorkspaceID: r.target.WorkspaceID,
		OrgID:       r.target.OrgID,
		UID:         reg.OwnerID,
		BoardID:     r.target.BoardID,
	})
	if err != nil {
		return "", models.StageErrorf(models.KindRegistration, "encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.target.URL, bytes.NewReader(payload))
	if err != nil {
		return "", models.StageErrorf(models.KindRegistration, "failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.target.Token)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", models.StageErrorf(models.KindRegistration, "registration request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", models.StageErrorf(models.KindRegistration, "read registration response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", models.StageErrorf(models.KindRegistration, "registration returned status %d: %s", resp.StatusCode, truncate(body, 512))
	}

	var parsed registrationResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", models.StageErrorf(models.KindRegistration, "json decode error: %v body=%s", err, truncate(body, 512))
	}
	if parsed.Document == nil {
		return "", models.StageErrorf(models.KindRegistration, "response did not contain a document")
	}

	id := documentID(parsed.Document.ID)
	if id == "" {
		return "", models.StageErrorf(models.KindRegistration, "response did not contain a document id")
	}
	return id, nil
}

// documentID accepts string and numeric ids.
func documentID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
