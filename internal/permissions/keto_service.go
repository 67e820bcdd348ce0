package permissions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	ketoNamespace = "documents"
	ketoRelation  = "viewer"
)

// KetoPermissionService implements permission checking using Ory Keto
type KetoPermissionService struct {
	readURL  string
	writeURL string
	client   *http.Client
}

// NewKetoPermissionService creates a new Keto-based permission service
func NewKetoPermissionService(readURL, writeURL string, timeout time.Duration) *KetoPermissionService {
	return &KetoPermissionService{
		readURL:  strings.TrimRight(readURL, "/"),
		writeURL: strings.TrimRight(writeURL, "/"),
		client:   &http.Client{Timeout: timeout},
	}
}

// Validate checks whether userID is a viewer of documentID
func (k *KetoPermissionService) Validate(ctx context.Context, userID, documentID string) (bool, error) {
	params := url.Values{}
	params.Add("namespace", ketoNamespace)
	params.Add("object", documentID)
	params.Add("relation", ketoRelation)
	params.Add("subject_id", userID)

	var result struct {
		Allowed bool `json:"allowed"`
	}
	if err := k.get(ctx, k.readURL+"/relation-tuples/check/openapi", params, &result); err != nil {
		return false, fmt.Errorf("keto permission check for %s on %s: %w", userID, documentID, err)
	}
	return result.Allowed, nil
}

// GrantViewer writes the viewer relation tuple for userID on documentID
func (k *KetoPermissionService) GrantViewer(ctx context.Context, userID, documentID string) error {
	tuple, err := json.Marshal(map[string]string{
		"namespace":  ketoNamespace,
		"object":     documentID,
		"relation":   ketoRelation,
		"subject_id": userID,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, k.writeURL+"/admin/relation-tuples", bytes.NewReader(tuple))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := k.client.Do(req)
	if err != nil {
		return fmt.Errorf("keto grant for %s on %s: %w", userID, documentID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("keto grant for %s on %s returned status %d", userID, documentID, resp.StatusCode)
	}
	return nil
}

func (k *KetoPermissionService) get(ctx context.Context, endpoint string, params url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}

	resp, err := k.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("keto returned status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unmarshaling response: %w", err)
	}
	return nil
}
