package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// RemoteStore ships entries to the auth service's audit endpoint, so records
// produced by other daemons land in the same queryable trail. Only Append is
// supported; reads go through the auth service's own API.
type RemoteStore struct {
	endpoint string
	client   *http.Client
}

var _ Store = (*RemoteStore)(nil)

// NewRemoteStore points at the full audit endpoint URL, e.g.
// http://localhost:8001/api/auth/audit-logs.
func NewRemoteStore(endpoint string) *RemoteStore {
	return &RemoteStore{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

func (s *RemoteStore) Append(ctx context.Context, entry *Entry) (int64, error) {
	body, err := json.Marshal(entry)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return 0, fmt.Errorf("audit endpoint returned %d", resp.StatusCode)
	}
	var stored Entry
	if err := json.NewDecoder(resp.Body).Decode(&stored); err != nil {
		return 0, err
	}
	entry.ID = stored.ID
	return stored.ID, nil
}

func (s *RemoteStore) List(ctx context.Context, f Filter) ([]Entry, error) {
	return nil, errors.New("remote audit store is append only")
}
