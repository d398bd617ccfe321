package profiles

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"messaging-service/internal/apperr"
)

// Profile is the public slice of a user record shown in conversation lists.
type Profile struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Directory resolves public profiles for a set of user ids.
type Directory interface {
	BulkProfiles(ctx context.Context, ids []int64) ([]Profile, error)
}

// HTTPDirectory calls the user service's internal bulk endpoint.
type HTTPDirectory struct {
	baseURL string
	client  *http.Client
}

// NewHTTPDirectory constructs a directory client with a hard request timeout.
// With an empty base URL it degrades to a noop that resolves nothing, so the
// service stays usable without the user service.
func NewHTTPDirectory(baseURL string) *HTTPDirectory {
	return &HTTPDirectory{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// BulkProfiles fetches multiple profiles in one call.
func (d *HTTPDirectory) BulkProfiles(ctx context.Context, ids []int64) ([]Profile, error) {
	if len(ids) == 0 || d.baseURL == "" {
		return []Profile{}, nil
	}

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	url := fmt.Sprintf("%s/internal/users?ids=%s", d.baseURL, strings.Join(parts, ","))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDependencyFailure, "user service unavailable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperr.E(apperr.KindDependencyFailure, fmt.Sprintf("user service returned %d", resp.StatusCode))
	}

	var payload struct {
		Users []Profile `json:"users"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, apperr.Wrap(apperr.KindDependencyFailure, "user service response malformed", err)
	}
	return payload.Users, nil
}
