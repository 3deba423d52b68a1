package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/lotas/convhub/internal/applog"
	"github.com/lotas/convhub/internal/normalize"
	"github.com/lotas/convhub/internal/types"
)

// apiSource lists conversations through a provider's own REST endpoint,
// riding whatever session the HTTP client carries. It pages with
// offset/limit until the provider returns a short page or maxItems is
// reached.
type apiSource struct {
	id, label string
	client    *http.Client
	base      string
	// listPath is the list endpoint path. When orgsPath is set it is a
	// format string taking the organization uuid.
	listPath string
	orgsPath string
	pageSize int
	maxItems int
	urlFor   func(id string) string
}

func (s *apiSource) ID() string    { return s.id }
func (s *apiSource) Label() string { return s.label }

// apiRecord is the union of the conversation shapes the known providers
// return. Unknown fields are ignored.
type apiRecord struct {
	ID         string          `json:"id"`
	UUID       string          `json:"uuid"`
	Title      string          `json:"title"`
	Name       string          `json:"name"`
	UpdateTime json.RawMessage `json:"update_time"`
	UpdatedAt  json.RawMessage `json:"updated_at"`
}

func (r apiRecord) stableID() string {
	if r.ID != "" {
		return r.ID
	}
	return r.UUID
}

func (r apiRecord) title() string {
	if r.Title != "" {
		return r.Title
	}
	if r.Name != "" {
		return r.Name
	}
	return "Untitled"
}

func (r apiRecord) updatedMs() int64 {
	for _, raw := range []json.RawMessage{r.UpdateTime, r.UpdatedAt} {
		if len(raw) == 0 {
			continue
		}
		var asString string
		if err := json.Unmarshal(raw, &asString); err == nil {
			if t := normalize.ParseTimestamp(asString); !t.IsZero() {
				return t.UnixMilli()
			}
			continue
		}
		var asNumber float64
		if err := json.Unmarshal(raw, &asNumber); err == nil && asNumber > 0 {
			if t := normalize.EpochToTime(int64(asNumber)); !t.IsZero() {
				return t.UnixMilli()
			}
		}
	}
	return 0
}

// listFields are the field names providers use for the conversation array,
// in the order they are tried. The first array found is canonical.
var listFields = []string{"items", "conversations", "data", "history"}

func decodeRecords(body []byte) ([]apiRecord, bool) {
	// Top-level array first.
	var direct []apiRecord
	if err := json.Unmarshal(body, &direct); err == nil {
		return direct, true
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, false
	}
	for _, field := range listFields {
		raw, ok := envelope[field]
		if !ok {
			continue
		}
		var records []apiRecord
		if err := json.Unmarshal(raw, &records); err == nil {
			return records, true
		}
	}
	return nil, false
}

func (s *apiSource) List(ctx context.Context) types.AdapterResult {
	listURL := s.base + s.listPath
	if s.orgsPath != "" {
		org, res := s.resolveOrg(ctx)
		if org == "" {
			return res
		}
		listURL = s.base + fmt.Sprintf(s.listPath, org)
	}

	var items []types.ConversationItem
	for offset := 0; len(items) < s.maxItems; offset += s.pageSize {
		url := fmt.Sprintf("%s?offset=%d&limit=%d", listURL, offset, s.pageSize)
		body, res := s.get(ctx, url)
		if res != nil {
			// A failed later page keeps what earlier pages produced.
			if offset > 0 && len(items) > 0 {
				applog.Error("api.page", fmt.Errorf("%s", res.Error), "source", s.id, "offset", offset)
				break
			}
			return *res
		}

		records, ok := decodeRecords(body)
		if !ok {
			return types.AdapterResult{Status: types.StatusError, Error: "unrecognized response shape"}
		}
		for _, r := range records {
			id := r.stableID()
			if id == "" {
				continue
			}
			items = append(items, types.ConversationItem{
				ID:          id,
				Title:       normalize.Whitespace(r.title()),
				URL:         s.urlFor(id),
				UpdatedAtMs: r.updatedMs(),
				SourceIndex: len(items),
			})
		}
		if len(records) < s.pageSize {
			break
		}
	}

	if len(items) == 0 {
		return types.AdapterResult{Status: types.StatusEmpty}
	}
	if len(items) > s.maxItems {
		items = items[:s.maxItems]
	}
	applog.Info("api.list", "source", s.id, "items", len(items))
	return types.AdapterResult{Items: items, Status: types.StatusOK}
}

// resolveOrg fetches the organization list and returns the first uuid.
func (s *apiSource) resolveOrg(ctx context.Context) (string, types.AdapterResult) {
	body, res := s.get(ctx, s.base+s.orgsPath)
	if res != nil {
		return "", *res
	}
	var orgs []struct {
		UUID string `json:"uuid"`
	}
	if err := json.Unmarshal(body, &orgs); err != nil || len(orgs) == 0 || orgs[0].UUID == "" {
		return "", types.AdapterResult{Status: types.StatusError, Error: "no organization in response"}
	}
	return orgs[0].UUID, types.AdapterResult{}
}

// get performs one GET. The second return is non-nil on failure and carries
// the mapped status: 401/403 mean the browser session is missing or expired,
// anything else unexpected is an error.
func (s *apiSource) get(ctx context.Context, url string) ([]byte, *types.AdapterResult) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &types.AdapterResult{Status: types.StatusError, Error: err.Error()}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &types.AdapterResult{Status: types.StatusError, Error: err.Error()}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &types.AdapterResult{Status: types.StatusUnauthorized, Error: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &types.AdapterResult{Status: types.StatusError, Error: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, &types.AdapterResult{Status: types.StatusError, Error: err.Error()}
	}
	return body, nil
}
