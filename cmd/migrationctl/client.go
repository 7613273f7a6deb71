package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	migrationapp "github.com/lukgber-glitch/operate-sub002/internal/application/migration"
	"github.com/lukgber-glitch/operate-sub002/internal/interfaces/http/dto"
)

// apiError is a non-2xx answer from the service
type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("HTTP %d", e.Status)
	}
	return fmt.Sprintf("%s: %s (HTTP %d)", e.Code, e.Message, e.Status)
}

// envelope mirrors dto.Response with the payload left undecoded
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *dto.ErrorInfo  `json:"error"`
	Meta    *dto.Meta       `json:"meta"`
}

// apiClient calls the /api/v1/migrations endpoints
type apiClient struct {
	http *resty.Client
}

func newAPIClient(server, token string, timeout time.Duration) *apiClient {
	c := resty.New().
		SetBaseURL(strings.TrimRight(server, "/")+"/api/v1").
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "migrationctl")
	if token != "" {
		c.SetAuthToken(token)
	}
	return &apiClient{http: c}
}

// do sends the request and decodes the envelope's data into out
func (c *apiClient) do(ctx context.Context, method, path string, body any, query url.Values, out any) (*dto.Meta, error) {
	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	if query != nil {
		req.SetQueryParamsFromValues(query)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		if resp.IsError() {
			return nil, &apiError{Status: resp.StatusCode()}
		}
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.IsError() || !env.Success {
		apiErr := &apiError{Status: resp.StatusCode()}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return nil, apiErr
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return nil, fmt.Errorf("decode data: %w", err)
		}
	}
	return env.Meta, nil
}

func (c *apiClient) Start(ctx context.Context, req migrationapp.StartMigrationRequest) (*migrationapp.JobResponse, error) {
	var job migrationapp.JobResponse
	if _, err := c.do(ctx, http.MethodPost, "/migrations", req, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *apiClient) Status(ctx context.Context, id uuid.UUID) (*migrationapp.JobResponse, error) {
	var job migrationapp.JobResponse
	if _, err := c.do(ctx, http.MethodGet, "/migrations/"+id.String(), nil, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// command posts pause, resume or cancel
func (c *apiClient) command(ctx context.Context, id uuid.UUID, action string) (*migrationapp.JobResponse, error) {
	var job migrationapp.JobResponse
	if _, err := c.do(ctx, http.MethodPost, "/migrations/"+id.String()+"/"+action, nil, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *apiClient) List(ctx context.Context, f migrationapp.ListJobsFilter) (*migrationapp.JobListResponse, error) {
	q := url.Values{}
	if f.Page > 0 {
		q.Set("page", strconv.Itoa(f.Page))
	}
	if f.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(f.PageSize))
	}
	if f.Platform != "" {
		q.Set("platform", f.Platform)
	}
	for _, s := range f.Statuses {
		q.Add("status", s)
	}

	var items []migrationapp.JobListItem
	meta, err := c.do(ctx, http.MethodGet, "/migrations", nil, q, &items)
	if err != nil {
		return nil, err
	}
	page := &migrationapp.JobListResponse{Items: items}
	if meta != nil {
		page.Total = meta.Total
		page.Page = meta.Page
		page.PageSize = meta.PageSize
		page.TotalPages = meta.TotalPages
	}
	return page, nil
}

func (c *apiClient) Mapping(ctx context.Context, id uuid.UUID, entityType, externalID string) (*migrationapp.MappingResponse, error) {
	var m migrationapp.MappingResponse
	path := fmt.Sprintf("/migrations/%s/mappings/%s/%s", id, url.PathEscape(entityType), url.PathEscape(externalID))
	if _, err := c.do(ctx, http.MethodGet, path, nil, nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *apiClient) Report(ctx context.Context, id uuid.UUID) (*migrationapp.ReportLink, error) {
	var link migrationapp.ReportLink
	if _, err := c.do(ctx, http.MethodGet, "/migrations/"+id.String()+"/report", nil, nil, &link); err != nil {
		return nil, err
	}
	return &link, nil
}
