package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	migrationapp "github.com/lukgber-glitch/operate-sub002/internal/application/migration"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/migration"
	"github.com/lukgber-glitch/operate-sub002/internal/interfaces/http/dto"
)

type recorded struct {
	method string
	path   string
	query  string
	auth   string
	body   []byte
}

// fakeAPI answers every request with the next canned response and records what it saw
func fakeAPI(t *testing.T, responses ...func(w http.ResponseWriter)) (*httptest.Server, *[]recorded) {
	t.Helper()
	var seen []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		seen = append(seen, recorded{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			auth:   r.Header.Get("Authorization"),
			body:   body,
		})
		if len(responses) == 0 {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		next := responses[0]
		responses = responses[1:]
		w.Header().Set("Content-Type", "application/json")
		next(w)
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func respond(status int, body any) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func jobBody(id uuid.UUID, status migration.JobStatus, pct float64) dto.Response {
	return dto.Response{Success: true, Data: migrationapp.JobResponse{
		ID:               id,
		Platform:         "xero",
		ExternalTenantID: "org-1",
		Status:           status.String(),
		Percentage:       pct,
		Counters:         migration.Counters{Total: 10, Processed: int(pct / 10)},
	}}
}

func execute(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--server", srv.URL, "--token", "tok"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestStartFromTemplate(t *testing.T) {
	id := uuid.New()
	srv, seen := fakeAPI(t, respond(http.StatusAccepted, jobBody(id, migration.JobStatusPending, 0)))

	tmpl := filepath.Join(t.TempDir(), "job.yaml")
	require.NoError(t, os.WriteFile(tmpl, []byte(`
platform: freee
external_tenant_id: company-42
batch_size: 200
entity_types:
  - entity_type: contacts
    conflict_strategy: merge
    filter: record.status == "ACTIVE"
  - entity_type: invoices
    conflict_strategy: skip
`), 0o600))

	out, err := execute(t, srv, "start", "-f", tmpl, "--platform", "xero")
	require.NoError(t, err)

	require.Len(t, *seen, 1)
	got := (*seen)[0]
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/api/v1/migrations", got.path)
	assert.Equal(t, "Bearer tok", got.auth)

	var sent migrationapp.StartMigrationRequest
	require.NoError(t, json.Unmarshal(got.body, &sent))
	assert.Equal(t, "xero", sent.Platform)
	assert.Equal(t, "company-42", sent.ExternalTenantID)
	assert.Equal(t, 200, sent.BatchSize)
	require.Len(t, sent.EntityTypes, 2)
	assert.Equal(t, "merge", sent.EntityTypes[0].ConflictStrategy)
	assert.Equal(t, `record.status == "ACTIVE"`, sent.EntityTypes[0].Filter)

	assert.Contains(t, out, "id: "+id.String())
	assert.Contains(t, out, "external_tenant_id: org-1")
}

func TestStartRejectsUnknownTemplateKeys(t *testing.T) {
	srv, seen := fakeAPI(t)
	tmpl := filepath.Join(t.TempDir(), "job.yaml")
	require.NoError(t, os.WriteFile(tmpl, []byte("platform: xero\nexternal_tenant_id: a\nbatchsize: 5\n"), 0o600))

	_, err := execute(t, srv, "start", "-f", tmpl)
	assert.ErrorContains(t, err, "parse job template")
	assert.Empty(t, *seen)
}

func TestStartSurfacesAPIError(t *testing.T) {
	srv, _ := fakeAPI(t, respond(http.StatusConflict,
		dto.NewErrorResponse("JOB_ALREADY_ACTIVE", "a migration is already running")))

	_, err := execute(t, srv, "start", "--platform", "xero", "--external-tenant", "org-1")
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "JOB_ALREADY_ACTIVE", apiErr.Code)
}

func TestStatusJSON(t *testing.T) {
	id := uuid.New()
	srv, seen := fakeAPI(t, respond(http.StatusOK, jobBody(id, migration.JobStatusInProgress, 40)))

	out, err := execute(t, srv, "status", id.String(), "-o", "json")
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/migrations/"+id.String(), (*seen)[0].path)

	var job migrationapp.JobResponse
	require.NoError(t, json.Unmarshal([]byte(out), &job))
	assert.Equal(t, id, job.ID)
	assert.Equal(t, 40.0, job.Percentage)
}

func TestStatusWatchStopsAtTerminal(t *testing.T) {
	id := uuid.New()
	srv, seen := fakeAPI(t,
		respond(http.StatusOK, jobBody(id, migration.JobStatusInProgress, 50)),
		respond(http.StatusOK, jobBody(id, migration.JobStatusCompleted, 100)),
	)

	out, err := execute(t, srv, "status", id.String(), "--watch", "--interval", "10ms")
	require.NoError(t, err)
	assert.Len(t, *seen, 2)
	assert.Contains(t, out, "in_progress")
	assert.Contains(t, out, "completed")
}

func TestList(t *testing.T) {
	now := time.Now()
	srv, seen := fakeAPI(t, respond(http.StatusOK, dto.NewSuccessResponseWithMeta([]migrationapp.JobListItem{
		{ID: uuid.New(), Platform: "xero", ExternalTenantID: "org-1", Status: "completed", Percentage: 100, CreatedAt: now},
		{ID: uuid.New(), Platform: "xero", ExternalTenantID: "org-2", Status: "failed", Percentage: 12.5, ErrorCount: 3, CreatedAt: now},
	}, 2, 1, 20)))

	out, err := execute(t, srv, "list", "--status", "completed", "--status", "failed", "--platform", "xero")
	require.NoError(t, err)

	q, err := url.ParseQuery((*seen)[0].query)
	require.NoError(t, err)
	assert.Equal(t, []string{"completed", "failed"}, q["status"])
	assert.Equal(t, "xero", q.Get("platform"))
	assert.Equal(t, "20", q.Get("page_size"))
	assert.Contains(t, out, "EXTERNAL TENANT")
	assert.Contains(t, out, "org-2")
	assert.Contains(t, out, "12.5%")
	assert.Contains(t, out, "page 1/1, 2 total")
}

func TestJobCommands(t *testing.T) {
	id := uuid.New()
	for _, action := range []string{"pause", "resume", "cancel"} {
		t.Run(action, func(t *testing.T) {
			srv, seen := fakeAPI(t, respond(http.StatusOK, jobBody(id, migration.JobStatusPaused, 30)))
			_, err := execute(t, srv, action, id.String())
			require.NoError(t, err)
			assert.Equal(t, http.MethodPost, (*seen)[0].method)
			assert.Equal(t, "/api/v1/migrations/"+id.String()+"/"+action, (*seen)[0].path)
		})
	}

	t.Run("bad id", func(t *testing.T) {
		srv, seen := fakeAPI(t)
		_, err := execute(t, srv, "pause", "not-a-uuid")
		assert.ErrorContains(t, err, "invalid job id")
		assert.Empty(t, *seen)
	})
}

func TestMappingAndReport(t *testing.T) {
	id := uuid.New()
	internal := uuid.New()
	srv, seen := fakeAPI(t,
		respond(http.StatusOK, dto.Response{Success: true, Data: migrationapp.MappingResponse{
			EntityType: "contacts", ExternalID: "C 1", InternalID: internal, Platform: "xero",
		}}),
		respond(http.StatusOK, dto.Response{Success: true, Data: migrationapp.ReportLink{
			JobID: id, URL: "https://reports.example/r.json", ExpiresAt: time.Now().Add(time.Hour),
		}}),
	)

	out, err := execute(t, srv, "mapping", id.String(), "contacts", "C 1")
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/migrations/"+id.String()+"/mappings/contacts/C 1", (*seen)[0].path)
	assert.Contains(t, out, "internal_id: "+internal.String())

	out, err = execute(t, srv, "report", id.String())
	require.NoError(t, err)
	assert.Contains(t, out, "url: https://reports.example/r.json")
}

func TestUnknownOutputFormat(t *testing.T) {
	srv, _ := fakeAPI(t)
	_, err := execute(t, srv, "list", "-o", "xml")
	assert.ErrorContains(t, err, "unknown output format")
}
