package http_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"github.com/EarthModule/fairdata-metax-v3/internal/appcontext"
	"github.com/EarthModule/fairdata-metax-v3/internal/entity"
	api "github.com/EarthModule/fairdata-metax-v3/internal/http"
	"github.com/EarthModule/fairdata-metax-v3/internal/testutil"
	"github.com/EarthModule/fairdata-metax-v3/internal/utils"
)

const catalogID = "urn:nbn:fi:att:data-catalog-ida"

var jwtKey = []byte("test-secret")

type server struct {
	t      *testing.T
	db     *gorm.DB
	engine *gin.Engine
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.NewTestDB(t)
	testutil.Catalog(t, db, catalogID, true)

	ctx := &appcontext.Context{
		DB:      db,
		Logger:  zaptest.NewLogger(t),
		JWTKey:  jwtKey,
		BaseURL: "https://metax.example.com",
	}
	service, err := api.NewHTTPService(ctx, api.Options{})
	require.NoError(t, err)
	return &server{t: t, db: db, engine: service.Engine()}
}

func token(t *testing.T, userID string, admin bool) string {
	t.Helper()
	tok, err := utils.GenerateJWT(jwtKey, userID, admin)
	require.NoError(t, err)
	return tok
}

// do sends a request and decodes a JSON response body into out when given.
func (s *server) do(method, path, tok string, body interface{}, out interface{}) int {
	s.t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(s.t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	if out != nil && rec.Body.Len() > 0 {
		require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

const draftInput = `{
	"persistent_identifier": "doi:10.1234/http",
	"data_catalog": "urn:nbn:fi:att:data-catalog-ida",
	"title": {"en": "HTTP dataset"},
	"actors": [
		{"roles": ["creator"], "person": {"name": "Teppo Testaaja", "email": "teppo@example.com"}},
		{"roles": ["publisher"], "organization": {"pref_label": {"en": "Test organization"}, "email": "org@example.com"}}
	]
}`

type datasetResponse struct {
	ID                uuid.UUID         `json:"id"`
	State             string            `json:"state"`
	Title             map[string]string `json:"title"`
	PublishedRevision int               `json:"published_revision"`
	DraftRevision     int               `json:"draft_revision"`
	DraftOf           *uuid.UUID        `json:"draft_of"`
}

func TestDatasetLifecycle(t *testing.T) {
	s := newServer(t)
	owner := token(t, "teppo", false)

	var created datasetResponse
	require.Equal(t, http.StatusCreated, s.do("POST", "/v3/datasets", owner, draftInput, &created))
	assert.Equal(t, entity.StateDraft, created.State)
	path := "/v3/datasets/" + created.ID.String()

	assert.Equal(t, http.StatusNotFound, s.do("GET", path, "", nil, nil))
	assert.Equal(t, http.StatusOK, s.do("GET", path, owner, nil, nil))

	var published datasetResponse
	require.Equal(t, http.StatusOK, s.do("POST", path+"/publish", owner, nil, &published))
	assert.Equal(t, entity.StatePublished, published.State)
	assert.Equal(t, 1, published.PublishedRevision)
	assert.Equal(t, http.StatusOK, s.do("GET", path, "", nil, nil))

	var updated datasetResponse
	require.Equal(t, http.StatusOK, s.do("PATCH", path, owner, `{"title": {"en": "Renamed"}}`, &updated))
	assert.Equal(t, 2, updated.PublishedRevision)
	assert.Equal(t, "Renamed", updated.Title["en"])

	var revisions []datasetResponse
	require.Equal(t, http.StatusOK, s.do("GET", path+"/revisions?published_only=true", "", nil, &revisions))
	require.Len(t, revisions, 2)

	var first datasetResponse
	require.Equal(t, http.StatusOK, s.do("GET", path+"/revisions/published-1", "", nil, &first))
	assert.Equal(t, "HTTP dataset", first.Title["en"])

	var draft datasetResponse
	require.Equal(t, http.StatusCreated, s.do("POST", path+"/create-draft", owner, nil, &draft))
	require.NotNil(t, draft.DraftOf)
	assert.Equal(t, created.ID, *draft.DraftOf)

	var errBody map[string]string
	assert.Equal(t, http.StatusBadRequest, s.do("POST", path+"/create-draft", owner, nil, &errBody))
	assert.Equal(t, "Dataset already has a draft.", errBody["next_draft"])

	var version datasetResponse
	require.Equal(t, http.StatusCreated, s.do("POST", path+"/new-version", owner, nil, &version))
	assert.NotEqual(t, created.ID, version.ID)
	assert.Equal(t, entity.StateDraft, version.State)
}

func TestAuthentication(t *testing.T) {
	s := newServer(t)

	assert.Equal(t, http.StatusUnauthorized, s.do("POST", "/v3/datasets", "", draftInput, nil))
	assert.Equal(t, http.StatusUnauthorized, s.do("POST", "/v3/datasets", "not-a-token", draftInput, nil))
	assert.Equal(t, http.StatusUnauthorized, s.do("GET", "/v3/datasets", "not-a-token", nil, nil))

	var list struct {
		Count int64 `json:"count"`
	}
	assert.Equal(t, http.StatusOK, s.do("GET", "/v3/datasets", "", nil, &list))
	assert.Zero(t, list.Count)
}

func TestErrorResponses(t *testing.T) {
	s := newServer(t)
	owner := token(t, "teppo", false)

	var errBody map[string]string
	assert.Equal(t, http.StatusBadRequest, s.do("POST", "/v3/datasets", owner, `{"data_catalog": "urn:nbn:fi:att:data-catalog-ida"}`, &errBody))
	assert.Contains(t, errBody, "title")

	assert.Equal(t, http.StatusBadRequest, s.do("POST", "/v3/datasets", owner, `{"title": `, nil))
	assert.Equal(t, http.StatusNotFound, s.do("GET", "/v3/datasets/not-a-uuid", "", nil, nil))
	assert.Equal(t, http.StatusNotFound, s.do("GET", "/v3/datasets/"+uuid.NewString(), "", nil, nil))

	var created datasetResponse
	require.Equal(t, http.StatusCreated, s.do("POST", "/v3/datasets", owner, draftInput, &created))
	path := "/v3/datasets/" + created.ID.String()
	require.Equal(t, http.StatusOK, s.do("POST", path+"/publish", owner, nil, nil))

	errBody = nil
	assert.Equal(t, http.StatusBadRequest, s.do("POST", path+"/publish", owner, nil, &errBody))
	assert.Equal(t, "Dataset is already published.", errBody["state"])

	assert.Equal(t, http.StatusBadRequest, s.do("GET", path+"/revisions?published_only=true&draft_only=true", "", nil, nil))
	assert.Equal(t, http.StatusForbidden, s.do("DELETE", path+"?flush=true", owner, nil, nil))
	assert.Equal(t, http.StatusNoContent, s.do("DELETE", path, owner, nil, nil))
	assert.Equal(t, http.StatusNotFound, s.do("GET", path, "", nil, nil))
	assert.Equal(t, http.StatusOK, s.do("GET", path+"?include_removed=true", "", nil, nil))
}

func TestContactRoles(t *testing.T) {
	s := newServer(t)
	owner := token(t, "teppo", false)

	var created datasetResponse
	require.Equal(t, http.StatusCreated, s.do("POST", "/v3/datasets", owner, draftInput, &created))
	path := "/v3/datasets/" + created.ID.String()
	require.Equal(t, http.StatusOK, s.do("POST", path+"/publish", owner, nil, nil))

	var roles map[string]bool
	require.Equal(t, http.StatusOK, s.do("GET", path+"/contact", "", nil, &roles))
	assert.True(t, roles[entity.RoleCreator])
	assert.True(t, roles[entity.RolePublisher])
	assert.False(t, roles[entity.RoleCurator])

	msg := map[string]string{"role": "creator", "reply_to": "someone@example.com", "subject": "Hello", "body": "Question"}
	assert.Equal(t, http.StatusInternalServerError, s.do("POST", path+"/contact", "", msg, nil))
}

func TestCatalogsAndOrganizations(t *testing.T) {
	s := newServer(t)
	user := token(t, "teppo", false)
	admin := token(t, "admin", true)

	catalog := map[string]interface{}{
		"id":                         "urn:nbn:fi:att:data-catalog-pas",
		"title":                      map[string]string{"en": "PAS"},
		"dataset_versioning_enabled": true,
	}
	assert.Equal(t, http.StatusForbidden, s.do("POST", "/v3/data-catalogs", user, catalog, nil))
	assert.Equal(t, http.StatusCreated, s.do("POST", "/v3/data-catalogs", admin, catalog, nil))
	assert.Equal(t, http.StatusConflict, s.do("POST", "/v3/data-catalogs", admin, catalog, nil))

	var got entity.DataCatalog
	require.Equal(t, http.StatusOK, s.do("GET", "/v3/data-catalogs/urn:nbn:fi:att:data-catalog-pas", "", nil, &got))
	assert.True(t, got.DatasetVersioningEnabled)
	assert.Equal(t, http.StatusNotFound, s.do("GET", "/v3/data-catalogs/missing", "", nil, nil))

	org := map[string]interface{}{
		"url":               "http://uri.suomi.fi/codelist/fairdata/organization/code/10076",
		"pref_label":        map[string]string{"en": "Aalto University"},
		"is_reference_data": true,
	}
	assert.Equal(t, http.StatusForbidden, s.do("POST", "/v3/organizations", user, org, nil))

	var parent entity.Organization
	require.Equal(t, http.StatusCreated, s.do("POST", "/v3/organizations", admin, org, &parent))

	child := map[string]interface{}{"pref_label": map[string]string{"en": "Department"}, "parent_id": parent.ID}
	assert.Equal(t, http.StatusCreated, s.do("POST", "/v3/organizations", user, child, nil))
	child["parent_id"] = uuid.New()
	assert.Equal(t, http.StatusBadRequest, s.do("POST", "/v3/organizations", user, child, nil))

	var reference []entity.Organization
	require.Equal(t, http.StatusOK, s.do("GET", "/v3/organizations", "", nil, &reference))
	assert.Len(t, reference, 1)

	var all []entity.Organization
	require.Equal(t, http.StatusOK, s.do("GET", "/v3/organizations?reference=false", "", nil, &all))
	assert.Len(t, all, 2)
}

func TestCreateFiles(t *testing.T) {
	s := newServer(t)
	user := token(t, "teppo", false)

	body := map[string]interface{}{
		"storage_service": "ida",
		"project":         "project_x",
		"files": []map[string]interface{}{
			{"pathname": "/data/a.csv", "size": 10},
			{"pathname": "/data/b.csv", "size": 20},
		},
	}
	var first struct {
		Files []entity.File `json:"files"`
	}
	require.Equal(t, http.StatusCreated, s.do("POST", "/v3/files", user, body, &first))
	require.Len(t, first.Files, 2)

	var second struct {
		Files []entity.File `json:"files"`
	}
	require.Equal(t, http.StatusCreated, s.do("POST", "/v3/files", user, body, &second))
	require.Len(t, second.Files, 2)
	assert.Equal(t, first.Files[0].ID, second.Files[0].ID)

	var count int64
	require.NoError(t, s.db.Model(&entity.File{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)

	body["files"] = []map[string]interface{}{{"pathname": "relative/path"}}
	assert.Equal(t, http.StatusBadRequest, s.do("POST", "/v3/files", user, body, nil))
}

func TestMigratedDatasets(t *testing.T) {
	s := newServer(t)
	id := uuid.NewString()
	payload := map[string]interface{}{
		"identifier":          id,
		"state":               "published",
		"date_created":        "2021-01-01T10:00:00Z",
		"data_catalog":        map[string]interface{}{"identifier": catalogID},
		"metadata_owner_user": "teppo",
		"research_dataset": map[string]interface{}{
			"preferred_identifier": "doi:10.1234/" + id,
			"title":                map[string]interface{}{"en": "Legacy dataset"},
		},
	}

	assert.Equal(t, http.StatusForbidden, s.do("POST", "/v3/migrated-datasets", token(t, "teppo", false), payload, nil))

	admin := token(t, "admin", true)
	var row entity.LegacyDataset
	require.Equal(t, http.StatusCreated, s.do("POST", "/v3/migrated-datasets", admin, payload, &row))
	assert.NotNil(t, row.LastSuccessfulMigration)
	assert.Equal(t, http.StatusOK, s.do("POST", "/v3/migrated-datasets", admin, payload, nil))

	var ds datasetResponse
	require.Equal(t, http.StatusOK, s.do("GET", "/v3/datasets/"+id, "", nil, &ds))
	assert.Equal(t, entity.StatePublished, ds.State)
	assert.Equal(t, 1, ds.PublishedRevision)

	assert.Equal(t, http.StatusBadRequest, s.do("POST", "/v3/migrated-datasets", admin, `{"identifier": "nope"}`, nil))
	assert.Equal(t, http.StatusBadRequest, s.do("POST", "/v3/migrated-datasets", admin, `not json`, nil))
}

func TestCORSAndMetrics(t *testing.T) {
	s := newServer(t)

	req := httptest.NewRequest("OPTIONS", "/v3/datasets", nil)
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	s.do("GET", "/v3/datasets", "", nil, nil)
	req = httptest.NewRequest("GET", "/metrics", nil)
	rec = httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "metax_http_request_duration_seconds"))
}

func TestPublishRequiresPersistentIdentifier(t *testing.T) {
	s := newServer(t)
	owner := token(t, "teppo", false)

	var created datasetResponse
	body := `{"data_catalog": "urn:nbn:fi:att:data-catalog-ida", "title": {"en": "No PID"}}`
	require.Equal(t, http.StatusCreated, s.do("POST", "/v3/datasets", owner, body, &created))
	path := "/v3/datasets/" + created.ID.String()

	var errBody map[string]string
	assert.Equal(t, http.StatusBadRequest, s.do("POST", path+"/publish", owner, nil, &errBody))
	assert.Equal(t, "Dataset has to have persistent identifier when publishing", errBody["persistent_identifier"])

	var ds datasetResponse
	require.Equal(t, http.StatusOK, s.do("GET", path, owner, nil, &ds))
	assert.Equal(t, 0, ds.PublishedRevision)
	assert.Equal(t, entity.StateDraft, ds.State)
}

func TestCreatePublishedHasFirstRevision(t *testing.T) {
	s := newServer(t)
	owner := token(t, "teppo", false)

	body := `{"persistent_identifier": "pid-1", "state": "published", "data_catalog": "urn:nbn:fi:att:data-catalog-ida", "title": {"en": "Published"}}`
	var created datasetResponse
	require.Equal(t, http.StatusCreated, s.do("POST", "/v3/datasets", owner, body, &created))
	assert.Equal(t, 1, created.PublishedRevision)
	path := "/v3/datasets/" + created.ID.String()

	var revisions []datasetResponse
	require.Equal(t, http.StatusOK, s.do("GET", path+"/revisions", "", nil, &revisions))
	assert.Len(t, revisions, 1)
	assert.Equal(t, http.StatusOK, s.do("GET", path+"/revisions/published-1", "", nil, nil))
	assert.Equal(t, http.StatusNotFound, s.do("GET", path+"/revisions/published-2", "", nil, nil))
}
