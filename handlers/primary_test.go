package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/vitae/vitae/backend/go-services/internal/primary"
	"github.com/vitae/vitae/backend/go-services/internal/publish"
	"github.com/vitae/vitae/backend/go-services/internal/records"
	"github.com/vitae/vitae/backend/go-services/internal/storage"
	"github.com/vitae/vitae/backend/go-services/pkg/middleware"
)

func init() { gin.SetMode(gin.TestMode) }

func newService(t *testing.T, editing bool) (*primary.Service, *publish.Memory) {
	t.Helper()
	pub := publish.NewMemory()
	svc := primary.New(primary.Stores{
		Experience:    storage.NewMemory(records.Experience),
		Skill:         storage.NewMemory(records.Skill),
		SkillCategory: storage.NewMemory(records.SkillCategory),
		Static:        storage.NewMemory(records.Static),
	}, primary.Options{Editing: editing, DefaultUser: "00000000-0000-0000-0000-000000000000", Publisher: pub})
	return svc, pub
}

func newRouter(t *testing.T, editing bool, mutate ...gin.HandlerFunc) *gin.Engine {
	t.Helper()
	svc, _ := newService(t, editing)
	r := gin.New()
	RegisterPrimaryRoutes(r.Group("/primary"), svc, mutate...)
	return r
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code int             `json:"code"`
		Kind string          `json:"kind"`
		Msg  json.RawMessage `json:"msg"`
	} `json:"error"`
}

func call(t *testing.T, r *gin.Engine, method, path string, data any) (int, envelope) {
	t.Helper()
	var req *http.Request
	if method == http.MethodGet || (method == http.MethodDelete && data != nil) {
		target := path
		if data != nil {
			b, err := json.Marshal(data)
			require.NoError(t, err)
			target += "?d=" + url.QueryEscape(string(b))
		}
		req = httptest.NewRequest(method, target, nil)
	} else {
		var body []byte
		if data != nil {
			var err error
			body, err = json.Marshal(data)
			require.NoError(t, err)
		}
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func TestPrimaryRoutes_SkillLifecycle(t *testing.T) {
	r := newRouter(t, true)

	code, env := call(t, r, http.MethodPost, "/primary/skill", gin.H{"record": gin.H{"name": "Go", "level": 3, "years": 2, "category": "C1"}})
	require.Equal(t, http.StatusOK, code)
	var id string
	require.NoError(t, json.Unmarshal(env.Data, &id))
	require.NotEmpty(t, id)

	code, env = call(t, r, http.MethodGet, "/primary/skill", gin.H{"_id": id})
	require.Equal(t, http.StatusOK, code)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &rec))
	require.Equal(t, "Go", rec["name"])
	require.Equal(t, 3.0, rec["level"])
	require.Contains(t, rec, "_created")
	require.Contains(t, rec, "_updated")

	code, env = call(t, r, http.MethodPut, "/primary/skill", gin.H{"_id": id, "record": gin.H{"level": 4}})
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"level":4}`, string(env.Data))

	code, env = call(t, r, http.MethodPut, "/primary/skill", gin.H{"_id": id, "record": gin.H{"level": 4}})
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `false`, string(env.Data))

	code, env = call(t, r, http.MethodDelete, "/primary/skill", gin.H{"_id": id})
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `true`, string(env.Data))

	code, env = call(t, r, http.MethodGet, "/primary/skill", gin.H{"_id": id})
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, 1100, env.Error.Code)
	require.Equal(t, "NotFound", env.Error.Kind)
	require.JSONEq(t, `["`+id+`","skill"]`, string(env.Error.Msg))
}

func TestPrimaryRoutes_ErrorEnvelope(t *testing.T) {
	r := newRouter(t, true)

	code, env := call(t, r, http.MethodPost, "/primary/experience", gin.H{})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, 1001, env.Error.Code)
	require.Equal(t, "FieldsMissing", env.Error.Kind)
	require.JSONEq(t, `[["record","missing"]]`, string(env.Error.Msg))

	code, env = call(t, r, http.MethodPost, "/primary/experience", gin.H{"record": gin.H{
		"company": "X", "location": "Y", "title": "Z", "description": "d", "from": 100, "to": 50,
	}})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "FieldsInvalid", env.Error.Kind)
	require.JSONEq(t, `[["record.to","if set, must be higher than `+"`from`"+`"]]`, string(env.Error.Msg))

	call(t, r, http.MethodPost, "/primary/skill", gin.H{"record": gin.H{"name": "Rust", "level": 2, "years": 1, "category": "C1"}})
	code, env = call(t, r, http.MethodPost, "/primary/skill", gin.H{"record": gin.H{"name": "Rust", "level": 2, "years": 1, "category": "C1"}})
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, 1101, env.Error.Code)
	require.JSONEq(t, `["name","Rust"]`, string(env.Error.Msg))
}

func TestPrimaryRoutes_MalformedData(t *testing.T) {
	r := newRouter(t, true)

	req := httptest.NewRequest(http.MethodGet, "/primary/skill?d=%7Bnot-json", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.JSONEq(t, `{"error":{"code":1001,"kind":"FieldsInvalid","msg":[["d","invalid"]]}}`, w.Body.String())

	req = httptest.NewRequest(http.MethodPost, "/primary/skill", bytes.NewBufferString("{oops"))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), `["body","invalid"]`)
}

func TestPrimaryRoutes_DeleteWithBody(t *testing.T) {
	r := newRouter(t, true)
	_, env := call(t, r, http.MethodPost, "/primary/skill/category", gin.H{"record": gin.H{"name": "Languages"}})
	var id string
	require.NoError(t, json.Unmarshal(env.Data, &id))

	body, _ := json.Marshal(gin.H{"_id": id})
	req := httptest.NewRequest(http.MethodDelete, "/primary/skill/category", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"data":true}`, w.Body.String())
}

func TestPrimaryRoutes_ListsAndBatch(t *testing.T) {
	r := newRouter(t, true)
	for _, n := range []string{"Rust", "Go"} {
		call(t, r, http.MethodPost, "/primary/skill", gin.H{"record": gin.H{"name": n, "level": 3, "years": 1, "category": "C1"}})
	}
	call(t, r, http.MethodPost, "/primary/static", gin.H{"record": gin.H{"key": "intro", "content": "hi"}})

	code, env := call(t, r, http.MethodGet, "/primary/skills", nil)
	require.Equal(t, http.StatusOK, code)
	var skills []map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &skills))
	require.Len(t, skills, 2)
	require.Equal(t, "Go", skills[0]["name"])

	code, env = call(t, r, http.MethodGet, "/primary/__list", []string{"skills", "statics"})
	require.Equal(t, http.StatusOK, code)
	var batch map[string][]map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &batch))
	require.Len(t, batch["skills"], 2)
	require.Equal(t, "intro", batch["statics"][0]["key"])

	code, env = call(t, r, http.MethodGet, "/primary/static", gin.H{"key": "intro"})
	require.Equal(t, http.StatusOK, code)
	var static map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &static))
	require.Equal(t, "hi", static["content"])

	// list nouns are read only
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/primary/skills", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestPrimaryRoutes_EditingDisabled(t *testing.T) {
	r := newRouter(t, false)
	code, env := call(t, r, http.MethodPost, "/primary/static", gin.H{"record": gin.H{"key": "a", "content": "b"}})
	require.Equal(t, http.StatusForbidden, code)
	require.Equal(t, 1000, env.Error.Code)
	require.Equal(t, "Forbidden", env.Error.Kind)

	code, _ = call(t, r, http.MethodGet, "/primary/statics", nil)
	require.Equal(t, http.StatusOK, code)
}

func TestPrimaryRoutes_MutationsRequireUser(t *testing.T) {
	r := newRouter(t, true, middleware.RequireUser())

	code, _ := call(t, r, http.MethodPost, "/primary/skill/category", gin.H{"record": gin.H{"name": "Tools"}})
	require.Equal(t, http.StatusUnauthorized, code)

	// reads stay public
	code, _ = call(t, r, http.MethodGet, "/primary/skill/categories", nil)
	require.Equal(t, http.StatusOK, code)
}

func TestPrimaryRoutes_RevisionsUseCaller(t *testing.T) {
	svc, _ := newService(t, true)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.UserKey, "editor-7")
		c.Next()
	})
	RegisterPrimaryRoutes(r.Group("/primary"), svc)

	_, env := call(t, r, http.MethodPost, "/primary/skill/category", gin.H{"record": gin.H{"name": "Tools"}})
	var id string
	require.NoError(t, json.Unmarshal(env.Data, &id))

	code, env := call(t, r, http.MethodGet, "/primary/revisions", gin.H{"kind": "skill_category", "_id": id})
	require.Equal(t, http.StatusOK, code)
	var revs []map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &revs))
	require.Len(t, revs, 1)
	require.Equal(t, "editor-7", revs[0]["user"])
	require.Equal(t, "add", revs[0]["action"])
}

func TestRequestData_BindsBodyWithExactNumbers(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/primary/skill", bytes.NewBufferString(`{"record":{"order":7,"level":3}}`))
	c.Request.Header.Set("Content-Type", "application/json")

	v, err := requestData(c, primary.Create)
	require.NoError(t, err)
	rec := v.(map[string]any)["record"].(map[string]any)
	require.Equal(t, json.Number("7"), rec["order"])
	require.Equal(t, json.Number("3"), rec["level"])

	c, _ = gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/primary/skills?d="+url.QueryEscape(`{"category":12}`), nil)
	v, err = requestData(c, primary.Read)
	require.NoError(t, err)
	require.Equal(t, json.Number("12"), v.(map[string]any)["category"])

	c, _ = gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodDelete, "/primary/skill", bytes.NewBufferString("  \n"))
	v, err = requestData(c, primary.Delete)
	require.NoError(t, err)
	require.Nil(t, v)
}
