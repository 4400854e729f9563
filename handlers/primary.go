package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/vitae/vitae/backend/go-services/internal/primary"
	"github.com/vitae/vitae/backend/go-services/pkg/middleware"
)

// Record fields carry integers; keep them exact instead of float64.
func init() { binding.EnableDecoderUseNumber = true }

// Methods maps each verb to its HTTP method.
var Methods = map[primary.Verb]string{
	primary.Create: http.MethodPost,
	primary.Read:   http.MethodGet,
	primary.Update: http.MethodPut,
	primary.Delete: http.MethodDelete,
}

// RegisterPrimaryRoutes exposes every noun of svc under rg, e.g.
// POST /primary/skill. mutate runs before create, update and delete.
func RegisterPrimaryRoutes(rg *gin.RouterGroup, svc *primary.Service, mutate ...gin.HandlerFunc) {
	for _, n := range svc.Nouns() {
		for _, verb := range []primary.Verb{primary.Create, primary.Read, primary.Update, primary.Delete} {
			if n.Actions[verb] == nil {
				continue
			}
			chain := []gin.HandlerFunc{}
			if verb != primary.Read {
				chain = append(chain, mutate...)
			}
			chain = append(chain, actionHandler(svc, n.Name, verb))
			rg.Handle(Methods[verb], "/"+n.Name, chain...)
		}
	}
}

func actionHandler(svc *primary.Service, noun string, verb primary.Verb) gin.HandlerFunc {
	return func(c *gin.Context) {
		data, err := requestData(c, verb)
		if err != nil {
			writeError(c, primary.InvalidField(err.Error()))
			return
		}
		out, err := svc.Do(c.Request.Context(), noun, verb, primary.Request{Data: data, User: middleware.User(c)})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": out})
	}
}

type fieldError string

func (f fieldError) Error() string { return string(f) }

// requestData decodes the request data: the JSON query parameter "d" for
// reads and deletes, the JSON body otherwise. Deletes fall back to the body.
// The returned error names the malformed field.
func requestData(c *gin.Context, verb primary.Verb) (any, error) {
	var v any
	if verb == primary.Read || verb == primary.Delete {
		if d, ok := c.GetQuery("d"); ok {
			if err := binding.JSON.BindBody([]byte(d), &v); err != nil {
				return nil, fieldError("d")
			}
			return v, nil
		}
		if verb == primary.Read {
			return nil, nil
		}
	}
	if c.Request.Body == nil || c.Request.Body == http.NoBody {
		return nil, nil
	}
	if err := c.ShouldBindJSON(&v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fieldError("body")
	}
	return v, nil
}

func writeError(c *gin.Context, err error) {
	var perr *primary.Error
	if !errors.As(err, &perr) {
		perr = &primary.Error{Kind: primary.Internal}
	}
	body := gin.H{"code": perr.Kind.Code(), "kind": perr.Kind}
	if perr.Kind != primary.Internal {
		body["msg"] = perr.Details
	}
	c.AbortWithStatusJSON(perr.Kind.Status(), gin.H{"error": body})
}
