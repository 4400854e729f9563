package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/vitae/vitae/backend/go-services/internal/primary"
)

// RegisterSwagger registers Swagger/OpenAPI endpoints for the primary service.
// - GET /swagger/index.html  -> a small HTML page that loads the OpenAPI JSON
// - GET /swagger/doc.json    -> machine-readable OpenAPI JSON
func RegisterSwagger(rg *gin.Engine, nouns []primary.Noun) {
	doc := openAPI(nouns)
	rg.GET("/swagger/index.html", func(c *gin.Context) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.String(http.StatusOK, swaggerHTML)
	})

	rg.GET("/swagger/doc.json", func(c *gin.Context) {
		c.JSON(http.StatusOK, doc)
	})
}

const swaggerHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>vitae primary - Swagger</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@4/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@4/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/swagger/doc.json',
        dom_id: '#swagger-ui',
      })
    </script>
  </body>
</html>`

var dataParam = gin.H{
	"name": "d", "in": "query", "required": false,
	"description": "JSON encoded request data",
	"schema":      gin.H{"type": "string"},
}

var jsonBody = gin.H{"content": gin.H{"application/json": gin.H{"schema": gin.H{"type": "object"}}}}

// openAPI describes every exposed action plus the ops endpoints.
func openAPI(nouns []primary.Noun) gin.H {
	paths := gin.H{}
	for _, n := range nouns {
		ops := gin.H{}
		for verb, method := range Methods {
			if n.Actions[verb] == nil {
				continue
			}
			op := gin.H{
				"summary": strings.ReplaceAll(n.Name, "/", " ") + " " + string(verb),
				"responses": gin.H{
					"200": gin.H{"description": `{"data": ...}`},
					"400": gin.H{"description": "FieldsMissing / FieldsInvalid"},
				},
			}
			switch verb {
			case primary.Read, primary.Delete:
				op["parameters"] = []gin.H{dataParam}
			default:
				op["requestBody"] = jsonBody
			}
			ops[strings.ToLower(method)] = op
		}
		paths["/primary/"+n.Name] = ops
	}
	paths["/health"] = gin.H{"get": gin.H{"summary": "Liveness check", "responses": gin.H{"200": gin.H{"description": "healthy"}}}}
	paths["/ready"] = gin.H{"get": gin.H{"summary": "Readiness check", "responses": gin.H{"200": gin.H{"description": "ready"}, "503": gin.H{"description": "not ready"}}}}
	paths["/metrics"] = gin.H{"get": gin.H{"summary": "Prometheus metrics", "responses": gin.H{"200": gin.H{"description": "text exposition"}}}}
	return gin.H{
		"openapi": "3.0.0",
		"info":    gin.H{"title": "vitae-primary", "version": "v1.0.0"},
		"paths":   paths,
	}
}
