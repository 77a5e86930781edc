// Package openapi generates the OpenAPI 3.0 document of the documentation API
// and serves it alongside a Swagger UI page.
package openapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/labstack/echo/v4"
)

// Generator builds the OpenAPI spec of the /api/v1 routes.
type Generator struct {
	version string
	baseURL string

	once sync.Once
	raw  []byte
	err  error
}

// NewGenerator creates a new OpenAPI spec generator.
func NewGenerator(version, baseURL string) *Generator {
	return &Generator{version: version, baseURL: baseURL}
}

// GenerateSpec produces the OpenAPI 3.0 spec as a map.
func (g *Generator) GenerateSpec() map[string]interface{} {
	paths := map[string]interface{}{
		"/note-sections": map[string]interface{}{
			"get": operation("listNoteSections", "List note sections", "NoteSections",
				[]map[string]interface{}{queryParam("limit", "integer"), queryParam("offset", "integer")},
				nil,
				map[string]interface{}{"200": jsonResponse("Paginated sections", "#/components/schemas/SectionPage")}),
			"post": operation("createNoteSection", "Create a note section", "NoteSections", nil,
				jsonBody("#/components/schemas/SectionCreate"),
				map[string]interface{}{
					"201": jsonResponse("Created", "#/components/schemas/Section"),
					"400": jsonResponse("Invalid section", "#/components/schemas/Error"),
					"422": jsonResponse("Form schema could not be parsed", "#/components/schemas/Error"),
				}),
		},
		"/note-sections/{id}": map[string]interface{}{
			"get": operation("getNoteSection", "Read a note section", "NoteSections",
				[]map[string]interface{}{pathParam("id", "uuid")}, nil,
				map[string]interface{}{
					"200": jsonResponse("Section", "#/components/schemas/Section"),
					"404": jsonResponse("Not found", "#/components/schemas/Error"),
				}),
			"put": operation("updateNoteSection", "Update a note section", "NoteSections",
				[]map[string]interface{}{pathParam("id", "uuid")},
				jsonBody("#/components/schemas/SectionUpdate"),
				map[string]interface{}{
					"200": jsonResponse("Updated", "#/components/schemas/Section"),
					"409": jsonResponse("Modified concurrently", "#/components/schemas/Error"),
					"422": jsonResponse("Form schema could not be parsed", "#/components/schemas/Error"),
				}),
			"delete": operation("deleteNoteSection", "Delete a note section and detach it from templates", "NoteSections",
				[]map[string]interface{}{pathParam("id", "uuid")}, nil,
				map[string]interface{}{
					"204": map[string]interface{}{"description": "Deleted"},
					"404": jsonResponse("Not found", "#/components/schemas/Error"),
				}),
		},
		"/note-templates": map[string]interface{}{
			"get": operation("listNoteTemplates", "List templates with their sections", "NoteTemplates", nil, nil,
				map[string]interface{}{"200": jsonResponse("Templates", "#/components/schemas/TemplateList")}),
			"post": operation("saveNoteTemplate", "Create or replace the template of a discipline and note type", "NoteTemplates", nil,
				jsonBody("#/components/schemas/TemplateSave"),
				map[string]interface{}{
					"200": jsonResponse("Replaced", "#/components/schemas/Template"),
					"201": jsonResponse("Created", "#/components/schemas/Template"),
					"400": jsonResponse("Invalid template", "#/components/schemas/Error"),
				}),
		},
		"/note-templates/export.xlsx": map[string]interface{}{
			"get": operation("exportNoteTemplates", "Export templates as a spreadsheet", "NoteTemplates", nil, nil,
				map[string]interface{}{"200": binaryResponse("Spreadsheet", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")}),
		},
		"/note-templates/{discipline}/{note_type}": map[string]interface{}{
			"get": operation("fetchNoteTemplate", "Read the active template of a discipline and note type", "NoteTemplates",
				[]map[string]interface{}{pathParam("discipline", ""), pathParam("note_type", "")}, nil,
				map[string]interface{}{
					"200": jsonResponse("Template with sections", "#/components/schemas/ExpandedTemplate"),
					"404": jsonResponse("No active template", "#/components/schemas/Error"),
				}),
		},
		"/note-templates/{id}": map[string]interface{}{
			"patch": operation("patchNoteTemplate", "Add or remove template sections", "NoteTemplates",
				[]map[string]interface{}{pathParam("id", "uuid")},
				jsonBody("#/components/schemas/TemplatePatch"),
				map[string]interface{}{
					"200": jsonResponse("Updated", "#/components/schemas/Template"),
					"409": jsonResponse("Modified concurrently", "#/components/schemas/Error"),
				}),
		},
		"/visit-notes/{visit_id}/document": map[string]interface{}{
			"get": operation("renderVisitNote", "Render a saved visit note", "Documents",
				[]map[string]interface{}{
					pathParam("visit_id", ""),
					enumQueryParam("format", []string{"json", "html", "pdf"}),
				}, nil,
				map[string]interface{}{
					"200": map[string]interface{}{
						"description": "Rendered document",
						"content": map[string]interface{}{
							"application/json": schemaContent("#/components/schemas/Document"),
							"text/html":        map[string]interface{}{"schema": map[string]interface{}{"type": "string"}},
							"application/pdf":  map[string]interface{}{"schema": map[string]interface{}{"type": "string", "format": "binary"}},
						},
					},
					"404": jsonResponse("No note for the visit", "#/components/schemas/DocumentError"),
					"422": jsonResponse("Saved note data is malformed", "#/components/schemas/DocumentError"),
					"503": jsonResponse("Note could not be loaded", "#/components/schemas/DocumentError"),
				}),
		},
		"/notifications": map[string]interface{}{
			"get": operation("listNotifications", "Recent notifications of the tenant", "Notifications",
				[]map[string]interface{}{
					enumQueryParam("kind", []string{"success", "error", "info"}),
					queryParam("limit", "integer"),
				}, nil,
				map[string]interface{}{"200": jsonResponse("Notifications", "#/components/schemas/NotificationList")}),
		},
	}

	return map[string]interface{}{
		"openapi": "3.0.3",
		"info": map[string]interface{}{
			"title":       "Clinical Documentation API",
			"version":     g.version,
			"description": "Note sections, note templates and rendered visit notes",
		},
		"servers": []map[string]string{
			{"url": g.baseURL},
		},
		"paths": paths,
		"components": map[string]interface{}{
			"schemas": buildComponentSchemas(),
			"securitySchemes": map[string]interface{}{
				"bearerAuth": map[string]interface{}{"type": "http", "scheme": "bearer", "bearerFormat": "JWT"},
			},
		},
		"security": []map[string][]string{{"bearerAuth": {}}},
	}
}

func operation(id, summary, tag string, params []map[string]interface{}, body, responses map[string]interface{}) map[string]interface{} {
	op := map[string]interface{}{
		"operationId": id,
		"summary":     summary,
		"tags":        []string{tag},
		"responses":   responses,
	}
	if len(params) > 0 {
		op["parameters"] = params
	}
	if body != nil {
		op["requestBody"] = body
	}
	return op
}

func pathParam(name, format string) map[string]interface{} {
	schema := map[string]interface{}{"type": "string"}
	if format != "" {
		schema["format"] = format
	}
	return map[string]interface{}{"name": name, "in": "path", "required": true, "schema": schema}
}

func queryParam(name, typ string) map[string]interface{} {
	schema := map[string]interface{}{"type": typ}
	if typ == "integer" {
		schema["minimum"] = 0
	}
	return map[string]interface{}{"name": name, "in": "query", "schema": schema}
}

func enumQueryParam(name string, values []string) map[string]interface{} {
	return map[string]interface{}{
		"name":   name,
		"in":     "query",
		"schema": map[string]interface{}{"type": "string", "enum": values},
	}
}

func schemaContent(ref string) map[string]interface{} {
	return map[string]interface{}{"schema": map[string]interface{}{"$ref": ref}}
}

func jsonBody(ref string) map[string]interface{} {
	return map[string]interface{}{
		"required": true,
		"content":  map[string]interface{}{"application/json": schemaContent(ref)},
	}
}

func jsonResponse(description, ref string) map[string]interface{} {
	return map[string]interface{}{
		"description": description,
		"content":     map[string]interface{}{"application/json": schemaContent(ref)},
	}
}

func binaryResponse(description, contentType string) map[string]interface{} {
	return map[string]interface{}{
		"description": description,
		"content": map[string]interface{}{
			contentType: map[string]interface{}{"schema": map[string]interface{}{"type": "string", "format": "binary"}},
		},
	}
}

func ref(name string) map[string]interface{} {
	return map[string]interface{}{"$ref": "#/components/schemas/" + name}
}

func str() map[string]interface{} { return map[string]interface{}{"type": "string"} }

func strFormat(format string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "format": format}
}

func nullableStr() map[string]interface{} {
	return map[string]interface{}{"type": "string", "nullable": true}
}

func arrayOf(items map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{"type": "array", "items": items}
}

func object(required []string, props map[string]interface{}) map[string]interface{} {
	o := map[string]interface{}{"type": "object", "properties": props}
	if len(required) > 0 {
		o["required"] = required
	}
	return o
}

func buildComponentSchemas() map[string]interface{} {
	field := object([]string{"label", "value"}, map[string]interface{}{"label": str(), "value": str()})
	disciplines := map[string]interface{}{"type": "string", "enum": []string{"PT", "OT", "ST"}}
	noteTypes := map[string]interface{}{
		"type": "string",
		"enum": []string{"Initial Evaluation", "Standard", "Reassessment (RA)", "Discharge (DC)", "Recert-Eval"},
	}

	return map[string]interface{}{
		"Error": object([]string{"message"}, map[string]interface{}{"message": str()}),
		"Section": object([]string{"id", "name", "form_schema", "version_id"}, map[string]interface{}{
			"id":               strFormat("uuid"),
			"name":             str(),
			"description":      nullableStr(),
			"is_required":      map[string]interface{}{"type": "boolean"},
			"has_static_image": map[string]interface{}{"type": "boolean"},
			"static_image_url": nullableStr(),
			"form_schema":      map[string]interface{}{"description": "Arbitrary JSON describing the section fields"},
			"version_id":       map[string]interface{}{"type": "integer"},
			"created_at":       strFormat("date-time"),
			"updated_at":       strFormat("date-time"),
		}),
		"SectionCreate": object([]string{"name", "form_schema"}, map[string]interface{}{
			"name":             str(),
			"description":      nullableStr(),
			"is_required":      map[string]interface{}{"type": "boolean"},
			"has_static_image": map[string]interface{}{"type": "boolean"},
			"static_image_url": nullableStr(),
			"form_schema":      map[string]interface{}{"description": "JSON value or a string holding JSON"},
		}),
		"SectionUpdate": object(nil, map[string]interface{}{
			"name":             str(),
			"description":      nullableStr(),
			"is_required":      map[string]interface{}{"type": "boolean"},
			"has_static_image": map[string]interface{}{"type": "boolean"},
			"static_image_url": nullableStr(),
			"form_schema":      map[string]interface{}{"description": "JSON value or a string holding JSON"},
			"version_id":       map[string]interface{}{"type": "integer"},
		}),
		"SectionPage": object([]string{"data", "total"}, map[string]interface{}{
			"data":     arrayOf(ref("Section")),
			"total":    map[string]interface{}{"type": "integer"},
			"limit":    map[string]interface{}{"type": "integer"},
			"offset":   map[string]interface{}{"type": "integer"},
			"has_more": map[string]interface{}{"type": "boolean"},
		}),
		"Template": object([]string{"id", "discipline", "note_type", "section_ids"}, map[string]interface{}{
			"id":          strFormat("uuid"),
			"discipline":  disciplines,
			"note_type":   noteTypes,
			"section_ids": arrayOf(strFormat("uuid")),
			"is_active":   map[string]interface{}{"type": "boolean"},
			"version_id":  map[string]interface{}{"type": "integer"},
			"created_at":  strFormat("date-time"),
			"updated_at":  strFormat("date-time"),
		}),
		"ExpandedTemplate": map[string]interface{}{
			"allOf": []interface{}{
				ref("Template"),
				object(nil, map[string]interface{}{"sections": arrayOf(ref("Section"))}),
			},
		},
		"TemplateList": object([]string{"data"}, map[string]interface{}{"data": arrayOf(ref("ExpandedTemplate"))}),
		"TemplateSave": object([]string{"discipline", "note_type"}, map[string]interface{}{
			"discipline":  disciplines,
			"note_type":   noteTypes,
			"is_active":   map[string]interface{}{"type": "boolean"},
			"section_ids": arrayOf(strFormat("uuid")),
		}),
		"TemplatePatch": object([]string{"version_id"}, map[string]interface{}{
			"add_section_ids":    arrayOf(strFormat("uuid")),
			"remove_section_ids": arrayOf(strFormat("uuid")),
			"version_id":         map[string]interface{}{"type": "integer"},
		}),
		"Field": field,
		"RenderedSection": object([]string{"key", "title", "kind"}, map[string]interface{}{
			"key":         str(),
			"title":       str(),
			"kind":        map[string]interface{}{"type": "string", "enum": []string{"empty", "vitals", "generic"}},
			"placeholder": str(),
			"vitals": arrayOf(object(nil, map[string]interface{}{
				"label": str(), "at_rest": str(), "after_exertion": str(),
			})),
			"fields": arrayOf(ref("Field")),
			"groups": arrayOf(object(nil, map[string]interface{}{
				"title": str(), "fields": arrayOf(ref("Field")),
			})),
		}),
		"Document": object([]string{"title", "visit_id", "header", "sections"}, map[string]interface{}{
			"title":        str(),
			"visit_id":     str(),
			"header":       arrayOf(ref("Field")),
			"sections":     arrayOf(ref("RenderedSection")),
			"generated_at": strFormat("date-time"),
		}),
		"DocumentError": object([]string{"status", "reason", "message", "retryable"}, map[string]interface{}{
			"status":    map[string]interface{}{"type": "string", "enum": []string{"error"}},
			"reason":    map[string]interface{}{"type": "string", "enum": []string{"not_found", "unavailable", "invalid_note"}},
			"message":   str(),
			"retryable": map[string]interface{}{"type": "boolean"},
			"retry_url": str(),
		}),
		"Notification": object([]string{"id", "kind", "text"}, map[string]interface{}{
			"id":          str(),
			"kind":        map[string]interface{}{"type": "string", "enum": []string{"success", "error", "info"}},
			"text":        str(),
			"tenant_id":   str(),
			"resource":    str(),
			"resource_id": str(),
			"created_at":  strFormat("date-time"),
		}),
		"NotificationList": object([]string{"data", "total"}, map[string]interface{}{
			"data":  arrayOf(ref("Notification")),
			"total": map[string]interface{}{"type": "integer"},
		}),
	}
}

// Document returns the generated spec loaded and validated by kin-openapi.
func (g *Generator) Document(ctx context.Context) (*openapi3.T, error) {
	raw, err := g.JSON()
	if err != nil {
		return nil, err
	}
	loader := openapi3.NewLoader()
	loader.Context = ctx
	doc, err := loader.LoadFromData(raw)
	if err != nil {
		return nil, fmt.Errorf("openapi: load generated document: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("openapi: validate generated document: %w", err)
	}
	return doc, nil
}

// JSON returns the encoded spec. It is generated once.
func (g *Generator) JSON() ([]byte, error) {
	g.once.Do(func() {
		g.raw, g.err = json.Marshal(g.GenerateSpec())
	})
	return g.raw, g.err
}

// ── Swagger UI ──────────────────────────────────────────────────────────

const swaggerUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>Clinical Documentation API - Swagger UI</title>
  <link rel="stylesheet" type="text/css" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" >
  <style>
    html { box-sizing: border-box; overflow-y: scroll; }
    *, *:before, *:after { box-sizing: inherit; }
    body { margin: 0; background: #fafafa; }
  </style>
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({
      url: "/openapi.json",
      dom_id: '#swagger-ui',
      deepLinking: true,
      presets: [
        SwaggerUIBundle.presets.apis,
        SwaggerUIBundle.SwaggerUIStandalonePreset
      ],
      layout: "BaseLayout"
    })
  </script>
</body>
</html>`

// RegisterRoutes registers GET /openapi.json and GET /docs.
func (g *Generator) RegisterRoutes(e *echo.Echo) {
	e.GET("/openapi.json", func(c echo.Context) error {
		raw, err := g.JSON()
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "generate openapi document").SetInternal(err)
		}
		return c.JSONBlob(http.StatusOK, raw)
	})
	e.GET("/docs", func(c echo.Context) error {
		return c.HTML(http.StatusOK, swaggerUIHTML)
	})
}
