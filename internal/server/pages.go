package server

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/morezero/ws-dispatch/pkg/schema"
)

// homePageTemplate lists the registered methods and their schemas.
const homePageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>ws-dispatch</title>
  <style>
    * { box-sizing: border-box; }
    body { background: #fff; color: #000; font-family: system-ui, sans-serif; margin: 0; padding: 2rem; line-height: 1.5; }
    h1, h2, h3 { color: #0066cc; }
    .status-healthy { color: #0066cc; font-weight: bold; }
    .status-degraded { color: #b36b00; font-weight: bold; }
    .status-unhealthy { color: #cc0000; font-weight: bold; }
    table { border-collapse: collapse; width: 100%; max-width: 1100px; margin-top: 0.5rem; }
    th, td { text-align: left; padding: 0.5rem 0.75rem; border: 1px solid #ccc; vertical-align: top; }
    th { background: #f0f4f8; color: #0066cc; }
    pre { margin: 0; font-size: 0.8rem; white-space: pre-wrap; }
    .meta { color: #333; font-size: 0.9rem; margin-top: 1rem; }
    section { margin-bottom: 2rem; }
    .error { color: #cc0000; }
  </style>
</head>
<body>
  <h1>ws-dispatch</h1>
  <p class="meta">Connect a WebSocket client to <code>{{.WSPath}}</code> and send <code>{"id":1,"method":"rpc.ping"}</code>.</p>

  <section>
    <h2>Health</h2>
    {{if .HealthError}}
    <p class="error">Health report failed: {{.HealthError}}</p>
    {{else}}
    <p>Status: <span class="status-{{index .Health "status"}}">{{index .Health "status"}}</span></p>
    <p>Timestamp: {{index .Health "timestamp"}}</p>
    {{end}}
  </section>

  <section>
    <h2>Shared schemas</h2>
    {{if not .SharedSchemas}}
    <p>No shared schemas loaded.</p>
    {{else}}
    <ul>{{range .SharedSchemas}}<li><code>{{.}}</code></li>{{end}}</ul>
    {{end}}
  </section>

  <section>
    <h2>Methods</h2>
    <table>
      <thead>
        <tr><th>Method</th><th>Request schema</th><th>Response schema</th></tr>
      </thead>
      <tbody>
        {{range .Methods}}
        <tr>
          <td><code>{{.Name}}</code></td>
          <td><pre>{{.Request}}</pre></td>
          <td><pre>{{.Response}}</pre></td>
        </tr>
        {{end}}
      </tbody>
    </table>
  </section>
</body>
</html>
`

type homeMethod struct {
	Name     string
	Request  string
	Response string
}

type homeData struct {
	WSPath        string
	Health        map[string]interface{}
	HealthError   string
	SharedSchemas []string
	Methods       []homeMethod
}

func renderDescriptor(d schema.Descriptor) string {
	if d == nil {
		return "(any)"
	}
	out, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Sprintf("(unprintable: %v)", err)
	}
	return string(out)
}

// handleHome returns an HTTP handler for the home page.
func (s *Server) handleHome() http.HandlerFunc {
	tmpl := template.Must(template.New("home").Parse(homePageTemplate))
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
		defer cancel()

		data := homeData{
			WSPath:        s.cfg.WSPath,
			SharedSchemas: s.disp.Validator().SharedIDs(),
		}
		if report, err := s.healthReport(ctx); err != nil {
			data.HealthError = err.Error()
		} else {
			data.Health = report
		}
		for _, name := range s.disp.Registry().Methods() {
			entry, ok := s.disp.Get(name)
			if !ok {
				continue
			}
			data.Methods = append(data.Methods, homeMethod{
				Name:     name,
				Request:  renderDescriptor(entry.Schema.Request),
				Response: renderDescriptor(entry.Schema.Response),
			})
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, data); err != nil {
			slog.Error(fmt.Sprintf("%s - home template execute: %v", logPrefix, err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}
