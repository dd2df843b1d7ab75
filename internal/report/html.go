package report

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// HTML writes report_<id>.html next to the event's plots.
type HTML struct {
	log zerolog.Logger
}

var htmlTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: Helvetica, Arial, sans-serif; margin: 2em; }
.box { display: inline-block; border: 2px solid #33c; background: #dde; border-radius: 6px; padding: 4px 12px; margin-right: 1em; }
.page { page-break-after: always; margin-bottom: 3em; }
table { border-collapse: collapse; font-size: 0.75em; }
th, td { padding: 2px 8px; text-align: left; }
thead { border-top: 2px solid #000; border-bottom: 1px solid #000; }
tbody { border-bottom: 2px solid #000; }
.failure { color: #b00; }
img { max-width: 100%; }
</style>
</head>
<body>
{{- if .MapPath}}
<div class="page" style="text-align:center">
<h1>{{.Title}}</h1>
<p>gmbatch</p>
<p>Code version: {{.Version}}</p>
<img src="{{.MapPath}}" alt="station map">
</div>
{{- end}}
{{- range .Pages}}
<div class="page">
<div><span class="box">{{.EventLine}}</span><span class="box">{{.StationID}}</span></div>
{{- if .PlotPath}}
<img src="{{.PlotPath}}" alt="{{.StationID}}">
{{- end}}
{{- if .Header}}
<table>
<thead><tr>{{range .Header}}<th>{{.}}</th>{{end}}</tr></thead>
<tbody>
{{- range .Rows}}
<tr>{{range .}}<td>{{.}}</td>{{end}}</tr>
{{- end}}
</tbody>
</table>
{{- end}}
{{- if .Failure}}
<p class="failure">Failure reason: {{.Failure}}</p>
{{- end}}
</div>
{{- end}}
</body>
</html>
`))

func renderHTML(in Input) ([]byte, error) {
	var buf bytes.Buffer
	if err := htmlTemplate.Execute(&buf, buildDocument(in)); err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}
	return buf.Bytes(), nil
}

// Render implements Renderer.
func (h *HTML) Render(ctx context.Context, in Input) (string, error) {
	if err := os.MkdirAll(in.Dir, 0o755); err != nil {
		return "", err
	}
	b, err := renderHTML(in)
	if err != nil {
		return "", err
	}
	path := filepath.Join(in.Dir, "report_"+in.Event.ID+".html")
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return "", err
	}
	h.log.Debug().Str("file", path).Int("pages", in.Streams.Len()).Msg("wrote html report")
	return path, nil
}
