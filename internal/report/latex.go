package report

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/rs/zerolog"
)

// Latex writes report_<id>.tex and, when pdflatex is available, compiles it
// to report_<id>.pdf and removes the intermediate files.
type Latex struct {
	// PDFLatex is the pdflatex binary; empty disables compilation.
	PDFLatex string
	log      zerolog.Logger
}

var latexReplacer = strings.NewReplacer(
	`\`, `\textbackslash `,
	"_", `\_`,
	"$", `\$`,
	"&", `\&`,
	"%", `\%`,
	"#", `\#`,
	"}", `\}`,
	"{", `\{`,
	"~", `\textasciitilde `,
	"^", `\textasciicircum `,
)

// EscapeLatex escapes characters that are special to LaTeX.
func EscapeLatex(s string) string { return latexReplacer.Replace(s) }

var latexTemplate = template.Must(template.New("report").
	Delims("[[", "]]").
	Funcs(template.FuncMap{
		"tex": EscapeLatex,
		"cols": func(n int) string {
			return strings.Repeat("l", n)
		},
		"row": func(cells []string) string {
			esc := make([]string, len(cells))
			for i, c := range cells {
				esc[i] = EscapeLatex(c)
			}
			return strings.Join(esc, " & ") + ` \\`
		},
	}).Parse(`\documentclass[9pt]{article}
\usepackage{helvet}
\renewcommand{\familydefault}{\sfdefault}
\usepackage{graphicx}
\usepackage{tikz}
\usepackage{grffile}
\usepackage{booktabs}
\usepackage[english]{babel}
\usepackage[letterpaper, portrait]{geometry}
\geometry{left=0.75in, top=0.0in, total={7in,10.5in}, includeheadfoot}
\setlength\parindent{0pt}
\usepackage{fancyhdr}
\pagestyle{fancy}
\fancyhf{}
\renewcommand{\headrulewidth}{0pt}
\cfoot{\thepage}
\tikzstyle{box} = [draw=blue, fill=blue!20, thick, rectangle, rounded corners]

\begin{document}
[[- if .MapPath]]

\begin{center}
\vfill
\large [[tex .Title]]

\vspace{1cm}
gmbatch

\vspace{1cm}
Code version: [[tex .Version]]

\vspace{1cm}
\today

\vspace{1cm}
\includegraphics[width=0.9\textwidth]{[[.MapPath]]}
\end{center}
\vfill
\newpage
[[- end]]
[[range .Pages]]

\begin{tikzpicture}[remember picture,overlay]
   \draw[box] (0, 0.5) rectangle (9, 1.0) node[pos=.5] {\normalsize [[tex .EventLine]]};
   \draw[box] (10, 0.5) rectangle (17, 1.0) node[pos=.5] {\normalsize [[tex .StationID]]};
\end{tikzpicture}
[[if .PlotPath]]
\includegraphics[height=5.75in]{[[.PlotPath]]}
[[end]]
[[- if .Header]]
\tiny
\begin{tabular}{[[cols (len .Header)]]}
\toprule
[[row .Header]]
\midrule
[[range .Rows]][[row .]]
[[end]]\bottomrule
\end{tabular}
[[end]]
[[- if .Failure]]

Failure reason: [[tex .Failure]]
[[end]]
\newpage
[[end]]
\end{document}
`))

// Render implements Renderer.
func (l *Latex) Render(ctx context.Context, in Input) (string, error) {
	if err := os.MkdirAll(in.Dir, 0o755); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := latexTemplate.Execute(&buf, buildDocument(in)); err != nil {
		return "", fmt.Errorf("render latex: %w", err)
	}
	base := "report_" + in.Event.ID
	texPath := filepath.Join(in.Dir, base+".tex")
	if err := os.WriteFile(texPath, buf.Bytes(), 0o644); err != nil {
		return "", err
	}
	if l.PDFLatex == "" {
		return texPath, nil
	}
	bin, err := exec.LookPath(l.PDFLatex)
	if err != nil {
		l.log.Info().Str("pdflatex", l.PDFLatex).Msg("pdflatex not found, keeping latex source")
		return texPath, nil
	}

	cmd := exec.CommandContext(ctx, bin, "-interaction=nonstopmode", "-halt-on-error", base+".tex")
	cmd.Dir = in.Dir
	out, err := cmd.CombinedOutput()
	pdfPath := filepath.Join(in.Dir, base+".pdf")
	if err != nil {
		l.log.Warn().Err(err).Str("output", tail(string(out), 2000)).Msg("pdflatex failed, keeping latex source")
		return texPath, nil
	}
	if _, err := os.Stat(pdfPath); err != nil {
		l.log.Warn().Str("file", pdfPath).Msg("pdflatex produced no pdf, keeping latex source")
		return texPath, nil
	}
	aux, _ := filepath.Glob(filepath.Join(in.Dir, base+".*"))
	for _, f := range aux {
		if f != pdfPath {
			_ = os.Remove(f)
		}
	}
	return pdfPath, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
