/*
Package viewer exports a splat scene as a single self-contained HTML page that embeds the
SOG bundle as a base64 data URL along with the viewer's stylesheet and script.
*/
package viewer

import (
	"bytes"
	"context"
	"embed"
	"encoding/base64"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/Core11-ZoltanK/LichtFeld-Studio/archive"
	"github.com/Core11-ZoltanK/LichtFeld-Studio/cluster"
	"github.com/Core11-ZoltanK/LichtFeld-Studio/lfs"
	"github.com/Core11-ZoltanK/LichtFeld-Studio/sog"
	"github.com/Core11-ZoltanK/LichtFeld-Studio/splat"
)

//go:embed template
var builtin embed.FS

// DefaultSettings are inlined in place of the viewer's settings fetch.
const DefaultSettings = `{"camera":{"fov":50,"position":[2,2,-2],"target":[0,0,0],"startAnim":"none"},"background":{"color":[0,0,0]},"animTracks":[]}`

const (
	styleLink     = `<link rel="stylesheet" href="./index.css">`
	scriptImport  = `import { main } from './index.js';`
	settingsFetch = `settings: fetch(settingsUrl).then(response => response.json())`
	contentFetch  = `fetch(contentUrl)`
)

// Template is the viewer page and its assets.
type Template struct {
	HTML string
	CSS  string
	JS   string
}

// LoadTemplate reads index.html, index.css and index.js from dir, or the built-in viewer
// if dir is empty.
func LoadTemplate(dir string) (*Template, error) {
	var fsys fs.FS
	if dir == "" {
		sub, err := fs.Sub(builtin, "template")
		if err != nil {
			return nil, err
		}
		fsys = sub
	} else {
		fsys = os.DirFS(dir)
	}
	var files [3][]byte
	for i, name := range []string{"index.html", "index.css", "index.js"} {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("can't read viewer template %s: %v", name, err)
		}
		files[i] = data
	}
	return &Template{HTML: string(files[0]), CSS: string(files[1]), JS: string(files[2])}, nil
}

// indent prefixes every line of text with n spaces.
func indent(text string, n int) string {
	pad := strings.Repeat(" ", n)
	lines := strings.SplitAfter(text, "\n")
	var sb strings.Builder
	for _, line := range lines {
		if line == "" {
			continue
		}
		sb.WriteString(pad)
		sb.WriteString(line)
	}
	return sb.String()
}

// Generate returns the page with the stylesheet and script inlined, the settings fetch
// replaced by settings, and the content fetch replaced by a data URL holding bundle.
func (t *Template) Generate(bundle []byte, settings string) string {
	if settings == "" {
		settings = DefaultSettings
	}
	html := t.HTML
	html = strings.ReplaceAll(html, styleLink, "<style>\n"+indent(t.CSS, 12)+"\n        </style>")
	html = strings.ReplaceAll(html, scriptImport, t.JS)
	html = strings.ReplaceAll(html, settingsFetch, "settings: "+settings)
	dataURL := `fetch("data:application/octet-stream;base64,` + base64.StdEncoding.EncodeToString(bundle) + `")`
	html = strings.ReplaceAll(html, contentFetch, dataURL)
	return strings.ReplaceAll(html, ".compressed.ply", ".sog")
}

// Options control an HTML export.
type Options struct {
	OutputPath  string
	Iterations  int
	Workers     int
	Clusterer   cluster.Clusterer
	Progress    sog.ProgressFunc
	TemplateDir string
	Settings    string // inline viewer settings JSON; empty uses DefaultSettings
}

func (o Options) report(fraction float32, stage string) bool {
	if o.Progress == nil {
		return true
	}
	return o.Progress(fraction, stage)
}

// ExportHTML encodes the set into an in-memory bundle and writes a standalone viewer page.
// Bundle progress is scaled into [0, 0.5].  The bundle's export result is returned once
// the bundle has been attempted.
func ExportHTML(ctx context.Context, set *splat.Set, opts Options) (*sog.Result, error) {
	tmpl, err := LoadTemplate(opts.TemplateDir)
	if err != nil {
		return nil, err
	}
	if !opts.report(0, "Exporting SOG...") {
		return nil, sog.ErrCancelled
	}

	var bundle bytes.Buffer
	res, err := sog.Write(ctx, set, sog.Options{
		Sink:       archive.NewZip(&bundle, archive.Options{}),
		Iterations: opts.Iterations,
		Workers:    opts.Workers,
		Clusterer:  opts.Clusterer,
		Progress: func(fraction float32, stage string) bool {
			return opts.report(fraction*0.5, stage)
		},
	})
	if err != nil {
		return res, fmt.Errorf("Failed to write SOG: %w", err)
	}

	if !opts.report(0.5, "Encoding data...") {
		return res, sog.ErrCancelled
	}
	if !opts.report(0.8, "Generating HTML...") {
		return res, sog.ErrCancelled
	}
	html := tmpl.Generate(bundle.Bytes(), opts.Settings)

	if err := os.WriteFile(opts.OutputPath, []byte(html), 0644); err != nil {
		return res, fmt.Errorf("Failed to open output file: %v", err)
	}
	opts.report(1, "Done")
	lfs.Infof("Exported HTML viewer: %s (%s)\n", opts.OutputPath, lfs.Bytes(int64(len(html))))
	return res, nil
}
