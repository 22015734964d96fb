package viewer

import (
	"bytes"
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/Core11-ZoltanK/LichtFeld-Studio/sog"
	"github.com/Core11-ZoltanK/LichtFeld-Studio/splat"

	"github.com/klauspost/compress/zip"
)

func testSet(n int) *splat.Set {
	s := &splat.Set{
		Means:     make([]float32, n*3),
		Rotations: make([]float32, n*4),
		Scales:    make([]float32, n*3),
		Opacities: make([]float32, n),
		SH0:       make([]float32, n*3),
	}
	for i := 0; i < n; i++ {
		s.Means[i*3] = float32(i)
		s.Rotations[i*4] = 1
		s.Scales[i*3+1] = float32(-i)
		s.SH0[i*3+2] = float32(i) / 10
	}
	return s
}

func TestGenerate(t *testing.T) {
	tmpl := &Template{
		HTML: "<head>\n" + styleLink + "\n</head>\n<script>" + scriptImport +
			"\nmain({ settings: fetch(settingsUrl).then(response => response.json()), contents: fetch(contentUrl), name: 'a.compressed.ply' });</script>",
		CSS: "body {\n    margin: 0;\n}\n",
		JS:  "export function main() {}",
	}
	html := tmpl.Generate([]byte("PK\x03\x04"), "")
	for _, unwanted := range []string{styleLink, scriptImport, settingsFetch, contentFetch, ".compressed.ply"} {
		if strings.Contains(html, unwanted) {
			t.Errorf("placeholder %q not replaced", unwanted)
		}
	}
	expected := []string{
		"<style>\n            body {\n                margin: 0;\n            }\n\n        </style>",
		"export function main() {}",
		"settings: " + DefaultSettings,
		`fetch("data:application/octet-stream;base64,UEsDBA==")`,
		"a.sog",
	}
	for _, s := range expected {
		if !strings.Contains(html, s) {
			t.Errorf("expected %q in output:\n%s", s, html)
		}
	}
}

func TestExportHTML(t *testing.T) {
	out := filepath.Join(t.TempDir(), "scene.html")
	var stages []string
	var fractions []float32
	res, err := ExportHTML(context.Background(), testSet(10), Options{
		OutputPath: out,
		Iterations: 2,
		Progress: func(fraction float32, stage string) bool {
			stages = append(stages, stage)
			fractions = append(fractions, fraction)
			return true
		},
	})
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if res == nil || res.Count != 10 {
		t.Errorf("expected bundle result for 10 splats, got %+v", res)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	m := regexp.MustCompile(`base64,([A-Za-z0-9+/=]+)"`).FindSubmatch(data)
	if m == nil {
		t.Fatalf("no embedded bundle found")
	}
	bundle, err := base64.StdEncoding.DecodeString(string(m[1]))
	if err != nil {
		t.Fatal(err)
	}
	zr, err := zip.NewReader(bytes.NewReader(bundle), int64(len(bundle)))
	if err != nil {
		t.Fatalf("embedded bundle is not a zip: %v", err)
	}
	if len(zr.File) != 6 {
		t.Errorf("expected 6 bundle entries, got %d", len(zr.File))
	}
	if stages[len(stages)-1] != "Done" || fractions[len(fractions)-1] != 1 {
		t.Errorf("expected final Done at 1, got %v %v", stages, fractions)
	}
	for i, f := range fractions {
		if i > 0 && f < fractions[i-1] {
			t.Errorf("progress decreased: %v", fractions)
		}
		if stages[i] == "Complete" && f != 0.5 {
			t.Errorf("bundle completion should map to 0.5, got %f", f)
		}
	}
}

func TestExportHTMLCancelled(t *testing.T) {
	out := filepath.Join(t.TempDir(), "scene.html")
	calls := 0
	_, err := ExportHTML(context.Background(), testSet(5), Options{
		OutputPath: out,
		Progress: func(float32, string) bool {
			calls++
			return calls < 3
		},
	})
	if !sog.IsCancelled(err) {
		t.Errorf("expected cancellation, got %v", err)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("no page should be written after cancellation")
	}
}

func TestLoadTemplate(t *testing.T) {
	tmpl, err := LoadTemplate("")
	if err != nil {
		t.Fatal(err)
	}
	for _, placeholder := range []string{styleLink, scriptImport, settingsFetch, contentFetch} {
		if !strings.Contains(tmpl.HTML, placeholder) {
			t.Errorf("built-in template lacks %q", placeholder)
		}
	}
	if _, err := LoadTemplate(t.TempDir()); err == nil {
		t.Errorf("expected error for empty template directory")
	}
}
