// Copyright 2026 The CollectOps Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command report_gen merges `go test -json` output with the TestPurpose
// annotations in *_test.go files and writes JSON and Markdown reports.
//
//	go test -json ./... > test.json
//	go run ./scripts/testing -input test.json -out-json report.json -out-md report.md
package main

import (
	"bufio"
	"cmp"
	"encoding/json"
	"flag"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

const modulePath = "github.com/collectops/collectops"

// TestMetadata holds the annotations parsed from a test's doc comment
type TestMetadata struct {
	Name       string `json:"name"`
	Purpose    string `json:"purpose,omitempty"`
	Scope      string `json:"scope,omitempty"`
	Security   string `json:"security,omitempty"`
	Expected   string `json:"expected,omitempty"`
	TestCaseID string `json:"test_case_id,omitempty"`
	Package    string `json:"package"`
	Category   string `json:"category"`
	Type       string `json:"type"` // UT, INTEGRATION
}

// GoTestEvent is one line of `go test -json`
type GoTestEvent struct {
	Action  string  `json:"Action"`
	Package string  `json:"Package"`
	Test    string  `json:"Test"`
	Elapsed float64 `json:"Elapsed"`
	Output  string  `json:"Output"`
}

// TestResult is the merged outcome of one test
type TestResult struct {
	Name        string       `json:"name"`
	Status      string       `json:"status"`
	Elapsed     float64      `json:"elapsed_seconds"`
	Package     string       `json:"package"`
	Failure     string       `json:"failure_reason,omitempty"`
	Annotations TestMetadata `json:"annotations"`
}

// Summary is the report body
type Summary struct {
	GeneratedAt time.Time    `json:"generated_at"`
	Total       int          `json:"total"`
	Passed      int          `json:"passed"`
	Failed      int          `json:"failed"`
	Skipped     int          `json:"skipped"`
	Results     []TestResult `json:"results"`
}

// categories maps package path fragments to report sections, first match wins.
var categories = []struct{ fragment, name string }{
	{"internal/route", "Routes"},
	{"internal/visit", "Visits"},
	{"internal/promise", "Promises"},
	{"internal/scoring", "Scoring"},
	{"internal/analytics", "Analytics"},
	{"internal/auth", "Auth"},
	{"internal/store", "Storage"},
	{"internal/events", "Events"},
	{"internal/scheduler", "Scheduler"},
	{"internal/transport/http", "API"},
}

func main() {
	input := flag.String("input", "", "path to go test -json output")
	outJSON := flag.String("out-json", "", "path for the JSON report")
	outMD := flag.String("out-md", "", "path for the Markdown report")
	title := flag.String("title", "Test Report", "report title")
	category := flag.String("category", "", "only include this category")
	flag.Parse()

	if *input == "" || *outJSON == "" || *outMD == "" {
		fmt.Fprintln(os.Stderr, "usage: report_gen -input <json> -out-json <file> -out-md <file>")
		os.Exit(2)
	}

	meta, err := scanMetadata(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to scan tests: %v\n", err)
		os.Exit(1)
	}
	results, err := parseTestOutput(*input, meta)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read test output: %v\n", err)
		os.Exit(1)
	}
	if *category != "" {
		results = slices.DeleteFunc(results, func(r TestResult) bool {
			return r.Annotations.Category != *category
		})
	}

	summary := summarize(results)
	if err := writeJSON(summary, *outJSON); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write JSON report: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*outMD, []byte(renderMarkdown(summary, *title)), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write Markdown report: %v\n", err)
		os.Exit(1)
	}

	// Non-zero exit keeps CI gates honest.
	if summary.Failed > 0 {
		fmt.Printf("%d tests failed\n", summary.Failed)
		os.Exit(1)
	}
}

func scanMetadata(root string) (map[string]TestMetadata, error) {
	out := make(map[string]TestMetadata)
	fset := token.NewFileSet()

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if name := d.Name(); name == "vendor" || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
				if path != root {
					return filepath.SkipDir
				}
			}
			return nil
		}
		if !strings.HasSuffix(path, "_test.go") {
			return nil
		}

		file, err := parser.ParseFile(fset, path, nil, parser.ParseComments)
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		pkg := packagePath(rel)
		for _, decl := range file.Decls {
			fn, ok := decl.(*ast.FuncDecl)
			if !ok || !strings.HasPrefix(fn.Name.Name, "Test") {
				continue
			}
			m := TestMetadata{
				Name:     fn.Name.Name,
				Package:  pkg,
				Type:     testType(file),
				Category: categoryOf(pkg),
			}
			if fn.Doc != nil {
				parseAnnotations(fn.Doc, &m)
			}
			out[pkg+"."+fn.Name.Name] = m
		}
		return nil
	})
	return out, err
}

func parseAnnotations(doc *ast.CommentGroup, m *TestMetadata) {
	fields := map[string]*string{
		"TestPurpose:":  &m.Purpose,
		"Scope:":        &m.Scope,
		"Security:":     &m.Security,
		"Expected:":     &m.Expected,
		"Test Case ID:": &m.TestCaseID,
	}
	for _, line := range doc.List {
		text := strings.TrimSpace(strings.TrimPrefix(line.Text, "//"))
		for prefix, dst := range fields {
			if rest, ok := strings.CutPrefix(text, prefix); ok {
				*dst = strings.TrimSpace(rest)
			}
		}
	}
}

// testType reports INTEGRATION for files behind the integration build tag.
func testType(file *ast.File) string {
	for _, cg := range file.Comments {
		for _, c := range cg.List {
			if strings.HasPrefix(c.Text, "//go:build") && strings.Contains(c.Text, "integration") {
				return "INTEGRATION"
			}
		}
	}
	return "UT"
}

func packagePath(file string) string {
	dir := filepath.ToSlash(filepath.Dir(file))
	dir = strings.TrimPrefix(dir, "./")
	if dir == "." {
		return modulePath
	}
	return modulePath + "/" + dir
}

func categoryOf(pkg string) string {
	for _, c := range categories {
		if strings.Contains(pkg, c.fragment) {
			return c.name
		}
	}
	return "Other"
}

func parseTestOutput(path string, meta map[string]TestMetadata) ([]TestResult, error) {
	states := make(map[string]*TestResult, len(meta))
	for key, m := range meta {
		states[key] = &TestResult{Name: m.Name, Package: m.Package, Status: "not run", Annotations: m}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var evt GoTestEvent
		if err := json.Unmarshal(sc.Bytes(), &evt); err != nil || evt.Test == "" {
			continue
		}

		key := evt.Package + "." + evt.Test
		res, ok := states[key]
		if !ok {
			// Subtests inherit the parent's annotations.
			parent, _, _ := strings.Cut(evt.Test, "/")
			m, found := meta[evt.Package+"."+parent]
			if !found {
				m = TestMetadata{Package: evt.Package, Category: categoryOf(evt.Package), Type: "UT"}
			}
			m.Name = evt.Test
			res = &TestResult{Name: evt.Test, Package: evt.Package, Annotations: m}
			states[key] = res
		}

		switch evt.Action {
		case "pass", "fail":
			res.Status = evt.Action
			res.Elapsed = evt.Elapsed
		case "skip":
			res.Status = "skip"
		case "output":
			if res.Status == "" || res.Status == "not run" || res.Status == "fail" {
				res.Failure += evt.Output
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	out := make([]TestResult, 0, len(states))
	for _, r := range states {
		if r.Status != "fail" {
			r.Failure = ""
		}
		out = append(out, *r)
	}
	slices.SortFunc(out, func(a, b TestResult) int {
		return cmp.Or(cmp.Compare(a.Package, b.Package), cmp.Compare(a.Name, b.Name))
	})
	return out, nil
}

func summarize(results []TestResult) Summary {
	s := Summary{GeneratedAt: time.Now().UTC(), Results: results}
	for _, r := range results {
		s.Total++
		switch r.Status {
		case "pass":
			s.Passed++
		case "fail":
			s.Failed++
		case "skip":
			s.Skipped++
		}
	}
	return s
}

func writeJSON(s Summary, path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func renderMarkdown(s Summary, title string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# CollectOps %s\n\n", title)
	fmt.Fprintf(&sb, "**Generated:** %s  \n", s.GeneratedAt.Format(time.RFC3339))
	status := "PASSED"
	if s.Failed > 0 {
		status = "FAILED"
	}
	fmt.Fprintf(&sb, "**Status:** %s\n\n", status)

	rate := 0.0
	if s.Total > 0 {
		rate = float64(s.Passed) / float64(s.Total) * 100
	}
	sb.WriteString("| Total | Passed | Failed | Skipped | Pass Rate |\n")
	sb.WriteString("|-------|--------|--------|---------|-----------|\n")
	fmt.Fprintf(&sb, "| %d | %d | %d | %d | %.1f%% |\n\n", s.Total, s.Passed, s.Failed, s.Skipped, rate)

	grouped := make(map[string][]TestResult)
	for _, r := range s.Results {
		grouped[r.Annotations.Category] = append(grouped[r.Annotations.Category], r)
	}
	order := make([]string, 0, len(categories)+1)
	for _, c := range categories {
		order = append(order, c.name)
	}
	order = append(order, "Other")

	for _, name := range order {
		tests := grouped[name]
		if len(tests) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "## %s\n\n", name)
		sb.WriteString("| ID | Test | Status | Purpose | Security |\n")
		sb.WriteString("|----|------|--------|---------|----------|\n")
		for _, t := range tests {
			fmt.Fprintf(&sb, "| %s | %s | %s | %s | %s |\n",
				t.Annotations.TestCaseID, t.Name, t.Status, t.Annotations.Purpose, t.Annotations.Security)
		}
		sb.WriteString("\n")
	}

	if s.Failed > 0 {
		sb.WriteString("## Failures\n\n")
		for _, t := range s.Results {
			if t.Status == "fail" {
				fmt.Fprintf(&sb, "### %s.%s\n\n```\n%s```\n\n", t.Package, t.Name, t.Failure)
			}
		}
	}
	return sb.String()
}
