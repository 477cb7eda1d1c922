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

package main

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTest = `//go:build integration

package postgres

// TestPurpose: Validates tenant isolation.
// Scope: Integration Test
// Security: Tenant isolation
// Expected: Other tenant sees nothing.
// Test Case ID: ISO-01
func TestIsolation(t *testing.T) {}
`

func TestScanMetadata_ParsesAnnotations(t *testing.T) {
	dir := t.TempDir()
	pkgDir := filepath.Join(dir, "internal", "store", "postgres")
	require.NoError(t, os.MkdirAll(pkgDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pkgDir, "iso_test.go"), []byte(sampleTest), 0o644))

	meta, err := scanMetadata(dir)
	require.NoError(t, err)
	require.Len(t, meta, 1)

	for _, m := range meta {
		assert.Equal(t, "TestIsolation", m.Name)
		assert.Equal(t, "Validates tenant isolation.", m.Purpose)
		assert.Equal(t, "Tenant isolation", m.Security)
		assert.Equal(t, "ISO-01", m.TestCaseID)
		assert.Equal(t, "INTEGRATION", m.Type)
		assert.Equal(t, "Storage", m.Category)
	}
}

func TestParseTestOutput_MergesSubtests(t *testing.T) {
	pkg := modulePath + "/internal/route"
	meta := map[string]TestMetadata{
		pkg + ".TestPlan": {Name: "TestPlan", Package: pkg, Category: "Routes", TestCaseID: "RT-01"},
	}
	lines := []string{
		`{"Action":"run","Package":"` + pkg + `","Test":"TestPlan"}`,
		`{"Action":"run","Package":"` + pkg + `","Test":"TestPlan/empty"}`,
		`{"Action":"output","Package":"` + pkg + `","Test":"TestPlan/empty","Output":"boom\n"}`,
		`{"Action":"fail","Package":"` + pkg + `","Test":"TestPlan/empty","Elapsed":0.01}`,
		`{"Action":"fail","Package":"` + pkg + `","Test":"TestPlan","Elapsed":0.02}`,
	}
	path := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644))

	results, err := parseTestOutput(path, meta)
	require.NoError(t, err)
	require.Len(t, results, 2)

	sub := results[1]
	assert.Equal(t, "TestPlan/empty", sub.Name)
	assert.Equal(t, "fail", sub.Status)
	assert.Equal(t, "RT-01", sub.Annotations.TestCaseID)
	assert.Contains(t, sub.Failure, "boom")

	s := summarize(results)
	assert.Equal(t, 2, s.Failed)
	md := renderMarkdown(s, "Unit")
	assert.Contains(t, md, "## Routes")
	assert.Contains(t, md, "## Failures")
}

func TestTestType_DefaultsToUnit(t *testing.T) {
	f, err := parser.ParseFile(token.NewFileSet(), "x_test.go", "package x\n", parser.ParseComments)
	require.NoError(t, err)
	assert.Equal(t, "UT", testType(f))
}
