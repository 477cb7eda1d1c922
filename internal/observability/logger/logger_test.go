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

package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestTraceContextHandler_AddsIDs(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(New(Config{Format: "json", Output: &buf}))

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	log.InfoContext(ctx, "sweep finished", PromiseID("p-1"))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", rec["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", rec["span_id"])
	assert.Equal(t, "p-1", rec["promise_id"])
}

func TestFanoutHandler_RespectsLevels(t *testing.T) {
	var debugBuf, errBuf bytes.Buffer
	h := NewFanoutHandler(
		New(Config{Level: "debug", Format: "text", Output: &debugBuf}),
		New(Config{Level: "error", Format: "text", Output: &errBuf}),
	)
	log := slog.New(h).With(Component("planner"))

	log.Debug("scored candidates")
	log.Error("persist failed")

	assert.Equal(t, 2, strings.Count(debugBuf.String(), "component=planner"))
	assert.NotContains(t, errBuf.String(), "scored candidates")
	assert.Contains(t, errBuf.String(), "persist failed")
}
