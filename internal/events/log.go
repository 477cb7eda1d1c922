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

package events

import (
	"context"
	"log/slog"
)

// LogPublisher writes events to the structured log. Used when no broker is
// configured.
type LogPublisher struct{}

func (LogPublisher) Publish(ctx context.Context, evt Event) error {
	slog.InfoContext(ctx, "domain event",
		slog.String("event_id", evt.ID),
		slog.String("event_type", evt.Type),
		slog.String("tenant_id", evt.TenantID),
		slog.Any("data", evt.Data),
	)
	return nil
}
