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

package auth

import "slices"

// -----------------------------------------------------------------------------
// Role Name Constants
// These are the role claim values accepted in bearer tokens.
// -----------------------------------------------------------------------------

const (
	// RoleCollector is a field agent working their own route.
	RoleCollector = "collector"

	// RoleSupervisor manages collectors within one tenant.
	RoleSupervisor = "supervisor"

	// RoleAdmin has every permission within one tenant.
	RoleAdmin = "admin"
)

// -----------------------------------------------------------------------------
// Permission Constants
// -----------------------------------------------------------------------------

const (
	PermVisitRecord    = "visit:record"
	PermPromiseCreate  = "promise:create"
	PermPromiseResolve = "promise:resolve"
	PermPromiseRead    = "promise:read"
	PermRoutePlan      = "route:plan"
	PermRoutePlanAny   = "route:plan_any"
	PermRouteRead      = "route:read"
	PermRouteActivate  = "route:activate"
	PermRouteModify    = "route:modify"
	PermAnalyticsRead  = "analytics:read"
	PermClientLocate   = "client:locate"
)

// -----------------------------------------------------------------------------
// Role Permission Mappings
// -----------------------------------------------------------------------------

// AdminPermissions defines permissions for the admin role.
var AdminPermissions = []string{
	"*", // Wildcard: all permissions
}

// SupervisorPermissions defines permissions for the supervisor role.
var SupervisorPermissions = []string{
	PermVisitRecord,
	PermPromiseCreate,
	PermPromiseResolve,
	PermPromiseRead,
	PermRoutePlan,
	PermRoutePlanAny,
	PermRouteRead,
	PermRouteActivate,
	PermRouteModify,
	PermAnalyticsRead,
	PermClientLocate,
}

// CollectorPermissions defines permissions for the collector role.
// Collectors plan only their own route.
var CollectorPermissions = []string{
	PermVisitRecord,
	PermPromiseCreate,
	PermPromiseResolve,
	PermPromiseRead,
	PermRoutePlan,
	PermRouteRead,
	PermRouteActivate,
	PermRouteModify,
}

var rolePermissions = map[string][]string{
	RoleAdmin:      AdminPermissions,
	RoleSupervisor: SupervisorPermissions,
	RoleCollector:  CollectorPermissions,
}

// ValidRole reports whether role is known.
func ValidRole(role string) bool {
	_, ok := rolePermissions[role]
	return ok
}

// HasPermission checks if role grants permission
func HasPermission(role, permission string) bool {
	perms := rolePermissions[role]
	return slices.Contains(perms, "*") || slices.Contains(perms, permission)
}
