// Package identity builds the retrieval-scoping filter from a caller's
// resolved identity (C1). Authentication itself happens in internal/auth;
// this package is the single place that turns a CallerContext into the
// vectorstore.Filter every search branch is scoped by.
package identity

import (
	"github.com/knoguchi/ragquery/internal/pipeline"
	"github.com/knoguchi/ragquery/internal/vectorstore"
)

// BuildFilter validates the caller context and derives the push-down
// filter retrieval uses. A caller with no tenant ID, or no user ID, is
// always invalid (spec.md §4.1); a wildcard tenant ("*", the admin caller)
// is rejected here too — admin callers manage tenants, they do not query
// them. The returned filter carries the full ACL principal set {userId} ∪
// groupIds, not groupIds alone, so a document ACL'd directly to the user
// still matches.
func BuildFilter(caller pipeline.CallerContext) (vectorstore.Filter, *pipeline.StructuredError) {
	if caller.TenantID == "" || caller.TenantID == "*" {
		return vectorstore.Filter{}, pipeline.NewError(pipeline.KindInvalidCaller, "missing or invalid tenant", nil)
	}
	if caller.UserID == "" {
		return vectorstore.Filter{}, pipeline.NewError(pipeline.KindInvalidCaller, "missing user id", nil)
	}
	return vectorstore.Filter{
		TenantID:  caller.TenantID,
		UserID:    caller.UserID,
		GroupIDs:  caller.GroupIDs,
		Languages: caller.Languages,
	}, nil
}
