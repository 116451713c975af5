package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knoguchi/ragquery/internal/pipeline"
)

func TestBuildFilterRejectsMissingTenant(t *testing.T) {
	_, err := BuildFilter(pipeline.CallerContext{})
	require.NotNil(t, err)
	assert.Equal(t, pipeline.KindInvalidCaller, err.Kind)
}

func TestBuildFilterRejectsWildcardAdminTenant(t *testing.T) {
	_, err := BuildFilter(pipeline.CallerContext{TenantID: "*"})
	require.NotNil(t, err)
	assert.Equal(t, pipeline.KindInvalidCaller, err.Kind)
}

func TestBuildFilterRejectsMissingUser(t *testing.T) {
	_, err := BuildFilter(pipeline.CallerContext{TenantID: "tenant-1"})
	require.NotNil(t, err)
	assert.Equal(t, pipeline.KindInvalidCaller, err.Kind)
}

func TestBuildFilterCarriesGroupsAndLanguages(t *testing.T) {
	filter, err := BuildFilter(pipeline.CallerContext{
		TenantID:  "tenant-1",
		UserID:    "user-1",
		GroupIDs:  []string{"eng", "support"},
		Languages: []string{"en", "ja"},
	})
	require.Nil(t, err)
	assert.Equal(t, "tenant-1", filter.TenantID)
	assert.Equal(t, "user-1", filter.UserID)
	assert.Equal(t, []string{"eng", "support"}, filter.GroupIDs)
	assert.Equal(t, []string{"en", "ja"}, filter.Languages)
}

func TestFilterPrincipalsUnionsUserAndGroups(t *testing.T) {
	filter, err := BuildFilter(pipeline.CallerContext{
		TenantID: "tenant-1",
		UserID:   "user-1",
		GroupIDs: []string{"eng"},
	})
	require.Nil(t, err)
	assert.Equal(t, []string{"user-1", "eng"}, filter.Principals())
}
