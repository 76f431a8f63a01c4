package taxonomy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikey/mail-triage/internal/core"
)

func TestDefaultSeverityOrder(t *testing.T) {
	tax := Default()

	assert.Equal(t, []core.Category{
		core.CategoryDangerous,
		core.CategoryFraudScam,
		core.CategoryCommercialBulk,
		core.CategoryLegitimate,
		core.CategoryNeedsReview,
	}, tax.BySeverity())
}

func TestDefaultDispositions(t *testing.T) {
	tax := Default()

	tests := []struct {
		category core.Category
		want     core.Disposition
	}{
		{core.CategoryDangerous, core.DispositionDelete},
		{core.CategoryFraudScam, core.DispositionDelete},
		{core.CategoryCommercialBulk, core.DispositionDelete},
		{core.CategoryLegitimate, core.DispositionPreserve},
		{core.CategoryNeedsReview, core.DispositionPreserve},
		{core.Category("Unknown"), core.DispositionPreserve},
	}
	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			assert.Equal(t, tt.want, tax.Disposition(tt.category))
		})
	}
}

func TestSubcategories(t *testing.T) {
	tax := Default()

	assert.True(t, tax.HasSubcategory(core.CategoryDangerous, TagGibberishDomain))
	assert.False(t, tax.HasSubcategory(core.CategoryLegitimate, TagGibberishDomain))

	require.NoError(t, tax.AddSubcategory(core.CategoryCommercialBulk, "Coupons"))
	assert.True(t, tax.HasSubcategory(core.CategoryCommercialBulk, "coupons"))
	require.NoError(t, tax.AddSubcategory(core.CategoryCommercialBulk, "coupons"))

	root, ok := tax.Node(core.CategoryCommercialBulk)
	require.True(t, ok)
	assert.Len(t, root.Children(), 5)
	assert.Equal(t, root, root.Children()[4].TopLevel())

	assert.Error(t, tax.AddSubcategory("Nope", "x"))
}

func TestAddRootRejectsDuplicates(t *testing.T) {
	tax := Default()
	_, err := tax.AddRoot(core.CategoryDangerous, 9, 0.1, core.DispositionDelete)
	assert.Error(t, err)
}

func TestFloor(t *testing.T) {
	tax := Default()
	assert.InDelta(t, 0.55, tax.Floor(core.CategoryFraudScam), 1e-9)
	assert.Zero(t, tax.Floor("missing"))
}
