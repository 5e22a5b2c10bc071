package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macrolens/larder/internal/domain"
)

func TestDefault_Loads(t *testing.T) {
	c := Default()
	require.NotNil(t, c)
	assert.Equal(t, "each", c.BaseUnit(Count))
	assert.Equal(t, "g", c.BaseUnit(Mass))
	assert.Equal(t, "ml", c.BaseUnit(Volume))
	assert.Equal(t, 2, c.MaxAliasWords())
}

func TestLookup(t *testing.T) {
	c := Default()

	tests := []struct {
		token string
		want  string
		dim   Dimension
	}{
		{"cups", "cup", Volume},
		{"Tbsp.", "tbsp", Volume},
		{"fl. oz", "fl oz", Volume},
		{"fluid ounces", "fl oz", Volume},
		{"OUNCES", "oz", Mass},
		{"kilograms", "kg", Mass},
		{"pieces", "each", Count},
		{"dozen", "dozen", Count},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			u, ok := c.Lookup(tt.token)
			require.True(t, ok)
			assert.Equal(t, tt.want, u.ID)
			assert.Equal(t, tt.dim, u.Dimension)
		})
	}

	_, ok := c.Lookup("handful")
	assert.False(t, ok)
}

func TestDimensionOf_UnknownUnit(t *testing.T) {
	_, err := Default().DimensionOf("smidgen")
	assert.ErrorIs(t, err, domain.ErrUnknownUnit)
}

func TestToBaseFromBase(t *testing.T) {
	c := Default()

	base, err := c.ToBase("kg", 1.5)
	require.NoError(t, err)
	assert.InDelta(t, 1500, base, 1e-9)

	cups, err := c.FromBase("cup", 473.176473)
	require.NoError(t, err)
	assert.InDelta(t, 2, cups, 1e-9)
}

func TestConvert_RoundTripWithinDimension(t *testing.T) {
	c := Default()
	pairs := [][2]string{
		{"cup", "ml"}, {"tbsp", "tsp"}, {"l", "fl oz"}, {"gal", "pinch"},
		{"lb", "g"}, {"oz", "kg"}, {"mg", "lb"},
		{"dozen", "each"},
	}
	for _, p := range pairs {
		for _, q := range []float64{0.125, 1, 3.3, 250} {
			there, err := c.Convert(q, p[0], p[1], 0)
			require.NoError(t, err)
			back, err := c.Convert(there, p[1], p[0], 0)
			require.NoError(t, err)
			assert.InDelta(t, q, back, 1e-9*q, "%v %s via %s", q, p[0], p[1])
		}
	}
}

func TestConvert_CrossDimension(t *testing.T) {
	c := Default()

	t.Run("mass to volume with density", func(t *testing.T) {
		ml, err := c.Convert(103, "g", "ml", 1.03)
		require.NoError(t, err)
		assert.InDelta(t, 100, ml, 1e-9)
	})

	t.Run("volume to mass with density", func(t *testing.T) {
		g, err := c.Convert(1, "cup", "g", 0.53)
		require.NoError(t, err)
		assert.InDelta(t, 236.5882365*0.53, g, 1e-9)
	})

	t.Run("mass to volume without density", func(t *testing.T) {
		_, err := c.Convert(1, "g", "ml", 0)
		assert.ErrorIs(t, err, domain.ErrInconvertible)
	})

	t.Run("count never converts", func(t *testing.T) {
		_, err := c.Convert(1, "each", "g", 1.0)
		assert.ErrorIs(t, err, domain.ErrInconvertible)
	})
}

func TestDensityFor(t *testing.T) {
	c := Default()

	tests := []struct {
		name     string
		category string
		food     string
		want     float64
		ok       bool
	}{
		{"exact name", "", "flour", 0.53, true},
		{"longest entry wins", "baking", "Bread Flour", 0.55, true},
		{"extra tokens still match", "", "all-purpose flour", 0.53, true},
		{"plural folds", "", "rolled oats", 0.41, true},
		{"multi token beats single", "", "extra virgin olive oil", 0.91, true},
		{"category fallback", "dairy", "kefir", 1.03, true},
		{"unknown", "produce", "dragon scale", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := c.DensityFor(tt.category, tt.food)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestCategoryRules(t *testing.T) {
	c := Default()

	assert.Equal(t, "each", c.DefaultUnit("produce"))
	assert.Equal(t, "g", c.DefaultUnit("meat"))
	assert.Equal(t, "ml", c.DefaultUnit("Dairy"))
	assert.Equal(t, "each", c.DefaultUnit("no-such-category"))
	assert.Equal(t, []string{"each", "dozen"}, c.AllowedUnits("eggs"))

	assert.NoError(t, c.ValidateRecordUnit("dairy", "cups"))
	assert.NoError(t, c.ValidateRecordUnit("eggs", "dozen"))
	assert.ErrorIs(t, c.ValidateRecordUnit("eggs", "g"), domain.ErrUnitNotAllowed)
	assert.ErrorIs(t, c.ValidateRecordUnit("produce", "ml"), domain.ErrUnitNotAllowed)
	assert.ErrorIs(t, c.ValidateRecordUnit("produce", "smidgen"), domain.ErrUnknownUnit)

	u, err := c.ResolveUnit("meat", "")
	require.NoError(t, err)
	assert.Equal(t, "g", u.ID)
}

func TestLoad_RejectsBadTables(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad yaml", "dimensions: ["},
		{"zero factor", `
dimensions:
  count: {base: each, units: [{id: each, factor: 0}]}
`},
		{"missing dimensions", `
dimensions:
  count: {base: each, units: [{id: each, factor: 1}]}
categories: [{name: other, dimensions: [count]}]
`},
		{"duplicate alias", `
dimensions:
  count: {base: each, units: [{id: each, factor: 1, aliases: [x]}]}
  mass: {base: g, units: [{id: g, factor: 1, aliases: [x]}]}
  volume: {base: ml, units: [{id: ml, factor: 1}]}
categories: [{name: other, dimensions: [count]}]
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}
