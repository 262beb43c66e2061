package fare

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-lifecycle/internal/models"
)

func TestCalculate_Scenarios(t *testing.T) {
	c := New()
	cases := []struct {
		name  string
		km    float64
		class models.RideClass
		want  int64
	}{
		{"short private trip is base only", 2.4, models.ClassPrivate, 400},
		{"private 5km", 5.0, models.ClassPrivate, 550},
		{"moto 5km", 5.0, models.ClassMoto, 300},
		{"zero distance", 0, models.ClassMoto, 150},
		{"exactly included distance", 3.0, models.ClassPrivate, 400},
		{"rounds up past half unit", 3.4, models.ClassPrivate, 450},
		{"rounds down below half unit", 3.2, models.ClassPrivate, 400},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := c.Calculate(tc.km, tc.class)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCalculate_Monotonic(t *testing.T) {
	c := New()
	for _, class := range []models.RideClass{models.ClassPrivate, models.ClassMoto} {
		prev := int64(-1)
		for km := 0.0; km <= 40; km += 0.05 {
			got, err := c.Calculate(km, class)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, got, prev, "class=%s km=%.2f", class, km)
			prev = got
		}
	}
}

func TestCalculate_AlwaysMultipleOfUnit(t *testing.T) {
	c := New()
	for km := 0.0; km <= 25; km += 0.013 {
		for _, class := range []models.RideClass{models.ClassPrivate, models.ClassMoto} {
			got, err := c.Calculate(km, class)
			require.NoError(t, err)
			assert.Zero(t, got%DefaultRoundingUnit, "km=%.3f fare=%d", km, got)
		}
	}
}

func TestQuote_BaseBoundary(t *testing.T) {
	c := New()
	for _, class := range []models.RideClass{models.ClassPrivate, models.ClassMoto} {
		base, err := c.BaseFare(class)
		require.NoError(t, err)

		q, err := c.Quote(3.0, class)
		require.NoError(t, err)
		assert.Equal(t, base, q.Fare)
		assert.Zero(t, q.ExtraKm)

		q, err = c.Quote(3.0+1e-9, class)
		require.NoError(t, err)
		assert.Greater(t, q.Raw, float64(base))
	}
}

func TestCalculate_RejectsBadInput(t *testing.T) {
	c := New()

	_, err := c.Calculate(-0.1, models.ClassPrivate)
	assert.ErrorIs(t, err, ErrNegativeDistance)

	_, err = c.Calculate(math.NaN(), models.ClassPrivate)
	assert.ErrorIs(t, err, ErrNegativeDistance)

	_, err = c.Calculate(1, models.RideClass("helicopter"))
	assert.ErrorIs(t, err, ErrUnknownClass)
}

func TestNewWithTable_CopiesTable(t *testing.T) {
	table := DefaultTable()
	c := NewWithTable(table, 2, 100)
	table[models.ClassMoto] = Rates{Base: 9999}

	got, err := c.Calculate(4, models.ClassMoto)
	require.NoError(t, err)
	// 150 + 2*75 = 300
	assert.Equal(t, int64(300), got)
}
