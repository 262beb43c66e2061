package fare

import (
	"errors"
	"fmt"
	"math"

	"github.com/example/ride-lifecycle/internal/models"
)

var (
	ErrNegativeDistance = errors.New("distance must be a non-negative number")
	ErrUnknownClass     = errors.New("unknown ride class")
)

const (
	DefaultIncludedKm   = 3.0
	DefaultPerKm        = 75.0
	DefaultRoundingUnit = 50
)

// Rates holds the price table for one ride class.
type Rates struct {
	Base  float64
	PerKm float64
}

// Calculator prices a trip from its distance and ride class.
// The zero value is not usable; use New or NewWithTable.
type Calculator struct {
	table      map[models.RideClass]Rates
	includedKm float64
	unit       int64
}

// DefaultTable returns the stock price table.
func DefaultTable() map[models.RideClass]Rates {
	return map[models.RideClass]Rates{
		models.ClassPrivate: {Base: 400, PerKm: DefaultPerKm},
		models.ClassMoto:    {Base: 150, PerKm: DefaultPerKm},
	}
}

func New() *Calculator {
	return NewWithTable(DefaultTable(), DefaultIncludedKm, DefaultRoundingUnit)
}

func NewWithTable(table map[models.RideClass]Rates, includedKm float64, unit int64) *Calculator {
	if unit <= 0 {
		unit = DefaultRoundingUnit
	}
	if includedKm < 0 {
		includedKm = 0
	}
	t := make(map[models.RideClass]Rates, len(table))
	for k, v := range table {
		t[k] = v
	}
	return &Calculator{table: t, includedKm: includedKm, unit: unit}
}

// Quote is the priced breakdown of a trip.
type Quote struct {
	Class      models.RideClass `json:"class"`
	DistanceKm float64          `json:"distance_km"`
	Base       float64          `json:"base"`
	ExtraKm    float64          `json:"extra_km"`
	Raw        float64          `json:"raw"`
	Fare       int64            `json:"fare"`
}

// Calculate returns the fare rounded to the smallest denomination in circulation.
func (c *Calculator) Calculate(distanceKm float64, class models.RideClass) (int64, error) {
	q, err := c.Quote(distanceKm, class)
	if err != nil {
		return 0, err
	}
	return q.Fare, nil
}

func (c *Calculator) Quote(distanceKm float64, class models.RideClass) (Quote, error) {
	if math.IsNaN(distanceKm) || math.IsInf(distanceKm, 0) || distanceKm < 0 {
		return Quote{}, fmt.Errorf("%w: %v", ErrNegativeDistance, distanceKm)
	}
	rates, ok := c.table[class]
	if !ok {
		return Quote{}, fmt.Errorf("%w: %q", ErrUnknownClass, class)
	}
	extra := 0.0
	if distanceKm > c.includedKm {
		extra = distanceKm - c.includedKm
	}
	raw := rates.Base + extra*rates.PerKm
	return Quote{
		Class:      class,
		DistanceKm: distanceKm,
		Base:       rates.Base,
		ExtraKm:    extra,
		Raw:        raw,
		Fare:       c.round(raw),
	}, nil
}

// BaseFare is the fare of any trip within the included distance.
func (c *Calculator) BaseFare(class models.RideClass) (int64, error) {
	rates, ok := c.table[class]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownClass, class)
	}
	return c.round(rates.Base), nil
}

// round half up to the nearest multiple of unit.
func (c *Calculator) round(raw float64) int64 {
	u := float64(c.unit)
	return int64(math.Floor(raw/u+0.5)) * c.unit
}
