package testutil

import (
	"fmt"
	"time"

	"github.com/Veraticus/factorflow/internal/model"
)

// Factor IDs produced by CatalogBuilder.
const (
	FactorElectricity = "f-elec"
	FactorNaturalGas  = "f-gas"
	FactorDiesel      = "f-diesel"
)

// CatalogBuilder assembles reference factors for tests.
type CatalogBuilder struct {
	factors []model.ReferenceFactor
}

// NewCatalog starts an empty catalog.
func NewCatalog() *CatalogBuilder {
	return &CatalogBuilder{}
}

// WithElectricity adds grid electricity at 0.233 kgCO2e/kWh, scope 2.
func (b *CatalogBuilder) WithElectricity() *CatalogBuilder {
	return b.WithFactor(model.ReferenceFactor{
		ID:              FactorElectricity,
		CategoryPath:    []string{"Electricity", "Grid"},
		Unit:            "kWh",
		Scope:           model.Scope2,
		Source:          "GHG Protocol",
		Year:            2024,
		ConversionValue: model.Float(0.233),
	})
}

// WithNaturalGas adds natural gas at 0.184 kgCO2e/kWh, scope 1, from EPA.
func (b *CatalogBuilder) WithNaturalGas() *CatalogBuilder {
	return b.WithFactor(model.ReferenceFactor{
		ID:              FactorNaturalGas,
		CategoryPath:    []string{"Fuels", "Natural Gas"},
		Unit:            "kWh",
		Scope:           model.Scope1,
		Source:          "EPA",
		Year:            2024,
		ConversionValue: model.Float(0.184),
	})
}

// WithDiesel adds a diesel factor without a conversion value, which requires
// the estimation service.
func (b *CatalogBuilder) WithDiesel() *CatalogBuilder {
	return b.WithFactor(model.ReferenceFactor{
		ID:                 FactorDiesel,
		ExternalID:         "diesel-mobile",
		CategoryPath:       []string{"Fuels", "Diesel"},
		Unit:               "L",
		Scope:              model.Scope1,
		Source:             "DEFRA",
		Year:               2024,
		AcceptedParameters: []model.Parameter{{Name: "volume", Unit: "l"}},
	})
}

// WithFactor adds an arbitrary factor.
func (b *CatalogBuilder) WithFactor(f model.ReferenceFactor) *CatalogBuilder {
	b.factors = append(b.factors, f)
	return b
}

// Build returns a copy of the assembled factors.
func (b *CatalogBuilder) Build() []model.ReferenceFactor {
	return append([]model.ReferenceFactor(nil), b.factors...)
}

// Usage describes the category, unit and scope of generated records.
type Usage struct {
	Category []string
	Unit     string
	Scope    model.Scope
	Quantity float64
}

// Common usages.
var (
	ElectricityUsage = Usage{Category: []string{"electricity"}, Unit: "KWH", Scope: model.Scope2, Quantity: 1000}
	UnknownFuelUsage = Usage{Category: []string{"Unknown Fuel"}, Unit: "L", Scope: model.Scope1, Quantity: 10}
)

// Records generates count unmatched records for account, IDs prefixed with the
// account ("acc1-01", "acc1-02", ...) and dated one day apart from 2024-01-01.
func Records(account string, count int, usage Usage) []model.UsageRecord {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	records := make([]model.UsageRecord, count)
	for i := range records {
		records[i] = model.UsageRecord{
			ID:           fmt.Sprintf("%s-%02d", account, i+1),
			AccountID:    account,
			CategoryPath: append([]string(nil), usage.Category...),
			Unit:         usage.Unit,
			Scope:        usage.Scope,
			Quantity:     usage.Quantity,
			Date:         start.AddDate(0, 0, i),
		}
	}
	return records
}
