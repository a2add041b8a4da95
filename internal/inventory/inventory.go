// Package inventory tracks how much of each compute resource is held by
// active reservations.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/compute-market/internal/metrics"
)

var ErrUnknownResource = errors.New("unknown resource type")

// Resource is a catalog entry.
type Resource struct {
	Type       string            `json:"resource_type"`
	TotalUnits int               `json:"total_units"`
	HourlyRate decimal.Decimal   `json:"base_price_per_hour"`
	Specs      map[string]string `json:"specs"`
}

// DefaultCatalog returns the built-in resource catalog.
func DefaultCatalog() []Resource {
	return []Resource{
		{
			Type:       "GPU",
			TotalUnits: 100,
			HourlyRate: decimal.RequireFromString("2.50"),
			Specs:      map[string]string{"gpu_model": "V100", "cpu_cores": "8", "memory_gb": "32", "storage_gb": "100", "network_bandwidth": "10 Gbps"},
		},
		{
			Type:       "CPU",
			TotalUnits: 500,
			HourlyRate: decimal.RequireFromString("0.80"),
			Specs:      map[string]string{"cpu_cores": "16", "memory_gb": "64", "storage_gb": "200", "network_bandwidth": "1 Gbps"},
		},
		{
			Type:       "TPU",
			TotalUnits: 50,
			HourlyRate: decimal.RequireFromString("6.00"),
			Specs:      map[string]string{"tpu_model": "TPUv4", "cpu_cores": "4", "memory_gb": "16", "storage_gb": "50", "network_bandwidth": "100 Gbps"},
		},
	}
}

// UnitCounter reports reserved units. *store.HybridStore satisfies it.
type UnitCounter interface {
	ReservedUnits(ctx context.Context, resourceType string) (int, error)
}

// Availability is the live view of one resource.
type Availability struct {
	ResourceType       string            `json:"resource_type"`
	TotalUnits         int               `json:"total_units"`
	ReservedUnits      int               `json:"reserved_units"`
	AvailableUnits     int               `json:"available_units"`
	UtilizationPercent float64           `json:"utilization_percent"`
	BasePricePerHour   decimal.Decimal   `json:"base_price_per_hour"`
	Region             string            `json:"region"`
	Specs              map[string]string `json:"specs"`
}

type Service struct {
	counter UnitCounter
	catalog map[string]Resource
	region  string
}

// New builds the service. rates, when non-empty, override catalog prices so
// availability and the seller's price model agree.
func New(counter UnitCounter, catalog []Resource, rates map[string]decimal.Decimal, region string) *Service {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	m := make(map[string]Resource, len(catalog))
	for _, r := range catalog {
		r.Type = strings.ToUpper(r.Type)
		if rate, ok := rates[r.Type]; ok {
			r.HourlyRate = rate
		}
		m[r.Type] = r
	}
	return &Service{counter: counter, catalog: m, region: region}
}

// Lookup returns the catalog entry for resourceType, case-insensitively.
func (s *Service) Lookup(resourceType string) (Resource, bool) {
	r, ok := s.catalog[strings.ToUpper(resourceType)]
	return r, ok
}

// Types returns the catalog's resource types in sorted order.
func (s *Service) Types() []string {
	out := make([]string, 0, len(s.catalog))
	for t := range s.catalog {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (s *Service) Availability(ctx context.Context, resourceType string) (Availability, error) {
	r, ok := s.Lookup(resourceType)
	if !ok {
		return Availability{}, fmt.Errorf("%w: %s", ErrUnknownResource, resourceType)
	}

	reserved := 0
	if s.counter != nil {
		n, err := s.counter.ReservedUnits(ctx, r.Type)
		if err != nil {
			return Availability{}, fmt.Errorf("availability %s: %w", r.Type, err)
		}
		reserved = min(n, r.TotalUnits)
	}
	available := r.TotalUnits - reserved
	metrics.SetInventoryAvailable(r.Type, available)

	util := 0.0
	if r.TotalUnits > 0 {
		util = float64(reserved) / float64(r.TotalUnits) * 100
	}
	return Availability{
		ResourceType:       r.Type,
		TotalUnits:         r.TotalUnits,
		ReservedUnits:      reserved,
		AvailableUnits:     available,
		UtilizationPercent: decimal.NewFromFloat(util).Round(1).InexactFloat64(),
		BasePricePerHour:   r.HourlyRate,
		Region:             s.region,
		Specs:              r.Specs,
	}, nil
}

// All returns availability for every catalog entry.
func (s *Service) All(ctx context.Context) ([]Availability, error) {
	out := make([]Availability, 0, len(s.catalog))
	for _, t := range s.Types() {
		a, err := s.Availability(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// Scarcity is the utilization fraction in [0, 1]. It implements
// pricing.ScarcityProvider.
func (s *Service) Scarcity(ctx context.Context, resourceType string) (float64, error) {
	a, err := s.Availability(ctx, resourceType)
	if err != nil {
		return 0, err
	}
	if a.TotalUnits == 0 {
		return 1, nil
	}
	return float64(a.ReservedUnits) / float64(a.TotalUnits), nil
}
