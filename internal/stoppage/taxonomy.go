package stoppage

import (
	"fmt"
	"sort"

	"github.com/sebastiankruger/shopfloor-oee/internal/errors"
)

// Subcode is the second level of a stoppage reason, numbered 1-9.
type Subcode struct {
	Number      int    `json:"number"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Category is the first level of a stoppage reason. Codes form a 3×3 grid:
// a row letter A-C and a column digit 1-3.
type Category struct {
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Subcodes    []Subcode `json:"subcodes"`
}

// Subcode returns the subcode with the given number.
func (c Category) Subcode(number int) (Subcode, bool) {
	for _, s := range c.Subcodes {
		if s.Number == number {
			return s, true
		}
	}
	return Subcode{}, false
}

// Taxonomy is immutable reference data shared by all goroutines.
type Taxonomy struct {
	categories map[string]Category
	codes      []string
}

// NewTaxonomy validates and indexes categories.
func NewTaxonomy(categories []Category) (*Taxonomy, error) {
	errFactory := errors.New()
	t := &Taxonomy{categories: make(map[string]Category, len(categories))}

	for _, c := range categories {
		if c.Code == "" {
			return nil, errFactory.WithMessage(errors.ErrInvalidArgument, "category code is required")
		}
		if _, dup := t.categories[c.Code]; dup {
			return nil, errFactory.WithMessage(errors.ErrInvalidArgument, "duplicate category "+c.Code)
		}
		seen := make(map[int]bool)
		for _, s := range c.Subcodes {
			if s.Number < 1 || s.Number > 9 || seen[s.Number] {
				return nil, errFactory.WithMessage(errors.ErrInvalidArgument,
					fmt.Sprintf("category %s has invalid subcode %d", c.Code, s.Number))
			}
			seen[s.Number] = true
		}
		subs := append([]Subcode(nil), c.Subcodes...)
		sort.Slice(subs, func(i, j int) bool { return subs[i].Number < subs[j].Number })
		c.Subcodes = subs
		t.categories[c.Code] = c
		t.codes = append(t.codes, c.Code)
	}
	sort.Strings(t.codes)
	return t, nil
}

// Categories returns all categories ordered by code.
func (t *Taxonomy) Categories() []Category {
	out := make([]Category, 0, len(t.codes))
	for _, code := range t.codes {
		out = append(out, t.categories[code])
	}
	return out
}

func (t *Taxonomy) Category(code string) (Category, bool) {
	c, ok := t.categories[code]
	return c, ok
}

// Validate checks that subcode belongs to category.
func (t *Taxonomy) Validate(category string, subcode int) error {
	c, ok := t.categories[category]
	if !ok {
		return errors.New().WithMessage(errors.ErrUnknownReason, "unknown reason category "+category)
	}
	if _, ok := c.Subcode(subcode); !ok {
		return errors.New().WithMessage(errors.ErrUnknownReason,
			fmt.Sprintf("subcode %d does not belong to category %s", subcode, category))
	}
	return nil
}

func subcodes(names ...string) []Subcode {
	out := make([]Subcode, len(names))
	for i, n := range names {
		out[i] = Subcode{Number: i + 1, Name: n}
	}
	return out
}

// DefaultCategories is the seeded reason matrix.
func DefaultCategories() []Category {
	return []Category{
		{Code: "A1", Name: "Mechanical Failure", Subcodes: subcodes(
			"Bearing failure", "Drive or gearbox failure", "Belt or chain break",
			"Hydraulic leak", "Pneumatic fault", "Jam or blockage",
			"Tool breakage", "Fixture failure", "Lubrication failure")},
		{Code: "A2", Name: "Electrical Failure", Subcodes: subcodes(
			"Motor failure", "Sensor fault", "PLC fault",
			"Power supply loss", "Wiring or connector fault", "Safety circuit trip",
			"Drive inverter fault", "HMI failure", "Network communication loss")},
		{Code: "A3", Name: "Tooling and Dies", Subcodes: subcodes(
			"Die change overrun", "Tool wear", "Tool adjustment",
			"Die damage", "Mould cleaning", "Tool not available",
			"Wrong tool loaded", "Tool calibration", "Tool repair")},
		{Code: "B1", Name: "Material Shortage", Subcodes: subcodes(
			"Raw material not delivered", "Upstream starvation", "Components missing",
			"Packaging shortage", "Consumables empty", "Wrong material staged",
			"Warehouse delay", "Supplier delay", "Material on hold")},
		{Code: "B2", Name: "Material Quality", Subcodes: subcodes(
			"Out of specification", "Contamination", "Dimensional variance",
			"Surface defects", "Wrong batch", "Moisture content",
			"Incoming inspection hold", "Mixed material", "Damaged in transit")},
		{Code: "B3", Name: "Downstream Blocked", Subcodes: subcodes(
			"Conveyor full", "Packaging line stopped", "Outfeed buffer full",
			"Palletiser fault", "Labeller fault", "Inspection backlog",
			"Shipping area full", "Next process down", "Transport not available")},
		{Code: "C1", Name: "Changeover and Setup", Subcodes: subcodes(
			"Product changeover", "First article inspection", "Recipe download",
			"Cleaning for changeover", "Setup adjustment", "Trial run",
			"Waiting for approval", "Setup parts missing", "Format change")},
		{Code: "C2", Name: "Operator and Staffing", Subcodes: subcodes(
			"No operator available", "Operator training", "Shift handover",
			"Meeting", "Operator break overrun", "Absenteeism",
			"Waiting for technician", "Waiting for quality", "Safety incident")},
		{Code: "C3", Name: "Planned Activities", Subcodes: subcodes(
			"Preventive maintenance", "Planned cleaning", "Calibration",
			"Scheduled break", "Engineering trial", "Audit or inspection",
			"No orders scheduled", "Holiday or shutdown", "Software update")},
	}
}

// DefaultTaxonomy returns the seeded reason matrix.
func DefaultTaxonomy() *Taxonomy {
	t, err := NewTaxonomy(DefaultCategories())
	if err != nil {
		panic(err)
	}
	return t
}
