package model

import (
	"strings"
	"time"

	"github.com/okian/bikeharvest/internal/domain/types"
)

// CatalogEntry is one externally supplied work candidate.
type CatalogEntry struct {
	Key     string `json:"key" validate:"required"`
	URL     string `json:"url" validate:"required,url"`
	Make    string `json:"make,omitempty"`
	Model   string `json:"model,omitempty"`
	Year    int    `json:"year,omitempty" validate:"omitempty,gte=1900,lte=2100"`
	Variant string `json:"variant,omitempty"`
	MakerID string `json:"maker_id,omitempty"`
}

// Identity returns the identity fields the catalog already knows.
func (c CatalogEntry) Identity() Identity {
	return Identity{Make: c.Make, Model: c.Model, Year: c.Year, Variant: c.Variant, MakerID: c.MakerID}
}

// QualityScore is the completeness rating of a record. It routes work and is
// never stored as authoritative state.
type QualityScore struct {
	Score    int            `json:"score"`
	Issues   []string       `json:"issues,omitempty"`
	Priority types.Priority `json:"priority"`
}

// WorkItem is one catalog entry scheduled for resolution in a run.
type WorkItem struct {
	Key             string       `json:"key"`
	SourceURL       string       `json:"source_url"`
	Identity        Identity     `json:"identity"`
	LastExtractedAt *time.Time   `json:"last_extracted_at,omitempty"`
	Prior           *RawRecord   `json:"-"`
	Score           QualityScore `json:"score"`
}

// ElectricDrive holds e-bike drive details. Numeric fields are zero when the
// source text could not be parsed; the text fields are kept regardless.
type ElectricDrive struct {
	Motor         string  `json:"motor,omitempty"`
	Battery       string  `json:"battery,omitempty"`
	Display       string  `json:"display,omitempty"`
	MotorPowerW   int     `json:"motor_power_w,omitempty"`
	MotorTorqueNm int     `json:"motor_torque_nm,omitempty"`
	BatteryWh     int     `json:"battery_wh,omitempty"`
	RangeKm       float64 `json:"range_km,omitempty"`
}

// Price is a monetary amount in integer minor units (cents).
type Price struct {
	Kind        types.PriceKind `json:"kind"`
	AmountMinor int64           `json:"amount_minor"`
	Currency    string          `json:"currency"`
}

// CanonicalRecord is the normalized bike record consumed downstream.
type CanonicalRecord struct {
	SyntheticKey string                       `json:"synthetic_key"`
	Make         string                       `json:"make"`
	Model        string                       `json:"model"`
	Year         int                          `json:"year"`
	Variant      string                       `json:"variant,omitempty"`
	MakerID      string                       `json:"maker_id"`
	Name         string                       `json:"name,omitempty"`
	Category     types.Category               `json:"category"`
	Material     string                       `json:"material,omitempty"`
	WheelSize    string                       `json:"wheel_size,omitempty"`
	Drivetrain   string                       `json:"drivetrain,omitempty"`
	Electric     *ElectricDrive               `json:"electric,omitempty"`
	Specs        map[string]string            `json:"specs,omitempty"`
	Components   map[string]map[string]string `json:"components,omitempty"`
	FlatGeometry map[string]string            `json:"flat_geometry,omitempty"`
	Sizes        []string                     `json:"sizes,omitempty"`
	Geometry     map[string]map[string]string `json:"geometry,omitempty"`
	Pricing      []Price                      `json:"pricing,omitempty"`
	Media        []string                     `json:"media,omitempty"`
	SourceURL    string                       `json:"source_url,omitempty"`
	RawKey       string                       `json:"raw_key"`
	UpdatedAt    time.Time                    `json:"updated_at"`
}

// Combination is the natural identity tuple that should be unique across records.
type Combination struct {
	Make    string
	Model   string
	Year    int
	Variant string
}

// Combination returns the record's natural identity tuple, case-folded.
func (c *CanonicalRecord) Combination() Combination {
	return Combination{
		Make:    fold(c.Make),
		Model:   fold(c.Model),
		Year:    c.Year,
		Variant: fold(c.Variant),
	}
}

func fold(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
