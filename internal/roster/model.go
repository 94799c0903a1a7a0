package roster

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrInvalidModelID indicates that a model identifier is not a positive integer.
	ErrInvalidModelID = errors.New("roster: invalid model id")
)

// ModelID identifies a model and, through it, the image collection the model owns.
type ModelID int64

// NewModelID validates a raw numeric identifier.
func NewModelID(value int64) (ModelID, error) {
	if value <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidModelID, value)
	}
	return ModelID(value), nil
}

// ParseModelID validates a textual identifier such as a URL path segment.
func ParseModelID(rawInput string) (ModelID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidModelID)
	}
	value, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidModelID, trimmed)
	}
	return NewModelID(value)
}

// Int64 exposes the raw identifier.
func (id ModelID) Int64() int64 {
	return int64(id)
}

// String renders the identifier in base 10.
func (id ModelID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// Stats groups the measurements shown on a model card.
type Stats struct {
	Height    string `json:"height" validate:"max=32"`
	Bust      string `json:"bust" validate:"max=32"`
	Waist     string `json:"waist" validate:"max=32"`
	Hips      string `json:"hips" validate:"max=32"`
	ShoeSize  string `json:"shoeSize" validate:"max=32"`
	HairColor string `json:"hairColor" validate:"max=64"`
	EyeColor  string `json:"eyeColor" validate:"max=64"`
}

// Model is the persisted owner of an image collection. The featured image is not stored
// here; it is always derived from the image at position 0.
type Model struct {
	ID               int64  `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Slug             string `gorm:"column:slug;size:190;not null;uniqueIndex:idx_models_slug" json:"slug"`
	Name             string `gorm:"column:name;size:190;not null;default:''" json:"name"`
	Height           string `gorm:"column:height;size:32;not null;default:''" json:"height"`
	Bust             string `gorm:"column:bust;size:32;not null;default:''" json:"bust"`
	Waist            string `gorm:"column:waist;size:32;not null;default:''" json:"waist"`
	Hips             string `gorm:"column:hips;size:32;not null;default:''" json:"hips"`
	ShoeSize         string `gorm:"column:shoe_size;size:32;not null;default:''" json:"shoeSize"`
	HairColor        string `gorm:"column:hair_color;size:64;not null;default:''" json:"hairColor"`
	EyeColor         string `gorm:"column:eye_color;size:64;not null;default:''" json:"eyeColor"`
	Instagram        string `gorm:"column:instagram;size:190;not null;default:''" json:"instagram"`
	DisplayOrder     int    `gorm:"column:display_order;not null;default:0;index:idx_models_display_order" json:"displayOrder"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null" json:"createdAtSeconds"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null" json:"updatedAtSeconds"`
}

// TableName provides the explicit table binding for GORM.
func (Model) TableName() string {
	return "models"
}

// ModelID returns the typed identifier.
func (m Model) ModelID() ModelID {
	return ModelID(m.ID)
}

// Stats returns the measurement block.
func (m Model) Stats() Stats {
	return Stats{
		Height:    m.Height,
		Bust:      m.Bust,
		Waist:     m.Waist,
		Hips:      m.Hips,
		ShoeSize:  m.ShoeSize,
		HairColor: m.HairColor,
		EyeColor:  m.EyeColor,
	}
}

func (m *Model) applyStats(stats Stats) {
	m.Height = strings.TrimSpace(stats.Height)
	m.Bust = strings.TrimSpace(stats.Bust)
	m.Waist = strings.TrimSpace(stats.Waist)
	m.Hips = strings.TrimSpace(stats.Hips)
	m.ShoeSize = strings.TrimSpace(stats.ShoeSize)
	m.HairColor = strings.TrimSpace(stats.HairColor)
	m.EyeColor = strings.TrimSpace(stats.EyeColor)
}

// ModelInput carries the editable fields of a model.
type ModelInput struct {
	Name      string `validate:"max=190"`
	Slug      string `validate:"max=190"`
	Stats     Stats
	Instagram string `validate:"max=190"`
}
