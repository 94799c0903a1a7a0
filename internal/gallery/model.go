package gallery

import (
	"sort"

	"github.com/MarcoPoloResearchLab/portfolio/internal/roster"
)

// Image is one item of a model's ordered collection. Position 0 is the featured image.
type Image struct {
	ID               string        `gorm:"column:id;primaryKey;size:190" json:"id"`
	ModelID          int64         `gorm:"column:model_id;not null;uniqueIndex:idx_images_model_position,priority:1" json:"modelId"`
	Position         int           `gorm:"column:position;not null;uniqueIndex:idx_images_model_position,priority:2" json:"position"`
	PayloadRef       string        `gorm:"column:payload_ref;size:190;not null;index:idx_images_payload_ref" json:"payloadRef"`
	ContentType      string        `gorm:"column:content_type;size:128;not null;default:''" json:"contentType"`
	Alt              string        `gorm:"column:alt;size:512;not null;default:''" json:"alt"`
	CreatedAtSeconds int64         `gorm:"column:created_at_s;not null" json:"createdAtSeconds"`
	Model            *roster.Model `gorm:"foreignKey:ModelID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName provides the explicit table binding for GORM.
func (Image) TableName() string {
	return "images"
}

// ImageID returns the typed identifier.
func (i Image) ImageID() ImageID {
	return ImageID(i.ID)
}

// Owner returns the typed owner identifier.
func (i Image) Owner() roster.ModelID {
	return roster.ModelID(i.ModelID)
}

// NewImage describes an image to append to a collection.
type NewImage struct {
	PayloadRef  string
	ContentType string
	Alt         string
}

// Gallery is the read view of one model's collection.
type Gallery struct {
	ModelID  roster.ModelID `json:"modelId"`
	Featured *Image         `json:"featured"`
	Images   []Image        `json:"images"`
}

func positionsOf(images []Image) Positions {
	positions := make(Positions, len(images))
	for _, image := range images {
		positions[image.ImageID()] = image.Position
	}
	return positions
}

func sortByPosition(images []Image) {
	sort.SliceStable(images, func(left, right int) bool {
		if images[left].Position != images[right].Position {
			return images[left].Position < images[right].Position
		}
		return images[left].ID < images[right].ID
	})
}
