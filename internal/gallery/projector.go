package gallery

import "github.com/MarcoPoloResearchLab/portfolio/internal/roster"

// Projection splits a collection into its featured image and the rest.
type Projection struct {
	Featured *Image
	Rest     []Image
}

// Project derives the featured image from a collection sorted by ascending position. The
// image at position 0 is featured; without one the lowest position stands in, so a
// non-empty collection always has a featured image when read.
func Project(items []Image) Projection {
	if len(items) == 0 {
		return Projection{Rest: []Image{}}
	}
	sorted := append([]Image(nil), items...)
	sortByPosition(sorted)

	featuredIndex := 0
	for index, image := range sorted {
		if image.Position == 0 {
			featuredIndex = index
			break
		}
	}
	featured := sorted[featuredIndex]
	rest := make([]Image, 0, len(sorted)-1)
	rest = append(rest, sorted[:featuredIndex]...)
	rest = append(rest, sorted[featuredIndex+1:]...)
	return Projection{Featured: &featured, Rest: rest}
}

func galleryOf(owner roster.ModelID, items []Image) Gallery {
	projection := Project(items)
	images := make([]Image, 0, len(items))
	if projection.Featured != nil {
		images = append(images, *projection.Featured)
	}
	images = append(images, projection.Rest...)
	return Gallery{ModelID: owner, Featured: projection.Featured, Images: images}
}
