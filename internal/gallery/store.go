package gallery

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/portfolio/internal/roster"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	reasonModelNotFound     = "model_not_found"
	reasonImageNotFound     = "image_not_found"
	reasonOwnerLockFailed   = "owner_lock_failed"
	reasonSelectFailed      = "select_failed"
	reasonInsertFailed      = "insert_failed"
	reasonUpdateFailed      = "update_failed"
	reasonDeleteFailed      = "delete_failed"
	reasonDuplicatePosition = "duplicate_position"
	reasonPlanMismatch      = "plan_mismatch"
)

// storeError tags a store failure with its reason and kind.
type storeError struct {
	reason string
	kind   error
	err    error
}

func (e *storeError) Error() string {
	return fmt.Sprintf("%s: %v", e.reason, e.err)
}

func (e *storeError) Unwrap() []error {
	return []error{e.kind, e.err}
}

func storeFailure(reason string, err error) error {
	return &storeError{reason: reason, kind: classifyStoreError(err), err: err}
}

// Store persists collections. Every mutation runs in one transaction that starts by locking
// the owning model row, so mutations on one owner serialise.
type Store struct {
	db *gorm.DB
}

// NewStore binds a store to a database handle.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Apply executes plan against owner's collection.
func (s *Store) Apply(ctx context.Context, owner roster.ModelID, plan Plan) ([]Image, error) {
	_, images, err := s.Replan(ctx, owner, func(Positions) (Plan, error) {
		return plan, nil
	})
	return images, err
}

// Replan reads the collection under the owner lock, asks planner for a plan against it and
// applies that plan in the same transaction. It returns the plan and the committed collection.
func (s *Store) Replan(ctx context.Context, owner roster.ModelID, planner func(Positions) (Plan, error)) (Plan, []Image, error) {
	var plan Plan
	var images []Image
	err := s.withOwner(ctx, owner, func(tx *gorm.DB) error {
		current, err := loadCollection(tx, owner)
		if err != nil {
			return err
		}
		plan, err = planner(positionsOf(current))
		if err != nil {
			return err
		}
		if plan.Empty() {
			images = current
			return nil
		}
		images, err = applyPlan(tx, owner, current, plan)
		return err
	})
	if err != nil {
		return Plan{}, nil, err
	}
	return plan, images, nil
}

// Insert appends image after the highest position, or at 0 when the collection is empty.
func (s *Store) Insert(ctx context.Context, owner roster.ModelID, image Image) (Image, error) {
	err := s.withOwner(ctx, owner, func(tx *gorm.DB) error {
		var highest sql.NullInt64
		if err := tx.Model(&Image{}).Where("model_id = ?", owner.Int64()).Select("MAX(position)").Row().Scan(&highest); err != nil {
			return storeFailure(reasonSelectFailed, err)
		}
		image.ModelID = owner.Int64()
		image.Position = 0
		if highest.Valid {
			image.Position = int(highest.Int64) + 1
		}
		if err := tx.Create(&image).Error; err != nil {
			return storeFailure(reasonInsertFailed, err)
		}
		return nil
	})
	if err != nil {
		return Image{}, err
	}
	return image, nil
}

// Remove deletes one image. When it held position 0 the image with the next-smallest
// position is promoted to 0 in the same transaction. Positions are never compacted.
func (s *Store) Remove(ctx context.Context, owner roster.ModelID, id ImageID) (Image, []Image, error) {
	var removed Image
	var remaining []Image
	err := s.withOwner(ctx, owner, func(tx *gorm.DB) error {
		current, err := loadCollection(tx, owner)
		if err != nil {
			return err
		}
		found := false
		rest := make([]Image, 0, len(current))
		for _, image := range current {
			if image.ImageID() == id {
				removed = image
				found = true
				continue
			}
			rest = append(rest, image)
		}
		if !found {
			return &storeError{reason: reasonImageNotFound, kind: ErrNotFound, err: fmt.Errorf("image %s", id)}
		}

		result := tx.Where("id = ? AND model_id = ?", id.String(), owner.Int64()).Delete(&Image{})
		if result.Error != nil {
			return storeFailure(reasonDeleteFailed, result.Error)
		}
		if result.RowsAffected == 0 {
			return &storeError{reason: reasonImageNotFound, kind: ErrNotFound, err: fmt.Errorf("image %s", id)}
		}

		remaining = rest
		if removed.Position != 0 {
			return nil
		}
		promotion, err := PlanPromotion(positionsOf(rest))
		if err != nil {
			return err
		}
		if promotion.Empty() {
			return nil
		}
		remaining, err = applyPlan(tx, owner, rest, promotion)
		return err
	})
	if err != nil {
		return Image{}, nil, err
	}
	return removed, remaining, nil
}

// List returns owner's collection in ascending position.
func (s *Store) List(ctx context.Context, owner roster.ModelID) ([]Image, error) {
	var images []Image
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ownerExists(tx, owner); err != nil {
			return err
		}
		var err error
		images, err = loadCollection(tx, owner)
		return err
	})
	if err != nil {
		return nil, err
	}
	return images, nil
}

// ListMany returns the collections of several owners in one query. Unknown owners map to
// empty collections.
func (s *Store) ListMany(ctx context.Context, owners []roster.ModelID) (map[roster.ModelID][]Image, error) {
	collections := make(map[roster.ModelID][]Image, len(owners))
	if len(owners) == 0 {
		return collections, nil
	}
	raw := make([]int64, 0, len(owners))
	for _, owner := range owners {
		raw = append(raw, owner.Int64())
		collections[owner] = []Image{}
	}
	var images []Image
	if err := s.db.WithContext(ctx).
		Where("model_id IN ?", raw).
		Order("model_id ASC").Order("position ASC").Order("id ASC").
		Find(&images).Error; err != nil {
		return nil, storeFailure(reasonSelectFailed, err)
	}
	for _, image := range images {
		collections[image.Owner()] = append(collections[image.Owner()], image)
	}
	return collections, nil
}

// Find loads one image of owner's collection.
func (s *Store) Find(ctx context.Context, owner roster.ModelID, id ImageID) (Image, error) {
	var image Image
	err := s.db.WithContext(ctx).Where("id = ? AND model_id = ?", id.String(), owner.Int64()).Take(&image).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Image{}, &storeError{reason: reasonImageNotFound, kind: ErrNotFound, err: err}
	}
	if err != nil {
		return Image{}, storeFailure(reasonSelectFailed, err)
	}
	return image, nil
}

// PayloadReferenced reports whether any image still points at ref.
func (s *Store) PayloadReferenced(ctx context.Context, ref string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Image{}).Where("payload_ref = ?", ref).Count(&count).Error; err != nil {
		return false, storeFailure(reasonSelectFailed, err)
	}
	return count > 0, nil
}

func (s *Store) withOwner(ctx context.Context, owner roster.ModelID, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model roster.Model
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").
			Where("id = ?", owner.Int64()).
			Take(&model).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &storeError{reason: reasonModelNotFound, kind: ErrNotFound, err: roster.ErrModelNotFound}
		}
		if err != nil {
			return storeFailure(reasonOwnerLockFailed, err)
		}
		return fn(tx)
	})
}

func ownerExists(tx *gorm.DB, owner roster.ModelID) error {
	var count int64
	if err := tx.Model(&roster.Model{}).Where("id = ?", owner.Int64()).Count(&count).Error; err != nil {
		return storeFailure(reasonSelectFailed, err)
	}
	if count == 0 {
		return &storeError{reason: reasonModelNotFound, kind: ErrNotFound, err: roster.ErrModelNotFound}
	}
	return nil
}

func loadCollection(tx *gorm.DB, owner roster.ModelID) ([]Image, error) {
	var images []Image
	if err := tx.Where("model_id = ?", owner.Int64()).
		Order("position ASC").Order("id ASC").
		Find(&images).Error; err != nil {
		return nil, storeFailure(reasonSelectFailed, err)
	}
	return images, nil
}

// applyPlan issues every step as a single-row update scoped to owner, then reloads the
// collection and checks that no position is held twice and every moved image landed.
func applyPlan(tx *gorm.DB, owner roster.ModelID, current []Image, plan Plan) ([]Image, error) {
	if err := plan.Validate(positionsOf(current)); err != nil {
		return nil, err
	}
	for _, step := range plan.Steps {
		result := tx.Model(&Image{}).
			Where("id = ? AND model_id = ?", step.ImageID.String(), owner.Int64()).
			Update("position", step.To)
		if result.Error != nil {
			return nil, storeFailure(reasonUpdateFailed, result.Error)
		}
		if result.RowsAffected == 0 {
			return nil, fmt.Errorf("%w: %s", ErrUnknownImage, step.ImageID)
		}
	}

	images, err := loadCollection(tx, owner)
	if err != nil {
		return nil, err
	}
	final := positionsOf(images)
	if position, held := final.duplicate(); held {
		return nil, &storeError{reason: reasonDuplicatePosition, kind: ErrConstraintViolation, err: fmt.Errorf("position %d held twice", position)}
	}
	for id, want := range plan.Targets() {
		if got, ok := final[id]; !ok || got != want {
			return nil, &storeError{reason: reasonPlanMismatch, kind: ErrInternal, err: fmt.Errorf("image %s at %d, planned %d", id, got, want)}
		}
	}
	return images, nil
}
