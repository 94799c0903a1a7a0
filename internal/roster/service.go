package roster

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrModelNotFound indicates that no model exists for the identifier.
	ErrModelNotFound = errors.New("roster: model not found")
	// ErrInvalidModel indicates that model input failed validation.
	ErrInvalidModel = errors.New("roster: invalid model input")

	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
	modelValidate      = validator.New()
)

const (
	opServiceNew   = "roster.service.new"
	opCreateModel  = "roster.create_model"
	opGetModel     = "roster.get_model"
	opListModels   = "roster.list_models"
	opUpdateModel  = "roster.update_model"
	opDeleteModel  = "roster.delete_model"
	opReorderModel = "roster.reorder_models"

	reasonMissingDatabase = "missing_database"
	reasonInvalidInput    = "invalid_input"
	reasonNotFound        = "not_found"
	reasonQueryFailed     = "query_failed"
	reasonSlugLookup      = "slug_lookup_failed"
	reasonInsertFailed    = "insert_failed"
	reasonUpdateFailed    = "update_failed"
	reasonDeleteFailed    = "delete_failed"
	reasonDuplicateID     = "duplicate_model_id"
	reasonEmptyOrder      = "empty_order"

	maxSlugAttempts = 1000
)

// ServiceError wraps a failure with a stable "operation.reason" code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason identifier.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// ServiceConfig describes the dependencies of the roster service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service manages the models that own image collections.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the roster service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, reasonMissingDatabase, errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Create inserts a model at the end of the display order. A slug is derived from the name
// when none is supplied and suffixed with -N until it is unique.
func (s *Service) Create(ctx context.Context, input ModelInput) (Model, error) {
	if s.db == nil {
		return Model{}, newServiceError(opCreateModel, reasonMissingDatabase, errMissingDatabase)
	}
	if err := validateInput(input); err != nil {
		return Model{}, newServiceError(opCreateModel, reasonInvalidInput, err)
	}

	var created Model
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		slug, err := uniqueSlug(tx, baseSlug(input), 0)
		if err != nil {
			return newServiceError(opCreateModel, reasonSlugLookup, err)
		}

		var maxOrder sql.NullInt64
		if err := tx.Model(&Model{}).Select("MAX(display_order)").Row().Scan(&maxOrder); err != nil {
			return newServiceError(opCreateModel, reasonQueryFailed, err)
		}
		nextOrder := 0
		if maxOrder.Valid {
			nextOrder = int(maxOrder.Int64) + 1
		}

		now := s.clock().UTC().Unix()
		created = Model{
			Slug:             slug,
			Name:             strings.TrimSpace(input.Name),
			Instagram:        strings.TrimSpace(input.Instagram),
			DisplayOrder:     nextOrder,
			CreatedAtSeconds: now,
			UpdatedAtSeconds: now,
		}
		created.applyStats(input.Stats)
		if err := tx.Create(&created).Error; err != nil {
			return newServiceError(opCreateModel, reasonInsertFailed, err)
		}
		return nil
	})
	if err != nil {
		s.logError(opCreateModel, err)
		return Model{}, err
	}
	return created, nil
}

// Get loads one model.
func (s *Service) Get(ctx context.Context, id ModelID) (Model, error) {
	if s.db == nil {
		return Model{}, newServiceError(opGetModel, reasonMissingDatabase, errMissingDatabase)
	}
	var model Model
	err := s.db.WithContext(ctx).Where("id = ?", id.Int64()).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Model{}, newServiceError(opGetModel, reasonNotFound, ErrModelNotFound)
	}
	if err != nil {
		s.logError(opGetModel, err, zap.Int64("model_id", id.Int64()))
		return Model{}, newServiceError(opGetModel, reasonQueryFailed, err)
	}
	return model, nil
}

// List returns every model in display order.
func (s *Service) List(ctx context.Context) ([]Model, error) {
	if s.db == nil {
		return nil, newServiceError(opListModels, reasonMissingDatabase, errMissingDatabase)
	}
	var models []Model
	if err := s.db.WithContext(ctx).Order("display_order ASC").Order("id ASC").Find(&models).Error; err != nil {
		s.logError(opListModels, err)
		return nil, newServiceError(opListModels, reasonQueryFailed, err)
	}
	return models, nil
}

// Update replaces the editable fields of a model. Images are managed by the gallery.
func (s *Service) Update(ctx context.Context, id ModelID, input ModelInput) (Model, error) {
	if s.db == nil {
		return Model{}, newServiceError(opUpdateModel, reasonMissingDatabase, errMissingDatabase)
	}
	if err := validateInput(input); err != nil {
		return Model{}, newServiceError(opUpdateModel, reasonInvalidInput, err)
	}

	var updated Model
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id.Int64()).Take(&updated).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opUpdateModel, reasonNotFound, ErrModelNotFound)
		}
		if err != nil {
			return newServiceError(opUpdateModel, reasonQueryFailed, err)
		}

		if strings.TrimSpace(input.Slug) != "" || updated.Slug == "" {
			slug, err := uniqueSlug(tx, baseSlug(input), updated.ID)
			if err != nil {
				return newServiceError(opUpdateModel, reasonSlugLookup, err)
			}
			updated.Slug = slug
		}
		updated.Name = strings.TrimSpace(input.Name)
		updated.Instagram = strings.TrimSpace(input.Instagram)
		updated.applyStats(input.Stats)
		updated.UpdatedAtSeconds = s.clock().UTC().Unix()
		if err := tx.Save(&updated).Error; err != nil {
			return newServiceError(opUpdateModel, reasonUpdateFailed, err)
		}
		return nil
	})
	if err != nil {
		s.logError(opUpdateModel, err, zap.Int64("model_id", id.Int64()))
		return Model{}, err
	}
	return updated, nil
}

// Delete removes a model. Its images are removed by the cascading foreign key.
func (s *Service) Delete(ctx context.Context, id ModelID) error {
	if s.db == nil {
		return newServiceError(opDeleteModel, reasonMissingDatabase, errMissingDatabase)
	}
	result := s.db.WithContext(ctx).Where("id = ?", id.Int64()).Delete(&Model{})
	if result.Error != nil {
		s.logError(opDeleteModel, result.Error, zap.Int64("model_id", id.Int64()))
		return newServiceError(opDeleteModel, reasonDeleteFailed, result.Error)
	}
	if result.RowsAffected == 0 {
		return newServiceError(opDeleteModel, reasonNotFound, ErrModelNotFound)
	}
	return nil
}

// Reorder assigns display_order = index for every listed model in one transaction.
// Display order carries no uniqueness constraint, so no placeholder phase is needed.
func (s *Service) Reorder(ctx context.Context, ordered []ModelID) error {
	if s.db == nil {
		return newServiceError(opReorderModel, reasonMissingDatabase, errMissingDatabase)
	}
	if len(ordered) == 0 {
		return newServiceError(opReorderModel, reasonEmptyOrder, ErrInvalidModel)
	}
	seen := make(map[ModelID]struct{}, len(ordered))
	for _, id := range ordered {
		if _, ok := seen[id]; ok {
			return newServiceError(opReorderModel, reasonDuplicateID, fmt.Errorf("%w: model %s listed twice", ErrInvalidModel, id))
		}
		seen[id] = struct{}{}
	}

	now := s.clock().UTC().Unix()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for index, id := range ordered {
			result := tx.Model(&Model{}).Where("id = ?", id.Int64()).Updates(map[string]interface{}{
				"display_order": index,
				"updated_at_s":  now,
			})
			if result.Error != nil {
				return newServiceError(opReorderModel, reasonUpdateFailed, result.Error)
			}
			if result.RowsAffected == 0 {
				return newServiceError(opReorderModel, reasonNotFound, fmt.Errorf("%w: %s", ErrModelNotFound, id))
			}
		}
		return nil
	})
	if err != nil {
		s.logError(opReorderModel, err)
		return err
	}
	return nil
}

func validateInput(input ModelInput) error {
	if err := modelValidate.Struct(input); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidModel, err)
	}
	if strings.TrimSpace(input.Slug) != "" && Slugify(input.Slug) == "" {
		return fmt.Errorf("%w: slug %q has no usable characters", ErrInvalidModel, input.Slug)
	}
	return nil
}

func baseSlug(input ModelInput) string {
	if slug := Slugify(input.Slug); slug != "" {
		return slug
	}
	if slug := Slugify(input.Name); slug != "" {
		return slug
	}
	return fallbackSlug
}

// uniqueSlug returns base, or base-N for the smallest N not used by another model.
func uniqueSlug(tx *gorm.DB, base string, excludeID int64) (string, error) {
	candidate := base
	for attempt := 1; attempt <= maxSlugAttempts; attempt++ {
		var count int64
		query := tx.Model(&Model{}).Where("slug = ?", candidate)
		if excludeID != 0 {
			query = query.Where("id <> ?", excludeID)
		}
		if err := query.Count(&count).Error; err != nil {
			return "", err
		}
		if count == 0 {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, attempt)
	}
	return "", fmt.Errorf("no free slug for %q after %d attempts", base, maxSlugAttempts)
}

func (s *Service) logError(operation string, err error, fields ...zap.Field) {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) && (errors.Is(err, ErrModelNotFound) || errors.Is(err, ErrInvalidModel)) {
		return
	}
	logger := s.logger
	if logger == nil {
		logger = noOpLogger
	}
	attrs := append([]zap.Field{zap.String("operation", operation), zap.Error(err)}, fields...)
	logger.Error("roster service error", attrs...)
}
