package gallery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/portfolio/internal/payload"
	"github.com/MarcoPoloResearchLab/portfolio/internal/roster"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrFeaturedRequired rejects a partial reorder that would vacate position 0.
	ErrFeaturedRequired = fmt.Errorf("%w: collection would lose its featured image", ErrValidation)

	errMissingIDProvider   = errors.New("id provider is required")
	errMissingAuthorizer   = errors.New("authorizer is required")
	errMissingPayloadStore = errors.New("payload store is required")
	errInvalidPayloadRef   = errors.New("payload reference must be 1-190 characters")
	errProofRejected       = errors.New("proof rejected")
	noOpLogger             = zap.NewNop()
)

const (
	opServiceNew      = "gallery.service.new"
	opAppend          = "gallery.append"
	opUpload          = "gallery.upload"
	opDelete          = "gallery.delete"
	opReorder         = "gallery.reorder"
	opReorderPartial  = "gallery.reorder_partial"
	opRead            = "gallery.read"
	opReadMany        = "gallery.read_many"
	opReleasePayload  = "gallery.release_payload"
	opInvalidateCache = "gallery.invalidate_cache"

	reasonMissingDatabase     = "missing_database"
	reasonMissingIDProvider   = "missing_id_provider"
	reasonMissingAuthorizer   = "missing_authorizer"
	reasonMissingPayloadStore = "missing_payload_store"
	reasonForbidden           = "forbidden"
	reasonInvalidPayloadRef   = "invalid_payload_ref"
	reasonIDGeneration        = "id_generation_failed"
	reasonPayloadPutFailed    = "payload_put_failed"
	reasonFeaturedRequired    = "featured_required"
	reasonInternal            = "internal"
)

// Authorizer decides whether a caller-supplied proof permits a mutation.
type Authorizer interface {
	IsAuthorized(ctx context.Context, proof string) bool
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, proof string) bool

// IsAuthorized calls f.
func (f AuthorizerFunc) IsAuthorized(ctx context.Context, proof string) bool {
	return f(ctx, proof)
}

// PayloadStore is the part of the payload collaborator the service writes through.
type PayloadStore interface {
	Put(ctx context.Context, content []byte) (payload.Object, error)
	Delete(ctx context.Context, ref payload.Ref) error
}

// ViewCache caches read views per owner. Invalidate advances the owner's generation, and Set
// stores a view only while the generation it was read under is still current, so a read that
// overlaps a commit cannot put its older view back.
type ViewCache interface {
	Get(ctx context.Context, owner roster.ModelID) (Gallery, bool, error)
	Generation(ctx context.Context, owner roster.ModelID) (int64, error)
	Set(ctx context.Context, owner roster.ModelID, generation int64, view Gallery) (bool, error)
	Invalidate(ctx context.Context, owner roster.ModelID) error
}

// ChangeNotifier is told about every committed mutation.
type ChangeNotifier interface {
	GalleryChanged(owner roster.ModelID, view Gallery)
}

// ServiceConfig describes the dependencies of the gallery service. Payloads, Cache,
// Notifier and Metrics are optional.
type ServiceConfig struct {
	Database   *gorm.DB
	Authorizer Authorizer
	Payloads   PayloadStore
	Cache      ViewCache
	Notifier   ChangeNotifier
	Metrics    *Metrics
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service orders each model's images and derives its featured image.
type Service struct {
	store      *Store
	authorizer Authorizer
	payloads   PayloadStore
	cache      ViewCache
	notifier   ChangeNotifier
	metrics    *Metrics
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs the gallery service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, reasonMissingDatabase, ErrInternal, errMissingDatabase)
	}
	if cfg.Authorizer == nil {
		return nil, newServiceError(opServiceNew, reasonMissingAuthorizer, ErrInternal, errMissingAuthorizer)
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		store:      NewStore(cfg.Database),
		authorizer: cfg.Authorizer,
		payloads:   cfg.Payloads,
		cache:      cfg.Cache,
		notifier:   cfg.Notifier,
		metrics:    cfg.Metrics,
		clock:      clock,
		idProvider: idProvider,
		logger:     logger,
	}, nil
}

// Append adds an already stored payload at the end of owner's collection. The first image
// of an empty collection lands on position 0 and becomes featured.
func (s *Service) Append(ctx context.Context, proof string, owner roster.ModelID, input NewImage) (image Image, err error) {
	started := time.Now()
	defer func() { s.metrics.observe(opAppend, started, err) }()

	if err := s.ready(opAppend); err != nil {
		return Image{}, err
	}
	if err := s.authorize(ctx, opAppend, proof); err != nil {
		return Image{}, err
	}
	return s.append(ctx, opAppend, owner, input)
}

// Upload stores content through the payload collaborator and appends it. When the append
// fails the stored payload is released again.
func (s *Service) Upload(ctx context.Context, proof string, owner roster.ModelID, content []byte, alt string) (image Image, err error) {
	started := time.Now()
	defer func() { s.metrics.observe(opUpload, started, err) }()

	if err := s.ready(opUpload); err != nil {
		return Image{}, err
	}
	if err := s.authorize(ctx, opUpload, proof); err != nil {
		return Image{}, err
	}
	if s.payloads == nil {
		return Image{}, newServiceError(opUpload, reasonMissingPayloadStore, ErrUpstreamFailure, errMissingPayloadStore)
	}

	object, err := s.payloads.Put(ctx, content)
	if err != nil {
		s.logError(opUpload, reasonPayloadPutFailed, err, zap.Int64("model_id", owner.Int64()))
		return Image{}, newServiceError(opUpload, reasonPayloadPutFailed, ErrUpstreamFailure, err)
	}

	image, err = s.append(ctx, opUpload, owner, NewImage{
		PayloadRef:  object.Ref.String(),
		ContentType: object.ContentType,
		Alt:         alt,
	})
	if err != nil {
		s.releasePayload(ctx, object.Ref.String())
		return Image{}, err
	}
	return image, nil
}

// Delete removes one image without compacting positions. Deleting the featured image
// promotes the image with the next-smallest position to 0 in the same transaction.
func (s *Service) Delete(ctx context.Context, proof string, owner roster.ModelID, id ImageID) (view Gallery, err error) {
	started := time.Now()
	defer func() { s.metrics.observe(opDelete, started, err) }()

	if err := s.ready(opDelete); err != nil {
		return Gallery{}, err
	}
	if err := s.authorize(ctx, opDelete, proof); err != nil {
		return Gallery{}, err
	}

	removed, remaining, err := s.store.Remove(ctx, owner, id)
	if err != nil {
		return Gallery{}, s.fail(opDelete, err, zap.Int64("model_id", owner.Int64()), zap.String("image_id", id.String()))
	}
	view = galleryOf(owner, remaining)
	s.committed(ctx, owner, view)
	s.releasePayload(ctx, removed.PayloadRef)
	return view, nil
}

// Reorder moves ordered[i] to position i. Images not listed keep their positions; a listed
// image may not land on a position held by an unlisted one.
func (s *Service) Reorder(ctx context.Context, proof string, owner roster.ModelID, ordered []ImageID) (view Gallery, err error) {
	started := time.Now()
	defer func() { s.metrics.observe(opReorder, started, err) }()

	if err := s.ready(opReorder); err != nil {
		return Gallery{}, err
	}
	if err := s.authorize(ctx, opReorder, proof); err != nil {
		return Gallery{}, err
	}
	target, err := TargetFromOrder(ordered)
	if err != nil {
		return Gallery{}, s.fail(opReorder, err)
	}
	return s.replan(ctx, opReorder, owner, func(current Positions) (Plan, error) {
		return PlanReorder(current, target)
	})
}

// ReorderPartial applies an explicit, possibly sparse, image-to-position mapping. A mapping
// that would move the featured image away without putting another image on 0 is rejected.
func (s *Service) ReorderPartial(ctx context.Context, proof string, owner roster.ModelID, target Positions) (view Gallery, err error) {
	started := time.Now()
	defer func() { s.metrics.observe(opReorderPartial, started, err) }()

	if err := s.ready(opReorderPartial); err != nil {
		return Gallery{}, err
	}
	if err := s.authorize(ctx, opReorderPartial, proof); err != nil {
		return Gallery{}, err
	}
	if err := checkTarget(target); err != nil {
		return Gallery{}, s.fail(opReorderPartial, err)
	}
	target = target.Clone()
	return s.replan(ctx, opReorderPartial, owner, func(current Positions) (Plan, error) {
		plan, err := PlanReorder(current, target)
		if err != nil {
			return Plan{}, err
		}
		final, err := plan.Replay(current)
		if err != nil {
			return Plan{}, err
		}
		_, hadFeatured := current.Holder(0)
		_, hasFeatured := final.Holder(0)
		if hadFeatured && !hasFeatured {
			return Plan{}, ErrFeaturedRequired
		}
		return plan, nil
	})
}

// Read returns owner's collection with its featured image. When nothing holds position 0 the
// lowest position is reported as featured; storage is left unchanged.
func (s *Service) Read(ctx context.Context, owner roster.ModelID) (view Gallery, err error) {
	started := time.Now()
	defer func() { s.metrics.observe(opRead, started, err) }()

	if err := s.ready(opRead); err != nil {
		return Gallery{}, err
	}
	var generation int64
	cacheable := false
	if s.cache != nil {
		cached, ok, cacheErr := s.cache.Get(ctx, owner)
		if cacheErr != nil {
			s.logWarn(opRead, "cache_get_failed", cacheErr, zap.Int64("model_id", owner.Int64()))
		} else if ok {
			return cached, nil
		}
		// The generation is taken before listing; a commit after this point makes the Set a no-op.
		generation, cacheErr = s.cache.Generation(ctx, owner)
		if cacheErr != nil {
			s.logWarn(opRead, "cache_generation_failed", cacheErr, zap.Int64("model_id", owner.Int64()))
		} else {
			cacheable = true
		}
	}

	images, err := s.store.List(ctx, owner)
	if err != nil {
		return Gallery{}, s.fail(opRead, err, zap.Int64("model_id", owner.Int64()))
	}
	view = galleryOf(owner, images)
	if cacheable {
		stored, cacheErr := s.cache.Set(ctx, owner, generation, view)
		if cacheErr != nil {
			s.logWarn(opRead, "cache_set_failed", cacheErr, zap.Int64("model_id", owner.Int64()))
		} else if !stored {
			s.loggerOrDefault().Debug("stale gallery view not cached",
				zap.Int64("model_id", owner.Int64()),
				zap.Int64("generation", generation))
		}
	}
	return view, nil
}

// ReadMany projects several collections with one query. Unknown owners yield empty views.
func (s *Service) ReadMany(ctx context.Context, owners []roster.ModelID) (views map[roster.ModelID]Gallery, err error) {
	started := time.Now()
	defer func() { s.metrics.observe(opReadMany, started, err) }()

	if err := s.ready(opReadMany); err != nil {
		return nil, err
	}
	collections, err := s.store.ListMany(ctx, owners)
	if err != nil {
		return nil, s.fail(opReadMany, err)
	}
	views = make(map[roster.ModelID]Gallery, len(collections))
	for owner, images := range collections {
		views[owner] = galleryOf(owner, images)
	}
	return views, nil
}

func (s *Service) append(ctx context.Context, operation string, owner roster.ModelID, input NewImage) (Image, error) {
	ref := strings.TrimSpace(input.PayloadRef)
	if ref == "" || len(ref) > maxIdentifierLength {
		return Image{}, newServiceError(operation, reasonInvalidPayloadRef, ErrValidation, errInvalidPayloadRef)
	}
	rawID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(operation, reasonIDGeneration, err)
		return Image{}, newServiceError(operation, reasonIDGeneration, ErrInternal, err)
	}
	id, err := NewImageID(rawID)
	if err != nil {
		return Image{}, newServiceError(operation, reasonIDGeneration, ErrInternal, err)
	}

	image, err := s.store.Insert(ctx, owner, Image{
		ID:               id.String(),
		PayloadRef:       ref,
		ContentType:      strings.TrimSpace(input.ContentType),
		Alt:              strings.TrimSpace(input.Alt),
		CreatedAtSeconds: s.now().UTC().Unix(),
	})
	if err != nil {
		return Image{}, s.fail(operation, err, zap.Int64("model_id", owner.Int64()))
	}
	s.refresh(ctx, owner)
	return image, nil
}

func (s *Service) replan(ctx context.Context, operation string, owner roster.ModelID, planner func(Positions) (Plan, error)) (Gallery, error) {
	plan, images, err := s.store.Replan(ctx, owner, planner)
	if err != nil {
		return Gallery{}, s.fail(operation, err, zap.Int64("model_id", owner.Int64()))
	}
	s.metrics.observePlan(plan)
	view := galleryOf(owner, images)
	if !plan.Empty() {
		s.committed(ctx, owner, view)
	}
	return view, nil
}

// refresh publishes the committed collection after an append.
func (s *Service) refresh(ctx context.Context, owner roster.ModelID) {
	if s.cache == nil && s.notifier == nil {
		return
	}
	images, err := s.store.List(ctx, owner)
	if err != nil {
		s.logWarn(opAppend, "refresh_failed", err, zap.Int64("model_id", owner.Int64()))
		s.invalidate(ctx, owner)
		return
	}
	s.committed(ctx, owner, galleryOf(owner, images))
}

func (s *Service) committed(ctx context.Context, owner roster.ModelID, view Gallery) {
	s.invalidate(ctx, owner)
	if s.notifier != nil {
		s.notifier.GalleryChanged(owner, view)
	}
}

func (s *Service) invalidate(ctx context.Context, owner roster.ModelID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, owner); err != nil {
		s.logWarn(opInvalidateCache, "cache_invalidate_failed", err, zap.Int64("model_id", owner.Int64()))
	}
}

// releasePayload deletes a payload that no image references any more. Failures are logged.
func (s *Service) releasePayload(ctx context.Context, rawRef string) {
	if s.payloads == nil || rawRef == "" {
		return
	}
	ref, err := payload.ParseRef(rawRef)
	if err != nil {
		return
	}
	referenced, err := s.store.PayloadReferenced(ctx, rawRef)
	if err != nil {
		s.logWarn(opReleasePayload, "reference_check_failed", err, zap.String("payload_ref", rawRef))
		return
	}
	if referenced {
		return
	}
	if err := s.payloads.Delete(ctx, ref); err != nil {
		s.logWarn(opReleasePayload, "payload_delete_failed", err, zap.String("payload_ref", rawRef))
	}
}

// Forget drops the cached view of an owner whose model was deleted.
func (s *Service) Forget(ctx context.Context, owner roster.ModelID) {
	if s == nil {
		return
	}
	s.invalidate(ctx, owner)
}

func (s *Service) now() time.Time {
	if s == nil || s.clock == nil {
		return time.Now()
	}
	return s.clock()
}

func (s *Service) ready(operation string) error {
	if s == nil || s.store == nil || s.store.db == nil {
		return newServiceError(operation, reasonMissingDatabase, ErrInternal, errMissingDatabase)
	}
	if s.idProvider == nil {
		return newServiceError(operation, reasonMissingIDProvider, ErrInternal, errMissingIDProvider)
	}
	return nil
}

func (s *Service) authorize(ctx context.Context, operation string, proof string) error {
	if s.authorizer == nil {
		return newServiceError(operation, reasonMissingAuthorizer, ErrForbidden, errMissingAuthorizer)
	}
	if !s.authorizer.IsAuthorized(ctx, proof) {
		return newServiceError(operation, reasonForbidden, ErrForbidden, errProofRejected)
	}
	return nil
}

// checkTarget rejects malformed partial mappings before the store is touched.
func checkTarget(target Positions) error {
	if len(target) == 0 {
		return ErrEmptyOrder
	}
	claimed := make(map[int]ImageID, len(target))
	for _, id := range target.IDs() {
		position := target[id]
		if position < 0 {
			return fmt.Errorf("%w: %s -> %d", ErrNegativePosition, id, position)
		}
		if other, ok := claimed[position]; ok {
			return fmt.Errorf("%w: %s and %s -> %d", ErrDuplicateTarget, other, id, position)
		}
		claimed[position] = id
	}
	return nil
}

// fail converts store and allocator failures into a ServiceError for operation.
func (s *Service) fail(operation string, err error, fields ...zap.Field) error {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return err
	}
	var wrapped error
	var stErr *storeError
	switch {
	case errors.As(err, &stErr):
		wrapped = newServiceError(operation, stErr.reason, stErr.kind, stErr.err)
	case errors.Is(err, ErrFeaturedRequired):
		wrapped = newServiceError(operation, reasonFeaturedRequired, ErrValidation, err)
	default:
		if reason, ok := allocatorReason(err); ok {
			wrapped = newServiceError(operation, reason, KindOf(err), err)
		} else {
			wrapped = newServiceError(operation, reasonInternal, ErrInternal, err)
		}
	}
	switch KindOf(wrapped) {
	case ErrValidation, ErrNotFound, ErrForbidden:
	default:
		reason := reasonInternal
		var coded *ServiceError
		if errors.As(wrapped, &coded) {
			reason = coded.Reason()
		}
		s.logError(operation, reason, err, fields...)
	}
	return wrapped
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("gallery service error", attrs...)
}

func (s *Service) logWarn(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Warn("gallery side effect failed", attrs...)
}
