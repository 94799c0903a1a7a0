package gallery

import (
	"errors"
	"fmt"
)

const placeholderBase = -10000

// Allocator failures. Each wraps the error kind it is reported as.
var (
	ErrEmptyOrder       = fmt.Errorf("%w: empty order", ErrValidation)
	ErrDuplicateImage   = fmt.Errorf("%w: image listed more than once", ErrValidation)
	ErrNegativePosition = fmt.Errorf("%w: negative target position", ErrValidation)
	ErrDuplicateTarget  = fmt.Errorf("%w: two images share a target position", ErrValidation)
	ErrPositionTaken    = fmt.Errorf("%w: target position held by an image that is not moving", ErrValidation)
	ErrUnknownImage     = fmt.Errorf("%w: image is not part of the collection", ErrNotFound)
	ErrStepCollision    = fmt.Errorf("%w: plan step collides with another image", ErrConstraintViolation)
)

// allocatorReasons gives each allocator failure its stable reason segment.
var allocatorReasons = []struct {
	err    error
	reason string
}{
	{ErrEmptyOrder, "empty_order"},
	{ErrDuplicateImage, "duplicate_image"},
	{ErrNegativePosition, "negative_position"},
	{ErrDuplicateTarget, "duplicate_target"},
	{ErrPositionTaken, "position_taken"},
	{ErrUnknownImage, "unknown_image"},
	{ErrStepCollision, "step_collision"},
}

func allocatorReason(err error) (string, bool) {
	for _, entry := range allocatorReasons {
		if errors.Is(err, entry.err) {
			return entry.reason, true
		}
	}
	return "", false
}

// Phase orders the steps of a plan. All parking steps run before any settle step.
type Phase int

const (
	// PhaseParking moves an image onto a placeholder outside every real position.
	PhaseParking Phase = 1
	// PhaseSettle moves an image from its placeholder onto its final position.
	PhaseSettle Phase = 2
)

func (p Phase) String() string {
	switch p {
	case PhaseParking:
		return "parking"
	case PhaseSettle:
		return "settle"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Step is one single-row position update.
type Step struct {
	Phase   Phase
	ImageID ImageID
	From    int
	To      int
}

// Plan is an ordered list of single-row updates. Applied in order, no intermediate state
// holds two images at the same position.
type Plan struct {
	Steps []Step
}

// Empty reports whether the plan changes nothing.
func (p Plan) Empty() bool {
	return len(p.Steps) == 0
}

// Moves returns how many images change position.
func (p Plan) Moves() int {
	moves := 0
	for _, step := range p.Steps {
		if step.Phase == PhaseSettle {
			moves++
		}
	}
	return moves
}

// Targets returns the final position of every moved image.
func (p Plan) Targets() Positions {
	targets := make(Positions)
	for _, step := range p.Steps {
		if step.Phase == PhaseSettle {
			targets[step.ImageID] = step.To
		}
	}
	return targets
}

// Replay applies the plan to current one step at a time and returns the final state. It
// fails on the first step that touches an unknown image or leaves two images on one position.
func (p Plan) Replay(current Positions) (Positions, error) {
	state := current.Clone()
	occupancy := make(map[int]int, len(state))
	for _, position := range state {
		occupancy[position]++
		if occupancy[position] > 1 {
			return nil, fmt.Errorf("%w: position %d held twice before the first step", ErrStepCollision, position)
		}
	}
	for index, step := range p.Steps {
		from, ok := state[step.ImageID]
		if !ok {
			return nil, fmt.Errorf("%w: step %d moves %s", ErrUnknownImage, index, step.ImageID)
		}
		occupancy[from]--
		if occupancy[from] == 0 {
			delete(occupancy, from)
		}
		occupancy[step.To]++
		state[step.ImageID] = step.To
		if occupancy[step.To] > 1 {
			return nil, fmt.Errorf("%w: step %d (%s) puts %s on %d", ErrStepCollision, index, step.Phase, step.ImageID, step.To)
		}
	}
	return state, nil
}

// Validate replays the plan and reports the first collision.
func (p Plan) Validate(current Positions) error {
	_, err := p.Replay(current)
	return err
}

// TargetFromOrder maps ids[i] to position i.
func TargetFromOrder(ids []ImageID) (Positions, error) {
	if len(ids) == 0 {
		return nil, ErrEmptyOrder
	}
	target := make(Positions, len(ids))
	for index, id := range ids {
		if _, ok := target[id]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateImage, id)
		}
		target[id] = index
	}
	return target, nil
}

// PlanReorder computes the two-phase plan that moves every image in target to its target
// position. Images absent from target keep their positions and images already in place are
// not moved. Every image is first parked on a distinct placeholder below every current and
// target value, then settled on its final position.
func PlanReorder(current Positions, target Positions) (Plan, error) {
	if len(target) == 0 {
		return Plan{}, nil
	}

	claimed := make(map[int]ImageID, len(target))
	for _, id := range target.IDs() {
		position := target[id]
		if _, ok := current[id]; !ok {
			return Plan{}, fmt.Errorf("%w: %s", ErrUnknownImage, id)
		}
		if position < 0 {
			return Plan{}, fmt.Errorf("%w: %s -> %d", ErrNegativePosition, id, position)
		}
		if other, ok := claimed[position]; ok {
			return Plan{}, fmt.Errorf("%w: %s and %s -> %d", ErrDuplicateTarget, other, id, position)
		}
		claimed[position] = id
	}

	moving := make([]ImageID, 0, len(target))
	for _, id := range target.IDs() {
		if current[id] != target[id] {
			moving = append(moving, id)
		}
	}
	if len(moving) == 0 {
		return Plan{}, nil
	}

	movingSet := make(map[ImageID]struct{}, len(moving))
	for _, id := range moving {
		movingSet[id] = struct{}{}
	}
	for id, position := range current {
		if _, ok := movingSet[id]; ok {
			continue
		}
		if claimant, ok := claimed[position]; ok && claimant != id {
			return Plan{}, fmt.Errorf("%w: %s -> %d held by %s", ErrPositionTaken, claimant, position, id)
		}
	}

	base := placeholderBase
	if lowest, ok := lowestValue(current, target); ok && lowest <= base {
		base = lowest - 1
	}

	steps := make([]Step, 0, 2*len(moving))
	for index, id := range moving {
		steps = append(steps, Step{Phase: PhaseParking, ImageID: id, From: current[id], To: base - index})
	}
	for index, id := range moving {
		steps = append(steps, Step{Phase: PhaseSettle, ImageID: id, From: base - index, To: target[id]})
	}
	return Plan{Steps: steps}, nil
}

// PlanPromotion moves the lowest-positioned image to position 0 when nothing holds it.
func PlanPromotion(current Positions) (Plan, error) {
	if len(current) == 0 {
		return Plan{}, nil
	}
	if _, ok := current.Holder(0); ok {
		return Plan{}, nil
	}
	lowest := current.IDs()[0]
	return PlanReorder(current, Positions{lowest: 0})
}

func lowestValue(sets ...Positions) (int, bool) {
	found := false
	lowest := 0
	for _, set := range sets {
		for _, position := range set {
			if !found || position < lowest {
				lowest = position
				found = true
			}
		}
	}
	return lowest, found
}
