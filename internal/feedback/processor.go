package feedback

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rcliao/adaptive-memory/internal/model"
)

var (
	// ErrUnknownFeedback is returned for a feedback type no processor handles.
	ErrUnknownFeedback = errors.New("feedback: unknown type")
	// ErrMissingUser is returned for an event without a user.
	ErrMissingUser = errors.New("feedback: missing user")
)

// Processor routes events to the explicit, implicit and behavioral processors.
type Processor struct {
	explicit   *Explicit
	implicit   *Implicit
	behavioral *Behavioral
	now        func() time.Time
}

// NewProcessor creates a router with fresh processor state.
func NewProcessor(opts BehavioralOptions) *Processor {
	return &Processor{
		explicit:   NewExplicit(),
		implicit:   NewImplicit(),
		behavioral: NewBehavioral(opts),
		now:        time.Now,
	}
}

// SetClock overrides the time source of every processor.
func (p *Processor) SetClock(now func() time.Time) {
	p.now = now
	p.explicit.now = now
	p.implicit.now = now
	p.behavioral.now = now
}

// Implicit exposes the implicit processor for adoption-rate queries.
func (p *Processor) Implicit() *Implicit { return p.implicit }

// Behavioral exposes the behavioral analyzer for warming.
func (p *Processor) Behavioral() *Behavioral { return p.behavioral }

// ProcessFeedback turns one feedback event into zero or more updates. The
// event is stamped with an ID, creation time and normalized context when
// those are missing.
func (p *Processor) ProcessFeedback(ev *model.FeedbackEvent) ([]*model.LearningUpdate, error) {
	if ev.UserID == "" {
		return nil, ErrMissingUser
	}
	p.stamp(&ev.ID, &ev.CreatedAt, &ev.Context)

	var u *model.LearningUpdate
	switch {
	case ev.Type.Explicit():
		u = p.explicit.Process(ev)
	case ev.Type.Implicit():
		u = p.implicit.Process(ev)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFeedback, ev.Type)
	}
	if u == nil {
		return nil, nil
	}
	return []*model.LearningUpdate{u}, nil
}

// ProcessInteraction records an interaction and returns a behavioral update
// when the windows support one.
func (p *Processor) ProcessInteraction(ev *model.InteractionEvent) (*model.LearningUpdate, error) {
	if ev.UserID == "" {
		return nil, ErrMissingUser
	}
	p.stamp(&ev.ID, &ev.CreatedAt, &ev.Context)
	return p.behavioral.Process(ev), nil
}

func (p *Processor) stamp(id *string, created *time.Time, c **model.Context) {
	if *id == "" {
		*id = uuid.NewString()
	}
	if created.IsZero() {
		*created = p.now().UTC()
	}
	if *c == nil {
		*c = model.NewContext(*created)
	} else {
		if (*c).Timestamp.IsZero() {
			(*c).Timestamp = *created
		}
		(*c).Normalize()
	}
}
