package blockfs

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// TimestampLayout is the layout of timestamps produced by the default clock.
const TimestampLayout = "Jan _2 15:04"

// Option configures a Tree during New or Create.
type Option func(*Tree) error

// WithLogger sets the logger for namespace and allocation events.
func WithLogger(l *logrus.Logger) Option {
	return func(t *Tree) error {
		if l == nil {
			return errors.New("nil logger")
		}
		t.logger = l
		return nil
	}
}

// WithClock sets the source of timestamps stamped on files by Append,
// RemoveBytes and SetSize.
func WithClock(clock func() string) Option {
	return func(t *Tree) error {
		if clock == nil {
			return errors.New("nil clock")
		}
		t.clock = clock
		return nil
	}
}

// WithInvariantChecks makes every mutation verify the tree, and the volume
// built by Create, and panic if either is inconsistent.
func WithInvariantChecks(on bool) Option {
	return func(t *Tree) error {
		t.check = on
		return nil
	}
}

func defaultClock() string {
	return time.Now().Format(TimestampLayout)
}
