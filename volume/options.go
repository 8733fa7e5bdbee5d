package volume

import (
	"errors"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Option configures a Volume during New.
type Option func(*Volume) error

// WithLogger sets the logger used for allocation and release events.
func WithLogger(l *logrus.Logger) Option {
	return func(v *Volume) error {
		if l == nil {
			return errors.New("nil logger")
		}
		v.logger = l
		return nil
	}
}

// WithID sets the volume identifier instead of a random one.
func WithID(id uuid.UUID) Option {
	return func(v *Volume) error {
		v.id = id
		return nil
	}
}

// WithInvariantChecks makes every mutation verify the extent sequence and
// panic if it is broken.
func WithInvariantChecks(on bool) Option {
	return func(v *Volume) error {
		v.check = on
		return nil
	}
}
