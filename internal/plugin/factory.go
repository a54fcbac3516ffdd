package plugin

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"plugin-runtime/internal/common/errors"
	"plugin-runtime/internal/common/registry"
)

// Factory constructs plugin handlers for one plugin key. Implementations are
// linked into the binary and registered at process start; persisted plugin
// records name their factory by key.
type Factory interface {
	// GetType returns the plugin key
	GetType() string
	// Describe returns the display metadata of plugins built by this factory
	Describe() Descriptor
	// New returns a fresh handler
	New() Handler
}

// Descriptor is the static metadata of a plugin implementation. An empty
// Name defaults to the plugin key.
type Descriptor struct {
	Name     string `validate:"omitempty,max=64"`
	Version  string `validate:"omitempty,semver"`
	Priority int    `validate:"min=-1000,max=1000"`
}

var descriptorValidator = validator.New()

// Validate checks the descriptor's struct constraints.
func (d Descriptor) Validate() error {
	err := descriptorValidator.Struct(d)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !stderrors.As(err, &fieldErrs) {
		return errors.InternalError("failed to validate plugin descriptor", err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return errors.ValidationError("invalid plugin descriptor: " + strings.Join(msgs, ", "))
}

// Factories is the registry of linked plugin implementations.
type Factories = registry.Registry[Factory]

// NewFactories returns an empty factory registry.
func NewFactories() *Factories {
	return registry.New[Factory]()
}

type funcFactory struct {
	key  string
	desc Descriptor
	fn   func() Handler
}

// NewFactory builds a Factory from a constructor.
func NewFactory(key string, desc Descriptor, fn func() Handler) Factory {
	return &funcFactory{key: key, desc: desc, fn: fn}
}

func (f *funcFactory) GetType() string      { return f.key }
func (f *funcFactory) Describe() Descriptor { return f.desc }
func (f *funcFactory) New() Handler         { return f.fn() }
