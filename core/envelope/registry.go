package envelope

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/asaskevich/govalidator"

	"github.com/codewandler/walletrt-go/internal/codec"
	"github.com/codewandler/walletrt-go/internal/reflector"
)

// DefaultVersionConstraint is the range of wire versions a registry accepts
// when none is configured.
const DefaultVersionConstraint = "^1.0.0"

var ErrMalformedMessage = errors.New("malformed message")

// validator is implemented by variants with rules that struct tags can't express.
type validator interface{ Validate() error }

type decodeFunc func(data []byte) (Request, error)

// Registry maps wire type names to the request variants they decode into.
type Registry struct {
	mu         sync.RWMutex
	decoders   map[string]decodeFunc
	constraint *semver.Constraints
}

type RegistryOption func(*Registry) error

// WithVersionConstraint sets the semver range a frame's optional "version"
// field must satisfy, e.g. ">= 1.2, < 2".
func WithVersionConstraint(c string) RegistryOption {
	return func(r *Registry) error {
		cs, err := semver.NewConstraint(c)
		if err != nil {
			return fmt.Errorf("invalid version constraint %q: %w", c, err)
		}
		r.constraint = cs
		return nil
	}
}

func NewRegistry(opts ...RegistryOption) (*Registry, error) {
	r := &Registry{decoders: make(map[string]decodeFunc)}
	if err := WithVersionConstraint(DefaultVersionConstraint)(r); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds the variant T. The wire name is taken from T's OpType.
// Registering the same name twice panics.
func Register[T Request](r *Registry) {
	var zero T
	name := zero.OpType()
	if name == "" {
		panic(fmt.Sprintf("envelope: %s has an empty OpType", reflector.TypeInfoFor[T]().Name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.decoders[name]; exists {
		panic(fmt.Sprintf("envelope: message type %q registered twice", name))
	}
	r.decoders[name] = func(data []byte) (Request, error) {
		var v T
		if len(data) > 0 && string(data) != "null" {
			if err := codec.JSON.Unmarshal(data, &v); err != nil {
				return nil, fmt.Errorf("invalid %s payload: %w", name, err)
			}
		}
		if err := validate(v); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", name, err)
		}
		return v, nil
	}
}

func validate(v any) error {
	if _, err := govalidator.ValidateStruct(v); err != nil {
		return err
	}
	if vv, ok := v.(validator); ok {
		return vv.Validate()
	}
	return nil
}

// Types returns the registered wire names in lexical order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.decoders))
	for k := range r.decoders {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Decode parses a textual message into one of the registered variants.
// Every failure wraps [ErrMalformedMessage].
func (r *Registry) Decode(data []byte) (Request, Frame, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, Frame{}, fmt.Errorf("%w: empty message", ErrMalformedMessage)
	}

	f, err := DecodeFrame(data)
	if err != nil {
		return nil, f, fmt.Errorf("%w: %s", ErrMalformedMessage, err.Error())
	}
	if f.Type == "" {
		return nil, f, fmt.Errorf("%w: missing message type", ErrMalformedMessage)
	}

	if f.Version != "" {
		v, err := semver.NewVersion(f.Version)
		if err != nil {
			return nil, f, fmt.Errorf("%w: invalid version %q", ErrMalformedMessage, f.Version)
		}
		if !r.constraint.Check(v) {
			return nil, f, fmt.Errorf("%w: unsupported version %s (want %s)", ErrMalformedMessage, v, r.constraint)
		}
	}

	r.mu.RLock()
	dec, ok := r.decoders[f.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, f, fmt.Errorf("%w: unknown message type %q", ErrMalformedMessage, f.Type)
	}

	req, err := dec(f.Payload)
	if err != nil {
		return nil, f, fmt.Errorf("%w: %s", ErrMalformedMessage, err.Error())
	}
	if req.ActorID() == "" {
		return nil, f, fmt.Errorf("%w: %s does not name a target actor", ErrMalformedMessage, f.Type)
	}
	return req, f, nil
}
