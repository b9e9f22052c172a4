package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/reglet-dev/reglet-workers/domain/entities"
	werrors "github.com/reglet-dev/reglet-workers/domain/errors"
	"github.com/reglet-dev/reglet-workers/internal/wasmcontext"
	"github.com/reglet-dev/reglet-workers/lifecycle"
)

// StatefulObject is the contract the host expects from a durable object.
type StatefulObject interface {
	Fetch(ctx context.Context, req *entities.Request) (*entities.Response, error)
	Alarm(ctx context.Context) error
}

var _ StatefulObject = (*Stub)(nil)

// ObjectID is the identity of one durable object.
type ObjectID struct {
	Name string
	ID   uuid.UUID
}

func (id ObjectID) String() string {
	return id.ID.String()
}

// Namespace addresses the objects of one durable class.
type Namespace struct {
	d     *Dispatcher
	class ClassInfo
	space uuid.UUID
}

// Namespace returns the namespace of a durable class.
func (d *Dispatcher) Namespace(class string) (*Namespace, error) {
	info, ok := d.registry.Class(class)
	if !ok || info.Kind != entities.ClassDurable {
		return nil, &werrors.NotFoundError{Kind: "durable class", Name: class}
	}
	return &Namespace{
		d:     d,
		class: info,
		space: uuid.NewSHA1(uuid.NameSpaceURL, []byte("workers:durable:"+class)),
	}, nil
}

// Class returns the class the namespace addresses.
func (ns *Namespace) Class() ClassInfo {
	return ns.class
}

// IDFromName derives the object id for name. The same name always yields
// the same id.
func (ns *Namespace) IDFromName(name string) ObjectID {
	return ObjectID{ID: uuid.NewSHA1(ns.space, []byte(name)), Name: name}
}

// IDFromString parses an id previously returned by ObjectID.String.
func (ns *Namespace) IDFromString(s string) (ObjectID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return ObjectID{}, &werrors.WireFormatError{Err: err, Operation: "parse", Type: "ObjectID"}
	}
	return ObjectID{ID: id}, nil
}

// NewUniqueID returns a fresh, time-ordered object id.
func (ns *Namespace) NewUniqueID() (ObjectID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return ObjectID{}, fmt.Errorf("generate object id: %w", err)
	}
	return ObjectID{ID: id}, nil
}

// Get returns the stub for the object with the given id.
func (ns *Namespace) Get(id ObjectID) *Stub {
	return &Stub{ns: ns, id: id}
}

// Stub forwards calls to one durable object. The object lives inside the
// module and is rebuilt with the same state handle when its generation is
// superseded.
type Stub struct {
	ns *Namespace
	id ObjectID
}

// ID returns the object's id.
func (s *Stub) ID() ObjectID {
	return s.id
}

// Methods returns the public methods of the object's class.
func (s *Stub) Methods() []string {
	return append([]string(nil), s.ns.class.Methods...)
}

// Fetch delivers an HTTP request to the object's fetch method.
func (s *Stub) Fetch(ctx context.Context, req *entities.Request) (*entities.Response, error) {
	if !s.ns.class.HasMethod(HookFetch) {
		return nil, &werrors.NotFoundError{Kind: "method", Name: s.ns.class.Name + "." + HookFetch}
	}

	env := s.ns.d.envelope(ctx)
	env.Request = req

	var resp entities.Response
	if err := s.ns.d.invoke(ctx, "Object/Fetch", s.target(ctx), HookFetch, env, &resp); err != nil {
		return nil, err
	}
	if resp.Status == 0 {
		resp.Status = 200
	}
	return &resp, nil
}

// Alarm runs the object's alarm handler.
func (s *Stub) Alarm(ctx context.Context) error {
	if !s.ns.class.HasMethod(HookAlarm) {
		return &werrors.NotFoundError{Kind: "method", Name: s.ns.class.Name + "." + HookAlarm}
	}
	return s.ns.d.invoke(ctx, "Object/Alarm", s.target(ctx), HookAlarm, s.ns.d.envelope(ctx), nil)
}

// Call invokes any public method of the object with JSON arguments.
func (s *Stub) Call(ctx context.Context, method string, args json.RawMessage) (json.RawMessage, error) {
	if !s.ns.class.HasMethod(method) {
		return nil, &werrors.NotFoundError{Kind: "method", Name: s.ns.class.Name + "." + method}
	}

	env := s.ns.d.envelope(ctx)
	env.Args = args

	var out json.RawMessage
	if err := s.ns.d.invoke(ctx, "Object/Call", s.target(ctx), method, env, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Stub) target(ctx context.Context) lifecycle.Target {
	class := s.ns.class.Name
	return lifecycle.Target{
		Constructor: classConstructor{class: class},
		Key:         entities.InstanceKey{Class: class, ID: s.id.String()},
		Args: entities.ConstructorArgs{
			State:   &entities.StateHandle{Class: class, ID: s.id.String(), Name: s.id.Name},
			Env:     s.ns.d.env,
			Context: wasmcontext.ContextToWire(ctx),
		},
	}
}
