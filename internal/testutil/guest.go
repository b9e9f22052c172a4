package testutil

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/reglet-dev/reglet-workers/domain/entities"
	"github.com/reglet-dev/reglet-workers/domain/ports"
)

// CounterGuest is a fake guest with a module-level counter, a durable
// Counter class and an RPC Calc class. Its fetch handlers route on the
// request path:
//
//	/counter  increments the counter and returns its value
//	/fault    traps
//	/abort    reports a fault through the hook, then traps
//	/throw    returns an application error
type CounterGuest struct {
	*FakeFactory
	// Reporter receives /abort reports. It stands in for the report_fault import.
	Reporter ports.FaultReporter
	// Gate, when set, is waited on by "slow" and "slow_fault" before they
	// return.
	Gate chan struct{}
	// Entered, when set, is signaled when "slow" or "slow_fault" starts running.
	Entered chan struct{}
}

// NewCounterGuest builds a CounterGuest.
func NewCounterGuest() *CounterGuest {
	g := &CounterGuest{}
	g.FakeFactory = &FakeFactory{
		Functions: map[string]GuestFunc{
			"fetch":      g.fetch(nil),
			"scheduled":  g.scheduled,
			"queue":      g.queue,
			"echo":       echo,
			"slow":       g.slow,
			"slow_fault": g.slowFault,
			"trap":       func(context.Context, *FakeModule, []byte) ([]byte, error) { return nil, Trap("unreachable") },
		},
		Classes: map[string]GuestClass{
			"Counter": {
				Methods: map[string]GuestMethod{
					"fetch": func(ctx context.Context, m *FakeModule, obj *FakeObject, payload []byte) ([]byte, error) {
						return g.fetch(obj)(ctx, m, payload)
					},
					"alarm": func(_ context.Context, _ *FakeModule, obj *FakeObject, _ []byte) ([]byte, error) {
						obj.Fields["alarms"]++
						return OK(nil), nil
					},
					"increment": func(_ context.Context, _ *FakeModule, obj *FakeObject, _ []byte) ([]byte, error) {
						obj.Fields["count"]++
						return OK(obj.Fields["count"]), nil
					},
					"state": func(_ context.Context, _ *FakeModule, obj *FakeObject, _ []byte) ([]byte, error) {
						var args entities.ConstructorArgs
						_ = json.Unmarshal(obj.Args, &args)
						return OK(args.State), nil
					},
				},
			},
			"Calc": {
				New: func(_ context.Context, m *FakeModule, _ *FakeObject) error {
					m.Add("calc_constructed", 1)
					return nil
				},
				Methods: map[string]GuestMethod{
					"add": func(_ context.Context, _ *FakeModule, _ *FakeObject, payload []byte) ([]byte, error) {
						var env entities.Envelope
						if err := json.Unmarshal(payload, &env); err != nil {
							return Fail("TypeError", err.Error()), nil
						}
						var nums []int
						if err := json.Unmarshal(env.Args, &nums); err != nil {
							return Fail("TypeError", "expected an array of numbers"), nil
						}
						sum := 0
						for _, n := range nums {
							sum += n
						}
						return OK(sum), nil
					},
					"calls": func(_ context.Context, _ *FakeModule, obj *FakeObject, _ []byte) ([]byte, error) {
						obj.Fields["calls"]++
						return OK(obj.Fields["calls"]), nil
					},
					"origin": func(_ context.Context, _ *FakeModule, obj *FakeObject, _ []byte) ([]byte, error) {
						var args entities.ConstructorArgs
						_ = json.Unmarshal(obj.Args, &args)
						return OK(args.Context.RequestID), nil
					},
				},
			},
		},
	}
	return g
}

// fetch returns a fetch handler whose counter lives on obj, or on the module
// when obj is nil.
func (g *CounterGuest) fetch(obj *FakeObject) GuestFunc {
	return func(ctx context.Context, m *FakeModule, payload []byte) ([]byte, error) {
		var env entities.Envelope
		if err := json.Unmarshal(payload, &env); err != nil || env.Request == nil {
			return Fail("TypeError", "missing request"), nil
		}
		u, err := url.Parse(env.Request.URL)
		if err != nil {
			return Fail("TypeError", err.Error()), nil
		}

		switch u.Path {
		case "/counter":
			var n int
			if obj != nil {
				obj.Fields["count"]++
				n = obj.Fields["count"]
			} else {
				n = m.Add("count", 1)
			}
			return OK(entities.Response{Status: 200, Body: strconv.Itoa(n)}), nil
		case "/fault":
			return nil, Trap("unreachable")
		case "/oob":
			return nil, Trap("out of bounds memory access")
		case "/abort":
			if g.Reporter != nil {
				g.Reporter.ReportCritical(ctx, "panicked at 'explicit abort'")
			}
			return nil, Trap("unreachable")
		case "/throw":
			return Fail("Error", "thrown by handler"), nil
		case "/env":
			return OK(entities.Response{Status: 200, Body: env.Env["GREETING"]}), nil
		default:
			return OK(entities.Response{Status: 404, Body: "not found"}), nil
		}
	}
}

func (g *CounterGuest) scheduled(_ context.Context, m *FakeModule, payload []byte) ([]byte, error) {
	var env entities.Envelope
	if err := json.Unmarshal(payload, &env); err != nil || env.Event == nil {
		return Fail("TypeError", "missing event"), nil
	}
	if env.Event.Cron == "fault" {
		return nil, Trap("unreachable")
	}
	m.Add("scheduled", 1)
	return OK(nil), nil
}

func (g *CounterGuest) queue(_ context.Context, m *FakeModule, payload []byte) ([]byte, error) {
	var env entities.Envelope
	if err := json.Unmarshal(payload, &env); err != nil || env.Batch == nil {
		return Fail("TypeError", "missing batch"), nil
	}
	m.Add("messages", len(env.Batch.Messages))
	return OK(nil), nil
}

func (g *CounterGuest) wait() {
	if g.Entered != nil {
		g.Entered <- struct{}{}
	}
	if g.Gate != nil {
		<-g.Gate
	}
}

func (g *CounterGuest) slow(_ context.Context, m *FakeModule, _ []byte) ([]byte, error) {
	g.wait()
	return OK(m.Add("slow", 1)), nil
}

func (g *CounterGuest) slowFault(_ context.Context, _ *FakeModule, _ []byte) ([]byte, error) {
	g.wait()
	return nil, Trap("unreachable")
}

func echo(_ context.Context, _ *FakeModule, payload []byte) ([]byte, error) {
	var env entities.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Fail("TypeError", err.Error()), nil
	}
	return OK(env.Args), nil
}
