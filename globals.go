package ekho

import "sync"

// Process-wide singletons: one envelope, one registry, one channel of
// sessions the dispatcher has accepted on behalf of a passive
// listener, and one bounce throttle. A process runs exactly one of
// these sets regardless of how many peers or conversations it
// multiplexes.
var (
	_DEFAULT_ENVELOPE        *envelope
	_DEFAULT_REGISTRY        *registry
	_DEFAULT_INCOMING        chan *Session
	_DEFAULT_BOUNCE_THROTTLE *bounceThrottle
)

var _DEFAULT_GLOBALS_VALIDATOR = newGlobalsValidator()

// globalsValidator caches whether InitGlobals has run, letting
// multiple call sites cheaply assert initialization happened without
// re-checking every field on every call.
type globalsValidator struct {
	sync.Once
	ok bool
}

func newGlobalsValidator() *globalsValidator {
	return &globalsValidator{}
}

func (v *globalsValidator) validate() bool {
	v.Do(func() {
		if _DEFAULT_ENVELOPE != nil &&
			_DEFAULT_REGISTRY != nil &&
			_DEFAULT_INCOMING != nil &&
			_DEFAULT_BOUNCE_THROTTLE != nil {
			v.ok = true
		}
	})
	return v.ok
}

// InitGlobals wires the process-wide envelope, registry, incoming-
// session channel, and bounce throttle. It must be called exactly
// once, before any Connect/Incoming/dispatch call; cmd/ekho does this
// at startup right after loading its Config.
func InitGlobals(env *envelope, reg *registry, incoming chan *Session, throttle *bounceThrottle) {
	_DEFAULT_ENVELOPE = env
	_DEFAULT_REGISTRY = reg
	_DEFAULT_INCOMING = incoming
	_DEFAULT_BOUNCE_THROTTLE = throttle
}

// globalsReady reports whether InitGlobals has run; Connect and
// connectWithConv call this defensively and return an error rather
// than nil-dereference deep in the registry if it hasn't, and
// CloseAllSessions returns early.
func globalsReady() bool {
	return _DEFAULT_GLOBALS_VALIDATOR.validate()
}
