package session

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	sdkutil "github.com/TBD54566975/ssi-sdk/util"
	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/framework"
	"github.com/smartSenseSolutions/waltid-idpkit/pkg/service/siop"
)

// RequestURIPrefix is the pushed-authorization-request wrapper stripped from ids before
// lookup, so a PAR request_uri resolves to its session.
const RequestURIPrefix = "urn:ietf:params:oauth:request_uri:"

// DefaultTTL bounds how long an untouched session stays resolvable.
const DefaultTTL = 5 * time.Minute

var (
	// ErrNotFound is returned for absent and expired sessions alike; callers must not be
	// able to distinguish the two.
	ErrNotFound = errors.New("session invalid or expired")
	// ErrConflictingResult signals a second, different verification result for a session
	// that already holds one. This is a protocol violation.
	ErrConflictingResult = errors.New("conflicting verification result for session")
)

type entry struct {
	session    Session
	lastAccess time.Time
}

// Store is a time-bounded map of in-flight sessions. Entries expire after sitting idle
// for the configured TTL; expiry is a requirement, not an optimization, as it bounds both
// memory and the exposure window of unused presentation requests. Access resets the idle
// clock. All operations are serialized per store, so concurrent writers to one session id
// cannot interleave partial updates.
type Store struct {
	ttl   time.Duration
	clock clock.Clock

	mu      sync.Mutex
	entries map[string]*entry

	done chan struct{}
	once sync.Once
}

func (s *Store) Type() framework.Type {
	return framework.Session
}

func (s *Store) Status() framework.Status {
	ae := sdkutil.NewAppendError()
	if s.entries == nil {
		ae.AppendString("no session map configured")
	}
	if s.ttl <= 0 {
		ae.AppendString("non-positive session ttl")
	}
	if !ae.IsEmpty() {
		return framework.Status{
			Status:  framework.StatusNotReady,
			Message: fmt.Sprintf("session store is not ready: %s", ae.Error().Error()),
		}
	}
	return framework.Status{Status: framework.StatusReady}
}

// NewStore creates a session store sweeping expired entries in the background. The clock
// is injected so tests can control time.
func NewStore(ttl time.Duration, clk clock.Clock) (*Store, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clk == nil {
		clk = clock.New()
	}
	store := Store{
		ttl:     ttl,
		clock:   clk,
		entries: make(map[string]*entry),
		done:    make(chan struct{}),
	}
	if !store.Status().IsReady() {
		return nil, errors.New(store.Status().Message)
	}
	go store.sweep()
	return &store, nil
}

// Close stops the background sweeper. Safe to call more than once.
func (s *Store) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *Store) sweep() {
	ticker := s.clock.Ticker(s.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			s.evictExpired(now)
		}
	}
}

func (s *Store) evictExpired(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.entries {
		if now.Sub(e.lastAccess) >= s.ttl {
			logrus.Debugf("evicting idle session: %s", id)
			delete(s.entries, id)
		}
	}
}

// normalizeID strips the request-URI wrapper some callers prepend to session ids.
func normalizeID(id string) string {
	return strings.TrimPrefix(id, RequestURIPrefix)
}

func (s *Store) expired(e *entry) bool {
	return s.clock.Now().Sub(e.lastAccess) >= s.ttl
}

// Put stores a session, resetting its idle clock.
func (s *Store) Put(session Session) error {
	if session.ID == "" {
		return errors.New("session id cannot be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[normalizeID(session.ID)] = &entry{
		session:    session,
		lastAccess: s.clock.Now(),
	}
	return nil
}

// Get returns a copy of the stored session. Expired and absent ids both yield
// ErrNotFound. A successful read resets the idle clock.
func (s *Store) Get(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[normalizeID(id)]
	if !ok {
		return nil, ErrNotFound
	}
	if s.expired(e) {
		delete(s.entries, normalizeID(id))
		return nil, ErrNotFound
	}
	e.lastAccess = s.clock.Now()
	session := e.session
	return &session, nil
}

// Update overwrites an existing, unexpired session.
func (s *Store) Update(session Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := normalizeID(session.ID)
	e, ok := s.entries[id]
	if !ok || s.expired(e) {
		delete(s.entries, id)
		return ErrNotFound
	}
	e.session = session
	e.lastAccess = s.clock.Now()
	return nil
}

// AttachVerificationResult transitions a session's verification result from absent to
// present exactly once. A repeated identical result is accepted idempotently; a
// different result for an already-resolved session is rejected as a protocol violation.
func (s *Store) AttachVerificationResult(id string, result siop.VerificationResult) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	normalized := normalizeID(id)
	e, ok := s.entries[normalized]
	if !ok {
		return nil, ErrNotFound
	}
	if s.expired(e) {
		delete(s.entries, normalized)
		return nil, ErrNotFound
	}
	if e.session.VerificationResult != nil {
		if !reflect.DeepEqual(*e.session.VerificationResult, result) {
			logrus.Warnf("rejected conflicting verification result for session: %s", normalized)
			return nil, ErrConflictingResult
		}
	} else {
		e.session.VerificationResult = &result
	}
	e.lastAccess = s.clock.Now()
	session := e.session
	return &session, nil
}
