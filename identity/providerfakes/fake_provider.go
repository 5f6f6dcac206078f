package providerfakes

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jrsteele09/repairshop-session/identity"
)

var _ identity.Provider = (*FakeProvider)(nil)

type fakeAccount struct {
	password string
	identity identity.Identity
}

// FakeProvider is a scriptable in-memory identity provider. Sign-ins notify
// subscribers synchronously, like a provider SDK firing its auth-state
// listener before the sign-in call returns.
type FakeProvider struct {
	accounts      map[string]fakeAccount
	popupIdentity *identity.Identity
	current       *identity.Identity
	subscribers   map[int]func(identity.Event)
	nextSubID     int
	tokenSeq      int
	token         string

	// SignInErr, when set, is returned by the next password or popup sign-in.
	SignInErr error
	// TokenErrs are returned, in order, by subsequent Token calls.
	TokenErrs []error
	// RefreshHook, when set, runs during every forced Token call before the
	// new token is issued.
	RefreshHook func()

	tokenCalls  int
	forcedCalls int
	signOuts    int
	refreshGate chan struct{}
	lock        sync.Mutex
}

func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		accounts:    make(map[string]fakeAccount),
		subscribers: make(map[int]func(identity.Event)),
	}
}

// AddAccount registers an email/password pair.
func (fp *FakeProvider) AddAccount(email, password, displayName string) identity.Identity {
	fp.lock.Lock()
	defer fp.lock.Unlock()
	id := identity.Identity{
		UID:           fmt.Sprintf("uid-%s", email),
		Email:         email,
		DisplayName:   displayName,
		EmailVerified: true,
	}
	fp.accounts[email] = fakeAccount{password: password, identity: id}
	return id
}

// SetPopupIdentity sets the identity returned by the federated flow.
func (fp *FakeProvider) SetPopupIdentity(id *identity.Identity) {
	fp.lock.Lock()
	defer fp.lock.Unlock()
	fp.popupIdentity = id
}

func (fp *FakeProvider) SignInWithPassword(_ context.Context, email, password string) (*identity.Identity, error) {
	fp.lock.Lock()
	if err := fp.SignInErr; err != nil {
		fp.SignInErr = nil
		fp.lock.Unlock()
		return nil, err
	}
	acct, ok := fp.accounts[email]
	if !ok {
		fp.lock.Unlock()
		return nil, identity.NewProviderError(identity.CodeUserNotFound, nil)
	}
	if acct.password != password {
		fp.lock.Unlock()
		return nil, identity.NewProviderError(identity.CodeWrongPassword, nil)
	}
	id := acct.identity
	fp.signInLocked(&id)
	fp.lock.Unlock()

	fp.Emit(identity.Event{Type: identity.EventSignedIn, Identity: &id})
	return &id, nil
}

func (fp *FakeProvider) SignInWithPopup(_ context.Context) (*identity.Identity, error) {
	fp.lock.Lock()
	if err := fp.SignInErr; err != nil {
		fp.SignInErr = nil
		fp.lock.Unlock()
		return nil, err
	}
	if fp.popupIdentity == nil {
		fp.lock.Unlock()
		return nil, identity.NewProviderError(identity.CodePopupClosed, nil)
	}
	id := *fp.popupIdentity
	fp.signInLocked(&id)
	fp.lock.Unlock()

	fp.Emit(identity.Event{Type: identity.EventSignedIn, Identity: &id})
	return &id, nil
}

func (fp *FakeProvider) signInLocked(id *identity.Identity) {
	fp.current = id
	fp.token = ""
}

func (fp *FakeProvider) SignOut(_ context.Context) error {
	fp.lock.Lock()
	fp.signOuts++
	wasSignedIn := fp.current != nil
	fp.current = nil
	fp.token = ""
	fp.lock.Unlock()

	if wasSignedIn {
		fp.Emit(identity.Event{Type: identity.EventSignedOut})
	}
	return nil
}

// Subscribe registers fn and reports the current state to it, like the
// provider SDK's auth-state listener.
func (fp *FakeProvider) Subscribe(fn func(identity.Event)) func() {
	fp.lock.Lock()
	id := fp.nextSubID
	fp.nextSubID++
	fp.subscribers[id] = fn
	var current *identity.Identity
	if fp.current != nil {
		c := *fp.current
		current = &c
	}
	fp.lock.Unlock()

	if current != nil {
		fn(identity.Event{Type: identity.EventSignedIn, Identity: current})
	} else {
		fn(identity.Event{Type: identity.EventSignedOut})
	}

	return func() {
		fp.lock.Lock()
		defer fp.lock.Unlock()
		delete(fp.subscribers, id)
	}
}

// Emit publishes ev to every subscriber.
func (fp *FakeProvider) Emit(ev identity.Event) {
	fp.lock.Lock()
	subs := make([]func(identity.Event), 0, len(fp.subscribers))
	for _, fn := range fp.subscribers {
		subs = append(subs, fn)
	}
	fp.lock.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}

func (fp *FakeProvider) Token(ctx context.Context, forceRefresh bool) (string, error) {
	fp.lock.Lock()
	fp.tokenCalls++
	if forceRefresh {
		fp.forcedCalls++
	}
	gate := fp.refreshGate
	hook := fp.RefreshHook
	fp.lock.Unlock()

	if forceRefresh && gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if forceRefresh && hook != nil {
		hook()
	}

	fp.lock.Lock()
	defer fp.lock.Unlock()
	if len(fp.TokenErrs) > 0 {
		err := fp.TokenErrs[0]
		fp.TokenErrs = fp.TokenErrs[1:]
		if err != nil {
			return "", err
		}
	}
	if fp.current == nil {
		return "", errors.New("no signed in user")
	}
	if fp.token == "" || forceRefresh {
		fp.tokenSeq++
		fp.token = fmt.Sprintf("token-%s-%d", fp.current.UID, fp.tokenSeq)
	}
	return fp.token, nil
}

// BlockRefresh makes forced Token calls wait until release is called.
func (fp *FakeProvider) BlockRefresh() (release func()) {
	gate := make(chan struct{})
	fp.lock.Lock()
	fp.refreshGate = gate
	fp.lock.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			fp.lock.Lock()
			fp.refreshGate = nil
			fp.lock.Unlock()
			close(gate)
		})
	}
}

func (fp *FakeProvider) TokenCalls() int {
	fp.lock.Lock()
	defer fp.lock.Unlock()
	return fp.tokenCalls
}

func (fp *FakeProvider) ForcedRefreshes() int {
	fp.lock.Lock()
	defer fp.lock.Unlock()
	return fp.forcedCalls
}

func (fp *FakeProvider) SignOuts() int {
	fp.lock.Lock()
	defer fp.lock.Unlock()
	return fp.signOuts
}

func (fp *FakeProvider) Subscribers() int {
	fp.lock.Lock()
	defer fp.lock.Unlock()
	return len(fp.subscribers)
}
