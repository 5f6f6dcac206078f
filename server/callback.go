package server

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/jrsteele09/repairshop-session/identity/oidcprovider"
	"github.com/rs/zerolog/log"
)

var ErrPopupInProgress = errors.New("a sign-in window is already open")

type popupResult struct {
	code  string
	state string
	err   error
}

// PopupBroker connects the provider's popup sign-in to the redirect endpoint.
// One popup may be pending at a time.
type PopupBroker struct {
	lock    sync.Mutex
	open    func(authURL string) error
	pending chan popupResult
}

// NewPopupBroker creates a broker that shows the authorization URL with open.
func NewPopupBroker(open func(authURL string) error) *PopupBroker {
	return &PopupBroker{open: open}
}

// Await is an oidcprovider.PopupHandler.
func (b *PopupBroker) Await(ctx context.Context, authURL string) (string, string, error) {
	ch := make(chan popupResult, 1)
	b.lock.Lock()
	if b.pending != nil {
		b.lock.Unlock()
		return "", "", ErrPopupInProgress
	}
	b.pending = ch
	b.lock.Unlock()

	defer func() {
		b.lock.Lock()
		b.pending = nil
		b.lock.Unlock()
	}()

	if err := b.open(authURL); err != nil {
		return "", "", err
	}

	select {
	case res := <-ch:
		return res.code, res.state, res.err
	case <-ctx.Done():
		return "", "", ctx.Err()
	}
}

// Deliver hands the redirect result to the pending popup. It reports false
// when no popup is waiting.
func (b *PopupBroker) Deliver(code, state string, err error) bool {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.pending == nil {
		return false
	}
	select {
	case b.pending <- popupResult{code: code, state: state, err: err}:
		return true
	default:
		return false
	}
}

func (s *Server) CallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var err error
		if reason := q.Get("error"); reason != "" {
			log.Info().Str("reason", reason).Msg("[Server.CallbackHandler] sign-in window returned an error")
			err = oidcprovider.ErrPopupClosed
		} else if q.Get("code") == "" {
			writeError(w, http.StatusBadRequest, "missing authorization code", "")
			return
		}

		if !s.popups.Deliver(q.Get("code"), q.Get("state"), err) {
			writeError(w, http.StatusConflict, "no sign-in is waiting for this response", "")
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<!doctype html><p>Sign-in complete. You can close this window.</p>"))
	}
}
