// Package session owns the connected-account state of a BlockMed client.
// It wraps a provider.Provider, tracks Disconnected/Connecting/Connected,
// applies accounts-changed notifications in emission order, and classifies
// provider failures into the rxerr taxonomy.
package session

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	klog "github.com/blockmed/blockmed/internal/log"
	"github.com/blockmed/blockmed/internal/provider"
	"github.com/blockmed/blockmed/internal/rxerr"
)

// State is the connection state of a session.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// AccountHandler receives the new first account, or ok=false when the
// account list became empty.
type AccountHandler func(addr common.Address, ok bool)

// Session is safe for concurrent use.
type Session struct {
	id       string
	provider provider.Provider
	logger   zerolog.Logger
	sub      provider.Subscription

	mu       sync.Mutex
	state    State
	account  common.Address
	lastSeq  uint64
	handlers map[uint64]AccountHandler
	nextID   uint64

	// Account-change delivery. One goroutine at a time delivers; changes
	// made meanwhile bump gen and are picked up by that goroutine.
	gen      uint64
	notice   notice
	emitting bool
}

type notice struct {
	addr common.Address
	ok   bool
}

// New creates a session over p and subscribes to its notifications. p may
// be nil when no provider is installed; the session then stays
// Disconnected and RequestConnection reports ProviderAbsent.
func New(p provider.Provider) *Session {
	id := uuid.NewString()
	s := &Session{
		id:       id,
		provider: p,
		logger:   klog.WithComponent("session").With().Str("session_id", id).Logger(),
		handlers: make(map[uint64]AccountHandler),
	}
	if p != nil {
		s.sub = p.SubscribeAccounts(s.handleAccountsChanged)
	}
	return s
}

// Close releases the provider subscription. Registered handlers stop
// receiving notifications.
func (s *Session) Close() {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
}

// ID returns the session id used in logs.
func (s *Session) ID() string { return s.id }

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Account returns the connected account, or ok=false when none.
func (s *Session) Account() (common.Address, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account, s.state == Connected
}

// CheckExistingConnection adopts an already-authorized account without
// prompting. An absent provider or an empty list leaves the state unchanged.
func (s *Session) CheckExistingConnection(ctx context.Context) error {
	if s.provider == nil {
		return nil
	}
	s.mu.Lock()
	seq := s.lastSeq
	s.mu.Unlock()

	accounts, err := s.provider.Accounts(ctx)
	if err != nil {
		return rxerr.Classify("session.check", err)
	}
	if len(accounts) == 0 {
		return nil
	}

	s.mu.Lock()
	if s.lastSeq != seq {
		// A notification arrived meanwhile and is newer than this answer.
		s.mu.Unlock()
		return nil
	}
	changed := s.setConnectedLocked(accounts[0])
	s.logger.Info().Str("account", accounts[0].Hex()).Msg("Existing connection restored")
	if !changed {
		s.mu.Unlock()
		return nil
	}
	s.notifyLocked(accounts[0], true)
	return nil
}

// RequestConnection prompts the provider for account access and returns the
// authorized account.
func (s *Session) RequestConnection(ctx context.Context) (common.Address, error) {
	if s.provider == nil {
		return common.Address{}, rxerr.New(rxerr.ProviderAbsent, "session.connect", "no wallet provider installed")
	}

	s.mu.Lock()
	prev := s.state
	if prev == Disconnected {
		s.state = Connecting
	}
	seq := s.lastSeq
	s.mu.Unlock()

	accounts, err := s.provider.RequestAccounts(ctx)
	if err == nil && len(accounts) == 0 {
		err = rxerr.New(rxerr.UserRejected, "session.connect", "no account authorized")
	}
	if err != nil {
		s.mu.Lock()
		if s.state == Connecting {
			s.state = Disconnected
		}
		s.mu.Unlock()
		cerr := rxerr.Classify("session.connect", err)
		s.logger.Warn().Err(cerr).Msg("Connection request failed")
		return common.Address{}, cerr
	}

	s.mu.Lock()
	if s.lastSeq != seq && s.state == Connected {
		// A newer notification already set the account.
		addr := s.account
		s.mu.Unlock()
		return addr, nil
	}
	changed := s.setConnectedLocked(accounts[0])
	s.logger.Info().Str("account", accounts[0].Hex()).Msg("Wallet connected")
	if !changed {
		s.mu.Unlock()
		return accounts[0], nil
	}
	s.notifyLocked(accounts[0], true)
	return accounts[0], nil
}

// Disconnect clears the local account. Provider authorization is untouched.
func (s *Session) Disconnect() {
	s.mu.Lock()
	was := s.state
	s.state = Disconnected
	s.account = common.Address{}
	s.mu.Unlock()
	if was == Connected {
		s.logger.Info().Msg("Wallet disconnected")
	}
}

// OnAccountsChanged registers h for account changes. Release it with
// Unsubscribe.
func (s *Session) OnAccountsChanged(h AccountHandler) provider.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.handlers[id] = h
	return &handlerSub{s: s, id: id}
}

type handlerSub struct {
	s    *Session
	id   uint64
	once sync.Once
}

func (h *handlerSub) Unsubscribe() {
	h.once.Do(func() {
		h.s.mu.Lock()
		delete(h.s.handlers, h.id)
		h.s.mu.Unlock()
	})
}

// SignTransaction signs tx with the connected account via the provider.
func (s *Session) SignTransaction(ctx context.Context, from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if s.provider == nil {
		return nil, rxerr.New(rxerr.ProviderAbsent, "session.sign", "no wallet provider installed")
	}
	if addr, ok := s.Account(); !ok || addr != from {
		return nil, rxerr.New(rxerr.ProviderAbsent, "session.sign", "account "+from.Hex()+" is not connected")
	}
	signed, err := s.provider.SignTransaction(ctx, from, tx, chainID)
	if err != nil {
		return nil, rxerr.Classify("session.sign", err)
	}
	return signed, nil
}

func (s *Session) handleAccountsChanged(ev provider.AccountsEvent) {
	s.mu.Lock()
	if ev.Seq != 0 && ev.Seq <= s.lastSeq {
		s.mu.Unlock()
		s.logger.Debug().Uint64("seq", ev.Seq).Msg("Stale accounts notification dropped")
		return
	}
	if ev.Seq != 0 {
		s.lastSeq = ev.Seq
	}

	var (
		addr    common.Address
		ok      bool
		changed bool
	)
	if len(ev.Accounts) == 0 {
		changed = s.state == Connected
		s.state = Disconnected
		s.account = common.Address{}
	} else {
		addr, ok = ev.Accounts[0], true
		changed = s.setConnectedLocked(addr)
	}
	if !changed {
		s.mu.Unlock()
		return
	}
	s.logger.Info().Bool("connected", ok).Str("account", addr.Hex()).Msg("Accounts changed")
	s.notifyLocked(addr, ok)
}

// setConnectedLocked reports whether the visible account changed.
func (s *Session) setConnectedLocked(addr common.Address) bool {
	changed := s.state != Connected || s.account != addr
	s.state = Connected
	s.account = addr
	return changed
}

// notifyLocked records a change for the handlers and releases s.mu. If
// another goroutine is delivering, it returns at once and that goroutine
// delivers the change after its current round. Handlers therefore never
// see an older account after a newer one, and the last round carries the
// latest change.
func (s *Session) notifyLocked(addr common.Address, ok bool) {
	s.gen++
	s.notice = notice{addr: addr, ok: ok}
	if s.emitting {
		s.mu.Unlock()
		return
	}
	s.emitting = true
	for {
		gen, n := s.gen, s.notice
		handlers := make([]AccountHandler, 0, len(s.handlers))
		for _, h := range s.handlers {
			handlers = append(handlers, h)
		}
		s.mu.Unlock()

		for _, h := range handlers {
			h(n.addr, n.ok)
		}

		s.mu.Lock()
		if s.gen == gen {
			s.emitting = false
			s.mu.Unlock()
			return
		}
	}
}
