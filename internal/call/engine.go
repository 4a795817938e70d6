// Package call drives the client side of a one-to-one call: media
// acquisition, offer/answer exchange and candidate trickling against the
// signaling store.
package call

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"vartasetu-backend/internal/storage"
)

// Store is the slice of signaling state the engine needs.
type Store interface {
	CreateCall(ctx context.Context, callerID, receiverID, callType, offer string, nowMs int64) (storage.CallRow, error)
	GetCallByID(ctx context.Context, id string) (storage.CallRow, error)
	AnswerCall(ctx context.Context, callID, userID, answer string, nowMs int64) (storage.CallRow, error)
	DeclineCall(ctx context.Context, callID, userID string, nowMs int64) (storage.CallRow, error)
	EndCall(ctx context.Context, callID, userID string, nowMs int64) (storage.CallRow, error)
	MarkCallMissed(ctx context.Context, callID string, nowMs int64) (storage.CallRow, error)
	AppendIceCandidate(ctx context.Context, callID, senderID, candidate string, nowMs int64) (storage.IceCandidateRow, error)
	ListIceCandidatesAfter(ctx context.Context, callID string, afterSeq int64, forUserID string) ([]storage.IceCandidateRow, error)
}

type Config struct {
	Store        Store
	Devices      MediaDevices
	NewPeerConn  PeerConnectionFactory
	Logger       *slog.Logger
	PollInterval time.Duration
	RingTimeout  time.Duration

	// OnStateChange is invoked whenever the active call's observed status
	// changes, including the terminal status. Optional.
	OnStateChange func(call storage.CallRow)
}

// Engine manages at most one active call session for a local user.
type Engine struct {
	store        Store
	devices      MediaDevices
	newPeerConn  PeerConnectionFactory
	logger       *slog.Logger
	pollInterval time.Duration
	ringTimeout  time.Duration
	onState      func(storage.CallRow)

	mu      sync.Mutex
	session *Session
}

func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Store == nil || cfg.Devices == nil || cfg.NewPeerConn == nil {
		return nil, errors.New("store, devices and peer connection factory are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.RingTimeout <= 0 {
		cfg.RingTimeout = 30 * time.Second
	}
	return &Engine{
		store:        cfg.Store,
		devices:      cfg.Devices,
		newPeerConn:  cfg.NewPeerConn,
		logger:       cfg.Logger,
		pollInterval: cfg.PollInterval,
		ringTimeout:  cfg.RingTimeout,
		onState:      cfg.OnStateChange,
	}, nil
}

// Session is one in-flight call attempt.
type Session struct {
	engine *Engine

	CallID string
	userID string
	caller bool

	pc     PeerConnection
	local  MediaStream
	remote MediaStream

	cursor        int64
	answerApplied bool
	lastStatus    string

	done      chan struct{}
	closeOnce sync.Once
}

// Initiate starts an outgoing call: acquire media, build the offer, create
// the ringing record and begin polling for the answer.
func (e *Engine) Initiate(ctx context.Context, callerID, receiverID, callType string) (*Session, error) {
	e.mu.Lock()
	if e.session != nil {
		e.mu.Unlock()
		return nil, ErrCallInProgress
	}
	e.mu.Unlock()

	video := callType == storage.CallTypeVideo
	local, err := e.devices.AcquireStream(ctx, video, true)
	if err != nil {
		return nil, err
	}

	pc, err := e.newPeerConn(ctx)
	if err != nil {
		local.Stop()
		return nil, errors.Join(ErrSignalingFailure, err)
	}
	if err := pc.AddLocalStream(local); err != nil {
		local.Stop()
		_ = pc.Close()
		return nil, errors.Join(ErrSignalingFailure, err)
	}

	offer, err := pc.CreateOffer(ctx)
	if err != nil {
		local.Stop()
		_ = pc.Close()
		return nil, errors.Join(ErrSignalingFailure, err)
	}

	row, err := e.store.CreateCall(ctx, callerID, receiverID, callType, offer, storage.NowMs())
	if err != nil {
		local.Stop()
		_ = pc.Close()
		return nil, err
	}

	session := e.startSession(ctx, row, callerID, true, pc, local)
	e.logger.Info("call initiated", "call_id", row.ID, "type", callType, "receiver_id", receiverID)
	return session, nil
}

// Accept answers an incoming ringing call.
func (e *Engine) Accept(ctx context.Context, userID, callID string) (*Session, error) {
	e.mu.Lock()
	if e.session != nil {
		e.mu.Unlock()
		return nil, ErrCallInProgress
	}
	e.mu.Unlock()

	row, err := e.store.GetCallByID(ctx, callID)
	if err != nil {
		return nil, err
	}

	video := row.Type == storage.CallTypeVideo
	local, err := e.devices.AcquireStream(ctx, video, true)
	if err != nil {
		return nil, err
	}

	pc, err := e.newPeerConn(ctx)
	if err != nil {
		local.Stop()
		return nil, errors.Join(ErrSignalingFailure, err)
	}
	if err := pc.AddLocalStream(local); err != nil {
		local.Stop()
		_ = pc.Close()
		return nil, errors.Join(ErrSignalingFailure, err)
	}

	answer, err := pc.CreateAnswer(ctx, row.Offer)
	if err != nil {
		local.Stop()
		_ = pc.Close()
		return nil, errors.Join(ErrSignalingFailure, err)
	}

	row, err = e.store.AnswerCall(ctx, callID, userID, answer, storage.NowMs())
	if err != nil {
		local.Stop()
		_ = pc.Close()
		return nil, err
	}

	session := e.startSession(ctx, row, userID, false, pc, local)
	e.logger.Info("call accepted", "call_id", callID)
	return session, nil
}

// Decline rejects an incoming ringing call without touching media.
func (e *Engine) Decline(ctx context.Context, userID, callID string) error {
	_, err := e.store.DeclineCall(ctx, callID, userID, storage.NowMs())
	return err
}

// End hangs up the active session.
func (e *Engine) End(ctx context.Context) error {
	e.mu.Lock()
	session := e.session
	e.mu.Unlock()
	if session == nil {
		return ErrNoActiveCall
	}

	_, err := e.store.EndCall(ctx, session.CallID, session.userID, storage.NowMs())
	if err != nil && !errors.Is(err, storage.ErrInvalidState) {
		return err
	}
	session.close()
	return nil
}

// Active returns the current session, or nil.
func (e *Engine) Active() *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

func (e *Engine) startSession(ctx context.Context, row storage.CallRow, userID string, caller bool, pc PeerConnection, local MediaStream) *Session {
	session := &Session{
		engine:     e,
		CallID:     row.ID,
		userID:     userID,
		caller:     caller,
		pc:         pc,
		local:      local,
		lastStatus: row.Status,
		done:       make(chan struct{}),
	}

	pc.OnIceCandidate(func(candidate string) {
		if _, err := e.store.AppendIceCandidate(context.Background(), session.CallID, userID, candidate, storage.NowMs()); err != nil {
			e.logger.Warn("publish candidate failed", "call_id", session.CallID, "error", err)
		}
	})
	pc.OnRemoteStream(func(stream MediaStream) {
		session.remote = stream
	})
	pc.OnConnectionStateChange(func(state string) {
		e.logger.Debug("peer connection state", "call_id", session.CallID, "state", state)
	})

	e.mu.Lock()
	e.session = session
	e.mu.Unlock()

	go session.run(ctx)
	return session
}

// Done is closed once the session has fully torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) run(ctx context.Context) {
	defer s.close()

	ticker := time.NewTicker(s.engine.pollInterval)
	defer ticker.Stop()

	var ringExpiry <-chan time.Time
	if s.caller {
		timer := time.NewTimer(s.engine.ringTimeout)
		defer timer.Stop()
		ringExpiry = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ringExpiry:
			// The answer wins a race against the timeout.
			if _, err := s.engine.store.MarkCallMissed(ctx, s.CallID, storage.NowMs()); err != nil {
				if !errors.Is(err, storage.ErrInvalidState) {
					s.engine.logger.Warn("mark missed failed", "call_id", s.CallID, "error", err)
				}
				ringExpiry = nil
				continue
			}
			s.engine.logger.Info("call missed", "call_id", s.CallID)
			s.observe(ctx)
			return
		case <-ticker.C:
			if terminal := s.poll(ctx); terminal {
				return
			}
		}
	}
}

func (s *Session) poll(ctx context.Context) (terminal bool) {
	row, ok := s.observe(ctx)
	if !ok {
		return false
	}

	if s.caller && !s.answerApplied && row.Answer != nil {
		if err := s.pc.SetRemoteAnswer(*row.Answer); err != nil {
			s.engine.logger.Error("apply answer failed", "call_id", s.CallID, "error", err)
			return true
		}
		s.answerApplied = true
	}

	candidates, err := s.engine.store.ListIceCandidatesAfter(ctx, s.CallID, s.cursor, s.userID)
	if err != nil {
		s.engine.logger.Warn("drain candidates failed", "call_id", s.CallID, "error", err)
	}
	for _, candidate := range candidates {
		if err := s.pc.AddIceCandidate(candidate.Candidate); err != nil {
			s.engine.logger.Warn("apply candidate failed", "call_id", s.CallID, "seq", candidate.Seq, "error", err)
		}
		s.cursor = candidate.Seq
	}

	switch row.Status {
	case storage.CallStatusRinging, storage.CallStatusOngoing:
		return false
	default:
		s.engine.logger.Info("call finished", "call_id", s.CallID, "status", row.Status)
		return true
	}
}

func (s *Session) observe(ctx context.Context) (storage.CallRow, bool) {
	row, err := s.engine.store.GetCallByID(ctx, s.CallID)
	if err != nil {
		s.engine.logger.Warn("load call failed", "call_id", s.CallID, "error", err)
		return storage.CallRow{}, false
	}
	if row.Status != s.lastStatus {
		s.lastStatus = row.Status
		if s.engine.onState != nil {
			s.engine.onState(row)
		}
	}
	return row, true
}

// close releases media and transport exactly once, on every exit path.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		if s.local != nil {
			s.local.Stop()
		}
		if s.remote != nil {
			s.remote.Stop()
		}
		if s.pc != nil {
			_ = s.pc.Close()
		}

		s.engine.mu.Lock()
		if s.engine.session == s {
			s.engine.session = nil
		}
		s.engine.mu.Unlock()

		close(s.done)
	})
}
