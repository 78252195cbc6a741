// Package stream keeps the market and account subscriptions alive.
// Each logical source runs its own reconnect loop; a connection error is
// never fatal to the caller.
package stream

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"gridbot/pkg/connectors"
	"gridbot/pkg/exchange"
	"gridbot/pkg/exchange/binance"
	"gridbot/pkg/metrics"
	"gridbot/pkg/models"
)

const (
	minBackoff        = time.Second
	maxBackoff        = 30 * time.Second
	keepAliveInterval = 30 * time.Minute
)

// session is the per-subscription runtime state, rebuilt on reconnect.
type session struct {
	kind    models.StreamKind
	url     string
	backoff time.Duration
	decode  func([]byte) ([]models.ExchangeMessage, error)
}

// Supervisor owns one logical subscription per data source and delivers
// normalized events on a single channel.
type Supervisor struct {
	wsBaseURL string
	symbol    string
	tokener   exchange.SessionTokener

	out chan<- models.ExchangeMessage
	log *zap.Logger
	wg  sync.WaitGroup
}

// New builds a supervisor. tokener may be nil, in which case the private
// subscription is skipped and the bot runs on market data only.
func New(
	wsBaseURL, symbol string,
	tokener exchange.SessionTokener,
	out chan<- models.ExchangeMessage,
	log *zap.Logger,
) *Supervisor {
	return &Supervisor{
		wsBaseURL: wsBaseURL,
		symbol:    symbol,
		tokener:   tokener,
		out:       out,
		log:       log,
	}
}

// Run starts all subscriptions and blocks until ctx is cancelled and
// every loop has exited.
func (s *Supervisor) Run(ctx context.Context) {
	for _, kind := range []models.StreamKind{models.StreamTrade, models.StreamDepth, models.StreamTicker} {
		kind := kind
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runMarket(ctx, kind)
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runUser(ctx)
	}()

	s.wg.Wait()
}

func (s *Supervisor) runMarket(ctx context.Context, kind models.StreamKind) {
	sess := &session{
		kind:    kind,
		url:     binance.StreamURL(s.wsBaseURL, s.symbol, kind, ""),
		backoff: minBackoff,
		decode: func(raw []byte) ([]models.ExchangeMessage, error) {
			msg, err := binance.DecodeMarketMessage(kind, raw)
			if err != nil {
				return nil, err
			}
			return []models.ExchangeMessage{msg}, nil
		},
	}
	s.connectAndListen(ctx, sess)
}

func (s *Supervisor) runUser(ctx context.Context) {
	if s.tokener == nil {
		s.log.Warn("no session tokener configured, skipping private stream")
		return
	}

	listenKey, err := s.tokener.GetListenKey(ctx)
	if err != nil {
		// Degrade to market-data-only mode instead of blocking the
		// other subscriptions.
		s.log.Warn("no listen key available, disabling private stream", zap.Error(err))
		return
	}

	kaCtx, kaCancel := context.WithCancel(ctx)
	defer kaCancel()
	go s.keepAliveLoop(kaCtx, listenKey)

	defer func() {
		// Release the token on teardown; best effort with a short
		// deadline since ctx is already done.
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.tokener.CloseListenKey(closeCtx, listenKey); err != nil {
			s.log.Warn("failed to release listen key", zap.Error(err))
		}
	}()

	sess := &session{
		kind:    models.StreamUser,
		url:     binance.StreamURL(s.wsBaseURL, s.symbol, models.StreamUser, listenKey),
		backoff: minBackoff,
		decode:  binance.DecodeUserMessage,
	}
	s.connectAndListen(ctx, sess)
}

func (s *Supervisor) keepAliveLoop(ctx context.Context, listenKey string) {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.tokener.KeepAliveListenKey(ctx, listenKey); err != nil {
				s.log.Warn("listen key keepalive failed", zap.Error(err))
			}
		}
	}
}

// connectAndListen runs the reconnect loop for one session until ctx is
// cancelled. Backoff doubles on failure up to the ceiling and resets once
// a connection is established.
func (s *Supervisor) connectAndListen(ctx context.Context, sess *session) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ws := &connectors.WS{}
		if err := ws.Connect(ctx, sess.url); err != nil {
			metrics.Reconnects.WithLabelValues(string(sess.kind)).Inc()
			s.log.Warn("stream connect failed",
				zap.String("source", string(sess.kind)),
				zap.Duration("backoff", sess.backoff),
				zap.Error(err))

			if !sleep(ctx, sess.backoff) {
				return
			}
			sess.backoff = nextBackoff(sess.backoff)
			continue
		}

		s.log.Info("stream connected", zap.String("source", string(sess.kind)))
		sess.backoff = minBackoff

		s.listen(ctx, sess, ws)
		_ = ws.Close()

		if ctx.Err() != nil {
			return
		}

		metrics.Reconnects.WithLabelValues(string(sess.kind)).Inc()
		s.log.Warn("stream disconnected, reconnecting",
			zap.String("source", string(sess.kind)),
			zap.Duration("backoff", sess.backoff))

		if !sleep(ctx, sess.backoff) {
			return
		}
		sess.backoff = nextBackoff(sess.backoff)
	}
}

func (s *Supervisor) listen(ctx context.Context, sess *session, ws *connectors.WS) {
	rawCh := make(chan []byte, 100)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := ws.Listen(ctx, rawCh); err != nil {
			s.log.Warn("stream read failed",
				zap.String("source", string(sess.kind)), zap.Error(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case raw := <-rawCh:
			msgs, err := sess.decode(raw)
			if err != nil {
				// Malformed frames are dropped one at a time; the
				// stream keeps running.
				metrics.DecodeErrors.WithLabelValues(string(sess.kind)).Inc()
				s.log.Debug("dropping undecodable frame",
					zap.String("source", string(sess.kind)), zap.Error(err))
				continue
			}
			for _, msg := range msgs {
				select {
				case s.out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// nextBackoff doubles the delay up to the ceiling.
func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

// sleep waits for d, returning false if ctx was cancelled first.
func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
