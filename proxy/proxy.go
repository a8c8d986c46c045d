// Package proxy sits between validators, turning the bytes they exchange into
// scheduler events and writing scheduled deliveries back onto the wire.
package proxy

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/byzfuzz/rmo/internal/circuitbreaker"
	"github.com/byzfuzz/rmo/internal/measurements"
	"github.com/byzfuzz/rmo/model"
	"github.com/byzfuzz/rmo/wire"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

// Scheduler accepts intercepted events and hands back the ones due for
// delivery. It is implemented by *scheduler.Scheduler.
type Scheduler interface {
	Submit(ctx context.Context, e *model.Event) error
	Outbox(from, to model.NodeIndex) <-chan *model.Event
}

// Route is one validator-to-validator connection relayed by the proxy.
// Validator From is configured to reach validator To at ListenAddr; the proxy
// accepts there and dials the peer address of To.
type Route struct {
	From       model.NodeIndex `json:"from"`
	To         model.NodeIndex `json:"to"`
	ListenAddr string          `json:"listenAddr"`
}

func (r Route) String() string { return fmt.Sprintf("%d->%d", r.From, r.To) }

type Proxy struct {
	opts       *options
	validators *model.ValidatorSet
	sched      Scheduler
	routes     []Route
	breakers   map[model.NodeIndex]*circuitbreaker.CircuitBreaker
	seen       *measurements.SampleSet
}

// New checks routes against the validator set. Each unordered pair of
// validators may be relayed by at most one route.
func New(vs *model.ValidatorSet, sched Scheduler, routes []Route, o ...Option) (*Proxy, error) {
	opts, err := newOptions(o...)
	if err != nil {
		return nil, err
	}
	p := &Proxy{
		opts:       opts,
		validators: vs,
		sched:      sched,
		routes:     routes,
		breakers:   make(map[model.NodeIndex]*circuitbreaker.CircuitBreaker),
		seen:       measurements.NewSampleSet(opts.duplicateWindow),
	}
	pairs := make(map[[2]model.NodeIndex]struct{}, len(routes))
	for _, r := range routes {
		if r.From == r.To {
			return nil, fmt.Errorf("route %s: validator cannot be routed to itself", r)
		}
		if _, found := vs.Get(r.From); !found {
			return nil, fmt.Errorf("route %s: unknown validator %d", r, r.From)
		}
		to, found := vs.Get(r.To)
		if !found {
			return nil, fmt.Errorf("route %s: unknown validator %d", r, r.To)
		}
		if to.PeerAddr == "" {
			return nil, fmt.Errorf("route %s: validator %d has no peer address", r, r.To)
		}
		if r.ListenAddr == "" {
			return nil, fmt.Errorf("route %s: no listen address", r)
		}
		pair := [2]model.NodeIndex{min(r.From, r.To), max(r.From, r.To)}
		if _, dup := pairs[pair]; dup {
			return nil, fmt.Errorf("route %s: validators %d and %d are already routed", r, pair[0], pair[1])
		}
		pairs[pair] = struct{}{}
		if _, ok := p.breakers[r.To]; !ok {
			p.breakers[r.To] = circuitbreaker.New(opts.clock, opts.breakerMaxFailures, opts.breakerResetTimeout)
		}
	}
	return p, nil
}

// Routes returns the relayed routes.
func (p *Proxy) Routes() []Route { return append([]Route(nil), p.routes...) }

// Run listens on every route and relays connections until ctx is done.
func (p *Proxy) Run(ctx context.Context) error {
	var lc net.ListenConfig
	listeners := make([]net.Listener, 0, len(p.routes))
	for _, r := range p.routes {
		ln, err := lc.Listen(ctx, "tcp", r.ListenAddr)
		if err != nil {
			for _, l := range listeners {
				_ = l.Close()
			}
			return xerrors.Errorf("listening for route %s on %s: %w", r, r.ListenAddr, err)
		}
		log.Infow("Relaying route", "route", r, "listen", ln.Addr())
		listeners = append(listeners, ln)
	}
	eg, ctx := errgroup.WithContext(ctx)
	for i, r := range p.routes {
		r := r
		ln := listeners[i]
		eg.Go(func() error { return p.ServeListener(ctx, r, ln) })
	}
	return eg.Wait()
}

// ServeListener accepts connections for r on ln, one at a time, until ctx is
// done. ln is closed on return.
func (p *Proxy) ServeListener(ctx context.Context, r Route, ln net.Listener) error {
	var closeOnce sync.Once
	closeListener := func() { closeOnce.Do(func() { _ = ln.Close() }) }
	defer closeListener()
	stop := context.AfterFunc(ctx, closeListener)
	defer stop()

	for ctx.Err() == nil {
		down, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return xerrors.Errorf("accepting for route %s: %w", r, err)
		}
		up, err := p.dial(ctx, r.To)
		if err != nil {
			log.Warnw("Could not reach validator, dropping connection", "route", r, "error", err)
			_ = down.Close()
			continue
		}
		if err := p.Serve(ctx, r, down, up); err != nil {
			log.Warnw("Connection torn down", "route", r, "error", err)
		}
	}
	return nil
}

func (p *Proxy) dial(ctx context.Context, to model.NodeIndex) (net.Conn, error) {
	v, _ := p.validators.Get(to)
	var conn net.Conn
	err := p.breakers[to].Run(func() error {
		ctx, cancel := p.opts.clock.WithTimeout(ctx, p.opts.dialTimeout)
		defer cancel()
		c, err := p.opts.dialer.DialContext(ctx, "tcp", v.PeerAddr)
		metrics.dials.Add(ctx, 1, metric.WithAttributes(measurements.AttrDialSucceeded.Bool(err == nil)))
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, xerrors.Errorf("dialling validator %d at %s: %w", to, v.PeerAddr, err)
	}
	return conn, nil
}

// Serve relays one connection pair for r: down is the connection accepted
// from validator r.From and up the one dialled to r.To. Both are closed on
// return. Serve returns once either side closes, fails or sends a message
// that cannot be decoded, or when ctx is done. Only this pair is affected.
func (p *Proxy) Serve(ctx context.Context, r Route, down, up net.Conn) (_err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() {
		if err := multierr.Combine(down.Close(), up.Close()); err != nil {
			log.Debugw("Closing connections", "route", r, "error", err)
		}
	})
	defer func() {
		if stop() {
			_ = multierr.Combine(down.Close(), up.Close())
		}
	}()

	routeAttr := attrRoute.String(r.String())
	metrics.active.Add(ctx, 1, metric.WithAttributes(routeAttr))
	defer func() {
		ctx := context.WithoutCancel(ctx)
		metrics.active.Add(ctx, -1, metric.WithAttributes(routeAttr))
		metrics.connections.Add(ctx, 1, metric.WithAttributes(routeAttr, measurements.Status(ctx, _err)))
	}()
	log.Debugw("Relaying connection", "route", r, "local", down.RemoteAddr(), "remote", up.RemoteAddr())

	var eg errgroup.Group
	relay := func(f func() error) {
		eg.Go(func() error {
			defer cancel()
			err := f()
			if ctx.Err() != nil && (errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)) {
				return nil
			}
			return err
		})
	}
	toUp, toDown := &lockedWriter{w: up}, &lockedWriter{w: down}
	relay(func() error { return p.read(ctx, down, toUp, r.From, r.To) })
	relay(func() error { return p.read(ctx, up, toDown, r.To, r.From) })
	relay(func() error { return p.write(ctx, toUp, p.sched.Outbox(r.From, r.To)) })
	relay(func() error { return p.write(ctx, toDown, p.sched.Outbox(r.To, r.From)) })
	return eg.Wait()
}

// read frames the bytes sent by validator from to validator to and submits
// one event per message. An HTTP upgrade opening the stream is written to
// peer as is. It returns nil at end of stream.
func (p *Proxy) read(ctx context.Context, conn io.Reader, peer io.Writer, from, to model.NodeIndex) error {
	var framer wire.Framer
	var hs handshake
	buf := make([]byte, p.opts.readBufferSize)
	for {
		n, rerr := conn.Read(buf)
		if n > 0 {
			metrics.bytes.Add(ctx, int64(n), metric.WithAttributes(attrInbound))
			data, err := hs.feed(buf[:n], peer)
			if err != nil {
				metrics.rejected.Add(ctx, 1, metric.WithAttributes(attrReason.String("handshake")))
				return xerrors.Errorf("relaying handshake from validator %d: %w", from, err)
			}
			_, _ = framer.Write(data)
			for {
				frame, ok, err := framer.Next()
				if err != nil {
					metrics.rejected.Add(ctx, 1, metric.WithAttributes(attrReason.String("frame")))
					log.Warnw("Malformed envelope, closing connection", "from", from, "to", to, "error", err)
					return xerrors.Errorf("reading from validator %d: %w", from, err)
				}
				if !ok {
					break
				}
				if err := p.submit(ctx, frame, from, to); err != nil {
					return err
				}
			}
		}
		switch {
		case rerr == nil:
		case errors.Is(rerr, io.EOF):
			if pending := framer.Buffered(); pending > 0 {
				log.Debugw("Stream ended inside a frame", "from", from, "to", to, "pending", pending)
			}
			return nil
		default:
			return rerr
		}
	}
}

func (p *Proxy) submit(ctx context.Context, frame wire.Frame, from, to model.NodeIndex) error {
	typeAttr := measurements.AttrMessageType.String(frame.Type.String())
	msg, err := wire.DecodeFrame(frame)
	if err != nil {
		reason := "payload"
		if errors.Is(err, wire.ErrUnknownMessageType) {
			reason = "unknown-type"
		}
		metrics.rejected.Add(ctx, 1, metric.WithAttributes(attrReason.String(reason), typeAttr))
		log.Warnw("Undecodable message, closing connection",
			"from", from, "to", to, "type", frame.Type, "payload", hex.EncodeToString(frame.Payload), "error", err)
		return xerrors.Errorf("decoding message from validator %d: %w", from, err)
	}
	metrics.decoded.Add(ctx, 1, metric.WithAttributes(typeAttr))
	if p.seen.Contains(frame.Payload) {
		metrics.duplicates.Add(ctx, 1, metric.WithAttributes(typeAttr))
	}
	return p.sched.Submit(ctx, &model.Event{
		From:      from,
		To:        to,
		Message:   msg,
		ArrivedAt: p.opts.clock.Now(),
		Raw:       frame.Payload,
	})
}

// write sends each event delivered on outbox to conn until ctx is done.
func (p *Proxy) write(ctx context.Context, conn io.Writer, outbox <-chan *model.Event) error {
	var buf []byte
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-outbox:
			if !ok {
				return nil
			}
			buf = wire.AppendEnvelope(buf[:0], e.Type(), e.Payload())
			n, err := conn.Write(buf)
			metrics.bytes.Add(ctx, int64(n), metric.WithAttributes(attrOutbound))
			if err != nil {
				log.Debugw("Dropping delivery on closed connection", "event", e.ID, "from", e.From, "to", e.To)
				return err
			}
		}
	}
}
