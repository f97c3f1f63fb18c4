//go:build linux
// +build linux

// File: proxy/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The reactor core: a single-threaded poll loop that accepts connections,
// drives each pump's drain/flush by readiness, pairs spawned peers into
// relay tunnels, and tears tunnels down through the deferred zombie protocol.
// All table, link, and zombie state is owned by this one thread; mutation is
// serialized by the dispatch loop itself, so no locks appear here.

package proxy

import (
	"fmt"
	"net"

	"github.com/eapache/queue"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"

	"github.com/momentics/pumpd/control"
	"github.com/momentics/pumpd/pump"
	"github.com/momentics/pumpd/reactor"
)

// rootToken names the listening socket in readiness events. Pump tokens are
// non-negative slot indexes, so the sentinel can never collide.
const rootToken reactor.Token = -1

// eventBatch is the readiness batch size per poll cycle.
const eventBatch = 1024

// Config holds the reactor core's configuration.
type Config struct {
	ListenAddr string // TCP bind address, e.g. ":8017"
	Seed       string // seed for the shared-secret derivation
	MaxConns   int    // pump table capacity in slots; one tunnel takes two
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr: ":8017",
		Seed:       "",
		MaxConns:   2048,
	}
}

// pendingPeer is a pump spawned during the event scan, queued for insertion
// after the scan completes so the table is never mutated while iterated.
type pendingPeer struct {
	owner reactor.Token
	p     pump.Pump
}

// Server owns the poll cycle and all endpoint state.
type Server struct {
	cfg      *Config
	poller   *reactor.Poller
	listenFD int
	secret   []byte
	engine   pump.Factory

	pumps  *table
	links  linkTable
	zombie map[reactor.Token]struct{}

	// reserved holds one slot per admitted connection that has not yet
	// spawned its peer, keyed by the owning token. The accept guard counts
	// these, so a batch of in-flight handshakes can never spawn the table
	// past MaxConns.
	reserved map[reactor.Token]struct{}

	counters *control.Registry
}

// New binds the listener and prepares the reactor. Bind or poller failures
// are startup-fatal.
func New(cfg *Config, engine pump.Factory) (*Server, error) {
	poller, err := reactor.NewPoller()
	if err != nil {
		return nil, err
	}
	listenFD, err := listen(cfg.ListenAddr)
	if err != nil {
		_ = poller.Close()
		return nil, err
	}
	return &Server{
		cfg:      cfg,
		poller:   poller,
		listenFD: listenFD,
		secret:   DeriveSecret(cfg.Seed),
		engine:   engine,
		pumps:    newTable(cfg.MaxConns),
		links:    make(linkTable),
		zombie:   make(map[reactor.Token]struct{}),
		reserved: make(map[reactor.Token]struct{}),
		counters: control.NewRegistry(),
	}, nil
}

// SecretHex exposes the derived shared secret for operator verification.
func (s *Server) SecretHex() string {
	return SecretHex(s.secret)
}

// Counters exposes the runtime counter registry.
func (s *Server) Counters() *control.Registry {
	return s.counters
}

// listen opens a non-blocking listening socket on addr.
func listen(addr string) (int, error) {
	tcp, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return -1, fmt.Errorf("resolve %q: %w", addr, err)
	}

	family := unix.AF_INET
	if tcp.IP != nil && tcp.IP.To4() == nil {
		family = unix.AF_INET6
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, fmt.Errorf("listen socket: %w", err)
	}
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)

	var sa unix.Sockaddr
	if family == unix.AF_INET {
		sa4 := &unix.SockaddrInet4{Port: tcp.Port}
		if ip := tcp.IP.To4(); ip != nil {
			copy(sa4.Addr[:], ip)
		}
		sa = sa4
	} else {
		sa6 := &unix.SockaddrInet6{Port: tcp.Port}
		copy(sa6.Addr[:], tcp.IP.To16())
		sa = sa6
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("bind %q: %w", addr, err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("listen %q: %w", addr, err)
	}
	return fd, nil
}

// Run blocks on the poll cycle forever. It returns only when the reactor
// itself can no longer make progress.
func (s *Server) Run() error {
	log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting proxy")

	// The listener stays level-triggered: its readiness re-fires while the
	// accept queue is non-empty, and accept takes one connection per event.
	if err := s.poller.Register(s.listenFD, rootToken, reactor.EventRead, false); err != nil {
		return err
	}

	evs := make([]reactor.Event, eventBatch)
	for {
		n, err := s.poller.Wait(evs)
		if err != nil {
			return err
		}
		if err := s.dispatch(evs[:n]); err != nil {
			return err
		}
	}
}

// accept takes at most one pending connection. Refusals and per-connection
// failures are logged and isolated; only registration failures are fatal.
func (s *Server) accept() error {
	// An accepted connection may spawn a peer, so it needs two free slots,
	// and every connection still handshaking holds one reserved slot for the
	// peer it may yet spawn. Counting reservations here keeps the table from
	// ever growing past MaxConns even when many handshakes finish in one
	// batch.
	if s.pumps.len()+len(s.reserved)+2 > s.cfg.MaxConns {
		log.Warn().Int("max", s.cfg.MaxConns).Msg("connection limit reached, refusing")
		s.counters.Inc("refused")
		// Refused, not queued: take the connection off the backlog and
		// close it so the listener readiness can settle.
		if nfd, _, err := unix.Accept4(s.listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC); err == nil {
			_ = unix.Close(nfd)
		}
		return nil
	}

	nfd, sa, err := unix.Accept4(s.listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
			return nil
		}
		log.Warn().Err(err).Msg("accept failed")
		return nil
	}
	_ = unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)

	p, err := s.engine(nfd, s.secret)
	if err != nil {
		log.Warn().Err(err).Msg("pump construction failed")
		_ = unix.Close(nfd)
		return nil
	}

	tok := s.pumps.insert(p)
	s.reserved[tok] = struct{}{}
	if err := s.poller.Register(p.Sock(), tok, p.Interest(), true); err != nil {
		return err
	}
	s.counters.Inc("accepted")
	log.Info().Int("token", int(tok)).Str("from", sockaddrString(sa)).Msg("new connection")
	return nil
}

// dispatch handles one readiness batch in full. Conclusions drawn during the
// scan (spawned peers, stale endpoints) mutate the table only after the scan,
// in a fixed order: peers are inserted and linked first, zombies from the
// previous cycle are reaped, and stale endpoints are removed last. An
// endpoint orphaned by a stale removal sits in the zombie set until the next
// cycle, which gives the scan of that cycle one last chance to flush what was
// fanned into it before it goes away.
func (s *Server) dispatch(evs []reactor.Event) error {
	stale := make(map[reactor.Token]struct{})
	pending := queue.New()

	for _, ev := range evs {
		if ev.Token == rootToken {
			if err := s.accept(); err != nil {
				return err
			}
			continue
		}

		tok := ev.Token
		p, ok := s.pumps.get(tok)
		if !ok {
			// Legitimate race: an earlier event in this batch removed the
			// token. Never a crash.
			log.Warn().Int("token", int(tok)).Msg("arena inconsistency")
			continue
		}

		if ev.Events.Readable() {
			for {
				peer, err := p.Drain()
				if err != nil {
					if pump.IsWouldBlock(err) {
						break
					}
					log.Warn().Int("token", int(tok)).Err(err).Msg("drain failed")
					stale[tok] = struct{}{}
					break
				}
				if peer != nil {
					pending.Add(pendingPeer{owner: tok, p: peer})
				}
			}

			if peerTok, linked := s.links.peer(tok); linked {
				if err := s.fanOut(p, peerTok); err != nil {
					return err
				}
			}
		}

		if ev.Events.Writable() {
			if peerTok, linked := s.links.peer(tok); linked {
				if err := s.fanIn(p, peerTok); err != nil {
					return err
				}
			}

			for {
				if err := p.Flush(); err != nil {
					if pump.IsWouldBlock(err) {
						break
					}
					log.Warn().Int("token", int(tok)).Err(err).Msg("flush failed")
					stale[tok] = struct{}{}
					break
				}
			}
		}

		if ev.Events.Closed() {
			stale[tok] = struct{}{}
		} else if _, bad := stale[tok]; !bad {
			if err := s.poller.Reregister(p.Sock(), tok, p.Interest()); err != nil {
				return err
			}
		}
	}

	for pending.Length() > 0 {
		pp := pending.Remove().(pendingPeer)
		delete(s.reserved, pp.owner)
		if _, linked := s.links.peer(pp.owner); linked {
			// A pump spawns at most one peer; linking a second would leave
			// the first mapping dangling and break link symmetry.
			log.Warn().Int("owner", int(pp.owner)).Msg("duplicate peer spawn refused")
			_ = pp.p.Close()
			continue
		}
		tok := s.pumps.insert(pp.p)
		s.links.link(tok, pp.owner)
		if err := s.poller.Register(pp.p.Sock(), tok, pp.p.Interest(), true); err != nil {
			return err
		}
		s.counters.Inc("paired")
		log.Info().Int("token", int(tok)).Int("owner", int(pp.owner)).Msg("paired with peer")
	}

	if err := s.dropZombies(); err != nil {
		return err
	}

	for tok := range stale {
		if err := s.dropPump(tok); err != nil {
			return err
		}
	}
	return nil
}

// dropZombies removes every endpoint whose peer went away.
func (s *Server) dropZombies() error {
	if len(s.zombie) == 0 {
		return nil
	}

	tokens := make([]reactor.Token, 0, len(s.zombie))
	for tok := range s.zombie {
		tokens = append(tokens, tok)
	}
	s.zombie = make(map[reactor.Token]struct{})

	for _, tok := range tokens {
		s.counters.Inc("zombies_reaped")
		if err := s.dropPump(tok); err != nil {
			return err
		}
	}
	return nil
}

// dropPump removes one endpoint: deregister, close, unlink, and zombify the
// peer. Removal is idempotent; a token already gone is a no-op, and the
// freed token leaves circulation with no link, zombie, or reservation
// entries behind it.
func (s *Server) dropPump(tok reactor.Token) error {
	delete(s.zombie, tok)
	delete(s.reserved, tok)

	p, ok := s.pumps.remove(tok)
	if !ok {
		return nil
	}

	log.Info().Int("token", int(tok)).Msg("dropping pump")
	deregErr := s.poller.Deregister(p.Sock())
	_ = p.Close()
	s.counters.Inc("dropped")

	if peerTok, linked := s.links.unlink(tok); linked {
		log.Info().Int("token", int(tok)).Int("peer", int(peerTok)).Msg("dropping link to peer")
		s.zombie[peerTok] = struct{}{}
	}
	return deregErr
}

// fanOut moves bytes just drained from p into its peer's outbound buffer and
// re-arms the peer so it is polled for its new write readiness.
func (s *Server) fanOut(p pump.Pump, peerTok reactor.Token) error {
	buf := p.Pull()
	if len(buf) == 0 {
		return nil
	}

	peer, ok := s.pumps.get(peerTok)
	if !ok {
		log.Warn().Int("peer", int(peerTok)).Msg("fan out to missing peer")
		return nil
	}
	peer.Push(buf)
	s.counters.Add("bytes_relayed", int64(len(buf)))

	return s.poller.Reregister(peer.Sock(), peerTok, peer.Interest())
}

// fanIn moves bytes already buffered in the peer into p's send path before p
// flushes, then re-arms the peer, whose buffer just emptied.
func (s *Server) fanIn(p pump.Pump, peerTok reactor.Token) error {
	peer, ok := s.pumps.get(peerTok)
	if !ok {
		log.Warn().Int("peer", int(peerTok)).Msg("fan in from missing peer")
		return nil
	}

	buf := peer.Pull()
	if len(buf) == 0 {
		return nil
	}
	p.Push(buf)
	s.counters.Add("bytes_relayed", int64(len(buf)))

	return s.poller.Reregister(peer.Sock(), peerTok, peer.Interest())
}

// Close releases the listener, every live pump, and the poller.
func (s *Server) Close() error {
	s.pumps.each(func(tok reactor.Token, p pump.Pump) {
		_ = s.poller.Deregister(p.Sock())
		_ = p.Close()
	})
	_ = unix.Close(s.listenFD)
	return s.poller.Close()
}

// sockaddrString renders an accepted peer address for logging.
func sockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return fmt.Sprintf("%s:%d", net.IP(a.Addr[:]), a.Port)
	case *unix.SockaddrInet6:
		return fmt.Sprintf("[%s]:%d", net.IP(a.Addr[:]), a.Port)
	default:
		return "unknown"
	}
}
