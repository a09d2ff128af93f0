// Copyright (c) 2026 Fragstream Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package netmgr is a concrete, UDP-backed implementation of
// transport.NetworkManager: the only piece of the sender core's
// collaborator surface actually wired to a socket.
package netmgr

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/fragstream/fragsender/internal/transport"
)

// Config bundles the parameters needed to open and tune the UDP socket.
type Config struct {
	LocalAddr  string // e.g. ":9000"; empty picks an ephemeral port
	RemoteAddr string // receiver address, required
	DSCP       int    // code point (0-63), 0 disables marking
	Logger     *slog.Logger
}

// Manager sends fragments as UDP datagrams to a fixed remote address and
// reads ack datagrams back from the same socket. It estimates round-trip
// latency with a smoothed RTT sampled between consecutive sends and
// reads, the same shift-based EWMA classic RTT estimators use.
type Manager struct {
	conn   *net.UDPConn
	remote *net.UDPAddr
	logger *slog.Logger

	rttMu      sync.Mutex
	srttMs     int32
	rttVarMs   int32
	haveSample bool
	lastSendAt time.Time
}

// New opens a UDP socket bound to cfg.LocalAddr and connects it to
// cfg.RemoteAddr so Write/Read on the socket target only that peer.
func New(cfg Config) (*Manager, error) {
	if cfg.RemoteAddr == "" {
		return nil, fmt.Errorf("netmgr: remote address required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	remote, err := net.ResolveUDPAddr("udp", cfg.RemoteAddr)
	if err != nil {
		return nil, fmt.Errorf("resolving remote address: %w", err)
	}

	var local *net.UDPAddr
	if cfg.LocalAddr != "" {
		local, err = net.ResolveUDPAddr("udp", cfg.LocalAddr)
		if err != nil {
			return nil, fmt.Errorf("resolving local address: %w", err)
		}
	}

	conn, err := net.DialUDP("udp", local, remote)
	if err != nil {
		return nil, fmt.Errorf("dialing udp: %w", err)
	}

	if cfg.DSCP != 0 {
		if err := ApplyDSCP(conn, cfg.DSCP); err != nil {
			conn.Close()
			return nil, fmt.Errorf("applying dscp: %w", err)
		}
	}

	return &Manager{
		conn:   conn,
		remote: remote,
		logger: logger,
	}, nil
}

// Close releases the underlying socket.
func (m *Manager) Close() error {
	return m.conn.Close()
}

// SendData writes frame as a single UDP datagram. UDP sends are
// fire-and-forget at the kernel boundary, so onComplete always fires
// synchronously with StatusSent on a successful Write, or is skipped on
// error (the caller logs the error itself).
func (m *Manager) SendData(frame []byte, onComplete transport.CompletionFunc) error {
	m.rttMu.Lock()
	m.lastSendAt = time.Now()
	m.rttMu.Unlock()

	if _, err := m.conn.Write(frame); err != nil {
		return fmt.Errorf("writing fragment: %w", err)
	}
	if onComplete != nil {
		onComplete(transport.StatusSent)
	}
	return nil
}

// ReadWithTimeout reads one ack datagram, updating the RTT estimate from
// the time elapsed since the most recent SendData call.
func (m *Manager) ReadWithTimeout(buf []byte, timeout time.Duration) (int, error) {
	if err := m.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, fmt.Errorf("setting read deadline: %w", err)
	}
	n, err := m.conn.Read(buf)
	if err != nil {
		return 0, err
	}
	m.sampleRTT()
	return n, nil
}

// sampleRTT folds the elapsed time since the last send into the smoothed
// RTT estimate using the classic Jacobson/Karels shift-based update:
// srtt += (sample - srtt) / 8, rttvar += (|sample - srtt| - rttvar) / 4.
func (m *Manager) sampleRTT() {
	m.rttMu.Lock()
	defer m.rttMu.Unlock()

	if m.lastSendAt.IsZero() {
		return
	}
	sample := int32(time.Since(m.lastSendAt).Milliseconds())
	m.lastSendAt = time.Time{}

	if !m.haveSample {
		m.srttMs = sample
		m.rttVarMs = sample / 2
		m.haveSample = true
		return
	}
	delta := sample - m.srttMs
	m.srttMs += delta >> 3
	if delta < 0 {
		delta = -delta
	}
	m.rttVarMs += (delta - m.rttVarMs) >> 2
}

// EstimatedLatencyMs returns the smoothed RTT estimate, or -1 before the
// first sample is available.
func (m *Manager) EstimatedLatencyMs() int {
	m.rttMu.Lock()
	defer m.rttMu.Unlock()
	if !m.haveSample {
		return -1
	}
	return int(m.srttMs)
}
