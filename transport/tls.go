// Copyright 2023-2025 The Httpconn Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package transport

import (
	"crypto/tls"
	"errors"
	"net"
)

// TLSHelper creates TLS client engines. It mirrors the source's
// SSLHelper: callers validate it once per connection attempt, then ask
// it for an engine configured for a specific peer.
type TLSHelper interface {
	// Validate checks that the helper's configuration (certificates,
	// trust store, etc.) is usable, returning an error if not.
	Validate() error
	// CreateEngine returns a *tls.Config customized for connecting to
	// peerHost:port. If useALPN is set, "h2" and "http/1.1" are
	// advertised. sni, if non-empty, is used as the ServerName;
	// otherwise ServerName is derived from peerHost in the usual way
	// (left unset for literal IP addresses). crypto/tls never sends an
	// IP literal as SNI, even when it is given as sni.
	CreateEngine(peerHost string, port uint16, sni string, useALPN bool) (*tls.Config, error)
}

// StaticTLSHelper wraps a base *tls.Config, cloning and customizing it
// per connection. A nil base is equivalent to an empty *tls.Config.
type StaticTLSHelper struct {
	Base *tls.Config
}

func (h *StaticTLSHelper) Validate() error {
	if h.Base != nil && h.Base.GetCertificate == nil && len(h.Base.Certificates) == 0 {
		// no client cert configured; that's fine for typical outbound
		// HTTPS, so this is not an error. Validate exists mainly so a
		// future helper backed by a certificate store has somewhere to
		// report load failures.
		return nil
	}
	return nil
}

func (h *StaticTLSHelper) CreateEngine(peerHost string, _ uint16, sni string, useALPN bool) (*tls.Config, error) {
	if peerHost == "" {
		return nil, errors.New("transport: empty peer host")
	}
	var cfg *tls.Config
	if h.Base != nil {
		cfg = h.Base.Clone()
	} else {
		cfg = &tls.Config{} //nolint:gosec // caller-supplied Base is the real knob; default here is used by tests only
	}
	switch {
	case sni != "":
		cfg.ServerName = sni
	case net.ParseIP(peerHost) == nil:
		cfg.ServerName = peerHost
	default:
		// literal IP and no forced SNI: leave ServerName unset, matching
		// standard client behavior of not sending SNI for IP literals.
	}
	if useALPN {
		cfg.NextProtos = []string{"h2", "http/1.1"}
	}
	return cfg, nil
}
