// Package zeroconf advertises the control API over mDNS/DNS-SD so bring-up
// tools can find the daemon on the LAN.
package zeroconf

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/grandcat/zeroconf"

	"github.com/micro-nova/amplipi-pal/internal/models"
)

// ServiceType is the DNS-SD service type of the control API.
const ServiceType = "_amplipi-pal._tcp"

// EventBus delivers card events used to refresh the TXT records.
type EventBus interface {
	Subscribe(id string) <-chan models.CardEvent
	Unsubscribe(id string)
}

// Service manages mDNS service registration.
type Service struct {
	name string // instance name, usually the hostname
	port int
	base []string

	mu     sync.Mutex
	server *zeroconf.Server
	card   string
}

// New creates a Service advertising port. txt is published with every
// registration, followed by the current card state.
func New(name string, port int, txt ...string) *Service {
	return &Service{
		name: name,
		port: port,
		base: txt,
		card: models.CardStatusOnline.String(),
	}
}

func (s *Service) records() []string {
	return append(append([]string(nil), s.base...), "card="+s.card)
}

func (s *Service) registerLocked() error {
	server, err := zeroconf.Register(
		s.name,      // instance name
		ServiceType, // service type
		"local.",    // domain
		s.port,      // port
		s.records(), // TXT records
		nil,         // ifaces, nil means all interfaces
	)
	if err != nil {
		return fmt.Errorf("zeroconf register: %w", err)
	}
	s.server = server
	return nil
}

// Start registers the mDNS service and blocks until ctx is cancelled, at which
// point it shuts down the server cleanly. With a non-nil bus the card
// state TXT record follows card events.
func (s *Service) Start(ctx context.Context, bus EventBus) error {
	s.mu.Lock()
	err := s.registerLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	slog.Info("zeroconf: registered mDNS service",
		"name", s.name,
		"type", ServiceType,
		"port", s.port,
	)

	var events <-chan models.CardEvent
	if bus != nil {
		events = bus.Subscribe("zeroconf")
		defer bus.Unsubscribe("zeroconf")
	}

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			if s.server != nil {
				s.server.Shutdown()
				s.server = nil
			}
			s.mu.Unlock()
			slog.Info("zeroconf: mDNS service unregistered")
			return nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if err := s.SetCardState(ev.State); err != nil {
				slog.Warn("zeroconf: TXT update failed", "err", err)
			}
		}
	}
}

// SetCardState updates the card TXT record. grandcat/zeroconf v1.0.0 has
// no live TXT update, so a running server is re-registered.
func (s *Service) SetCardState(state models.CardStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.card == state.String() {
		return nil
	}
	s.card = state.String()
	if s.server == nil {
		return nil
	}
	s.server.Shutdown()
	s.server = nil
	return s.registerLocked()
}

// TXT returns the records the service currently advertises.
func (s *Service) TXT() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records()
}
