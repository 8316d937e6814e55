// Package chains manages the configured networks and their node connections.
// One network is active at a time; switching is lock-free for readers.
package chains

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/lanternwallet/lantern-agent/internal/config"
)

// ErrUnknownChain marks a chain id no configured network matches. Callers map
// it to the provider-facing "chain not added" error.
var ErrUnknownChain = errors.New("unknown chain")

// Network is a resolved network entry.
type Network struct {
	Name               string
	ChainIDHex         string
	RPCURL             string
	DelegationContract string
}

type activeNetwork struct {
	network Network
	client  Client
}

// Service owns the network table and a client cache. The active network is an
// atomic pointer so request handling never contends with switches.
type Service struct {
	active atomic.Pointer[activeNetwork]

	mu               sync.Mutex
	networks         map[string]Network
	clientsByNetwork map[string]Client

	// dial is swappable for tests.
	dial func(ctx context.Context, url string) (Client, error)
}

// NewService builds the service from configured networks and activates one.
func NewService(ctx context.Context, networks map[string]config.Network, active string) (*Service, error) {
	s := &Service{
		networks:         make(map[string]Network, len(networks)),
		clientsByNetwork: make(map[string]Client),
		dial: func(ctx context.Context, url string) (Client, error) {
			return dialNode(ctx, url)
		},
	}
	for name, n := range networks {
		s.networks[strings.ToLower(name)] = Network{
			Name:               name,
			ChainIDHex:         strings.ToLower(strings.TrimSpace(n.ChainIDHex)),
			RPCURL:             n.RPCURL,
			DelegationContract: n.DelegationContract,
		}
	}

	if err := s.Switch(ctx, active); err != nil {
		return nil, err
	}
	return s, nil
}

// Active returns the client of the active network.
func (s *Service) Active() (Client, error) {
	current := s.active.Load()
	if current == nil {
		return nil, errors.New("no active network")
	}
	return current.client, nil
}

// ActiveNetwork returns the resolved active network entry.
func (s *Service) ActiveNetwork() (Network, error) {
	current := s.active.Load()
	if current == nil {
		return Network{}, errors.New("no active network")
	}
	return current.network, nil
}

// Switch makes the named network active, dialing it if needed.
func (s *Service) Switch(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("network name is empty")
	}

	if current := s.active.Load(); current != nil {
		if strings.EqualFold(current.network.Name, name) {
			return nil
		}
	}

	network, client, err := s.clientFor(ctx, name)
	if err != nil {
		return err
	}

	s.active.Store(&activeNetwork{network: network, client: client})
	return nil
}

// SwitchByChainIDHex activates the network with the given chain id and returns
// its name. Returns ErrUnknownChain when no network matches.
func (s *Service) SwitchByChainIDHex(ctx context.Context, chainIDHex string) (string, error) {
	network, err := s.ResolveByChainIDHex(chainIDHex)
	if err != nil {
		return "", err
	}
	if err := s.Switch(ctx, network.Name); err != nil {
		return "", err
	}
	return network.Name, nil
}

// ResolveByChainIDHex looks up a configured network by its chain id.
func (s *Service) ResolveByChainIDHex(chainIDHex string) (Network, error) {
	chainIDHex = strings.ToLower(strings.TrimSpace(chainIDHex))
	if chainIDHex == "" {
		return Network{}, errors.New("chainIdHex is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.networks {
		if n.ChainIDHex == chainIDHex {
			return n, nil
		}
	}
	return Network{}, errors.Wrapf(ErrUnknownChain, "chainIdHex %q", chainIDHex)
}

// AddNetwork registers a network at runtime (wallet_addEthereumChain). Adding
// an already-known chain id is a no-op.
func (s *Service) AddNetwork(n Network) error {
	n.Name = strings.TrimSpace(n.Name)
	n.ChainIDHex = strings.ToLower(strings.TrimSpace(n.ChainIDHex))
	if n.Name == "" || !strings.HasPrefix(n.ChainIDHex, "0x") || strings.TrimSpace(n.RPCURL) == "" {
		return errors.New("network needs a name, a 0x chain id, and an rpc url")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.networks {
		if existing.ChainIDHex == n.ChainIDHex {
			return nil
		}
	}
	s.networks[strings.ToLower(n.Name)] = n
	return nil
}

// Networks returns a snapshot of the network table.
func (s *Service) Networks() []Network {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Network, 0, len(s.networks))
	for _, n := range s.networks {
		out = append(out, n)
	}
	return out
}

// ClientFor returns the client for a named network without changing which
// network is active.
func (s *Service) ClientFor(ctx context.Context, name string) (Client, error) {
	_, client, err := s.clientFor(ctx, name)
	return client, err
}

// ClientForChainID returns the client for the network carrying the given chain
// id, dialing it if needed. The active network does not change.
func (s *Service) ClientForChainID(ctx context.Context, chainIDHex string) (Client, error) {
	network, err := s.ResolveByChainIDHex(chainIDHex)
	if err != nil {
		return nil, err
	}
	return s.ClientFor(ctx, network.Name)
}

// clientFor returns (and caches) the client for a named network without
// changing which network is active.
func (s *Service) clientFor(ctx context.Context, name string) (Network, Client, error) {
	key := strings.ToLower(strings.TrimSpace(name))

	s.mu.Lock()
	network, ok := s.networks[key]
	if !ok {
		s.mu.Unlock()
		return Network{}, nil, errors.Newf("unknown network %q", name)
	}
	if existing := s.clientsByNetwork[key]; existing != nil {
		s.mu.Unlock()
		return network, existing, nil
	}
	s.mu.Unlock()

	// dial outside the lock
	client, err := s.dial(ctx, network.RPCURL)
	if err != nil {
		return Network{}, nil, errors.Wrapf(err, "dial network %q", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing := s.clientsByNetwork[key]; existing != nil {
		// lost the race; keep the first one
		client.Close()
		return network, existing, nil
	}
	s.clientsByNetwork[key] = client
	return network, client, nil
}

// Close shuts down every cached client.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, client := range s.clientsByNetwork {
		client.Close()
		delete(s.clientsByNetwork, key)
	}
	s.active.Store(nil)
}
