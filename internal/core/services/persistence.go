package services

import (
	"context"
	"fmt"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"

	"go.uber.org/zap"
)

const (
	KeyPeerID       = "peerlink.peer_id"
	KeyDisplayName  = "peerlink.display_name"
	KeyLastPeerID   = "peerlink.last_peer_id"
	KeyIsConnecting = "peerlink.is_connecting"
)

// Persistence reads and writes the identity and reconnect intent. Store
// failures are logged and never stop the client.
type Persistence struct {
	store  ports.KeyValueStore
	logger *zap.SugaredLogger
}

func NewPersistence(store ports.KeyValueStore, logger *zap.SugaredLogger) *Persistence {
	return &Persistence{store: store, logger: logger}
}

// LoadIdentity returns nil when either half of the identity is missing.
func (p *Persistence) LoadIdentity(ctx context.Context) (*domain.Identity, error) {
	id, ok, err := p.store.Get(ctx, KeyPeerID)
	if err != nil || !ok {
		return nil, err
	}
	name, ok, err := p.store.Get(ctx, KeyDisplayName)
	if err != nil || !ok {
		return nil, err
	}
	identity := &domain.Identity{PeerID: domain.PeerID(id), DisplayName: name}
	if !identity.Valid() {
		return nil, nil
	}
	return identity, nil
}

func (p *Persistence) SaveIdentity(ctx context.Context, identity domain.Identity) error {
	if err := p.store.Set(ctx, KeyPeerID, string(identity.PeerID)); err != nil {
		return fmt.Errorf("save peer id: %w", err)
	}
	if err := p.store.Set(ctx, KeyDisplayName, identity.DisplayName); err != nil {
		return fmt.Errorf("save display name: %w", err)
	}
	return nil
}

func (p *Persistence) LoadIntent(ctx context.Context) (domain.ReconnectIntent, error) {
	var intent domain.ReconnectIntent

	peer, ok, err := p.store.Get(ctx, KeyLastPeerID)
	if err != nil {
		return intent, err
	}
	if ok {
		intent.LastPeer = domain.PeerID(peer)
	}

	flag, _, err := p.store.Get(ctx, KeyIsConnecting)
	if err != nil {
		return intent, err
	}
	intent.Connecting = flag == "true"
	return intent, nil
}

// SaveIntent records the last peer and whether a connection toward it is wanted.
func (p *Persistence) SaveIntent(ctx context.Context, peer domain.PeerID, connecting bool) {
	flag := "false"
	if connecting {
		flag = "true"
	}
	if err := p.store.Set(ctx, KeyLastPeerID, string(peer)); err != nil {
		p.logger.Warnw("Failed to persist last peer", "peer_id", peer, "error", err)
		return
	}
	if err := p.store.Set(ctx, KeyIsConnecting, flag); err != nil {
		p.logger.Warnw("Failed to persist connecting flag", "peer_id", peer, "error", err)
	}
}

func (p *Persistence) ClearIntent(ctx context.Context) {
	for _, key := range []string{KeyLastPeerID, KeyIsConnecting} {
		if err := p.store.Remove(ctx, key); err != nil {
			p.logger.Warnw("Failed to clear reconnect intent", "key", key, "error", err)
		}
	}
}

// ClearAll removes every persisted key.
func (p *Persistence) ClearAll(ctx context.Context) error {
	for _, key := range []string{KeyPeerID, KeyDisplayName, KeyLastPeerID, KeyIsConnecting} {
		if err := p.store.Remove(ctx, key); err != nil {
			return fmt.Errorf("remove %s: %w", key, err)
		}
	}
	return nil
}
