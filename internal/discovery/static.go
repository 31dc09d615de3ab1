package discovery

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// StaticResolver resolves logical peer names to websocket URLs from a fixed
// table, typically filled from flags.
type StaticResolver struct {
	peers map[string]string
}

// ParsePeers parses "name=ws://host:port/v1/ws,other=..." into a resolver.
func ParsePeers(spec string) (*StaticResolver, error) {
	r := &StaticResolver{peers: map[string]string{}}
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, raw, ok := strings.Cut(part, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("bad peer entry %q (want name=url)", part)
		}
		if err := r.Add(strings.TrimSpace(name), strings.TrimSpace(raw)); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *StaticResolver) Add(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("peer %s: %w", name, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("peer %s: scheme must be ws or wss, got %q", name, u.Scheme)
	}
	if r.peers == nil {
		r.peers = map[string]string{}
	}
	r.peers[name] = u.String()
	return nil
}

// ResolveURL returns the URL registered for name.
func (r *StaticResolver) ResolveURL(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	u, ok := r.peers[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return u, nil
}
