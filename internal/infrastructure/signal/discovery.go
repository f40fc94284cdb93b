package signal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"
)

const (
	ServiceType = "_peerlink._tcp"
	Domain      = "local."
)

// ErrNoServer is returned by Discover when no server answered in time.
var ErrNoServer = errors.New("no signal server found on the local network")

// Advertise announces a signal server on port over mDNS. The returned
// function withdraws the announcement.
func Advertise(instance string, port int, path string, logger *zap.SugaredLogger) (func(), error) {
	txt := []string{"path=" + path}
	srv, err := zeroconf.Register(instance, ServiceType, Domain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("mDNS register: %w", err)
	}
	logger.Infow("advertising signal server", "instance", instance, "port", port, "path", path)
	return srv.Shutdown, nil
}

// Discover browses for an advertised signal server and returns its websocket URL.
func Discover(ctx context.Context, timeout time.Duration, logger *zap.SugaredLogger) (string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("mDNS resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	go func() {
		if err := resolver.Browse(ctx, ServiceType, Domain, entries); err != nil {
			logger.Warnw("mDNS browse error", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return "", ErrNoServer
		case e, ok := <-entries:
			if !ok {
				return "", ErrNoServer
			}
			if u := entryURL(e); u != "" {
				logger.Infow("discovered signal server", "instance", e.Instance, "url", u)
				return u, nil
			}
		}
	}
}

func entryURL(e *zeroconf.ServiceEntry) string {
	if e == nil || len(e.AddrIPv4) == 0 {
		return ""
	}
	path := "/peerjs"
	for _, t := range e.Text {
		if v, ok := strings.CutPrefix(t, "path="); ok && v != "" {
			path = v
		}
	}
	return fmt.Sprintf("ws://%s:%d%s", e.AddrIPv4[0], e.Port, path)
}
