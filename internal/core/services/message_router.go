package services

import (
	"fmt"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"
	"peerlink/pkg/utils"

	"go.uber.org/zap"
)

// MessageRouter renders inbound payloads and raises off-focus alerts.
type MessageRouter struct {
	renderer      ports.Renderer
	gate          *NotificationGate
	focus         ports.FocusState
	metrics       ports.Metrics
	previewLength int
	attachIcon    string
	logger        *zap.SugaredLogger
}

func NewMessageRouter(
	renderer ports.Renderer,
	gate *NotificationGate,
	focus ports.FocusState,
	metrics ports.Metrics,
	previewLength int,
	attachIcon string,
	logger *zap.SugaredLogger,
) *MessageRouter {
	return &MessageRouter{
		renderer:      renderer,
		gate:          gate,
		focus:         focus,
		metrics:       metrics,
		previewLength: previewLength,
		attachIcon:    attachIcon,
		logger:        logger,
	}
}

func (m *MessageRouter) Route(p *domain.Payload) {
	var title, body string
	var opts ports.NotifyOptions
	sender := p.Sender

	switch p.Kind {
	case domain.KindFile:
		m.renderer.AppendLine(fmt.Sprintf("%s shared a file: %s", sender, p.Filename), ports.LineRemote)
		m.renderer.ShowFile(p.Filename, p.Data, ports.LineRemote)
		title, body = "New file from "+sender, p.Filename
		opts.Icon = m.attachIcon
	case domain.KindImage:
		m.renderer.AppendLine(sender+" shared a photo", ports.LineRemote)
		m.renderer.ShowImage(p.Filename, p.Data, ports.LineRemote)
		title, body = "New photo from "+sender, "Tap to view"
		opts.Icon = m.attachIcon
	case domain.KindLocation:
		m.renderer.AppendLine(sender+" shared their location", ports.LineRemote)
		if p.Location != nil {
			m.renderer.ShowLocation(*p.Location, ports.LineRemote)
		}
		title, body = "New location from "+sender, "Tap to view"
	case domain.KindText:
		kind := ports.LineRemote
		if sender == domain.SystemSender {
			kind = ports.LineRemoteSystem
		}
		m.renderer.AppendLine(sender+": "+p.Body, kind)
		title, body = "New message from "+sender, utils.Preview(p.Body, m.previewLength)
	default:
		m.logger.Warnw("Dropping payload of unknown kind", "kind", p.Kind, "sender", sender)
		return
	}

	m.metrics.PayloadRouted(p.Kind, "inbound", len(p.Data)+len(p.Body))
	if sender == domain.SystemSender || m.focus.HasFocus() {
		return
	}
	m.gate.Notify(title, body, opts)
}
