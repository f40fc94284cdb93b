package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"
	apperrors "peerlink/pkg/errors"

	"go.uber.org/zap"
)

// ShareService is the send side of the chat: text, files, photos and location.
type ShareService struct {
	sessions        *SessionManager
	geolocator      ports.Geolocator
	renderer        ports.Renderer
	locationTimeout time.Duration
	logger          *zap.SugaredLogger
}

func NewShareService(
	sessions *SessionManager,
	geolocator ports.Geolocator,
	renderer ports.Renderer,
	locationTimeout time.Duration,
	logger *zap.SugaredLogger,
) *ShareService {
	return &ShareService{
		sessions:        sessions,
		geolocator:      geolocator,
		renderer:        renderer,
		locationTimeout: locationTimeout,
		logger:          logger,
	}
}

func (s *ShareService) displayName() string {
	if id := s.sessions.Identity(); id != nil {
		return id.DisplayName
	}
	return ""
}

// SendText sends a chat line and echoes it locally. Blank text is ignored.
func (s *ShareService) SendText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	name := s.displayName()
	if err := s.sessions.Send(domain.NewTextPayload(name, text)); err != nil {
		return err
	}
	s.renderer.AppendLine(name+": "+text, ports.LineLocal)
	return nil
}

// CheckSize rejects an attachment of the given kind and size before it is
// read or sent.
func (s *ShareService) CheckSize(kind domain.PayloadKind, size int64) error {
	switch kind {
	case domain.KindFile:
		if size > domain.MaxFileSize {
			return reject(s.renderer, domain.ErrPayloadTooLarge, "File is too large (max 10MB)")
		}
	case domain.KindImage:
		if size > domain.MaxImageSize {
			return reject(s.renderer, domain.ErrPayloadTooLarge, "Image is too large (max 5MB)")
		}
	}
	return nil
}

// ShareFile sends a file attachment of at most domain.MaxFileSize bytes.
func (s *ShareService) ShareFile(filename string, data []byte) error {
	if err := s.CheckSize(domain.KindFile, int64(len(data))); err != nil {
		return err
	}
	if err := s.sessions.Send(domain.NewFilePayload(s.displayName(), filename, data)); err != nil {
		return err
	}
	s.renderer.AppendLine("You shared a file: "+filename, ports.LineLocal)
	s.renderer.ShowFile(filename, data, ports.LineLocal)
	return nil
}

// SharePhoto sends an image of at most domain.MaxImageSize bytes.
func (s *ShareService) SharePhoto(filename string, data []byte) error {
	if err := s.CheckSize(domain.KindImage, int64(len(data))); err != nil {
		return err
	}
	if err := s.sessions.Send(domain.NewImagePayload(s.displayName(), filename, data)); err != nil {
		return err
	}
	s.renderer.AppendLine("You shared a photo", ports.LineLocal)
	s.renderer.ShowImage(filename, data, ports.LineLocal)
	return nil
}

// Locate resolves the current position, retrying once in standard accuracy
// after a high accuracy failure. It may block and does not touch session state.
func (s *ShareService) Locate(ctx context.Context) (ports.Position, error) {
	opts := ports.PositionOptions{HighAccuracy: true, Timeout: s.locationTimeout}
	pos, err := s.geolocator.CurrentPosition(ctx, opts)
	if err == nil {
		return pos, nil
	}
	s.logger.Debugw("High accuracy position failed, retrying", "error", err)

	opts.HighAccuracy = false
	return s.geolocator.CurrentPosition(ctx, opts)
}

// ShareLocation sends a resolved position, or reports the lookup error.
func (s *ShareService) ShareLocation(pos ports.Position, lookupErr error) error {
	if lookupErr != nil {
		msg := lookupErr.Error()
		var posErr *domain.PositionError
		if errors.As(lookupErr, &posErr) {
			msg = posErr.Message
		}
		systemLine(s.renderer, "Location error: %s", msg)
		return apperrors.NewSetupError(lookupErr, fmt.Sprintf("Location error: %s", msg))
	}

	loc := domain.Location{Lat: pos.Lat, Lng: pos.Lng, Accuracy: pos.Accuracy}
	if err := s.sessions.Send(domain.NewLocationPayload(s.displayName(), loc)); err != nil {
		return err
	}
	s.renderer.AppendLine("You shared your location", ports.LineLocal)
	s.renderer.ShowLocation(loc, ports.LineLocal)
	return nil
}
