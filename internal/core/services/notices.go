package services

import (
	"fmt"

	"peerlink/internal/core/ports"
	apperrors "peerlink/pkg/errors"
)

func systemLine(r ports.Renderer, format string, args ...interface{}) {
	r.AppendLine(fmt.Sprintf(format, args...), ports.LineSystem)
}

// reject shows msg to the user and returns it as a policy error wrapping cause.
func reject(r ports.Renderer, cause error, msg string) error {
	r.AppendLine(msg, ports.LineSystem)
	return apperrors.NewPolicyError(cause, msg)
}
