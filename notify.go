package convosync

import (
	"context"

	"go.uber.org/zap"
)

// NopNotifier stands in when the platform has no notification capability.
type NopNotifier struct{}

func (NopNotifier) RequestPermission(context.Context) error { return ErrPermissionDenied }

func (NopNotifier) Show(context.Context, string, string) error { return ErrPermissionDenied }

// LogNotifier writes notifications to a zap logger.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) RequestPermission(context.Context) error {
	if n.Logger == nil {
		return ErrPermissionDenied
	}
	return nil
}

func (n LogNotifier) Show(_ context.Context, title, body string) error {
	if n.Logger == nil {
		return ErrPermissionDenied
	}
	n.Logger.Info("notification", zap.String("title", title), zap.String("body", body))
	return nil
}
