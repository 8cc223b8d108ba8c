package app

import (
	"context"
	"errors"

	"marketwatch/internal/service"
)

// SendRecap builds today's recap from the live price source and delivers it immediately.
func (a *App) SendRecap(ctx context.Context) error {
	source, err := a.newSource(ctx)
	if err != nil {
		return err
	}
	notifier, closeNotifier, err := a.newNotifier()
	if err != nil {
		return err
	}
	defer closeNotifier()

	eng, err := a.newEngine()
	if err != nil {
		return err
	}

	svc := service.New(service.Options{DeliveryTimeout: a.Config.Alerting.DeliveryTimeout}, eng, source, notifier, nil, nil, nil, nil, a.Logger)
	sent, err := svc.SendRecap(ctx)
	if err != nil {
		return err
	}
	if !sent {
		return errors.New("no asset had a usable series for today; recap not sent")
	}
	return nil
}
