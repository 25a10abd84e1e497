package worker

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/petrijr/disturb/internal/broker"
)

type handleFunc func(ctx context.Context, data []byte) error

// consume subscribes to topicName and hands every delivery to handle until
// ctx is done. Deliveries are acked once handled, whether handling failed or
// not. It returns nil on cancellation.
func consume(ctx context.Context, o *options, b broker.Broker, topicName string, handle handleFunc) (err error) {
	logger := o.logger.With(slog.String("topic", topicName), slog.String("worker", o.code))

	if o.monitor != nil {
		if merr := o.monitor.WorkerStarted(ctx, o.code, os.Getpid()); merr != nil {
			logger.WarnContext(ctx, "monitoring: worker started not recorded", slog.Any("error", merr))
		}
		hbCtx, stopBeat := context.WithCancel(ctx)
		go o.monitor.Heartbeat(hbCtx, o.code, o.heartbeat)
		defer func() {
			stopBeat()
			exitCode := 0
			if err != nil {
				exitCode = 1
			}
			// The loop context is usually cancelled by now.
			if merr := o.monitor.WorkerExited(context.WithoutCancel(ctx), o.code, exitCode); merr != nil {
				logger.WarnContext(ctx, "monitoring: worker exit not recorded", slog.Any("error", merr))
			}
		}()
	}

	sub, err := b.Subscribe(ctx, topicName)
	if err != nil {
		return err
	}
	defer sub.Close()

	logger.InfoContext(ctx, "listening")
	for {
		d, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.InfoContext(ctx, "stopping")
				return nil
			}
			if errors.Is(err, broker.ErrClosed) {
				return nil
			}
			return err
		}

		if herr := handle(ctx, d.Data()); herr != nil {
			logger.ErrorContext(ctx, "message handling failed", slog.Any("error", herr))
		}
		if aerr := d.Ack(ctx); aerr != nil && ctx.Err() == nil {
			logger.WarnContext(ctx, "ack failed", slog.Any("error", aerr))
		}
	}
}
