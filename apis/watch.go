package apis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/thiefmaster/eventsource"
	"go.uber.org/zap"

	"github.com/thiefmaster/carcontroller/session"
)

// WatchState subscribes to the state stream of a running controller and
// delivers each distinct snapshot. The channel is closed once ctx is done.
func WatchState(ctx context.Context, credentials HTTPCredentials, logger *zap.SugaredLogger) (<-chan session.Snapshot, error) {
	req, err := newRequest("GET", "/events", nil, credentials)
	if err != nil {
		return nil, errors.Wrap(err, "newRequest failed")
	}
	req = req.WithContext(ctx)

	stream, err := eventsource.SubscribeWithRequest("", req)
	if err != nil {
		return nil, errors.Wrap(err, "subscribe failed")
	}
	stream.InitialRetryDelay = 500 * time.Millisecond
	stream.MaxRetryDelay = 5 * time.Second

	eventChan := make(chan session.Snapshot)
	go func() {
		defer close(eventChan)
		defer stream.Close()
		var lastState session.Snapshot
		initialStateSent := false
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-stream.Events:
				if !ok {
					return
				}
				var newState session.Snapshot
				if err := json.Unmarshal([]byte(event.Data()), &newState); err != nil {
					logger.Warnf("could not unmarshal state event: %v", err)
					continue
				}
				if newState == lastState && initialStateSent {
					continue
				}
				select {
				case eventChan <- newState:
				case <-ctx.Done():
					return
				}
				lastState = newState
				initialStateSent = true
			case err := <-stream.Errors:
				logger.Warnf("state stream error: %v", err)
			}
		}
	}()
	return eventChan, nil
}
