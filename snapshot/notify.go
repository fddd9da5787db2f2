package snapshot

import (
	"context"
	"slices"
	"time"

	"pipesnap/internal/notify"
	"pipesnap/internal/psnap"
	"pipesnap/internal/state"
)

const defaultPollInterval = 100 * time.Millisecond

// Event and Callback are re-exported for callers of RegisterCallback.
type (
	Event    = notify.Event
	Callback = notify.Callback
)

// RegisterCallback sets the function told about fired snapshots of a
// device. A nil callback removes it. Callbacks run without the session
// token held and may call back into the registry.
func (r *Registry) RegisterCallback(dev psnap.DevID, cb Callback) error {
	r.session.Enter()
	defer r.session.Exit()
	if _, err := r.device(dev); err != nil {
		return err
	}
	r.notify.Register(dev, cb)
	return nil
}

// HandleInterrupt services a snapshot interrupt raised by stage of a
// physical pipe.
func (r *Registry) HandleInterrupt(dev psnap.DevID, physPipe, stage int, dir psnap.Direction) error {
	deliver, err := r.interrupt(dev, physPipe, stage, dir)
	deliver()
	return err
}

func (r *Registry) interrupt(dev psnap.DevID, physPipe, stage int, dir psnap.Direction) (func(), error) {
	r.session.Enter()
	defer r.session.Exit()
	d, err := r.device(dev)
	if err != nil {
		return func() {}, err
	}
	ev, err := r.notify.Interrupt(d, physPipe, stage, dir)
	if err != nil || ev == nil {
		return func() {}, err
	}
	return r.notify.Bind(dev, []notify.Event{*ev}), nil
}

// Poll checks every snapshot of a polled device and reports the ones that
// fired since the last poll. It returns the number of events delivered.
func (r *Registry) Poll(dev psnap.DevID) (int, error) {
	deliver, n, err := r.poll(dev)
	deliver()
	return n, err
}

func (r *Registry) poll(dev psnap.DevID) (func(), int, error) {
	r.session.Enter()
	defer r.session.Exit()
	d, err := r.device(dev)
	if err != nil {
		return func() {}, 0, err
	}
	events, err := r.notify.Poll(d)
	return r.notify.Bind(dev, events), len(events), err
}

// polled lists the devices in poll mode.
func (r *Registry) polled() []psnap.DevID {
	r.session.Enter()
	defer r.session.Exit()
	var out []psnap.DevID
	for dev, d := range r.devices {
		if d.Notify == state.NotifyPoll {
			out = append(out, dev)
		}
	}
	slices.Sort(out)
	return out
}

// RunPoller polls every device in poll mode each interval until ctx is
// done. Poll errors are logged and polling continues.
func (r *Registry) RunPoller(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, dev := range r.polled() {
				if _, err := r.Poll(dev); err != nil {
					r.log.Error(err)
				}
			}
		}
	}
}
