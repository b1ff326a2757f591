package serialmux

import (
	"context"
	"net/http"
)

// DisabledSerialMux stands in for the co-processor when the robot runs on
// simulated hardware. Nothing is ever read; commands are counted and
// discarded.
type DisabledSerialMux struct {
	subs *fanout
}

func NewDisabledSerialMux() *DisabledSerialMux {
	return &DisabledSerialMux{subs: newFanout()}
}

func (d *DisabledSerialMux) Subscribe() (string, chan string) { return d.subs.add(0) }
func (d *DisabledSerialMux) Unsubscribe(id string)            { d.subs.remove(id) }
func (d *DisabledSerialMux) Initialise() error                { return nil }
func (d *DisabledSerialMux) Stats() Stats                     { return d.subs.snapshot() }

func (d *DisabledSerialMux) SendCommand(string) error {
	d.subs.countCommand()
	return nil
}

func (d *DisabledSerialMux) Monitor(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (d *DisabledSerialMux) Close() error {
	d.subs.close()
	return nil
}

func (d *DisabledSerialMux) AttachAdminRoutes(mux *http.ServeMux) {
	attachAdminRoutes(mux, d)
}
