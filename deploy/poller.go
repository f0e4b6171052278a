// Copyright 2021 Northern.tech AS
//
//    Licensed under the Apache License, Version 2.0 (the "License");
//    you may not use this file except in compliance with the License.
//    You may obtain a copy of the License at
//
//        http://www.apache.org/licenses/LICENSE-2.0
//
//    Unless required by applicable law or agreed to in writing, software
//    distributed under the License is distributed on an "AS IS" BASIS,
//    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//    See the License for the specific language governing permissions and
//    limitations under the License.

package deploy

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	restartWaitAttempts = 10
	restartWaitInterval = 30 * time.Second
)

// Clock is the source of delays used while waiting for a restart.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// Probe reports whether the restarted service is available again.
type Probe func(ctx context.Context) bool

// Poller waits a fixed number of intervals for a service restart.
type Poller struct {
	Attempts int
	Interval time.Duration
	Clock    Clock
	// Probe is optional; without it the wait is a pure delay that always
	// runs to the end of its budget.
	Probe Probe
}

// NewPoller returns a poller with the fixed restart schedule.
func NewPoller(clock Clock, probe Probe) *Poller {
	if clock == nil {
		clock = realClock{}
	}
	return &Poller{
		Attempts: restartWaitAttempts,
		Interval: restartWaitInterval,
		Clock:    clock,
		Probe:    probe,
	}
}

// Wait returns true as soon as the probe succeeds, false once every
// attempt has elapsed, and ctx.Err() if ctx is done first.
func (p *Poller) Wait(ctx context.Context) (bool, error) {
	for i := 0; i < p.Attempts; i++ {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-p.Clock.After(p.Interval):
		}
		log.Debugf("restart wait %d/%d", i+1, p.Attempts)
		if p.Probe != nil && p.Probe(ctx) {
			return true, nil
		}
	}
	return false, nil
}
