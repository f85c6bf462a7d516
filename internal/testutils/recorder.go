package testutils

import (
	"sync"

	"github.com/srg/beaconmon/internal/beacon"
)

// Recorder is a monitor subscriber that keeps everything it receives
type Recorder struct {
	mu         sync.Mutex
	monitoring []beacon.MonitoringEvent
	ranging    []beacon.RangingResult
}

func (r *Recorder) OnMonitoring(e beacon.MonitoringEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.monitoring = append(r.monitoring, e)
}

func (r *Recorder) OnRanging(res beacon.RangingResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ranging = append(r.ranging, res)
}

func (r *Recorder) Monitoring() []beacon.MonitoringEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]beacon.MonitoringEvent(nil), r.monitoring...)
}

func (r *Recorder) Ranging() []beacon.RangingResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]beacon.RangingResult(nil), r.ranging...)
}
