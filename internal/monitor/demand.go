package monitor

// Demand records which listeners want the engine running
type Demand struct {
	ForegroundMonitoring bool `json:"foregroundMonitoring"`
	ForegroundRanging    bool `json:"foregroundRanging"`
	BackgroundMonitoring bool `json:"backgroundMonitoring"`
}

// Any reports whether at least one listener is present
func (d Demand) Any() bool {
	return d.ForegroundMonitoring || d.ForegroundRanging || d.BackgroundMonitoring
}

// Foreground reports whether a foreground listener is present
func (d Demand) Foreground() bool {
	return d.ForegroundMonitoring || d.ForegroundRanging
}

func (d *Demand) SetForegroundMonitoring(on bool) (changed bool) {
	changed = d.ForegroundMonitoring != on
	d.ForegroundMonitoring = on
	return changed
}

func (d *Demand) SetForegroundRanging(on bool) (changed bool) {
	changed = d.ForegroundRanging != on
	d.ForegroundRanging = on
	return changed
}

func (d *Demand) SetBackgroundMonitoring(on bool) (changed bool) {
	changed = d.BackgroundMonitoring != on
	d.BackgroundMonitoring = on
	return changed
}
