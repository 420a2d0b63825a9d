package indicator

import (
	"fmt"

	"cryptotrader/internal/model"
)

// VolumeRatio compares each candle's volume against the mean volume of the
// preceding period candles. 2.0 means twice the recent average.
// A zero baseline yields 0.
type VolumeRatio struct {
	period  int
	avg     *SMA
	current float64
}

// NewVolumeRatio creates a volume ratio indicator over period prior candles.
func NewVolumeRatio(period int) *VolumeRatio {
	return &VolumeRatio{period: period, avg: NewSMA(period)}
}

func (v *VolumeRatio) Name() string { return TypeVolumeRatio }

func (v *VolumeRatio) Update(candle model.Candle) {
	if v.avg.Ready() {
		v.current = ratio(candle.Volume, v.avg.Value())
	}
	v.avg.add(candle.Volume)
}

func ratio(vol, base float64) float64 {
	if base == 0 {
		return 0
	}
	return vol / base
}

func (v *VolumeRatio) Value() float64 { return v.current }

// Ready is true once a full baseline preceded the latest candle.
func (v *VolumeRatio) Ready() bool { return v.avg.win.count > v.period }

// Peek returns the ratio for candle against the current baseline.
func (v *VolumeRatio) Peek(candle model.Candle) float64 {
	if !v.avg.Ready() {
		return 0
	}
	return ratio(candle.Volume, v.avg.Value())
}

// Snapshot serializes the ratio state for checkpoint persistence.
func (v *VolumeRatio) Snapshot() IndicatorSnapshot {
	return IndicatorSnapshot{
		Type:     TypeVolumeRatio,
		Period:   v.period,
		Current:  v.current,
		Children: map[string]IndicatorSnapshot{"avg": v.avg.Snapshot()},
	}
}

// RestoreFromSnapshot restores ratio state from a checkpoint.
func (v *VolumeRatio) RestoreFromSnapshot(snap IndicatorSnapshot) error {
	if snap.Type != TypeVolumeRatio {
		return fmt.Errorf("restore VOLRATIO from %q snapshot", snap.Type)
	}
	if err := checkShape(snap, v.period); err != nil {
		return err
	}
	avg, ok := snap.Children["avg"]
	if !ok {
		return fmt.Errorf("restore VOLRATIO: missing baseline")
	}
	if err := v.avg.RestoreFromSnapshot(avg); err != nil {
		return fmt.Errorf("restore VOLRATIO: %w", err)
	}
	v.current = snap.Current
	return nil
}
