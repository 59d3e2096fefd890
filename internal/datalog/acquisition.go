// Package datalog implements the datalogging poller (component C11): the
// configure/arm/poll/chunk-download/validate state machine, plus
// deinterleaving the raw acquisition bytes into per-signal series.
package datalog

import (
	"fmt"
	"time"

	"github.com/scrutinydebugger/scrutiny-core/internal/datastore"
	"github.com/scrutinydebugger/scrutiny-core/internal/protocol"
)

// Series is one signal's decoded values across every sampled point.
type Series struct {
	Name   string
	Values []float64
}

// AxisDefinition names a Y-axis shared by one or more series (§3).
type AxisDefinition struct {
	Name string
	ID   uint16
}

// YSeries pairs a decoded signal with the axis it is plotted against.
type YSeries struct {
	Series Series
	Axis   AxisDefinition
}

// Acquisition is a completed, CRC-verified datalogging run handed to the
// caller's completion callback (§4.11 "Completion"), modeled on the
// DataloggingAcquisition entity (§3): one shared X-axis series, one or
// more Y-axis series each tagged with the axis they share, and an
// optional index of the sample the trigger fired on.
type Acquisition struct {
	AcquisitionID uint16
	ConfigID      uint16
	ReferenceID   string
	FirmwareID    string
	Name          string
	CapturedAt    time.Time
	TriggerIndex  *int

	XData Series
	YData []YSeries
}

// XAxisName is a convenience accessor for the X-axis series' name, kept
// for callers that only care about the label (e.g. a chart's X legend).
func (a *Acquisition) XAxisName() string { return a.XData.Name }

// Deinterleave splits the raw, concatenated acquisition bytes into one
// Series per configured signal plus the shared X-axis series, enforcing
// the two modeling invariants from §3: every Y-series has exactly as
// many points as the X-axis series, and an axis id never maps to two
// distinct axis names. Samples are laid out point-major: every point
// contributes one value per signal, in configuration order, each sized
// by that signal's data type (§9 "Sum-typed watchables").
func Deinterleave(data []byte, cfg *protocol.AcquisitionConfig, meta *protocol.AcquisitionMetadata, loopFreqHz float64) (*Acquisition, error) {
	stride := 0
	for _, s := range cfg.Signals {
		stride += s.DataType.Size()
	}
	if stride == 0 {
		return nil, fmt.Errorf("datalog: configuration has no signals to deinterleave")
	}
	if len(data)%stride != 0 {
		return nil, fmt.Errorf("datalog: acquisition data length %d is not a multiple of sample stride %d", len(data), stride)
	}
	points := len(data) / stride

	axisNames := make(map[uint16]string, len(cfg.Signals))
	for _, s := range cfg.Signals {
		if existing, ok := axisNames[s.AxisID]; ok && existing != s.AxisName {
			return nil, fmt.Errorf("datalog: axis id %d maps to both %q and %q", s.AxisID, existing, s.AxisName)
		}
		axisNames[s.AxisID] = s.AxisName
	}

	ySeries := make([]YSeries, len(cfg.Signals))
	for i, s := range cfg.Signals {
		ySeries[i] = YSeries{
			Series: Series{Name: s.Name, Values: make([]float64, 0, points)},
			Axis:   AxisDefinition{Name: s.AxisName, ID: s.AxisID},
		}
	}

	offset := 0
	for p := 0; p < points; p++ {
		for i, s := range cfg.Signals {
			size := s.DataType.Size()
			raw := data[offset : offset+size]
			v := datastore.Var{DataType: s.DataType}
			value, _, err := datastore.DecodeVarValue(&v, raw, datastore.EndianBig)
			if err != nil {
				return nil, err
			}
			ySeries[i].Series.Values = append(ySeries[i].Series.Values, value)
			offset += size
		}
	}

	xData := buildXAxis(cfg, points, loopFreqHz)
	for _, y := range ySeries {
		if len(y.Series.Values) != len(xData.Values) {
			return nil, fmt.Errorf("datalog: series %q has %d points, expected %d to match the X-axis", y.Series.Name, len(y.Series.Values), len(xData.Values))
		}
	}

	acq := &Acquisition{
		AcquisitionID: meta.AcquisitionID,
		ConfigID:      meta.ConfigID,
		XData:         xData,
		YData:         ySeries,
	}
	acq.TriggerIndex = triggerIndex(meta, points)
	return acq, nil
}

// buildXAxis derives the elapsed-time X-axis series from the configured
// decimation and the owning loop's sampling frequency: each point's
// value is its elapsed time, in seconds, since the first sample (§8
// scenario 5, "x-axis measured_time with all-positive differences").
// When the loop's frequency is unknown the axis degrades to a plain
// sample index, still monotonic and still satisfying that invariant.
func buildXAxis(cfg *protocol.AcquisitionConfig, points int, loopFreqHz float64) Series {
	name := cfg.XAxisName
	if name == "" {
		name = "measured_time"
	}
	values := make([]float64, points)
	step := 1.0
	if loopFreqHz > 0 {
		decimation := float64(cfg.Decimation)
		if decimation < 1 {
			decimation = 1
		}
		step = decimation / loopFreqHz
	}
	for i := range values {
		values[i] = float64(i) * step
	}
	return Series{Name: name, Values: values}
}

// triggerIndex reports the sample index the trigger fired on, computed
// from the number of points captured after the trigger (§3
// "trigger_index"). It returns nil when the device reported no points
// at all, mirroring the original's Optional[int] "no trigger yet" case.
func triggerIndex(meta *protocol.AcquisitionMetadata, points int) *int {
	if points == 0 {
		return nil
	}
	idx := int(meta.NumberOfPoints) - int(meta.PointsAfterTrigger)
	if idx < 0 {
		idx = 0
	}
	if idx >= points {
		idx = points - 1
	}
	return &idx
}
