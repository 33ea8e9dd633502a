package main

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/guptarohit/asciigraph"

	"github.com/signalsfoundry/sensor-simulator/internal/bus"
	"github.com/signalsfoundry/sensor-simulator/sensor"
)

const plotSubscriber = "cli-plot"

// series records one value of one sensor's readings over a run.
type series struct {
	sensor string
	key    string

	ch     chan sensor.Reading
	done   chan struct{}
	values []float64
}

// parseSeries accepts "sensor.value"; the sensor name may itself contain dots.
func parseSeries(s string) (*series, error) {
	i := strings.LastIndex(s, ".")
	if i <= 0 || i == len(s)-1 {
		return nil, fmt.Errorf("plot %q: want <sensor>.<value>", s)
	}
	return &series{sensor: s[:i], key: s[i+1:]}, nil
}

func (s *series) attach(b *bus.Bus) error {
	s.ch = make(chan sensor.Reading, 1024)
	s.done = make(chan struct{})
	if err := b.Subscribe(plotSubscriber, s.ch, bus.SensorFilter(s.sensor)); err != nil {
		return fmt.Errorf("subscribe plot: %w", err)
	}
	go func() {
		defer close(s.done)
		for r := range s.ch {
			v, ok := r.Values[s.key]
			if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			s.values = append(s.values, v)
		}
	}()
	return nil
}

// detach stops recording. Once Unsubscribe holds the bus lock no publisher
// can still be sending on ch.
func (s *series) detach(b *bus.Bus) {
	_ = b.Unsubscribe(plotSubscriber)
	close(s.ch)
	<-s.done
}

func (s *series) render(w io.Writer) {
	caption := s.sensor + "." + s.key
	if len(s.values) == 0 {
		fmt.Fprintf(w, "%s: no samples\n", caption)
		return
	}
	opts := []asciigraph.Option{asciigraph.Height(10), asciigraph.Caption(caption)}
	if len(s.values) > 1 {
		opts = append(opts, asciigraph.Width(72))
	}
	fmt.Fprintln(w, asciigraph.Plot(s.values, opts...))
}
