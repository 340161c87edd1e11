package sensor

import (
	"io"
	"math"
	"math/rand"
	"time"

	"iot-anomaly/internal/models"
)

// SimulatorConfig describes the synthetic signal: a slow sinusoidal drift
// with gaussian noise, plus occasional step anomalies
type SimulatorConfig struct {
	DeviceID string
	Start    time.Time
	Interval time.Duration

	// Samples per drift cycle
	Period int
	// Stop after this many samples, 0 for endless
	Limit int

	TempBase, TempAmplitude, TempNoise float64
	HumBase, HumAmplitude, HumNoise    float64
	TempDrift, HumDrift                float64

	AnomalyRate float64
	Seed        int64
}

// DefaultSimulatorConfig matches the data the embedded model was trained on
func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		DeviceID:      "sim-01",
		Start:         time.Now(),
		Interval:      5 * time.Second,
		Period:        6000,
		TempBase:      29,
		TempAmplitude: 5,
		TempNoise:     0.3,
		TempDrift:     1 / (2 * math.Pi),
		HumBase:       50,
		HumAmplitude:  10,
		HumNoise:      1,
		HumDrift:      0.8,
		AnomalyRate:   0.03,
		Seed:          1,
	}
}

type step struct {
	delta float64
	p     float64
}

var (
	tempSteps = []step{{5, 0.2}, {-7, 0.1}, {0, 0.7}}
	humSteps  = []step{{20, 0.1}, {-30, 0.05}, {0, 0.85}}
)

// Simulator is a deterministic Source for a given seed
type Simulator struct {
	cfg SimulatorConfig
	rng *rand.Rand
	i   int
}

// NewSimulator creates a simulator; a zero Period falls back to 6000 samples
func NewSimulator(cfg SimulatorConfig) *Simulator {
	if cfg.Period <= 0 {
		cfg.Period = 6000
	}
	return &Simulator{cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed))}
}

// Next returns the next reading, or io.EOF once Limit readings were produced
func (s *Simulator) Next() (Reading, error) {
	if s.cfg.Limit > 0 && s.i >= s.cfg.Limit {
		return Reading{}, io.EOF
	}

	var r Reading
	if s.cfg.AnomalyRate > 0 && s.rng.Float64() < s.cfg.AnomalyRate {
		r = s.anomalous()
	} else {
		r = s.normal()
	}

	r.DeviceID = s.cfg.DeviceID
	r.Timestamp = s.cfg.Start.Add(time.Duration(s.i) * s.cfg.Interval)
	r.Humidity = math.Max(0, math.Min(100, r.Humidity))
	s.i++
	return r, nil
}

func (s *Simulator) normal() Reading {
	x := 2 * math.Pi * float64(s.i%s.cfg.Period) / float64(s.cfg.Period)
	return Reading{SensorSample: models.SensorSample{
		Temperature: s.cfg.TempBase + s.cfg.TempAmplitude*math.Sin(x*s.cfg.TempDrift) + s.rng.NormFloat64()*s.cfg.TempNoise,
		Humidity:    s.cfg.HumBase + s.cfg.HumAmplitude*math.Sin(x*s.cfg.HumDrift) + s.rng.NormFloat64()*s.cfg.HumNoise,
	}}
}

// anomalous draws a reading around the base values with a random step;
// a zero step still counts as injected
func (s *Simulator) anomalous() Reading {
	return Reading{
		SensorSample: models.SensorSample{
			Temperature: s.cfg.TempBase + s.rng.NormFloat64()*0.5 + s.pick(tempSteps),
			Humidity:    s.cfg.HumBase + s.rng.NormFloat64()*1.5 + s.pick(humSteps),
		},
		Injected: true,
	}
}

func (s *Simulator) pick(steps []step) float64 {
	u := s.rng.Float64()
	for _, st := range steps {
		if u < st.p {
			return st.delta
		}
		u -= st.p
	}
	return steps[len(steps)-1].delta
}
