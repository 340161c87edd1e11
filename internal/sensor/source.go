package sensor

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"iot-anomaly/internal/anomaly"
	"iot-anomaly/internal/models"
)

// Reading is one sample from a Source. Injected marks samples a simulator
// deliberately made anomalous.
type Reading struct {
	models.SensorSample
	Injected bool
}

// Source produces readings until it returns io.EOF
type Source interface {
	Next() (Reading, error)
}

// Validate applies the detector's physical bounds to a sample
func Validate(s models.SensorSample) error {
	return ToSample(s).Validate()
}

// ToSample converts a stored sample into the detector's representation
func ToSample(s models.SensorSample) anomaly.Sample {
	return anomaly.Sample{Temperature: float32(s.Temperature), Humidity: float32(s.Humidity)}
}

// CSVHeader is the column layout written by WriteCSV and read by CSVSource
var CSVHeader = []string{"temp", "hum"}

// CSVSource reads temp,hum rows. Timestamps are not part of the format.
type CSVSource struct {
	r        *csv.Reader
	deviceID string
	line     int
	header   bool
}

// NewCSVSource reads temp,hum rows from r; a header row is skipped
func NewCSVSource(r io.Reader, deviceID string) *CSVSource {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	return &CSVSource{r: cr, deviceID: deviceID}
}

// Next returns the next row, or io.EOF after the last one
func (c *CSVSource) Next() (Reading, error) {
	for {
		record, err := c.r.Read()
		if err != nil {
			return Reading{}, err
		}
		c.line++

		if len(record) < 2 {
			return Reading{}, fmt.Errorf("line %d: want 2 columns, got %d", c.line, len(record))
		}

		if !c.header && c.line == 1 && strings.EqualFold(strings.TrimSpace(record[0]), CSVHeader[0]) {
			c.header = true
			continue
		}

		temp, err := strconv.ParseFloat(strings.TrimSpace(record[0]), 64)
		if err != nil {
			return Reading{}, fmt.Errorf("line %d: bad temperature: %w", c.line, err)
		}
		hum, err := strconv.ParseFloat(strings.TrimSpace(record[1]), 64)
		if err != nil {
			return Reading{}, fmt.Errorf("line %d: bad humidity: %w", c.line, err)
		}

		return Reading{SensorSample: models.SensorSample{
			DeviceID:    c.deviceID,
			Temperature: temp,
			Humidity:    hum,
		}}, nil
	}
}

// WriteCSV writes up to n readings from src (all of them when n <= 0)
func WriteCSV(w io.Writer, src Source, n int) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return 0, fmt.Errorf("failed to write header: %w", err)
	}

	written := 0
	for n <= 0 || written < n {
		r, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return written, err
		}

		row := []string{
			strconv.FormatFloat(r.Temperature, 'f', 6, 64),
			strconv.FormatFloat(r.Humidity, 'f', 6, 64),
		}
		if err := cw.Write(row); err != nil {
			return written, fmt.Errorf("failed to write row: %w", err)
		}
		written++
	}

	cw.Flush()
	return written, cw.Error()
}

// Collect drains src into detector samples. Readings outside the physical
// bounds are dropped and counted.
func Collect(src Source) (samples []anomaly.Sample, dropped int, err error) {
	for {
		r, err := src.Next()
		if errors.Is(err, io.EOF) {
			return samples, dropped, nil
		}
		if err != nil {
			return nil, dropped, err
		}

		s := ToSample(r.SensorSample)
		if s.Validate() != nil {
			dropped++
			continue
		}
		samples = append(samples, s)
	}
}

// SliceSource replays stored samples
type SliceSource struct {
	samples []models.SensorSample
	i       int
}

// NewSliceSource replays samples in order
func NewSliceSource(samples []models.SensorSample) *SliceSource {
	return &SliceSource{samples: samples}
}

// Next returns the next sample, or io.EOF when all were returned
func (s *SliceSource) Next() (Reading, error) {
	if s.i >= len(s.samples) {
		return Reading{}, io.EOF
	}
	r := Reading{SensorSample: s.samples[s.i]}
	s.i++
	return r, nil
}
