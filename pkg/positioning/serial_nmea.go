package positioning

import (
	"bufio"
	"context"
	"strings"
	"time"

	"github.com/adrianmo/go-nmea"
	"github.com/tarm/serial"
)

// SerialNMEAProvider retrieves position data from a GPS device connected
// via serial port, parsing NMEA GGA sentences.
type SerialNMEAProvider struct {
	port     string // serial port to which the GPS device is connected
	baudRate int    // baud rate for the serial communication
}

// NewSerialNMEAProvider creates a new SerialNMEAProvider for the
// specified port and baud rate.
func NewSerialNMEAProvider(port string, baudRate int) *SerialNMEAProvider {
	return &SerialNMEAProvider{
		port:     port,
		baudRate: baudRate,
	}
}

// RequestPermission verifies the GPS device is reachable by opening the
// serial port once. A device that cannot be opened is treated as a
// denied permission rather than a transient failure.
func (d *SerialNMEAProvider) RequestPermission(_ context.Context) (PermissionStatus, error) {
	c := &serial.Config{Name: d.port, Baud: d.baudRate, ReadTimeout: time.Second}
	s, err := serial.OpenPort(c)
	if err != nil {
		return PermissionDenied, nil
	}
	_ = s.Close()
	return PermissionGranted, nil
}

// CurrentPosition reads NMEA sentences from the device until a GGA fix
// is parsed or the request is cancelled. Desired accuracy has no effect
// on the hardware itself; it only bounds how good a fix we accept.
func (d *SerialNMEAProvider) CurrentPosition(ctx context.Context, opts RequestOptions) (Position, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	type fix struct {
		pos Position
		err error
	}
	result := make(chan fix, 1)

	c := &serial.Config{Name: d.port, Baud: d.baudRate, ReadTimeout: time.Second}
	s, err := serial.OpenPort(c)
	if err != nil {
		return Position{}, ErrUnavailable
	}

	go func() {
		defer s.Close()
		scanner := bufio.NewScanner(s)
		for scanner.Scan() {
			if ctx.Err() != nil {
				return
			}
			line := scanner.Text()
			if !strings.HasPrefix(line, "$GPGGA") {
				continue
			}
			sentence, err := nmea.Parse(line)
			if err != nil {
				continue
			}
			gga, ok := sentence.(nmea.GGA)
			if !ok || gga.FixQuality == nmea.Invalid {
				continue
			}
			accuracy := hdopToMeters(float64(gga.HDOP))
			if !acceptableFix(accuracy, opts.DesiredAccuracy) {
				continue
			}
			result <- fix{pos: Position{
				Latitude:  gga.Latitude,
				Longitude: gga.Longitude,
				Accuracy:  accuracy,
				Timestamp: time.Now(),
			}}
			return
		}
		if err := scanner.Err(); err != nil {
			result <- fix{err: ErrUnavailable}
			return
		}
		result <- fix{err: ErrNoFix}
	}()

	select {
	case <-ctx.Done():
		return Position{}, ctx.Err()
	case r := <-result:
		return r.pos, r.err
	}
}

// WatchPosition polls the device at the given interval and forwards
// fixes that moved beyond thresholdMeters.
func (d *SerialNMEAProvider) WatchPosition(ctx context.Context, thresholdMeters float64, interval time.Duration) (<-chan Position, error) {
	return watchByPolling(ctx, thresholdMeters, interval, func(ctx context.Context) (Position, error) {
		return d.CurrentPosition(ctx, RequestOptions{DesiredAccuracy: AccuracyCoarse, Timeout: interval})
	}), nil
}

// hdopToMeters converts the horizontal dilution of precision into a
// rough error radius. Consumer GPS modules resolve ~5m per HDOP unit.
func hdopToMeters(hdop float64) float64 {
	if hdop <= 0 {
		return 0
	}
	return hdop * 5.0
}

// acceptableFix reports whether an error radius satisfies the requested
// accuracy class. Coarse accepts any fix; an unknown radius (zero) is
// always accepted.
func acceptableFix(accuracyMeters float64, class Accuracy) bool {
	var ceiling float64
	switch class {
	case AccuracyFinest:
		ceiling = 20
	case AccuracyFine:
		ceiling = 50
	default:
		return true
	}
	return accuracyMeters == 0 || accuracyMeters <= ceiling
}
