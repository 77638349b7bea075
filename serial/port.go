package serial

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/CK6170/Vitals-go/models"
	"github.com/tarm/serial"
)

// OpenFunc opens the physical link described by cfg.
type OpenFunc func(cfg *models.SERIAL) (io.ReadWriteCloser, error)

// readTimeout is the longest a single Read blocks. Session.Close is noticed
// by the read loop within this interval.
const readTimeout = 300 * time.Millisecond

// OpenPort opens cfg.PORT with 8N1 framing and a short read timeout.
func OpenPort(cfg *models.SERIAL) (io.ReadWriteCloser, error) {
	p, err := serial.OpenPort(&serial.Config{
		Name:        cfg.PORT,
		Baud:        cfg.BAUDRATE,
		Parity:      serial.ParityNone,
		Size:        8,
		StopBits:    serial.Stop1,
		ReadTimeout: readTimeout,
	})
	if err != nil {
		return nil, err
	}
	return pollingPort{p}, nil
}

// pollingPort reports a timed-out read as (0, nil). On Linux tarm surfaces
// the timeout as io.EOF; an unplugged device fails with an I/O error instead.
type pollingPort struct {
	io.ReadWriteCloser
}

func (p pollingPort) Read(b []byte) (int, error) {
	n, err := p.ReadWriteCloser.Read(b)
	if n == 0 && errors.Is(err, io.EOF) {
		return 0, nil
	}
	return n, err
}

// AutoDetectPort picks the port to open: the configured one when set,
// otherwise the first enumerated candidate.
func AutoDetectPort(preferred string, list func() []PortInfo) string {
	p, _ := AutoDetectPortTrace(preferred, list)
	return p
}

// AutoDetectPortTrace is the same as AutoDetectPort, but also returns a trace
// of what was considered. The server surfaces this trace in the web UI.
func AutoDetectPortTrace(preferred string, list func() []PortInfo) (string, []string) {
	trace := make([]string, 0, 4)
	preferred = strings.TrimSpace(preferred)
	if preferred != "" {
		trace = append(trace, fmt.Sprintf("[serial] AutoDetectPort: using configured port %q", preferred))
		return preferred, trace
	}
	if list == nil {
		list = ListPorts
	}
	ports := list()
	if len(ports) == 0 {
		trace = append(trace, "[serial] AutoDetectPort: no serial ports enumerated")
		return "", trace
	}
	names := make([]string, 0, len(ports))
	for _, p := range ports {
		names = append(names, p.Name)
	}
	trace = append(trace, fmt.Sprintf("[serial] AutoDetectPort: enumerated %d ports: %v", len(ports), names))
	chosen := ports[0]
	if chosen.USB {
		trace = append(trace, fmt.Sprintf("[serial] AutoDetectPort: picked USB device %s (vid=%s pid=%s %s)", chosen.Name, chosen.VID, chosen.PID, chosen.Product))
	} else {
		trace = append(trace, fmt.Sprintf("[serial] AutoDetectPort: no USB device, picked %s", chosen.Name))
	}
	return chosen.Name, trace
}
