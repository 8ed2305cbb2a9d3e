// Package capture is the live capture source. It opens a network device in
// promiscuous mode with a BPF filter selecting the game's TCP port and
// hands upward link-layer frames exactly as received, without mutating or
// coalescing them. Built on dreadl0ck/gopacket for packet decoding, with
// the live-device binding coming from gopacket/pcap.
package capture

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dreadl0ck/gopacket"
	"github.com/dreadl0ck/gopacket/pcap"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Sentinel errors — capture errors are fatal-session and never propagate
// as per-frame errors.
var (
	ErrCaptureUnavailable = errors.New("capture: driver unavailable")
	ErrPermissionDenied   = errors.New("capture: permission denied")
	ErrInterfaceClosed    = errors.New("capture: interface closed")
)

// Frame is one captured link-layer frame with its capture timestamp. The
// layer never mutates Data after handing it upward.
type Frame struct {
	Timestamp time.Time
	Data      []byte
}

// Source produces a lazy finite sequence of frames until Close is called
// or the context is cancelled. Implementations must never copy-coalesce
// or mutate frame bytes.
type Source interface {
	Frames(ctx context.Context) (<-chan Frame, error)
	Close() error
}

const (
	snapLen    = 65536
	promiscOn  = true
	readTimout = time.Millisecond * 500
)

// LiveSource reads raw frames from a live network interface using a BPF
// filter equivalent to "tcp port <P>".
type LiveSource struct {
	iface string
	port  int
	log   *zap.Logger

	handle *pcap.Handle
}

// NewLiveSource returns a source for iface. The device is not opened
// (in promiscuous mode) until Frames is called, deferring initialization
// until the pipeline actually starts.
func NewLiveSource(iface string, port int, log *zap.Logger) *LiveSource {
	return &LiveSource{iface: iface, port: port, log: log}
}

// Frames opens the device and starts delivering frames on the returned
// channel. The channel is closed when ctx is cancelled or the device
// disappears.
func (s *LiveSource) Frames(ctx context.Context) (<-chan Frame, error) {
	handle, err := pcap.OpenLive(s.iface, snapLen, promiscOn, readTimout)
	if err != nil {
		return nil, classifyOpenError(err)
	}

	filter := fmt.Sprintf("tcp port %d", s.port)
	if err = handle.SetBPFFilter(filter); err != nil {
		handle.Close()

		return nil, errors.Wrap(err, "capture: failed to compile BPF filter")
	}

	s.handle = handle

	out := make(chan Frame, 1024)

	go func() {
		defer close(out)
		defer handle.Close()

		src := gopacket.NewPacketSource(handle, handle.LinkType())
		packets := src.Packets()

		for {
			select {
			case <-ctx.Done():
				return
			case pkt, ok := <-packets:
				if !ok {
					s.log.Warn("capture: interface closed mid-run", zap.String("iface", s.iface))

					return
				}

				select {
				case out <- Frame{Timestamp: pkt.Metadata().Timestamp, Data: pkt.Data()}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close releases the capture handle.
func (s *LiveSource) Close() error {
	if s.handle != nil {
		s.handle.Close()
	}

	return nil
}

func classifyOpenError(err error) error {
	switch {
	case errors.Is(err, pcap.ErrNoSuchDevice):
		return errors.Wrap(ErrCaptureUnavailable, err.Error())
	case errors.Is(err, pcap.ErrNotActivated), errors.Is(err, pcap.ErrActivated):
		return errors.Wrap(ErrCaptureUnavailable, err.Error())
	default:
		// libpcap surfaces permission failures as plain strings, not a
		// typed error; match on substring the way the platform reports it.
		if isPermissionError(err) {
			return errors.Wrap(ErrPermissionDenied, err.Error())
		}

		return errors.Wrap(ErrCaptureUnavailable, err.Error())
	}
}

func isPermissionError(err error) bool {
	s := strings.ToLower(err.Error())

	return strings.Contains(s, "permission denied") || strings.Contains(s, "operation not permitted") || strings.Contains(s, "eperm")
}
