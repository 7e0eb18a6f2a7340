// Package testutil provides shared test fixtures, chiefly synthetic CSI
// captures with a known breathing signal injected, so pipeline tests can
// assert against ground truth without real sensor hardware.
package testutil

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/breathing.report/internal/csi"
)

// CaptureSpec describes a synthetic CSI capture. Zero values take the
// defaults documented on each field, so tests only set what they assert on.
type CaptureSpec struct {
	DeviceID    string
	WidthCode   byte    // wire channel-width code; 0 is 20MHz
	Subcarriers int     // wire subcarrier count; 0 means the width's natural count
	Frames      int     // default 64
	SampleRate  float64 // frames per second, default 10
	BreathingHz float64 // amplitude modulation frequency; 0 leaves all rows flat

	BaseAmplitude float64 // resting amplitude, default 500
	ModDepth      float64 // peak amplitude deviation on modulated rows, default 100
	ModIndices    []int   // subcarrier indices to modulate; nil picks five data indices
	Noise         float64 // uniform noise amplitude on every row, default 1
	Seed          int64   // rand seed, default 1

	StartTime          time.Time // first frame capture time; default fixed epoch
	UnrelatedDatagrams int       // non-CSI datagrams interleaved into the capture
}

// Datagram is one UDP payload with its pcap record time, for tests that
// compose captures below the CaptureSpec level.
type Datagram struct {
	Time    time.Time
	Payload []byte
}

// DefaultStartTime anchors synthetic captures so test artifacts are
// reproducible byte for byte.
var DefaultStartTime = time.Unix(1700000000, 0).UTC()

func (s *CaptureSpec) applyDefaults() {
	if s.Subcarriers == 0 {
		switch s.WidthCode {
		case 2:
			s.Subcarriers = 245
		default:
			s.Subcarriers = 64
		}
	}
	if s.Frames == 0 {
		s.Frames = 64
	}
	if s.SampleRate == 0 {
		s.SampleRate = 10
	}
	if s.BaseAmplitude == 0 {
		s.BaseAmplitude = 500
	}
	if s.ModDepth == 0 {
		s.ModDepth = 100
	}
	if s.Noise == 0 {
		s.Noise = 1
	}
	if s.Seed == 0 {
		s.Seed = 1
	}
	if s.StartTime.IsZero() {
		s.StartTime = DefaultStartTime
	}
	if s.ModIndices == nil {
		switch s.WidthCode {
		case 2:
			s.ModIndices = []int{-100, -50, 5, 50, 100}
		default:
			s.ModIndices = []int{-20, -10, 1, 10, 20}
		}
	}
}

// BuildCapture renders a CaptureSpec into classic pcap bytes. Modulated
// subcarriers swing sinusoidally at BreathingHz on top of the base
// amplitude; everything else stays flat apart from seeded noise, so
// variance ranking must find exactly the modulated set.
func BuildCapture(t *testing.T, spec CaptureSpec) []byte {
	t.Helper()
	data, err := RenderCapture(spec)
	if err != nil {
		t.Fatalf("render capture: %v", err)
	}
	return data
}

// RenderCapture is BuildCapture for callers without a testing.T, such as
// the gen-capture tool.
func RenderCapture(spec CaptureSpec) ([]byte, error) {
	spec.applyDefaults()

	modPos := make(map[int]bool)
	if layout, err := csi.LayoutFor(widthName(spec.WidthCode)); err == nil {
		for _, idx := range spec.ModIndices {
			if pos, ok := layout.PositionOf(idx); ok {
				modPos[pos] = true
			}
		}
	}

	rng := rand.New(rand.NewSource(spec.Seed))
	gap := 1.0 / spec.SampleRate

	datagrams := make([]Datagram, 0, spec.Frames+spec.UnrelatedDatagrams)
	for i := 0; i < spec.Frames; i++ {
		elapsed := float64(i) * gap
		samples := make([]complex128, spec.Subcarriers)
		for pos := range samples {
			amp := spec.BaseAmplitude + spec.Noise*(2*rng.Float64()-1)
			if modPos[pos] {
				amp += spec.ModDepth * math.Sin(2*math.Pi*spec.BreathingHz*elapsed)
			}
			phase := 0.1 * float64(pos)
			samples[pos] = complex(amp*math.Cos(phase), amp*math.Sin(phase))
		}
		datagrams = append(datagrams, Datagram{
			Time:    spec.StartTime.Add(time.Duration(elapsed * float64(time.Second))),
			Payload: EncodeFrame(spec.WidthCode, uint16(i), uint64(elapsed*1e6), samples),
		})
	}

	// Sprinkle unrelated chatter between frames; the parser must skip it.
	for i := 0; i < spec.UnrelatedDatagrams; i++ {
		at := i * spec.Frames / (spec.UnrelatedDatagrams + 1)
		dg := Datagram{
			Time:    datagrams[at].Time.Add(time.Duration(gap * 0.5 * float64(time.Second))),
			Payload: []byte("mdns chatter, not a csi frame"),
		}
		datagrams = append(datagrams[:at+1], append([]Datagram{dg}, datagrams[at+1:]...)...)
	}

	return RenderPcap(datagrams)
}

func widthName(code byte) string {
	switch code {
	case 0:
		return "20MHz"
	case 1:
		return "40MHz"
	case 2:
		return "80MHz"
	}
	return ""
}

// EncodeFrame serialises one CSI frame datagram payload, quantising the
// complex samples to int16 I/Q pairs the way sensor firmware does.
func EncodeFrame(widthCode byte, seq uint16, sensorMicros uint64, samples []complex128) []byte {
	payload := make([]byte, csi.FrameHeaderSize+csi.BytesPerIQPair*len(samples))
	binary.LittleEndian.PutUint16(payload[0:2], csi.FramePreamble)
	payload[2] = csi.FrameVersion
	payload[3] = widthCode
	binary.LittleEndian.PutUint16(payload[4:6], seq)
	binary.LittleEndian.PutUint64(payload[6:14], sensorMicros)
	binary.LittleEndian.PutUint16(payload[14:16], uint16(len(samples)))

	off := csi.FrameHeaderSize
	for _, s := range samples {
		binary.LittleEndian.PutUint16(payload[off:off+2], uint16(int16(math.Round(real(s)))))
		binary.LittleEndian.PutUint16(payload[off+2:off+4], uint16(int16(math.Round(imag(s)))))
		off += csi.BytesPerIQPair
	}
	return payload
}

// Pcap wraps UDP payloads into a classic pcap capture, one Ethernet/IPv4/UDP
// packet per datagram, record times taken from each Datagram.
func Pcap(t *testing.T, datagrams []Datagram) []byte {
	t.Helper()
	data, err := RenderPcap(datagrams)
	if err != nil {
		t.Fatalf("render pcap: %v", err)
	}
	return data
}

// RenderPcap is Pcap for callers without a testing.T.
func RenderPcap(datagrams []Datagram) ([]byte, error) {
	var out bytes.Buffer
	w := pcapgo.NewWriter(&out)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("write pcap header: %w", err)
	}

	for i, dg := range datagrams {
		pkt, err := serializeUDP(dg.Payload)
		if err != nil {
			return nil, fmt.Errorf("serialize datagram %d: %w", i, err)
		}
		ci := gopacket.CaptureInfo{
			Timestamp:     dg.Time,
			CaptureLength: len(pkt),
			Length:        len(pkt),
		}
		if err := w.WritePacket(ci, pkt); err != nil {
			return nil, fmt.Errorf("write pcap record %d: %w", i, err)
		}
	}
	return out.Bytes(), nil
}

func serializeUDP(payload []byte) ([]byte, error) {
	eth := layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		DstMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IP{10, 0, 0, 2},
		DstIP:    net.IP{10, 0, 0, 1},
	}
	udp := layers.UDP{SrcPort: 5500, DstPort: 5500}
	if err := udp.SetNetworkLayerForChecksum(&ip); err != nil {
		return nil, fmt.Errorf("udp checksum layer: %w", err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, &eth, &ip, &udp, gopacket.Payload(payload)); err != nil {
		return nil, fmt.Errorf("serialize udp packet: %w", err)
	}
	return buf.Bytes(), nil
}
