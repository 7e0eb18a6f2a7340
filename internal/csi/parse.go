package csi

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/breathing.report/internal/units"
)

// CSI frame wire format. Sensors emit one frame per UDP datagram; the frame
// rides after the UDP header inside a classic pcap capture. All multi-byte
// fields are little-endian.
//
//	offset  size  field
//	0       2     preamble 0xC51D
//	2       1     version (1)
//	3       1     channel-width code (0=20MHz, 1=40MHz, 2=80MHz)
//	4       2     sequence number
//	6       8     sensor timestamp, microseconds
//	14      2     subcarrier count N
//	16      4*N   int16 I/Q pairs, subcarrier order lowest to highest index
const (
	FramePreamble   uint16 = 0xC51D
	FrameVersion    byte   = 1
	FrameHeaderSize        = 16
	BytesPerIQPair         = 4
)

// widthForCode maps the wire channel-width code to a width label.
func widthForCode(code byte) (string, bool) {
	switch code {
	case 0:
		return units.Width20MHz, true
	case 1:
		return units.Width40MHz, true
	case 2:
		return units.Width80MHz, true
	}
	return "", false
}

// ParseCapture decodes a classic pcap capture into a CsiSeries. Datagrams
// that do not open with the CSI preamble are unrelated traffic and are
// skipped; datagrams that do are decoded strictly. declaredWidth is the
// channel width the upload metadata claims; when non-empty it must match
// the width the frames carry, when empty the wire width stands alone.
// minFrames is the smallest series considered a usable capture.
//
// Frame timestamps come from pcap record metadata, never from the sensor
// clock, so replayed captures analyse identically to live ones.
func ParseCapture(capture []byte, deviceID, declaredWidth string, minFrames int) (*CsiSeries, error) {
	if len(capture) == 0 {
		return nil, fmt.Errorf("capture is empty: %w", ErrEmptyCapture)
	}

	reader, err := pcapgo.NewReader(bytes.NewReader(capture))
	if err != nil {
		return nil, fmt.Errorf("read pcap header: %v: %w", err, ErrMalformedCapture)
	}

	series := &CsiSeries{
		DeviceID:     deviceID,
		ChannelWidth: declaredWidth,
	}
	var (
		layout    *Layout
		widthCode byte
		prevTime  float64
		packetNum int
	)

	for {
		data, ci, err := reader.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read pcap record %d: %v: %w", packetNum+1, err, ErrMalformedCapture)
		}
		packetNum++

		packet := gopacket.NewPacket(data, reader.LinkType(), gopacket.Default)
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue // non-UDP traffic in the capture
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok {
			continue
		}
		payload := udp.Payload
		if len(payload) < 2 || binary.LittleEndian.Uint16(payload[0:2]) != FramePreamble {
			continue // unrelated datagram, not a CSI frame
		}

		if len(payload) < FrameHeaderSize {
			return nil, fmt.Errorf("packet %d: truncated frame header: %d bytes, need %d: %w",
				packetNum, len(payload), FrameHeaderSize, ErrMalformedCapture)
		}
		if v := payload[2]; v != FrameVersion {
			return nil, fmt.Errorf("packet %d: unsupported frame version %d: %w", packetNum, v, ErrMalformedCapture)
		}

		code := payload[3]
		seq := binary.LittleEndian.Uint16(payload[4:6])
		count := int(binary.LittleEndian.Uint16(payload[14:16]))

		if layout == nil {
			// First CSI frame fixes the layout for the whole series.
			width, known := widthForCode(code)
			if !known {
				return nil, fmt.Errorf("packet %d: unknown channel-width code 0x%02x: %w",
					packetNum, code, ErrUnsupportedLayout)
			}
			if declaredWidth != "" && declaredWidth != width {
				return nil, fmt.Errorf("packet %d: capture is %s but metadata declared %s: %w",
					packetNum, width, declaredWidth, ErrMalformedCapture)
			}
			layout, err = LayoutFor(width)
			if err != nil {
				return nil, fmt.Errorf("packet %d: %w", packetNum, err)
			}
			widthCode = code
			series.ChannelWidth = width
			series.FirstSequence = seq
		} else if code != widthCode {
			return nil, fmt.Errorf("packet %d: channel width changed mid-series: %w", packetNum, ErrMalformedCapture)
		}

		if count != layout.SubcarrierCount {
			return nil, fmt.Errorf("packet %d: subcarrier count %d, %s expects %d: %w",
				packetNum, count, layout.Width, layout.SubcarrierCount, ErrMalformedCapture)
		}
		need := FrameHeaderSize + BytesPerIQPair*count
		if len(payload) < need {
			return nil, fmt.Errorf("packet %d: truncated I/Q data: %d bytes, need %d: %w",
				packetNum, len(payload), need, ErrMalformedCapture)
		}

		ts := float64(ci.Timestamp.UnixNano()) / 1e9
		if len(series.Frames) > 0 && ts < prevTime {
			return nil, fmt.Errorf("packet %d: record time went backwards: %w", packetNum, ErrNonMonotonicTimestamps)
		}
		prevTime = ts

		subs := make([]complex128, count)
		off := FrameHeaderSize
		for i := 0; i < count; i++ {
			re := int16(binary.LittleEndian.Uint16(payload[off : off+2]))
			im := int16(binary.LittleEndian.Uint16(payload[off+2 : off+4]))
			subs[i] = complex(float64(re), float64(im))
			off += BytesPerIQPair
		}

		series.Frames = append(series.Frames, CaptureFrame{
			Timestamp:   ts,
			Subcarriers: subs,
			DeviceID:    deviceID,
		})
		series.LastSequence = seq
	}

	if len(series.Frames) == 0 {
		return nil, fmt.Errorf("capture carried no CSI datagrams: %w", ErrEmptyCapture)
	}
	if len(series.Frames) < minFrames {
		return nil, fmt.Errorf("capture has %d frames, need at least %d: %w",
			len(series.Frames), minFrames, ErrMalformedCapture)
	}

	return series, nil
}
