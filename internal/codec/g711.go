package codec

import "fmt"

var (
	ulawToLinear [256]int16
	alawToLinear [256]int16
	linearToUlaw [65536]uint8
	linearToAlaw [65536]uint8
)

func init() {
	for i := 0; i < 256; i++ {
		ulawToLinear[i] = decodeUlaw(uint8(i))
		alawToLinear[i] = decodeAlaw(uint8(i))
	}
	for i := -32768; i <= 32767; i++ {
		linearToUlaw[uint16(int16(i))] = encodeUlaw(int16(i))
		linearToAlaw[uint16(int16(i))] = encodeAlaw(int16(i))
	}
}

// ITU-T G.711 u-law expansion, 16-bit output scale.
func decodeUlaw(u uint8) int16 {
	u = ^u
	t := (int32(u&0x0F) << 3) + 0x84
	t <<= (u & 0x70) >> 4
	if u&0x80 != 0 {
		return int16(0x84 - t)
	}
	return int16(t - 0x84)
}

func encodeUlaw(sample int16) uint8 {
	const (
		bias = 0x84
		clip = 32635
	)
	s := int32(sample)
	sign := uint8(0)
	if s < 0 {
		sign = 0x80
		s = -s
	}
	if s > clip {
		s = clip
	}
	s += bias

	exponent := uint8(7)
	for mask := int32(0x4000); exponent > 0 && s&mask == 0; mask >>= 1 {
		exponent--
	}
	mantissa := uint8(s>>(exponent+3)) & 0x0F
	return ^(sign | exponent<<4 | mantissa)
}

// ITU-T G.711 A-law expansion, 16-bit output scale.
func decodeAlaw(a uint8) int16 {
	a ^= 0x55
	t := int32(a&0x0F) << 4
	seg := (a & 0x70) >> 4
	switch seg {
	case 0:
		t += 8
	case 1:
		t += 0x108
	default:
		t += 0x108
		t <<= seg - 1
	}
	if a&0x80 != 0 {
		return int16(t)
	}
	return int16(-t)
}

var alawSegEnd = [8]int32{0x1F, 0x3F, 0x7F, 0xFF, 0x1FF, 0x3FF, 0x7FF, 0xFFF}

func encodeAlaw(sample int16) uint8 {
	v := int32(sample) >> 3
	mask := uint8(0xD5)
	if v < 0 {
		mask = 0x55
		v = -v - 1
	}
	seg := uint8(0)
	for seg < 8 && v > alawSegEnd[seg] {
		seg++
	}
	if seg >= 8 {
		return 0x7F ^ mask
	}
	aval := seg << 4
	if seg < 2 {
		aval |= uint8(v>>1) & 0x0F
	} else {
		aval |= uint8(v>>seg) & 0x0F
	}
	return aval ^ mask
}

func DecodeMuLaw(b byte) int16 { return ulawToLinear[b] }
func EncodeMuLaw(s int16) byte { return linearToUlaw[uint16(s)] }
func DecodeALaw(b byte) int16  { return alawToLinear[b] }
func EncodeALaw(s int16) byte  { return linearToAlaw[uint16(s)] }

// MuLaw is G.711 PCMU, the transport's default encoding.
type MuLaw struct{}

func (MuLaw) Name() string    { return EncodingMuLaw }
func (MuLaw) SampleRate() int { return SampleRate }

func (MuLaw) Decode(frame []byte) ([]int16, error) {
	if len(frame) == 0 {
		return nil, fmt.Errorf("%w: empty u-law frame", ErrInvalidFrameLength)
	}
	out := make([]int16, len(frame))
	for i, b := range frame {
		out[i] = ulawToLinear[b]
	}
	return out, nil
}

func (MuLaw) Encode(samples []int16) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no samples to encode", ErrInvalidFrameLength)
	}
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = linearToUlaw[uint16(s)]
	}
	return out, nil
}

// ALaw is G.711 PCMA.
type ALaw struct{}

func (ALaw) Name() string    { return EncodingALaw }
func (ALaw) SampleRate() int { return SampleRate }

func (ALaw) Decode(frame []byte) ([]int16, error) {
	if len(frame) == 0 {
		return nil, fmt.Errorf("%w: empty a-law frame", ErrInvalidFrameLength)
	}
	out := make([]int16, len(frame))
	for i, b := range frame {
		out[i] = alawToLinear[b]
	}
	return out, nil
}

func (ALaw) Encode(samples []int16) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no samples to encode", ErrInvalidFrameLength)
	}
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = linearToAlaw[uint16(s)]
	}
	return out, nil
}
