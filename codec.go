package rcon

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Encode returns the wire representation of p:
//
//	[size int32][id int32][type int32][body][0x00][0x00]
//
// All integers are little endian and the result is p.Size()+4 bytes long.
func Encode(p Packet) []byte {
	size := p.Size()
	buf := make([]byte, size+4)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(size))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(p.ID))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(p.Type))
	copy(buf[PacketHeaderSize:], p.Body)
	// The two trailing bytes are already zero.
	return buf
}

// Decode parses a full frame, size field included. It fails with
// ErrMalformedPacket when b is shorter than PacketMinSize or when the declared
// size does not fit in b. Bytes after the declared frame are ignored.
func Decode(b []byte) (Packet, error) {
	if len(b) < PacketMinSize {
		return Packet{}, errors.Wrapf(ErrMalformedPacket, "buffer is too short (%d < %d)", len(b), PacketMinSize)
	}
	if len(b) < PacketHeaderSize {
		return Packet{}, errors.Wrapf(ErrMalformedPacket, "buffer is too short for header (%d < %d)", len(b), PacketHeaderSize)
	}

	size := int32(binary.LittleEndian.Uint32(b[0:4]))
	if size < PacketMinSize {
		return Packet{}, errors.Wrapf(ErrMalformedPacket, "declared size %d below minimum", size)
	}
	end := PacketHeaderSize + int64(size) - PacketWrapperSize
	if end > int64(len(b)) {
		return Packet{}, errors.Wrapf(ErrMalformedPacket, "declared size %d exceeds buffer of %d bytes", size, len(b))
	}

	return Packet{
		ID:   int32(binary.LittleEndian.Uint32(b[4:8])),
		Type: PacketType(int32(binary.LittleEndian.Uint32(b[8:12]))),
		Body: string(b[PacketHeaderSize:end]),
	}, nil
}

// DecodeStrict is Decode that also requires b to be exactly one frame long and
// both terminators to be zero.
func DecodeStrict(b []byte) (Packet, error) {
	p, err := Decode(b)
	if err != nil {
		return Packet{}, err
	}
	if int64(len(b)) != int64(p.Size())+4 {
		return Packet{}, errors.Wrapf(ErrMalformedPacket, "frame is %d bytes, declared %d", len(b), p.Size()+4)
	}
	if b[len(b)-2] != 0 || b[len(b)-1] != 0 {
		return Packet{}, errors.Wrap(ErrMalformedPacket, "packet incorrectly terminated")
	}
	return p, nil
}

// Codec reads and writes packets on a byte stream.
//
// Decode reads from an io.Reader so the codec controls how many bytes make
// up one packet, which is what reassembles frames split across TCP reads.
type Codec interface {
	// Decode reads exactly one packet from r.
	Decode(r io.Reader) (Packet, error)
	// Encode returns the wire form of a packet.
	Encode(Packet) ([]byte, error)
}

// PacketCodec is the length-prefixed Codec used by Conn.
type PacketCodec struct {
	// MaxSize bounds the size field of inbound packets. Zero means MaximumPacketSize.
	MaxSize int32
}

// NewPacketCodec returns a PacketCodec accepting inbound packets up to maxSize.
func NewPacketCodec(maxSize int32) *PacketCodec {
	return &PacketCodec{MaxSize: maxSize}
}

// Decode reads the size prefix, then exactly that many bytes.
func (c *PacketCodec) Decode(r io.Reader) (Packet, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return Packet{}, err
	}

	size := int32(binary.LittleEndian.Uint32(prefix[:]))
	if size < PacketMinSize {
		return Packet{}, errors.Wrapf(ErrMalformedPacket, "declared size %d below minimum", size)
	}
	if size > c.maxSize() {
		return Packet{}, errors.Wrapf(ErrPacketTooLarge, "declared size %d above %d", size, c.maxSize())
	}

	frame := make([]byte, 4+int(size))
	copy(frame, prefix[:])
	if _, err := io.ReadFull(r, frame[4:]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Packet{}, err
	}

	return DecodeStrict(frame)
}

// Encode validates the body and encodes p.
func (c *PacketCodec) Encode(p Packet) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return Encode(p), nil
}

func (c *PacketCodec) maxSize() int32 {
	if c.MaxSize <= 0 {
		return MaximumPacketSize
	}
	return c.MaxSize
}
