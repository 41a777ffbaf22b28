package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxPacketSize 单个数据包负载上限（1MB），与读取限制一致
const MaxPacketSize = 1 << 20

var (
	ErrShortPacket    = errors.New("protocol: short packet")
	ErrTrailingBytes  = errors.New("protocol: trailing bytes in packet")
	ErrPacketTooLarge = errors.New("protocol: packet too large")
)

// ReadFrame 读取一个长度前缀（uint32 大端）的数据包
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxPacketSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPacketTooLarge, n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}

// WriteFrame 写出一个带长度前缀的数据包（一次 Write，避免与其它写者交错）
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxPacketSize {
		return fmt.Errorf("%w: %d bytes", ErrPacketTooLarge, len(payload))
	}
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[4:], payload)
	_, err := w.Write(buf)
	return err
}

// Writer 按字段顺序拼装数据包负载（大端）
type Writer struct {
	buf bytes.Buffer
}

func (w *Writer) Uint8(v uint8) { _ = w.buf.WriteByte(v) }

func (w *Writer) Int32(v int32) { w.Uint32(uint32(v)) }

func (w *Writer) Uint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	_, _ = w.buf.Write(b[:])
}

// String 写出 uint32 长度 + UTF-8 字节
func (w *Writer) String(v string) {
	w.Uint32(uint32(len(v)))
	_, _ = w.buf.WriteString(v)
}

func (w *Writer) Bytes() []byte { return w.buf.Bytes() }

// Reader 按字段顺序解析数据包负载；越界返回 ErrShortPacket
type Reader struct {
	data   []byte
	offset int
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

func (r *Reader) need(n int) error {
	if n < 0 || r.offset+n > len(r.data) {
		return fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortPacket, n, r.offset, len(r.data))
	}
	return nil
}

func (r *Reader) Uint8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.data[r.offset]
	r.offset++
	return v, nil
}

func (r *Reader) Uint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.data[r.offset:])
	r.offset += 4
	return v, nil
}

func (r *Reader) Int32() (int32, error) {
	v, err := r.Uint32()
	return int32(v), err
}

func (r *Reader) String() (string, error) {
	n, err := r.Uint32()
	if err != nil {
		return "", err
	}
	if n > MaxPacketSize {
		return "", fmt.Errorf("%w: string of %d bytes", ErrShortPacket, n)
	}
	if err := r.need(int(n)); err != nil {
		return "", err
	}
	v := string(r.data[r.offset : r.offset+int(n)])
	r.offset += int(n)
	return v, nil
}

// Remaining 未读取的字节数
func (r *Reader) Remaining() int { return len(r.data) - r.offset }

// Done 确认负载已完全消费
func (r *Reader) Done() error {
	if r.Remaining() != 0 {
		return fmt.Errorf("%w: %d left", ErrTrailingBytes, r.Remaining())
	}
	return nil
}
