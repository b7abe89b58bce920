package tcp

import (
	"bytes"

	"github.com/hashicorp/go-msgpack/v2/codec"

	"github.com/amirimatin/go-raftclient/pkg/transport"
)

// wireCodec bundles a reusable msgpack encoder/decoder pair with its scratch
// buffer. A wireCodec is used by one goroutine at a time between checkout and
// return.
type wireCodec struct {
	buf bytes.Buffer
	enc *codec.Encoder
	dec *codec.Decoder
}

func newWireCodec(h *codec.MsgpackHandle) *wireCodec {
	c := &wireCodec{}
	c.enc = codec.NewEncoder(&c.buf, h)
	c.dec = codec.NewDecoderBytes(nil, h)
	return c
}

// encode serializes msg into the scratch buffer and returns the bytes, valid
// until the codec is next used.
func (c *wireCodec) encode(msg *transport.Message) ([]byte, error) {
	c.buf.Reset()
	c.enc.Reset(&c.buf)
	if err := c.enc.Encode(msg); err != nil {
		return nil, err
	}
	return c.buf.Bytes(), nil
}

func (c *wireCodec) decode(frame []byte, msg *transport.Message) error {
	c.dec.ResetBytes(frame)
	return c.dec.Decode(msg)
}

// codecPool is a bounded free list of wireCodecs shared by all connections of
// one Client. Checkout allocates when the list is empty; return drops the
// entry when the list is full, so memory pressure reclaims naturally.
type codecPool struct {
	handle *codec.MsgpackHandle
	free   chan *wireCodec
}

func newCodecPool(size int) *codecPool {
	if size <= 0 {
		size = 16
	}
	return &codecPool{handle: &codec.MsgpackHandle{}, free: make(chan *wireCodec, size)}
}

func (p *codecPool) get() *wireCodec {
	select {
	case c := <-p.free:
		return c
	default:
		return newWireCodec(p.handle)
	}
}

func (p *codecPool) put(c *wireCodec) {
	select {
	case p.free <- c:
	default:
	}
}
