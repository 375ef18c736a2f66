// Package rpc is a request/response channel between walletd peers. Each
// call is one libp2p stream carrying a single CBOR request frame and a
// single CBOR response frame.
package rpc

import (
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// ProtocolID identifies the walletd RPC stream protocol.
const ProtocolID = "/walletd/rpc/1.0.0"

// DefaultMaxMessageSize caps a single frame.
const DefaultMaxMessageSize = 1 << 20

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("rpc: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("rpc: CBOR decoder initialization failed: " + err.Error())
	}
}

type request struct {
	Method string `cbor:"1,keyasint"`
	Body   []byte `cbor:"2,keyasint,omitempty"`
}

type response struct {
	Body  []byte `cbor:"1,keyasint,omitempty"`
	Error string `cbor:"2,keyasint,omitempty"`
}

var errFrameTooLarge = errors.New("frame exceeds size limit")

// readFrame reads the remainder of r, which must fit in limit bytes, and
// decodes it into v.
func readFrame(r io.Reader, limit int, v any) error {
	data, err := io.ReadAll(io.LimitReader(r, int64(limit)+1))
	if err != nil {
		return fmt.Errorf("read frame: %w", err)
	}
	if len(data) > limit {
		return errFrameTooLarge
	}
	if err := decMode.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	return nil
}

func writeFrame(w io.Writer, v any) error {
	data, err := encMode.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}
