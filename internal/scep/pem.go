package scep

import (
	"encoding/pem"
	"errors"
	"fmt"
	"io"
)

// PEMLabel is the armor label of a PKCSReq message.
const PEMLabel = "SCEP MESSAGE"

// EncodePEM writes der as a PEM block with the given label. The text is
// rendered in memory and handed to w in a single Write, so a failed build
// never leaves a partial block behind.
func EncodePEM(w io.Writer, der []byte, label string) error {
	if len(der) == 0 {
		return integrityError("encode PEM", errors.New("message is empty"))
	}
	text := pem.EncodeToMemory(&pem.Block{Type: label, Bytes: der})
	if text == nil {
		return integrityError("encode PEM", fmt.Errorf("cannot encode label %q", label))
	}

	n, err := w.Write(text)
	if err != nil {
		return ioError("write PEM", err)
	}
	if n != len(text) {
		return ioError("write PEM", io.ErrShortWrite)
	}
	return nil
}

// DecodePEM returns the DER of the first SCEP MESSAGE block in data.
// Raw DER is accepted as well.
func DecodePEM(data []byte) ([]byte, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		if len(data) > 0 && data[0] == 0x30 {
			return data, nil
		}
		return nil, inputError("decode PEM", errors.New("no PEM block found"))
	}
	if block.Type != PEMLabel {
		return nil, inputError("decode PEM", fmt.Errorf("unexpected PEM block %q, want %q", block.Type, PEMLabel))
	}
	return block.Bytes, nil
}
