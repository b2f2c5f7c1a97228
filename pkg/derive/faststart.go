package derive

import (
	"errors"
	"fmt"
	"os"

	"github.com/abema/go-mp4"
)

var ErrNotFastStart = errors.New("moov box is not placed before media data")

// VerifyFastStart checks top level boxes, moov must exist and precede mdat.
func VerifyFastStart(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	moov, mdat := int64(-1), int64(-1)
	_, err = mp4.ReadBoxStructure(f, func(h *mp4.ReadHandle) (interface{}, error) {
		offset := int64(h.BoxInfo.Offset)

		switch h.BoxInfo.Type {
		case mp4.BoxTypeMoov():
			if moov < 0 {
				moov = offset
			}
		case mp4.BoxTypeMdat():
			if mdat < 0 {
				mdat = offset
			}
		}

		// top level only, children are never expanded
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("unable to read mp4 structure: %w", err)
	}

	if moov < 0 {
		return fmt.Errorf("%w: no moov box", ErrNotFastStart)
	}

	if mdat >= 0 && mdat < moov {
		return ErrNotFastStart
	}

	return nil
}
