package images

import (
	"bufio"
	"image"
	"image/color"
	"io"
	"strconv"

	"github.com/pkg/errors"
)

const pgmMagic = "P5"

func init() {
	image.RegisterFormat(string(FormatPGM), pgmMagic, func(r io.Reader) (image.Image, error) {
		return DecodePGM(r)
	}, DecodePGMConfig)
}

// DecodePGM reads a binary (P5) portable graymap with a maxval of at most 255.
// Samples are rescaled to 0..255 when maxval is smaller.
func DecodePGM(r io.Reader) (*image.Gray, error) {
	br := bufio.NewReader(r)
	width, height, maxval, err := readPGMHeader(br)
	if err != nil {
		return nil, err
	}

	img := image.NewGray(image.Rect(0, 0, width, height))
	if _, err := io.ReadFull(br, img.Pix); err != nil {
		return nil, errors.Wrapf(err, "pgm: reading %dx%d pixels", width, height)
	}
	if maxval != 255 {
		for i, v := range img.Pix {
			if int(v) > maxval {
				v = uint8(maxval)
			}
			img.Pix[i] = uint8(int(v) * 255 / maxval)
		}
	}
	return img, nil
}

// DecodePGMConfig returns the dimensions of a P5 graymap without reading pixels.
func DecodePGMConfig(r io.Reader) (image.Config, error) {
	width, height, _, err := readPGMHeader(bufio.NewReader(r))
	if err != nil {
		return image.Config{}, err
	}
	return image.Config{ColorModel: color.GrayModel, Width: width, Height: height}, nil
}

func readPGMHeader(br *bufio.Reader) (width, height, maxval int, err error) {
	magic, err := pgmToken(br)
	if err != nil {
		return 0, 0, 0, errors.Wrap(err, "pgm: magic")
	}
	if magic != pgmMagic {
		return 0, 0, 0, errors.Errorf("pgm: unsupported magic %q", magic)
	}

	var values [3]int
	for i, name := range []string{"width", "height", "maxval"} {
		tok, err := pgmToken(br)
		if err != nil {
			return 0, 0, 0, errors.Wrapf(err, "pgm: %s", name)
		}
		v, err := strconv.Atoi(tok)
		if err != nil || v <= 0 {
			return 0, 0, 0, errors.Errorf("pgm: invalid %s %q", name, tok)
		}
		values[i] = v
	}
	if values[0] > MaxPixels/values[1] {
		return 0, 0, 0, errors.Errorf("pgm: %dx%d exceeds %d pixels", values[0], values[1], MaxPixels)
	}
	if values[2] > 255 {
		return 0, 0, 0, errors.Errorf("pgm: 16-bit samples (maxval %d) are not supported", values[2])
	}

	// Exactly one whitespace byte separates the header from the raster.
	if _, err := br.ReadByte(); err != nil {
		return 0, 0, 0, errors.Wrap(err, "pgm: header terminator")
	}
	return values[0], values[1], values[2], nil
}

// pgmToken returns the next whitespace-delimited header token, skipping
// comments. The delimiter that ends the token is left unread.
func pgmToken(br *bufio.Reader) (string, error) {
	var tok []byte
	for {
		c, err := br.ReadByte()
		if err != nil {
			if err == io.EOF && len(tok) > 0 {
				return string(tok), nil
			}
			return "", err
		}
		switch {
		case c == '#' && len(tok) == 0:
			if _, err := br.ReadString('\n'); err != nil {
				return "", err
			}
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			if len(tok) > 0 {
				return string(tok), br.UnreadByte()
			}
		default:
			tok = append(tok, c)
		}
	}
}
