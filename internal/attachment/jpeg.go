package attachment

import "errors"

var errNotJPEG = errors.New("not a valid jpeg")

// jpegDimensions walks the JPEG segment chain looking for a start-of-frame
// marker and returns the raster width and height. It reads only marker
// headers, so dimensions are known before any decoder touches the payload.
// Anything malformed is an error; callers treat that as invalid.
func jpegDimensions(data []byte) (width, height int, err error) {
	if len(data) < 4 || data[0] != 0xFF || data[1] != 0xD8 {
		return 0, 0, errNotJPEG
	}

	i := 2
	for i+3 < len(data) {
		if data[i] != 0xFF {
			return 0, 0, errNotJPEG
		}
		marker := data[i+1]

		// Padding bytes between segments.
		if marker == 0xFF {
			i++
			continue
		}
		// Standalone markers carry no length field.
		if marker == 0xD8 || (marker >= 0xD0 && marker <= 0xD7) {
			i += 2
			continue
		}
		// Start of scan or end of image: no frame header was found.
		if marker == 0xDA || marker == 0xD9 {
			return 0, 0, errNotJPEG
		}

		segLen := int(data[i+2])<<8 | int(data[i+3])
		if segLen < 2 || i+2+segLen > len(data) {
			return 0, 0, errNotJPEG
		}

		// SOF0-SOF15, excluding DHT (C4), JPG (C8) and DAC (CC).
		if marker >= 0xC0 && marker <= 0xCF && marker != 0xC4 && marker != 0xC8 && marker != 0xCC {
			if segLen < 7 {
				return 0, 0, errNotJPEG
			}
			height = int(data[i+5])<<8 | int(data[i+6])
			width = int(data[i+7])<<8 | int(data[i+8])
			if width <= 0 || height <= 0 {
				return 0, 0, errNotJPEG
			}
			return width, height, nil
		}

		i += 2 + segLen
	}
	return 0, 0, errNotJPEG
}
