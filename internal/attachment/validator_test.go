package attachment

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/n8watkins/GeminiGPT-sub000/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// jpegBytes builds a minimal JPEG header with an SOF0 frame declaring
// the given raster dimensions.
func jpegBytes(width, height int) []byte {
	b := []byte{0xFF, 0xD8} // SOI
	sof := []byte{
		0xFF, 0xC0, // SOF0
		0x00, 0x11, // segment length: 17
		0x08, // precision
		byte(height >> 8), byte(height), byte(width >> 8), byte(width),
		0x03, // component count
	}
	sof = append(sof, make([]byte, 9)...) // 3 bytes per component
	b = append(b, sof...)
	return append(b, 0xFF, 0xD9) // EOI
}

func jpegAttachment(width, height int) models.AttachmentRef {
	return models.AttachmentRef{
		EncodedPayload:   base64.StdEncoding.EncodeToString(jpegBytes(width, height)),
		DeclaredMimeType: "image/jpeg",
		FileName:         "photo.jpg",
	}
}

func newTestValidator(limits Limits, extract Extractor) *Validator {
	return NewValidator(limits, extract, zap.NewNop())
}

func TestBinarySize(t *testing.T) {
	tests := []struct {
		encoded string
		want    int
	}{
		{"", 0},
		{"AAAA", 3},
		{"AAA=", 2},
		{"AA==", 1},
		{"AAAAAAAA", 6},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BinarySize(tt.encoded), "encoded %q", tt.encoded)
	}
}

func TestValidate_JPEGDimensions(t *testing.T) {
	v := newTestValidator(Limits{MaxImageDimension: 4096}, nil)

	res := v.Validate(context.Background(), []models.AttachmentRef{jpegAttachment(800, 600)}, 0)
	require.Len(t, res.Parts, 1)
	assert.Empty(t, res.Warnings)
	assert.NotEmpty(t, res.Parts[0].InlineData)

	// Oversized raster is rejected even though the file itself is tiny.
	res = v.Validate(context.Background(), []models.AttachmentRef{jpegAttachment(8192, 10)}, 0)
	assert.Empty(t, res.Parts)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "8192x10")
}

func TestValidate_UnparseableImageFailsClosed(t *testing.T) {
	v := newTestValidator(Limits{}, nil)

	garbage := models.AttachmentRef{
		EncodedPayload:   base64.StdEncoding.EncodeToString([]byte("definitely not a jpeg")),
		DeclaredMimeType: "image/jpeg",
		FileName:         "broken.jpg",
	}
	res := v.Validate(context.Background(), []models.AttachmentRef{garbage}, 0)
	assert.Empty(t, res.Parts)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "could not be parsed")
}

func TestValidate_TextSizeBoundary(t *testing.T) {
	v := newTestValidator(Limits{MaxTextBytes: 3}, nil)

	atLimit := models.AttachmentRef{
		EncodedPayload:   base64.StdEncoding.EncodeToString([]byte("abc")),
		DeclaredMimeType: "text/plain",
		FileName:         "at-limit.txt",
	}
	oneOver := models.AttachmentRef{
		EncodedPayload:   base64.StdEncoding.EncodeToString([]byte("abcd")),
		DeclaredMimeType: "text/plain",
		FileName:         "one-over.txt",
	}

	res := v.Validate(context.Background(), []models.AttachmentRef{atLimit, oneOver}, 0)
	require.Len(t, res.Parts, 1)
	assert.Equal(t, "abc", res.Parts[0].Text)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "one-over.txt")
}

func TestValidate_ExcessCountDroppedWithWarning(t *testing.T) {
	v := newTestValidator(Limits{}, nil)

	atts := []models.AttachmentRef{jpegAttachment(10, 10), jpegAttachment(20, 20), jpegAttachment(30, 30)}
	res := v.Validate(context.Background(), atts, 2)
	assert.Len(t, res.Parts, 2)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "limit is 2")
}

func TestValidate_DocumentExtraction(t *testing.T) {
	extract := func(ctx context.Context, data []byte, mime string) (string, error) {
		return strings.Repeat("x", 10), nil
	}
	v := newTestValidator(Limits{MaxExtractedChars: 4}, extract)

	doc := models.AttachmentRef{
		EncodedPayload:   base64.StdEncoding.EncodeToString([]byte("%PDF-1.4")),
		DeclaredMimeType: "application/pdf",
		FileName:         "report.pdf",
	}
	res := v.Validate(context.Background(), []models.AttachmentRef{doc}, 0)
	require.Len(t, res.Parts, 1)
	assert.Equal(t, "xxxx", res.Parts[0].Text, "extracted text is capped")
}

func TestValidate_DocumentExtractionTimeout(t *testing.T) {
	extract := func(ctx context.Context, data []byte, mime string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	v := newTestValidator(Limits{ExtractTimeout: 20 * time.Millisecond}, extract)

	doc := models.AttachmentRef{
		EncodedPayload:   base64.StdEncoding.EncodeToString([]byte("%PDF-1.4")),
		DeclaredMimeType: "application/pdf",
		FileName:         "slow.pdf",
	}
	res := v.Validate(context.Background(), []models.AttachmentRef{doc}, 0)
	assert.Empty(t, res.Parts)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "timed out")
}

func TestValidate_DocumentExtractionError(t *testing.T) {
	extract := func(ctx context.Context, data []byte, mime string) (string, error) {
		return "", errors.New("corrupt xref table at /etc/secret/path")
	}
	v := newTestValidator(Limits{}, extract)

	doc := models.AttachmentRef{
		EncodedPayload:   base64.StdEncoding.EncodeToString([]byte("%PDF-1.4")),
		DeclaredMimeType: "application/pdf",
		FileName:         "bad.pdf",
	}
	res := v.Validate(context.Background(), []models.AttachmentRef{doc}, 0)
	assert.Empty(t, res.Parts)
	require.Len(t, res.Warnings, 1)
	assert.NotContains(t, res.Warnings[0], "/etc/secret", "raw extractor errors stay server-side")
}

func TestValidate_UnsupportedAndEmpty(t *testing.T) {
	v := newTestValidator(Limits{}, nil)

	atts := []models.AttachmentRef{
		{EncodedPayload: "AAAA", DeclaredMimeType: "application/x-executable", FileName: "virus.exe"},
		{EncodedPayload: "", DeclaredMimeType: "image/png", FileName: "empty.png"},
	}
	res := v.Validate(context.Background(), atts, 0)
	assert.Empty(t, res.Parts)
	assert.Len(t, res.Warnings, 2)
}
