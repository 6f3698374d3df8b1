package attachment

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/n8watkins/GeminiGPT-sub000/internal/models"
	"go.uber.org/zap"
)

// Extractor pulls plain text out of a document payload. It is injected
// so the validator never depends on a concrete PDF/DOCX library; it may
// block, fail or exceed the configured timeout.
type Extractor func(ctx context.Context, data []byte, mimeType string) (string, error)

// Limits are the per-category size bounds. Zero values fall back to the
// defaults below.
type Limits struct {
	MaxAttachments    int           `mapstructure:"max_attachments"`
	MaxImageBytes     int           `mapstructure:"max_image_bytes"`
	MaxDocumentBytes  int           `mapstructure:"max_document_bytes"`
	MaxTextBytes      int           `mapstructure:"max_text_bytes"`
	MaxImageDimension int           `mapstructure:"max_image_dimension"`
	MaxExtractedChars int           `mapstructure:"max_extracted_chars"`
	ExtractTimeout    time.Duration `mapstructure:"extract_timeout"`
}

func (l Limits) withDefaults() Limits {
	if l.MaxAttachments <= 0 {
		l.MaxAttachments = 5
	}
	if l.MaxImageBytes <= 0 {
		l.MaxImageBytes = 10 << 20 // 10 MB
	}
	if l.MaxDocumentBytes <= 0 {
		l.MaxDocumentBytes = 20 << 20 // 20 MB
	}
	if l.MaxTextBytes <= 0 {
		l.MaxTextBytes = 1 << 20 // 1 MB
	}
	if l.MaxImageDimension <= 0 {
		l.MaxImageDimension = 4096
	}
	if l.MaxExtractedChars <= 0 {
		l.MaxExtractedChars = 50000
	}
	if l.ExtractTimeout <= 0 {
		l.ExtractTimeout = 30 * time.Second
	}
	return l
}

// Part is a validated, model-consumable attachment: either inline binary
// data (images) or extracted text (documents and plain text). A Part is
// only ever constructed after every check for its category passed.
type Part struct {
	FileName string
	MimeType string
	// InlineData holds raw image bytes for inline delivery to the model.
	InlineData []byte
	// Text holds extracted or decoded text for document and text payloads.
	Text string
}

// Result carries the accepted parts plus human-readable warnings for
// everything that was dropped. Rejections are warnings, never errors:
// the message proceeds without the offending attachment.
type Result struct {
	Parts    []Part
	Warnings []string
}

// Validator checks uploaded payloads against the configured limits.
// History replay and fresh uploads go through the same Validate call;
// there is deliberately no trusted path around it.
type Validator struct {
	limits  Limits
	extract Extractor
	logger  *zap.Logger
}

func NewValidator(limits Limits, extract Extractor, logger *zap.Logger) *Validator {
	return &Validator{
		limits:  limits.withDefaults(),
		extract: extract,
		logger:  logger,
	}
}

// BinarySize computes the decoded byte count of a base64 string without
// decoding it. Comparing the encoded length against a binary limit
// under-counts by a third, so the padding-aware form is used instead.
func BinarySize(encoded string) int {
	n := len(encoded)
	if n == 0 {
		return 0
	}
	padding := 0
	if strings.HasSuffix(encoded, "==") {
		padding = 2
	} else if strings.HasSuffix(encoded, "=") {
		padding = 1
	}
	return n*3/4 - padding
}

// Validate runs every attachment through the category checks and returns
// the accepted parts. maxCount <= 0 falls back to the configured limit.
func (v *Validator) Validate(ctx context.Context, attachments []models.AttachmentRef, maxCount int) Result {
	if maxCount <= 0 {
		maxCount = v.limits.MaxAttachments
	}

	var res Result
	for i, att := range attachments {
		if i >= maxCount {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("attachment limit is %d per message; %q and any later attachments were ignored", maxCount, att.FileName))
			break
		}
		part, ok, reason := v.validateOne(ctx, att)
		if !ok {
			v.logger.Info("attachment rejected",
				zap.String("file_name", att.FileName),
				zap.String("mime_type", att.DeclaredMimeType),
				zap.String("reason", reason))
			res.Warnings = append(res.Warnings, fmt.Sprintf("%q was not attached: %s", att.FileName, reason))
			continue
		}
		res.Parts = append(res.Parts, part)
	}
	return res
}

func (v *Validator) validateOne(ctx context.Context, att models.AttachmentRef) (Part, bool, string) {
	if att.EncodedPayload == "" {
		return Part{}, false, "empty payload"
	}

	size := BinarySize(att.EncodedPayload)
	mime := strings.ToLower(strings.TrimSpace(att.DeclaredMimeType))

	switch {
	case strings.HasPrefix(mime, "image/"):
		return v.validateImage(att, mime, size)
	case isDocumentMime(mime):
		return v.validateDocument(ctx, att, mime, size)
	case strings.HasPrefix(mime, "text/"):
		return v.validateText(att, mime, size)
	default:
		return Part{}, false, fmt.Sprintf("unsupported type %q", att.DeclaredMimeType)
	}
}

func isDocumentMime(mime string) bool {
	switch mime {
	case "application/pdf",
		"application/msword",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return true
	}
	return false
}

func (v *Validator) validateImage(att models.AttachmentRef, mime string, size int) (Part, bool, string) {
	if size > v.limits.MaxImageBytes {
		return Part{}, false, fmt.Sprintf("image exceeds the %d byte limit", v.limits.MaxImageBytes)
	}

	data, err := base64.StdEncoding.DecodeString(att.EncodedPayload)
	if err != nil {
		return Part{}, false, "payload is not valid base64"
	}

	if mime == "image/jpeg" || mime == "image/jpg" {
		w, h, err := jpegDimensions(data)
		if err != nil {
			// Unparseable means invalid, never "probably fine".
			return Part{}, false, "image could not be parsed"
		}
		if w > v.limits.MaxImageDimension || h > v.limits.MaxImageDimension {
			return Part{}, false, fmt.Sprintf("image is %dx%d; the maximum is %dx%d",
				w, h, v.limits.MaxImageDimension, v.limits.MaxImageDimension)
		}
	}

	return Part{FileName: att.FileName, MimeType: mime, InlineData: data}, true, ""
}

func (v *Validator) validateDocument(ctx context.Context, att models.AttachmentRef, mime string, size int) (Part, bool, string) {
	if size > v.limits.MaxDocumentBytes {
		return Part{}, false, fmt.Sprintf("document exceeds the %d byte limit", v.limits.MaxDocumentBytes)
	}
	if v.extract == nil {
		return Part{}, false, "document extraction is not available"
	}

	data, err := base64.StdEncoding.DecodeString(att.EncodedPayload)
	if err != nil {
		return Part{}, false, "payload is not valid base64"
	}

	text, err := v.extractWithTimeout(ctx, data, mime)
	if err != nil {
		if ctx.Err() != nil || err == context.DeadlineExceeded {
			v.logger.Warn("document extraction timed out",
				zap.String("file_name", att.FileName),
				zap.Duration("timeout", v.limits.ExtractTimeout))
			return Part{}, false, "document text extraction timed out"
		}
		v.logger.Warn("document extraction failed",
			zap.String("file_name", att.FileName),
			zap.Error(err))
		return Part{}, false, "document text could not be extracted"
	}

	if len(text) > v.limits.MaxExtractedChars {
		text = text[:v.limits.MaxExtractedChars]
	}
	return Part{FileName: att.FileName, MimeType: mime, Text: text}, true, ""
}

// extractWithTimeout bounds the injected extractor. The deadline timer is
// released on every path via the deferred cancel.
func (v *Validator) extractWithTimeout(ctx context.Context, data []byte, mime string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, v.limits.ExtractTimeout)
	defer cancel()

	type extracted struct {
		text string
		err  error
	}
	done := make(chan extracted, 1)
	go func() {
		text, err := v.extract(ctx, data, mime)
		done <- extracted{text: text, err: err}
	}()

	select {
	case out := <-done:
		return out.text, out.err
	case <-ctx.Done():
		return "", context.DeadlineExceeded
	}
}

func (v *Validator) validateText(att models.AttachmentRef, mime string, size int) (Part, bool, string) {
	// Text gets its own smaller bound; without it a "text/plain" upload
	// could be as large as a document and land verbatim in the prompt.
	if size > v.limits.MaxTextBytes {
		return Part{}, false, fmt.Sprintf("text file exceeds the %d byte limit", v.limits.MaxTextBytes)
	}

	data, err := base64.StdEncoding.DecodeString(att.EncodedPayload)
	if err != nil {
		return Part{}, false, "payload is not valid base64"
	}

	text := string(data)
	if len(text) > v.limits.MaxExtractedChars {
		text = text[:v.limits.MaxExtractedChars]
	}
	return Part{FileName: att.FileName, MimeType: mime, Text: text}, true, ""
}
