package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"propertyline-server/chat"
)

// MaxAttachmentSize is the inclusive upper bound for an uploaded file.
const MaxAttachmentSize = 5 << 20 // 5 MiB

var (
	ErrUnsupportedType = errors.New("attachments: unsupported file type")
	ErrTooLarge        = errors.New("attachments: file exceeds 5 MiB")
	ErrStorage         = errors.New("attachments: blob storage failed")
)

// allowedTypes maps the accepted MIME types to their file extension and the
// message type the resulting message carries.
var allowedTypes = map[string]struct{ ext, msgType string }{
	"image/jpeg":         {"jpg", chat.TypeImage},
	"image/png":          {"png", chat.TypeImage},
	"image/gif":          {"gif", chat.TypeImage},
	"application/pdf":    {"pdf", chat.TypeDocument},
	"application/msword": {"doc", chat.TypeDocument},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {"docx", chat.TypeDocument},
}

type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// AttachmentPipeline validates and persists message attachments to blob
// storage. The blob is always written before the message referencing it; the
// caller must call Delete when the message write fails afterwards.
type AttachmentPipeline struct {
	api    s3API
	bucket string
}

func NewAttachmentPipeline(api s3API, bucket string) (*AttachmentPipeline, error) {
	if api == nil {
		return nil, errors.New("attachments: s3 api must not be nil")
	}
	if bucket == "" {
		return nil, errors.New("attachments: bucket must not be empty")
	}
	return &AttachmentPipeline{api: api, bucket: bucket}, nil
}

// Upload validates the file and writes it under a fresh messages/ key.
// Returns the blob key and the message type implied by the MIME type.
func (p *AttachmentPipeline) Upload(ctx context.Context, data []byte, mimeType, originalName string) (string, string, error) {
	spec, ok := allowedTypes[mimeType]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnsupportedType, mimeType)
	}
	if len(data) > MaxAttachmentSize {
		return "", "", fmt.Errorf("%w (%s is %d bytes)", ErrTooLarge, originalName, len(data))
	}

	key := fmt.Sprintf("messages/%s.%s", uuid.NewString(), spec.ext)
	_, err := p.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(mimeType),
	})
	if err != nil {
		return "", "", fmt.Errorf("%w: put %s: %v", ErrStorage, key, err)
	}
	return key, spec.msgType, nil
}

// Delete is the compensating action for a message append that failed after
// the blob was already written. A failed compensation leaves an orphaned
// blob, which is logged with its key.
func (p *AttachmentPipeline) Delete(ctx context.Context, key string) error {
	_, err := p.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		log.Printf("attachments: orphaned blob %s: compensating delete failed: %v", key, err)
		return fmt.Errorf("%w: delete %s: %v", ErrStorage, key, err)
	}
	return nil
}
