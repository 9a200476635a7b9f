package services

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"

	"propertyline-server/chat"
)

type fakeS3 struct {
	putErr     error
	deleteErr  error
	lastPut    *s3.PutObjectInput
	lastDelete *s3.DeleteObjectInput
	putCalls   int
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.putCalls++
	f.lastPut = in
	if f.putErr != nil {
		return nil, f.putErr
	}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.lastDelete = in
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	return &s3.DeleteObjectOutput{}, nil
}

func mustNewPipeline(t *testing.T, api s3API) *AttachmentPipeline {
	t.Helper()
	p, err := NewAttachmentPipeline(api, "attachments-test")
	require.NoError(t, err)
	return p
}

func TestUploadHappyPath(t *testing.T) {
	api := &fakeS3{}
	p := mustNewPipeline(t, api)

	key, msgType, err := p.Upload(context.Background(), []byte("fake-jpeg"), "image/jpeg", "kitchen.jpg")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(key, "messages/"))
	require.True(t, strings.HasSuffix(key, ".jpg"))
	require.Equal(t, chat.TypeImage, msgType)
	require.Equal(t, "attachments-test", *api.lastPut.Bucket)
	require.Equal(t, "image/jpeg", *api.lastPut.ContentType)
}

func TestUploadDocumentType(t *testing.T) {
	p := mustNewPipeline(t, &fakeS3{})
	key, msgType, err := p.Upload(context.Background(), []byte("%PDF-"), "application/pdf", "lease.pdf")
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(key, ".pdf"))
	require.Equal(t, chat.TypeDocument, msgType)
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	api := &fakeS3{}
	p := mustNewPipeline(t, api)

	_, _, err := p.Upload(context.Background(), []byte("MZ"), "application/x-msdownload", "setup.exe")
	require.ErrorIs(t, err, ErrUnsupportedType)
	require.Zero(t, api.putCalls, "rejected file must never reach blob storage")
}

func TestUploadSizeBoundary(t *testing.T) {
	p := mustNewPipeline(t, &fakeS3{})

	atLimit := bytes.Repeat([]byte{0xff}, MaxAttachmentSize)
	_, _, err := p.Upload(context.Background(), atLimit, "image/png", "exact.png")
	require.NoError(t, err, "exactly 5 MiB is allowed")

	overLimit := bytes.Repeat([]byte{0xff}, MaxAttachmentSize+1)
	_, _, err = p.Upload(context.Background(), overLimit, "image/png", "over.png")
	require.ErrorIs(t, err, ErrTooLarge)
}

func TestUploadSurfacesStorageError(t *testing.T) {
	p := mustNewPipeline(t, &fakeS3{putErr: errors.New("SlowDown")})
	_, _, err := p.Upload(context.Background(), []byte("x"), "image/gif", "a.gif")
	require.ErrorIs(t, err, ErrStorage)
}

func TestDeleteCompensation(t *testing.T) {
	api := &fakeS3{}
	p := mustNewPipeline(t, api)
	require.NoError(t, p.Delete(context.Background(), "messages/abc.jpg"))
	require.Equal(t, "messages/abc.jpg", *api.lastDelete.Key)

	failing := mustNewPipeline(t, &fakeS3{deleteErr: errors.New("AccessDenied")})
	err := failing.Delete(context.Background(), "messages/def.pdf")
	require.ErrorIs(t, err, ErrStorage)
}
