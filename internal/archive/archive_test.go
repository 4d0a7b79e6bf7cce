package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/radprogressor-server/internal/domain"
)

type MockPutObjectAPI struct {
	mock.Mock
}

func (m *MockPutObjectAPI) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.PutObjectOutput), args.Error(1)
}

func TestStudyKey(t *testing.T) {
	assert.Equal(t, "studies/DEMO001/abc-123.png", StudyKey("DEMO001", "abc-123"))
	assert.Equal(t, "studies/___etc_passwd/x.png", StudyKey("../etc/passwd", "x"))
}

func TestLocalStore(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir)
	require.NoError(t, err)

	ref, err := store.Put(context.Background(), StudyKey("P1", "s1"), ContentTypePNG, bytes.NewReader([]byte("png-bytes")))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "studies", "P1", "s1.png"), ref)

	data, err := os.ReadFile(ref)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))

	_, err = NewLocalStore("")
	assert.Error(t, err)
}

func TestS3Store(t *testing.T) {
	ctx := context.Background()
	client := new(MockPutObjectAPI)
	client.On("PutObject", ctx, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		body, _ := io.ReadAll(in.Body)
		return aws.ToString(in.Bucket) == "imaging" &&
			aws.ToString(in.Key) == "archive/studies/P1/s1.png" &&
			aws.ToString(in.ContentType) == ContentTypePNG &&
			string(body) == "png-bytes"
	})).Return(&s3.PutObjectOutput{}, nil)

	store := NewS3StoreWithClient(client, "imaging", "archive")
	ref, err := store.Put(ctx, StudyKey("P1", "s1"), ContentTypePNG, bytes.NewReader([]byte("png-bytes")))
	require.NoError(t, err)
	assert.Equal(t, "s3://imaging/archive/studies/P1/s1.png", ref)
	client.AssertExpectations(t)
}

func TestS3StoreError(t *testing.T) {
	ctx := context.Background()
	client := new(MockPutObjectAPI)
	client.On("PutObject", ctx, mock.Anything).Return(nil, errors.New("access denied"))

	_, err := NewS3StoreWithClient(client, "imaging", "").Put(ctx, "k", ContentTypePNG, bytes.NewReader(nil))
	assert.ErrorContains(t, err, "access denied")
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	a, err := New(ctx, domain.ArchiveConfig{Driver: "none"})
	require.NoError(t, err)
	ref, err := a.Put(ctx, "k", ContentTypePNG, bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Empty(t, ref)

	a, err = New(ctx, domain.ArchiveConfig{Driver: "local", LocalPath: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &LocalStore{}, a)

	_, err = New(ctx, domain.ArchiveConfig{Driver: "ftp"})
	assert.Error(t, err)
}
