package fetch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchReadsBodyAndSendsHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "kestrel-test", r.UserAgent())
		assert.Equal(t, "yes", r.Header.Get("X-Extra"))
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, "hello")
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{UserAgent: "kestrel-test", Headers: map[string]string{"X-Extra": "yes"}})
	p, err := c.Fetch(context.Background(), srv.URL, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(p.Body))
	assert.Equal(t, http.StatusOK, p.StatusCode)
	assert.Equal(t, "text/plain", p.Header.Get("Content-Type"))
}

func TestFetchNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewClient(ClientConfig{}).Fetch(context.Background(), srv.URL, time.Second)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Code)
}

func TestFetchTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	_, err := NewClient(ClientConfig{}).Fetch(context.Background(), srv.URL, 50*time.Millisecond)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestFetchBodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(bytes.Repeat([]byte("x"), 64))
	}))
	defer srv.Close()

	_, err := NewClient(ClientConfig{MaxBody: 16}).Fetch(context.Background(), srv.URL, time.Second)
	assert.ErrorIs(t, err, ErrBodyTooLarge)
}

func TestDownloadWritesPartFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="a.bin"`)
		w.Write(bytes.Repeat([]byte("y"), 3000))
	}))
	defer srv.Close()

	tmp := filepath.Join(t.TempDir(), "nested")
	tr, err := NewClient(ClientConfig{}).Download(context.Background(), srv.URL+"/a.bin", tmp)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), tr.Size)
	assert.True(t, strings.HasSuffix(tr.TempPath, ".part"))
	assert.Equal(t, tmp, filepath.Dir(tr.TempPath))
	assert.Contains(t, tr.Header.Get("Content-Disposition"), "a.bin")
	data, err := os.ReadFile(tr.TempPath)
	require.NoError(t, err)
	assert.Len(t, data, 3000)
}

func TestDownloadFailureLeavesNoPart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	tmp := t.TempDir()
	_, err := NewClient(ClientConfig{}).Download(context.Background(), srv.URL, tmp)
	require.Error(t, err)
	entries, _ := os.ReadDir(tmp)
	assert.Empty(t, entries)
}

type fakeS3 struct {
	input *s3.GetObjectInput
	body  string
	err   error
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &s3.GetObjectOutput{
		Body:        io.NopCloser(strings.NewReader(f.body)),
		ContentType: aws.String("application/zip"),
	}, nil
}

func TestS3SourceDownload(t *testing.T) {
	fake := &fakeS3{body: "zipdata"}
	src := NewS3SourceWithClient(fake)
	tr, err := src.Download(context.Background(), "s3://bucket/path/to/a.zip", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "bucket", aws.ToString(fake.input.Bucket))
	assert.Equal(t, "path/to/a.zip", aws.ToString(fake.input.Key))
	assert.Equal(t, int64(7), tr.Size)
	assert.Equal(t, "application/zip", tr.Header.Get("Content-Type"))
}

func TestS3SourceError(t *testing.T) {
	src := NewS3SourceWithClient(&fakeS3{err: errors.New("access denied")})
	_, err := src.Download(context.Background(), "s3://bucket/a.zip", t.TempDir())
	assert.ErrorContains(t, err, "access denied")
}

func TestParseS3URL(t *testing.T) {
	bucket, key, err := ParseS3URL("s3://b/k/v.txt")
	require.NoError(t, err)
	assert.Equal(t, "b", bucket)
	assert.Equal(t, "k/v.txt", key)

	for _, bad := range []string{"s3://b", "s3://b/dir/", "https://b/k", "s3:///k"} {
		_, _, err := ParseS3URL(bad)
		assert.Error(t, err, bad)
	}
}

type stubDownloader struct{ called string }

func (s *stubDownloader) Download(_ context.Context, rawURL, _ string) (*Transfer, error) {
	s.called = rawURL
	return &Transfer{URL: rawURL}, nil
}

func TestMuxRoutesByScheme(t *testing.T) {
	web, obj := &stubDownloader{}, &stubDownloader{}
	m := NewMux().Handle("https", web).Handle("S3", obj)

	_, err := m.Download(context.Background(), "https://x/y", "")
	require.NoError(t, err)
	_, err = m.Download(context.Background(), "s3://b/k", "")
	require.NoError(t, err)
	assert.Equal(t, "https://x/y", web.called)
	assert.Equal(t, "s3://b/k", obj.called)

	_, err = m.Download(context.Background(), "ftp://x/y", "")
	assert.ErrorContains(t, err, "unsupported scheme")
	assert.ElementsMatch(t, []string{"https", "s3"}, m.Schemes())
}
