package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PyYel/golcloud/storage"
	storageerrors "github.com/PyYel/golcloud/storage/errors"
)

// fakeStore implements storage.ObjectStore in memory.
type fakeStore struct {
	buckets map[string]map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{buckets: map[string]map[string][]byte{}}
}

func (f *fakeStore) Put(_ context.Context, bucket, key string, data []byte, _ ...storage.UploadOption) error {
	if f.buckets[bucket] == nil {
		f.buckets[bucket] = map[string][]byte{}
	}
	f.buckets[bucket][key] = data
	return nil
}

func (f *fakeStore) Get(_ context.Context, bucket, key string) ([]byte, error) {
	objects, ok := f.buckets[bucket]
	if !ok {
		return nil, storageerrors.NewBucketError("get", bucket, storageerrors.ErrBucketNotFound)
	}
	data, ok := objects[key]
	if !ok {
		return nil, storageerrors.NewObjectError("get", bucket, key, storageerrors.ErrObjectNotFound)
	}
	return data, nil
}

func (f *fakeStore) Exists(_ context.Context, bucket, key string) (bool, error) {
	_, ok := f.buckets[bucket][key]
	return ok, nil
}

func (f *fakeStore) ListKeys(_ context.Context, bucket, prefix string) ([]string, error) {
	var keys []string
	for key := range f.buckets[bucket] {
		if prefix == "" || len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (f *fakeStore) ListBuckets(_ context.Context) ([]storage.BucketInfo, error) {
	var buckets []storage.BucketInfo
	for name := range f.buckets {
		buckets = append(buckets, storage.BucketInfo{Name: name})
	}
	return buckets, nil
}

func (f *fakeStore) Delete(_ context.Context, bucket, key string) error {
	delete(f.buckets[bucket], key)
	return nil
}

func newTestServer(t *testing.T, store storage.ObjectStore) http.Handler {
	t.Helper()
	srv, err := New(Config{Store: store})
	require.NoError(t, err)
	return srv.Routes()
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) response {
	t.Helper()
	var body response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestNewRequiresStore(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestHealthz(t *testing.T) {
	handler := newTestServer(t, newFakeStore())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeResponse(t, rec)
	assert.True(t, body.Success)
}

func TestUploadAndDownload(t *testing.T) {
	store := newFakeStore()
	handler := newTestServer(t, store)

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	require.NoError(t, form.WriteField("bucket_name", "reports"))
	require.NoError(t, form.WriteField("key", "2024/q1.csv"))
	part, err := form.CreateFormFile("file", "q1.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte("a,b\n1,2\n"))
	require.NoError(t, err)
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	body := decodeResponse(t, rec)
	assert.True(t, body.Success)
	assert.Equal(t, []byte("a,b\n1,2\n"), store.buckets["reports"]["2024/q1.csv"])

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/download?bucket_name=reports&key=2024/q1.csv", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "a,b\n1,2\n", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "q1.csv")
}

func TestUploadDefaultsKeyToFilename(t *testing.T) {
	store := newFakeStore()
	handler := newTestServer(t, store)

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	require.NoError(t, form.WriteField("bucket_name", "drop"))
	part, err := form.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []byte("hello"), store.buckets["drop"]["notes.txt"])
}

func TestUploadValidation(t *testing.T) {
	handler := newTestServer(t, newFakeStore())

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", "x.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeResponse(t, rec)
	assert.False(t, body.Success)
	assert.Contains(t, body.Message, "bucket_name")
}

func TestDownloadMissingObject(t *testing.T) {
	store := newFakeStore()
	store.buckets["bucket"] = map[string][]byte{}
	handler := newTestServer(t, store)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/download?bucket_name=bucket&key=absent", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeResponse(t, rec)
	assert.False(t, body.Success)
}

func TestDownloadRequiresParams(t *testing.T) {
	handler := newTestServer(t, newFakeStore())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/download?bucket_name=only", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListBuckets(t *testing.T) {
	store := newFakeStore()
	store.buckets["alpha"] = map[string][]byte{}
	store.buckets["beta"] = map[string][]byte{}
	handler := newTestServer(t, store)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/buckets", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeResponse(t, rec)
	require.True(t, body.Success)
	names, ok := body.Data.([]any)
	require.True(t, ok)
	assert.Len(t, names, 2)
}

func TestListFiles(t *testing.T) {
	store := newFakeStore()
	store.buckets["bucket"] = map[string][]byte{
		"data/a.txt":  []byte("a"),
		"data/b.txt":  []byte("b"),
		"other/c.txt": []byte("c"),
	}
	handler := newTestServer(t, store)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files?bucket_name=bucket&prefix=data/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeResponse(t, rec)
	require.True(t, body.Success)
	keys, ok := body.Data.([]any)
	require.True(t, ok)
	assert.Len(t, keys, 2)
}

func TestListFilesRequiresBucket(t *testing.T) {
	handler := newTestServer(t, newFakeStore())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
