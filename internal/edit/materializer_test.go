package edit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpang/grok-image-edit/internal/fetch"
)

type fakeDownloader struct {
	data  []byte
	err   error
	calls int
}

func (f *fakeDownloader) Download(_ context.Context, url string) (*fetch.Image, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &fetch.Image{Data: f.data, MIMEType: "image/png", URL: url}, nil
}

type fakeRelay struct {
	err       error
	transfers []string
}

func (f *fakeRelay) Name() string { return "fake" }

func (f *fakeRelay) Transfer(_ context.Context, localPath string) (string, error) {
	f.transfers = append(f.transfers, localPath)
	if f.err != nil {
		return "", f.err
	}
	return "https://relay.example.com/" + filepath.Base(localPath), nil
}

func newTestMaterializer(d Downloader, r *fakeRelay) *Materializer {
	var m *Materializer
	if r != nil {
		m = NewMaterializer(d, r)
	} else {
		m = NewMaterializer(d, nil)
	}
	m.now = func() time.Time { return time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC) }
	return m
}

func b64Artifact(data []byte) Artifact {
	return Artifact{Encoding: EncodingBase64, Data: data, MIMEType: "image/png"}
}

func TestMaterialize_URLWithoutRelayIsDeliveredByReference(t *testing.T) {
	opts := testOptions(t)
	dl := &fakeDownloader{}
	m := newTestMaterializer(dl, nil)

	batch, err := m.Materialize(context.Background(), "42", "abcd1234",
		[]Artifact{{Encoding: EncodingURL, SourceURL: "https://cdn.example.com/a.png"}}, opts)
	require.NoError(t, err)
	defer batch.Release()

	require.Len(t, batch.Deliveries, 1)
	assert.Equal(t, DeliveryURL, batch.Deliveries[0].Kind)
	assert.Equal(t, "https://cdn.example.com/a.png", batch.Deliveries[0].Ref)
	assert.Zero(t, dl.calls)
}

func TestMaterialize_LocalWriteRoundTrip(t *testing.T) {
	opts := testOptions(t)
	data := pngImage(t, 8, 8)
	m := newTestMaterializer(nil, nil)

	batch, err := m.Materialize(context.Background(), "user/42", "abcd1234", []Artifact{b64Artifact(data)}, opts)
	require.NoError(t, err)
	defer batch.Release()

	require.Len(t, batch.Deliveries, 1)
	d := batch.Deliveries[0]
	assert.Equal(t, DeliveryLocal, d.Kind)
	assert.Equal(t, 1, d.Seq)
	assert.True(t, filepath.IsAbs(d.Ref))
	assert.Equal(t, "grok_user_42_20260314_092653_abcd1234_1.png", filepath.Base(d.Ref))

	got, err := os.ReadFile(d.Ref)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, d.Ref, batch.Artifacts[0].LocalPath)
}

func TestMaterialize_FileRemovedUnlessRetained(t *testing.T) {
	for _, retain := range []bool{false, true} {
		opts := testOptions(t)
		opts.SaveImageEnabled = retain
		m := newTestMaterializer(nil, nil)

		batch, err := m.Materialize(context.Background(), "42", "t1", []Artifact{b64Artifact([]byte("img"))}, opts)
		require.NoError(t, err)
		path := batch.Deliveries[0].Ref
		require.FileExists(t, path)

		batch.Release()
		if retain {
			assert.FileExists(t, path)
		} else {
			assert.NoFileExists(t, path)
		}
	}
}

func TestBatchRelease_Idempotent(t *testing.T) {
	opts := testOptions(t)
	m := newTestMaterializer(nil, nil)
	batch, err := m.Materialize(context.Background(), "42", "t1",
		[]Artifact{b64Artifact([]byte("one")), b64Artifact([]byte("two"))}, opts)
	require.NoError(t, err)

	batch.Release()
	batch.Release()
	for _, d := range batch.Deliveries {
		assert.NoFileExists(t, d.Ref)
	}

	var nilBatch *Batch
	assert.NotPanics(t, nilBatch.Release)
}

func TestMaterialize_RelayTransfer(t *testing.T) {
	opts := testOptions(t)
	opts.RelayS3Bucket = "bucket"
	rl := &fakeRelay{}
	dl := &fakeDownloader{data: []byte("downloaded")}
	m := newTestMaterializer(dl, rl)

	batch, err := m.Materialize(context.Background(), "42", "t1", []Artifact{
		{Encoding: EncodingURL, SourceURL: "https://cdn.example.com/a.png"},
		b64Artifact([]byte("inline")),
	}, opts)
	require.NoError(t, err)
	defer batch.Release()

	require.Len(t, batch.Deliveries, 2)
	assert.Equal(t, 1, dl.calls)
	assert.Len(t, rl.transfers, 2)
	for i, d := range batch.Deliveries {
		assert.Equal(t, DeliveryRelay, d.Kind)
		assert.Equal(t, i+1, d.Seq)
		assert.True(t, strings.HasPrefix(d.Ref, "https://relay.example.com/"))
		assert.FileExists(t, d.LocalPath)
	}
}

func TestMaterialize_RelayFailureFallsBackToLocal(t *testing.T) {
	opts := testOptions(t)
	opts.RelayS3Bucket = "bucket"
	rl := &fakeRelay{err: errors.New("connection refused")}
	m := newTestMaterializer(nil, rl)

	batch, err := m.Materialize(context.Background(), "42", "t1", []Artifact{b64Artifact([]byte("inline"))}, opts)
	require.NoError(t, err)
	require.Len(t, batch.Deliveries, 1)
	d := batch.Deliveries[0]
	assert.Equal(t, DeliveryLocal, d.Kind)
	assert.Equal(t, d.LocalPath, d.Ref)

	batch.Release()
	assert.NoFileExists(t, d.Ref, "file is removed even though the relay failed")
}

func TestMaterialize_DownloadFailureDeliversURL(t *testing.T) {
	opts := testOptions(t)
	opts.RelayS3Bucket = "bucket"
	rl := &fakeRelay{}
	m := newTestMaterializer(&fakeDownloader{err: fetch.ErrBlockedAddress}, rl)

	batch, err := m.Materialize(context.Background(), "42", "t1",
		[]Artifact{{Encoding: EncodingURL, SourceURL: "https://cdn.example.com/a.png"}}, opts)
	require.NoError(t, err)
	require.Len(t, batch.Deliveries, 1)
	assert.Equal(t, DeliveryURL, batch.Deliveries[0].Kind)
	assert.Empty(t, rl.transfers)
}

func TestMaterialize_WriteFailureIsStorageError(t *testing.T) {
	opts := testOptions(t)
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	opts.DataDir = blocker

	m := newTestMaterializer(nil, nil)
	batch, err := m.Materialize(context.Background(), "42", "t1", []Artifact{b64Artifact([]byte("inline"))}, opts)
	require.Error(t, err)
	assert.Equal(t, KindStorage, KindOf(err))
	require.NotNil(t, batch)
	assert.Empty(t, batch.Deliveries)
	batch.Release()
}

func TestMaterialize_CanceledStillCleansUp(t *testing.T) {
	opts := testOptions(t)
	ctx, cancel := context.WithCancel(context.Background())
	rl := &fakeRelay{}
	opts.RelayS3Bucket = "bucket"
	m := newTestMaterializer(nil, rl)

	cancelingRelay := &cancelOnTransfer{fakeRelay: rl, cancel: cancel}
	m.s3 = cancelingRelay

	batch, err := m.Materialize(ctx, "42", "t1",
		[]Artifact{b64Artifact([]byte("one")), b64Artifact([]byte("two"))}, opts)
	require.Error(t, err)
	assert.Equal(t, KindCanceled, KindOf(err))
	require.Len(t, rl.transfers, 1)

	batch.Release()
	assert.NoFileExists(t, rl.transfers[0])
}

type cancelOnTransfer struct {
	*fakeRelay
	cancel context.CancelFunc
}

func (c *cancelOnTransfer) Transfer(ctx context.Context, localPath string) (string, error) {
	c.cancel()
	return c.fakeRelay.Transfer(ctx, localPath)
}
