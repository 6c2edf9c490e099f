package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/example/go-eonorm/eo/mask"
	"github.com/example/go-eonorm/eo/radiometry"
	"github.com/example/go-eonorm/eo/raster"
	"github.com/example/go-eonorm/internal/observability"
)

func testKey() Key {
	return Key{Product: "20230601T103031_S2A_T31TCJ_L1C", Band: "RED", Resolution: 10, Cleaning: radiometry.CleanNoData, Reflectance: true}
}

func TestFileName(t *testing.T) {
	k := testKey()
	if got, want := k.FileName(), "20230601T103031_S2A_T31TCJ_L1C_RED_10m_nodata_toa.tif"; got != want {
		t.Fatalf("FileName() = %q, want %q", got, want)
	}

	k.Resolution = 0.5
	k.Reflectance = false
	k.Cleaning = radiometry.CleanAll
	k.Kind = KindVector
	if got, want := k.FileName(), "20230601T103031_S2A_T31TCJ_L1C_RED_0-5m_clean.geojson"; got != want {
		t.Fatalf("FileName() = %q, want %q", got, want)
	}

	k.Window = &raster.Window{ColOff: 10, RowOff: 20, Cols: 256, Rows: 256}
	name := k.FileName()
	parts := strings.Split(strings.TrimSuffix(name, ".geojson"), "_")
	if len(parts[len(parts)-2]) != 8 {
		t.Fatalf("expected 8-character window hash in %q", name)
	}
	other := k
	other.Window = &raster.Window{ColOff: 10, RowOff: 20, Cols: 256, Rows: 255}
	if other.FileName() == name {
		t.Fatalf("different windows share a file name")
	}
}

func TestKeyValidate(t *testing.T) {
	bad := []Key{
		{Band: "RED", Resolution: 10},
		{Product: "P", Resolution: 10},
		{Product: "P", Band: "RED"},
		{Product: "P", Band: "../RED", Resolution: 10},
	}
	for _, k := range bad {
		if err := k.Validate(); err == nil {
			t.Fatalf("expected %+v to be rejected", k)
		}
	}
}

func TestGetOrCreateComputesOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := observability.NewMetrics(reg)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	store, err := New(t.TempDir(), WithMetrics(metrics))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	calls := 0
	compute := func(_ context.Context, tmp string) error {
		calls++
		return os.WriteFile(tmp, []byte("artifact"), 0o644)
	}
	ctx := context.Background()
	first, err := store.GetOrCreate(ctx, testKey(), compute)
	if err != nil {
		t.Fatalf("first GetOrCreate: %v", err)
	}
	second, err := store.GetOrCreate(ctx, testKey(), compute)
	if err != nil {
		t.Fatalf("second GetOrCreate: %v", err)
	}
	if calls != 1 {
		t.Fatalf("compute called %d times, want 1", calls)
	}
	if first != second {
		t.Fatalf("paths differ: %q vs %q", first, second)
	}
	if got := testutil.ToFloat64(metrics.CacheHits.WithLabelValues("", observability.SourceLocal)); got != 1 {
		t.Fatalf("expected one local hit, got %v", got)
	}

	entries, _ := os.ReadDir(store.Root())
	if len(entries) != 1 {
		t.Fatalf("expected only the artifact in the store, found %d entries", len(entries))
	}
}

func TestGetOrCreateConcurrentCallersShareCompute(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var calls atomic.Int32
	release := make(chan struct{})
	compute := func(_ context.Context, tmp string) error {
		calls.Add(1)
		<-release
		return os.WriteFile(tmp, []byte("artifact"), 0o644)
	}

	var wg sync.WaitGroup
	paths := make([]string, 8)
	errs := make([]error, 8)
	for i := range paths {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			paths[i], errs[i] = store.GetOrCreate(context.Background(), testKey(), compute)
		}(i)
	}
	for calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	close(release)
	wg.Wait()

	for i := range paths {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if paths[i] != paths[0] {
			t.Fatalf("caller %d got %q, want %q", i, paths[i], paths[0])
		}
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("compute called %d times, want 1", n)
	}
}

func TestGetOrCreateFailureLeavesNothing(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	boom := errors.New("boom")
	_, err = store.GetOrCreate(context.Background(), testKey(), func(_ context.Context, tmp string) error {
		if werr := os.WriteFile(tmp, []byte("half"), 0o644); werr != nil {
			return werr
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	entries, _ := os.ReadDir(store.Root())
	if len(entries) != 0 {
		t.Fatalf("failed compute left %d entries", len(entries))
	}
	if store.Exists(testKey()) {
		t.Fatalf("artifact should not exist")
	}

	_, err = store.GetOrCreate(context.Background(), testKey(), func(context.Context, string) error { return nil })
	if err == nil || !strings.Contains(err.Error(), "produced no file") {
		t.Fatalf("expected missing output error, got %v", err)
	}
}

func TestGetOrCreateRasterRoundTrip(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ms := raster.NewMemStore()
	g := raster.Grid{Rows: 2, Cols: 2, Transform: raster.NorthUp(0, 20, 10), CRS: raster.EPSG(32631)}
	calls := 0
	compute := func(context.Context) (*raster.Raster, error) {
		calls++
		return raster.NewFilled(g, 1, 0.25), nil
	}
	for i := 0; i < 2; i++ {
		r, p, err := store.GetOrCreateRaster(context.Background(), testKey(), ms, compute)
		if err != nil {
			t.Fatalf("GetOrCreateRaster: %v", err)
		}
		if filepath.Ext(p) != ".tif" {
			t.Fatalf("unexpected extension %q", p)
		}
		if r.At(0, 1, 1) != 0.25 || !r.Grid.Equal(g) {
			t.Fatalf("unexpected raster read back")
		}
	}
	if calls != 1 {
		t.Fatalf("compute called %d times", calls)
	}
}

func TestGetOrCreateVector(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	crs := raster.EPSG(32631)
	v := mask.Vector{CRS: crs, Geometry: orb.MultiPolygon{{{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}}}}
	got, p, err := store.GetOrCreateVector(context.Background(), testKey(), crs, func(context.Context) (mask.Vector, error) { return v, nil })
	if err != nil {
		t.Fatalf("GetOrCreateVector: %v", err)
	}
	if filepath.Ext(p) != ".geojson" {
		t.Fatalf("unexpected extension %q", p)
	}
	if len(got.Geometry) != 1 || !got.CRS.Equal(crs) {
		t.Fatalf("unexpected vector %+v", got)
	}
}

type mockDownloader struct {
	objects map[string][]byte
	calls   int
}

func (m *mockDownloader) Download(_ context.Context, w io.WriterAt, input *s3.GetObjectInput, _ ...func(*manager.Downloader)) (int64, error) {
	m.calls++
	data, ok := m.objects[aws.ToString(input.Bucket)+"/"+aws.ToString(input.Key)]
	if !ok {
		return 0, &types.NoSuchKey{}
	}
	if _, err := w.WriteAt(data, 0); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

type mockUploader struct {
	objects map[string][]byte
	fail    bool
}

func (m *mockUploader) Upload(_ context.Context, input *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	if m.fail {
		return nil, fmt.Errorf("access denied")
	}
	data, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	m.objects[aws.ToString(input.Bucket)+"/"+aws.ToString(input.Key)] = data
	return &manager.UploadOutput{}, nil
}

func TestS3MirrorPublishesAndServes(t *testing.T) {
	objects := map[string][]byte{}
	mirror := &S3Mirror{
		Bucket:     "artifacts",
		Prefix:     "eonorm/v1",
		downloader: &mockDownloader{objects: objects},
		uploader:   &mockUploader{objects: objects},
	}
	ctx := context.Background()

	a, err := New(t.TempDir(), WithMirror(mirror))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := a.GetOrCreate(ctx, testKey(), func(_ context.Context, tmp string) error {
		return os.WriteFile(tmp, []byte("from-a"), 0o644)
	}); err != nil {
		t.Fatalf("GetOrCreate a: %v", err)
	}
	remote := "artifacts/eonorm/v1/" + testKey().FileName()
	if string(objects[remote]) != "from-a" {
		t.Fatalf("expected artifact uploaded to %s, have %v", remote, objects)
	}

	b, err := New(t.TempDir(), WithMirror(mirror))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p, err := b.GetOrCreate(ctx, testKey(), func(context.Context, string) error {
		t.Fatalf("compute must not run when the mirror has the artifact")
		return nil
	})
	if err != nil {
		t.Fatalf("GetOrCreate b: %v", err)
	}
	data, _ := os.ReadFile(p)
	if string(data) != "from-a" {
		t.Fatalf("unexpected mirrored content %q", data)
	}
}

func TestS3MirrorFailuresAreNotFatal(t *testing.T) {
	objects := map[string][]byte{}
	mirror := &S3Mirror{
		Bucket:     "artifacts",
		downloader: &mockDownloader{objects: objects},
		uploader:   &mockUploader{objects: objects, fail: true},
	}
	store, err := New(t.TempDir(), WithMirror(mirror))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p, err := store.GetOrCreate(context.Background(), testKey(), func(_ context.Context, tmp string) error {
		return os.WriteFile(tmp, []byte("local"), 0o644)
	})
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if _, err := os.Stat(p); err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
}
