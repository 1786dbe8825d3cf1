package recorder

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/kingrea/vialflow/internal/config"
	"github.com/kingrea/vialflow/internal/faults"
	"github.com/kingrea/vialflow/internal/station"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type backendSuite struct {
	suite.Suite
	open  func(dir string) (MeasurementStore, error)
	store *Store
}

func (s *backendSuite) SetupTest() {
	dir := s.T().TempDir()
	backend, err := s.open(dir)
	s.Require().NoError(err)
	images, err := NewFSImages(filepath.Join(dir, ImagesDir))
	s.Require().NoError(err)
	s.store = New(backend, images, WithClock(func() time.Time { return fixedNow }))
}

func (s *backendSuite) TearDownTest() {
	s.Require().NoError(s.store.Close())
}

func (s *backendSuite) TestAppendKeepsTargetAndActualDistinct() {
	ctx := context.Background()
	dest, err := s.store.Append(ctx, MeasurementRecord{Key: "3", Substance: "CC3", Target: 50, Actual: 49.2, Unit: UnitMilligram})
	s.Require().NoError(err)
	s.NotEmpty(dest)

	recs, err := s.store.List(ctx)
	s.Require().NoError(err)
	s.Require().Len(recs, 1)
	s.Equal(50.0, recs[0].Target)
	s.Equal(49.2, recs[0].Actual)
	s.Equal(UnitMilligram, recs[0].Unit)
	s.True(recs[0].RecordedAt.Equal(fixedNow))
	s.Equal(dest, recs[0].Destination)
}

func (s *backendSuite) TestCollidingKeyAndSubstanceOverwrites() {
	ctx := context.Background()
	_, err := s.store.Append(ctx, MeasurementRecord{Key: "3", Substance: "CC3", Target: 50, Actual: 48, Unit: UnitMilligram})
	s.Require().NoError(err)
	_, err = s.store.Append(ctx, MeasurementRecord{Key: "3", Substance: "CC3", Target: 50, Actual: 51, Unit: UnitMilligram})
	s.Require().NoError(err)
	_, err = s.store.Append(ctx, MeasurementRecord{Key: "3", Substance: "water", Target: 1500, Actual: 1500, Unit: UnitMicroliter})
	s.Require().NoError(err)

	recs, err := s.store.List(ctx)
	s.Require().NoError(err)
	s.Require().Len(recs, 2)
	s.Equal("CC3", recs[0].Substance)
	s.Equal(51.0, recs[0].Actual)
	s.Equal("water", recs[1].Substance)
}

func (s *backendSuite) TestAppendRequiresKeyAndSubstance() {
	_, err := s.store.Append(context.Background(), MeasurementRecord{Key: " ", Substance: "CC3"})
	s.ErrorIs(err, faults.ErrRecorderIO)
}

func TestFileBackend(t *testing.T) {
	suite.Run(t, &backendSuite{open: func(dir string) (MeasurementStore, error) {
		return NewFileStore(filepath.Join(dir, MeasurementsDir))
	}})
}

func TestSQLiteBackend(t *testing.T) {
	suite.Run(t, &backendSuite{open: func(dir string) (MeasurementStore, error) {
		return NewSQLiteStore(filepath.Join(dir, SQLiteFileName))
	}})
}

func TestFileStoreLayout(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	dest, err := store.Put(context.Background(), MeasurementRecord{Key: "sample 3", Substance: "CC3", Unit: UnitMilligram})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "sample-3__CC3.json"), dest)
	_, err = os.Stat(dest)
	require.NoError(t, err)
}

func TestSaveImageUsesDeterministicName(t *testing.T) {
	dir := t.TempDir()
	images, err := NewFSImages(dir)
	require.NoError(t, err)
	files, err := NewFileStore(filepath.Join(dir, "m"))
	require.NoError(t, err)
	store := New(files, images)

	frame := station.Frame{Data: []byte("png-bytes"), Format: "png"}
	dest, err := store.SaveImage(context.Background(), ImageRecord{Solid: "CC3", Dye: "rhodamine b", Frame: frame})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "CC3_rhodamine-b.png"), dest)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))

	_, err = store.SaveImage(context.Background(), ImageRecord{Solid: "CC3", Dye: "x"})
	assert.ErrorIs(t, err, faults.ErrRecorderIO)
}

func TestImageNameSanitises(t *testing.T) {
	assert.Equal(t, "a-b_c.png", ImageName("a/b", "c", "png"))
	assert.Equal(t, "unnamed_dye.jpg", ImageName("..", "dye", "jpg"))
}

type fakePutter struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.input = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func TestS3ImagesPutsUnderPrefix(t *testing.T) {
	putter := &fakePutter{}
	images := newS3Images(putter, "lab-images", "/campaigns/cc3/")
	dest, err := images.PutImage(context.Background(), "CC3_water.png", []byte("img"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "s3://lab-images/campaigns/cc3/CC3_water.png", dest)
	require.NotNil(t, putter.input)
	assert.Equal(t, "lab-images", *putter.input.Bucket)
	assert.Equal(t, "campaigns/cc3/CC3_water.png", *putter.input.Key)
	assert.Equal(t, "image/png", *putter.input.ContentType)
	assert.Equal(t, "img", string(putter.body))
}

func TestS3FailureIsRecorderIO(t *testing.T) {
	images := newS3Images(&fakePutter{err: errors.New("403")}, "b", "")
	files, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	store := New(files, images)
	_, err = store.SaveImage(context.Background(), ImageRecord{Solid: "s", Dye: "d", Frame: station.Frame{Data: []byte{1}}})
	assert.ErrorIs(t, err, faults.ErrRecorderIO)
}

func TestOpenSelectsBackends(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(context.Background(), dir, config.RecorderSettings{Backend: config.BackendSQLite, Images: config.ImageSettings{Driver: config.ImagesFS}})
	require.NoError(t, err)
	defer store.Close()
	_, err = store.Append(context.Background(), MeasurementRecord{Key: "1", Substance: "x", Unit: UnitMilligram})
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, SQLiteFileName))
	require.NoError(t, err)

	_, err = Open(context.Background(), dir, config.RecorderSettings{Backend: "csv"})
	assert.ErrorIs(t, err, faults.ErrConfiguration)
}

func TestOpenUnwritableResultsIsRecorderIO(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err := Open(context.Background(), file, config.RecorderSettings{})
	assert.ErrorIs(t, err, faults.ErrRecorderIO)
}
