package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/radprogressor-server/internal/domain"
	"github.com/radprogressor-server/internal/narrative"
	"github.com/radprogressor-server/internal/report"
)

type MockVisionClassifier struct {
	mock.Mock
}

func (m *MockVisionClassifier) Predict(ctx context.Context, img *image.Gray) (domain.FindingsVector, error) {
	args := m.Called(ctx, img)
	if v := args.Get(0); v != nil {
		return v.(domain.FindingsVector), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockNarrator struct {
	mock.Mock
}

func (m *MockNarrator) Summarize(ctx context.Context, in domain.NarrativeInput, audience domain.Audience) (string, error) {
	args := m.Called(ctx, in, audience)
	return args.String(0), args.Error(1)
}

type MockStudyRepository struct {
	mock.Mock
}

func (m *MockStudyRepository) UpsertPatient(ctx context.Context, patientID string) error {
	return m.Called(ctx, patientID).Error(0)
}

func (m *MockStudyRepository) InsertStudy(ctx context.Context, record *domain.StudyRecord) error {
	return m.Called(ctx, record).Error(0)
}

func (m *MockStudyRepository) Timeline(ctx context.Context, patientID string) ([]*domain.StudyRecord, error) {
	args := m.Called(ctx, patientID)
	if v := args.Get(0); v != nil {
		return v.([]*domain.StudyRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStudyRepository) Latest(ctx context.Context, patientID string) (*domain.StudyRecord, error) {
	args := m.Called(ctx, patientID)
	if v := args.Get(0); v != nil {
		return v.(*domain.StudyRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStudyRepository) Close() error {
	return m.Called().Error(0)
}

// memoryRepository keeps records in insertion order and sorts on read.
type memoryRepository struct {
	mu       sync.Mutex
	patients map[string]bool
	records  []*domain.StudyRecord
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{patients: make(map[string]bool)}
}

func (r *memoryRepository) UpsertPatient(_ context.Context, patientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patients[patientID] = true
	return nil
}

func (r *memoryRepository) InsertStudy(_ context.Context, record *domain.StudyRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.patients[record.PatientID] {
		return domain.Wrap(domain.ErrStoreUnavailable, "unknown patient", nil)
	}
	copied := *record
	r.records = append(r.records, &copied)
	return nil
}

func (r *memoryRepository) Timeline(_ context.Context, patientID string) ([]*domain.StudyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.StudyRecord
	for _, rec := range r.records {
		if rec.PatientID == patientID {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StudyDate < out[j].StudyDate })
	return out, nil
}

func (r *memoryRepository) Latest(ctx context.Context, patientID string) (*domain.StudyRecord, error) {
	records, _ := r.Timeline(ctx, patientID)
	if len(records) == 0 {
		return nil, fmt.Errorf("latest study for %s: %w", patientID, domain.ErrNotFound)
	}
	return records[len(records)-1], nil
}

func (r *memoryRepository) Close() error { return nil }

type failingArchive struct {
	keys []string
	ref  string
	err  error
}

func (a *failingArchive) Put(_ context.Context, key, _ string, body io.Reader) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	if _, err := io.ReadAll(body); err != nil {
		return "", err
	}
	a.keys = append(a.keys, key)
	return a.ref, nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return logger
}

func testImage() *image.Gray {
	return image.NewGray(image.Rect(0, 0, 8, 8))
}

func labelsWithSeverity(t *testing.T, severity float64) domain.FindingsVector {
	t.Helper()
	probs := map[domain.Label]float64{}
	for _, l := range domain.Vocabulary() {
		probs[l] = 0.05
	}
	probs[domain.Effusion] = severity
	v, err := domain.NewFindingsVector(probs)
	require.NoError(t, err)
	return v
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("study-%03d", n)
	}
}

func newTestService(repo domain.StudyRepository, vision domain.VisionClassifier, narrator domain.Narrator, opts ...Option) *AnalysisService {
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	opts = append([]Option{
		WithClock(func() time.Time { return fixed }),
		WithIDGenerator(sequentialIDs()),
	}, opts...)
	return NewAnalysisService(repo, vision, report.NewLexicalClassifier(), narrator, testLogger(), opts...)
}

func TestAnalyze_FirstAndSecondStudy(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepository()
	img := testImage()

	vision := new(MockVisionClassifier)
	vision.On("Predict", ctx, img).Return(labelsWithSeverity(t, 0.22), nil).Once()
	vision.On("Predict", ctx, img).Return(labelsWithSeverity(t, 0.35), nil).Once()

	svc := newTestService(repo, vision, narrative.NewTemplateNarrator())

	first, err := svc.Analyze(ctx, &domain.Submission{
		PatientID:  "P001",
		StudyDate:  "2024-01-01",
		Image:      img,
		ReportText: "FINDINGS: Mild opacity. IMPRESSION: Unchanged.",
	})
	require.NoError(t, err)
	assert.Equal(t, "study-001", first.StudyID)
	assert.InDelta(t, 0.304, first.ProgressionResult.ProgressionScore, 1e-9)
	assert.Equal(t, domain.TrendFlat, first.ProgressionResult.TrendDirection)
	assert.Equal(t, 0.0, first.ProgressionResult.LastDelta)
	assert.Equal(t, domain.ChangeStable, first.NLPResult.Change)
	assert.Equal(t, "Mild opacity.", first.NLPResult.Sections.Findings)
	assert.NotEmpty(t, first.GenAIResult.ClinicianSummary)
	assert.NotEmpty(t, first.GenAIResult.PatientSummary)

	second, err := svc.Analyze(ctx, &domain.Submission{
		PatientID:  "P001",
		StudyDate:  "2024-02-01",
		Image:      img,
		ReportText: "FINDINGS: Effusion has worsened. IMPRESSION: Worse.",
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.545, second.ProgressionResult.ProgressionScore, 1e-9)
	assert.Equal(t, domain.TrendUp, second.ProgressionResult.TrendDirection)
	assert.Equal(t, 0.241, second.ProgressionResult.LastDelta)
	assert.Equal(t, domain.ChangeWorsened, second.NLPResult.Change)
	assert.Contains(t, second.GenAIResult.ClinicianSummary, "up")

	timeline, err := repo.Timeline(ctx, "P001")
	require.NoError(t, err)
	require.Len(t, timeline, 2)
	assert.Equal(t, "2024-01-01", timeline[0].StudyDate)
	vision.AssertExpectations(t)
}

func TestAnalyze_NoReportText(t *testing.T) {
	ctx := context.Background()
	img := testImage()
	vision := new(MockVisionClassifier)
	vision.On("Predict", ctx, img).Return(labelsWithSeverity(t, 0.6), nil)

	svc := newTestService(newMemoryRepository(), vision, narrative.NewTemplateNarrator())
	result, err := svc.Analyze(ctx, &domain.Submission{PatientID: "P002", StudyDate: "2024-01-01", Image: img})
	require.NoError(t, err)

	assert.Equal(t, domain.EmptyNLPResult(), result.NLPResult)
	assert.InDelta(t, 0.7*0.6+0.3*0.5, result.ProgressionResult.ProgressionScore, 1e-9)
}

func TestAnalyze_InvalidSubmission(t *testing.T) {
	tests := []struct {
		name string
		sub  *domain.Submission
	}{
		{"nil submission", nil},
		{"missing patient", &domain.Submission{StudyDate: "2024-01-01", Image: testImage()}},
		{"missing date", &domain.Submission{PatientID: "P001", Image: testImage()}},
		{"missing image", &domain.Submission{PatientID: "P001", StudyDate: "2024-01-01"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockStudyRepository)
			svc := newTestService(repo, new(MockVisionClassifier), narrative.NewTemplateNarrator())

			_, err := svc.Analyze(context.Background(), tt.sub)
			assert.True(t, errors.Is(err, domain.ErrInvalidInput), "got %v", err)
			repo.AssertNotCalled(t, "UpsertPatient", mock.Anything, mock.Anything)
		})
	}
}

func TestAnalyze_ClassifierFailurePersistsNothing(t *testing.T) {
	ctx := context.Background()
	img := testImage()

	repo := new(MockStudyRepository)
	repo.On("UpsertPatient", ctx, "P001").Return(nil)

	vision := new(MockVisionClassifier)
	vision.On("Predict", ctx, img).Return(nil, errors.New("model not loaded"))

	svc := newTestService(repo, vision, narrative.NewTemplateNarrator())
	_, err := svc.Analyze(ctx, &domain.Submission{PatientID: "P001", StudyDate: "2024-01-01", Image: img})

	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeClassifierUnavailable, domain.CodeOf(err))
	repo.AssertNotCalled(t, "InsertStudy", mock.Anything, mock.Anything)
}

func TestAnalyze_InvalidFindingsVector(t *testing.T) {
	ctx := context.Background()
	img := testImage()

	repo := new(MockStudyRepository)
	repo.On("UpsertPatient", ctx, "P001").Return(nil)

	partial := domain.FindingsVector{{Label: domain.Effusion, Probability: 0.4}}
	vision := new(MockVisionClassifier)
	vision.On("Predict", ctx, img).Return(partial, nil)

	svc := newTestService(repo, vision, narrative.NewTemplateNarrator())
	_, err := svc.Analyze(ctx, &domain.Submission{PatientID: "P001", StudyDate: "2024-01-01", Image: img})

	assert.True(t, errors.Is(err, domain.ErrClassifierUnavailable), "got %v", err)
	repo.AssertNotCalled(t, "InsertStudy", mock.Anything, mock.Anything)
}

func TestAnalyze_StoreFailure(t *testing.T) {
	ctx := context.Background()
	img := testImage()
	storeErr := domain.Wrap(domain.ErrStoreUnavailable, "insert failed", errors.New("disk full"))

	repo := new(MockStudyRepository)
	repo.On("UpsertPatient", ctx, "P001").Return(nil)
	repo.On("Timeline", ctx, "P001").Return([]*domain.StudyRecord{}, nil)
	repo.On("InsertStudy", ctx, mock.AnythingOfType("*domain.StudyRecord")).Return(storeErr)

	vision := new(MockVisionClassifier)
	vision.On("Predict", ctx, img).Return(labelsWithSeverity(t, 0.3), nil)

	svc := newTestService(repo, vision, narrative.NewTemplateNarrator())
	result, err := svc.Analyze(ctx, &domain.Submission{PatientID: "P001", StudyDate: "2024-01-01", Image: img})

	assert.Nil(t, result)
	assert.True(t, errors.Is(err, domain.ErrStoreUnavailable))
	repo.AssertExpectations(t)
}

func TestAnalyze_NarrativeFailureFallsBack(t *testing.T) {
	ctx := context.Background()
	img := testImage()

	vision := new(MockVisionClassifier)
	vision.On("Predict", ctx, img).Return(labelsWithSeverity(t, 0.3), nil)

	narrator := new(MockNarrator)
	narrator.On("Summarize", ctx, mock.Anything, mock.Anything).Return("", errors.New("quota exceeded"))

	repo := newMemoryRepository()
	svc := newTestService(repo, vision, narrator)
	result, err := svc.Analyze(ctx, &domain.Submission{PatientID: "P001", StudyDate: "2024-01-01", Image: img})
	require.NoError(t, err)

	in := domain.NarrativeInput{Labels: result.CVResult.Labels, Trend: domain.FlatTrend()}
	assert.Equal(t, narrative.Fallback(in, domain.AudienceClinician), result.GenAIResult.ClinicianSummary)
	assert.Equal(t, narrative.Fallback(in, domain.AudiencePatient), result.GenAIResult.PatientSummary)

	records, _ := repo.Timeline(ctx, "P001")
	assert.Len(t, records, 1)
}

func TestAnalyze_ArchiveFailure(t *testing.T) {
	ctx := context.Background()
	img := testImage()

	repo := new(MockStudyRepository)
	repo.On("UpsertPatient", ctx, "P001").Return(nil)
	repo.On("Timeline", ctx, "P001").Return([]*domain.StudyRecord{}, nil)

	vision := new(MockVisionClassifier)
	vision.On("Predict", ctx, img).Return(labelsWithSeverity(t, 0.3), nil)

	svc := newTestService(repo, vision, narrative.NewTemplateNarrator(),
		WithArchive(&failingArchive{err: errors.New("bucket missing")}))
	_, err := svc.Analyze(ctx, &domain.Submission{PatientID: "P001", StudyDate: "2024-01-01", Image: img})

	assert.True(t, errors.Is(err, domain.ErrStoreUnavailable), "got %v", err)
	repo.AssertNotCalled(t, "InsertStudy", mock.Anything, mock.Anything)
}

func TestAnalyze_ArchivesImage(t *testing.T) {
	ctx := context.Background()
	img := testImage()

	vision := new(MockVisionClassifier)
	vision.On("Predict", ctx, img).Return(labelsWithSeverity(t, 0.3), nil)

	archive := &failingArchive{ref: "file:///tmp/studies/P001/study-001.png"}
	repo := newMemoryRepository()
	svc := newTestService(repo, vision, narrative.NewTemplateNarrator(), WithArchive(archive))

	result, err := svc.Analyze(ctx, &domain.Submission{PatientID: "P001", StudyDate: "2024-01-01", Image: img})
	require.NoError(t, err)
	assert.Equal(t, archive.ref, result.ImageRef)
	assert.Equal(t, []string{"studies/P001/study-001.png"}, archive.keys)
}

func TestAnalyze_ConcurrentSubmissionsSeeEachOther(t *testing.T) {
	ctx := context.Background()
	img := testImage()

	vision := new(MockVisionClassifier)
	vision.On("Predict", ctx, img).Return(labelsWithSeverity(t, 0.3), nil)

	repo := newMemoryRepository()
	svc := NewAnalysisService(repo, vision, report.NewLexicalClassifier(), narrative.NewTemplateNarrator(), testLogger())

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Analyze(ctx, &domain.Submission{
				PatientID: "P001",
				StudyDate: fmt.Sprintf("2024-01-%02d", i+1),
				Image:     img,
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	records, _ := repo.Timeline(ctx, "P001")
	assert.Len(t, records, n)
	assert.Equal(t, 0, svc.locker.size())
}
