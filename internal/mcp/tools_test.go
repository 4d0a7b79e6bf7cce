package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/radprogressor-server/internal/domain"
	"github.com/radprogressor-server/internal/progression"
	"github.com/radprogressor-server/internal/report"
)

type MockPatientReader struct {
	mock.Mock
}

func (m *MockPatientReader) Timeline(ctx context.Context, patientID string) (*domain.PatientTimeline, error) {
	args := m.Called(ctx, patientID)
	if v := args.Get(0); v != nil {
		return v.(*domain.PatientTimeline), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockPatientReader) Snapshot(ctx context.Context, patientID string) (*domain.PatientSnapshot, error) {
	args := m.Called(ctx, patientID)
	if v := args.Get(0); v != nil {
		return v.(*domain.PatientSnapshot), args.Error(1)
	}
	return nil, args.Error(1)
}

func newTestTools(patients PatientReader) *Tools {
	return NewTools(patients, report.NewLexicalClassifier(), progression.DefaultWeights())
}

func float(v float64) *float64 { return &v }

func TestProgressionScore(t *testing.T) {
	tools := newTestTools(new(MockPatientReader))
	ctx := context.Background()

	tests := []struct {
		name string
		args ScoreArgs
		want float64
	}{
		{"first study", ScoreArgs{Severity: 0.22, Delta: 0}, 0.304},
		{"worsened", ScoreArgs{Severity: 0.35, Delta: 1}, 0.545},
		{"improved", ScoreArgs{Severity: 0.25, Delta: -1}, 0.175},
		{"custom weights", ScoreArgs{Severity: 1, Delta: 1, Alpha: float(0.5), Beta: float(0.5)}, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tools.ProgressionScore(ctx, tt.args)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got.ProgressionScore, 1e-9)
		})
	}
}

func TestProgressionScore_Rejects(t *testing.T) {
	tools := newTestTools(new(MockPatientReader))
	ctx := context.Background()

	for _, args := range []ScoreArgs{
		{Severity: 0.5, Delta: 2},
		{Severity: 1.5, Delta: 0},
		{Severity: 0.5, Delta: 0, Alpha: float(-0.1)},
	} {
		_, err := tools.ProgressionScore(ctx, args)
		assert.True(t, errors.Is(err, domain.ErrInvalidInput), "args %+v: %v", args, err)
	}
}

func TestReportTools(t *testing.T) {
	tools := newTestTools(new(MockPatientReader))
	ctx := context.Background()
	text := "FINDINGS: Effusion increased. IMPRESSION: Worse."

	sections, err := tools.ReportSections(ctx, ReportArgs{Text: text})
	require.NoError(t, err)
	assert.Equal(t, "Effusion increased.", sections.Findings)
	assert.Equal(t, "Worse.", sections.Impression)

	change, err := tools.ReportChange(ctx, ReportArgs{Text: text})
	require.NoError(t, err)
	assert.Equal(t, &ChangeResult{Change: domain.ChangeWorsened, Delta: 1}, change)

	empty, err := tools.ReportChange(ctx, ReportArgs{})
	require.NoError(t, err)
	assert.Equal(t, domain.ChangeStable, empty.Change)
}

func TestPatientTools(t *testing.T) {
	ctx := context.Background()
	patients := new(MockPatientReader)
	patients.On("Timeline", ctx, "P001").Return(&domain.PatientTimeline{PatientID: "P001", Timeline: []domain.TimelineEntry{}}, nil)
	patients.On("Snapshot", ctx, "P404").Return(nil, domain.ErrNotFound)

	tools := newTestTools(patients)

	timeline, err := tools.PatientTimeline(ctx, PatientArgs{PatientID: "P001"})
	require.NoError(t, err)
	assert.Equal(t, "P001", timeline.PatientID)

	_, err = tools.PatientSnapshot(ctx, PatientArgs{PatientID: "P404"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	patients.AssertExpectations(t)
}

func TestToolResult(t *testing.T) {
	res, err := toolResult(errorPayload(domain.ErrNotFound), true)
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	assert.True(t, res.IsError)

	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	var pe domain.PipelineError
	require.NoError(t, json.Unmarshal([]byte(text.Text), &pe))
	assert.Equal(t, domain.ErrCodeNotFound, pe.Code)
}

func newTestServer(patients PatientReader) *Server {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return NewServer(domain.MCPConfig{}, newTestTools(patients), logger)
}

// connectClient wires a client session to s over an in-memory transport.
func connectClient(t *testing.T, s *Server) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	serverSession, err := s.mcpServer.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = serverSession.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func callText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestNewServer(t *testing.T) {
	s := newTestServer(new(MockPatientReader))
	assert.NotNil(t, s.mcpServer)
}

func TestServer_ListTools(t *testing.T) {
	session := connectClient(t, newTestServer(new(MockPatientReader)))

	res, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
		assert.NotNil(t, tool.InputSchema, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"get_patient_timeline",
		"get_patient_snapshot",
		"compute_progression_score",
		"extract_report_sections",
		"classify_report_change",
	}, names)
}

func TestServer_CallTool(t *testing.T) {
	patients := new(MockPatientReader)
	patients.On("Timeline", mock.Anything, "P001").
		Return(&domain.PatientTimeline{PatientID: "P001", Timeline: []domain.TimelineEntry{}}, nil)
	patients.On("Snapshot", mock.Anything, "P404").Return(nil, domain.ErrNotFound)

	session := connectClient(t, newTestServer(patients))
	ctx := context.Background()

	t.Run("score", func(t *testing.T) {
		res, err := session.CallTool(ctx, &mcp.CallToolParams{
			Name:      "compute_progression_score",
			Arguments: map[string]any{"severity": 0.35, "delta": 1},
		})
		require.NoError(t, err)
		assert.False(t, res.IsError)

		var out ScoreResult
		require.NoError(t, json.Unmarshal([]byte(callText(t, res)), &out))
		assert.InDelta(t, 0.545, out.ProgressionScore, 1e-9)
		assert.Equal(t, 0.7, out.Alpha)
	})

	t.Run("sections", func(t *testing.T) {
		res, err := session.CallTool(ctx, &mcp.CallToolParams{
			Name:      "extract_report_sections",
			Arguments: map[string]any{"text": "FINDINGS: Small effusion.\nIMPRESSION: Worse."},
		})
		require.NoError(t, err)

		var out domain.ReportSections
		require.NoError(t, json.Unmarshal([]byte(callText(t, res)), &out))
		assert.Equal(t, "Small effusion.", out.Findings)
		assert.Equal(t, "Worse.", out.Impression)
	})

	t.Run("timeline", func(t *testing.T) {
		res, err := session.CallTool(ctx, &mcp.CallToolParams{
			Name:      "get_patient_timeline",
			Arguments: map[string]any{"patient_id": "P001"},
		})
		require.NoError(t, err)
		assert.False(t, res.IsError)
		assert.JSONEq(t, `{"patient_id":"P001","timeline":[]}`, callText(t, res))
	})

	t.Run("unknown patient", func(t *testing.T) {
		res, err := session.CallTool(ctx, &mcp.CallToolParams{
			Name:      "get_patient_snapshot",
			Arguments: map[string]any{"patient_id": "P404"},
		})
		require.NoError(t, err)
		assert.True(t, res.IsError)

		var pe domain.PipelineError
		require.NoError(t, json.Unmarshal([]byte(callText(t, res)), &pe))
		assert.Equal(t, domain.ErrCodeNotFound, pe.Code)
	})

	t.Run("invalid severity", func(t *testing.T) {
		res, err := session.CallTool(ctx, &mcp.CallToolParams{
			Name:      "compute_progression_score",
			Arguments: map[string]any{"severity": 1.5, "delta": 0},
		})
		require.NoError(t, err)
		assert.True(t, res.IsError)
		assert.Contains(t, callText(t, res), domain.ErrCodeInvalidInput)
	})

	patients.AssertExpectations(t)
}
