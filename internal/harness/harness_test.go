package harness

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/syncmap/internal/metrics"
)

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	scenario, err := LoadScenario("testdata/scenarios/" + name + ".yaml")
	require.NoError(t, err)
	return scenario
}

func TestRunWithGolden_ChangeRollback(t *testing.T) {
	require.NoError(t, RunWithGolden(t, loadTestScenario(t, "change_rollback")))
}

func TestRun_Scenarios(t *testing.T) {
	for _, name := range []string{"change_rollback", "offline_drafts", "filter_freeze"} {
		t.Run(name, func(t *testing.T) {
			result, err := Run(loadTestScenario(t, name))
			require.NoError(t, err)
			assert.True(t, result.Pass, strings.Join(result.Errors, "\n"))
			assert.Empty(t, result.Errors)
		})
	}
}

func TestRun_Journal(t *testing.T) {
	result, err := Run(loadTestScenario(t, "change_rollback"))
	require.NoError(t, err)

	require.Len(t, result.Journal, 2)
	assert.Equal(t, "a1", result.Journal[0].ActionID)
	assert.Equal(t, "confirmed", result.Journal[0].State)
	assert.Equal(t, "a2", result.Journal[1].ActionID)
	assert.Equal(t, "rejected", result.Journal[1].State)
	assert.Equal(t, "denied", result.Journal[1].Reason)
}

func TestRun_PendingWhileFrozen(t *testing.T) {
	result, err := Run(loadTestScenario(t, "filter_freeze"))
	require.NoError(t, err)

	change := result.Trace[3]
	assert.Equal(t, OpChange, change.Op)
	assert.Equal(t, "pending", change.State)
	assert.Equal(t, "posts/3", change.Target)
}

func TestRun_FailedExpectation(t *testing.T) {
	scenario := loadTestScenario(t, "change_rollback")
	last := &scenario.Steps[len(scenario.Steps)-1]
	last.Expect.Fields["title"] = "C"
	last.Expect.Status = "error"

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "status: expected error, got loaded")
	assert.Contains(t, result.Errors[1], `field title: expected "C", got "B"`)
}

func TestRun_StepErrors(t *testing.T) {
	tests := []struct {
		name string
		step Step
		want string
	}{
		{"unknown template", Step{Op: OpCreate, Template: "users", ID: "1"}, `unknown template "users"`},
		{"detached multi-field change", Step{Op: OpChange, Template: "posts", ID: "9", Fields: map[string]any{"a": 1, "b": 2}}, "exactly one field"},
		{"release unknown", Step{Op: OpRelease, Name: "nope"}, `no open store "nope"`},
		{"float field", Step{Op: OpCreate, Template: "posts", ID: "1", Fields: map[string]any{"rating": 4.5}}, "floats are not supported"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scenario := loadTestScenario(t, "change_rollback")
			scenario.Steps = []Step{tt.step}

			_, err := Run(scenario)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Contains(t, err.Error(), "step 1")
		})
	}
}

func TestRunWithOptions_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	result, err := RunWithOptions(loadTestScenario(t, "change_rollback"), Options{Metrics: m})
	require.NoError(t, err)
	require.True(t, result.Pass)

	var buf strings.Builder
	require.NoError(t, metrics.WriteText(&buf, reg))
	assert.Contains(t, buf.String(), `syncmap_changes_total{outcome="confirmed",plural="posts"} 1`)
	assert.Contains(t, buf.String(), `syncmap_changes_total{outcome="rejected",plural="posts"} 1`)
}

func TestRunWithOptions_MemoryCache(t *testing.T) {
	result, err := RunWithOptions(loadTestScenario(t, "offline_drafts"), Options{MemoryCache: 4})
	require.NoError(t, err)
	assert.True(t, result.Pass, strings.Join(result.Errors, "\n"))
}

func TestEncodeTrace(t *testing.T) {
	loading := true
	scenario := &Scenario{Name: "enc"}
	data, err := EncodeTrace(scenario, []TraceEvent{
		{Step: 1, Op: OpFreeze},
		{Step: 2, Op: OpFilter, Name: "f", Target: "posts", IDs: []string{}, Loading: &loading},
	})
	require.NoError(t, err)
	assert.Equal(t,
		`{"scenario":"enc"}`+"\n"+
			`{"op":"freeze","step":1}`+"\n"+
			`{"ids":[],"loading":true,"name":"f","op":"filter","step":2,"target":"posts"}`+"\n",
		string(data))
}
