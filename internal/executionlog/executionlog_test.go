package executionlog_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/gsoc2/novu/internal/domain"
	"github.com/gsoc2/novu/internal/executionlog"
	"github.com/gsoc2/novu/internal/infrastructure/observability"
	"github.com/gsoc2/novu/internal/testutil"
	"github.com/gsoc2/novu/internal/worker"
)

func validCommand() executionlog.CreateExecutionDetailsCommand {
	return executionlog.CreateExecutionDetailsCommand{
		EnvironmentID:  "env-1",
		OrganizationID: "org-1",
		SubscriberID:   "sub-1",
		JobID:          "job-1",
		NotificationID: "notif-1",
		TransactionID:  "tx-1",
		Channel:        "email",
		Detail:         "Message sent",
		Source:         executionlog.SourceInternal,
		Status:         executionlog.StatusSuccess,
		Raw:            `{"id":"provider-msg"}`,
		CreatedAt:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestDetailID_IsDeterministic(t *testing.T) {
	cmd := validCommand()
	again := validCommand()
	again.IsRetry = true
	again.CreatedAt = again.CreatedAt.Add(time.Hour)

	assert.Equal(t, executionlog.DetailID(cmd), executionlog.DetailID(again))

	other := validCommand()
	other.Status = executionlog.StatusFailed
	assert.NotEqual(t, executionlog.DetailID(cmd), executionlog.DetailID(other))
}

func TestCreateExecutionDetails_IsIdempotent(t *testing.T) {
	_, client := testutil.NewRedis(t)
	repo := executionlog.NewRedisRepository(client, time.Hour)
	usecase := executionlog.NewCreateExecutionDetails(repo, testutil.DiscardLogger())
	ctx := context.Background()

	first, err := usecase.Execute(ctx, validCommand())
	require.NoError(t, err)
	second, err := usecase.Execute(ctx, validCommand())
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	failed := validCommand()
	failed.Status = executionlog.StatusFailed
	failed.CreatedAt = failed.CreatedAt.Add(time.Second)
	_, err = usecase.Execute(ctx, failed)
	require.NoError(t, err)

	details, err := repo.FindByJob(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, details, 2)
	assert.Equal(t, executionlog.StatusSuccess, details[0].Status)
	assert.Equal(t, executionlog.StatusFailed, details[1].Status)
	assert.Equal(t, "org-1", details[0].OrganizationID)
}

func TestCreateExecutionDetails_RejectsInvalidCommand(t *testing.T) {
	_, client := testutil.NewRedis(t)
	usecase := executionlog.NewCreateExecutionDetails(executionlog.NewRedisRepository(client, 0), testutil.DiscardLogger())

	tests := map[string]func(*executionlog.CreateExecutionDetailsCommand){
		"missing job":    func(c *executionlog.CreateExecutionDetailsCommand) { c.JobID = "" },
		"unknown status": func(c *executionlog.CreateExecutionDetailsCommand) { c.Status = "Done" },
		"unknown source": func(c *executionlog.CreateExecutionDetailsCommand) { c.Source = "Cron" },
		"bad channel":    func(c *executionlog.CreateExecutionDetailsCommand) { c.Channel = "fax" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cmd := validCommand()
			mutate(&cmd)
			_, err := usecase.Execute(context.Background(), cmd)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestCreateExecutionDetails_PropagatesStoreErrors(t *testing.T) {
	mr, client := testutil.NewRedis(t)
	usecase := executionlog.NewCreateExecutionDetails(executionlog.NewRedisRepository(client, 0), testutil.DiscardLogger())
	mr.SetError("ERR injected failure")

	_, err := usecase.Execute(context.Background(), validCommand())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStoreOperationFailed)
}

type recordingExecutor struct {
	recorder *tracetest.SpanRecorder
	err      error

	mu          sync.Mutex
	cmd         executionlog.CreateExecutionDetailsCommand
	spanValid   bool
	endedDuring int
}

func (e *recordingExecutor) Execute(ctx context.Context, cmd executionlog.CreateExecutionDetailsCommand) (executionlog.ExecutionDetail, error) {
	e.mu.Lock()
	e.cmd = cmd
	e.spanValid = trace.SpanContextFromContext(ctx).IsValid()
	e.endedDuring = len(e.recorder.Ended())
	e.mu.Unlock()

	observability.LoggerFromContext(ctx, testutil.DiscardLogger()).Info("executing", slog.String("detail_job", cmd.JobID))
	return executionlog.ExecutionDetail{}, e.err
}

// executingLines returns the JSON records logged by recordingExecutor.
func executingLines(t *testing.T, logs *bytes.Buffer) []map[string]any {
	t.Helper()
	var lines []map[string]any
	for _, raw := range bytes.Split(bytes.TrimSpace(logs.Bytes()), []byte("\n")) {
		if len(raw) == 0 {
			continue
		}
		var line map[string]any
		require.NoError(t, json.Unmarshal(raw, &line))
		if line["msg"] == "executing" {
			lines = append(lines, line)
		}
	}
	return lines
}

func newProcessor(t *testing.T, execErr error) (*executionlog.Processor, *recordingExecutor, *tracetest.SpanRecorder, *bytes.Buffer) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	var logs bytes.Buffer
	exec := &recordingExecutor{recorder: recorder, err: execErr}
	p := executionlog.NewProcessor(exec, slog.New(slog.NewJSONHandler(&logs, nil)),
		executionlog.WithTracer(provider.Tracer("test")))
	return p, exec, recorder, &logs
}

func jobFor(t *testing.T, cmd executionlog.CreateExecutionDetailsCommand) *worker.Job {
	t.Helper()
	payload, err := json.Marshal(cmd)
	require.NoError(t, err)
	return &worker.Job{ID: "m-1", Topic: "execution-logs", Payload: payload, Attempt: 1}
}

func TestProcessor_WrapsUnitOfWorkInSpan(t *testing.T) {
	p, exec, recorder, logs := newProcessor(t, nil)

	require.NoError(t, p.Process(context.Background(), jobFor(t, validCommand())))

	assert.True(t, exec.spanValid)
	assert.Zero(t, exec.endedDuring, "span ended before the work resolved")
	assert.Equal(t, "job-1", exec.cmd.JobID)

	lines := executingLines(t, logs)
	require.Len(t, lines, 1)
	assert.Equal(t, "job-1", lines[0]["job_id"])
	assert.Equal(t, "env-1", lines[0]["environment_id"])
	assert.Equal(t, "tx-1", lines[0]["transaction_id"])
	assert.NotEmpty(t, lines[0]["trace_id"])

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, executionlog.SpanName, spans[0].Name())
	assert.Equal(t, trace.SpanKindConsumer, spans[0].SpanKind())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, spans[0].SpanContext().TraceID().String(), lines[0]["trace_id"])
}

func TestProcessor_LoggerIsScopedToEachJob(t *testing.T) {
	p, _, recorder, logs := newProcessor(t, nil)

	jobIDs := []string{"job-a", "job-b", "job-c", "job-d"}
	var wg sync.WaitGroup
	for _, id := range jobIDs {
		cmd := validCommand()
		cmd.JobID = id
		job := jobFor(t, cmd)
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.Process(context.Background(), job))
		}()
	}
	wg.Wait()

	lines := executingLines(t, logs)
	require.Len(t, lines, len(jobIDs))
	seen := make(map[any]bool, len(lines))
	for _, line := range lines {
		assert.Equal(t, line["detail_job"], line["job_id"])
		seen[line["job_id"]] = true
	}
	assert.Len(t, seen, len(jobIDs))
	assert.Len(t, recorder.Ended(), len(jobIDs))
}

func TestProcessor_PropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	p, _, recorder, _ := newProcessor(t, boom)

	err := p.Process(context.Background(), jobFor(t, validCommand()))
	require.ErrorIs(t, err, boom)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	require.NotEmpty(t, spans[0].Events())
	assert.Equal(t, "exception", spans[0].Events()[0].Name)
}

func TestProcessor_RejectsMalformedPayload(t *testing.T) {
	p, exec, recorder, _ := newProcessor(t, nil)

	err := p.Process(context.Background(), &worker.Job{ID: "m-2", Topic: "execution-logs", Payload: []byte("{")})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Empty(t, exec.cmd.JobID)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}
