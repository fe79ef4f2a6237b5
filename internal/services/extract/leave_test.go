package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/hrsync/internal/common"
	"github.com/ternarybob/hrsync/internal/models"
	"github.com/ternarybob/hrsync/internal/services/pdf"
	"github.com/ternarybob/hrsync/internal/services/portal"
)

type fakeLeave struct {
	gridErr        error
	alternativeErr error
	messagesErr    error
	submitErr      error
	actions        []portal.ScreenAction
	message        models.RemoteRecord

	calls     []string
	decisions []models.LeaveDecision
	query     models.LeaveQuery
}

func (f *fakeLeave) PendingLeaveGrid(ctx context.Context, q models.LeaveQuery) (*models.LeaveListing, error) {
	f.calls = append(f.calls, "grid")
	f.query = q
	if f.gridErr != nil {
		return nil, f.gridErr
	}
	return &models.LeaveListing{Source: models.LeaveSourceGrid, Total: 1, Records: []models.RemoteRecord{{"id": "g1"}}}, nil
}

func (f *fakeLeave) PendingLeaveAlternative(ctx context.Context, q models.LeaveQuery) (*models.LeaveListing, error) {
	f.calls = append(f.calls, "alternative")
	if f.alternativeErr != nil {
		return nil, f.alternativeErr
	}
	return &models.LeaveListing{Source: models.LeaveSourceAlternative, Total: 1, Records: []models.RemoteRecord{{"ID": "a1"}}}, nil
}

func (f *fakeLeave) LeaveMessages(ctx context.Context) (*models.LeaveListing, error) {
	f.calls = append(f.calls, "messages")
	if f.messagesErr != nil {
		return nil, f.messagesErr
	}
	return &models.LeaveListing{Source: models.LeaveSourceMessages}, nil
}

func (f *fakeLeave) MessageBody(ctx context.Context, messageID string) (models.RemoteRecord, error) {
	return f.message, nil
}

func (f *fakeLeave) LeaveDetails(ctx context.Context, recordID string) (json.RawMessage, error) {
	return json.RawMessage(fmt.Sprintf(`{"recordId":%q}`, recordID)), nil
}

func (f *fakeLeave) SubmitLeaveDecision(ctx context.Context, decision models.LeaveDecision) error {
	f.decisions = append(f.decisions, decision)
	return f.submitErr
}

func (f *fakeLeave) SaveLeaveAction(ctx context.Context, recordID string) (portal.ScreenAction, error) {
	f.calls = append(f.calls, "save")
	if len(f.actions) == 0 {
		return portal.ScreenAction{HTTPStatus: http.StatusOK}, nil
	}
	action := f.actions[0]
	if len(f.actions) > 1 {
		f.actions = f.actions[1:]
	}
	return action, nil
}

func newTestProcessor(source LeaveSource) *LeaveProcessor {
	p := NewLeaveProcessor(source, arbor.NewLogger())
	p.pollInterval = time.Millisecond
	return p
}

func TestLeaveProcessor_List(t *testing.T) {
	expired := fmt.Errorf("schema-grid returned HTTP 401: %w", common.ErrSessionExpired)

	tests := []struct {
		name      string
		source    *fakeLeave
		wantErr   bool
		wantCalls []string
		wantFrom  string
	}{
		{
			name:      "grid answers",
			source:    &fakeLeave{},
			wantCalls: []string{"grid"},
			wantFrom:  models.LeaveSourceGrid,
		},
		{
			name:      "grid rejects payload",
			source:    &fakeLeave{gridErr: common.NewRemoteServiceError("grid", http.StatusBadRequest, nil)},
			wantCalls: []string{"grid", "alternative"},
			wantFrom:  models.LeaveSourceAlternative,
		},
		{
			name:      "grid forbidden falls back to messages",
			source:    &fakeLeave{gridErr: common.NewRemoteServiceError("grid", http.StatusForbidden, nil)},
			wantCalls: []string{"grid", "messages"},
			wantFrom:  models.LeaveSourceMessages,
		},
		{
			name: "alternative fails too",
			source: &fakeLeave{
				gridErr:        common.NewRemoteServiceError("grid", http.StatusBadRequest, nil),
				alternativeErr: common.NewRemoteServiceError("alt", http.StatusInternalServerError, nil),
			},
			wantCalls: []string{"grid", "alternative", "messages"},
			wantFrom:  models.LeaveSourceMessages,
		},
		{
			name:      "session expiry is not masked",
			source:    &fakeLeave{gridErr: expired},
			wantErr:   true,
			wantCalls: []string{"grid"},
		},
		{
			name: "every source fails",
			source: &fakeLeave{
				gridErr:     errors.New("connection reset"),
				messagesErr: errors.New("connection reset"),
			},
			wantErr:   true,
			wantCalls: []string{"grid", "messages"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			listing, err := newTestProcessor(tt.source).List(context.Background(), models.LeaveQuery{OlderThanDays: 5})

			assert.Equal(t, tt.wantCalls, tt.source.calls)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantFrom, listing.Source)
		})
	}
}

func TestLeaveProcessor_ListDefaultsLimit(t *testing.T) {
	source := &fakeLeave{}
	_, err := newTestProcessor(source).List(context.Background(), models.LeaveQuery{})
	require.NoError(t, err)
	assert.Equal(t, DefaultLeaveLimit, source.query.Limit)
}

func TestLeaveProcessor_Approve(t *testing.T) {
	source := &fakeLeave{actions: []portal.ScreenAction{{HTTPStatus: http.StatusInternalServerError}}}

	ok, err := newTestProcessor(source).Approve(context.Background(), "r1", "enjoy")
	require.NoError(t, err)

	// A failed save step does not undo an accepted decision
	assert.True(t, ok)
	require.Len(t, source.decisions, 1)
	assert.Equal(t, models.LeaveDecision{RecordID: "r1", Action: "approve", Comments: "enjoy"}, source.decisions[0])
	assert.Equal(t, []string{"save"}, source.calls)
}

func TestLeaveProcessor_ApproveViaScreenAction(t *testing.T) {
	source := &fakeLeave{
		submitErr: common.NewRemoteServiceError("leave-approve", http.StatusMethodNotAllowed, nil),
		actions: []portal.ScreenAction{
			{HTTPStatus: http.StatusOK, Status: "pending"},
			{HTTPStatus: http.StatusOK, Status: "pending"},
			{HTTPStatus: http.StatusOK, Status: "success"},
		},
	}

	ok, err := newTestProcessor(source).Approve(context.Background(), "r1", "")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, source.calls, 3)
}

func TestLeaveProcessor_ApproveUnconfirmed(t *testing.T) {
	source := &fakeLeave{
		submitErr: common.NewRemoteServiceError("leave-approve", http.StatusBadRequest, nil),
		actions:   []portal.ScreenAction{{HTTPStatus: http.StatusOK, Status: "pending"}},
	}

	ok, err := newTestProcessor(source).Approve(context.Background(), "r1", "")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, source.calls, saveActionAttempts)
}

func TestLeaveProcessor_ApproveSessionExpired(t *testing.T) {
	source := &fakeLeave{submitErr: fmt.Errorf("HTTP 401: %w", common.ErrSessionExpired)}

	_, err := newTestProcessor(source).Approve(context.Background(), "r1", "")
	assert.ErrorIs(t, err, common.ErrSessionExpired)
	assert.Empty(t, source.calls)
}

func TestLeaveProcessor_Reject(t *testing.T) {
	source := &fakeLeave{}
	processor := newTestProcessor(source)

	assert.ErrorIs(t, processor.Reject(context.Background(), "r1", "  "), ErrReasonRequired)
	assert.Empty(t, source.decisions)

	require.NoError(t, processor.Reject(context.Background(), "r1", "team short-staffed"))
	assert.Equal(t, models.LeaveDecision{RecordID: "r1", Action: "reject", Comments: "team short-staffed"}, source.decisions[0])
}

func TestLeaveProcessor_Show(t *testing.T) {
	raw, err := newTestProcessor(&fakeLeave{}).Show(context.Background(), "r9")
	require.NoError(t, err)
	assert.JSONEq(t, `{"recordId":"r9"}`, string(raw))
}

func TestLeaveProcessor_Message(t *testing.T) {
	source := &fakeLeave{message: models.RemoteRecord{
		"subject": "Annual leave request",
		"from":    "Ada Lovelace",
		"body":    "<p>Requesting <strong>3 days</strong> leave.</p><ul><li>Mon</li><li>Tue</li></ul>",
	}}
	processor := newTestProcessor(source)

	msg, err := processor.Message(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "Annual leave request", msg.Subject)
	assert.Equal(t, "Ada Lovelace", msg.From)
	assert.Contains(t, msg.Markdown, "**3 days**")
	assert.Contains(t, msg.Markdown, "- Mon")

	data, err := processor.MessagePDF(msg)
	require.NoError(t, err)
	assert.NoError(t, pdf.Validate(data))
}

func TestSummarize(t *testing.T) {
	grid := Summarize(models.RemoteRecord{
		"id":           "r1",
		"employeeName": "Ada",
		"leaveType":    "Annual",
		"startDate":    "2024-06-03",
		"endDate":      "2024-06-05",
		"status":       "Pending",
		"pendingDays":  float64(3),
	})
	assert.Equal(t, models.LeaveSummary{
		RecordID: "r1", Employee: "Ada", LeaveType: "Annual", StartDate: "2024-06-03",
		EndDate: "2024-06-05", Status: "Pending", PendingDays: "3",
	}, grid)

	upper := Summarize(models.RemoteRecord{"ID": "r2", "FULLNAME": "Grace", "LEAVETYPE": "Sick", "MANAGER": "Ada"})
	assert.Equal(t, "r2", upper.RecordID)
	assert.Equal(t, "Grace", upper.Employee)
	assert.Equal(t, "Sick", upper.LeaveType)
	assert.Equal(t, "Ada", upper.Manager)
	assert.Equal(t, "Unknown", upper.StartDate)
	assert.Empty(t, upper.Details)
}
