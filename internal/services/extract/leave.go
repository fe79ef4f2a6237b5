package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/hrsync/internal/common"
	"github.com/ternarybob/hrsync/internal/models"
	"github.com/ternarybob/hrsync/internal/services/pdf"
	"github.com/ternarybob/hrsync/internal/services/portal"
	syncsvc "github.com/ternarybob/hrsync/internal/services/sync"
)

const (
	// DefaultLeaveLimit is the listing size when none is given
	DefaultLeaveLimit = 50

	saveActionAttempts = 5
	saveActionInterval = 500 * time.Millisecond
)

// ErrReasonRequired is returned when a rejection has no reason
var ErrReasonRequired = errors.New("a reason is required to reject a leave request")

// LeaveSource is the part of the portal client the leave processor needs
type LeaveSource interface {
	PendingLeaveGrid(ctx context.Context, q models.LeaveQuery) (*models.LeaveListing, error)
	PendingLeaveAlternative(ctx context.Context, q models.LeaveQuery) (*models.LeaveListing, error)
	LeaveMessages(ctx context.Context) (*models.LeaveListing, error)
	MessageBody(ctx context.Context, messageID string) (models.RemoteRecord, error)
	LeaveDetails(ctx context.Context, recordID string) (json.RawMessage, error)
	SubmitLeaveDecision(ctx context.Context, decision models.LeaveDecision) error
	SaveLeaveAction(ctx context.Context, recordID string) (portal.ScreenAction, error)
}

// LeaveProcessor lists and decides pending leave requests
type LeaveProcessor struct {
	source       LeaveSource
	logger       arbor.ILogger
	pollInterval time.Duration
}

// NewLeaveProcessor creates a leave processor
func NewLeaveProcessor(source LeaveSource, logger arbor.ILogger) *LeaveProcessor {
	return &LeaveProcessor{
		source:       source,
		logger:       logger,
		pollInterval: saveActionInterval,
	}
}

// List returns pending requests from the first source that answers: the
// monitor grid, the pending-requests endpoint when the grid rejects the
// payload with 400, and finally the messages drawer.
func (p *LeaveProcessor) List(ctx context.Context, q models.LeaveQuery) (*models.LeaveListing, error) {
	if q.Limit <= 0 {
		q.Limit = DefaultLeaveLimit
	}

	listing, err := p.source.PendingLeaveGrid(ctx, q)
	if err != nil && portal.IsStatus(err, http.StatusBadRequest) {
		p.logger.Debug().Err(err).Msg("Leave grid rejected the request, trying pending-requests endpoint")
		listing, err = p.source.PendingLeaveAlternative(ctx, q)
	}
	if err == nil {
		return listing, nil
	}
	if errors.Is(err, common.ErrSessionExpired) || ctx.Err() != nil {
		return nil, err
	}

	p.logger.Warn().Err(err).Msg("Leave grid failed, trying messages drawer")
	listing, msgErr := p.source.LeaveMessages(ctx)
	if msgErr != nil {
		return nil, errors.Join(err, fmt.Errorf("messages drawer: %w", msgErr))
	}
	return listing, nil
}

// Show returns the detail document for one request
func (p *LeaveProcessor) Show(ctx context.Context, recordID string) (json.RawMessage, error) {
	return p.source.LeaveDetails(ctx, recordID)
}

// Approve submits an approval. When the portal refuses the direct decision
// the approval is completed through the screen-action, polled until it
// reports success. It returns false when completion was not confirmed.
func (p *LeaveProcessor) Approve(ctx context.Context, recordID, comments string) (bool, error) {
	err := p.source.SubmitLeaveDecision(ctx, models.LeaveDecision{RecordID: recordID, Action: "approve", Comments: comments})

	var remoteErr *common.RemoteServiceError
	switch {
	case err == nil:
		action, err := p.source.SaveLeaveAction(ctx, recordID)
		if err != nil {
			return false, err
		}
		if action.HTTPStatus != http.StatusOK {
			// The decision itself was accepted
			p.logger.Warn().Int("status", action.HTTPStatus).Str("record_id", recordID).Msg("Save action did not return 200")
		}
		return true, nil
	case errors.As(err, &remoteErr):
		p.logger.Info().Int("status", remoteErr.Status).Msg("Direct approval refused, completing via screen action")
		return p.pollSaveAction(ctx, recordID)
	default:
		return false, err
	}
}

func (p *LeaveProcessor) pollSaveAction(ctx context.Context, recordID string) (bool, error) {
	for attempt := 1; attempt <= saveActionAttempts; attempt++ {
		action, err := p.source.SaveLeaveAction(ctx, recordID)
		if err != nil {
			return false, err
		}
		if action.Completed() {
			p.logger.Info().Int("attempt", attempt).Str("record_id", recordID).Msg("Approval completed")
			return true, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(p.pollInterval):
		}
	}
	p.logger.Warn().Str("record_id", recordID).Msg("Screen action did not confirm completion")
	return false, nil
}

// Reject submits a rejection; the reason is mandatory
func (p *LeaveProcessor) Reject(ctx context.Context, recordID, reason string) error {
	if strings.TrimSpace(reason) == "" {
		return ErrReasonRequired
	}
	return p.source.SubmitLeaveDecision(ctx, models.LeaveDecision{RecordID: recordID, Action: "reject", Comments: reason})
}

// LeaveMessage is a drawer message with its body converted to Markdown
type LeaveMessage struct {
	ID       string
	Subject  string
	From     string
	Date     string
	Markdown string
}

var (
	messageSubject = syncsvc.Fields("subject", "SUBJECT", "title")
	messageFrom    = syncsvc.Fields("from", "sender", "senderName", "FROM")
	messageDate    = syncsvc.Fields("date", "sentDate", "createdDate", "DATE")
	messageBody    = syncsvc.Fields("body", "messageBody", "content", "BODY")
)

// Message fetches a drawer message and renders its HTML body as Markdown
func (p *LeaveProcessor) Message(ctx context.Context, messageID string) (*LeaveMessage, error) {
	record, err := p.source.MessageBody(ctx, messageID)
	if err != nil {
		return nil, err
	}

	msg := &LeaveMessage{
		ID:      messageID,
		Subject: firstOr(messageSubject, record, ""),
		From:    firstOr(messageFrom, record, ""),
		Date:    firstOr(messageDate, record, ""),
	}

	body := firstOr(messageBody, record, "")
	converter := md.NewConverter("", true, nil)
	markdown, err := converter.ConvertString(body)
	if err != nil {
		return nil, fmt.Errorf("failed to convert message body: %w", err)
	}
	msg.Markdown = strings.TrimSpace(markdown)
	return msg, nil
}

// MessagePDF renders a leave message as a PDF document
func (p *LeaveProcessor) MessagePDF(msg *LeaveMessage) ([]byte, error) {
	var subtitle []string
	if msg.From != "" {
		subtitle = append(subtitle, "From: "+msg.From)
	}
	if msg.Date != "" {
		subtitle = append(subtitle, "Date: "+msg.Date)
	}

	title := msg.Subject
	if title == "" {
		title = "Message " + msg.ID
	}

	return pdf.NewRenderer(p.logger).Render(pdf.Document{
		Title:    title,
		Subtitle: strings.Join(subtitle, "  |  "),
		Markdown: msg.Markdown,
	})
}

// Field variants observed across the grid, the alternative endpoint and the drawer
var (
	leaveEmployee    = syncsvc.Fields("employeeName", "fullName", "FULLNAME")
	leaveType        = syncsvc.Fields("leaveType", "leaveType_DISPLAY", "LEAVETYPE")
	leaveStart       = syncsvc.Fields("startDate", "START_DATE")
	leaveEnd         = syncsvc.Fields("endDate", "END_DATE")
	leaveStatus      = syncsvc.Fields("status", "STATUS")
	leaveRecordID    = syncsvc.Fields("id", "recordId", "ID")
	leaveManager     = syncsvc.Fields("manager", "MANAGER")
	leavePendingDays = syncsvc.Fields("pendingDays", "PENDINGDAYS")
	leaveDetails     = syncsvc.Fields("details", "DETAILS")
)

// Summarize maps a leave record onto the display fields
func Summarize(r models.RemoteRecord) models.LeaveSummary {
	return models.LeaveSummary{
		RecordID:    firstOr(leaveRecordID, r, "Unknown"),
		Employee:    firstOr(leaveEmployee, r, "Unknown"),
		LeaveType:   firstOr(leaveType, r, "Unknown"),
		StartDate:   firstOr(leaveStart, r, "Unknown"),
		EndDate:     firstOr(leaveEnd, r, "Unknown"),
		Status:      firstOr(leaveStatus, r, "Unknown"),
		Manager:     firstOr(leaveManager, r, ""),
		PendingDays: firstOr(leavePendingDays, r, ""),
		Details:     firstOr(leaveDetails, r, ""),
	}
}

func firstOr(rules []syncsvc.ExtractRule, r models.RemoteRecord, fallback string) string {
	if v, ok := syncsvc.FirstMatch(rules, r); ok {
		return v
	}
	return fallback
}
