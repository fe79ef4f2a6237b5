package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ternarybob/hrsync/internal/models"
)

const (
	schemaGridPath      = apiPrefix + "/schema-grid/data"
	pendingRequestsPath = apiPrefix + "/data/expert/pending-requests"
	leaveApprovePath    = apiPrefix + "/data/expert/leave-approve"
	screenActionPath    = apiPrefix + "/screen-action"
	actionButtonPath    = apiPrefix + "/action-button"
	messagesDrawerPath  = apiPrefix + "/messages/drawer"
	messageBodyPath     = apiPrefix + "/messages/messagebody"

	ageParameter = "_AGEOFLEAVEREQUEST"
)

// LeaveTerms are the subject keywords that mark a drawer message as a leave request
var LeaveTerms = []string{"leave", "absence", "working from home", "holiday", "annual"}

type gridRequest struct {
	ParentRoute           string             `json:"parentRoute"`
	DataFromAPI           bool               `json:"dataFromApi"`
	InstanceName          string             `json:"instanceName"`
	GridName              string             `json:"gridName"`
	SearchValue           string             `json:"searchValue"`
	FormParams            gridFormParams     `json:"formParams"`
	FormControlParameters map[string]*string `json:"formControlParameters"`
	Filter                gridFilter         `json:"filter"`
	Paging                gridPaging         `json:"paging"`
	Sort                  gridSort           `json:"sort"`
}

type gridFormParams struct {
	ParentRoute string `json:"parentRoute"`
	Endpoint    string `json:"endpoint"`
	InsertMode  bool   `json:"insertMode"`
}

type gridFilter struct {
	ShowParameterics bool     `json:"showParameterics"`
	Filters          []string `json:"filters"`
	FilterEmployeeID *string  `json:"filterEmployeeId"`
}

type gridPaging struct {
	Start int `json:"start"`
	Limit int `json:"limit"`
	End   int `json:"end"`
	Total int `json:"total"`
}

type gridSort struct {
	OrderBy       string `json:"orderBy"`
	SortDirection string `json:"sortDirection"`
}

func newGridRequest(q models.LeaveQuery) gridRequest {
	var age *string
	if q.OlderThanDays > 0 {
		v := strconv.Itoa(q.OlderThanDays)
		age = &v
	}
	return gridRequest{
		ParentRoute:  "expert",
		DataFromAPI:  false,
		InstanceName: "grid-controller-pendingRequestsGrid",
		GridName:     "pendingRequestsGrid",
		SearchValue:  q.Employee,
		FormParams: gridFormParams{
			ParentRoute: "expert",
			Endpoint:    "pending-requests",
			InsertMode:  false,
		},
		FormControlParameters: map[string]*string{ageParameter: age},
		Filter:                gridFilter{Filters: []string{}},
		// Grid paging is 1-based
		Paging: gridPaging{Start: 1, Limit: q.Limit, End: q.Limit},
		Sort:   gridSort{OrderBy: "startDate", SortDirection: "asc"},
	}
}

// PendingLeaveGrid reads the "monitor leave requests" grid. Callers fall
// back to PendingLeaveAlternative when the grid answers 400.
func (c *Client) PendingLeaveGrid(ctx context.Context, q models.LeaveQuery) (*models.LeaveListing, error) {
	body, err := c.call(ctx, http.MethodPost, schemaGridPath, nil, newGridRequest(q))
	if err != nil {
		return nil, err
	}
	return decodeListing(schemaGridPath, models.LeaveSourceGrid, body)
}

// PendingLeaveAlternative reads the pending-requests data endpoint directly.
// Its records are not guaranteed to share the grid's field names.
func (c *Client) PendingLeaveAlternative(ctx context.Context, q models.LeaveQuery) (*models.LeaveListing, error) {
	query := url.Values{"insertMode": {"false"}}
	if q.OlderThanDays > 0 {
		params, _ := json.Marshal(map[string]string{ageParameter: strconv.Itoa(q.OlderThanDays)})
		query.Set("parameters", string(params))
	}

	body, err := c.call(ctx, http.MethodGet, pendingRequestsPath, query, nil)
	if err != nil {
		return nil, err
	}
	return decodeListing(pendingRequestsPath, models.LeaveSourceAlternative, body)
}

func decodeListing(path, source string, body []byte) (*models.LeaveListing, error) {
	var envelope struct {
		Data  []models.RemoteRecord `json:"data"`
		Total *int                  `json:"total"`
	}
	if err := decode(path, body, &envelope); err != nil {
		return nil, err
	}
	listing := &models.LeaveListing{Source: source, Records: envelope.Data, Total: len(envelope.Data)}
	if envelope.Total != nil {
		listing.Total = *envelope.Total
	}
	return listing, nil
}

// LeaveMessages reads the "things to do" drawer and keeps messages whose
// subject mentions leave. An empty or non-JSON body yields no messages.
func (c *Client) LeaveMessages(ctx context.Context) (*models.LeaveListing, error) {
	body, err := c.call(ctx, http.MethodGet, messagesDrawerPath, url.Values{"todoItemsOnly": {"true"}}, nil)
	if err != nil {
		return nil, err
	}

	listing := &models.LeaveListing{Source: models.LeaveSourceMessages}

	var envelope struct {
		Data []models.RemoteRecord `json:"data"`
	}
	if len(bytes.TrimSpace(body)) == 0 {
		c.logger.Warn().Msg("Empty response from messages drawer (may indicate insufficient permissions)")
		return listing, nil
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		c.logger.Warn().Err(err).Msg("Invalid JSON from messages drawer")
		return listing, nil
	}

	for _, message := range envelope.Data {
		subject, _ := message["subject"].(string)
		if isLeaveSubject(subject) {
			listing.Records = append(listing.Records, message)
		}
	}
	listing.Total = len(listing.Records)
	return listing, nil
}

func isLeaveSubject(subject string) bool {
	subject = strings.ToLower(subject)
	for _, term := range LeaveTerms {
		if strings.Contains(subject, term) {
			return true
		}
	}
	return false
}

// MessageBody fetches one drawer message. The endpoint returns an object,
// or occasionally a one-element list.
func (c *Client) MessageBody(ctx context.Context, messageID string) (models.RemoteRecord, error) {
	path := messageBodyPath + "/" + url.PathEscape(messageID) + "/0"
	body, err := c.call(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []models.RemoteRecord
		if err := decode(path, trimmed, &list); err != nil {
			return nil, err
		}
		if len(list) == 0 {
			return models.RemoteRecord{}, nil
		}
		return list[0], nil
	}

	var record models.RemoteRecord
	if err := decode(path, trimmed, &record); err != nil {
		return nil, err
	}
	return record, nil
}

// LeaveDetails returns the action-button document for a leave record
func (c *Client) LeaveDetails(ctx context.Context, recordID string) (json.RawMessage, error) {
	body, err := c.call(ctx, http.MethodGet, actionButtonPath, url.Values{"recordId": {recordID}}, nil)
	if err != nil {
		return nil, err
	}
	var raw json.RawMessage
	if err := decode(actionButtonPath, body, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// SubmitLeaveDecision posts an approve or reject decision. A non-200 answer
// is returned as a *common.RemoteServiceError.
func (c *Client) SubmitLeaveDecision(ctx context.Context, decision models.LeaveDecision) error {
	_, err := c.call(ctx, http.MethodPost, leaveApprovePath, nil, decision)
	return err
}

// ScreenAction is the result of polling the leave-approve save action
type ScreenAction struct {
	HTTPStatus int
	Status     string // "" when the portal answered with an empty body or object
}

// Completed reports whether the save action finished
func (a ScreenAction) Completed() bool {
	if a.HTTPStatus != http.StatusOK {
		return false
	}
	return a.Status == "" || a.Status == "completed" || a.Status == "success"
}

// SaveLeaveAction triggers (and polls) the save step of the approval screen.
// Non-200 answers are reported in the result, not as errors.
func (c *Client) SaveLeaveAction(ctx context.Context, recordID string) (ScreenAction, error) {
	path := screenActionPath + "/expert.leave-approve/" + url.PathEscape(recordID) + "/save/none"
	resp, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return ScreenAction{}, err
	}

	action := ScreenAction{HTTPStatus: resp.status}
	if resp.status != http.StatusOK || len(bytes.TrimSpace(resp.body)) == 0 {
		return action, nil
	}

	var data map[string]any
	if err := json.Unmarshal(resp.body, &data); err != nil {
		action.Status = "unknown"
		return action, nil
	}
	if len(data) == 0 {
		return action, nil
	}
	action.Status = "unknown"
	if status, ok := data["status"].(string); ok {
		action.Status = status
	}
	return action, nil
}
