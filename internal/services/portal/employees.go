package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ternarybob/hrsync/internal/models"
)

const (
	employeePath     = apiPrefix + "/employee"
	employeeCardPath = apiPrefix + "/employee-card"
)

type employeeQuery struct {
	Start            int      `json:"start"`
	End              int      `json:"end"`
	Limit            int      `json:"limit"`
	Filter           []string `json:"filter"`
	BoolStr          string   `json:"boolStr"`
	OrderBy          string   `json:"orderBy"`
	ShowParameterics bool     `json:"showParameterics"`
}

// QueryEmployees lists one page of the employee directory ordered by surname
func (c *Client) QueryEmployees(ctx context.Context, start, limit int) (*models.Page, error) {
	query := employeeQuery{
		Start:            start,
		End:              start + limit - 1,
		Limit:            limit,
		Filter:           []string{},
		BoolStr:          "AND",
		OrderBy:          "PEOPLE.LASTNAME, PEOPLE.FIRSTNAME",
		ShowParameterics: false,
	}

	body, err := c.call(ctx, http.MethodPost, employeePath, nil, query)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Data  []models.RemoteRecord `json:"data"`
		Total int                   `json:"total"`
	}
	if err := decode(employeePath, body, &envelope); err != nil {
		return nil, err
	}
	return &models.Page{Records: envelope.Data, Total: envelope.Total, HasTotal: true}, nil
}

// EmployeeCard fetches the HR fields for one person. It returns (nil, nil)
// when the portal has no card: an empty body, an empty list or non-JSON.
func (c *Client) EmployeeCard(ctx context.Context, peopleID string) (*models.EmployeeCard, error) {
	body, err := c.call(ctx, http.MethodGet, employeeCardPath, url.Values{"peopleId": {peopleID}}, nil)
	if err != nil {
		return nil, err
	}

	var cards []json.RawMessage
	if len(bytes.TrimSpace(body)) == 0 || json.Unmarshal(body, &cards) != nil || len(cards) == 0 {
		c.logger.Debug().Str("people_id", peopleID).Msg("No employee card")
		return nil, nil
	}

	var fields map[string]any
	if err := json.Unmarshal(cards[0], &fields); err != nil {
		return nil, nil
	}

	return &models.EmployeeCard{
		PeopleID:        peopleID,
		EmployeeCode:    scalar(fields["EMPLOYEECODE"]),
		ReferenceNumber: scalar(fields["REFERENCENUMBER"]),
		Status:          scalar(fields["STATUS"]),
		Raw:             cards[0],
		FetchedAt:       time.Now(),
	}, nil
}

// scalar renders a JSON scalar as text; null and objects become ""
func scalar(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	}
	return ""
}
