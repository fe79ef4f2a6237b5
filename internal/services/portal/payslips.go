package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ternarybob/hrsync/internal/common"
	"github.com/ternarybob/hrsync/internal/interfaces"
	"github.com/ternarybob/hrsync/internal/models"
)

const (
	payStatementQueryPath = apiPrefix + "/pay/pay-statement-query"
	payStatementPath      = apiPrefix + "/pay/pay-statement/"
	payslipFilePath       = apiPrefix + "/pay/payslip/file"

	// MaxRedirects bounds manual redirect following on file downloads
	MaxRedirects = 10
)

type statementFilter struct {
	ID           int    `json:"id"`
	Operator     string `json:"operator"`
	Value        string `json:"value"`
	Property     string `json:"property"`
	Boolean      string `json:"boolean"`
	Group        int    `json:"group"`
	GroupName    string `json:"groupName"`
	DisplayValue string `json:"displayValue"`
}

type statementQuery struct {
	Filter           []statementFilter `json:"filter"`
	OrderBy          string            `json:"orderBy"`
	Limit            int               `json:"limit"`
	ShowParameterics bool              `json:"showParameterics"`
	Start            int               `json:"start"`
	End              int               `json:"end"`
}

// The portal's date filter is inverted: "Start date" uses lteq and "End date" gteq
func (c *Client) statementQuery(start, limit int) statementQuery {
	return statementQuery{
		Filter: []statementFilter{
			{ID: 6, Operator: "lteq", Value: c.dateFrom, Property: "dateFilter", Boolean: "OR", Group: 2, GroupName: "Date range", DisplayValue: "Start date"},
			{ID: 7, Operator: "gteq", Value: c.dateTo, Property: "dateFilter", Boolean: "OR", Group: 2, GroupName: "Date range", DisplayValue: "End date"},
		},
		OrderBy:          "PAYCHECKDATE DESC",
		Limit:            limit,
		ShowParameterics: false,
		Start:            start,
		End:              start + limit - 1,
	}
}

// QueryPayStatements lists one page of pay statements, newest first.
// The endpoint answers with either a bare array or {data, total}.
func (c *Client) QueryPayStatements(ctx context.Context, start, limit int) (*models.Page, error) {
	body, err := c.call(ctx, http.MethodPost, payStatementQueryPath, nil, c.statementQuery(start, limit))
	if err != nil {
		return nil, err
	}
	return decodePage(payStatementQueryPath, body)
}

func decodePage(path string, body []byte) (*models.Page, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, &common.MalformedResponseError{Endpoint: path, Err: ErrEmptyResponse}
	}

	switch trimmed[0] {
	case '[':
		var records []models.RemoteRecord
		if err := decode(path, trimmed, &records); err != nil {
			return nil, err
		}
		return &models.Page{Records: records, Total: len(records)}, nil
	case '{':
		var envelope struct {
			Data  []models.RemoteRecord `json:"data"`
			Total *int                  `json:"total"`
		}
		if err := decode(path, trimmed, &envelope); err != nil {
			return nil, err
		}
		page := &models.Page{Records: envelope.Data, HasTotal: envelope.Total != nil}
		if envelope.Total != nil {
			page.Total = *envelope.Total
		} else {
			page.Total = len(envelope.Data)
		}
		return page, nil
	}

	return nil, &common.MalformedResponseError{
		Endpoint: path,
		Err:      fmt.Errorf("unexpected response shape: %s", common.Truncate(string(trimmed), 40)),
	}
}

// FetchRecord returns the pay statement detail document for a detail id
func (c *Client) FetchRecord(ctx context.Context, remoteID string) ([]byte, error) {
	path := payStatementPath + url.PathEscape(remoteID)
	body, err := c.call(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, &common.MalformedResponseError{Endpoint: path, Err: fmt.Errorf("invalid JSON")}
	}
	return body, nil
}

// ArtifactURL is the payslip file URL for an artifact reference
func (c *Client) ArtifactURL(ref interfaces.ArtifactRef) string {
	return c.endpoint(payslipFilePath, url.Values{
		"statementId": {ref.StatementID},
		"imageId":     {ref.ImageID},
		"imageType":   {"pdf"},
	})
}

// FetchArtifact downloads a payslip PDF, following up to MaxRedirects
// redirects by hand so each hop is visible in logs and traces.
func (c *Client) FetchArtifact(ctx context.Context, ref interfaces.ArtifactRef) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	client := *c.httpClient
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	target := c.ArtifactURL(ref)
	var resp *response
	for hop := 0; ; hop++ {
		var err error
		resp, err = fetch(ctx, &client, target)
		if err != nil {
			return nil, err
		}
		if !isRedirect(resp.status) || hop >= MaxRedirects {
			break
		}
		next, err := resolveLocation(target, resp.location)
		if err != nil || next == "" {
			break
		}
		c.logger.Debug().Int("hop", hop+1).Str("location", next).Msg("Following payslip redirect")
		target = next
	}

	switch {
	case resp.status == http.StatusUnauthorized:
		return nil, fmt.Errorf("%s returned HTTP 401: %w", payslipFilePath, common.ErrSessionExpired)
	case resp.status != http.StatusOK:
		return nil, common.NewRemoteServiceError(payslipFilePath, resp.status, resp.body)
	}

	if !strings.Contains(resp.contentType, "application/pdf") && !strings.Contains(resp.contentType, "octet-stream") {
		return nil, &common.MalformedResponseError{
			Endpoint: payslipFilePath,
			Err:      fmt.Errorf("unexpected content type %q from %s", common.Truncate(resp.contentType, 40), target),
		}
	}
	if !bytes.HasPrefix(resp.body, []byte("%PDF")) {
		return nil, &common.MalformedResponseError{Endpoint: payslipFilePath, Err: fmt.Errorf("body is not a PDF")}
	}

	return resp.body, nil
}

func fetch(ctx context.Context, client *http.Client, target string) (*response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/pdf, */*")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download payslip: %w", err)
	}
	return readResponse(resp)
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// resolveLocation resolves a possibly relative Location header against the current URL
func resolveLocation(current, location string) (string, error) {
	if location == "" {
		return "", nil
	}
	base, err := url.Parse(current)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}
