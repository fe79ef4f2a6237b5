package sync

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/hrsync/internal/common"
	"github.com/ternarybob/hrsync/internal/interfaces"
	"github.com/ternarybob/hrsync/internal/models"
)

// ExtractRule pulls one value out of a remote record. Rules are tried in order
// and the first that reports ok wins.
type ExtractRule struct {
	Name    string
	Extract func(r models.RemoteRecord) (string, bool)
}

// FirstMatch evaluates rules in priority order
func FirstMatch(rules []ExtractRule, r models.RemoteRecord) (string, bool) {
	for _, rule := range rules {
		if v, ok := rule.Extract(r); ok {
			return v, true
		}
	}
	return "", false
}

// Field matches a non-empty string or numeric top-level field
func Field(name string) ExtractRule {
	return ExtractRule{
		Name: name,
		Extract: func(r models.RemoteRecord) (string, bool) {
			switch v := r[name].(type) {
			case string:
				return v, v != ""
			case float64:
				return strconv.FormatFloat(v, 'f', -1, 64), v != 0
			case bool:
				return strconv.FormatBool(v), v
			}
			return "", false
		},
	}
}

// Fields builds one Field rule per name
func Fields(names ...string) []ExtractRule {
	rules := make([]ExtractRule, len(names))
	for i, name := range names {
		rules[i] = Field(name)
	}
	return rules
}

// DateField matches a string field and keeps only the date part of a timestamp
func DateField(name string) ExtractRule {
	return ExtractRule{
		Name: name,
		Extract: func(r models.RemoteRecord) (string, bool) {
			v, ok := r[name].(string)
			if !ok {
				return "", false
			}
			date, _, _ := strings.Cut(v, "T")
			return date, true
		},
	}
}

// LinkSegment matches a link field (string or {"href": ...}) containing marker
// and returns everything after it
func LinkSegment(name, marker string) ExtractRule {
	return ExtractRule{
		Name: name,
		Extract: func(r models.RemoteRecord) (string, bool) {
			href := linkHref(r[name])
			_, after, found := strings.Cut(href, marker)
			if !found || after == "" {
				return "", false
			}
			return after, true
		},
	}
}

func linkHref(v any) string {
	switch link := v.(type) {
	case string:
		return link
	case map[string]any:
		href, _ := link["href"].(string)
		return href
	}
	return ""
}

const statementMarker = "/payStatement/"

// RemoteIDRules locate the id used by the pay-statement detail endpoint
var RemoteIDRules = append(
	[]ExtractRule{LinkSegment("payDetailUri", statementMarker)},
	Fields("id", "encodedId", "encoded_id", "payStatementId")...,
)

// DateRules locate the pay date used to bucket artifacts on disk
var DateRules = []ExtractRule{
	DateField("payDate"),
	DateField("pay_date"),
	DateField("paymentDate"),
	DateField("date"),
	DateField("periodEndDate"),
}

// UnknownDate is used when no date rule matches
const UnknownDate = "unknown"

// RemoteID extracts the detail-endpoint id or returns an IdentifierExtractionError
func RemoteID(r models.RemoteRecord) (string, error) {
	if id, ok := FirstMatch(RemoteIDRules, r); ok {
		return id, nil
	}
	keys := r.Keys()
	sort.Strings(keys)
	return "", &common.IdentifierExtractionError{Keys: keys}
}

// RecordDate extracts the record's date, or UnknownDate
func RecordDate(r models.RemoteRecord) string {
	if date, ok := FirstMatch(DateRules, r); ok && date != "" {
		return date
	}
	return UnknownDate
}

// ArtifactRefFor reads the artifact ids from statementImageUri, which uses
// a different id namespace from payDetailUri:
// /v1_0/O/A/payStatement/{statementId}/images/{imageId}.pdf
func ArtifactRefFor(r models.RemoteRecord) (interfaces.ArtifactRef, bool) {
	href := linkHref(r["statementImageUri"])
	_, rest, found := strings.Cut(href, statementMarker)
	if !found {
		return interfaces.ArtifactRef{}, false
	}
	statementID, file, found := strings.Cut(rest, "/images/")
	if !found || statementID == "" {
		return interfaces.ArtifactRef{}, false
	}
	imageID, isPDF := strings.CutSuffix(file, ".pdf")
	if !isPDF || imageID == "" {
		return interfaces.ArtifactRef{}, false
	}
	return interfaces.ArtifactRef{StatementID: statementID, ImageID: imageID}, true
}

// ArtifactPath is the cache-relative path for a record's file:
// {yyyy}/{mm}/{date}.{ext}, or unknown/unknown when the date does not parse
func ArtifactPath(date, ext string) string {
	year, month := UnknownDate, UnknownDate
	if t, err := time.Parse(time.DateOnly, date); err == nil {
		year = strconv.Itoa(t.Year())
		month = t.Format("01")
	}
	return path.Join(year, month, date+"."+ext)
}

// SuffixedArtifactPath is ArtifactPath with a short hash of remoteID in the
// file name, for records that share a date with another record or have none
func SuffixedArtifactPath(date, remoteID, ext string) string {
	sum := sha256.Sum256([]byte(remoteID))
	stem := strings.TrimSuffix(ArtifactPath(date, ext), "."+ext)
	return stem + "_" + hex.EncodeToString(sum[:4]) + "." + ext
}

// SiblingPath replaces the extension of a cache-relative path
func SiblingPath(rel, ext string) string {
	return strings.TrimSuffix(rel, path.Ext(rel)) + "." + ext
}
